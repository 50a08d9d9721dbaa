package v1

import (
	"errors"
	"fmt"
)

// Decode failures are local to a single frame. A session that hits one logs
// it, drops the frame, and keeps reading; it never tears the connection
// down.
var (
	// ErrTruncated means the buffer ended before the field being read.
	ErrTruncated = errors.New("protocol: truncated frame")

	// ErrUnterminatedString means no NUL terminator before buffer end.
	ErrUnterminatedString = errors.New("protocol: unterminated string")

	// ErrOversizedCount means a sequence count whose minimum encoded size
	// exceeds the remaining buffer. Rejected before any allocation.
	ErrOversizedCount = errors.New("protocol: sequence count exceeds frame")

	// ErrEmbeddedNull is an encode-side failure: a string field contains a
	// NUL byte and cannot be represented as a terminated string.
	ErrEmbeddedNull = errors.New("protocol: string contains NUL byte")
)

// UnknownTypeError reports an unrecognized tag. The decoder fails before
// consuming any payload bytes.
type UnknownTypeError struct {
	Tag uint16
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("protocol: unknown message tag %d", e.Tag)
}

// ErrorKind maps a decode/encode error to a stable label for logs and
// metrics counters.
func ErrorKind(err error) string {
	var unknown *UnknownTypeError
	switch {
	case err == nil:
		return "none"
	case errors.As(err, &unknown):
		return "unknown_type"
	case errors.Is(err, ErrTruncated):
		return "truncated"
	case errors.Is(err, ErrUnterminatedString):
		return "unterminated_string"
	case errors.Is(err, ErrOversizedCount):
		return "oversized_count"
	case errors.Is(err, ErrEmbeddedNull):
		return "embedded_null"
	default:
		return "other"
	}
}

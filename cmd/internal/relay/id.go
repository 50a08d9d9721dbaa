package relay

import (
	"time"

	"lyra/cmd/internal/ids"
)

// NewSessionID returns a ULID used as websocket session id.
// Time-ordered ids keep per-connection log lines sortable.
func NewSessionID(now time.Time) (string, error) {
	return ids.NewULID(now)
}

// NewPlayID returns a ULID used as play-history record id.
func NewPlayID(now time.Time) (string, error) {
	return ids.NewULID(now)
}

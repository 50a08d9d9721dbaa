package v1

import (
	"bytes"
	"encoding/binary"
	"math"
	"strings"
	"unicode/utf8"
)

// Minimum encoded sizes per sequence element, used to bound a declared
// count against the remaining buffer before allocating.
const (
	minArtistSize    = 2  // two empty terminated strings
	minLyricWordSize = 17 // start + end + empty word
	minLyricLineSize = 23 // start + end + count + two empty strings + flag
)

// Decode parses one complete frame into a Body.
//
// It reads the 2-byte little-endian tag, dispatches on the known catalog,
// and consumes the payload fields in declared order. Any read past the
// buffer end fails with ErrTruncated; decode never panics on short or
// corrupt input.
func Decode(frame []byte) (Body, error) {
	c := cursor{buf: frame}

	tag, err := c.u16()
	if err != nil {
		return nil, err
	}

	switch tag {
	case TagPing:
		return Ping{}, nil
	case TagPong:
		return Pong{}, nil
	case TagSetMusicInfo:
		return c.setMusicInfo()
	case TagSetMusicAlbumCoverImageURI:
		url, err := c.str()
		if err != nil {
			return nil, err
		}
		return SetMusicAlbumCoverImageURI{ImgURL: url}, nil
	case TagSetMusicAlbumCoverImageData:
		data, err := c.blob()
		if err != nil {
			return nil, err
		}
		return SetMusicAlbumCoverImageData{Data: data}, nil
	case TagOnPlayProgress:
		p, err := c.u64()
		if err != nil {
			return nil, err
		}
		return OnPlayProgress{ProgressMs: p}, nil
	case TagOnVolumeChanged:
		v, err := c.f64()
		if err != nil {
			return nil, err
		}
		return OnVolumeChanged{Volume: v}, nil
	case TagOnPaused:
		return OnPaused{}, nil
	case TagOnResumed:
		return OnResumed{}, nil
	case TagOnAudioData:
		data, err := c.blob()
		if err != nil {
			return nil, err
		}
		return OnAudioData{Data: data}, nil
	case TagSetLyric:
		lines, err := c.lyricLines()
		if err != nil {
			return nil, err
		}
		return SetLyric{Lines: lines}, nil
	case TagSetLyricFromTTML:
		markup, err := c.str()
		if err != nil {
			return nil, err
		}
		return SetLyricFromTTML{Markup: markup}, nil
	case TagPause:
		return Pause{}, nil
	case TagResume:
		return Resume{}, nil
	case TagForwardSong:
		return ForwardSong{}, nil
	case TagBackwardSong:
		return BackwardSong{}, nil
	case TagSetVolume:
		v, err := c.f64()
		if err != nil {
			return nil, err
		}
		return SetVolume{Volume: v}, nil
	case TagSeekPlayProgress:
		p, err := c.u64()
		if err != nil {
			return nil, err
		}
		return SeekPlayProgress{ProgressMs: p}, nil
	default:
		return nil, &UnknownTypeError{Tag: tag}
	}
}

func (c *cursor) setMusicInfo() (Body, error) {
	var (
		m   SetMusicInfo
		err error
	)
	if m.MusicID, err = c.str(); err != nil {
		return nil, err
	}
	if m.MusicName, err = c.str(); err != nil {
		return nil, err
	}
	if m.AlbumID, err = c.str(); err != nil {
		return nil, err
	}
	if m.AlbumName, err = c.str(); err != nil {
		return nil, err
	}

	n, err := c.count(minArtistSize)
	if err != nil {
		return nil, err
	}
	m.Artists = make([]Artist, 0, n)
	for i := 0; i < n; i++ {
		var a Artist
		if a.ID, err = c.str(); err != nil {
			return nil, err
		}
		if a.Name, err = c.str(); err != nil {
			return nil, err
		}
		m.Artists = append(m.Artists, a)
	}

	if m.DurationMs, err = c.u64(); err != nil {
		return nil, err
	}
	return m, nil
}

func (c *cursor) lyricLines() ([]LyricLine, error) {
	n, err := c.count(minLyricLineSize)
	if err != nil {
		return nil, err
	}

	lines := make([]LyricLine, 0, n)
	for i := 0; i < n; i++ {
		var l LyricLine
		if l.StartTimeMs, err = c.u64(); err != nil {
			return nil, err
		}
		if l.EndTimeMs, err = c.u64(); err != nil {
			return nil, err
		}

		wn, err := c.count(minLyricWordSize)
		if err != nil {
			return nil, err
		}
		l.Words = make([]LyricWord, 0, wn)
		for j := 0; j < wn; j++ {
			var w LyricWord
			if w.StartTimeMs, err = c.u64(); err != nil {
				return nil, err
			}
			if w.EndTimeMs, err = c.u64(); err != nil {
				return nil, err
			}
			if w.Word, err = c.str(); err != nil {
				return nil, err
			}
			l.Words = append(l.Words, w)
		}

		if l.TranslatedLyric, err = c.str(); err != nil {
			return nil, err
		}
		if l.RomanLyric, err = c.str(); err != nil {
			return nil, err
		}
		if l.Flag, err = c.u8(); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, nil
}

// cursor walks a frame buffer. All reads are bounds-checked; a read past
// the end returns ErrTruncated and leaves the offset unchanged.
type cursor struct {
	buf []byte
	off int
}

func (c *cursor) remaining() int { return len(c.buf) - c.off }

func (c *cursor) u8() (uint8, error) {
	if c.remaining() < 1 {
		return 0, ErrTruncated
	}
	b := c.buf[c.off]
	c.off++
	return b, nil
}

func (c *cursor) u16() (uint16, error) {
	if c.remaining() < 2 {
		return 0, ErrTruncated
	}
	v := binary.LittleEndian.Uint16(c.buf[c.off:])
	c.off += 2
	return v, nil
}

func (c *cursor) u32() (uint32, error) {
	if c.remaining() < 4 {
		return 0, ErrTruncated
	}
	v := binary.LittleEndian.Uint32(c.buf[c.off:])
	c.off += 4
	return v, nil
}

func (c *cursor) u64() (uint64, error) {
	if c.remaining() < 8 {
		return 0, ErrTruncated
	}
	v := binary.LittleEndian.Uint64(c.buf[c.off:])
	c.off += 8
	return v, nil
}

func (c *cursor) f64() (float64, error) {
	bits, err := c.u64()
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(bits), nil
}

// str reads a NUL-terminated UTF-8 string. Invalid UTF-8 is replaced with
// U+FFFD rather than rejected, matching the lossy decode of the reference
// implementation.
func (c *cursor) str() (string, error) {
	i := bytes.IndexByte(c.buf[c.off:], 0)
	if i < 0 {
		return "", ErrUnterminatedString
	}
	raw := c.buf[c.off : c.off+i]
	c.off += i + 1

	s := string(raw)
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "�")
	}
	return s, nil
}

// count reads a u32 sequence count and rejects it before allocation when
// count*minElemSize cannot fit in the remaining buffer. This bounds memory
// use against hostile or corrupt count fields.
func (c *cursor) count(minElemSize int) (int, error) {
	n, err := c.u32()
	if err != nil {
		return 0, err
	}
	if minElemSize > 0 && uint64(n)*uint64(minElemSize) > uint64(c.remaining()) {
		return 0, ErrOversizedCount
	}
	return int(n), nil
}

// blob reads a u32-counted run of raw bytes. The result is a copy so the
// caller may retain it past the frame buffer's lifetime.
func (c *cursor) blob() ([]byte, error) {
	n, err := c.count(1)
	if err != nil {
		return nil, err
	}
	out := make([]byte, n)
	copy(out, c.buf[c.off:c.off+n])
	c.off += n
	return out, nil
}

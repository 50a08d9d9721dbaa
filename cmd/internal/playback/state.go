// Package playback owns the canonical in-memory playback snapshot and the
// reducer that folds decoded protocol messages into it.
package playback

import (
	"time"

	v1 "lyra/shared/protocol/v1"
)

// CoverSource distinguishes how cover art arrived. URI and raw data are
// mutually exclusive; the last received form wins.
type CoverSource uint8

const (
	CoverNone CoverSource = iota
	CoverURI
	CoverData
)

func (s CoverSource) String() string {
	switch s {
	case CoverURI:
		return "uri"
	case CoverData:
		return "data"
	default:
		return "none"
	}
}

// Cover is the current album art reference.
type Cover struct {
	Source CoverSource `json:"source"`
	URL    string      `json:"url,omitempty"`
	Data   []byte      `json:"data,omitempty"`
}

// LyricFormat distinguishes the two mutually exclusive lyric
// representations. They are never merged: whichever arrived last replaces
// the other entirely.
type LyricFormat uint8

const (
	LyricNone LyricFormat = iota
	LyricStructured
	LyricMarkup
)

func (f LyricFormat) String() string {
	switch f {
	case LyricStructured:
		return "structured"
	case LyricMarkup:
		return "markup"
	default:
		return "none"
	}
}

// Lyrics is the current lyric source.
type Lyrics struct {
	Format LyricFormat    `json:"format"`
	Lines  []v1.LyricLine `json:"lines,omitempty"`
	Markup string         `json:"markup,omitempty"`
}

// State is the single authoritative playback snapshot. It is owned by a
// Reducer and rendered by external consumers; it is never itself
// serialized onto the wire.
type State struct {
	MusicID    string      `json:"musicId"`
	MusicName  string      `json:"musicName"`
	AlbumID    string      `json:"albumId"`
	AlbumName  string      `json:"albumName"`
	Artists    []v1.Artist `json:"artists"`
	DurationMs uint64      `json:"duration"`

	Cover Cover `json:"cover"`

	// Volume is always clamped to [0,1] regardless of the wire payload.
	Volume  float64 `json:"volume"`
	Playing bool    `json:"isPlaying"`

	// PositionMs is a point-in-time sample; interpolate from
	// PositionObservedAt while Playing to estimate the live position.
	PositionMs         uint64    `json:"progress"`
	PositionObservedAt time.Time `json:"progressObservedAt"`

	Lyrics Lyrics `json:"lyrics"`
}

// PositionAt estimates the playback position at now by extrapolating the
// last progress sample while playing. Paused state returns the raw sample.
func (s State) PositionAt(now time.Time) uint64 {
	if !s.Playing || s.PositionObservedAt.IsZero() || !now.After(s.PositionObservedAt) {
		return s.PositionMs
	}
	elapsed := now.Sub(s.PositionObservedAt).Milliseconds()
	pos := s.PositionMs + uint64(elapsed)
	if s.DurationMs > 0 && pos > s.DurationMs {
		return s.DurationMs
	}
	return pos
}

// clone deep-copies the slices so a returned snapshot stays consistent
// while the reducer keeps mutating its own copy.
func (s State) clone() State {
	out := s
	if s.Artists != nil {
		out.Artists = append([]v1.Artist(nil), s.Artists...)
	}
	if s.Cover.Data != nil {
		out.Cover.Data = append([]byte(nil), s.Cover.Data...)
	}
	if s.Lyrics.Lines != nil {
		out.Lyrics.Lines = make([]v1.LyricLine, len(s.Lyrics.Lines))
		for i, l := range s.Lyrics.Lines {
			cp := l
			if l.Words != nil {
				cp.Words = append([]v1.LyricWord(nil), l.Words...)
			}
			out.Lyrics.Lines[i] = cp
		}
	}
	return out
}

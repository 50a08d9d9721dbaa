package v1

// LyricLine flag bits.
const (
	// FlagBackground marks a background vocal line.
	FlagBackground uint8 = 1 << 0
	// FlagDuet marks a duet line (rendered opposite the main singer).
	FlagDuet uint8 = 1 << 1
)

// Artist identifies one credited artist. ID is an opaque stable identifier
// and may be empty.
type Artist struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// LyricWord is one timed word within a line. The wire format does not
// guarantee EndTimeMs >= StartTimeMs; consumers must tolerate violations.
type LyricWord struct {
	StartTimeMs uint64 `json:"startTime"`
	EndTimeMs   uint64 `json:"endTime"`
	Word        string `json:"word"`
}

// LyricLine is one timed lyric line with word-level timing and optional
// secondary renditions. Empty strings mean "not provided", never null.
type LyricLine struct {
	StartTimeMs     uint64      `json:"startTime"`
	EndTimeMs       uint64      `json:"endTime"`
	Words           []LyricWord `json:"words"`
	TranslatedLyric string      `json:"translatedLyric"`
	RomanLyric      string      `json:"romanLyric"`
	// Flag packs FlagBackground and FlagDuet. Unknown bits are preserved
	// across decode/encode.
	Flag uint8 `json:"flag"`
}

// IsBackground reports whether the background-vocal bit is set.
func (l LyricLine) IsBackground() bool { return l.Flag&FlagBackground != 0 }

// IsDuet reports whether the duet bit is set.
func (l LyricLine) IsDuet() bool { return l.Flag&FlagDuet != 0 }

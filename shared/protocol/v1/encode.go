package v1

import (
	"encoding/binary"
	"math"
	"strings"
)

// Encode serializes a Body into a single frame: tag first, then payload
// fields in the same fixed order the decoder consumes them.
//
// The only failure mode is a string field containing an embedded NUL byte,
// which cannot be represented as a terminated string; that is rejected
// before anything is written.
func Encode(body Body) ([]byte, error) {
	w := encoder{buf: make([]byte, 0, 64)}
	w.u16(body.Tag())

	switch b := body.(type) {
	case Ping, Pong, OnPaused, OnResumed, Pause, Resume, ForwardSong, BackwardSong:
		// Tag-only frames.

	case SetMusicInfo:
		w.str(b.MusicID)
		w.str(b.MusicName)
		w.str(b.AlbumID)
		w.str(b.AlbumName)
		w.u32(uint32(len(b.Artists)))
		for _, a := range b.Artists {
			w.str(a.ID)
			w.str(a.Name)
		}
		w.u64(b.DurationMs)

	case SetMusicAlbumCoverImageURI:
		w.str(b.ImgURL)

	case SetMusicAlbumCoverImageData:
		w.blob(b.Data)

	case OnPlayProgress:
		w.u64(b.ProgressMs)

	case OnVolumeChanged:
		w.f64(b.Volume)

	case OnAudioData:
		w.blob(b.Data)

	case SetLyric:
		w.u32(uint32(len(b.Lines)))
		for _, l := range b.Lines {
			w.u64(l.StartTimeMs)
			w.u64(l.EndTimeMs)
			w.u32(uint32(len(l.Words)))
			for _, word := range l.Words {
				w.u64(word.StartTimeMs)
				w.u64(word.EndTimeMs)
				w.str(word.Word)
			}
			w.str(l.TranslatedLyric)
			w.str(l.RomanLyric)
			w.u8(l.Flag)
		}

	case SetLyricFromTTML:
		w.str(b.Markup)

	case SetVolume:
		w.f64(b.Volume)

	case SeekPlayProgress:
		w.u64(b.ProgressMs)
	}

	if w.err != nil {
		return nil, w.err
	}
	return w.buf, nil
}

// encoder appends fields to a frame buffer. The first string error is
// sticky; later writes become no-ops so call sites stay linear.
type encoder struct {
	buf []byte
	err error
}

func (w *encoder) u8(v uint8) {
	if w.err != nil {
		return
	}
	w.buf = append(w.buf, v)
}

func (w *encoder) u16(v uint16) {
	if w.err != nil {
		return
	}
	w.buf = binary.LittleEndian.AppendUint16(w.buf, v)
}

func (w *encoder) u32(v uint32) {
	if w.err != nil {
		return
	}
	w.buf = binary.LittleEndian.AppendUint32(w.buf, v)
}

func (w *encoder) u64(v uint64) {
	if w.err != nil {
		return
	}
	w.buf = binary.LittleEndian.AppendUint64(w.buf, v)
}

func (w *encoder) f64(v float64) {
	w.u64(math.Float64bits(v))
}

func (w *encoder) str(s string) {
	if w.err != nil {
		return
	}
	if strings.IndexByte(s, 0) >= 0 {
		w.err = ErrEmbeddedNull
		return
	}
	w.buf = append(w.buf, s...)
	w.buf = append(w.buf, 0)
}

func (w *encoder) blob(data []byte) {
	if w.err != nil {
		return
	}
	w.buf = binary.LittleEndian.AppendUint32(w.buf, uint32(len(data)))
	w.buf = append(w.buf, data...)
}

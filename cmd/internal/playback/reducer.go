package playback

import (
	"log/slog"
	"math"
	"sync"
	"time"

	v1 "lyra/shared/protocol/v1"
)

// Reducer folds decoded messages into one State under a single-owner
// discipline: only Apply mutates, readers get consistent copies via
// Snapshot.
//
// Apply is total. Semantically odd but well-formed input (volume outside
// [0,1], word end before start) is normalized rather than rejected, since
// the protocol has no way to ask the sender to resend. Command-role
// messages are ignored here; routing them is the session layer's job.
type Reducer struct {
	log *slog.Logger

	mu    sync.RWMutex
	state State

	// audioSink receives OnAudioData payloads for an external visualizer.
	// PCM is pass-through: it never lands in State.
	audioSink func([]byte)
}

// NewReducer constructs a Reducer with an empty snapshot.
func NewReducer(log *slog.Logger) *Reducer {
	if log == nil {
		log = slog.Default()
	}
	return &Reducer{log: log}
}

// OnAudioFrame registers a sink for pass-through PCM frames. Pass nil to
// drop them.
func (r *Reducer) OnAudioFrame(fn func([]byte)) {
	r.mu.Lock()
	r.audioSink = fn
	r.mu.Unlock()
}

// Snapshot returns a consistent copy of the current state.
func (r *Reducer) Snapshot() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.clone()
}

// Reset discards the snapshot. Called when a session ends: a new peer may
// represent entirely different playback, so nothing carries over.
func (r *Reducer) Reset() {
	r.mu.Lock()
	r.state = State{}
	r.mu.Unlock()
}

// Apply folds one decoded message into the state. now stamps progress
// samples so consumers can interpolate between them.
func (r *Reducer) Apply(body v1.Body, now time.Time) {
	var audio []byte

	r.mu.Lock()
	switch b := body.(type) {
	case v1.SetMusicInfo:
		// Wholesale replace. Lyrics are kept: a SetLyric* usually follows a
		// track change, but its absence is tolerated.
		r.state.MusicID = b.MusicID
		r.state.MusicName = b.MusicName
		r.state.AlbumID = b.AlbumID
		r.state.AlbumName = b.AlbumName
		r.state.Artists = b.Artists
		r.state.DurationMs = b.DurationMs

	case v1.SetMusicAlbumCoverImageURI:
		r.state.Cover = Cover{Source: CoverURI, URL: b.ImgURL}

	case v1.SetMusicAlbumCoverImageData:
		r.state.Cover = Cover{Source: CoverData, Data: b.Data}

	case v1.OnPlayProgress:
		r.state.PositionMs = b.ProgressMs
		r.state.PositionObservedAt = now

	case v1.OnVolumeChanged:
		r.state.Volume = clampVolume(b.Volume)

	case v1.OnPaused:
		r.state.Playing = false

	case v1.OnResumed:
		r.state.Playing = true

	case v1.OnAudioData:
		audio = b.Data

	case v1.SetLyric:
		r.state.Lyrics = Lyrics{
			Format: LyricStructured,
			Lines:  normalizeLines(b.Lines),
		}

	case v1.SetLyricFromTTML:
		r.state.Lyrics = Lyrics{Format: LyricMarkup, Markup: b.Markup}

	case v1.Ping, v1.Pong:
		// Heartbeats carry no state.

	default:
		// Command-role tags received here mean the session routing was
		// bypassed; they request state changes and must never be applied
		// as if they had happened.
		r.log.Debug("playback.apply.ignored", "tag", v1.TagName(body.Tag()))
	}
	sink := r.audioSink
	r.mu.Unlock()

	if audio != nil && sink != nil {
		sink(audio)
	}
}

func clampVolume(v float64) float64 {
	switch {
	case math.IsNaN(v):
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// normalizeLines repairs inverted time ranges in place of rejecting them.
func normalizeLines(lines []v1.LyricLine) []v1.LyricLine {
	for i := range lines {
		if lines[i].EndTimeMs < lines[i].StartTimeMs {
			lines[i].EndTimeMs = lines[i].StartTimeMs
		}
		for j := range lines[i].Words {
			w := &lines[i].Words[j]
			if w.EndTimeMs < w.StartTimeMs {
				w.EndTimeMs = w.StartTimeMs
			}
		}
	}
	return lines
}

// Package v1 defines the Lyra sync protocol v1 wire contract.
//
// This package is intentionally stable and dependency-light.
// It is shared between the relay, playback sources, and display clients to
// keep the binary wire protocol authoritative.
//
// Every message is a single transport frame: a little-endian u16 tag
// followed by the variant's payload fields in declared order, with no
// padding and no outer length prefix (the frame boundary is the message
// boundary).
package v1

// Tag constants (wire-stable magic numbers).
const (
	// Heartbeat, either direction.
	TagPing uint16 = 0
	TagPong uint16 = 1

	// State events, playback source -> displays.
	TagSetMusicInfo                uint16 = 2
	TagSetMusicAlbumCoverImageURI  uint16 = 3
	TagSetMusicAlbumCoverImageData uint16 = 4
	TagOnPlayProgress              uint16 = 5
	TagOnVolumeChanged             uint16 = 6
	TagOnPaused                    uint16 = 7
	TagOnResumed                   uint16 = 8
	TagOnAudioData                 uint16 = 9
	TagSetLyric                    uint16 = 10
	TagSetLyricFromTTML            uint16 = 11

	// Transport commands, displays -> playback source.
	TagPause            uint16 = 12
	TagResume           uint16 = 13
	TagForwardSong      uint16 = 14
	TagBackwardSong     uint16 = 15
	TagSetVolume        uint16 = 16
	TagSeekPlayProgress uint16 = 17
)

// maxTag is the highest known tag. Anything above it is UnknownTypeError.
const maxTag = TagSeekPlayProgress

// Body is the closed set of protocol messages. Exactly one variant per tag.
//
// The isBody marker keeps the set sealed so switches over Body stay
// exhaustive as the catalog evolves.
type Body interface {
	Tag() uint16
	isBody()
}

// Ping is a liveness probe. The receiver must answer with Pong.
type Ping struct{}

// Pong answers a Ping.
type Pong struct{}

// SetMusicInfo replaces the current track metadata wholesale.
type SetMusicInfo struct {
	MusicID    string   `json:"musicId"`
	MusicName  string   `json:"musicName"`
	AlbumID    string   `json:"albumId"`
	AlbumName  string   `json:"albumName"`
	Artists    []Artist `json:"artists"`
	DurationMs uint64   `json:"duration"`
}

// SetMusicAlbumCoverImageURI points the cover art at a URI.
type SetMusicAlbumCoverImageURI struct {
	ImgURL string `json:"imgUrl"`
}

// SetMusicAlbumCoverImageData carries raw cover art bytes.
type SetMusicAlbumCoverImageData struct {
	Data []byte `json:"data"`
}

// OnPlayProgress is a point-in-time playback position sample in ms.
// Samples are neither monotonic nor evenly spaced.
type OnPlayProgress struct {
	ProgressMs uint64 `json:"progress"`
}

// OnVolumeChanged reports the source volume. Nominal range is [0,1] but the
// wire does not enforce it.
type OnVolumeChanged struct {
	Volume float64 `json:"volume"`
}

// OnPaused reports that playback paused.
type OnPaused struct{}

// OnResumed reports that playback resumed. Sources conventionally send it
// once right after a track change.
type OnResumed struct{}

// OnAudioData carries interleaved 2-channel 48kHz u16 PCM for visualizers.
// It is never folded into playback state.
type OnAudioData struct {
	Data []byte `json:"data"`
}

// SetLyric replaces the lyric source with structured lines.
type SetLyric struct {
	Lines []LyricLine `json:"data"`
}

// SetLyricFromTTML replaces the lyric source with an opaque markup document.
type SetLyricFromTTML struct {
	Markup string `json:"data"`
}

// Pause asks the source to pause playback.
type Pause struct{}

// Resume asks the source to resume playback.
type Resume struct{}

// ForwardSong asks the source to skip to the next track.
type ForwardSong struct{}

// BackwardSong asks the source to skip to the previous track.
type BackwardSong struct{}

// SetVolume asks the source to set its volume.
type SetVolume struct {
	Volume float64 `json:"volume"`
}

// SeekPlayProgress asks the source to seek to a position in ms.
type SeekPlayProgress struct {
	ProgressMs uint64 `json:"progress"`
}

func (Ping) Tag() uint16                        { return TagPing }
func (Pong) Tag() uint16                        { return TagPong }
func (SetMusicInfo) Tag() uint16                { return TagSetMusicInfo }
func (SetMusicAlbumCoverImageURI) Tag() uint16  { return TagSetMusicAlbumCoverImageURI }
func (SetMusicAlbumCoverImageData) Tag() uint16 { return TagSetMusicAlbumCoverImageData }
func (OnPlayProgress) Tag() uint16              { return TagOnPlayProgress }
func (OnVolumeChanged) Tag() uint16             { return TagOnVolumeChanged }
func (OnPaused) Tag() uint16                    { return TagOnPaused }
func (OnResumed) Tag() uint16                   { return TagOnResumed }
func (OnAudioData) Tag() uint16                 { return TagOnAudioData }
func (SetLyric) Tag() uint16                    { return TagSetLyric }
func (SetLyricFromTTML) Tag() uint16            { return TagSetLyricFromTTML }
func (Pause) Tag() uint16                       { return TagPause }
func (Resume) Tag() uint16                      { return TagResume }
func (ForwardSong) Tag() uint16                 { return TagForwardSong }
func (BackwardSong) Tag() uint16                { return TagBackwardSong }
func (SetVolume) Tag() uint16                   { return TagSetVolume }
func (SeekPlayProgress) Tag() uint16            { return TagSeekPlayProgress }

func (Ping) isBody()                        {}
func (Pong) isBody()                        {}
func (SetMusicInfo) isBody()                {}
func (SetMusicAlbumCoverImageURI) isBody()  {}
func (SetMusicAlbumCoverImageData) isBody() {}
func (OnPlayProgress) isBody()              {}
func (OnVolumeChanged) isBody()             {}
func (OnPaused) isBody()                    {}
func (OnResumed) isBody()                   {}
func (OnAudioData) isBody()                 {}
func (SetLyric) isBody()                    {}
func (SetLyricFromTTML) isBody()            {}
func (Pause) isBody()                       {}
func (Resume) isBody()                      {}
func (ForwardSong) isBody()                 {}
func (BackwardSong) isBody()                {}
func (SetVolume) isBody()                   {}
func (SeekPlayProgress) isBody()            {}

// IsCommand reports whether tag is a transport command (display -> source)
// rather than a state event. The codec itself is direction-agnostic; the
// session layer uses this to route commands away from the state reducer.
func IsCommand(tag uint16) bool {
	return tag >= TagPause && tag <= TagSeekPlayProgress
}

// IsHeartbeat reports whether tag is Ping or Pong.
func IsHeartbeat(tag uint16) bool {
	return tag == TagPing || tag == TagPong
}

// TagName returns a stable lowercase name for a tag, for logs and metrics.
func TagName(tag uint16) string {
	switch tag {
	case TagPing:
		return "ping"
	case TagPong:
		return "pong"
	case TagSetMusicInfo:
		return "set_music_info"
	case TagSetMusicAlbumCoverImageURI:
		return "set_cover_uri"
	case TagSetMusicAlbumCoverImageData:
		return "set_cover_data"
	case TagOnPlayProgress:
		return "play_progress"
	case TagOnVolumeChanged:
		return "volume_changed"
	case TagOnPaused:
		return "paused"
	case TagOnResumed:
		return "resumed"
	case TagOnAudioData:
		return "audio_data"
	case TagSetLyric:
		return "set_lyric"
	case TagSetLyricFromTTML:
		return "set_lyric_ttml"
	case TagPause:
		return "cmd_pause"
	case TagResume:
		return "cmd_resume"
	case TagForwardSong:
		return "cmd_forward"
	case TagBackwardSong:
		return "cmd_backward"
	case TagSetVolume:
		return "cmd_set_volume"
	case TagSeekPlayProgress:
		return "cmd_seek"
	default:
		return "unknown"
	}
}

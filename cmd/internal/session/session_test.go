package session

import (
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"lyra/cmd/internal/playback"
	v1 "lyra/shared/protocol/v1"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// frameSink captures outbound frames for assertions.
type frameSink struct {
	frames [][]byte
	err    error
}

func (f *frameSink) send(frame []byte) error {
	if f.err != nil {
		return f.err
	}
	f.frames = append(f.frames, frame)
	return nil
}

func (f *frameSink) tags(t *testing.T) []uint16 {
	t.Helper()
	out := make([]uint16, 0, len(f.frames))
	for _, fr := range f.frames {
		body, err := v1.Decode(fr)
		if err != nil {
			t.Fatalf("sink frame does not decode: %v", err)
		}
		out = append(out, body.Tag())
	}
	return out
}

func mustEncode(t *testing.T, body v1.Body) []byte {
	t.Helper()
	frame, err := v1.Encode(body)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	return frame
}

func newTestSession(sink *frameSink, start time.Time) (*Session, *playback.Reducer) {
	red := playback.NewReducer(testLogger())
	s := New(testLogger(), "sess-test", 30*time.Second, red, sink.send, start)
	return s, red
}

func TestHeartbeatExpiryReachesDisconnected(t *testing.T) {
	t.Parallel()

	start := time.Now()
	sink := &frameSink{}
	s, _ := newTestSession(sink, start)

	lost := 0
	s.OnLost(func() { lost++ })

	// First silent interval: Ping goes out, phase degrades.
	s.Tick(start.Add(30 * time.Second))
	if got := s.Phase(); got != PhaseDegraded {
		t.Fatalf("phase=%v want degraded", got)
	}
	if tags := sink.tags(t); len(tags) != 1 || tags[0] != v1.TagPing {
		t.Fatalf("outbound tags=%v want [ping]", tags)
	}

	// Second silent interval: session is lost, exactly once.
	s.Tick(start.Add(60 * time.Second))
	if got := s.Phase(); got != PhaseDisconnected {
		t.Fatalf("phase=%v want disconnected", got)
	}
	if lost != 1 {
		t.Fatalf("onLost fired %d times, want 1", lost)
	}

	// Further ticks are inert.
	s.Tick(start.Add(90 * time.Second))
	if lost != 1 {
		t.Fatalf("onLost fired again after disconnect")
	}
}

func TestPongDuringDegradedReturnsToLive(t *testing.T) {
	t.Parallel()

	start := time.Now()
	sink := &frameSink{}
	s, _ := newTestSession(sink, start)

	s.Tick(start.Add(30 * time.Second))
	if got := s.Phase(); got != PhaseDegraded {
		t.Fatalf("phase=%v want degraded", got)
	}

	if _, err := s.HandleFrame(mustEncode(t, v1.Pong{}), start.Add(31*time.Second)); err != nil {
		t.Fatalf("HandleFrame: %v", err)
	}
	if got := s.Phase(); got != PhaseLive {
		t.Fatalf("phase=%v want live", got)
	}

	// The liveness window restarts from the Pong.
	s.Tick(start.Add(45 * time.Second))
	if got := s.Phase(); got != PhaseLive {
		t.Fatalf("phase=%v want live after partial interval", got)
	}
}

func TestPingGetsPongReply(t *testing.T) {
	t.Parallel()

	start := time.Now()
	sink := &frameSink{}
	s, _ := newTestSession(sink, start)

	if _, err := s.HandleFrame(mustEncode(t, v1.Ping{}), start); err != nil {
		t.Fatalf("HandleFrame: %v", err)
	}
	if tags := sink.tags(t); len(tags) != 1 || tags[0] != v1.TagPong {
		t.Fatalf("outbound tags=%v want [pong]", tags)
	}
	if got := s.Phase(); got != PhaseLive {
		t.Fatalf("phase=%v want live", got)
	}
}

func TestAnyValidFrameIsLivenessEvidence(t *testing.T) {
	t.Parallel()

	start := time.Now()
	sink := &frameSink{}
	s, red := newTestSession(sink, start)

	s.Tick(start.Add(30 * time.Second))
	if got := s.Phase(); got != PhaseDegraded {
		t.Fatalf("phase=%v want degraded", got)
	}

	// A progress event, not just Pong, revives the session and reaches the
	// reducer.
	if _, err := s.HandleFrame(mustEncode(t, v1.OnPlayProgress{ProgressMs: 777}), start.Add(31*time.Second)); err != nil {
		t.Fatalf("HandleFrame: %v", err)
	}
	if got := s.Phase(); got != PhaseLive {
		t.Fatalf("phase=%v want live", got)
	}
	if got := red.Snapshot().PositionMs; got != 777 {
		t.Fatalf("reducer position=%d want 777", got)
	}
}

func TestCommandsRouteToHandlerNotReducer(t *testing.T) {
	t.Parallel()

	start := time.Now()
	sink := &frameSink{}
	s, red := newTestSession(sink, start)

	var got []uint16
	s.OnCommand(func(b v1.Body) { got = append(got, b.Tag()) })

	s.HandleFrame(mustEncode(t, v1.Pause{}), start)
	s.HandleFrame(mustEncode(t, v1.SetVolume{Volume: 0.5}), start)
	s.HandleFrame(mustEncode(t, v1.SeekPlayProgress{ProgressMs: 10}), start)

	want := []uint16{v1.TagPause, v1.TagSetVolume, v1.TagSeekPlayProgress}
	if len(got) != len(want) {
		t.Fatalf("commands=%v want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("commands=%v want %v", got, want)
		}
	}

	snap := red.Snapshot()
	if snap.Volume != 0 || snap.PositionMs != 0 {
		t.Fatalf("command leaked into reducer: %+v", snap)
	}
}

func TestMalformedFrameDoesNotKillSession(t *testing.T) {
	t.Parallel()

	start := time.Now()
	sink := &frameSink{}
	s, red := newTestSession(sink, start)

	_, err := s.HandleFrame([]byte{0xff, 0xff, 0x01}, start)
	var unknown *v1.UnknownTypeError
	if !errors.As(err, &unknown) {
		t.Fatalf("err=%v want UnknownTypeError", err)
	}

	_, err = s.HandleFrame([]byte{0x05, 0x00, 0x01}, start)
	if !errors.Is(err, v1.ErrTruncated) {
		t.Fatalf("err=%v want ErrTruncated", err)
	}

	// The session keeps processing subsequent frames on the same
	// connection.
	if _, err := s.HandleFrame(mustEncode(t, v1.OnPlayProgress{ProgressMs: 5}), start); err != nil {
		t.Fatalf("HandleFrame after malformed: %v", err)
	}
	if got := red.Snapshot().PositionMs; got != 5 {
		t.Fatalf("position=%d want 5", got)
	}
	if got := s.Phase(); got == PhaseDisconnected {
		t.Fatal("malformed frame disconnected the session")
	}
}

func TestMalformedFrameIsNotLivenessEvidence(t *testing.T) {
	t.Parallel()

	start := time.Now()
	sink := &frameSink{}
	s, _ := newTestSession(sink, start)

	// Garbage at the end of the interval must not keep the session alive.
	_, _ = s.HandleFrame([]byte{0xff}, start.Add(29*time.Second))
	s.Tick(start.Add(30 * time.Second))
	if got := s.Phase(); got != PhaseDegraded {
		t.Fatalf("phase=%v want degraded", got)
	}
}

func TestTransportClosedForcesDisconnectedAndResets(t *testing.T) {
	t.Parallel()

	start := time.Now()
	sink := &frameSink{}
	s, red := newTestSession(sink, start)

	s.HandleFrame(mustEncode(t, v1.OnPlayProgress{ProgressMs: 9000}), start)
	s.TransportClosed()

	if got := s.Phase(); got != PhaseDisconnected {
		t.Fatalf("phase=%v want disconnected", got)
	}
	if got := red.Snapshot().PositionMs; got != 0 {
		t.Fatalf("state survived transport close: position=%d", got)
	}

	// Frames after disconnect are dropped silently.
	if _, err := s.HandleFrame(mustEncode(t, v1.OnPlayProgress{ProgressMs: 1}), start); err != nil {
		t.Fatalf("HandleFrame after close: %v", err)
	}
	if got := red.Snapshot().PositionMs; got != 0 {
		t.Fatal("frame applied after disconnect")
	}
}

func TestHeartbeatRunnerStopIsDeterministic(t *testing.T) {
	t.Parallel()

	sink := &frameSink{}
	s, _ := newTestSession(sink, time.Now())

	h := StartHeartbeat(s, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	h.Stop()
	h.Stop() // idempotent

	// After Stop returns, no further ticks can fire.
	phase := s.Phase()
	time.Sleep(20 * time.Millisecond)
	if got := s.Phase(); got != phase {
		t.Fatalf("phase advanced after Stop: %v -> %v", phase, got)
	}
}

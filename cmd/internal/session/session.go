// Package session owns one logical protocol connection: liveness tracking,
// the heartbeat phase lattice, and routing of decoded frames to the
// playback reducer or the command handler.
package session

import (
	"log/slog"
	"sync"
	"time"

	"lyra/cmd/internal/playback"
	v1 "lyra/shared/protocol/v1"
)

// Phase is the connection liveness phase. Without a new connection it only
// ever moves forward: Connecting -> Live -> Degraded -> Disconnected.
type Phase uint8

const (
	PhaseConnecting Phase = iota
	PhaseLive
	PhaseDegraded
	PhaseDisconnected
)

func (p Phase) String() string {
	switch p {
	case PhaseConnecting:
		return "connecting"
	case PhaseLive:
		return "live"
	case PhaseDegraded:
		return "degraded"
	case PhaseDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// DefaultHeartbeatInterval is the liveness window: one silent interval
// triggers a Ping, a second one ends the session.
const DefaultHeartbeatInterval = 30 * time.Second

// SendFunc hands one encoded frame to the writer path. Implementations
// must be safe to call from the session's goroutine and should queue
// rather than write inline to avoid interleaving partial frames.
type SendFunc func(frame []byte) error

// Session folds inbound frames into a playback.Reducer and tracks peer
// liveness. It does not own the wall clock: Tick is called by a Heartbeat
// runner (or directly by tests), which keeps the phase transitions
// deterministic.
type Session struct {
	log      *slog.Logger
	id       string
	interval time.Duration
	reducer  *playback.Reducer
	send     SendFunc

	onCommand func(v1.Body)
	onLost    func()

	mu               sync.Mutex
	phase            Phase
	lastPeerActivity time.Time
	lastPingSent     time.Time
}

// New constructs a Session in the Connecting phase. start seeds the
// liveness window so a peer that never speaks still times out.
func New(log *slog.Logger, id string, interval time.Duration, reducer *playback.Reducer, send SendFunc, start time.Time) *Session {
	if log == nil {
		log = slog.Default()
	}
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	if send == nil {
		send = func([]byte) error { return nil }
	}
	return &Session{
		log:              log,
		id:               id,
		interval:         interval,
		reducer:          reducer,
		send:             send,
		phase:            PhaseConnecting,
		lastPeerActivity: start,
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Phase returns the current liveness phase.
func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

// OnCommand registers the handler for inbound command-role frames
// (Pause, Resume, SetVolume, ...). Commands are requests for a state
// change and are never applied to the playback snapshot.
func (s *Session) OnCommand(fn func(v1.Body)) {
	s.mu.Lock()
	s.onCommand = fn
	s.mu.Unlock()
}

// OnLost registers the handler invoked once when the heartbeat expires.
func (s *Session) OnLost(fn func()) {
	s.mu.Lock()
	s.onLost = fn
	s.mu.Unlock()
}

// HandleFrame decodes and applies one complete inbound frame, returning
// the decoded body so callers can make relay decisions on it.
//
// A malformed frame is logged and dropped; the error is returned for
// accounting but the session stays usable and later frames keep flowing.
// Any well-formed frame counts as liveness evidence.
func (s *Session) HandleFrame(frame []byte, now time.Time) (v1.Body, error) {
	body, err := v1.Decode(frame)
	if err != nil {
		s.log.Warn("session.frame.malformed",
			"session_id", s.id,
			"kind", v1.ErrorKind(err),
			"size", len(frame),
			"err", err,
		)
		return nil, err
	}

	s.mu.Lock()
	if s.phase == PhaseDisconnected {
		s.mu.Unlock()
		s.log.Debug("session.frame.after_disconnect", "session_id", s.id, "tag", v1.TagName(body.Tag()))
		return nil, nil
	}
	s.markActivityLocked(now)
	onCommand := s.onCommand
	s.mu.Unlock()

	switch {
	case body.Tag() == v1.TagPing:
		s.replyPong()
	case body.Tag() == v1.TagPong:
		// Liveness only.
	case v1.IsCommand(body.Tag()):
		if onCommand != nil {
			onCommand(body)
		} else {
			s.log.Debug("session.command.dropped", "session_id", s.id, "tag", v1.TagName(body.Tag()))
		}
	default:
		if s.reducer != nil {
			s.reducer.Apply(body, now)
		} else {
			// A state event from a peer with no reducer attached (e.g. a
			// display client pushing state) is an unexpected direction.
			s.log.Debug("session.state.unexpected", "session_id", s.id, "tag", v1.TagName(body.Tag()))
		}
	}
	return body, nil
}

// Tick advances the heartbeat lattice against now.
//
// Connecting and Live behave the same: one silent interval sends a Ping
// and degrades the session; a Degraded session whose Ping stays
// unanswered for another interval is lost.
func (s *Session) Tick(now time.Time) {
	var (
		sendPing bool
		lost     bool
		onLost   func()
	)

	s.mu.Lock()
	switch s.phase {
	case PhaseConnecting, PhaseLive:
		if now.Sub(s.lastPeerActivity) >= s.interval {
			s.phase = PhaseDegraded
			s.lastPingSent = now
			sendPing = true
		}
	case PhaseDegraded:
		if now.Sub(s.lastPingSent) >= s.interval {
			s.phase = PhaseDisconnected
			lost = true
			onLost = s.onLost
		}
	case PhaseDisconnected:
	}
	s.mu.Unlock()

	if sendPing {
		s.log.Info("session.degraded", "session_id", s.id)
		frame, _ := v1.Encode(v1.Ping{})
		if err := s.send(frame); err != nil {
			s.log.Warn("session.ping.send_fail", "session_id", s.id, "err", err)
		}
	}

	if lost {
		s.log.Info("session.lost", "session_id", s.id)
		if s.reducer != nil {
			// A fresh session starts from an empty snapshot; nothing
			// carries over across connections.
			s.reducer.Reset()
		}
		if onLost != nil {
			onLost()
		}
	}
}

// TransportClosed forces Disconnected when the underlying transport goes
// away, regardless of the current phase. It does not fire OnLost: the
// caller already knows the transport is gone.
func (s *Session) TransportClosed() {
	s.mu.Lock()
	already := s.phase == PhaseDisconnected
	s.phase = PhaseDisconnected
	s.mu.Unlock()

	if already {
		return
	}
	if s.reducer != nil {
		s.reducer.Reset()
	}
	s.log.Info("session.transport_closed", "session_id", s.id)
}

func (s *Session) markActivityLocked(now time.Time) {
	s.lastPeerActivity = now
	if s.phase == PhaseConnecting || s.phase == PhaseDegraded {
		prev := s.phase
		s.phase = PhaseLive
		s.log.Debug("session.phase", "session_id", s.id, "from", prev.String(), "to", "live")
	}
}

func (s *Session) replyPong() {
	frame, _ := v1.Encode(v1.Pong{})
	if err := s.send(frame); err != nil {
		s.log.Warn("session.pong.send_fail", "session_id", s.id, "err", err)
	}
}

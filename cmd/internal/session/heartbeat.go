package session

import (
	"sync"
	"time"
)

// Heartbeat drives Session.Tick from a wall-clock ticker. It is a
// cancelable task with an owning handle, not an always-running loop:
// Stop tears it down synchronously so a fired tick can never race a
// torn-down session.
type Heartbeat struct {
	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// StartHeartbeat begins ticking s every period. The runner exits on its
// own once the session reaches Disconnected; Stop remains safe to call
// afterwards.
func StartHeartbeat(s *Session, every time.Duration) *Heartbeat {
	if every <= 0 {
		every = s.interval
	}

	h := &Heartbeat{
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}

	go func() {
		defer close(h.done)

		t := time.NewTicker(every)
		defer t.Stop()

		for {
			select {
			case <-h.stop:
				return
			case now := <-t.C:
				s.Tick(now)
				if s.Phase() == PhaseDisconnected {
					return
				}
			}
		}
	}()

	return h
}

// Stop cancels the runner and waits for it to exit (idempotent).
func (h *Heartbeat) Stop() {
	h.once.Do(func() { close(h.stop) })
	<-h.done
}

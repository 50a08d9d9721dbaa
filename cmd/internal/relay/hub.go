package relay

import (
	"log/slog"
	"sync"

	"lyra/cmd/internal/playback"
)

// Hub owns in-memory channels and provides stable channel handles.
// It is intentionally minimal: persistence lives behind PlayHistory.
type Hub struct {
	log *slog.Logger

	mu       sync.RWMutex
	channels map[string]*Channel
}

// NewHub constructs a Hub instance.
func NewHub(log *slog.Logger) *Hub {
	return &Hub{
		log:      log,
		channels: make(map[string]*Channel),
	}
}

// GetOrCreateChannel returns a stable in-memory channel handle.
func (h *Hub) GetOrCreateChannel(channelID string) *Channel {
	h.mu.Lock()
	defer h.mu.Unlock()

	if c, ok := h.channels[channelID]; ok {
		return c
	}

	c := NewChannel(h.log, channelID)
	h.channels[channelID] = c
	return c
}

// Snapshot returns the playback state of a channel, when it exists.
func (h *Hub) Snapshot(channelID string) (playback.State, bool) {
	h.mu.RLock()
	c, ok := h.channels[channelID]
	h.mu.RUnlock()

	if !ok {
		return playback.State{}, false
	}
	return c.Snapshot(), true
}

package relay

import (
	"errors"
	"log/slog"
	"sync"

	"lyra/cmd/internal/playback"
)

// ErrSourceTaken means a channel already has a live playback source.
// Multi-source arbitration is out of scope: the second claimant is
// rejected instead of fan-in.
var ErrSourceTaken = errors.New("relay: channel already has a source")

// Channel is the fanout primitive for one sync group: at most one playback
// source and any number of displays. It owns the channel's canonical
// playback reducer.
//
// Concurrency guarantees:
// - Attach/Detach are safe under concurrent fanout.
// - Fanout never blocks (drops under backpressure).
// - Fanout is panic-safe because Client.Send is never closed by the relay.
type Channel struct {
	log *slog.Logger
	ID  string

	reducer *playback.Reducer

	mu       sync.RWMutex
	source   *Client
	displays map[string]*Client
}

// NewChannel constructs a channel with an empty playback snapshot.
func NewChannel(log *slog.Logger, id string) *Channel {
	return &Channel{
		log:      log,
		ID:       id,
		reducer:  playback.NewReducer(log),
		displays: make(map[string]*Client),
	}
}

// Reducer returns the channel's canonical playback reducer.
func (c *Channel) Reducer() *playback.Reducer { return c.reducer }

// Snapshot returns a consistent copy of the channel's playback state.
func (c *Channel) Snapshot() playback.State { return c.reducer.Snapshot() }

// AttachSource claims the source slot. A channel holds the state of
// exactly one player; last-writer-wins applies to events, not to the
// slot itself.
func (c *Channel) AttachSource(client *Client) error {
	if c == nil || client == nil || client.SessionID == "" {
		return errors.New("relay: invalid source client")
	}

	c.mu.Lock()
	if c.source != nil {
		c.mu.Unlock()
		return ErrSourceTaken
	}
	c.source = client
	c.mu.Unlock()

	c.log.Info("channel.source.attach", "channel_id", c.ID, "session_id", client.SessionID)
	return nil
}

// AttachDisplay adds a display client to the fanout set.
func (c *Channel) AttachDisplay(client *Client) {
	if c == nil || client == nil || client.SessionID == "" {
		return
	}

	c.mu.Lock()
	c.displays[client.SessionID] = client
	c.mu.Unlock()

	c.log.Info("channel.display.attach", "channel_id", c.ID, "session_id", client.SessionID)
}

// Detach removes a client from the channel and signals its shutdown.
// Detaching the source resets the playback snapshot: the next source may
// represent entirely different playback.
func (c *Channel) Detach(sessionID string) {
	if c == nil || sessionID == "" {
		return
	}

	var (
		cl        *Client
		wasSource bool
	)

	c.mu.Lock()
	if c.source != nil && c.source.SessionID == sessionID {
		cl = c.source
		c.source = nil
		wasSource = true
	} else {
		cl = c.displays[sessionID]
		delete(c.displays, sessionID)
	}
	c.mu.Unlock()

	// Signal client shutdown after removing it from the fanout set, so a
	// concurrent broadcaster never holds a pointer to a torn-down client.
	if cl != nil {
		cl.Close()
	}
	if wasSource {
		c.reducer.Reset()
	}

	c.log.Info("channel.detach", "channel_id", c.ID, "session_id", sessionID, "was_source", wasSource)
}

// Source returns the current source client, or nil.
func (c *Channel) Source() *Client {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.source
}

// DisplayCount returns the number of attached displays.
func (c *Channel) DisplayCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.displays)
}

// BroadcastDisplays fans one frame out to every display. Non-blocking: a
// display with a full queue or in shutdown misses the frame rather than
// stalling the channel. Returns how many displays received it.
func (c *Channel) BroadcastDisplays(frame []byte) int {
	if c == nil {
		return 0
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	sent := 0
	for _, d := range c.displays {
		if d.TrySend(frame) {
			sent++
		}
	}
	return sent
}

// ForwardToSource hands one command frame to the source's queue. Reports
// false when no source is attached or its queue is saturated; commands are
// at-most-once and are not retried.
func (c *Channel) ForwardToSource(frame []byte) bool {
	c.mu.RLock()
	src := c.source
	c.mu.RUnlock()

	return src.TrySend(frame)
}

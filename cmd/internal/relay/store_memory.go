package relay

import (
	"context"
	"errors"
	"sync"
	"time"
)

const (
	memMaxPlaysPerChannel = 10_000
)

// InMemoryStore is a dev-only fallback when DB is not configured.
// It supports:
//   - RecordPlay: consecutive-duplicate dedupe per channel
//   - RecentPlays: newest-first paging for CI/smoke determinism
type InMemoryStore struct {
	mu       sync.Mutex
	channels map[string]*memChannel
}

type memChannel struct {
	plays []PlayRecord // ordered by ObservedAt ASC (append order)
}

// NewInMemoryStore constructs an in-memory PlayHistory implementation.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		channels: make(map[string]*memChannel),
	}
}

// Close closes the store (noop for in-memory).
func (s *InMemoryStore) Close() error { return nil }

// RecordPlay persists a track announcement, deduplicating consecutive
// repeats of the same music id.
func (s *InMemoryStore) RecordPlay(ctx context.Context, in RecordPlayInput) (RecordPlayResult, error) {
	if in.ChannelID == "" || in.MusicID == "" {
		return RecordPlayResult{}, errors.New("invalid input")
	}
	if err := ctx.Err(); err != nil {
		return RecordPlayResult{}, err
	}

	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.channels[in.ChannelID]
	if c == nil {
		c = &memChannel{plays: make([]PlayRecord, 0, 64)}
		s.channels[in.ChannelID] = c
	}

	if n := len(c.plays); n > 0 && c.plays[n-1].MusicID == in.MusicID {
		return RecordPlayResult{Stored: c.plays[n-1], Duplicated: true}, nil
	}

	id, err := NewPlayID(now)
	if err != nil {
		id = NewRandomHex(16)
	}

	rec := PlayRecord{
		ID:         id,
		ChannelID:  in.ChannelID,
		MusicID:    in.MusicID,
		MusicName:  in.MusicName,
		AlbumID:    in.AlbumID,
		AlbumName:  in.AlbumName,
		Artists:    append([]string(nil), in.Artists...),
		DurationMs: in.DurationMs,
		ObservedAt: now,
	}
	c.plays = append(c.plays, rec)

	// Bound memory to avoid unbounded growth in dev.
	if len(c.plays) > memMaxPlaysPerChannel {
		c.plays = c.plays[len(c.plays)-memMaxPlaysPerChannel:]
	}

	return RecordPlayResult{Stored: rec, Duplicated: false}, nil
}

// RecentPlays returns records newest first.
func (s *InMemoryStore) RecentPlays(ctx context.Context, in RecentPlaysInput) (RecentPlaysResult, error) {
	if in.ChannelID == "" {
		return RecentPlaysResult{}, errors.New("missing channel id")
	}
	if err := ctx.Err(); err != nil {
		return RecentPlaysResult{}, err
	}

	limit := clampHistoryLimit(in.Limit)
	fetch := limit + 1

	s.mu.Lock()
	c := s.channels[in.ChannelID]
	var snap []PlayRecord
	if c != nil {
		snap = append([]PlayRecord(nil), c.plays...)
	}
	s.mu.Unlock()

	if len(snap) == 0 {
		return RecentPlaysResult{Plays: nil, HasMore: false}, nil
	}

	// Stored ASC by append order; serve DESC.
	out := make([]PlayRecord, 0, fetch)
	for i := len(snap) - 1; i >= 0 && len(out) < fetch; i-- {
		out = append(out, snap[i])
	}

	hasMore := len(out) > limit
	if hasMore {
		out = out[:limit]
	}

	return RecentPlaysResult{Plays: out, HasMore: hasMore}, nil
}

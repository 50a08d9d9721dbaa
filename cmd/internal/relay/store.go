package relay

import (
	"context"
	"time"
)

// PlayRecord is one persisted track observation: the relay saw a channel's
// source announce this track.
type PlayRecord struct {
	ID         string    `json:"id"`
	ChannelID  string    `json:"channelId"`
	MusicID    string    `json:"musicId"`
	MusicName  string    `json:"musicName"`
	AlbumID    string    `json:"albumId"`
	AlbumName  string    `json:"albumName"`
	Artists    []string  `json:"artists"`
	DurationMs int64     `json:"duration"`
	ObservedAt time.Time `json:"observedAt"`
}

// PlayHistory persists and queries track observations.
//
// Requirements:
//   - Consecutive dedupe per channel: re-announcing the track that is
//     already latest (same music id) must not create a new row. Sources
//     re-send SetMusicInfo on reconnect and on seek in some players.
//   - RecentPlays ordered newest first.
type PlayHistory interface {
	RecordPlay(ctx context.Context, in RecordPlayInput) (RecordPlayResult, error)
	RecentPlays(ctx context.Context, in RecentPlaysInput) (RecentPlaysResult, error)
	Close() error
}

// RecordPlayInput describes one track announcement.
type RecordPlayInput struct {
	ChannelID  string
	MusicID    string
	MusicName  string
	AlbumID    string
	AlbumName  string
	Artists    []string
	DurationMs int64
	Now        time.Time
}

// RecordPlayResult is the record operation result.
type RecordPlayResult struct {
	Stored     PlayRecord
	Duplicated bool
}

// RecentPlaysInput describes a history query request.
type RecentPlaysInput struct {
	ChannelID string
	Limit     int
}

// RecentPlaysResult contains the retrieved history window, newest first.
type RecentPlaysResult struct {
	Plays   []PlayRecord
	HasMore bool
}

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

func clampHistoryLimit(limit int) int {
	if limit <= 0 {
		return defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		return maxHistoryLimit
	}
	return limit
}

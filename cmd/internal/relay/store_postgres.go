package relay

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a PlayHistory backed by PostgreSQL.
//
// Ownership model:
// - PostgresStore does NOT own the pgx pool. The caller must close the pool.
// - Close() is therefore a no-op.
//
// Concurrency model:
//   - Uses per-channel transactional advisory locks so that two concurrent
//     announcements of the same track cannot both pass the
//     consecutive-duplicate check.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures PostgresStore behavior.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the DB schema used by this store (default: "lyra").
// The schema name is validated and safely quoted in queries.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("relay: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("relay: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed PlayHistory.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: "lyra",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("relay: nil pool")
	}
	return st, nil
}

// Close is a no-op because the pool is owned by the caller.
func (s *PostgresStore) Close() error { return nil }

// RecordPlay persists a track announcement, deduplicating consecutive
// repeats of the same music id per channel.
func (s *PostgresStore) RecordPlay(ctx context.Context, in RecordPlayInput) (RecordPlayResult, error) {
	if s == nil || s.pool == nil {
		return RecordPlayResult{}, errors.New("relay: nil store")
	}
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

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return RecordPlayResult{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	plays := pgIdent(s.schema, "plays")

	// Serialize writes per channel so the consecutive-duplicate check and
	// the insert are atomic with respect to other writers.
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, in.ChannelID); err != nil {
		return RecordPlayResult{}, fmt.Errorf("advisory lock: %w", err)
	}

	latest, err := readLatestPlay(ctx, tx, plays, in.ChannelID)
	if err == nil && latest.MusicID == in.MusicID {
		if err := tx.Commit(ctx); err != nil {
			return RecordPlayResult{}, err
		}
		return RecordPlayResult{Stored: latest, Duplicated: true}, nil
	}
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return RecordPlayResult{}, err
	}

	id, err := NewPlayID(now)
	if err != nil {
		return RecordPlayResult{}, fmt.Errorf("play id: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO `+plays+` (
		     id, channel_id, music_id, music_name, album_id, album_name, artists, duration_ms, observed_at
		   ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		id, in.ChannelID, in.MusicID, in.MusicName, in.AlbumID, in.AlbumName, in.Artists, in.DurationMs, now,
	); err != nil {
		return RecordPlayResult{}, fmt.Errorf("insert play: %w", err)
	}

	out := PlayRecord{
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

	if err := tx.Commit(ctx); err != nil {
		return RecordPlayResult{}, err
	}
	return RecordPlayResult{Stored: out, Duplicated: false}, nil
}

// RecentPlays returns records ordered by observed_at DESC.
func (s *PostgresStore) RecentPlays(ctx context.Context, in RecentPlaysInput) (RecentPlaysResult, error) {
	if s == nil || s.pool == nil {
		return RecentPlaysResult{}, errors.New("relay: nil store")
	}
	if in.ChannelID == "" {
		return RecentPlaysResult{}, errors.New("missing channel id")
	}
	if err := ctx.Err(); err != nil {
		return RecentPlaysResult{}, err
	}

	limit := clampHistoryLimit(in.Limit)
	fetch := limit + 1

	plays := pgIdent(s.schema, "plays")

	rows, err := s.pool.Query(ctx,
		`SELECT id, channel_id, music_id, music_name, album_id, album_name, artists, duration_ms, observed_at
		   FROM `+plays+`
		  WHERE channel_id = $1
		  ORDER BY observed_at DESC, id DESC
		  LIMIT $2`,
		in.ChannelID, fetch,
	)
	if err != nil {
		return RecentPlaysResult{}, err
	}
	defer rows.Close()

	out := make([]PlayRecord, 0, fetch)
	for rows.Next() {
		var r PlayRecord
		if err := rows.Scan(
			&r.ID,
			&r.ChannelID,
			&r.MusicID,
			&r.MusicName,
			&r.AlbumID,
			&r.AlbumName,
			&r.Artists,
			&r.DurationMs,
			&r.ObservedAt,
		); err != nil {
			return RecentPlaysResult{}, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return RecentPlaysResult{}, err
	}

	hasMore := len(out) > limit
	if hasMore {
		out = out[:limit]
	}

	return RecentPlaysResult{Plays: out, HasMore: hasMore}, nil
}

func readLatestPlay(ctx context.Context, tx pgx.Tx, playsTable, channelID string) (PlayRecord, error) {
	var r PlayRecord
	err := tx.QueryRow(ctx,
		`SELECT id, channel_id, music_id, music_name, album_id, album_name, artists, duration_ms, observed_at
		   FROM `+playsTable+`
		  WHERE channel_id = $1
		  ORDER BY observed_at DESC, id DESC
		  LIMIT 1`,
		channelID,
	).Scan(&r.ID, &r.ChannelID, &r.MusicID, &r.MusicName, &r.AlbumID, &r.AlbumName, &r.Artists, &r.DurationMs, &r.ObservedAt)
	return r, err
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}

func pgIdent(schema, table string) string {
	// pgx.Identifier safely quotes identifiers, preventing SQL injection.
	return pgx.Identifier{schema, table}.Sanitize()
}

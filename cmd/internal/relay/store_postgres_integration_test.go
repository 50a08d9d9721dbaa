package relay

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Integration tests are enabled when LYRA_DATABASE_URL is set.
// This keeps local "go test ./..." fast & deterministic without requiring Postgres.

func TestPostgresStore_RecordPlay_ConsecutiveDedupe(t *testing.T) {
	t.Parallel()

	pool := mustOpenTestPool(t)
	defer pool.Close()

	schema := mustCreateTestSchema(t, pool)
	t.Cleanup(func() { mustDropSchema(t, pool, schema) })

	mustApplySchema(t, pool, schema)

	store := mustNewStore(t, pool, schema)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	channelID := "it-dedupe-" + NewRandomHex(8)
	now := time.Now().UTC()

	first, err := store.RecordPlay(ctx, recordInput(channelID, "m-1", now))
	if err != nil {
		t.Fatalf("record first: %v", err)
	}
	if first.Duplicated {
		t.Fatalf("record first: expected Duplicated=false")
	}
	if strings.TrimSpace(first.Stored.ID) == "" {
		t.Fatalf("record first: expected non-empty id")
	}

	second, err := store.RecordPlay(ctx, recordInput(channelID, "m-1", now.Add(time.Second)))
	if err != nil {
		t.Fatalf("record duplicate: %v", err)
	}
	if !second.Duplicated {
		t.Fatalf("record duplicate: expected Duplicated=true")
	}
	if second.Stored.ID != first.Stored.ID {
		t.Fatalf("record duplicate: id mismatch: first=%s second=%s", first.Stored.ID, second.Stored.ID)
	}

	cnt := mustCountPlays(t, pool, schema, channelID)
	if cnt != 1 {
		t.Fatalf("expected 1 play row, got %d", cnt)
	}
}

func TestPostgresStore_RecentPlays_Order_HasMore(t *testing.T) {
	t.Parallel()

	pool := mustOpenTestPool(t)
	defer pool.Close()

	schema := mustCreateTestSchema(t, pool)
	t.Cleanup(func() { mustDropSchema(t, pool, schema) })

	mustApplySchema(t, pool, schema)

	store := mustNewStore(t, pool, schema)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	channelID := "it-history-" + NewRandomHex(8)
	base := time.Now().UTC()

	for i := 0; i < 3; i++ {
		in := recordInput(channelID, fmt.Sprintf("m-%d", i), base.Add(time.Duration(i)*time.Minute))
		if _, err := store.RecordPlay(ctx, in); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}

	out, err := store.RecentPlays(ctx, RecentPlaysInput{ChannelID: channelID, Limit: 2})
	if err != nil {
		t.Fatalf("recent plays: %v", err)
	}
	if len(out.Plays) != 2 {
		t.Fatalf("recent plays: expected 2 rows got %d", len(out.Plays))
	}
	if !out.HasMore {
		t.Fatalf("recent plays: expected HasMore=true")
	}
	if out.Plays[0].MusicID != "m-2" || out.Plays[1].MusicID != "m-1" {
		t.Fatalf("recent plays: expected newest first [m-2,m-1], got [%s,%s]", out.Plays[0].MusicID, out.Plays[1].MusicID)
	}

	all, err := store.RecentPlays(ctx, RecentPlaysInput{ChannelID: channelID, Limit: 50})
	if err != nil {
		t.Fatalf("recent plays all: %v", err)
	}
	if len(all.Plays) != 3 || all.HasMore {
		t.Fatalf("recent plays all: expected 3 rows HasMore=false, got %d HasMore=%v", len(all.Plays), all.HasMore)
	}
}

func TestPostgresStore_ConcurrentRecord_SingleRowPerTrack(t *testing.T) {
	t.Parallel()

	pool := mustOpenTestPool(t)
	defer pool.Close()

	schema := mustCreateTestSchema(t, pool)
	t.Cleanup(func() { mustDropSchema(t, pool, schema) })

	mustApplySchema(t, pool, schema)

	store := mustNewStore(t, pool, schema)

	ctx, cancel := context.WithTimeout(context.Background(), 45*time.Second)
	defer cancel()

	channelID := "it-concurrency-" + NewRandomHex(8)

	// Many writers announcing the same track concurrently must collapse to
	// one row thanks to the advisory lock.
	const n = 16

	var wg sync.WaitGroup
	wg.Add(n)

	errCh := make(chan error, n)

	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()

			if _, err := store.RecordPlay(ctx, recordInput(channelID, "m-1", time.Now().UTC())); err != nil {
				errCh <- err
			}
		}()
	}

	wg.Wait()
	close(errCh)

	for err := range errCh {
		t.Fatalf("concurrent record error: %v", err)
	}

	cnt := mustCountPlays(t, pool, schema, channelID)
	if cnt != 1 {
		t.Fatalf("expected 1 play row, got %d", cnt)
	}
}

// ---- test helpers ----

func mustNewStore(t *testing.T, pool *pgxpool.Pool, schema string) *PostgresStore {
	t.Helper()

	st, err := NewPostgresStore(pool, WithSchema(schema))
	if err != nil {
		t.Fatalf("new postgres store: %v", err)
	}
	return st
}

func mustOpenTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	raw := strings.TrimSpace(os.Getenv("LYRA_DATABASE_URL"))
	if raw == "" {
		t.Skip("integration test skipped: LYRA_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cfg, err := pgxpool.ParseConfig(raw)
	if err != nil {
		t.Fatalf("parse LYRA_DATABASE_URL: %v", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}

	// Validate acquire quickly.
	pingCtx, pingCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer pingCancel()

	c, err := pool.Acquire(pingCtx)
	if err != nil {
		pool.Close()
		t.Fatalf("acquire: %v", err)
	}
	c.Release()

	return pool
}

func mustCreateTestSchema(t *testing.T, pool *pgxpool.Pool) string {
	t.Helper()

	schema := "lyra_it_" + strings.ToLower(NewRandomHex(8))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := pool.Exec(ctx, `CREATE SCHEMA `+pgx.Identifier{schema}.Sanitize()); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	return schema
}

func mustDropSchema(t *testing.T, pool *pgxpool.Pool, schema string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, _ = pool.Exec(ctx, `DROP SCHEMA IF EXISTS `+pgx.Identifier{schema}.Sanitize()+` CASCADE`)
}

func mustApplySchema(t *testing.T, pool *pgxpool.Pool, schema string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 12*time.Second)
	defer cancel()

	plays := pgIdent(schema, "plays")

	// Minimal schema required by PostgresStore.
	// Must remain semantically aligned with infra/db/schema.sql.
	schemaSQL := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
  id          TEXT PRIMARY KEY,
  channel_id  TEXT NOT NULL,
  music_id    TEXT NOT NULL,
  music_name  TEXT NOT NULL DEFAULT '',
  album_id    TEXT NOT NULL DEFAULT '',
  album_name  TEXT NOT NULL DEFAULT '',
  artists     TEXT[] NOT NULL DEFAULT '{}',
  duration_ms BIGINT NOT NULL DEFAULT 0,
  observed_at TIMESTAMPTZ NOT NULL DEFAULT now(),

  CONSTRAINT chk_plays_music_id_len CHECK (char_length(music_id) > 0)
);

CREATE INDEX IF NOT EXISTS idx_plays_channel_observed_desc
  ON %s (channel_id, observed_at DESC, id DESC);
`, plays, plays)

	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
}

func mustCountPlays(t *testing.T, pool *pgxpool.Pool, schema string, channelID string) int {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var cnt int
	if err := pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM `+pgIdent(schema, "plays")+` WHERE channel_id = $1`,
		channelID,
	).Scan(&cnt); err != nil {
		t.Fatalf("count plays: %v", err)
	}

	return cnt
}

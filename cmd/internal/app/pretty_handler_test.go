package app

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestPrettyHandlerPlainOutput(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	h := newPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}, false)
	log := slog.New(h)

	log.Info("server.start", "addr", "127.0.0.1:8080", "db_enabled", false)

	out := strings.TrimRight(buf.String(), "\n")
	for _, want := range []string{"[INFO]", "server.start", "addr=127.0.0.1:8080", "db_enabled=false"} {
		if !strings.Contains(out, want) {
			t.Fatalf("output missing %q: %q", want, out)
		}
	}
	if strings.Contains(out, "\x1b[") {
		t.Fatalf("plain output contains ANSI escapes: %q", out)
	}
}

func TestPrettyHandlerQuotesValuesWithSpaces(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, nil, false))

	log.Warn("history.fetch.fail", "err", "history unavailable")

	if !strings.Contains(buf.String(), `err="history unavailable"`) {
		t.Fatalf("value not quoted: %q", buf.String())
	}
}

func TestPrettyHandlerWithAttrsAndGroup(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, nil, false))

	log.With("session_id", "s-1").WithGroup("ws").Info("frame", "tag", "ping")

	out := buf.String()
	if !strings.Contains(out, "session_id=s-1") {
		t.Fatalf("With attr missing: %q", out)
	}
	if !strings.Contains(out, "ws.tag=ping") {
		t.Fatalf("group prefix missing: %q", out)
	}
}

func TestPrettyHandlerHonorsLevel(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	log := slog.New(newPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}, false))

	log.Info("dropped")
	log.Warn("kept")

	out := buf.String()
	if strings.Contains(out, "dropped") {
		t.Fatalf("info record emitted below min level: %q", out)
	}
	if !strings.Contains(out, "kept") {
		t.Fatalf("warn record missing: %q", out)
	}
}

func TestStripANSI(t *testing.T) {
	t.Parallel()

	in := ansiBlue + "INFO" + ansiReset + " plain " + ansiRed + "ERR" + ansiReset
	got := stripANSI(in)
	want := "INFO plain ERR"
	if got != want {
		t.Fatalf("stripANSI()=%q want=%q", got, want)
	}
}

func TestLevelTagColored(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	h := newPrettyHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}, true)

	rec := slog.NewRecord(time.Now(), slog.LevelError, "boom", 0)
	if err := h.Handle(context.Background(), rec); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, ansiRed+"[ERROR]"+ansiReset) {
		t.Fatalf("colored level tag missing: %q", out)
	}
	if !strings.Contains(stripANSI(out), "[ERROR] boom") {
		t.Fatalf("stripped output malformed: %q", stripANSI(out))
	}
}

package relay

import (
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	v1 "lyra/shared/protocol/v1"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testNow() time.Time {
	return time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
}

func musicInfo() v1.SetMusicInfo {
	return v1.SetMusicInfo{
		MusicID:    "m-1",
		MusicName:  "Aurora",
		AlbumID:    "al-1",
		AlbumName:  "Dawn",
		Artists:    []v1.Artist{{ID: "ar-1", Name: "Nova"}},
		DurationMs: 180_000,
	}
}

func TestChannelSourceSlotIsExclusive(t *testing.T) {
	t.Parallel()

	ch := NewChannel(testLogger(), "room-1")

	first := NewClient("s1", RoleSource, 8)
	if err := ch.AttachSource(first); err != nil {
		t.Fatalf("first AttachSource: %v", err)
	}

	second := NewClient("s2", RoleSource, 8)
	if err := ch.AttachSource(second); !errors.Is(err, ErrSourceTaken) {
		t.Fatalf("second AttachSource err = %v, want ErrSourceTaken", err)
	}

	// Detaching the holder frees the slot.
	ch.Detach("s1")
	if err := ch.AttachSource(second); err != nil {
		t.Fatalf("AttachSource after detach: %v", err)
	}
}

func TestChannelBroadcastSkipsSaturatedDisplay(t *testing.T) {
	t.Parallel()

	ch := NewChannel(testLogger(), "room-1")

	healthy := NewClient("d1", RoleDisplay, 4)
	stuck := NewClient("d2", RoleDisplay, 1)
	ch.AttachDisplay(healthy)
	ch.AttachDisplay(stuck)

	// Fill the stuck display's queue; nothing drains it.
	if !stuck.TrySend([]byte{0x00}) {
		t.Fatalf("priming send failed")
	}

	sent := ch.BroadcastDisplays([]byte{0x01, 0x02})
	if sent != 1 {
		t.Fatalf("BroadcastDisplays sent = %d, want 1", sent)
	}

	select {
	case frame := <-healthy.Send:
		if len(frame) != 2 {
			t.Fatalf("healthy display got %d bytes, want 2", len(frame))
		}
	default:
		t.Fatalf("healthy display queue empty")
	}
}

func TestChannelBroadcastSkipsClosedDisplay(t *testing.T) {
	t.Parallel()

	ch := NewChannel(testLogger(), "room-1")

	d := NewClient("d1", RoleDisplay, 4)
	ch.AttachDisplay(d)
	d.Close()

	if sent := ch.BroadcastDisplays([]byte{0x01}); sent != 0 {
		t.Fatalf("BroadcastDisplays sent = %d, want 0", sent)
	}
}

func TestChannelDetachSourceResetsPlayback(t *testing.T) {
	t.Parallel()

	ch := NewChannel(testLogger(), "room-1")

	src := NewClient("s1", RoleSource, 8)
	if err := ch.AttachSource(src); err != nil {
		t.Fatalf("AttachSource: %v", err)
	}

	ch.Reducer().Apply(musicInfo(), testNow())
	if got := ch.Snapshot().MusicID; got != "m-1" {
		t.Fatalf("MusicID = %q before detach, want %q", got, "m-1")
	}

	ch.Detach("s1")

	if got := ch.Snapshot().MusicID; got != "" {
		t.Fatalf("MusicID = %q after source detach, want empty", got)
	}

	// The detached client is signaled.
	select {
	case <-src.Done():
	default:
		t.Fatalf("detached source not closed")
	}
}

func TestChannelDetachDisplayKeepsPlayback(t *testing.T) {
	t.Parallel()

	ch := NewChannel(testLogger(), "room-1")

	src := NewClient("s1", RoleSource, 8)
	if err := ch.AttachSource(src); err != nil {
		t.Fatalf("AttachSource: %v", err)
	}
	d := NewClient("d1", RoleDisplay, 8)
	ch.AttachDisplay(d)

	ch.Reducer().Apply(musicInfo(), testNow())
	ch.Detach("d1")

	if got := ch.Snapshot().MusicID; got != "m-1" {
		t.Fatalf("MusicID = %q after display detach, want %q", got, "m-1")
	}
	if n := ch.DisplayCount(); n != 0 {
		t.Fatalf("DisplayCount = %d, want 0", n)
	}
}

func TestChannelForwardToSource(t *testing.T) {
	t.Parallel()

	ch := NewChannel(testLogger(), "room-1")

	if ch.ForwardToSource([]byte{0x0c, 0x00}) {
		t.Fatalf("ForwardToSource succeeded with no source")
	}

	src := NewClient("s1", RoleSource, 2)
	if err := ch.AttachSource(src); err != nil {
		t.Fatalf("AttachSource: %v", err)
	}

	if !ch.ForwardToSource([]byte{0x0c, 0x00}) {
		t.Fatalf("ForwardToSource failed with attached source")
	}
	select {
	case frame := <-src.Send:
		if len(frame) != 2 {
			t.Fatalf("source got %d bytes, want 2", len(frame))
		}
	default:
		t.Fatalf("source queue empty")
	}
}

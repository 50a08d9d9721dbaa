// Package main provides a CI-friendly WebSocket smoke test for Lyra sync.
//
// It validates:
//   - handshake + subprotocol selection for source and display roles
//   - Ping -> Pong heartbeat reply
//   - source SetMusicInfo fanout to the display
//   - progress event fanout
//   - display Pause command forwarded back to the source
//   - second source rejected while the slot is held
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	v1 "lyra/shared/protocol/v1"

	"github.com/coder/websocket"
)

const (
	defaultSubprotocol = "lyra.sync.v1"
	maxReadBytes       = 4 << 20 // matches the gateway read limit
)

type smokeClient struct {
	name string
	conn *websocket.Conn

	inbox chan v1.Body
	errCh chan error
}

func main() {
	var (
		baseURL = flag.String("url", "ws://127.0.0.1:8080/ws", "WebSocket URL (role/channel are appended)")
		origin  = flag.String("origin", "http://localhost", "Origin header to send (browser-like WS handshake)")
		channel = flag.String("channel", "dev-room-1", "Sync channel to join")
		timeout = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateWSURL(*baseURL); err != nil {
		fatalf("invalid -url: %v", err)
	}
	if err := validateOrigin(*origin); err != nil {
		fatalf("invalid -origin: %v", err)
	}

	root := context.Background()

	src := mustConnect(root, "source", roleURL(*baseURL, *channel, "source"), *origin, *timeout)
	defer closeWS(src.conn)

	disp := mustConnect(root, "display", roleURL(*baseURL, *channel, "display"), *origin, *timeout)
	defer closeWS(disp.conn)

	if *verbose {
		fmt.Printf("connected: channel=%q origin=%q\n", *channel, *origin)
	}

	// Heartbeat: the server answers Ping with Pong on any role.
	mustWrite(root, src, v1.Ping{}, *timeout)
	mustReadTag(root, src, v1.TagPong, *timeout)

	// Track announcement reaches the display as the original frame.
	info := v1.SetMusicInfo{
		MusicID:    fmt.Sprintf("smoke-%d", time.Now().UnixNano()),
		MusicName:  "Smoke Test Song",
		AlbumID:    "smoke-album",
		AlbumName:  "Smoke Album",
		Artists:    []v1.Artist{{ID: "smoke-artist", Name: "Smokey"}},
		DurationMs: 180_000,
	}
	mustWrite(root, src, info, *timeout)

	got := mustReadTag(root, disp, v1.TagSetMusicInfo, *timeout)
	gotInfo, ok := got.(v1.SetMusicInfo)
	if !ok || gotInfo.MusicID != info.MusicID || gotInfo.MusicName != info.MusicName {
		fatalf("display got wrong music info: %+v", got)
	}

	// Lyrics and progress events flow the same path.
	mustWrite(root, src, v1.SetLyric{
		Lines: []v1.LyricLine{{
			StartTimeMs: 0,
			EndTimeMs:   4000,
			Words: []v1.LyricWord{
				{StartTimeMs: 0, EndTimeMs: 2000, Word: "smoke"},
				{StartTimeMs: 2000, EndTimeMs: 4000, Word: "test"},
			},
		}},
	}, *timeout)
	lyr := mustReadTag(root, disp, v1.TagSetLyric, *timeout)
	if l, ok := lyr.(v1.SetLyric); !ok || len(l.Lines) != 1 || len(l.Lines[0].Words) != 2 {
		fatalf("display got wrong lyric: %+v", lyr)
	}

	mustWrite(root, src, v1.OnPlayProgress{ProgressMs: 1500}, *timeout)
	prog := mustReadTag(root, disp, v1.TagOnPlayProgress, *timeout)
	if p, ok := prog.(v1.OnPlayProgress); !ok || p.ProgressMs != 1500 {
		fatalf("display got wrong progress: %+v", prog)
	}

	// Display commands are forwarded to the source.
	mustWrite(root, disp, v1.Pause{}, *timeout)
	mustReadTag(root, src, v1.TagPause, *timeout)

	// The source slot is exclusive while held.
	mustRejectSecondSource(root, roleURL(*baseURL, *channel, "source"), *origin, *timeout)

	fmt.Printf("OK: channel=%s music_id=%s\n", *channel, info.MusicID)
}

func roleURL(base, channel, role string) string {
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + "channel=" + url.QueryEscape(channel) + "&role=" + role
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	if strings.TrimSpace(u.Path) == "" {
		return errors.New("missing path")
	}
	return nil
}

func validateOrigin(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("origin must be http/https, got: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("origin missing host")
	}
	return nil
}

func mustConnect(parent context.Context, name, wsURL, origin string, stepTimeout time.Duration) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{defaultSubprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	if err != nil {
		fatalf("connect %s: %v", name, err)
	}

	assertSubprotocol(resp, defaultSubprotocol)

	conn.SetReadLimit(maxReadBytes)

	c := &smokeClient{
		name:  name,
		conn:  conn,
		inbox: make(chan v1.Body, 512),
		errCh: make(chan error, 1),
	}
	c.startReadLoop()
	return c
}

func mustRejectSecondSource(parent context.Context, wsURL, origin string, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	h := http.Header{}
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{defaultSubprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		// Some proxies surface the close as a dial error. Good enough.
		return
	}
	defer closeWS(conn)

	// The gateway accepts the upgrade and then closes with a policy
	// violation; the rejection shows up on the first read.
	_, _, err = conn.Read(ctx)
	if err == nil {
		fatalf("second source was not rejected")
	}
	if status := websocket.CloseStatus(err); status != websocket.StatusPolicyViolation {
		fatalf("second source close status=%v want=%v (err=%v)", status, websocket.StatusPolicyViolation, err)
	}
}

func assertSubprotocol(resp *http.Response, want string) {
	if resp == nil {
		return
	}
	got := strings.TrimSpace(resp.Header.Get("Sec-WebSocket-Protocol"))
	if got == "" {
		return
	}
	if got != want {
		fatalf("subprotocol mismatch: got=%q want=%q", got, want)
	}
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)

		for {
			mt, data, err := c.conn.Read(context.Background())
			if err != nil {
				select {
				case c.errCh <- err:
				default:
				}
				return
			}

			if mt != websocket.MessageBinary {
				select {
				case c.errCh <- fmt.Errorf("unexpected message type: %v", mt):
				default:
				}
				return
			}

			body, err := v1.Decode(data)
			if err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad frame: %w", err):
				default:
				}
				return
			}

			select {
			case c.inbox <- body:
			default:
				select {
				case c.errCh <- errors.New("inbox overflow: consumer too slow"):
				default:
				}
				return
			}
		}
	}()
}

func mustWrite(parent context.Context, c *smokeClient, body v1.Body, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	frame, err := v1.Encode(body)
	if err != nil {
		fatalf("encode %s: %v", v1.TagName(body.Tag()), err)
	}
	if err := c.conn.Write(ctx, websocket.MessageBinary, frame); err != nil {
		fatalf("write %s (%s): %v", v1.TagName(body.Tag()), c.name, err)
	}
}

func mustReadTag(parent context.Context, c *smokeClient, wantTag uint16, stepTimeout time.Duration) v1.Body {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for %q (%s): %v", v1.TagName(wantTag), c.name, ctx.Err())
		case err := <-c.errCh:
			if err == nil {
				fatalf("connection closed while waiting for %q (%s)", v1.TagName(wantTag), c.name)
			}
			fatalf("connection error while waiting for %q (%s): %v", v1.TagName(wantTag), c.name, err)
		case body, ok := <-c.inbox:
			if !ok {
				fatalf("connection closed while waiting for %q (%s)", v1.TagName(wantTag), c.name)
			}
			if body.Tag() == wantTag {
				return body
			}
			// Server-initiated Pings may interleave; answer and keep waiting.
			if body.Tag() == v1.TagPing {
				mustWrite(parent, c, v1.Pong{}, stepTimeout)
				continue
			}
			fatalf("unexpected frame (%s): got=%q want=%q", c.name, v1.TagName(body.Tag()), v1.TagName(wantTag))
		}
	}
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}

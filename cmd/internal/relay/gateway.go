// Package relay contains Lyra's realtime WebSocket gateway, channel fanout
// and play-history persistence primitives.
package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"lyra/cmd/internal/session"
	v1 "lyra/shared/protocol/v1"

	"github.com/coder/websocket"
)

const (
	wsSubprotocolV1 = "lyra.sync.v1"

	wsDefaultSendQueueSize = 256
	wsMinSendQueueSize     = 32

	wsDefaultWriteTimeout = 5 * time.Second
	wsDefaultReadIdle     = 2 * time.Minute
	wsCloseGrace          = 1 * time.Second

	// Security defaults:
	// - Origin is required by default.
	// - Only localhost is allowed by default (secure-by-default for dev).
	wsDefaultOriginRequired = true
	wsDefaultAllowedOrigins = "http://localhost,http://127.0.0.1"
)

// WSGateway is the WebSocket entrypoint for Lyra sync channels.
//
// It enforces origin policy, subprotocol selection and rate limits, runs
// one protocol session per connection, fans source frames out to displays
// and forwards display commands back to the source.
type WSGateway struct {
	log     *slog.Logger
	hub     *Hub
	store   PlayHistory
	metrics Metrics

	devInsecure    bool
	originRequired bool
	allowedOrigins []string

	// Derived for websocket.Accept origin checks.
	// Accept() authorizes same-host origins by default, but for cross-origin it requires OriginPatterns.
	originPatterns []string

	writeTimeout    time.Duration
	readIdleTimeout time.Duration
	sendQueueSize   int

	heartbeatEvery time.Duration

	rateEvents int
	rateWindow time.Duration
}

// NewWSGateway constructs a gateway with secure defaults.
// When hub/store/metrics are nil, dev-safe fallbacks are used.
func NewWSGateway(log *slog.Logger, hub *Hub, store PlayHistory, metrics Metrics) *WSGateway {
	if log == nil {
		log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	if hub == nil {
		hub = NewHub(log)
	}
	if store == nil {
		store = NewInMemoryStore()
	}
	if metrics == nil {
		metrics = NopMetrics{}
	}

	g := &WSGateway{log: log, hub: hub, store: store, metrics: metrics}

	// NOTE: InsecureSkipVerify is a dev-only knob (TLS verification). It is not an origin policy.
	g.devInsecure = envBoolWS("LYRA_WS_DEV_INSECURE", false)

	g.originRequired = envBoolWS("LYRA_WS_ORIGIN_REQUIRED", wsDefaultOriginRequired)
	g.allowedOrigins = envCSVWS("LYRA_WS_ALLOWED_ORIGINS", wsDefaultAllowedOrigins)

	// websocket.Accept enforces its own origin policy:
	// - same-host is ok
	// - cross-origin requires OriginPatterns (host patterns)
	// We derive these patterns from allowed origins so the two layers agree.
	g.originPatterns = deriveOriginPatternsFromAllowedOrigins(g.allowedOrigins)

	g.writeTimeout = envDurationWS("LYRA_WS_WRITE_TIMEOUT", wsDefaultWriteTimeout)
	g.readIdleTimeout = envDurationWS("LYRA_WS_READ_IDLE_TIMEOUT", wsDefaultReadIdle)

	g.sendQueueSize = envIntWS("LYRA_WS_SEND_QUEUE", wsDefaultSendQueueSize)
	if g.sendQueueSize < wsMinSendQueueSize {
		g.sendQueueSize = wsMinSendQueueSize
	}

	g.heartbeatEvery = envDurationWS("LYRA_WS_HEARTBEAT_INTERVAL", heartbeatInterval)

	g.rateEvents = envIntWS("LYRA_WS_RATE_EVENTS", rateLimitEvents)
	g.rateWindow = envDurationWS("LYRA_WS_RATE_WINDOW", rateLimitWindow)

	return g
}

// Hub exposes the channel hub for HTTP state queries.
func (g *WSGateway) Hub() *Hub { return g.hub }

// Store exposes the play history for HTTP history queries.
func (g *WSGateway) Store() PlayHistory { return g.store }

// ServeHTTP adapter so it can be mounted as http.Handler.
func (g *WSGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// HandleWS upgrades an HTTP request to a WebSocket session and runs the
// sync loop until the peer leaves or its heartbeat expires.
func (g *WSGateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	channelID, role, err := parseConnParams(r)
	if err != nil {
		g.log.Info("ws.reject.params", "err", err, "remote", r.RemoteAddr)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols: []string{wsSubprotocolV1},

		// Authorize allowed origin hosts (e.g. localhost) for cross-origin requests.
		OriginPatterns: g.originPatterns,

		// Dev-only escape hatch.
		InsecureSkipVerify: g.devInsecure,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	if sp := conn.Subprotocol(); sp != wsSubprotocolV1 {
		g.log.Info("ws.reject.subprotocol", "got", sp, "want", wsSubprotocolV1)
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}

	conn.SetReadLimit(maxFrameBytes)

	now := time.Now().UTC()
	sessionID, err := NewSessionID(now)
	if err != nil {
		sessionID = NewRandomHex(10)
	}
	client := NewClient(sessionID, role, g.sendQueueSize)

	ch := g.hub.GetOrCreateChannel(channelID)
	if role == RoleSource {
		if err := ch.AttachSource(client); err != nil {
			g.log.Info("ws.reject.source_taken", "channel_id", channelID, "session_id", sessionID)
			_ = conn.Close(websocket.StatusPolicyViolation, "source taken")
			return
		}
	} else {
		ch.AttachDisplay(client)
	}
	g.metrics.ClientAttached(string(role))

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var closeOnce sync.Once

	// shutdown is idempotent. It does NOT close client.Send.
	// Fanout safety: client.Send remains open, and Detach removes the
	// client from the channel before signaling its Close.
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			ch.Detach(sessionID)
			g.metrics.ClientDetached(string(role))
			_ = conn.Close(code, reason)
			cancel()
		})
	}

	rl := NewRateLimiter(g.rateEvents, g.rateWindow)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)

		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case frame := <-client.Send:
				if err := writeFrame(ctx, conn, frame, g.writeTimeout); err != nil {
					g.log.Info("ws.write.fail", "session_id", sessionID, "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	// Only the source session folds state into the channel's canonical
	// reducer. A display pushing state events is an unexpected direction
	// and the session logs it.
	reducer := ch.Reducer()
	if role != RoleSource {
		reducer = nil
	}

	sess := session.New(g.log, sessionID, g.heartbeatEvery, reducer, func(frame []byte) error {
		if !client.TrySend(frame) {
			return errors.New("send queue full")
		}
		return nil
	}, now)

	if role == RoleDisplay {
		// Transport commands from displays are re-encoded and handed to
		// the channel's source. At-most-once: a saturated source queue
		// drops the command.
		sess.OnCommand(func(body v1.Body) {
			frame, err := v1.Encode(body)
			if err != nil {
				return
			}
			if ch.ForwardToSource(frame) {
				g.metrics.FrameRelayed("to_source")
			}
		})
	}

	sess.OnLost(func() {
		// Fires on the heartbeat goroutine; shutdown must not wait for it.
		g.metrics.SessionLost()
		shutdown(websocket.StatusGoingAway, "heartbeat expired")
	})

	hb := session.StartHeartbeat(sess, g.heartbeatEvery/2)

readLoop:
	for {
		readCtx, readCancel := context.WithTimeout(ctx, g.readIdleTimeout)
		mt, data, err := conn.Read(readCtx)
		readCancel()

		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
			case readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "context done")
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
			default:
				g.log.Info("ws.read.fail", "session_id", sessionID, "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
			}
			break readLoop
		}

		if mt != websocket.MessageBinary {
			g.log.Debug("ws.read.nonbinary", "session_id", sessionID, "message_type", int(mt))
			continue readLoop
		}

		now := time.Now().UTC()
		if role == RoleDisplay && !rl.Allow(now) {
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			break readLoop
		}

		body, err := sess.HandleFrame(data, now)
		if err != nil {
			g.metrics.DecodeError(v1.ErrorKind(err))
			continue readLoop
		}
		if body == nil {
			continue readLoop
		}

		if role == RoleSource && !v1.IsHeartbeat(body.Tag()) {
			if ch.BroadcastDisplays(data) > 0 {
				g.metrics.FrameRelayed("to_displays")
			}
			if mi, ok := body.(v1.SetMusicInfo); ok {
				g.recordPlay(ctx, channelID, mi, now)
			}
		}
	}

	shutdown(websocket.StatusNormalClosure, "bye")
	sess.TransportClosed()
	<-writerDone

	hbDone := make(chan struct{})
	go func() {
		hb.Stop()
		close(hbDone)
	}()
	select {
	case <-hbDone:
	case <-time.After(wsCloseGrace):
	}
}

func (g *WSGateway) recordPlay(ctx context.Context, channelID string, mi v1.SetMusicInfo, now time.Time) {
	artists := make([]string, 0, len(mi.Artists))
	for _, a := range mi.Artists {
		artists = append(artists, a.Name)
	}

	_, err := g.store.RecordPlay(ctx, RecordPlayInput{
		ChannelID:  channelID,
		MusicID:    mi.MusicID,
		MusicName:  mi.MusicName,
		AlbumID:    mi.AlbumID,
		AlbumName:  mi.AlbumName,
		Artists:    artists,
		DurationMs: int64(mi.DurationMs),
		Now:        now,
	})
	if err != nil {
		// History is best-effort; sync must not stall on a store hiccup.
		g.log.Warn("ws.play.record_fail", "channel_id", channelID, "music_id", mi.MusicID, "err", err)
	}
}

// ---- connection params ----

func parseConnParams(r *http.Request) (channelID string, role Role, err error) {
	q := r.URL.Query()

	channelID = strings.TrimSpace(q.Get("channel"))
	if channelID == "" {
		return "", "", errors.New("missing channel")
	}
	if len([]rune(channelID)) > maxChannelIDChars {
		return "", "", fmt.Errorf("channel too long: max=%d chars", maxChannelIDChars)
	}

	switch strings.TrimSpace(q.Get("role")) {
	case "", string(RoleDisplay):
		role = RoleDisplay
	case string(RoleSource):
		role = RoleSource
	default:
		return "", "", errors.New("invalid role")
	}

	return channelID, role, nil
}

// ---- frame IO ----

func writeFrame(parent context.Context, conn *websocket.Conn, frame []byte, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	return conn.Write(ctx, websocket.MessageBinary, frame)
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
)

func classifyReadErr(err error) readErrKind {
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}
	return readErrUnknown
}

// ---- origin policy ----

func (g *WSGateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if g.originRequired {
			return errors.New("missing origin")
		}
		return nil
	}

	if len(g.allowedOrigins) == 0 {
		return errors.New("origin not allowed (no allowlist)")
	}

	originHost := originHostOnly(origin)

	for _, a := range g.allowedOrigins {
		a = strings.TrimSpace(a)
		if a == "" {
			continue
		}
		if a == "*" {
			// Strongly discouraged, but honored if explicitly configured.
			return nil
		}

		// Full origin match (scheme + host + optional port).
		if origin == a {
			return nil
		}

		// Host match fallback (ignores port/scheme).
		if originHost != "" && originHost == originHostOnly(a) {
			return nil
		}
	}

	return fmt.Errorf("origin not allowed: %s", origin)
}

func originHostOnly(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}

	// URL form.
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		h := strings.TrimSpace(u.Host)
		if h == "" {
			return ""
		}
		if host, _, err := net.SplitHostPort(h); err == nil {
			return strings.ToLower(host)
		}
		return strings.ToLower(h)
	}

	// host[:port] form.
	if host, _, err := net.SplitHostPort(s); err == nil {
		return strings.ToLower(host)
	}
	return strings.ToLower(s)
}

func deriveOriginPatternsFromAllowedOrigins(allowed []string) []string {
	// websocket.Accept matches OriginPatterns against the origin host using filepath.Match patterns.
	// We keep this strict: only hosts extracted from allowlist are accepted.
	seen := make(map[string]struct{}, len(allowed))

	for _, a := range allowed {
		h := originHostOnly(a)
		if h == "" || h == "*" {
			continue
		}
		seen[h] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}

	// Stable in-file sort (avoid importing sort just for this).
	for i := 0; i < len(out); i++ {
		for j := i + 1; j < len(out); j++ {
			if out[j] < out[i] {
				out[i], out[j] = out[j], out[i]
			}
		}
	}

	return out
}

// ---- env helpers ----

func envBoolWS(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envIntWS(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDurationWS(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func envCSVWS(key string, def string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		raw = def
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		s := strings.TrimSpace(p)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

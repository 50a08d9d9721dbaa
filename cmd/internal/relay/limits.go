package relay

import "time"

// Transport limits.
const (
	// Max bytes per websocket frame read. Covers raw cover art and PCM
	// visualizer frames; anything larger is a protocol violation.
	maxFrameBytes = 4 << 20 // 4 MiB

	// Max channel id length (runes) accepted from the query string.
	maxChannelIDChars = 128
)

const (
	// Heartbeat defaults (overridable by env in gateway.go).
	// One silent interval sends a Ping, a second one ends the session.
	heartbeatInterval = 30 * time.Second

	// Per-connection rate limits for display clients (events per window).
	// Sources are exempt: progress and PCM frames are high-frequency by
	// design.
	rateLimitEvents = 60
	rateLimitWindow = 10 * time.Second
)

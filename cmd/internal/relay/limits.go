package relay

import "time"

// Frame and store bounds. A send-message whose content is MaxMessageChars of
// fully \u-escaped text is about 24 KiB; the rest is envelope headroom.
const (
	maxFrameBytes = 64 << 10

	// One store call made on behalf of a socket: identify lookups, channel
	// checks, message appends and presence writes.
	defaultStoreTimeout = 5 * time.Second
)

// Liveness. A client that stops answering pings for three heartbeats is
// treated as gone and its presence flips to offline.
const (
	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second
)

// Flood control per socket. Typing notices count, so the budget has to cover
// a fast typist in a few channels plus their messages.
const (
	rateLimitEvents = 120
	rateLimitWindow = 10 * time.Second
)

package relay

import (
	"time"

	v1 "teamchat/shared/contracts/chat/v1"
)

// DefaultTypingTTL is the expiry hint clients apply when no stop-typing arrives.
const DefaultTypingTTL = 3 * time.Second

// Typing relays advisory typing notices to a room, never back to the sender.
// Nothing is persisted and nothing is retried.
type Typing struct {
	rooms   *Rooms
	ttl     time.Duration
	metrics *Metrics
	now     func() time.Time
}

// NewTyping falls back to DefaultTypingTTL when ttl is not positive.
func NewTyping(rooms *Rooms, ttl time.Duration, metrics *Metrics, now func() time.Time) *Typing {
	if ttl <= 0 {
		ttl = DefaultTypingTTL
	}
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Typing{rooms: rooms, ttl: ttl, metrics: metrics, now: now}
}

// NotifyTyping sends user-typing to every other member of the channel.
func (t *Typing) NotifyTyping(channelID string, from *Conn, userID, displayName string) {
	env := newEnvelope(v1.TypeUserTyping, v1.TypingPayload{
		ChannelID:   channelID,
		UserID:      userID,
		DisplayName: displayName,
		ExpiresInMS: t.ttl.Milliseconds(),
	}, t.now())
	t.rooms.Broadcast(channelID, env, from)
	t.metrics.typing()
}

// NotifyStopTyping sends user-stop-typing to every other member of the channel.
func (t *Typing) NotifyStopTyping(channelID string, from *Conn, userID string) {
	env := newEnvelope(v1.TypeUserStopTyping, v1.StopTypingPayload{
		ChannelID: channelID,
		UserID:    userID,
	}, t.now())
	t.rooms.Broadcast(channelID, env, from)
	t.metrics.typing()
}

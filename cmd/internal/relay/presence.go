package relay

import (
	"sync"
	"time"

	v1 "teamchat/shared/contracts/chat/v1"
)

// Presence fans presence-changed events out to every subscribed connection.
// It is global, not room scoped. Per-user ordering is the caller's job
// (Registry serializes per user id).
type Presence struct {
	mu   sync.RWMutex
	subs map[string]*Conn

	now    func() time.Time
	onFull func(*Conn)
}

// NewPresence returns an empty subscriber set. onFull handles subscribers
// whose queue is full; nil closes them.
func NewPresence(now func() time.Time, onFull func(*Conn)) *Presence {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	if onFull == nil {
		onFull = func(c *Conn) { c.Close() }
	}
	return &Presence{subs: make(map[string]*Conn), now: now, onFull: onFull}
}

// Subscribe adds c to every future announcement. Closed connections are ignored.
func (p *Presence) Subscribe(c *Conn) {
	if c == nil || c.Closed() {
		return
	}
	p.mu.Lock()
	p.subs[c.ID] = c
	p.mu.Unlock()
}

// Unsubscribe removes c if it is still the subscriber under its id.
func (p *Presence) Unsubscribe(c *Conn) {
	if c == nil {
		return
	}
	p.mu.Lock()
	if cur, ok := p.subs[c.ID]; ok && cur == c {
		delete(p.subs, c.ID)
	}
	p.mu.Unlock()
}

// Announce sends presence-changed{user_id,is_online,last_seen} to all subscribers.
func (p *Presence) Announce(userID string, isOnline bool) {
	if p == nil {
		return
	}
	now := p.now()
	env := newEnvelope(v1.TypePresenceChanged, v1.PresenceChangedPayload{
		UserID:   userID,
		IsOnline: isOnline,
		LastSeen: &now,
	}, now)

	var full []*Conn

	p.mu.RLock()
	for _, c := range p.subs {
		if !c.Enqueue(env) && !c.Closed() {
			full = append(full, c)
		}
	}
	p.mu.RUnlock()

	for _, c := range full {
		p.onFull(c)
	}
}

func (p *Presence) subscribers() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.subs)
}

package relay

import (
	"sort"
	"sync"
	"time"
)

// Registry maps a user id to its single registered connection
// (last-connect-wins) and keeps the reverse index conn id -> user id.
//
// Every transition is announced through Presence and queued for the durable
// store through PresenceWriter while the per-user lock is held, so presence
// events for one user leave in call order.
type Registry struct {
	mu     sync.Mutex
	byUser map[string]*Conn
	byConn map[string]string

	userLocks keyedMutex

	presence *Presence
	writer   *PresenceWriter
	metrics  *Metrics
	now      func() time.Time
}

// NewRegistry announces transitions through presence and persists them through writer.
func NewRegistry(presence *Presence, writer *PresenceWriter, metrics *Metrics, now func() time.Time) *Registry {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Registry{
		byUser:   make(map[string]*Conn),
		byConn:   make(map[string]string),
		presence: presence,
		writer:   writer,
		metrics:  metrics,
		now:      now,
	}
}

// SetOnline registers c as userID's connection and returns the connection it
// superseded, if any. The superseded connection stays open.
func (r *Registry) SetOnline(userID string, c *Conn) (prev *Conn) {
	if userID == "" || c == nil {
		return nil
	}

	unlock := r.userLocks.Lock(userID)
	defer unlock()

	r.mu.Lock()
	prev = r.byUser[userID]
	if prev != nil && prev != c {
		delete(r.byConn, prev.ID)
	}
	if old, ok := r.byConn[c.ID]; ok && old != userID && r.byUser[old] == c {
		delete(r.byUser, old)
	}
	r.byUser[userID] = c
	r.byConn[c.ID] = userID
	online := len(r.byUser)
	r.mu.Unlock()

	r.metrics.setOnline(online)
	if prev == nil {
		r.presence.Announce(userID, true)
	}
	r.writer.Enqueue(userID, true, r.now())

	if prev == c {
		return nil
	}
	return prev
}

// Clear unregisters c. It reports the user id only when c was the registered
// connection; clearing a superseded or unknown connection does nothing.
func (r *Registry) Clear(c *Conn) (userID string, ok bool) {
	if c == nil {
		return "", false
	}

	r.mu.Lock()
	userID, ok = r.byConn[c.ID]
	r.mu.Unlock()
	if !ok {
		return "", false
	}

	unlock := r.userLocks.Lock(userID)
	defer unlock()

	r.mu.Lock()
	if r.byConn[c.ID] != userID || r.byUser[userID] != c {
		r.mu.Unlock()
		return "", false
	}
	delete(r.byConn, c.ID)
	delete(r.byUser, userID)
	online := len(r.byUser)
	r.mu.Unlock()

	r.metrics.setOnline(online)
	r.presence.Announce(userID, false)
	r.writer.Enqueue(userID, false, r.now())
	return userID, true
}

// Lookup returns the registered connection for userID.
func (r *Registry) Lookup(userID string) (*Conn, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byUser[userID]
	return c, ok
}

// ListOnlineUserIDs returns the registered user ids, sorted.
func (r *Registry) ListOnlineUserIDs() []string {
	r.mu.Lock()
	out := make([]string, 0, len(r.byUser))
	for id := range r.byUser {
		out = append(out, id)
	}
	r.mu.Unlock()

	sort.Strings(out)
	return out
}

package relay

import (
	"sort"
	"sync"

	v1 "teamchat/shared/contracts/chat/v1"
)

// Rooms is the in-memory channel membership: channel id -> connection id -> conn.
// Membership is never persisted and empty rooms are dropped.
type Rooms struct {
	mu    sync.RWMutex
	rooms map[string]map[string]*Conn

	onFull func(*Conn)
}

// NewRooms constructs Rooms. onFull is called, outside the lock, for every
// member whose queue was full during a broadcast; nil closes the connection.
func NewRooms(onFull func(*Conn)) *Rooms {
	if onFull == nil {
		onFull = func(c *Conn) { c.Close() }
	}
	return &Rooms{rooms: make(map[string]map[string]*Conn), onFull: onFull}
}

// Join is idempotent and reports whether c is a member afterwards. Closed
// connections are not admitted; the check runs under the lock so a concurrent
// evict, which closes before LeaveAll, cannot leave a closed member behind.
func (r *Rooms) Join(channelID string, c *Conn) bool {
	if channelID == "" || c == nil {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if c.Closed() {
		return false
	}
	room, ok := r.rooms[channelID]
	if !ok {
		room = make(map[string]*Conn)
		r.rooms[channelID] = room
	}
	room[c.ID] = c
	return true
}

// Leave is a no-op when c is not a member.
func (r *Rooms) Leave(channelID string, c *Conn) {
	if c == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(channelID, c)
}

// LeaveAll removes c from every room. Calling it twice is the same as once.
func (r *Rooms) LeaveAll(c *Conn) {
	if c == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for id := range r.rooms {
		r.leaveLocked(id, c)
	}
}

func (r *Rooms) leaveLocked(channelID string, c *Conn) {
	room, ok := r.rooms[channelID]
	if !ok {
		return
	}
	if cur, ok := room[c.ID]; ok && cur == c {
		delete(room, c.ID)
	}
	if len(room) == 0 {
		delete(r.rooms, channelID)
	}
}

// Members returns the connections currently in channelID, ordered by id.
func (r *Rooms) Members(channelID string) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room := r.rooms[channelID]
	out := make([]*Conn, 0, len(room))
	for _, c := range room {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// IsMember reports whether c is in channelID.
func (r *Rooms) IsMember(channelID string, c *Conn) bool {
	if c == nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rooms[channelID][c.ID] == c
}

// Broadcast enqueues env to every member of channelID except exclude and
// returns how many connections accepted it. It never blocks: members whose
// queue is full are handed to onFull instead of being skipped, so no
// surviving member ever observes a gap.
func (r *Rooms) Broadcast(channelID string, env v1.Envelope, exclude *Conn) int {
	var (
		delivered int
		full      []*Conn
	)

	r.mu.RLock()
	for _, c := range r.rooms[channelID] {
		if c == exclude {
			continue
		}
		if c.Enqueue(env) {
			delivered++
			continue
		}
		if !c.Closed() {
			full = append(full, c)
		}
	}
	r.mu.RUnlock()

	for _, c := range full {
		r.onFull(c)
	}
	return delivered
}

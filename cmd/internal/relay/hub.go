package relay

import (
	"context"
	"log/slog"
	"time"

	"teamchat/cmd/records"
)

// HubConfig wires the relay components to their collaborators.
type HubConfig struct {
	Store      records.Store
	Identifier Identifier
	Log        *slog.Logger
	Metrics    *Metrics

	StoreTimeout time.Duration
	TypingTTL    time.Duration
	Now          func() time.Time
}

// Hub owns the process-wide relay state. It is the single injection point
// for the registry, rooms, presence and typing; sessions reach shared state
// only through it.
type Hub struct {
	Registry *Registry
	Rooms    *Rooms
	Presence *Presence
	Writer   *PresenceWriter
	Relay    *Relay
	Typing   *Typing

	store        records.Store
	ident        Identifier
	log          *slog.Logger
	metrics      *Metrics
	storeTimeout time.Duration
	now          func() time.Time
}

func NewHub(cfg HubConfig) *Hub {
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = defaultStoreTimeout
	}
	if cfg.Identifier == nil {
		cfg.Identifier = TokenIdentifier{Users: cfg.Store, Now: cfg.Now}
	}

	h := &Hub{
		store:        cfg.Store,
		ident:        cfg.Identifier,
		log:          cfg.Log,
		metrics:      cfg.Metrics,
		storeTimeout: cfg.StoreTimeout,
		now:          cfg.Now,
	}
	h.Rooms = NewRooms(h.evict)
	h.Presence = NewPresence(cfg.Now, h.evict)
	h.Writer = NewPresenceWriter(cfg.Store, cfg.Log, cfg.Metrics, cfg.StoreTimeout)
	h.Registry = NewRegistry(h.Presence, h.Writer, cfg.Metrics, cfg.Now)
	h.Relay = NewRelay(cfg.Store, h.Rooms, cfg.Log, cfg.Metrics, cfg.StoreTimeout, cfg.Now)
	h.Typing = NewTyping(h.Rooms, cfg.TypingTTL, cfg.Metrics, cfg.Now)
	return h
}

// Run drives the background presence writer until ctx is done.
func (h *Hub) Run(ctx context.Context) error {
	return h.Writer.Run(ctx)
}

// MarkAllOffline queues an offline write for every registered user. It is
// meant for shutdown, before Run's context is cancelled, and broadcasts nothing.
func (h *Hub) MarkAllOffline() int {
	ids := h.Registry.ListOnlineUserIDs()
	now := h.now()
	for _, id := range ids {
		h.Writer.Enqueue(id, false, now)
	}
	return len(ids)
}

// Open subscribes c to presence and returns its session in the Unidentified state.
func (h *Hub) Open(c *Conn) *Session {
	h.Presence.Subscribe(c)
	h.metrics.connOpened()
	return &Session{
		hub:    h,
		conn:   c,
		log:    h.log.With("conn_id", c.ID),
		joined: make(map[string]struct{}),
	}
}

// evict closes a slow consumer and drops it from shared state right away;
// the owning session finishes cleanup when its transport notices.
func (h *Hub) evict(c *Conn) {
	if c.Closed() {
		return
	}
	c.Close()
	h.Rooms.LeaveAll(c)
	h.Presence.Unsubscribe(c)
	h.metrics.evicted()
	h.log.Warn("relay.evict", "conn_id", c.ID, "user_id", c.UserID())
}

func (h *Hub) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, h.storeTimeout)
}

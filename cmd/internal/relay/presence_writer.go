package relay

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// PresenceStore is the slice of records.Store the writer needs.
type PresenceStore interface {
	UpdatePresence(ctx context.Context, userID string, isOnline bool, lastSeen time.Time) error
}

type presenceUpdate struct {
	online   bool
	lastSeen time.Time
}

// PresenceWriter persists presence transitions off the hot path. Updates are
// coalesced per user (latest wins) and written by a single worker in the
// order users were first queued. Failures are logged and counted, never
// reported back to the registry.
type PresenceWriter struct {
	store   PresenceStore
	log     *slog.Logger
	metrics *Metrics
	timeout time.Duration

	mu      sync.Mutex
	pending map[string]presenceUpdate
	order   []string

	wake chan struct{}
}

func NewPresenceWriter(store PresenceStore, log *slog.Logger, metrics *Metrics, timeout time.Duration) *PresenceWriter {
	if log == nil {
		log = slog.Default()
	}
	if timeout <= 0 {
		timeout = defaultStoreTimeout
	}
	return &PresenceWriter{
		store:   store,
		log:     log,
		metrics: metrics,
		timeout: timeout,
		pending: make(map[string]presenceUpdate),
		wake:    make(chan struct{}, 1),
	}
}

// Enqueue records the latest presence state for userID. It never blocks.
func (w *PresenceWriter) Enqueue(userID string, online bool, lastSeen time.Time) {
	if w == nil || w.store == nil || userID == "" {
		return
	}

	w.mu.Lock()
	if _, queued := w.pending[userID]; !queued {
		w.order = append(w.order, userID)
	}
	w.pending[userID] = presenceUpdate{online: online, lastSeen: lastSeen}
	w.mu.Unlock()

	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Run drains queued updates until ctx is done, then flushes what is left.
func (w *PresenceWriter) Run(ctx context.Context) error {
	if w == nil || w.store == nil {
		<-ctx.Done()
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			w.flush(context.WithoutCancel(ctx))
			return nil
		case <-w.wake:
			w.flush(ctx)
		}
	}
}

func (w *PresenceWriter) flush(ctx context.Context) {
	for {
		w.mu.Lock()
		order, pending := w.order, w.pending
		w.order = nil
		w.pending = make(map[string]presenceUpdate)
		w.mu.Unlock()

		if len(order) == 0 {
			return
		}
		for _, userID := range order {
			w.write(ctx, userID, pending[userID])
		}
	}
}

func (w *PresenceWriter) write(parent context.Context, userID string, u presenceUpdate) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), w.timeout)
	defer cancel()

	if err := w.store.UpdatePresence(ctx, userID, u.online, u.lastSeen); err != nil {
		w.metrics.presenceWriteFailed()
		w.log.Warn("presence.write.fail", "user_id", userID, "is_online", u.online, "err", err)
	}
}

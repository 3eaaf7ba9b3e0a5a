package app

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// readiness is satisfied by the opened store.
type readiness interface {
	Ready(ctx context.Context) error
}

type routes struct {
	ws      http.Handler
	api     interface{ Register(*http.ServeMux) }
	ready   readiness
	dbKind  string
	metrics *prometheus.Registry
}

func registerHTTP(mux *http.ServeMux, log Logger, cfg Config, rt routes) {
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if cfg.ReadinessRequireDB && rt.dbKind == "memory" {
			http.Error(w, "db not configured", http.StatusServiceUnavailable)
			return
		}
		if rt.ready != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := rt.ready.Ready(ctx); err != nil {
				http.Error(w, "db not ready", http.StatusServiceUnavailable)
				log.Info("readyz.db.not_ready", "kind", rt.dbKind, "err", err)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	})

	if rt.metrics != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(rt.metrics, promhttp.HandlerOpts{Registry: rt.metrics}))
	}

	if rt.api != nil {
		rt.api.Register(mux)
	}

	if rt.ws != nil {
		mux.Handle("/ws", rt.ws)
	}
}

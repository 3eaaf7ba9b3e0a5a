// Package app wires the teamchat server runtime: config, logging, storage,
// the realtime relay, the REST API and operational endpoints.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"teamchat/cmd/internal/chatapi"
	"teamchat/cmd/internal/relay"
	"teamchat/cmd/security/password"
	"teamchat/cmd/security/token"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"
)

// App owns the HTTP server wiring, the relay hub and the store lifecycle.
type App struct {
	cfg Config
	log Logger

	store   storeHandle
	hub     *relay.Hub
	gateway *relay.WSGateway
	handler http.Handler
}

// New constructs a fully wired App instance from config and logger.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}
	if err := ValidateSecurityConfig(cfg); err != nil {
		return nil, err
	}

	pw, err := password.FromEnv()
	if err != nil {
		return nil, err
	}
	secret, err := signingSecret(cfg, log)
	if err != nil {
		return nil, err
	}
	tokens, err := token.NewManager(secret, cfg.JWTIssuer, cfg.JWTTTL)
	if err != nil {
		return nil, err
	}

	st, err := openStore(context.Background(), cfg, log)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	hub := relay.NewHub(relay.HubConfig{
		Store: st,
		Identifier: relay.TokenIdentifier{
			Users:       st,
			Tokens:      tokens,
			RequireAuth: cfg.RequireAuth,
		},
		Log:          log,
		Metrics:      relay.NewMetrics(reg),
		StoreTimeout: cfg.StoreTimeout,
		TypingTTL:    cfg.TypingTTL,
	})

	api, err := chatapi.NewHandler(log, st, pw, tokens, hub.Registry, chatapi.Config{
		RequireAuth:  cfg.RequireAuth,
		MaxBodyBytes: int64(cfg.APIMaxBodyBytes),
	})
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	gateway := relay.NewWSGateway(log, hub, cfg.WS)
	rt := routes{
		ws:     gateway,
		api:    api,
		ready:  st,
		dbKind: st.kind,
	}
	if cfg.MetricsEnabled {
		rt.metrics = reg
	}

	mux := http.NewServeMux()
	registerHTTP(mux, log, cfg, rt)

	var httpM *httpMetrics
	if cfg.MetricsEnabled {
		httpM = newHTTPMetrics(reg)
	}
	handler := WithRequestLogging(WithSecurityHeaders(WithCORS(mux, cfg, log)), log, httpM)

	return &App{
		cfg:     cfg,
		log:     log,
		store:   st,
		hub:     hub,
		gateway: gateway,
		handler: handler,
	}, nil
}

// Handler exposes the fully wrapped HTTP handler.
func (a *App) Handler() http.Handler { return a.handler }

// Run listens on the configured address and serves until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.HTTPAddr)
	if err != nil {
		a.log.Error("server.listen.fail", "addr", a.cfg.HTTPAddr, "err", err)
		_ = a.store.Close()
		return fmt.Errorf("listen: %w", err)
	}
	return a.Serve(ctx, ln)
}

// Serve serves HTTP on ln and drives the hub until ctx is cancelled or the
// server fails. On the way out it stops accepting requests, closes every
// websocket session, records any user still registered as offline, flushes
// pending presence writes and closes the store.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.handler,
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	base := runtimeBaseURL(ln.Addr().String())
	a.log.Info("server.start",
		"addr", ln.Addr().String(),
		"http_url", base,
		"ws_url", wsBaseURL(base)+"/ws",
		"store", a.store.kind,
		"require_auth", a.cfg.RequireAuth,
	)

	// The hub outlives the request context so it can flush after HTTP shutdown.
	hubCtx, stopHub := context.WithCancel(context.WithoutCancel(ctx))
	defer stopHub()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.hub.Run(hubCtx)
	})

	g.Go(func() error {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("server.fail", "err", err)
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		a.log.Info("server.stop", "reason", context.Cause(gctx))

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), nonZeroDuration(a.cfg.ShutdownTimeout, 10*time.Second))
		defer cancel()

		err := srv.Shutdown(shutdownCtx)
		if err != nil {
			a.log.Error("server.shutdown.fail", "err", err)
		}
		// Upgraded connections are hijacked, so srv.Shutdown leaves them running.
		if werr := a.gateway.Shutdown(shutdownCtx); werr != nil {
			a.log.Error("ws.shutdown.fail", "err", werr)
			err = errors.Join(err, werr)
		}
		if n := a.hub.MarkAllOffline(); n > 0 {
			a.log.Info("presence.shutdown.offline", "users", n)
		}
		stopHub()
		return err
	})

	err := g.Wait()

	if cerr := a.store.Close(); cerr != nil {
		a.log.Error("store.close.fail", "err", cerr)
	}
	a.log.Info("server.stopped")
	return err
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// runtimeBaseURL turns a listen address into a URL a local client can dial.
func runtimeBaseURL(addr string) string {
	host, port, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err != nil {
		return "http://" + addr
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

func wsBaseURL(httpBase string) string {
	switch {
	case strings.HasPrefix(httpBase, "https://"):
		return "wss://" + strings.TrimPrefix(httpBase, "https://")
	case strings.HasPrefix(httpBase, "http://"):
		return "ws://" + strings.TrimPrefix(httpBase, "http://")
	default:
		return "ws://" + httpBase
	}
}

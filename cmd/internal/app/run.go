package app

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
)

// Run reads CHAT_* configuration and serves until SIGINT or SIGTERM.
// The first signal starts a graceful drain; once it arrives the handlers are
// released, so a second signal kills the process the usual way.
func Run() error {
	cfg := LoadConfig()
	log := NewLogger(cfg.LogLevel, cfg.LogFormat)
	log.Info("config.loaded",
		"store", cfg.storeKind(),
		"require_auth", cfg.RequireAuth,
		"metrics", cfg.MetricsEnabled,
		"ws_origin_required", cfg.WS.OriginRequired,
	)

	a, err := New(cfg, log)
	if err != nil {
		log.Error("server.init.fail", "err", err)
		return fmt.Errorf("teamchat: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	context.AfterFunc(ctx, stop)

	return a.Run(ctx)
}

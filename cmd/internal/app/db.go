package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	postgresAppName      = "teamchat"
	postgresReadyTimeout = 2 * time.Second
)

// postgresPoolConfig turns CHAT_DATABASE_URL and the CHAT_DB_* knobs into a
// pool config. It never dials.
func postgresPoolConfig(cfg Config) (*pgxpool.Config, error) {
	pcfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if cfg.DBMaxConns > 0 {
		pcfg.MaxConns = cfg.DBMaxConns
	}
	if cfg.DBMinConns >= 0 && cfg.DBMinConns <= pcfg.MaxConns {
		pcfg.MinConns = cfg.DBMinConns
	}
	// Shows up in pg_stat_activity next to the relay's advisory locks.
	pcfg.ConnConfig.RuntimeParams["application_name"] = postgresAppName
	return pcfg, nil
}

// openPostgresPool builds the pool and refuses to return until one
// connection has been handed out within CHAT_DB_CONNECT_TIMEOUT.
func openPostgresPool(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	pcfg, err := postgresPoolConfig(cfg)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, err
	}
	if err := pingPostgres(ctx, pool, nonZeroDuration(cfg.DBConnectTimeout, 3*time.Second)); err != nil {
		pool.Close()
		return nil, fmt.Errorf("first connection: %w", err)
	}
	return pool, nil
}

// pingPostgres backs /readyz for the postgres store.
func pingPostgres(parent context.Context, pool *pgxpool.Pool, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()
	return pool.Ping(ctx)
}

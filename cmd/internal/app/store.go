package app

import (
	"context"
	"fmt"

	"teamchat/cmd/records"

	"github.com/jackc/pgx/v5/pgxpool"
)

// storeHandle owns the selected records.Store and whatever backs it.
type storeHandle struct {
	records.Store

	kind string
	pool *pgxpool.Pool
	ping func(ctx context.Context) error
}

func (s storeHandle) Close() error {
	err := s.Store.Close()
	if s.pool != nil {
		s.pool.Close()
	}
	return err
}

// Ready reports whether the backing database answers. The in-memory store is always ready.
func (s storeHandle) Ready(ctx context.Context) error {
	if s.ping == nil {
		return nil
	}
	return s.ping(ctx)
}

// openStore picks Postgres, SQLite or memory from cfg and applies migrations when enabled.
func openStore(ctx context.Context, cfg Config, log Logger) (storeHandle, error) {
	switch cfg.storeKind() {
	case "postgres":
		pool, err := openPostgresPool(ctx, cfg)
		if err != nil {
			return storeHandle{}, fmt.Errorf("postgres: %w", err)
		}
		st, err := records.NewPostgresStore(pool, records.WithSchema(cfg.DBSchema))
		if err != nil {
			pool.Close()
			return storeHandle{}, err
		}
		if cfg.DBAutoMigrate {
			if err := st.Migrate(ctx); err != nil {
				pool.Close()
				return storeHandle{}, err
			}
		}
		log.Info("store.open", "kind", "postgres", "schema", cfg.DBSchema, "migrated", cfg.DBAutoMigrate)
		return storeHandle{
			Store: st,
			kind:  "postgres",
			pool:  pool,
			ping:  func(ctx context.Context) error { return pingPostgres(ctx, pool, postgresReadyTimeout) },
		}, nil

	case "sqlite":
		st, err := records.NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return storeHandle{}, fmt.Errorf("sqlite: %w", err)
		}
		if err := st.Migrate(ctx); err != nil {
			_ = st.Close()
			return storeHandle{}, err
		}
		log.Info("store.open", "kind", "sqlite", "path", cfg.SQLitePath)
		return storeHandle{Store: st, kind: "sqlite", ping: st.Ping}, nil

	default:
		log.Warn("store.open", "kind", "memory", "note", "data is lost on restart")
		return storeHandle{Store: records.NewMemoryStore(), kind: "memory"}, nil
	}
}

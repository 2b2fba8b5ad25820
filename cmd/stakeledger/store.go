package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"stakeledger/internal/config"
	"stakeledger/internal/storage"
	"stakeledger/internal/storage/leveldb"
	"stakeledger/internal/storage/postgres"
)

// backend bundles the opened store with the optional capabilities it
// provides.
type backend struct {
	store storage.Store
	state storage.StateStore
	// journal is set when the store keeps the event journal itself.
	journal storage.EventSink
	close   func()
}

func openBackend(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (*backend, error) {
	switch cfg.Backend {
	case config.StoreMemory:
		mem := storage.NewMemoryStore()
		return &backend{store: mem, state: mem, close: func() {}}, nil
	case config.StoreLevelDB:
		db, err := leveldb.Open(cfg.LevelDBPath)
		if err != nil {
			return nil, err
		}
		return &backend{store: db, state: db, close: func() {
			if err := db.Close(); err != nil {
				logger.Warn("close leveldb", zap.Error(err))
			}
		}}, nil
	case config.StorePostgres:
		pg, err := postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			pg.Close()
			return nil, err
		}
		return &backend{store: pg, state: pg, journal: pg, close: pg.Close}, nil
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Backend)
	}
}

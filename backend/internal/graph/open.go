package graph

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"discord-simulator/backend/pkg/config"
)

// Open connects the backend selected by cfg.StoreBackend
func Open(ctx context.Context, cfg *config.Config, log *zap.Logger) (Backend, error) {
	opts := Options{Timeout: cfg.StorageTimeout, Logger: log}

	var (
		backend Backend
		err     error
	)
	switch cfg.StoreBackend {
	case config.BackendNeo4j:
		var s *Neo4jStore
		if s, err = ConnectNeo4j(ctx, cfg.Neo4jURI, cfg.Neo4jUser, cfg.Neo4jPassword, opts); err == nil {
			backend = s
		}
	case config.BackendSQLite:
		var s *SQLiteStore
		if s, err = OpenSQLite(ctx, cfg.SQLitePath, opts); err == nil {
			backend = s
		}
	case config.BackendBadger:
		var s *BadgerStore
		if s, err = OpenBadger(BadgerConfig{Path: cfg.BadgerPath, SyncWrites: cfg.IsProduction()}, opts); err == nil {
			backend = s
		}
	case config.BackendMemory:
		backend = NewMemoryStore()
	default:
		err = fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
	if err != nil {
		return nil, err
	}
	return backend, nil
}

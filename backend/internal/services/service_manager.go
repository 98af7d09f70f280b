package services

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"discord-simulator/backend/internal/graph"
	"discord-simulator/backend/internal/lock"
	"discord-simulator/backend/internal/metrics"
	"discord-simulator/backend/internal/simulator"
	"discord-simulator/backend/pkg/config"
)

// lockPrefix namespaces the simulator's keys in a shared redis
const lockPrefix = "simulator:"

// ServiceManager owns the storage, locking and metrics shared by every
// process and the simulator service built on them.
type ServiceManager struct {
	Store     graph.Backend
	Locker    lock.Locker
	Metrics   *metrics.Metrics
	Simulator *simulator.Service

	logger  *zap.Logger
	mu      sync.Mutex
	closers []func() error
	closed  bool
}

// NewServiceManager opens the configured backend and lock, then wires the
// simulator service. Everything opened so far is closed again on failure.
func NewServiceManager(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*ServiceManager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	sm := &ServiceManager{logger: logger.Named("services")}

	store, err := graph.Open(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.StoreBackend, err)
	}
	sm.Store = store
	sm.closers = append(sm.closers, store.Close)
	sm.logger.Info("Word graph store opened", zap.String("backend", cfg.StoreBackend))

	if cfg.RedisURL != "" {
		locker, err := lock.NewRedisLockerFromURL(ctx, cfg.RedisURL, lockPrefix)
		if err != nil {
			_ = sm.Close()
			return nil, fmt.Errorf("connect redis lock: %w", err)
		}
		sm.Locker = locker
		sm.closers = append(sm.closers, locker.Close)
		sm.logger.Info("Using redis entity locks")
	} else {
		sm.Locker = lock.NewLocalLocker()
		sm.logger.Info("Using in-process entity locks; run a single writer process or set REDIS_URL")
	}

	sm.Metrics = metrics.New()
	sm.Simulator = simulator.NewService(sm.Store, sm.Locker, sm.Metrics, logger, simulator.OptionsFromConfig(cfg))
	return sm, nil
}

// Close releases everything in reverse order of opening
func (sm *ServiceManager) Close() error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.closed {
		return nil
	}
	sm.closed = true

	var errs []error
	for i := len(sm.closers) - 1; i >= 0; i-- {
		if err := sm.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		sm.logger.Error("Failed to close services cleanly", zap.Error(err))
		return err
	}
	return nil
}

// Package simulator trains, walks and prunes member word graphs on top of a
// graph.Store, serializing writers per entity.
package simulator

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"discord-simulator/backend/internal/constants"
	"discord-simulator/backend/internal/graph"
	"discord-simulator/backend/internal/lock"
	"discord-simulator/backend/internal/markov"
	"discord-simulator/backend/internal/metrics"
	"discord-simulator/backend/pkg/config"
)

// Options tune the service
type Options struct {
	PrunePolicy    markov.PrunePolicy
	PruneWorkers   int
	MaxSteps       int
	LockTTL        time.Duration
	LockWait       time.Duration
	RetryAttempts  int
	RetryBaseDelay time.Duration
}

// DefaultOptions mirrors the configuration defaults
func DefaultOptions() Options {
	return Options{
		PrunePolicy:    markov.DefaultPrunePolicy(),
		PruneWorkers:   4,
		MaxSteps:       1000,
		LockTTL:        30 * time.Second,
		LockWait:       10 * time.Second,
		RetryAttempts:  3,
		RetryBaseDelay: 100 * time.Millisecond,
	}
}

// OptionsFromConfig builds Options from the loaded configuration
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		PrunePolicy:    markov.PrunePolicy{MaxWeight: cfg.PruneThreshold},
		PruneWorkers:   cfg.PruneWorkers,
		MaxSteps:       cfg.MaxGenerationSteps,
		LockTTL:        cfg.LockTTL,
		LockWait:       cfg.LockWait,
		RetryAttempts:  cfg.RetryAttempts,
		RetryBaseDelay: cfg.RetryBaseDelay,
	}
}

// Service is the entry point for training, generation and pruning
type Service struct {
	store   graph.Store
	locker  lock.Locker
	metrics *metrics.Metrics
	logger  *zap.Logger
	opts    Options
}

// NewService wires a service. A nil locker falls back to an in-process one
// and nil metrics record nothing.
func NewService(store graph.Store, locker lock.Locker, m *metrics.Metrics, log *zap.Logger, opts Options) *Service {
	if locker == nil {
		locker = lock.NewLocalLocker()
	}
	if log == nil {
		log = zap.NewNop()
	}
	defaults := DefaultOptions()
	if opts.PrunePolicy.MaxWeight == 0 {
		opts.PrunePolicy = defaults.PrunePolicy
	}
	if opts.PruneWorkers < 1 {
		opts.PruneWorkers = defaults.PruneWorkers
	}
	if opts.MaxSteps < 1 {
		opts.MaxSteps = defaults.MaxSteps
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = defaults.LockTTL
	}
	if opts.LockWait <= 0 {
		opts.LockWait = defaults.LockWait
	}
	if opts.RetryAttempts < 1 {
		opts.RetryAttempts = defaults.RetryAttempts
	}
	return &Service{
		store:   store,
		locker:  locker,
		metrics: m,
		logger:  log.Named("simulator"),
		opts:    opts,
	}
}

// EntityID scopes a member to a guild
func EntityID(guildID, userID string) string {
	return guildID + constants.EntitySeparator + userID
}

// SplitEntityID reverses EntityID
func SplitEntityID(entityID string) (guildID, userID string, ok bool) {
	return strings.Cut(entityID, constants.EntitySeparator)
}

// GuildPrefix is the Entities prefix selecting every member of a guild
func GuildPrefix(guildID string) string {
	return guildID + constants.EntitySeparator
}

// withEntityLock runs fn while holding the entity's write lock
func (s *Service) withEntityLock(ctx context.Context, entityID string, fn func() error) error {
	unlock, err := lock.Acquire(ctx, s.locker, entityID, s.opts.LockTTL, s.opts.LockWait)
	if err != nil {
		return err
	}
	defer func() {
		// Release even when ctx is already done
		if err := unlock(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("Failed to release entity lock", zap.String("entity_id", entityID), zap.Error(err))
		}
	}()
	return fn()
}

// Entities lists entities that have a graph, filtered by prefix
func (s *Service) Entities(ctx context.Context, prefix string) ([]string, error) {
	var ids []string
	err := s.retry(ctx, "entities", func(ctx context.Context) error {
		var err error
		ids, err = s.store.Entities(ctx, prefix)
		return err
	})
	return ids, err
}

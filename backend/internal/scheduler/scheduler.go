// Package scheduler runs the periodic simulations and prune sweeps
package scheduler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"discord-simulator/backend/internal/discord"
	"discord-simulator/backend/internal/graph"
	"discord-simulator/backend/internal/metrics"
	"discord-simulator/backend/internal/simulator"
	apperrors "discord-simulator/backend/pkg/errors"
)

// Simulations plays a conversation in one channel
type Simulations interface {
	Simulate(ctx context.Context, api discord.Session, guildID, channelID, trigger string) (int, error)
}

// Pruner sweeps stored graphs
type Pruner interface {
	PruneAll(ctx context.Context, prefix string) (simulator.PruneReport, error)
}

// Config sets the loop periods. A zero interval disables that loop.
type Config struct {
	ScheduleInterval time.Duration
	PruneInterval    time.Duration
}

// Scheduler drives scheduled simulations and prune sweeps
type Scheduler struct {
	api      discord.Session
	registry graph.ChannelRegistry
	sims     Simulations
	pruner   Pruner
	cfg      Config
	logger   *zap.Logger
}

// New creates a scheduler
func New(api discord.Session, registry graph.ChannelRegistry, sims Simulations, pruner Pruner, cfg Config, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		api:      api,
		registry: registry,
		sims:     sims,
		pruner:   pruner,
		cfg:      cfg,
		logger:   logger.Named("scheduler"),
	}
}

// Run blocks until ctx is done
func (s *Scheduler) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})
	if s.cfg.ScheduleInterval > 0 {
		g.Go(func() error {
			s.every(gctx, s.cfg.ScheduleInterval, s.SimulateScheduled)
			return nil
		})
	}
	if s.cfg.PruneInterval > 0 {
		g.Go(func() error {
			s.every(gctx, s.cfg.PruneInterval, func(ctx context.Context) {
				_, _ = s.Prune(ctx)
			})
			return nil
		})
	}

	s.logger.Info("Scheduler started",
		zap.Duration("schedule_interval", s.cfg.ScheduleInterval),
		zap.Duration("prune_interval", s.cfg.PruneInterval),
	)
	err := g.Wait()
	s.logger.Info("Scheduler stopped")
	return err
}

// every runs fn once straight away, then on each tick
func (s *Scheduler) every(ctx context.Context, interval time.Duration, fn func(ctx context.Context)) {
	if ctx.Err() != nil {
		return
	}
	fn(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

// SimulateScheduled runs a simulation in every registered channel. Channels
// the bot can no longer see are unregistered instead.
func (s *Scheduler) SimulateScheduled(ctx context.Context) {
	channels, err := s.registry.Channels(ctx)
	if err != nil {
		s.logger.Error("Failed to list scheduled channels", zap.Error(err))
		return
	}

	var g errgroup.Group
	for _, ch := range channels {
		if ctx.Err() != nil {
			break
		}

		info, err := s.api.Channel(ch.ID)
		if err != nil {
			if isGone(err) {
				s.unregister(ctx, ch.ID, err)
			} else {
				s.logger.Warn("Failed to look up scheduled channel", zap.String("channel_id", ch.ID), zap.Error(err))
			}
			continue
		}

		guildID := info.GuildID
		if guildID == "" {
			guildID = ch.GuildID
		}
		g.Go(func() error {
			_, err := s.sims.Simulate(ctx, s.api, guildID, ch.ID, metrics.TriggerSchedule)
			if err != nil && !errors.Is(err, discord.ErrSimulationRunning) {
				s.logger.Warn("Scheduled simulation failed", zap.String("channel_id", ch.ID), zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
}

// Prune sweeps every stored graph
func (s *Scheduler) Prune(ctx context.Context) (simulator.PruneReport, error) {
	report, err := s.pruner.PruneAll(ctx, "")
	if err != nil {
		s.logger.Error("Scheduled prune failed", zap.Error(err))
		return report, err
	}
	return report, nil
}

func (s *Scheduler) unregister(ctx context.Context, channelID string, cause error) {
	if _, err := s.registry.RemoveChannel(ctx, channelID); err != nil {
		s.logger.Error("Failed to unregister channel", zap.String("channel_id", channelID), zap.Error(err))
		return
	}
	s.logger.Info("Unregistered channel that is no longer visible",
		zap.String("channel_id", channelID),
		zap.Error(apperrors.NewDiscordChannelNotFound(channelID)),
		zap.NamedError("cause", cause),
	)
}

// isGone reports whether Discord says the channel is deleted or hidden from us
func isGone(err error) bool {
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) || restErr.Response == nil {
		return false
	}
	switch restErr.Response.StatusCode {
	case http.StatusNotFound, http.StatusForbidden:
		return true
	}
	return false
}

package discord

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"go.uber.org/zap"

	"discord-simulator/backend/internal/constants"
	"discord-simulator/backend/internal/metrics"
	"discord-simulator/backend/internal/simulator"
	"discord-simulator/backend/pkg/config"
	apperrors "discord-simulator/backend/pkg/errors"
)

// memberPageSize is the largest page Discord returns for guild members
const memberPageSize = 1000

var (
	// ErrNoSimulatedMembers is returned when no current guild member has a graph
	ErrNoSimulatedMembers = errors.New("discord: no simulated members in guild")
	// ErrSimulationRunning is returned when the channel already hosts a simulation
	ErrSimulationRunning = errors.New("discord: simulation already running in channel")
)

// SimulationConfig bounds one simulated conversation
type SimulationConfig struct {
	LengthMin int
	LengthMax int
	DelayMin  time.Duration
	DelayMax  time.Duration
}

// SimulationConfigFromConfig reads the simulation settings
func SimulationConfigFromConfig(cfg *config.Config) SimulationConfig {
	return SimulationConfig{
		LengthMin: cfg.SimLengthMin,
		LengthMax: cfg.SimLengthMax,
		DelayMin:  cfg.SimDelayMin,
		DelayMax:  cfg.SimDelayMax,
	}
}

// Simulator plays out conversations between the simulated members of a guild
type Simulator struct {
	service *simulator.Service
	cfg     SimulationConfig
	metrics *metrics.Metrics
	logger  *zap.Logger

	mu     sync.Mutex
	active map[string]struct{} // channel ids
}

// NewSimulator creates a Simulator
func NewSimulator(service *simulator.Service, cfg SimulationConfig, m *metrics.Metrics, log *zap.Logger) *Simulator {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.LengthMax < cfg.LengthMin {
		cfg.LengthMax = cfg.LengthMin
	}
	if cfg.DelayMax < cfg.DelayMin {
		cfg.DelayMax = cfg.DelayMin
	}
	return &Simulator{
		service: service,
		cfg:     cfg,
		metrics: m,
		logger:  log.Named("simulation"),
		active:  make(map[string]struct{}),
	}
}

type simulatedMember struct {
	entityID string
	name     string
}

// Simulate posts between LengthMin and LengthMax generated messages to the
// channel, each from a random guild member that has a graph. It returns how
// many messages were sent.
func (sim *Simulator) Simulate(ctx context.Context, api Session, guildID, channelID, trigger string) (int, error) {
	if !sim.claim(channelID) {
		return 0, ErrSimulationRunning
	}
	defer sim.release(channelID)

	members, err := sim.members(ctx, api, guildID)
	if err != nil {
		return 0, err
	}
	if len(members) == 0 {
		return 0, ErrNoSimulatedMembers
	}

	length := sim.cfg.LengthMin + rand.IntN(sim.cfg.LengthMax-sim.cfg.LengthMin+1)
	sim.metrics.SimulationStarted(trigger)
	sim.logger.Info("Simulation started",
		zap.String("guild_id", guildID),
		zap.String("channel_id", channelID),
		zap.String("trigger", trigger),
		zap.Int("members", len(members)),
		zap.Int("messages", length),
	)

	sent := 0
	for i := 0; i < length; i++ {
		if err := api.ChannelTyping(channelID); err != nil {
			sim.logger.Debug("Failed to send typing indicator", zap.String("channel_id", channelID), zap.Error(err))
		}
		if err := sleep(ctx, sim.delay()); err != nil {
			return sent, apperrors.NewContextCancelled("simulate", err)
		}

		member := members[rand.IntN(len(members))]
		text, err := sim.service.GenerateText(ctx, member.entityID, nil)
		if err != nil {
			// The graph may have been pruned away since the member list was read
			sim.logger.Warn("Skipping simulated message",
				zap.String("entity_id", member.entityID),
				zap.Error(err),
			)
			continue
		}

		if err := sendText(api, channelID, formatSimulated(member.name, text)); err != nil {
			return sent, err
		}
		sent++
	}

	sim.logger.Info("Simulation finished", zap.String("channel_id", channelID), zap.Int("sent", sent))
	return sent, nil
}

// members lists the current, non-bot guild members that have a graph
func (sim *Simulator) members(ctx context.Context, api Session, guildID string) ([]simulatedMember, error) {
	entities, err := sim.service.Entities(ctx, simulator.GuildPrefix(guildID))
	if err != nil {
		return nil, err
	}
	trained := make(map[string]string, len(entities))
	for _, id := range entities {
		if _, userID, ok := simulator.SplitEntityID(id); ok {
			trained[userID] = id
		}
	}
	if len(trained) == 0 {
		return nil, nil
	}

	var out []simulatedMember
	after := ""
	for {
		page, err := api.GuildMembers(guildID, after, memberPageSize)
		if err != nil {
			return nil, err
		}
		for _, m := range page {
			if m.User == nil || m.User.Bot {
				continue
			}
			if entityID, ok := trained[m.User.ID]; ok {
				out = append(out, simulatedMember{entityID: entityID, name: displayName(m)})
			}
		}
		if len(page) < memberPageSize || page[len(page)-1].User == nil {
			return out, nil
		}
		after = page[len(page)-1].User.ID
	}
}

func (sim *Simulator) delay() time.Duration {
	spread := sim.cfg.DelayMax - sim.cfg.DelayMin
	if spread <= 0 {
		return sim.cfg.DelayMin
	}
	return sim.cfg.DelayMin + time.Duration(rand.Int64N(int64(spread)+1))
}

func (sim *Simulator) claim(channelID string) bool {
	sim.mu.Lock()
	defer sim.mu.Unlock()
	if _, ok := sim.active[channelID]; ok {
		return false
	}
	sim.active[channelID] = struct{}{}
	return true
}

func (sim *Simulator) release(channelID string) {
	sim.mu.Lock()
	defer sim.mu.Unlock()
	delete(sim.active, channelID)
}

// formatSimulated renders a generated message under the member's name
func formatSimulated(name, text string) string {
	return name + ":\n" + constants.SimulatedMessageIndent + text
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

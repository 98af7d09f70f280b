package discord

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"discord-simulator/backend/internal/constants"
	"discord-simulator/backend/internal/graph"
	"discord-simulator/backend/internal/metrics"
	"discord-simulator/backend/internal/simulator"
)

// Handler handles Discord message processing
type Handler struct {
	ctx      context.Context
	service  *simulator.Service
	registry graph.ChannelRegistry
	sim      *Simulator
	prefix   string
	logger   *zap.Logger
}

// NewHandler creates a new Discord message handler. Work started by a
// message, simulations included, is bound to ctx.
func NewHandler(ctx context.Context, service *simulator.Service, registry graph.ChannelRegistry, sim *Simulator, prefix string, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		ctx:      ctx,
		service:  service,
		registry: registry,
		sim:      sim,
		prefix:   prefix,
		logger:   logger.Named("discord"),
	}
}

// HandleMessage processes a Discord message
func (h *Handler) HandleMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	botID := ""
	if s.State != nil && s.State.User != nil {
		botID = s.State.User.ID
	}
	h.handle(h.ctx, s, botID, m.Message)
}

func (h *Handler) handle(ctx context.Context, api Session, botID string, m *discordgo.Message) {
	// Ignore bots, ourselves included
	if m.Author == nil || m.Author.Bot || m.Author.ID == botID {
		return
	}
	// Graphs are per guild; direct messages have none
	if m.GuildID == "" {
		return
	}

	// Command messages are trained like any other
	entityID := simulator.EntityID(m.GuildID, m.Author.ID)
	if err := h.service.ObserveMessage(ctx, entityID, m.Content); err != nil {
		h.logger.Error("Failed to observe message",
			zap.String("entity_id", entityID),
			zap.String("channel_id", m.ChannelID),
			zap.Error(err),
		)
	}

	content := strings.TrimSpace(m.Content)
	if command, ok := strings.CutPrefix(content, h.prefix); ok {
		h.handleCommand(ctx, api, m, command)
	}
}

func (h *Handler) handleCommand(ctx context.Context, api Session, m *discordgo.Message, command string) {
	fields := strings.Fields(command)
	name := ""
	if len(fields) > 0 {
		name = fields[0]
	}
	args := fields[min(1, len(fields)):]

	h.logger.Info("Processing command",
		zap.String("command", name),
		zap.String("user_id", m.Author.ID),
		zap.String("channel_id", m.ChannelID),
	)

	switch name {
	case constants.CommandStart:
		h.start(ctx, api, m)
	case constants.CommandSchedule:
		h.schedule(ctx, api, m, args)
	case constants.CommandHelp:
		h.reply(api, m.ChannelID, h.helpText())
	default:
		h.reply(api, m.ChannelID, constants.ReplyUnknownCommand)
	}
}

func (h *Handler) start(ctx context.Context, api Session, m *discordgo.Message) {
	_, err := h.sim.Simulate(ctx, api, m.GuildID, m.ChannelID, metrics.TriggerCommand)
	switch {
	case err == nil:
	case errors.Is(err, ErrNoSimulatedMembers):
		h.reply(api, m.ChannelID, constants.ReplyNoSimulatedMembers)
	case errors.Is(err, ErrSimulationRunning):
		h.logger.Debug("Simulation already running", zap.String("channel_id", m.ChannelID))
	default:
		h.logger.Error("Simulation failed", zap.String("channel_id", m.ChannelID), zap.Error(err))
	}
}

func (h *Handler) schedule(ctx context.Context, api Session, m *discordgo.Message, args []string) {
	switch {
	case len(args) == 0:
		added, err := h.registry.AddChannel(ctx, graph.Channel{ID: m.ChannelID, GuildID: m.GuildID})
		if err != nil {
			h.logger.Error("Failed to schedule channel", zap.String("channel_id", m.ChannelID), zap.Error(err))
			return
		}
		if !added {
			h.reply(api, m.ChannelID, constants.ReplyAlreadyScheduled)
			return
		}
		h.reply(api, m.ChannelID, constants.ReplyScheduled)

	case args[0] == constants.ScheduleStopArg:
		removed, err := h.registry.RemoveChannel(ctx, m.ChannelID)
		if err != nil {
			h.logger.Error("Failed to unschedule channel", zap.String("channel_id", m.ChannelID), zap.Error(err))
			return
		}
		if removed {
			h.reply(api, m.ChannelID, constants.ReplyScheduleStopped)
			return
		}
		h.reply(api, m.ChannelID, fmt.Sprintf(constants.ReplyScheduleHint, h.prefix))

	default:
		h.reply(api, m.ChannelID, fmt.Sprintf(constants.ReplyScheduleHint, h.prefix))
	}
}

func (h *Handler) helpText() string {
	var b strings.Builder
	b.WriteString(constants.BotDescription)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "`%s%s` Begin a simulated conversation\n", h.prefix, constants.CommandStart)
	fmt.Fprintf(&b, "`%s%s` Schedule simulations in this channel. Use `%s%s %s` to stop them\n",
		h.prefix, constants.CommandSchedule, h.prefix, constants.CommandSchedule, constants.ScheduleStopArg)
	fmt.Fprintf(&b, "`%s%s` Show this message", h.prefix, constants.CommandHelp)
	return b.String()
}

func (h *Handler) reply(api Session, channelID, content string) {
	if err := sendText(api, channelID, content); err != nil {
		h.logger.Error("Failed to send reply", zap.String("channel_id", channelID), zap.Error(err))
	}
}

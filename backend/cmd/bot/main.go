package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"discord-simulator/backend/internal/discord"
	"discord-simulator/backend/internal/scheduler"
	"discord-simulator/backend/internal/services"
	"discord-simulator/backend/pkg/config"
	apperrors "discord-simulator/backend/pkg/errors"
	"discord-simulator/backend/pkg/logger"
)

// botIntents are the gateway intents the simulator needs. Guild members is
// privileged and must be enabled in the developer portal.
const botIntents = discordgo.IntentsGuilds |
	discordgo.IntentsGuildMessages |
	discordgo.IntentsGuildMembers |
	discordgo.IntentsMessageContent

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load configuration: %v", err))
	}

	// Initialize logger
	if err := logger.Init(cfg.Env, cfg.LogLevel); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	log := logger.Get()
	log.Info("Starting Discord simulator bot...")

	if err := requireToken(cfg); err != nil {
		log.Fatal("Invalid configuration", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer stop()

	sm, err := services.NewServiceManager(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize services", zap.Error(err))
	}
	defer sm.Close()

	// Create Discord session
	dg, err := discordgo.New("Bot " + cfg.DiscordBotToken)
	if err != nil {
		log.Fatal("Failed to create Discord session", zap.Error(err))
	}
	dg.Identify.Intents = botIntents

	sim := discord.NewSimulator(sm.Simulator, discord.SimulationConfigFromConfig(cfg), sm.Metrics, log)
	handler := discord.NewHandler(ctx, sm.Simulator, sm.Store, sim, cfg.CommandPrefix, log)
	dg.AddHandler(handler.HandleMessage)

	// Open connection
	if err := dg.Open(); err != nil {
		log.Fatal("Failed to open Discord connection", zap.Error(err))
	}
	defer dg.Close()

	sched := scheduler.New(dg, sm.Store, sim, sm.Simulator, scheduler.Config{
		ScheduleInterval: cfg.ScheduleInterval,
		PruneInterval:    cfg.PruneInterval,
	}, log)

	log.Info("Discord bot is running. Press CTRL-C to exit.",
		zap.String("command_prefix", cfg.CommandPrefix),
		zap.String("store_backend", cfg.StoreBackend),
	)

	if err := sched.Run(ctx); err != nil {
		log.Error("Scheduler stopped with error", zap.Error(err))
	}

	log.Info("Shutting down Discord bot...")
}

func requireToken(cfg *config.Config) error {
	if cfg.DiscordBotToken == "" {
		return apperrors.NewConfigMissingRequired("DISCORD_BOT_TOKEN")
	}
	return nil
}

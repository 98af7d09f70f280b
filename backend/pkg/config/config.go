package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	apperrors "discord-simulator/backend/pkg/errors"
)

// Store backends
const (
	BackendNeo4j  = "neo4j"
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
	BackendMemory = "memory"
)

// Config holds all application configuration
type Config struct {
	// App
	Port     string
	Env      string
	LogLevel string

	// Storage
	StoreBackend  string
	Neo4jURI      string
	Neo4jUser     string
	Neo4jPassword string
	SQLitePath    string
	BadgerPath    string
	RedisURL      string // Enables the distributed entity lock when set

	// Discord
	DiscordBotToken string
	CommandPrefix   string

	// Simulations
	SimLengthMin     int
	SimLengthMax     int
	SimDelayMin      time.Duration
	SimDelayMax      time.Duration
	ScheduleInterval time.Duration

	// Graph maintenance
	PruneInterval      time.Duration
	PruneThreshold     uint64
	PruneWorkers       int
	MaxGenerationSteps int

	// Storage behaviour
	StorageTimeout time.Duration
	LockTTL        time.Duration
	LockWait       time.Duration
	RetryAttempts  int
	RetryBaseDelay time.Duration
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file, but don't fail if it doesn't exist
	_ = godotenv.Load()

	cfg := FromEnv()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// FromEnv builds a Config from the current environment without validating it
func FromEnv() *Config {
	return &Config{
		Port:               getEnv("PORT", "8080"),
		Env:                getEnv("ENV", "development"),
		LogLevel:           getEnv("LOG_LEVEL", ""),
		StoreBackend:       getEnv("STORE_BACKEND", BackendSQLite),
		Neo4jURI:           getEnv("NEO4J_URI", "bolt://localhost:7687"),
		Neo4jUser:          getEnv("NEO4J_USER", "neo4j"),
		Neo4jPassword:      getEnv("NEO4J_PASSWORD", "password"),
		SQLitePath:         getEnv("SQLITE_PATH", "simulator.db"),
		BadgerPath:         getEnv("BADGER_PATH", "simulator-badger"),
		RedisURL:           getEnv("REDIS_URL", ""),
		DiscordBotToken:    getEnv("DISCORD_BOT_TOKEN", ""),
		CommandPrefix:      getEnv("COMMAND_PREFIX", "-sim-"),
		SimLengthMin:       getEnvInt("SIM_LENGTH_MIN", 20),
		SimLengthMax:       getEnvInt("SIM_LENGTH_MAX", 50),
		SimDelayMin:        getEnvDuration("SIM_DELAY_MIN", 5*time.Second),
		SimDelayMax:        getEnvDuration("SIM_DELAY_MAX", 9*time.Second),
		ScheduleInterval:   getEnvDuration("SCHEDULE_INTERVAL", 6*time.Hour),
		PruneInterval:      getEnvDuration("PRUNE_INTERVAL", 4*7*24*time.Hour),
		PruneThreshold:     getEnvUint("PRUNE_THRESHOLD", 1),
		PruneWorkers:       getEnvInt("PRUNE_WORKERS", 4),
		MaxGenerationSteps: getEnvInt("MAX_GENERATION_STEPS", 1000),
		StorageTimeout:     getEnvDuration("STORAGE_TIMEOUT", 5*time.Second),
		LockTTL:            getEnvDuration("LOCK_TTL", 30*time.Second),
		LockWait:           getEnvDuration("LOCK_WAIT", 10*time.Second),
		RetryAttempts:      getEnvInt("RETRY_ATTEMPTS", 3),
		RetryBaseDelay:     getEnvDuration("RETRY_BASE_DELAY", 100*time.Millisecond),
	}
}

// Validate checks that required configuration values are set and consistent
func (c *Config) Validate() error {
	switch c.StoreBackend {
	case BackendNeo4j:
		if c.Neo4jURI == "" {
			return apperrors.NewConfigMissingRequired("NEO4J_URI")
		}
		if c.Neo4jUser == "" {
			return apperrors.NewConfigMissingRequired("NEO4J_USER")
		}
	case BackendSQLite:
		if c.SQLitePath == "" {
			return apperrors.NewConfigMissingRequired("SQLITE_PATH")
		}
	case BackendBadger:
		if c.BadgerPath == "" {
			return apperrors.NewConfigMissingRequired("BADGER_PATH")
		}
	case BackendMemory:
	default:
		return apperrors.NewConfigValidationFailed("STORE_BACKEND", fmt.Sprintf("unknown backend %q", c.StoreBackend))
	}

	if c.SimLengthMin < 1 || c.SimLengthMax < c.SimLengthMin {
		return apperrors.NewConfigValidationFailed("SIM_LENGTH_MIN/SIM_LENGTH_MAX", "need 1 <= min <= max")
	}
	if c.SimDelayMin < 0 || c.SimDelayMax < c.SimDelayMin {
		return apperrors.NewConfigValidationFailed("SIM_DELAY_MIN/SIM_DELAY_MAX", "need 0 <= min <= max")
	}
	if c.PruneThreshold < 1 {
		return apperrors.NewConfigValidationFailed("PRUNE_THRESHOLD", "must be at least 1")
	}
	if c.PruneWorkers < 1 {
		return apperrors.NewConfigValidationFailed("PRUNE_WORKERS", "must be at least 1")
	}
	if c.MaxGenerationSteps < 2 {
		return apperrors.NewConfigValidationFailed("MAX_GENERATION_STEPS", "must be at least 2")
	}
	if c.StorageTimeout <= 0 {
		return apperrors.NewConfigValidationFailed("STORAGE_TIMEOUT", "must be positive")
	}
	if c.LockTTL <= 0 || c.LockWait <= 0 {
		return apperrors.NewConfigValidationFailed("LOCK_TTL/LOCK_WAIT", "must be positive")
	}
	if c.RetryAttempts < 1 {
		return apperrors.NewConfigValidationFailed("RETRY_ATTEMPTS", "must be at least 1")
	}
	// Discord token is only required by the bot process
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if result, err := strconv.Atoi(value); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvUint(key string, defaultValue uint64) uint64 {
	if value := os.Getenv(key); value != "" {
		if result, err := strconv.ParseUint(value, 10, 64); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if result, err := time.ParseDuration(value); err == nil {
			return result
		}
	}
	return defaultValue
}

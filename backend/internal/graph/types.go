package graph

import (
	"context"
	"time"

	"go.uber.org/zap"

	"discord-simulator/backend/internal/markov"
)

// ============================================================================
// Word Graph Storage Types
// ============================================================================

// Store is durable storage for transition graphs, one graph per entity id
type Store interface {
	// Load reads the whole graph of entityID in one consistent snapshot.
	// It returns ErrUnknownEntity when the entity has never been stored.
	Load(ctx context.Context, entityID string) (*markov.Graph, error)
	// Commit applies a change set atomically: all of it or none of it
	Commit(ctx context.Context, changes markov.ChangeSet) error
	// Delete removes every node and edge of entityID
	Delete(ctx context.Context, entityID string) error
	// Entities lists stored entity ids starting with prefix, in ascending order
	Entities(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

// Channel is a Discord channel registered for scheduled simulations
type Channel struct {
	ID      string    `json:"id"`
	GuildID string    `json:"guild_id"`
	AddedAt time.Time `json:"added_at"`
}

// ChannelRegistry keeps the set of channels with scheduled simulations
type ChannelRegistry interface {
	// AddChannel registers a channel and reports false if it already was
	AddChannel(ctx context.Context, channel Channel) (bool, error)
	// RemoveChannel unregisters a channel and reports false if it was not registered
	RemoveChannel(ctx context.Context, channelID string) (bool, error)
	Channels(ctx context.Context) ([]Channel, error)
}

// Backend is a storage engine serving both graphs and the channel registry
type Backend interface {
	Store
	ChannelRegistry
}

// Options are shared by every backend
type Options struct {
	// Timeout bounds each storage call
	Timeout time.Duration
	Logger  *zap.Logger
}

const defaultTimeout = 5 * time.Second

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = defaultTimeout
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

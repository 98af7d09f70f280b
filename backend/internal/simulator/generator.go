package simulator

import (
	"context"
	"math/rand/v2"
	"strings"
	"time"

	"go.uber.org/zap"

	"discord-simulator/backend/internal/markov"
	"discord-simulator/backend/internal/metrics"
	apperrors "discord-simulator/backend/pkg/errors"
)

// Generate walks the entity's stored graph from START to END and returns the
// words in between. It reads the last committed graph and takes no lock, so
// it never waits on training.
func (s *Service) Generate(ctx context.Context, entityID string, rng markov.Rand) ([]string, error) {
	defer s.metrics.ObserveDuration("generate", time.Now())

	var g *markov.Graph
	err := s.retry(ctx, "generate", func(ctx context.Context) error {
		var err error
		g, err = s.store.Load(ctx, entityID)
		return err
	})
	if err != nil {
		s.recordGeneration(entityID, nil, err)
		return nil, err
	}

	words, err := g.Generate(rng, s.opts.MaxSteps)
	s.recordGeneration(entityID, words, err)
	if err != nil {
		return nil, err
	}
	return words, nil
}

// RequestGeneration generates with a deterministic stream when seed is set
// and a fresh random one otherwise.
func (s *Service) RequestGeneration(ctx context.Context, entityID string, seed *uint64) ([]string, error) {
	var rng markov.Rand
	if seed != nil {
		rng = markov.NewRand(*seed)
	} else {
		rng = markov.NewRand(rand.Uint64())
	}
	return s.Generate(ctx, entityID, rng)
}

// GenerateText is RequestGeneration joined back into message text
func (s *Service) GenerateText(ctx context.Context, entityID string, seed *uint64) (string, error) {
	words, err := s.RequestGeneration(ctx, entityID, seed)
	if err != nil {
		return "", err
	}
	return strings.Join(words, " "), nil
}

func (s *Service) recordGeneration(entityID string, words []string, err error) {
	switch {
	case err == nil:
		s.metrics.Generated(metrics.OutcomeOK, len(words))
	case apperrors.IsUnknownEntity(err):
		s.metrics.Generated(metrics.OutcomeUnknown, 0)
	case apperrors.IsCorruption(err):
		s.metrics.Generated(metrics.OutcomeCorrupt, 0)
		// Corruption needs a human; it is never retried
		s.logger.Error("Graph corruption during generation", zap.String("entity_id", entityID), zap.Error(err))
	default:
		s.metrics.Generated(metrics.OutcomeError, 0)
		s.logger.Warn("Generation failed", zap.String("entity_id", entityID), zap.Error(err))
	}
}

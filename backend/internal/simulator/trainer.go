package simulator

import (
	"context"
	"time"

	"go.uber.org/zap"

	"discord-simulator/backend/internal/markov"
	apperrors "discord-simulator/backend/pkg/errors"
)

// ObserveMessage tokenizes raw message text on whitespace and trains the
// entity's graph with it. Messages without any token are ignored.
func (s *Service) ObserveMessage(ctx context.Context, entityID, rawText string) error {
	tokens := markov.Tokenize(rawText)
	if len(tokens) == 0 {
		return nil
	}
	return s.Train(ctx, entityID, tokens)
}

// Train folds one message into the entity's graph, creating the graph on
// first use. Training is strictly additive and serialized per entity; a
// failed commit leaves the stored graph as it was.
func (s *Service) Train(ctx context.Context, entityID string, tokens []string) error {
	defer s.metrics.ObserveDuration("train", time.Now())

	err := s.retry(ctx, "train", func(ctx context.Context) error {
		return s.withEntityLock(ctx, entityID, func() error {
			g, err := s.store.Load(ctx, entityID)
			if apperrors.IsUnknownEntity(err) {
				g, err = markov.New(entityID), nil
			}
			if err != nil {
				return err
			}
			if err := g.Train(tokens); err != nil {
				return err
			}
			return s.store.Commit(ctx, g.Changes())
		})
	})
	if err != nil {
		s.logger.Error("Failed to train graph",
			zap.String("entity_id", entityID),
			zap.Int("tokens", len(tokens)),
			zap.Error(err),
		)
		return err
	}

	s.metrics.MessageTrained()
	s.logger.Debug("Message trained", zap.String("entity_id", entityID), zap.Int("tokens", len(tokens)))
	return nil
}

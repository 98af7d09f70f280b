package simulator

import (
	"context"
	"time"

	"go.uber.org/zap"

	apperrors "discord-simulator/backend/pkg/errors"
)

// retry runs fn until it succeeds, fails permanently or the attempts run
// out. Only storage timeouts and conflicts are retried; the delay doubles
// after each attempt.
func (s *Service) retry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	delay := s.opts.RetryBaseDelay
	for attempt := 1; ; attempt++ {
		err := fn(ctx)
		if err == nil || !apperrors.IsRetryable(err) || attempt >= s.opts.RetryAttempts {
			return err
		}

		s.metrics.StorageRetry(op)
		s.logger.Warn("Transient storage error, retrying",
			zap.String("operation", op),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return apperrors.NewContextCancelled(op, ctx.Err())
		case <-timer.C:
		}
		delay *= 2
	}
}

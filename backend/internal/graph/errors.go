package graph

import (
	"context"
	"errors"
	"time"

	apperrors "discord-simulator/backend/pkg/errors"
)

// call bounds a storage operation by the configured timeout
func call(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, timeout)
}

// storageError maps a backend failure onto the application's storage errors.
// isConflict recognises the engine's own transient write conflicts.
func storageError(op, entityID string, timeout time.Duration, err error, isConflict func(error) bool) error {
	if err == nil {
		return nil
	}
	// Already classified further down
	for _, t := range []apperrors.ErrorType{apperrors.ErrorTypeGraph, apperrors.ErrorTypeStorage, apperrors.ErrorTypeContext} {
		if apperrors.IsErrorType(err, t) {
			return err
		}
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return apperrors.NewStorageTimeout(op, timeout, err)
	case errors.Is(err, context.Canceled):
		return apperrors.NewContextCancelled(op, err)
	case isConflict != nil && isConflict(err):
		return apperrors.NewStorageConflict(entityID, op, err)
	}
	return apperrors.NewStorageQueryFailed(op, err)
}

func toInt64(v uint64) int64 {
	return int64(v)
}

func toUint64(v int64) uint64 {
	if v < 0 {
		return 0
	}
	return uint64(v)
}

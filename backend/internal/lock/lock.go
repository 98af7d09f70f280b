// Package lock serializes writers of one entity's graph without a
// process-wide lock.
package lock

import (
	"context"
	"errors"
	"sync"
	"time"

	apperrors "discord-simulator/backend/pkg/errors"
)

// UnlockFunc releases a held lock. Calling it more than once is harmless.
type UnlockFunc func(ctx context.Context) error

// Locker hands out exclusive locks scoped to a key
type Locker interface {
	// Lock blocks until key is held or ctx is done. ttl bounds how long the
	// lock survives a holder that never unlocks, where the backend supports it.
	Lock(ctx context.Context, key string, ttl time.Duration) (UnlockFunc, error)
}

// Acquire takes the lock on key, waiting at most wait. Running out of time
// is reported as a storage conflict so callers can retry.
func Acquire(ctx context.Context, l Locker, key string, ttl, wait time.Duration) (UnlockFunc, error) {
	wctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	unlock, err := l.Lock(wctx, key, ttl)
	if err == nil {
		return unlock, nil
	}
	// The caller's own cancellation is not a conflict
	if ctx.Err() != nil {
		return nil, apperrors.NewContextCancelled("lock "+key, ctx.Err())
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return nil, apperrors.NewStorageConflict(key, "lock", err)
	}
	return nil, err
}

// LocalLocker is an in-process keyed mutex. Entries are reference counted
// and dropped once nobody holds or waits for them.
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*entry
}

type entry struct {
	sem  chan struct{}
	refs int
}

// NewLocalLocker creates an empty LocalLocker
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*entry)}
}

// Lock implements Locker. ttl is ignored: a crashed holder takes the whole
// process with it.
func (l *LocalLocker) Lock(ctx context.Context, key string, _ time.Duration) (UnlockFunc, error) {
	l.mu.Lock()
	e, ok := l.locks[key]
	if !ok {
		e = &entry{sem: make(chan struct{}, 1)}
		l.locks[key] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		l.release(key, e)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func(context.Context) error {
		once.Do(func() {
			<-e.sem
			l.release(key, e)
		})
		return nil
	}, nil
}

func (l *LocalLocker) release(key string, e *entry) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(l.locks, key)
	}
}

package lock

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2/log"
)

// ErrBusy is returned when a lock could not be acquired within the wait window.
var ErrBusy = errors.New("lock busy")

// Release gives up ownership of a held lock.
type Release func()

// Locker hands out exclusive ownership of named keys across processes.
type Locker interface {
	// Acquire blocks for at most maxWait. It returns ErrBusy on timeout.
	Acquire(ctx context.Context, key string, maxWait time.Duration) (Release, error)
}

// WithLock runs fn while holding key. The lock is released on every exit
// path, including a panic in fn, which is re-raised after release.
func WithLock(ctx context.Context, l Locker, key string, maxWait time.Duration, fn func(ctx context.Context) error) error {
	release, err := l.Acquire(ctx, key, maxWait)
	if err != nil {
		return err
	}
	defer release()

	return fn(ctx)
}

// retryDelay grows the poll interval up to a ceiling.
func retryDelay(attempt int) time.Duration {
	d := 25 * time.Millisecond << uint(attempt)
	if d > 200*time.Millisecond || d <= 0 {
		return 200 * time.Millisecond
	}
	return d
}

func logRelease(key string, err error) {
	if err != nil {
		log.Warnf("[Lock] release %s failed: %v", key, err)
	}
}

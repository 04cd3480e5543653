package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const DefaultTTL = 60 * time.Second

// releaseScript deletes the key only when it still carries our token, so a
// lock that expired and was taken by another owner is left alone.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Redis is a Locker backed by SET NX PX on a shared Redis instance.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis creates a Redis locker. ttl bounds how long a crashed owner can
// block the key.
func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{client: client, ttl: ttl}
}

func (r *Redis) Acquire(ctx context.Context, key string, maxWait time.Duration) (Release, error) {
	token := uuid.NewString()
	deadline := time.Now().Add(maxWait)

	for attempt := 0; ; attempt++ {
		ok, err := r.client.SetNX(ctx, key, token, r.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire %s: %w", key, err)
		}
		if ok {
			return func() {
				// The caller's context may already be cancelled.
				relCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				err := releaseScript.Run(relCtx, r.client, []string{key}, token).Err()
				if errors.Is(err, redis.Nil) {
					err = nil
				}
				logRelease(key, err)
			}, nil
		}

		wait := retryDelay(attempt)
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, ErrBusy
		}
		if wait > remaining {
			wait = remaining
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

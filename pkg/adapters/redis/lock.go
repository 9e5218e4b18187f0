package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/aretw0/sasya/pkg/ports"
	"github.com/google/uuid"
	backend "github.com/redis/go-redis/v9"
)

// unlockScript deletes the lock only if we still own it.
var unlockScript = backend.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// Locker implements ports.DistributedLocker using Redis.
type Locker struct {
	client       *backend.Client
	prefix       string
	pollInterval time.Duration
}

// NewLocker creates a new Redis locker.
func NewLocker(client *backend.Client, prefix string) *Locker {
	return &Locker{
		client:       client,
		prefix:       prefix,
		pollInterval: 100 * time.Millisecond,
	}
}

func (l *Locker) lockKey(key string) string {
	return l.prefix + "lock:" + key
}

// Lock acquires a distributed lock for the given key using Redis SET NX PX,
// polling until it succeeds or ctx is done.
func (l *Locker) Lock(ctx context.Context, key string, ttl time.Duration) (ports.UnlockFunc, error) {
	token := uuid.NewString()

	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()

	for {
		ok, err := l.acquire(ctx, key, token, ttl)
		if err != nil {
			return nil, err
		}
		if ok {
			return l.unlocker(key, token), nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// TryLock makes one acquisition attempt.
func (l *Locker) TryLock(ctx context.Context, key string, ttl time.Duration) (ports.UnlockFunc, error) {
	token := uuid.NewString()
	ok, err := l.acquire(ctx, key, token, ttl)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ports.ErrLockHeld
	}
	return l.unlocker(key, token), nil
}

func (l *Locker) acquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.lockKey(key), token, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis error acquiring lock: %w", err)
	}
	return ok, nil
}

func (l *Locker) unlocker(key, token string) ports.UnlockFunc {
	return func(ctx context.Context) error {
		return unlockScript.Run(ctx, l.client, []string{l.lockKey(key)}, token).Err()
	}
}

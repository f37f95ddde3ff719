package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

var ErrLockHeld = errors.New("scheduler_lock_held")

// Locker guards a job so only one replica runs it at a time.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, err error)
}

// NewLocker returns a redis-backed locker, or a process-local one when redis
// is not configured.
func NewLocker(client *redis.Client) Locker {
	if client == nil {
		return localLocker{}
	}
	return &redisLocker{client: redislock.New(client)}
}

type redisLocker struct {
	client *redislock.Client
}

func (l *redisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	lock, err := l.client.Obtain(ctx, key, ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, ErrLockHeld
	}
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context) error {
		err := lock.Release(ctx)
		if errors.Is(err, redislock.ErrLockNotHeld) {
			return nil
		}
		return err
	}, nil
}

type localLocker struct{}

func (localLocker) Acquire(context.Context, string, time.Duration) (func(context.Context) error, error) {
	return func(context.Context) error { return nil }, nil
}

package distlock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/ignite/listserv/internal/pkg/logger"
	"github.com/redis/go-redis/v9"
)

var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

var extendScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("pexpire", KEYS[1], ARGV[2])
	else
		return 0
	end
`)

// RedisLock is a single ownership of a Redis key taken with SET NX and a TTL.
// A random ownership value and Lua scripts make release and extend atomic, so
// a lock that expired and was re-taken elsewhere is never released by us.
type RedisLock struct {
	client *redis.Client
	key    string
	value  string
	ttl    time.Duration
}

// NewRedisLock creates an unacquired lock on key.
func NewRedisLock(client *redis.Client, key string, ttl time.Duration) *RedisLock {
	b := make([]byte, 16)
	rand.Read(b)
	return &RedisLock{
		client: client,
		key:    fmt.Sprintf("lock:%s", key),
		value:  hex.EncodeToString(b),
		ttl:    ttl,
	}
}

// Acquire tries once to take the lock. Returns true if successful.
func (l *RedisLock) Acquire(ctx context.Context) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, l.value, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lock %s: %w", l.key, err)
	}
	return ok, nil
}

// Release drops the lock only if we still own it.
func (l *RedisLock) Release(ctx context.Context) error {
	return releaseScript.Run(ctx, l.client, []string{l.key}, l.value).Err()
}

// Extend pushes the TTL out for long-running holders. It fails with
// ErrLockLost when the key expired or changed hands.
func (l *RedisLock) Extend(ctx context.Context, ttl time.Duration) error {
	n, err := extendScript.Run(ctx, l.client, []string{l.key}, l.value, ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("extend lock %s: %w", l.key, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrLockLost, l.key)
	}
	return nil
}

// keepAlive extends the lock every third of its TTL until stop is closed,
// so a holder blocked on a slow SES call does not lose the list.
func (l *RedisLock) keepAlive(stop <-chan struct{}) {
	t := time.NewTicker(l.ttl / 3)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			ctx, cancel := context.WithTimeout(context.Background(), l.ttl/3)
			err := l.Extend(ctx, l.ttl)
			cancel()
			if err != nil {
				logger.Warn("lock keepalive failed", "key", l.key, "error", err)
				if errors.Is(err, ErrLockLost) {
					return
				}
			}
		}
	}
}

// RedisLocker implements Locker over RedisLock with bounded polling.
type RedisLocker struct {
	client *redis.Client
	opts   Options
}

// NewRedisLocker creates a Redis-backed Locker.
func NewRedisLocker(client *redis.Client, opts Options) *RedisLocker {
	return &RedisLocker{client: client, opts: opts.withDefaults()}
}

func (r *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	l := NewRedisLock(r.client, key, r.opts.TTL)
	if err := poll(ctx, r.opts, l.Acquire); err != nil {
		return nil, err
	}
	stop := make(chan struct{})
	go l.keepAlive(stop)
	return func() {
		close(stop)
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := l.Release(ctx); err != nil {
			logger.Warn("lock release failed", "key", key, "error", err)
		}
	}, nil
}

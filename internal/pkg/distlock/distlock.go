// Package distlock provides the per-list mutual exclusion used around every
// membership, configuration and hold-queue mutation.
//
// Three backends share one contract: Redis (preferred for cross-host
// locking), PostgreSQL advisory locks (when the SQL repository is used
// without Redis) and an in-process keyed mutex (single instance, tests).
// Acquisition never blocks indefinitely: it gives up after the configured
// wait or when the context ends.
package distlock

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrLockTimeout is returned when a lock could not be acquired within the
// wait budget. It is fatal to the request; the transport retries.
var ErrLockTimeout = errors.New("lock acquisition timed out")

// ErrLockLost is returned when extending a lock that is no longer ours.
var ErrLockLost = errors.New("lock no longer held")

// Locker acquires an exclusive lock on key. The returned release function
// must be called exactly once.
type Locker interface {
	Lock(ctx context.Context, key string) (release func(), err error)
}

// Options tune lock acquisition.
type Options struct {
	// TTL bounds how long a crashed holder can keep a distributed lock.
	TTL time.Duration
	// Wait is the maximum time spent trying to acquire.
	Wait time.Duration
	// Retry is the polling interval between attempts.
	Retry time.Duration
}

func (o Options) withDefaults() Options {
	if o.TTL <= 0 {
		o.TTL = 30 * time.Second
	}
	if o.Wait <= 0 {
		o.Wait = 5 * time.Second
	}
	if o.Retry <= 0 {
		o.Retry = 25 * time.Millisecond
	}
	return o
}

// NewLocker picks the best available backend.
// If redisClient is non-nil, uses Redis. Otherwise, if db is non-nil, falls
// back to PostgreSQL advisory locks. Otherwise locks are process-local.
func NewLocker(redisClient *redis.Client, db *sql.DB, opts Options) Locker {
	switch {
	case redisClient != nil:
		return NewRedisLocker(redisClient, opts)
	case db != nil:
		return NewPGLocker(db, opts)
	default:
		return NewLocalLocker(opts)
	}
}

// poll calls try until it succeeds, fails, or the wait budget is spent.
func poll(ctx context.Context, o Options, try func(context.Context) (bool, error)) error {
	deadline := time.Now().Add(o.Wait)
	for {
		ok, err := try(ctx)
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if time.Now().Add(o.Retry).After(deadline) {
			return ErrLockTimeout
		}
		select {
		case <-ctx.Done():
			return errors.Join(ErrLockTimeout, ctx.Err())
		case <-time.After(o.Retry):
		}
	}
}

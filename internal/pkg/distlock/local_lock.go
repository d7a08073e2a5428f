package distlock

import (
	"context"
	"errors"
	"sync"
	"time"
)

// LocalLocker is an in-process keyed mutex. Slots are reference counted and
// dropped when no goroutine holds or waits on them.
type LocalLocker struct {
	mu    sync.Mutex
	slots map[string]*slot
	opts  Options
}

type slot struct {
	ch   chan struct{}
	refs int
}

// NewLocalLocker creates an in-process Locker.
func NewLocalLocker(opts Options) *LocalLocker {
	return &LocalLocker{slots: make(map[string]*slot), opts: opts.withDefaults()}
}

func (l *LocalLocker) Lock(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	s, ok := l.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	l.mu.Unlock()

	timer := time.NewTimer(l.opts.Wait)
	defer timer.Stop()

	select {
	case s.ch <- struct{}{}:
	case <-timer.C:
		l.unref(key, s)
		return nil, ErrLockTimeout
	case <-ctx.Done():
		l.unref(key, s)
		return nil, errors.Join(ErrLockTimeout, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.ch
			l.unref(key, s)
		})
	}, nil
}

func (l *LocalLocker) unref(key string, s *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}

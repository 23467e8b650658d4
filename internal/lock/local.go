package lock

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// Local is an in-process Locker. It only serializes jobs within one process.
type Local struct {
	wait time.Duration

	mu   sync.Mutex
	sems map[string]*semaphore.Weighted
}

// NewLocal creates a Local locker. wait bounds Acquire; zero waits for ctx only.
func NewLocal(wait time.Duration) *Local {
	return &Local{wait: wait, sems: make(map[string]*semaphore.Weighted)}
}

func (l *Local) sem(key string) *semaphore.Weighted {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.sems[key]
	if !ok {
		s = semaphore.NewWeighted(1)
		l.sems[key] = s
	}
	return s
}

// Acquire implements Locker.
func (l *Local) Acquire(ctx context.Context, key string) (Lease, error) {
	s := l.sem(key)

	waitCtx, cancel, check := waitContext(ctx, l.wait)
	defer cancel()
	if err := s.Acquire(waitCtx, 1); err != nil {
		return nil, check(err)
	}
	return &localLease{sem: s}, nil
}

type localLease struct {
	once sync.Once
	sem  *semaphore.Weighted
}

func (l *localLease) Release(context.Context) error {
	l.once.Do(func() { l.sem.Release(1) })
	return nil
}

package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/certgen/certgen/internal/database"
	"github.com/certgen/certgen/internal/logger"
)

// RedisOptions tunes a Redis locker.
type RedisOptions struct {
	// TTL is how long a lease survives a crashed holder.
	TTL time.Duration
	// PollInterval is the retry period while the key is held elsewhere.
	PollInterval time.Duration
	// Wait bounds Acquire. Zero waits for ctx only.
	Wait time.Duration
}

// Redis is a Locker shared by every process using the same Redis instance.
// Held leases are kept alive until released.
type Redis struct {
	rdb  *database.Redis
	opts RedisOptions
	log  *logger.Logger
}

// NewRedis creates a Redis locker.
func NewRedis(rdb *database.Redis, opts RedisOptions, log *logger.Logger) *Redis {
	if opts.TTL <= 0 {
		opts.TTL = 2 * time.Minute
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 200 * time.Millisecond
	}
	return &Redis{rdb: rdb, opts: opts, log: log.WithComponent("lock")}
}

// Acquire implements Locker.
func (r *Redis) Acquire(ctx context.Context, key string) (Lease, error) {
	token := uuid.NewString()
	redisKey := "certgen:lock:" + key

	waitCtx, cancel, check := waitContext(ctx, r.opts.Wait)
	defer cancel()

	ticker := time.NewTicker(r.opts.PollInterval)
	defer ticker.Stop()

	for {
		ok, err := r.rdb.TryLock(waitCtx, redisKey, token, r.opts.TTL)
		if err != nil {
			if waitCtx.Err() != nil {
				return nil, check(waitCtx.Err())
			}
			return nil, fmt.Errorf("lock: failed to acquire %s: %w", key, err)
		}
		if ok {
			return r.newLease(redisKey, token), nil
		}

		select {
		case <-waitCtx.Done():
			return nil, check(waitCtx.Err())
		case <-ticker.C:
		}
	}
}

func (r *Redis) newLease(key, token string) *redisLease {
	l := &redisLease{
		locker: r,
		key:    key,
		token:  token,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go l.keepAlive()
	return l
}

type redisLease struct {
	locker *Redis
	key    string
	token  string

	once sync.Once
	stop chan struct{}
	done chan struct{}
	err  error
}

// keepAlive extends the lease at a third of its TTL until released.
func (l *redisLease) keepAlive() {
	defer close(l.done)
	ticker := time.NewTicker(l.locker.opts.TTL / 3)
	defer ticker.Stop()

	for {
		select {
		case <-l.stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), l.locker.opts.TTL/3)
			ok, err := l.locker.rdb.Extend(ctx, l.key, l.token, l.locker.opts.TTL)
			cancel()
			if err != nil {
				l.locker.log.Warn().Err(err).Str("key", l.key).Msg("failed to extend lease")
				continue
			}
			if !ok {
				l.locker.log.Error().Str("key", l.key).Msg("lease lost")
				return
			}
		}
	}
}

func (l *redisLease) Release(ctx context.Context) error {
	l.once.Do(func() {
		close(l.stop)
		<-l.done

		released, err := l.locker.rdb.Unlock(ctx, l.key, l.token)
		switch {
		case err != nil:
			l.err = fmt.Errorf("lock: failed to release %s: %w", l.key, err)
		case !released:
			l.err = ErrLeaseLost
		}
	})
	return l.err
}

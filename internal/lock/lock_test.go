package lock

import (
	"context"
	"net"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/certgen/certgen/internal/certerr"
	"github.com/certgen/certgen/internal/config"
	"github.com/certgen/certgen/internal/database"
	"github.com/certgen/certgen/internal/logger"
)

func assertMutualExclusion(t *testing.T, l Locker) {
	t.Helper()
	var (
		inside  atomic.Int32
		maxSeen atomic.Int32
		wg      sync.WaitGroup
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lease, err := l.Acquire(context.Background(), Key("doc"))
			if !assert.NoError(t, err) {
				return
			}
			n := inside.Add(1)
			for {
				m := maxSeen.Load()
				if n <= m || maxSeen.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			inside.Add(-1)
			assert.NoError(t, lease.Release(context.Background()))
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, maxSeen.Load())
}

func TestLocal_MutualExclusion(t *testing.T) {
	t.Parallel()
	assertMutualExclusion(t, NewLocal(0))
}

func TestLocal_IndependentKeys(t *testing.T) {
	t.Parallel()
	l := NewLocal(time.Second)

	a, err := l.Acquire(context.Background(), Key("a"))
	require.NoError(t, err)
	b, err := l.Acquire(context.Background(), Key("b"))
	require.NoError(t, err)
	require.NoError(t, a.Release(context.Background()))
	require.NoError(t, b.Release(context.Background()))
}

func TestLocal_WaitBudget(t *testing.T) {
	t.Parallel()
	l := NewLocal(20 * time.Millisecond)

	held, err := l.Acquire(context.Background(), Key("doc"))
	require.NoError(t, err)

	_, err = l.Acquire(context.Background(), Key("doc"))
	require.ErrorIs(t, err, ErrBusy)
	assert.True(t, certerr.Retryable(err))

	// Double release must not free a second slot.
	require.NoError(t, held.Release(context.Background()))
	require.NoError(t, held.Release(context.Background()))

	again, err := l.Acquire(context.Background(), Key("doc"))
	require.NoError(t, err)
	_, err = l.Acquire(context.Background(), Key("doc"))
	require.ErrorIs(t, err, ErrBusy)
	require.NoError(t, again.Release(context.Background()))
}

func TestLocal_CallerCancellation(t *testing.T) {
	t.Parallel()
	l := NewLocal(time.Minute)

	held, err := l.Acquire(context.Background(), Key("doc"))
	require.NoError(t, err)
	defer held.Release(context.Background())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = l.Acquire(ctx, Key("doc"))
	require.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrBusy)
}

// Redis tests run only against a real server: CERTGEN_TEST_REDIS_ADDR=host:port.
func newTestRedis(t *testing.T) *database.Redis {
	t.Helper()
	addr := os.Getenv("CERTGEN_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("CERTGEN_TEST_REDIS_ADDR not set")
	}
	host, port := splitHostPort(t, addr)
	rdb, err := database.NewRedis(config.RedisConfig{Host: host, Port: port})
	require.NoError(t, err)
	t.Cleanup(func() { rdb.Close() })
	return rdb
}

func splitHostPort(t *testing.T, addr string) (string, int) {
	t.Helper()
	host, p, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(p)
	require.NoError(t, err)
	return host, port
}

func TestRedis_MutualExclusion(t *testing.T) {
	rdb := newTestRedis(t)
	l := NewRedis(rdb, RedisOptions{TTL: 5 * time.Second, PollInterval: 5 * time.Millisecond}, logger.Nop())
	assertMutualExclusion(t, l)
}

func TestRedis_LeaseLost(t *testing.T) {
	rdb := newTestRedis(t)
	l := NewRedis(rdb, RedisOptions{TTL: 5 * time.Second, Wait: 50 * time.Millisecond}, logger.Nop())
	ctx := context.Background()

	lease, err := l.Acquire(ctx, Key("lost"))
	require.NoError(t, err)
	_, err = l.Acquire(ctx, Key("lost"))
	require.ErrorIs(t, err, ErrBusy)

	require.NoError(t, rdb.Del(ctx, "certgen:lock:"+Key("lost")).Err())
	require.ErrorIs(t, lease.Release(ctx), ErrLeaseLost)
}

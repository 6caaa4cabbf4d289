package ratelimit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(t *testing.T, window time.Duration) (*Limiter, *miniredis.Miniredis) {
	t.Helper()

	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewLimiter(client, window), server
}

func TestAllow_AdmitsUpToLimit(t *testing.T) {
	limiter, _ := newTestLimiter(t, time.Minute)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		decision, err := limiter.Allow(ctx, "client-a", 3)
		require.NoError(t, err)
		assert.True(t, decision.Allowed)
		assert.Equal(t, i, decision.Count)
		assert.Equal(t, 3-i, decision.Remaining)
	}

	decision, err := limiter.Allow(ctx, "client-a", 3)
	require.Error(t, err)
	assert.False(t, decision.Allowed)
	assert.True(t, errors.Is(err, ErrRateLimited))

	var limitErr *LimitError
	require.ErrorAs(t, err, &limitErr)
	assert.Equal(t, 3, limitErr.Limit)
	assert.Greater(t, limitErr.RetryAfter, time.Duration(0))
	assert.LessOrEqual(t, limitErr.RetryAfter, time.Minute)
}

func TestAllow_RejectionDoesNotConsumeQuota(t *testing.T) {
	limiter, server := newTestLimiter(t, time.Minute)
	ctx := context.Background()

	_, err := limiter.Allow(ctx, "client-a", 1)
	require.NoError(t, err)

	for range 5 {
		_, err := limiter.Allow(ctx, "client-a", 1)
		require.ErrorIs(t, err, ErrRateLimited)
	}

	assert.Equal(t, "1", server.HGet(keyPrefix+"client-a", "count"))
}

func TestAllow_WindowResets(t *testing.T) {
	limiter, server := newTestLimiter(t, 10*time.Second)
	ctx := context.Background()

	_, err := limiter.Allow(ctx, "client-a", 1)
	require.NoError(t, err)
	_, err = limiter.Allow(ctx, "client-a", 1)
	require.ErrorIs(t, err, ErrRateLimited)

	server.FastForward(11 * time.Second)

	decision, err := limiter.Allow(ctx, "client-a", 1)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, 1, decision.Count)
}

func TestAllow_ClientsAreIndependent(t *testing.T) {
	limiter, _ := newTestLimiter(t, time.Minute)
	ctx := context.Background()

	_, err := limiter.Allow(ctx, "client-a", 1)
	require.NoError(t, err)
	_, err = limiter.Allow(ctx, "client-a", 1)
	require.ErrorIs(t, err, ErrRateLimited)

	decision, err := limiter.Allow(ctx, "client-b", 1)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}

func TestAllow_Unlimited(t *testing.T) {
	limiter, server := newTestLimiter(t, time.Minute)

	for range 10 {
		decision, err := limiter.Allow(context.Background(), "client-a", 0)
		require.NoError(t, err)
		assert.True(t, decision.Allowed)
	}

	assert.False(t, server.Exists(keyPrefix+"client-a"))
}

func TestAllow_RepairsCounterWithoutExpiry(t *testing.T) {
	limiter, server := newTestLimiter(t, time.Minute)
	server.HSet(keyPrefix+"client-a", "count", "5")

	_, err := limiter.Allow(context.Background(), "client-a", 5)
	require.ErrorIs(t, err, ErrRateLimited)

	assert.Greater(t, server.TTL(keyPrefix+"client-a"), time.Duration(0))
}

func TestAllow_ConcurrentAdmissionsNeverExceedLimit(t *testing.T) {
	limiter, _ := newTestLimiter(t, time.Minute)
	ctx := context.Background()

	const limit = 20
	var admitted atomic.Int64
	var wg sync.WaitGroup

	for range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := limiter.Allow(ctx, "client-a", limit); err == nil {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(limit), admitted.Load())
}

func TestAllow_RedisUnavailable(t *testing.T) {
	limiter, server := newTestLimiter(t, time.Minute)
	server.Close()

	_, err := limiter.Allow(context.Background(), "client-a", 1)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrRateLimited)
}

func TestAllow_ReportsWindowOfAdmission(t *testing.T) {
	limiter, server := newTestLimiter(t, 10*time.Second)
	ctx := context.Background()

	first, err := limiter.Allow(ctx, "client-a", 5)
	require.NoError(t, err)
	second, err := limiter.Allow(ctx, "client-a", 5)
	require.NoError(t, err)

	assert.NotZero(t, first.Window)
	assert.Equal(t, first.Window, second.Window)

	server.FastForward(11 * time.Second)
	limiter.now = func() time.Time { return time.Now().Add(11 * time.Second) }

	next, err := limiter.Allow(ctx, "client-a", 5)
	require.NoError(t, err)
	assert.NotEqual(t, first.Window, next.Window)
	assert.Equal(t, 1, next.Count)
}

func TestAllow_RejectionCarriesNoWindow(t *testing.T) {
	limiter, _ := newTestLimiter(t, time.Minute)
	ctx := context.Background()

	_, err := limiter.Allow(ctx, "client-a", 1)
	require.NoError(t, err)

	decision, err := limiter.Allow(ctx, "client-a", 1)
	require.ErrorIs(t, err, ErrRateLimited)
	assert.Zero(t, decision.Window)
}

func TestRefund_ReturnsAdmission(t *testing.T) {
	limiter, _ := newTestLimiter(t, time.Minute)
	ctx := context.Background()

	admitted, err := limiter.Allow(ctx, "client-a", 1)
	require.NoError(t, err)
	_, err = limiter.Allow(ctx, "client-a", 1)
	require.ErrorIs(t, err, ErrRateLimited)

	require.NoError(t, limiter.Refund(ctx, "client-a", admitted))

	decision, err := limiter.Allow(ctx, "client-a", 1)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}

func TestRefund_KeepsWindowExpiry(t *testing.T) {
	limiter, server := newTestLimiter(t, 10*time.Second)
	ctx := context.Background()

	admitted, err := limiter.Allow(ctx, "client-a", 2)
	require.NoError(t, err)
	server.FastForward(6 * time.Second)

	require.NoError(t, limiter.Refund(ctx, "client-a", admitted))
	_, err = limiter.Allow(ctx, "client-a", 2)
	require.NoError(t, err)

	assert.LessOrEqual(t, server.TTL(keyPrefix+"client-a"), 4*time.Second)
}

func TestRefund_IgnoresLaterWindow(t *testing.T) {
	limiter, server := newTestLimiter(t, time.Minute)
	ctx := context.Background()

	stale, err := limiter.Allow(ctx, "client-a", 2)
	require.NoError(t, err)

	server.FastForward(61 * time.Second)
	limiter.now = func() time.Time { return time.Now().Add(61 * time.Second) }

	_, err = limiter.Allow(ctx, "client-a", 2)
	require.NoError(t, err)

	require.NoError(t, limiter.Refund(ctx, "client-a", stale))
	assert.Equal(t, "1", server.HGet(keyPrefix+"client-a", "count"))

	_, err = limiter.Allow(ctx, "client-a", 2)
	require.NoError(t, err)
	_, err = limiter.Allow(ctx, "client-a", 2)
	assert.ErrorIs(t, err, ErrRateLimited, "a window never admits more than its limit")
}

func TestRefund_NeverCreatesOrUnderflowsCounter(t *testing.T) {
	limiter, server := newTestLimiter(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, limiter.Refund(ctx, "client-a", Decision{Allowed: true, Limit: 5, Window: 42}))
	assert.False(t, server.Exists(keyPrefix+"client-a"))

	admitted, err := limiter.Allow(ctx, "client-a", 5)
	require.NoError(t, err)
	require.NoError(t, limiter.Refund(ctx, "client-a", admitted))
	require.NoError(t, limiter.Refund(ctx, "client-a", admitted))

	assert.Equal(t, "0", server.HGet(keyPrefix+"client-a", "count"))
}

func TestRefund_WithoutWindowIsNoop(t *testing.T) {
	limiter, server := newTestLimiter(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, limiter.Refund(ctx, "client-a", Decision{Allowed: true, Limit: 0, Remaining: -1}))
	assert.False(t, server.Exists(keyPrefix+"client-a"))

	_, err := limiter.Allow(ctx, "client-a", 5)
	require.NoError(t, err)
	require.NoError(t, limiter.Refund(ctx, "client-a", Decision{Allowed: true, Limit: 5, Remaining: -1}))
	assert.Equal(t, "1", server.HGet(keyPrefix+"client-a", "count"))
}

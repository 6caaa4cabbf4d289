package idempotency

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testPendingTTL = 30 * time.Second
	testRetention  = 24 * time.Hour
)

func newTestGuard(t *testing.T) (*Guard, *miniredis.Miniredis) {
	t.Helper()

	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	guard := NewGuard(client, testPendingTTL, testRetention)
	guard.now = func() time.Time { return time.UnixMilli(1_700_000_000_000) }
	return guard, server
}

func TestReserve_FirstAcceptedThenDuplicate(t *testing.T) {
	guard, server := newTestGuard(t)
	ctx := context.Background()

	first, err := guard.Reserve(ctx, "client-a", "e1")
	require.NoError(t, err)
	assert.Equal(t, Accepted, first.Outcome)
	assert.NotEmpty(t, first.Token)
	assert.Equal(t, "idem:client-a:e1", first.Key)

	value, err := server.Get(first.Key)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(value, "pending|"+first.Token+"|"))
	assert.Equal(t, testPendingTTL, server.TTL(first.Key))

	second, err := guard.Reserve(ctx, "client-a", "e1")
	require.NoError(t, err)
	assert.Equal(t, Duplicate, second.Outcome)
	assert.Empty(t, second.Token)
}

func TestReserve_KeysAreScopedPerClient(t *testing.T) {
	guard, _ := newTestGuard(t)
	ctx := context.Background()

	a, err := guard.Reserve(ctx, "client-a", "e1")
	require.NoError(t, err)
	b, err := guard.Reserve(ctx, "client-b", "e1")
	require.NoError(t, err)

	assert.Equal(t, Accepted, a.Outcome)
	assert.Equal(t, Accepted, b.Outcome)
}

func TestCommit_AppliesRetentionAndKeepsFirstSeen(t *testing.T) {
	guard, server := newTestGuard(t)
	ctx := context.Background()

	reservation, err := guard.Reserve(ctx, "client-a", "e1")
	require.NoError(t, err)

	guard.now = func() time.Time { return time.UnixMilli(1_700_000_005_000) }
	require.NoError(t, guard.Commit(ctx, reservation))

	value, err := server.Get(reservation.Key)
	require.NoError(t, err)
	assert.Equal(t, "committed|"+reservation.Token+"|1700000000000", value)
	assert.Equal(t, testRetention, server.TTL(reservation.Key))

	record, ok, err := guard.Lookup(ctx, "client-a", "e1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, record.Committed)
	assert.Equal(t, time.UnixMilli(1_700_000_000_000).UTC(), record.FirstSeen)

	dup, err := guard.Reserve(ctx, "client-a", "e1")
	require.NoError(t, err)
	assert.Equal(t, Duplicate, dup.Outcome)
}

func TestCommit_ZeroRetentionNeverExpires(t *testing.T) {
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	defer client.Close()

	guard := NewGuard(client, testPendingTTL, 0)
	ctx := context.Background()

	reservation, err := guard.Reserve(ctx, "client-a", "e1")
	require.NoError(t, err)
	require.NoError(t, guard.Commit(ctx, reservation))

	assert.Equal(t, time.Duration(0), server.TTL(reservation.Key))
}

func TestCommit_RecreatesExpiredReservation(t *testing.T) {
	guard, server := newTestGuard(t)
	ctx := context.Background()

	reservation, err := guard.Reserve(ctx, "client-a", "e1")
	require.NoError(t, err)

	server.FastForward(testPendingTTL + time.Second)
	require.False(t, server.Exists(reservation.Key))

	require.NoError(t, guard.Commit(ctx, reservation))

	seen, err := guard.Seen(ctx, "client-a", "e1")
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestCommit_LostToAnotherWriter(t *testing.T) {
	guard, server := newTestGuard(t)
	ctx := context.Background()

	reservation, err := guard.Reserve(ctx, "client-a", "e1")
	require.NoError(t, err)

	server.FastForward(testPendingTTL + time.Second)
	other, err := guard.Reserve(ctx, "client-a", "e1")
	require.NoError(t, err)
	require.Equal(t, Accepted, other.Outcome)

	err = guard.Commit(ctx, reservation)
	assert.ErrorIs(t, err, ErrReservationLost)

	value, err := server.Get(reservation.Key)
	require.NoError(t, err)
	assert.Contains(t, value, other.Token)
}

func TestRelease_AllowsRetry(t *testing.T) {
	guard, server := newTestGuard(t)
	ctx := context.Background()

	reservation, err := guard.Reserve(ctx, "client-a", "e1")
	require.NoError(t, err)

	require.NoError(t, guard.Release(ctx, reservation))
	assert.False(t, server.Exists(reservation.Key))

	retry, err := guard.Reserve(ctx, "client-a", "e1")
	require.NoError(t, err)
	assert.Equal(t, Accepted, retry.Outcome)
}

func TestRelease_LeavesForeignEntries(t *testing.T) {
	guard, server := newTestGuard(t)
	ctx := context.Background()

	mine, err := guard.Reserve(ctx, "client-a", "e1")
	require.NoError(t, err)
	server.FastForward(testPendingTTL + time.Second)

	theirs, err := guard.Reserve(ctx, "client-a", "e1")
	require.NoError(t, err)
	require.NoError(t, guard.Commit(ctx, theirs))

	require.NoError(t, guard.Release(ctx, mine))
	assert.True(t, server.Exists(mine.Key))

	require.NoError(t, guard.Release(ctx, theirs))
	assert.True(t, server.Exists(mine.Key), "committed records are never released")
}

func TestRelease_DuplicateIsNoop(t *testing.T) {
	guard, server := newTestGuard(t)
	ctx := context.Background()

	first, err := guard.Reserve(ctx, "client-a", "e1")
	require.NoError(t, err)
	dup, err := guard.Reserve(ctx, "client-a", "e1")
	require.NoError(t, err)

	require.NoError(t, guard.Release(ctx, dup))
	assert.True(t, server.Exists(first.Key))
}

func TestReserve_ConcurrentSubmissionsAcceptOnce(t *testing.T) {
	guard, _ := newTestGuard(t)
	ctx := context.Background()

	var accepted atomic.Int64
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reservation, err := guard.Reserve(ctx, "client-a", "e1")
			if err == nil && reservation.Outcome == Accepted {
				accepted.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), accepted.Load())
}

func TestLookup_Missing(t *testing.T) {
	guard, _ := newTestGuard(t)

	_, ok, err := guard.Lookup(context.Background(), "client-a", "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReserve_RedisUnavailable(t *testing.T) {
	guard, server := newTestGuard(t)
	server.Close()

	_, err := guard.Reserve(context.Background(), "client-a", "e1")
	assert.Error(t, err)
}

func TestReserve_PendingReleasedWhileSettlingIsAccepted(t *testing.T) {
	guard, _ := newTestGuard(t)
	guard.WithSettleWait(2 * time.Second)
	ctx := context.Background()

	first, err := guard.Reserve(ctx, "client-a", "e1")
	require.NoError(t, err)

	go func() {
		time.Sleep(100 * time.Millisecond)
		_ = guard.Release(ctx, first)
	}()

	retry, err := guard.Reserve(ctx, "client-a", "e1")
	require.NoError(t, err)
	assert.Equal(t, Accepted, retry.Outcome)
	assert.NotEqual(t, first.Token, retry.Token)
}

func TestReserve_PendingCommittedWhileSettlingIsDuplicate(t *testing.T) {
	guard, _ := newTestGuard(t)
	guard.WithSettleWait(2 * time.Second)
	ctx := context.Background()

	first, err := guard.Reserve(ctx, "client-a", "e1")
	require.NoError(t, err)

	go func() {
		time.Sleep(100 * time.Millisecond)
		_ = guard.Commit(ctx, first)
	}()

	start := time.Now()
	dup, err := guard.Reserve(ctx, "client-a", "e1")
	require.NoError(t, err)
	assert.Equal(t, Duplicate, dup.Outcome)
	assert.Less(t, time.Since(start), 2*time.Second)

	record, ok, err := guard.Lookup(ctx, "client-a", "e1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, record.Committed)
}

func TestReserve_StillPendingAfterSettleWaitIsDuplicate(t *testing.T) {
	guard, _ := newTestGuard(t)
	guard.WithSettleWait(100 * time.Millisecond)
	ctx := context.Background()

	_, err := guard.Reserve(ctx, "client-a", "e1")
	require.NoError(t, err)

	start := time.Now()
	dup, err := guard.Reserve(ctx, "client-a", "e1")
	require.NoError(t, err)
	assert.Equal(t, Duplicate, dup.Outcome)
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}

func TestReserve_CommittedAnswersWithoutSettling(t *testing.T) {
	guard, _ := newTestGuard(t)
	guard.WithSettleWait(5 * time.Second)
	ctx := context.Background()

	first, err := guard.Reserve(ctx, "client-a", "e1")
	require.NoError(t, err)
	require.NoError(t, guard.Commit(ctx, first))

	start := time.Now()
	dup, err := guard.Reserve(ctx, "client-a", "e1")
	require.NoError(t, err)
	assert.Equal(t, Duplicate, dup.Outcome)
	assert.Less(t, time.Since(start), time.Second)
}

func TestReserve_SettleStopsWithContext(t *testing.T) {
	guard, _ := newTestGuard(t)
	guard.WithSettleWait(5 * time.Second)

	_, err := guard.Reserve(context.Background(), "client-a", "e1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	_, err = guard.Reserve(ctx, "client-a", "e1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

package budget

import (
	"context"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestRedis spins up a real in-memory Redis server (miniredis) so these
// tests exercise the guard's actual INCRBY/DECRBY/EXPIRE commands, following
// the broader example pack's use of miniredis for this purpose.
func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestReserveUnderCap(t *testing.T) {
	rdb := newTestRedis(t)
	g := New(rdb)
	r := g.Reserve(context.Background(), "tenant-a", 3, 5)
	assert.True(t, r.Allowed)
	assert.Equal(t, 3, r.ReservedQueries)
}

func TestReserveStepsDownWhenOverCap(t *testing.T) {
	rdb := newTestRedis(t)
	g := New(rdb)

	first := g.Reserve(context.Background(), "tenant-a", 3, 5)
	require.True(t, first.Allowed)
	assert.Equal(t, 3, first.ReservedQueries)

	second := g.Reserve(context.Background(), "tenant-a", 3, 5)
	require.True(t, second.Allowed)
	assert.Equal(t, 2, second.ReservedQueries)
}

func TestReserveExhaustedReturnsCapReached(t *testing.T) {
	rdb := newTestRedis(t)
	g := New(rdb)

	_ = g.Reserve(context.Background(), "tenant-a", 5, 5)
	r := g.Reserve(context.Background(), "tenant-a", 3, 5)
	assert.False(t, r.Allowed)
	assert.Equal(t, SkippedDailyCapReached, r.SkippedReason)
}

func TestReserveFailsClosedOnRedisError(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	g := New(rdb)

	mr.Close()
	r := g.Reserve(context.Background(), "tenant-a", 3, 5)
	assert.False(t, r.Allowed)
	assert.Equal(t, SkippedCapGuardUnavailable, r.SkippedReason)
}

func TestReserveZeroCapIsUncapped(t *testing.T) {
	rdb := newTestRedis(t)
	g := New(rdb)
	r := g.Reserve(context.Background(), "tenant-a", 12, 0)
	assert.True(t, r.Allowed)
	assert.Equal(t, 12, r.ReservedQueries)
}

func TestReleaseDecrementsUnusedOnly(t *testing.T) {
	rdb := newTestRedis(t)
	g := New(rdb)
	r := g.Reserve(context.Background(), "tenant-a", 5, 10)
	require.True(t, r.Allowed)

	g.Release(context.Background(), r.Key, r.ReservedQueries, 2)
	val, err := rdb.Get(context.Background(), r.Key).Int64()
	require.NoError(t, err)
	assert.EqualValues(t, 2, val)
}

func TestConcurrentReservationsNeverExceedCap(t *testing.T) {
	rdb := newTestRedis(t)
	g := New(rdb)

	var wg sync.WaitGroup
	results := make([]Reservation, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			results[idx] = g.Reserve(context.Background(), "tenant-a", 3, 5)
		}(i)
	}
	wg.Wait()

	reserved := 0
	for _, r := range results {
		if r.Allowed {
			reserved += r.ReservedQueries
		}
	}
	assert.LessOrEqual(t, reserved, 5)
}

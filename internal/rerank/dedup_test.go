package rerank

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/puneetrinity/signal-sourcing/internal/queue"
)

// newTestRedis spins up a real in-memory Redis server (miniredis) so these
// tests exercise the dedup scheduler against the queue's actual Redis
// commands rather than a hand-rolled stand-in.
func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestScheduleAddsWhenNoExistingJob(t *testing.T) {
	rdb := newTestRedis(t)
	q := queue.New(rdb, "sourcing-rerank")
	s := NewScheduler(q, 2000)

	err := s.Schedule(context.Background(), "req-1")
	require.NoError(t, err)

	job, err := q.GetJob(context.Background(), JobID("req-1"))
	require.NoError(t, err)
	assert.Equal(t, queue.StateDelayed, job.State)
}

func TestScheduleSkipsWhenAlreadyWaiting(t *testing.T) {
	rdb := newTestRedis(t)
	q := queue.New(rdb, "sourcing-rerank")
	s := NewScheduler(q, 0)

	require.NoError(t, s.Schedule(context.Background(), "req-2"))
	_, err := q.PromoteDueDelayed(context.Background())
	require.NoError(t, err)

	job, err := q.GetJob(context.Background(), JobID("req-2"))
	require.NoError(t, err)
	assert.Equal(t, queue.StateWaiting, job.State)

	require.NoError(t, s.Schedule(context.Background(), "req-2"))

	job2, err := q.GetJob(context.Background(), JobID("req-2"))
	require.NoError(t, err)
	assert.Equal(t, queue.StateWaiting, job2.State)
}

func TestScheduleRemovesAndReaddsWhenCompleted(t *testing.T) {
	rdb := newTestRedis(t)
	q := queue.New(rdb, "sourcing-rerank")
	s := NewScheduler(q, 0)

	require.NoError(t, s.Schedule(context.Background(), "req-3"))
	_, err := q.PromoteDueDelayed(context.Background())
	require.NoError(t, err)
	require.NoError(t, rdb.HSet(context.Background(), "queue:sourcing-rerank:job:"+JobID("req-3"), "state", string(queue.StateCompleted)).Err())

	require.NoError(t, s.Schedule(context.Background(), "req-3"))

	job, err := q.GetJob(context.Background(), JobID("req-3"))
	require.NoError(t, err)
	assert.NotEqual(t, queue.StateMissing, job.State)
}

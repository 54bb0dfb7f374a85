package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestRedis spins up a real in-memory Redis server (miniredis) so these
// tests exercise the queue's actual RPush/ZAdd/LRem commands rather than a
// hand-rolled stand-in, following the broader example pack's use of
// miniredis for exactly this purpose.
func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestAddWaitingThenGetJob(t *testing.T) {
	rdb := newTestRedis(t)
	q := New(rdb, "sourcing")

	err := q.Add(context.Background(), "job-1", map[string]string{"requestId": "req-1"}, AddOptions{Attempts: 2, BackoffBaseMs: 10000})
	require.NoError(t, err)

	job, err := q.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, StateWaiting, job.State)
	assert.Equal(t, 2, job.MaxAttempts)

	waiting, err := rdb.LRange(context.Background(), q.waitingKey(), 0, -1).Result()
	require.NoError(t, err)
	assert.Equal(t, []string{"job-1"}, waiting)
}

func TestAddDelayedGoesToDelayedZSet(t *testing.T) {
	rdb := newTestRedis(t)
	q := New(rdb, "sourcing-rerank")

	err := q.Add(context.Background(), "rerank:req-1", nil, AddOptions{Delay: 2 * time.Second, Attempts: 1})
	require.NoError(t, err)

	job, err := q.GetJob(context.Background(), "rerank:req-1")
	require.NoError(t, err)
	assert.Equal(t, StateDelayed, job.State)

	waiting, err := rdb.LRange(context.Background(), q.waitingKey(), 0, -1).Result()
	require.NoError(t, err)
	assert.Empty(t, waiting)

	score, err := rdb.ZScore(context.Background(), q.delayedKey(), "rerank:req-1").Result()
	require.NoError(t, err)
	assert.Greater(t, score, float64(0))
}

func TestRemoveScrubsEveryStructure(t *testing.T) {
	rdb := newTestRedis(t)
	q := New(rdb, "sourcing")
	require.NoError(t, q.Add(context.Background(), "job-1", nil, AddOptions{Attempts: 1}))

	require.NoError(t, q.Remove(context.Background(), "job-1"))

	job, err := q.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, StateMissing, job.State)

	waiting, err := rdb.LRange(context.Background(), q.waitingKey(), 0, -1).Result()
	require.NoError(t, err)
	assert.NotContains(t, waiting, "job-1")
}

func TestGetJobOnUnknownIdReturnsMissingState(t *testing.T) {
	rdb := newTestRedis(t)
	q := New(rdb, "sourcing")
	job, err := q.GetJob(context.Background(), "nonexistent")
	require.NoError(t, err)
	assert.Equal(t, StateMissing, job.State)
}

func TestWorkerProcessesWaitingJobAndFiresOnCompleted(t *testing.T) {
	rdb := newTestRedis(t)
	q := New(rdb, "sourcing")
	require.NoError(t, q.Add(context.Background(), "job-1", map[string]string{"x": "y"}, AddOptions{Attempts: 2, BackoffBaseMs: 10}))

	worker := NewWorker(q, 1)
	worker.pollEvery = 5 * time.Millisecond

	completed := make(chan Job, 1)
	worker.OnCompleted = func(job Job) { completed <- job }

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	go worker.Run(ctx, func(ctx context.Context, job Job) error { return nil })

	select {
	case job := <-completed:
		assert.Equal(t, "job-1", job.ID)
	case <-time.After(150 * time.Millisecond):
		t.Fatal("expected job to complete")
	}
}

func TestWorkerRetriesThenFails(t *testing.T) {
	rdb := newTestRedis(t)
	q := New(rdb, "sourcing")
	require.NoError(t, q.Add(context.Background(), "job-1", nil, AddOptions{Attempts: 2, BackoffBaseMs: 10}))

	worker := NewWorker(q, 1)
	worker.pollEvery = 5 * time.Millisecond

	failed := make(chan Job, 1)
	worker.OnFailed = func(job Job, err error) { failed <- job }

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	go worker.Run(ctx, func(ctx context.Context, job Job) error { return assertError{} })

	select {
	case job := <-failed:
		assert.Equal(t, "job-1", job.ID)
	case <-time.After(150 * time.Millisecond):
		t.Fatal("expected job to fail after exhausting attempts")
	}
}

type assertError struct{}

func (assertError) Error() string { return "handler error" }

package queue

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Handler processes one job's payload. A returned error triggers a retry
// (if attempts remain) or a terminal failure.
type Handler func(ctx context.Context, job Job) error

// Worker consumes one queue with configurable concurrency, following §4.I's
// lifecycle contract (completed/failed/error events).
type Worker struct {
	q           *Queue
	concurrency int
	pollEvery   time.Duration

	OnCompleted func(job Job)
	OnFailed    func(job Job, err error)
	OnError     func(err error)
}

func NewWorker(q *Queue, concurrency int) *Worker {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Worker{q: q, concurrency: concurrency, pollEvery: 500 * time.Millisecond}
}

// Run blocks until ctx is cancelled, driving `concurrency` consumer
// goroutines plus one delayed-job promoter.
func (w *Worker) Run(ctx context.Context, handler Handler) {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w.runPromoter(ctx)
	}()

	for i := 0; i < w.concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.runConsumer(ctx, handler)
		}()
	}
	wg.Wait()
}

func (w *Worker) runPromoter(ctx context.Context) {
	ticker := time.NewTicker(w.pollEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.q.PromoteDueDelayed(ctx); err != nil {
				w.fireError(err)
			}
		}
	}
}

func (w *Worker) runConsumer(ctx context.Context, handler Handler) {
	ticker := time.NewTicker(w.pollEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			jobID, err := w.q.rdb.LPop(ctx, w.q.waitingKey()).Result()
			if err == redis.Nil {
				continue
			}
			if err != nil {
				w.fireError(err)
				continue
			}
			w.process(ctx, jobID, handler)
		}
	}
}

func (w *Worker) process(ctx context.Context, jobID string, handler Handler) {
	job, err := w.q.GetJob(ctx, jobID)
	if err != nil || job.State == StateMissing {
		return
	}
	w.q.rdb.HSet(ctx, w.q.jobKey(jobID), "state", string(StateActive))

	runErr := safeCall(handler, ctx, job)
	if runErr == nil {
		w.complete(ctx, jobID, job)
		return
	}

	job.AttemptsMade++
	w.q.rdb.HSet(ctx, w.q.jobKey(jobID), "attemptsMade", job.AttemptsMade)

	if job.AttemptsMade < job.MaxAttempts {
		backoff := time.Duration(job.BackoffBaseMs) * time.Millisecond * time.Duration(1<<uint(job.AttemptsMade-1))
		runAt := w.q.now().Add(backoff)
		w.q.rdb.HSet(ctx, w.q.jobKey(jobID), "state", string(StateDelayed))
		if zerr := w.q.rdb.ZAdd(ctx, w.q.delayedKey(), redis.Z{Score: float64(runAt.UnixMilli()), Member: jobID}).Err(); zerr != nil {
			w.fireError(zerr)
		}
		return
	}

	w.fail(ctx, jobID, job, runErr)
}

func safeCall(handler Handler, ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("job_id", job.ID).Msg("queue_handler_panicked")
			err = panicError{r}
		}
	}()
	return handler(ctx, job)
}

type panicError struct{ v any }

func (p panicError) Error() string { return "queue handler panicked" }

func (w *Worker) complete(ctx context.Context, jobID string, job Job) {
	w.q.rdb.HSet(ctx, w.q.jobKey(jobID), "state", string(StateCompleted))
	w.q.rdb.ZAdd(ctx, w.q.completedKey(), redis.Z{Score: float64(w.q.now().UnixMilli()), Member: jobID})
	trimRetention(ctx, w.q, w.q.completedKey(), Retention{Count: 500, Age: 24 * time.Hour})
	if w.OnCompleted != nil {
		w.OnCompleted(job)
	}
}

func (w *Worker) fail(ctx context.Context, jobID string, job Job, runErr error) {
	w.q.rdb.HSet(ctx, w.q.jobKey(jobID), "state", string(StateFailed))
	w.q.rdb.ZAdd(ctx, w.q.failedKey(), redis.Z{Score: float64(w.q.now().UnixMilli()), Member: jobID})
	trimRetention(ctx, w.q, w.q.failedKey(), Retention{Count: 2000, Age: 7 * 24 * time.Hour})
	if w.OnFailed != nil {
		w.OnFailed(job, runErr)
	}
}

func (w *Worker) fireError(err error) {
	log.Warn().Err(err).Msg("queue_worker_error")
	if w.OnError != nil {
		w.OnError(err)
	}
}

// trimRetention keeps at most r.Count members and drops anything older than
// r.Age from a completed/failed zset.
func trimRetention(ctx context.Context, q *Queue, key string, r Retention) {
	if r.Count > 0 {
		q.rdb.ZRemRangeByRank(ctx, key, 0, int64(-r.Count-1))
	}
	if r.Age > 0 {
		cutoff := q.now().Add(-r.Age).UnixMilli()
		q.rdb.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(cutoff, 10))
	}
}

// Package rerank implements §4.K: a coalescing rerank queue and the
// idempotent worker that recomputes a completed request's ranking after
// enrichment finishes for one of its candidates.
package rerank

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/puneetrinity/signal-sourcing/internal/queue"
)

// JobID derives the coalescing job id for a request's rerank job.
func JobID(requestID string) string { return fmt.Sprintf("rerank:%s", requestID) }

// Scheduler wraps the sourcing-rerank queue with the dedup protocol
// required before every schedule call.
type Scheduler struct {
	q     *queue.Queue
	delay int // milliseconds
}

// NewScheduler builds a Scheduler against the sourcing-rerank queue, using
// rerankDelayMs as the coalescing delay window.
func NewScheduler(q *queue.Queue, rerankDelayMs int) *Scheduler {
	return &Scheduler{q: q, delay: rerankDelayMs}
}

// Schedule implements the §4.K dedup protocol: if a rerank job for this
// request is already waiting/delayed/active, this completion will be picked
// up by it and nothing further is needed. If one previously finished
// (completed/failed), it is removed and a fresh one is added. Any error from
// Add is logged and swallowed. Add does not check for an existing job id, so
// a concurrent notifier that also passes the state check enqueues the same
// id a second time.
func (s *Scheduler) Schedule(ctx context.Context, requestID string) error {
	jobID := JobID(requestID)

	job, err := s.q.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("get rerank job: %w", err)
	}

	switch job.State {
	case queue.StateWaiting, queue.StateDelayed, queue.StateActive:
		return nil
	case queue.StateCompleted, queue.StateFailed:
		if err := s.q.Remove(ctx, jobID); err != nil {
			return fmt.Errorf("remove finished rerank job: %w", err)
		}
	}

	opts := queue.AddOptions{
		Delay:         time.Duration(s.delay) * time.Millisecond,
		Attempts:      2,
		BackoffBaseMs: 10000,
	}
	if err := s.q.Add(ctx, jobID, map[string]string{"requestId": requestID}, opts); err != nil {
		log.Debug().Err(err).Str("job_id", jobID).Msg("rerank_schedule_duplicate_swallowed")
		return nil
	}
	return nil
}

package callback

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/puneetrinity/signal-sourcing/internal/model"
)

// SweepLister is the subset of RequestStore the re-delivery sweeper needs.
type SweepLister interface {
	ListCallbackFailedForSweep(ctx context.Context, maxAge time.Duration, batchSize int, tenantID string) ([]model.SourcingRequest, error)
}

// Sweeper periodically re-attempts delivery for requests stuck in
// callback_failed, guarded against overlapping cycles (§4.J re-delivery
// sweeper).
type Sweeper struct {
	lister     SweepLister
	dispatcher *Dispatcher
	interval   time.Duration
	maxAge     time.Duration
	batchSize  int
	running    int32
}

// NewSweeper builds a Sweeper from config-derived intervals.
func NewSweeper(lister SweepLister, dispatcher *Dispatcher, interval, maxAge time.Duration, batchSize int) *Sweeper {
	return &Sweeper{lister: lister, dispatcher: dispatcher, interval: interval, maxAge: maxAge, batchSize: batchSize}
}

// Run blocks until ctx is cancelled, ticking every s.interval.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *Sweeper) sweepOnce(ctx context.Context) {
	if !atomic.CompareAndSwapInt32(&s.running, 0, 1) {
		log.Debug().Msg("callback_sweep_skipped_already_running")
		return
	}
	defer atomic.StoreInt32(&s.running, 0)

	requests, err := s.lister.ListCallbackFailedForSweep(ctx, s.maxAge, s.batchSize, "")
	if err != nil {
		log.Warn().Err(err).Msg("callback_sweep_list_failed")
		return
	}

	for _, req := range requests {
		payload := Payload{
			Version:        1,
			RequestID:      req.ID,
			ExternalJobID:  req.ExternalJobID,
			Status:         "complete",
			CandidateCount: req.ResultCount,
			EnrichedCount:  0,
		}
		if err := s.dispatcher.Deliver(ctx, req.TenantID, req.ID, req.CallbackURL, payload); err != nil {
			log.Warn().Err(err).Str("request_id", req.ID).Msg("callback_sweep_redelivery_failed")
		}
	}
}

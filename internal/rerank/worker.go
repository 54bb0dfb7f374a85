package rerank

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/puneetrinity/signal-sourcing/internal/config"
	"github.com/puneetrinity/signal-sourcing/internal/model"
	"github.com/puneetrinity/signal-sourcing/internal/rank"
	"github.com/puneetrinity/signal-sourcing/internal/requirements"
	"github.com/puneetrinity/signal-sourcing/internal/store"
)

// RequestLoader is the subset of RequestStore the rerank worker needs.
type RequestLoader interface {
	Get(ctx context.Context, id string) (model.SourcingRequest, error)
}

// CandidateLoader is the subset of SourcingCandidateStore the rerank worker
// needs to read the existing assembly.
type CandidateLoader interface {
	ListByRequest(ctx context.Context, requestID string) ([]model.SourcingCandidate, error)
}

// CandidateWriter persists the recomputed ranking (§4.K step 4).
type CandidateWriter interface {
	ReplaceRanksAndScores(ctx context.Context, requestID string, rows []model.SourcingCandidate, rerankedAt time.Time) error
}

// PoolByIDsLoader reloads specific candidates with their snapshot for a
// track filter, used to rebuild rank.Input for an existing assembly.
type PoolByIDsLoader interface {
	LoadByIDs(ctx context.Context, tenantID string, ids []string, trackFilter []model.Track) ([]store.PoolEntry, error)
}

// Worker recomputes a completed request's ranking from scratch, idempotent
// by construction (§4.K rerank worker).
type Worker struct {
	cfg        config.Config
	requests   RequestLoader
	candidates CandidateLoader
	writer     CandidateWriter
	pool       PoolByIDsLoader
	now        func() time.Time
}

func NewWorker(cfg config.Config, requests RequestLoader, candidates CandidateLoader, writer CandidateWriter, pool PoolByIDsLoader) *Worker {
	return &Worker{cfg: cfg, requests: requests, candidates: candidates, writer: writer, pool: pool, now: time.Now}
}

// trackDecisionFromDiagnostics extracts the track used by the original
// orchestration run, so the rerank reloads candidates under the same track
// filter the assembly was built with.
func trackDecisionFromDiagnostics(diag map[string]json.RawMessage) (model.TrackDecision, bool) {
	raw, ok := diag["trackDecision"]
	if !ok {
		return model.TrackDecision{}, false
	}
	var td model.TrackDecision
	if err := json.Unmarshal(raw, &td); err != nil {
		return model.TrackDecision{}, false
	}
	return td, true
}

func trackFilterFor(t model.Track) []model.Track {
	switch t {
	case model.TrackTech:
		return []model.Track{model.TrackTech}
	case model.TrackNonTech:
		return []model.Track{model.TrackNonTech}
	default:
		return []model.Track{model.TrackTech, model.TrackNonTech}
	}
}

// Process reruns §4.E over a request's existing assembly and persists the
// new ranks/scores. It is safe to call multiple times for the same request;
// each call recomputes everything afresh from persisted state.
func (w *Worker) Process(ctx context.Context, requestID string) error {
	req, err := w.requests.Get(ctx, requestID)
	if err != nil {
		return fmt.Errorf("load rerank request %s: %w", requestID, err)
	}
	if req.Status != model.RequestComplete {
		log.Debug().Str("request_id", requestID).Str("status", string(req.Status)).Msg("rerank_skipped_not_complete")
		return nil
	}

	existing, err := w.candidates.ListByRequest(ctx, requestID)
	if err != nil {
		return fmt.Errorf("load sourcing candidates for %s: %w", requestID, err)
	}
	if len(existing) == 0 {
		return nil
	}

	trackDecision, ok := trackDecisionFromDiagnostics(req.Diagnostics)
	if !ok {
		log.Warn().Str("request_id", requestID).Msg("rerank_skipped_invalid_job_context")
		return nil
	}

	ids := make([]string, len(existing))
	sourceByID := make(map[string]model.SourceType, len(existing))
	for i, row := range existing {
		ids[i] = row.CandidateID
		sourceByID[row.CandidateID] = row.SourceType
	}

	entries, err := w.pool.LoadByIDs(ctx, req.TenantID, ids, trackFilterFor(trackDecision.Track))
	if err != nil {
		return fmt.Errorf("reload candidates for rerank %s: %w", requestID, err)
	}

	reqModel := requirements.Build(req.JobContext)
	inputs := make([]rank.Input, 0, len(entries))
	for _, e := range entries {
		inputs = append(inputs, rank.Input{Candidate: e.Candidate, Snapshot: e.Snapshot})
	}

	rankCfg := rank.Config{FitScoreEpsilon: w.cfg.FitScoreEpsilon, LocationBoostWeight: w.cfg.LocationBoostWeight}
	scored := rank.Rank(inputs, reqModel, rankCfg)
	rank.SortStrictBeforeExpanded(scored, w.cfg.FitScoreEpsilon)

	enrichByID := make(map[string]model.EnrichmentStatus, len(entries))
	for _, e := range entries {
		enrichByID[e.Candidate.ID] = e.Candidate.EnrichmentStatus
	}

	rows := make([]model.SourcingCandidate, 0, len(scored))
	for i, s := range scored {
		sourceType, ok := sourceByID[s.CandidateID]
		if !ok {
			continue
		}
		rows = append(rows, model.SourcingCandidate{
			RequestID:        requestID,
			CandidateID:      s.CandidateID,
			FitScore:         s.FitScore,
			FitBreakdown:     s.Breakdown,
			SourceType:       sourceType,
			EnrichmentStatus: enrichByID[s.CandidateID],
			Rank:             i + 1,
		})
	}

	return w.writer.ReplaceRanksAndScores(ctx, requestID, rows, w.now())
}

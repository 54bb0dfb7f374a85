package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/puneetrinity/signal-sourcing/internal/model"
)

// SourcingCandidateStore persists the per-request ranked assembly.
type SourcingCandidateStore struct {
	*Store
}

func NewSourcingCandidateStore(s *Store) *SourcingCandidateStore { return &SourcingCandidateStore{Store: s} }

// ReplaceAssembly deletes any existing rows for requestID and inserts rows
// in one transaction, so a reader never observes a partially replaced
// assembly (§4.H.10), following the teacher's playground_store.go
// delete-then-recreate pattern.
func (s *SourcingCandidateStore) ReplaceAssembly(ctx context.Context, requestID string, rows []model.SourcingCandidate) error {
	return s.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM sourcing_candidates WHERE request_id=$1`, requestID); err != nil {
			return err
		}
		for _, row := range rows {
			breakdown, err := json.Marshal(row.FitBreakdown)
			if err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, `
INSERT INTO sourcing_candidates (request_id, candidate_id, fit_score, fit_breakdown, source_type, enrichment_status, rank)
VALUES ($1,$2,$3,$4,$5,$6,$7)`,
				requestID, row.CandidateID, row.FitScore, breakdown, string(row.SourceType), string(row.EnrichmentStatus), row.Rank,
			); err != nil {
				return err
			}
		}
		return nil
	})
}

// ReplaceRanksAndScores updates fit score/breakdown/rank for every row of a
// rerank pass in one transaction, without touching source_type — a rerank
// re-orders and re-scores, it never changes how a candidate entered the
// result set (§4.K).
func (s *SourcingCandidateStore) ReplaceRanksAndScores(ctx context.Context, requestID string, rows []model.SourcingCandidate, rerankedAt time.Time) error {
	return s.WithTx(ctx, func(tx pgx.Tx) error {
		for _, row := range rows {
			breakdown, err := json.Marshal(row.FitBreakdown)
			if err != nil {
				return err
			}
			if _, err := tx.Exec(ctx, `
UPDATE sourcing_candidates SET fit_score=$1, fit_breakdown=$2, rank=$3
WHERE request_id=$4 AND candidate_id=$5`,
				row.FitScore, breakdown, row.Rank, requestID, row.CandidateID,
			); err != nil {
				return err
			}
		}
		_, err := tx.Exec(ctx, `UPDATE sourcing_requests SET last_reranked_at=$1, updated_at=$1 WHERE id=$2`, rerankedAt, requestID)
		return err
	})
}

// ListRequestIDsForCandidate finds every complete request containing a
// given candidate, used to fan a completed-enrichment notification out into
// rerank jobs for each of them (§4.K trigger).
func (s *SourcingCandidateStore) ListRequestIDsForCandidate(ctx context.Context, candidateID string) ([]string, error) {
	rows, err := s.Pool.Query(ctx, `
SELECT sc.request_id FROM sourcing_candidates sc
JOIN sourcing_requests sr ON sr.id = sc.request_id
WHERE sc.candidate_id=$1 AND sr.status='complete'`, candidateID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// ListByRequest loads a request's assembled, ranked candidates in rank
// order.
func (s *SourcingCandidateStore) ListByRequest(ctx context.Context, requestID string) ([]model.SourcingCandidate, error) {
	rows, err := s.Pool.Query(ctx, `
SELECT request_id, candidate_id, fit_score, fit_breakdown, source_type, enrichment_status, rank
FROM sourcing_candidates WHERE request_id=$1 ORDER BY rank ASC`, requestID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.SourcingCandidate
	for rows.Next() {
		var sc model.SourcingCandidate
		var breakdown []byte
		if err := rows.Scan(&sc.RequestID, &sc.CandidateID, &sc.FitScore, &breakdown, &sc.SourceType, &sc.EnrichmentStatus, &sc.Rank); err != nil {
			return nil, err
		}
		_ = json.Unmarshal(breakdown, &sc.FitBreakdown)
		out = append(out, sc)
	}
	return out, rows.Err()
}

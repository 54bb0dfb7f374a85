package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/puneetrinity/signal-sourcing/internal/model"
)

// RequestStore persists SourcingRequest rows.
type RequestStore struct {
	*Store
}

func NewRequestStore(s *Store) *RequestStore { return &RequestStore{Store: s} }

var ErrRequestNotFound = errors.New("sourcing request not found")

func (r *RequestStore) Get(ctx context.Context, id string) (model.SourcingRequest, error) {
	var req model.SourcingRequest
	var jobCtxRaw, diagRaw []byte
	err := r.Pool.QueryRow(ctx, `
SELECT id, tenant_id, external_job_id, callback_url, job_context, status, diagnostics, result_count, queries_executed,
	callback_attempts, last_callback_error, completed_at, last_reranked_at, created_at, updated_at
FROM sourcing_requests WHERE id=$1`, id).Scan(
		&req.ID, &req.TenantID, &req.ExternalJobID, &req.CallbackURL, &jobCtxRaw, &req.Status, &diagRaw,
		&req.ResultCount, &req.QueriesExecuted, &req.CallbackAttempts, &req.LastCallbackError,
		&req.CompletedAt, &req.LastRerankedAt, &req.CreatedAt, &req.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.SourcingRequest{}, ErrRequestNotFound
	}
	if err != nil {
		return model.SourcingRequest{}, err
	}
	_ = json.Unmarshal(jobCtxRaw, &req.JobContext)
	var diag map[string]json.RawMessage
	_ = json.Unmarshal(diagRaw, &diag)
	req.Diagnostics = diag
	return req, nil
}

// TransitionStatus sets status unconditionally, used for queued->processing.
func (r *RequestStore) TransitionStatus(ctx context.Context, id string, status model.RequestStatus) error {
	_, err := r.Pool.Exec(ctx, `UPDATE sourcing_requests SET status=$1, updated_at=now() WHERE id=$2`, string(status), id)
	return err
}

// TransitionStatusWithDiagnostics sets status and merges diagnostics onto the
// existing diagnostics map in one update, used for the failure path where
// diagnostics.trackDecision must survive the transition to failed (§7).
func (r *RequestStore) TransitionStatusWithDiagnostics(ctx context.Context, id string, status model.RequestStatus, mergeDiag map[string]json.RawMessage) error {
	existing, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	merged := map[string]json.RawMessage{}
	for k, v := range existing.Diagnostics {
		merged[k] = v
	}
	for k, v := range mergeDiag {
		merged[k] = v
	}
	payload, err := json.Marshal(merged)
	if err != nil {
		return err
	}
	_, err = r.Pool.Exec(ctx, `UPDATE sourcing_requests SET status=$1, diagnostics=$2, updated_at=now() WHERE id=$3`,
		string(status), payload, id)
	return err
}

// CompleteWithDiagnostics sets status=complete and merges orchestrator
// diagnostics onto the existing diagnostics map, preserving the previously
// written trackDecision sub-field (§4.I step 2).
func (r *RequestStore) CompleteWithDiagnostics(ctx context.Context, id string, resultCount, queriesExecuted int, mergeDiag map[string]json.RawMessage) error {
	existing, err := r.Get(ctx, id)
	if err != nil {
		return err
	}
	merged := map[string]json.RawMessage{}
	for k, v := range existing.Diagnostics {
		merged[k] = v
	}
	for k, v := range mergeDiag {
		merged[k] = v
	}
	payload, err := json.Marshal(merged)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	_, err = r.Pool.Exec(ctx, `
UPDATE sourcing_requests SET status='complete', completed_at=$1, result_count=$2, queries_executed=$3, diagnostics=$4, updated_at=$1
WHERE id=$5`, now, resultCount, queriesExecuted, payload, id)
	return err
}

func (r *RequestStore) IncrementCallbackAttempt(ctx context.Context, id string, lastErr *string) error {
	_, err := r.Pool.Exec(ctx, `
UPDATE sourcing_requests SET callback_attempts = callback_attempts + 1, last_callback_error=$1, updated_at=now() WHERE id=$2`,
		lastErr, id)
	return err
}

func (r *RequestStore) SetCallbackSent(ctx context.Context, id string) error {
	_, err := r.Pool.Exec(ctx, `UPDATE sourcing_requests SET status='callback_sent', updated_at=now() WHERE id=$1`, id)
	return err
}

func (r *RequestStore) SetCallbackFailed(ctx context.Context, id string) error {
	_, err := r.Pool.Exec(ctx, `UPDATE sourcing_requests SET status='callback_failed', updated_at=now() WHERE id=$1`, id)
	return err
}

func (r *RequestStore) SetLastRerankedAt(ctx context.Context, id string, when time.Time) error {
	_, err := r.Pool.Exec(ctx, `UPDATE sourcing_requests SET last_reranked_at=$1, updated_at=now() WHERE id=$2`, when, id)
	return err
}

// ListCallbackFailedForSweep finds requests eligible for re-delivery:
// status=callback_failed and completedAt older than maxAge.
func (r *RequestStore) ListCallbackFailedForSweep(ctx context.Context, maxAge time.Duration, batchSize int, tenantID string) ([]model.SourcingRequest, error) {
	cutoff := time.Now().UTC().Add(-maxAge)
	var rows pgx.Rows
	var err error
	if tenantID == "" {
		rows, err = r.Pool.Query(ctx, `
SELECT id, tenant_id, external_job_id, callback_url, result_count, callback_attempts, completed_at
FROM sourcing_requests WHERE status='callback_failed' AND completed_at < $1 ORDER BY completed_at ASC LIMIT $2`, cutoff, batchSize)
	} else {
		rows, err = r.Pool.Query(ctx, `
SELECT id, tenant_id, external_job_id, callback_url, result_count, callback_attempts, completed_at
FROM sourcing_requests WHERE status='callback_failed' AND completed_at < $1 AND tenant_id=$2 ORDER BY completed_at ASC LIMIT $3`, cutoff, tenantID, batchSize)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.SourcingRequest
	for rows.Next() {
		var req model.SourcingRequest
		if err := rows.Scan(&req.ID, &req.TenantID, &req.ExternalJobID, &req.CallbackURL, &req.ResultCount,
			&req.CallbackAttempts, &req.CompletedAt); err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

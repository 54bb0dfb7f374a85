package store

import "context"

// Init creates every table this core owns, idempotently, following the
// teacher's CREATE TABLE IF NOT EXISTS + ALTER TABLE ADD COLUMN IF NOT
// EXISTS migration style (specialists_store.go's Init).
func Init(ctx context.Context, pool Execer) error {
	_, err := pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS candidates (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	profile_url TEXT NOT NULL,
	profile_handle TEXT NOT NULL,
	search_provider TEXT NOT NULL DEFAULT '',
	search_query TEXT NOT NULL DEFAULT '',
	search_title TEXT NOT NULL DEFAULT '',
	search_snippet TEXT NOT NULL DEFAULT '',
	search_meta JSONB NOT NULL DEFAULT '{}',
	name_hint TEXT,
	headline_hint TEXT,
	location_hint TEXT,
	company_hint TEXT,
	enrichment_status TEXT NOT NULL DEFAULT 'pending',
	last_enriched_at TIMESTAMPTZ,
	role_type TEXT,
	confidence_score DOUBLE PRECISION,
	capture_source TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS candidates_tenant_handle_idx ON candidates(tenant_id, profile_handle);
CREATE INDEX IF NOT EXISTS candidates_tenant_updated_idx ON candidates(tenant_id, updated_at DESC);

CREATE TABLE IF NOT EXISTS intelligence_snapshots (
	candidate_id TEXT NOT NULL REFERENCES candidates(id) ON DELETE CASCADE,
	track TEXT NOT NULL,
	skills_normalized JSONB NOT NULL DEFAULT '[]',
	role_type TEXT NOT NULL DEFAULT '',
	seniority_band TEXT NOT NULL DEFAULT '',
	location TEXT NOT NULL DEFAULT '',
	activity_recency_days INT,
	computed_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	stale_after TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (candidate_id, track)
);

CREATE TABLE IF NOT EXISTS sourcing_requests (
	id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	external_job_id TEXT NOT NULL DEFAULT '',
	callback_url TEXT NOT NULL DEFAULT '',
	job_context JSONB NOT NULL DEFAULT '{}',
	status TEXT NOT NULL DEFAULT 'queued',
	diagnostics JSONB NOT NULL DEFAULT '{}',
	result_count INT NOT NULL DEFAULT 0,
	queries_executed INT NOT NULL DEFAULT 0,
	callback_attempts INT NOT NULL DEFAULT 0,
	last_callback_error TEXT,
	completed_at TIMESTAMPTZ,
	last_reranked_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS sourcing_requests_status_idx ON sourcing_requests(status);
CREATE INDEX IF NOT EXISTS sourcing_requests_callback_failed_idx ON sourcing_requests(status, completed_at) WHERE status = 'callback_failed';

CREATE TABLE IF NOT EXISTS sourcing_candidates (
	request_id TEXT NOT NULL REFERENCES sourcing_requests(id) ON DELETE CASCADE,
	candidate_id TEXT NOT NULL REFERENCES candidates(id) ON DELETE CASCADE,
	fit_score DOUBLE PRECISION NOT NULL,
	fit_breakdown JSONB NOT NULL DEFAULT '{}',
	source_type TEXT NOT NULL,
	enrichment_status TEXT NOT NULL,
	rank INT NOT NULL,
	PRIMARY KEY (request_id, candidate_id)
);

CREATE INDEX IF NOT EXISTS sourcing_candidates_request_rank_idx ON sourcing_candidates(request_id, rank);
`)
	return err
}

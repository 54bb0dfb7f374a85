package store

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/puneetrinity/signal-sourcing/internal/hints"
	"github.com/puneetrinity/signal-sourcing/internal/model"
	"github.com/puneetrinity/signal-sourcing/internal/serp"
)

// CandidateStore persists Candidate rows and their intelligence snapshots.
type CandidateStore struct {
	*Store
}

func NewCandidateStore(s *Store) *CandidateStore { return &CandidateStore{Store: s} }

func profileHandle(profileURL string) string {
	u := strings.TrimSuffix(strings.TrimSpace(profileURL), "/")
	if idx := strings.LastIndex(u, "/"); idx >= 0 {
		return u[idx+1:]
	}
	return u
}

// IsHandleSeen reports whether a candidate with this profile handle
// already exists for the tenant (used to dedupe SERP results tenant-wide).
func (c *CandidateStore) IsHandleSeen(ctx context.Context, tenantID, profileURL string) (bool, error) {
	handle := profileHandle(profileURL)
	var exists bool
	err := c.Pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM candidates WHERE tenant_id=$1 AND profile_handle=$2)`,
		tenantID, handle,
	).Scan(&exists)
	return exists, err
}

// UpsertFromSERP creates or updates a Candidate row from a SERP hit,
// applying the replace-when-strictly-better rule to the headline and
// location hints (a stored name hint is kept; a missing one is filled from
// the hit) while updating searchMeta unconditionally (§4.F step 3).
func (c *CandidateStore) UpsertFromSERP(ctx context.Context, tenantID string, profile serp.ProfileSummary, query string) (model.Candidate, error) {
	handle := profileHandle(profile.ProfileURL)

	existing, err := c.getByHandle(ctx, tenantID, handle)
	if err != nil {
		return model.Candidate{}, err
	}

	now := time.Now().UTC()
	meta := profile.ProviderMeta
	if meta == nil {
		meta = json.RawMessage("{}")
	}

	nameHint := hints.Normalize(profile.Name)
	headlineHint := replaceHintIfBetter(existing.HeadlineHint, hints.Normalize(profile.Headline))
	locationHint := replaceLocationHintIfBetter(existing.LocationHint, hints.Normalize(profile.Location))

	if existing.ID != "" {
		_, err := c.Pool.Exec(ctx, `
UPDATE candidates SET search_query=$1, search_title=$2, search_snippet=$3, search_meta=$4,
	name_hint=COALESCE(name_hint, $5), headline_hint=$6, location_hint=$7, updated_at=$8
WHERE id=$9`,
			query, profile.Title, profile.Snippet, []byte(meta),
			derefStr(nameHint), derefStr(headlineHint), derefStr(locationHint), now, existing.ID,
		)
		if err != nil {
			return model.Candidate{}, err
		}
		existing.HeadlineHint = headlineHint
		existing.LocationHint = locationHint
		existing.UpdatedAt = now
		return existing, nil
	}

	id := uuid.NewString()
	cand := model.Candidate{
		ID:               id,
		TenantID:         tenantID,
		ProfileURL:       profile.ProfileURL,
		ProfileHandle:    handle,
		SearchQuery:      query,
		SearchTitle:      profile.Title,
		SearchSnippet:    profile.Snippet,
		SearchMeta:       meta,
		NameHint:         nameHint,
		HeadlineHint:     headlineHint,
		LocationHint:     locationHint,
		EnrichmentStatus: model.EnrichmentPending,
		CaptureSource:    "sourcing",
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	_, err = c.Pool.Exec(ctx, `
INSERT INTO candidates (id, tenant_id, profile_url, profile_handle, search_query, search_title, search_snippet, search_meta,
	name_hint, headline_hint, location_hint, enrichment_status, capture_source, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
ON CONFLICT (tenant_id, profile_handle) DO NOTHING`,
		cand.ID, cand.TenantID, cand.ProfileURL, cand.ProfileHandle, cand.SearchQuery, cand.SearchTitle, cand.SearchSnippet, []byte(cand.SearchMeta),
		derefStr(cand.NameHint), derefStr(cand.HeadlineHint), derefStr(cand.LocationHint), string(cand.EnrichmentStatus), cand.CaptureSource, cand.CreatedAt, cand.UpdatedAt,
	)
	if err != nil {
		return model.Candidate{}, err
	}
	return cand, nil
}

func (c *CandidateStore) getByHandle(ctx context.Context, tenantID, handle string) (model.Candidate, error) {
	var cand model.Candidate
	var nameHint, headlineHint, locationHint, companyHint *string
	row := c.Pool.QueryRow(ctx, `
SELECT id, tenant_id, profile_url, profile_handle, enrichment_status, name_hint, headline_hint, location_hint, company_hint, updated_at
FROM candidates WHERE tenant_id=$1 AND profile_handle=$2`, tenantID, handle)
	err := row.Scan(&cand.ID, &cand.TenantID, &cand.ProfileURL, &cand.ProfileHandle, &cand.EnrichmentStatus,
		&nameHint, &headlineHint, &locationHint, &companyHint, &cand.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Candidate{}, nil // not found: zero-value Candidate, ID == ""
	}
	if err != nil {
		return model.Candidate{}, err
	}
	cand.NameHint, cand.HeadlineHint, cand.LocationHint, cand.CompanyHint = nameHint, headlineHint, locationHint, companyHint
	return cand, nil
}

func replaceHintIfBetter(existing, incoming *string) *string {
	if incoming == nil {
		return existing
	}
	if existing == nil {
		if hints.IsNoisy(*incoming) {
			return nil
		}
		return incoming
	}
	if hints.ShouldReplace(*existing, *incoming) {
		return incoming
	}
	return existing
}

func replaceLocationHintIfBetter(existing, incoming *string) *string {
	if incoming == nil {
		return existing
	}
	if existing == nil {
		if !hints.IsLikelyLocationHint(*incoming) {
			return nil
		}
		return incoming
	}
	if hints.ShouldReplaceLocationHint(*existing, *incoming) {
		return incoming
	}
	return existing
}

func derefStr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// LoadPool loads the tenant's most recently updated candidates (capped at
// limit) along with their latest snapshot under trackFilter, per §4.H
// step 2.
func (c *CandidateStore) LoadPool(ctx context.Context, tenantID string, limit int, trackFilter []model.Track) ([]PoolEntry, error) {
	rows, err := c.Pool.Query(ctx, `
SELECT id, tenant_id, profile_url, profile_handle, search_provider, search_query, search_title, search_snippet, search_meta,
	name_hint, headline_hint, location_hint, company_hint, enrichment_status, last_enriched_at, role_type, confidence_score,
	capture_source, created_at, updated_at
FROM candidates WHERE tenant_id=$1 ORDER BY updated_at DESC LIMIT $2`, tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []PoolEntry
	var ids []string
	byID := map[string]*PoolEntry{}
	for rows.Next() {
		var cand model.Candidate
		var meta []byte
		if err := rows.Scan(&cand.ID, &cand.TenantID, &cand.ProfileURL, &cand.ProfileHandle, &cand.SearchProvider,
			&cand.SearchQuery, &cand.SearchTitle, &cand.SearchSnippet, &meta,
			&cand.NameHint, &cand.HeadlineHint, &cand.LocationHint, &cand.CompanyHint, &cand.EnrichmentStatus,
			&cand.LastEnrichedAt, &cand.RoleType, &cand.ConfidenceScore, &cand.CaptureSource, &cand.CreatedAt, &cand.UpdatedAt,
		); err != nil {
			return nil, err
		}
		cand.SearchMeta = meta
		entry := PoolEntry{Candidate: cand}
		entries = append(entries, entry)
		ids = append(ids, cand.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range entries {
		byID[entries[i].Candidate.ID] = &entries[i]
	}

	if len(ids) == 0 || len(trackFilter) == 0 {
		return entries, nil
	}
	tracks := make([]string, len(trackFilter))
	for i, t := range trackFilter {
		tracks[i] = string(t)
	}

	snapRows, err := c.Pool.Query(ctx, `
SELECT candidate_id, track, skills_normalized, role_type, seniority_band, location, activity_recency_days, computed_at, stale_after
FROM intelligence_snapshots WHERE candidate_id = ANY($1) AND track = ANY($2)`, ids, tracks)
	if err != nil {
		return nil, err
	}
	defer snapRows.Close()

	preferTech := len(trackFilter) > 1
	for snapRows.Next() {
		var snap model.IntelligenceSnapshot
		var skills []byte
		if err := snapRows.Scan(&snap.CandidateID, &snap.Track, &skills, &snap.RoleType, &snap.SeniorityBand,
			&snap.Location, &snap.ActivityRecencyDays, &snap.ComputedAt, &snap.StaleAfter); err != nil {
			return nil, err
		}
		_ = json.Unmarshal(skills, &snap.SkillsNormalized)

		entry, ok := byID[snap.CandidateID]
		if !ok {
			continue
		}
		if entry.Snapshot == nil || (preferTech && snap.Track == model.TrackTech) {
			s := snap
			entry.Snapshot = &s
		}
	}
	return entries, snapRows.Err()
}

// PoolEntry pairs a candidate with the selected snapshot for the request's
// track filter.
type PoolEntry struct {
	Candidate model.Candidate
	Snapshot  *model.IntelligenceSnapshot
}

// LoadByIDs loads a specific set of candidates (and their snapshot for the
// given track filter), used by the rerank worker to reload the exact rows
// of an existing assembly rather than the full tenant pool (§4.K step 2).
func (c *CandidateStore) LoadByIDs(ctx context.Context, tenantID string, ids []string, trackFilter []model.Track) ([]PoolEntry, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := c.Pool.Query(ctx, `
SELECT id, tenant_id, profile_url, profile_handle, search_provider, search_query, search_title, search_snippet, search_meta,
	name_hint, headline_hint, location_hint, company_hint, enrichment_status, last_enriched_at, role_type, confidence_score,
	capture_source, created_at, updated_at
FROM candidates WHERE tenant_id=$1 AND id = ANY($2)`, tenantID, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []PoolEntry
	byID := map[string]*PoolEntry{}
	for rows.Next() {
		var cand model.Candidate
		var meta []byte
		if err := rows.Scan(&cand.ID, &cand.TenantID, &cand.ProfileURL, &cand.ProfileHandle, &cand.SearchProvider,
			&cand.SearchQuery, &cand.SearchTitle, &cand.SearchSnippet, &meta,
			&cand.NameHint, &cand.HeadlineHint, &cand.LocationHint, &cand.CompanyHint, &cand.EnrichmentStatus,
			&cand.LastEnrichedAt, &cand.RoleType, &cand.ConfidenceScore, &cand.CaptureSource, &cand.CreatedAt, &cand.UpdatedAt,
		); err != nil {
			return nil, err
		}
		cand.SearchMeta = meta
		entries = append(entries, PoolEntry{Candidate: cand})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range entries {
		byID[entries[i].Candidate.ID] = &entries[i]
	}

	if len(trackFilter) == 0 {
		return entries, nil
	}
	tracks := make([]string, len(trackFilter))
	for i, t := range trackFilter {
		tracks[i] = string(t)
	}

	snapRows, err := c.Pool.Query(ctx, `
SELECT candidate_id, track, skills_normalized, role_type, seniority_band, location, activity_recency_days, computed_at, stale_after
FROM intelligence_snapshots WHERE candidate_id = ANY($1) AND track = ANY($2)`, ids, tracks)
	if err != nil {
		return nil, err
	}
	defer snapRows.Close()

	preferTech := len(trackFilter) > 1
	for snapRows.Next() {
		var snap model.IntelligenceSnapshot
		var skills []byte
		if err := snapRows.Scan(&snap.CandidateID, &snap.Track, &skills, &snap.RoleType, &snap.SeniorityBand,
			&snap.Location, &snap.ActivityRecencyDays, &snap.ComputedAt, &snap.StaleAfter); err != nil {
			return nil, err
		}
		_ = json.Unmarshal(skills, &snap.SkillsNormalized)

		entry, ok := byID[snap.CandidateID]
		if !ok {
			continue
		}
		if entry.Snapshot == nil || (preferTech && snap.Track == model.TrackTech) {
			s := snap
			entry.Snapshot = &s
		}
	}
	return entries, snapRows.Err()
}

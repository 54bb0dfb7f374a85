package store

import (
	"context"
	"time"
)

// NoveltyStore answers "who has already been shown for this kind of role
// recently" for the novelty-suppression backfill rule (§4.L).
type NoveltyStore struct {
	*Store
}

func NewNoveltyStore(s *Store) *NoveltyStore { return &NoveltyStore{Store: s} }

// GetRecentlyExposedCandidateIds returns candidate ids that appeared in any
// assembled result for this tenant/roleFamily/location whose owning request
// completed within the trailing windowDays, regardless of source_type — a
// candidate shown yesterday as a pool hit still counts as exposed today.
func (n *NoveltyStore) GetRecentlyExposedCandidateIds(ctx context.Context, tenantID, roleFamily, location string, windowDays int) (map[string]bool, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -windowDays)

	rows, err := n.Pool.Query(ctx, `
SELECT DISTINCT sc.candidate_id
FROM sourcing_candidates sc
JOIN sourcing_requests sr ON sr.id = sc.request_id
JOIN candidates c ON c.id = sc.candidate_id
WHERE sr.tenant_id = $1
  AND sr.completed_at >= $2
  AND c.role_type = $3
  AND c.location_hint = $4`, tenantID, cutoff, roleFamily, location)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	exposed := map[string]bool{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		exposed[id] = true
	}
	return exposed, rows.Err()
}

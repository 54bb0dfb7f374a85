package discovery

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/puneetrinity/signal-sourcing/internal/model"
	"github.com/puneetrinity/signal-sourcing/internal/serp"
)

type fakeProvider struct {
	resultsPerQuery map[string][]serp.ProfileSummary
}

func (f *fakeProvider) SearchLinkedInProfilesWithMeta(ctx context.Context, query string, limit int) (serp.Result, error) {
	return serp.Result{Results: f.resultsPerQuery[query], ProviderUsed: "fake"}, nil
}

type fakeStore struct {
	seen  map[string]bool
	count int
}

func (f *fakeStore) IsHandleSeen(ctx context.Context, tenantID, profileHandle string) (bool, error) {
	return f.seen[profileHandle], nil
}

func (f *fakeStore) UpsertFromSERP(ctx context.Context, tenantID string, profile serp.ProfileSummary, query string) (model.Candidate, error) {
	f.count++
	f.seen[profile.ProfileURL] = true
	return model.Candidate{ID: profile.ProfileURL, TenantID: tenantID, ProfileURL: profile.ProfileURL}, nil
}

func TestRunStopsAtTargetCount(t *testing.T) {
	plan := Plan{Strict: []string{"q1", "q2", "q3"}}
	provider := &fakeProvider{resultsPerQuery: map[string][]serp.ProfileSummary{
		"q1": {{ProfileURL: "p1"}, {ProfileURL: "p2"}},
		"q2": {{ProfileURL: "p3"}},
	}}
	store := &fakeStore{seen: map[string]bool{}}

	result := Run(context.Background(), plan, provider, store, "tenant-a", 10, 3, AdaptiveConfig{MinStrictAttempts: 10, StrictMinYield: 0})
	assert.Len(t, result.Candidates, 3)
	assert.Equal(t, StoppedTargetReached, result.StoppedReason)
}

func TestRunStopsAtBudgetExhausted(t *testing.T) {
	plan := Plan{Strict: []string{"q1", "q2", "q3"}}
	provider := &fakeProvider{resultsPerQuery: map[string][]serp.ProfileSummary{}}
	store := &fakeStore{seen: map[string]bool{}}

	result := Run(context.Background(), plan, provider, store, "tenant-a", 2, 100, AdaptiveConfig{MinStrictAttempts: 10, StrictMinYield: 0})
	assert.Equal(t, 2, result.QueriesUsed)
	assert.Equal(t, StoppedBudgetExhausted, result.StoppedReason)
}

func TestRunNoQueriesReturnsImmediately(t *testing.T) {
	result := Run(context.Background(), Plan{}, &fakeProvider{}, &fakeStore{seen: map[string]bool{}}, "tenant-a", 10, 10, AdaptiveConfig{})
	assert.Equal(t, StoppedNoQueries, result.StoppedReason)
	assert.Empty(t, result.Candidates)
}

func TestRunShiftsToFallbackOnLowStrictYield(t *testing.T) {
	resultsPerQuery := map[string][]serp.ProfileSummary{}
	for i := 0; i < 5; i++ {
		resultsPerQuery[fmt.Sprintf("strict%d", i)] = nil
	}
	resultsPerQuery["fallback0"] = []serp.ProfileSummary{{ProfileURL: "p1"}}

	plan := Plan{
		Strict:   []string{"strict0", "strict1", "strict2"},
		Fallback: []string{"fallback0"},
	}
	provider := &fakeProvider{resultsPerQuery: resultsPerQuery}
	store := &fakeStore{seen: map[string]bool{}}

	result := Run(context.Background(), plan, provider, store, "tenant-a", 10, 10, AdaptiveConfig{
		MinStrictAttempts: 2, StrictMinYield: 0.5, MinFallbackAttempts: 10, FallbackMinYield: 0,
	})

	assert.Equal(t, StoppedStrictLowYieldShifted, result.ShiftReason)
	assert.Len(t, result.Candidates, 1)
}

func TestRunSkipsAlreadySeenHandles(t *testing.T) {
	plan := Plan{Strict: []string{"q1"}}
	provider := &fakeProvider{resultsPerQuery: map[string][]serp.ProfileSummary{
		"q1": {{ProfileURL: "p1"}, {ProfileURL: "p2"}},
	}}
	store := &fakeStore{seen: map[string]bool{"p1": true}}

	result := Run(context.Background(), plan, provider, store, "tenant-a", 10, 10, AdaptiveConfig{MinStrictAttempts: 10})
	assert.Len(t, result.Candidates, 1)
	assert.Equal(t, "p2", result.Candidates[0].ProfileURL)
}

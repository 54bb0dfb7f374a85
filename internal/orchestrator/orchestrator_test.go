package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/puneetrinity/signal-sourcing/internal/budget"
	"github.com/puneetrinity/signal-sourcing/internal/config"
	"github.com/puneetrinity/signal-sourcing/internal/model"
	"github.com/puneetrinity/signal-sourcing/internal/serp"
	"github.com/puneetrinity/signal-sourcing/internal/store"
)

func testConfig() config.Config {
	return config.Config{
		TargetCount:                 5,
		InitialEnrichCount:          5,
		MaxSerpQueries:              4,
		DailySerpCapPerTenant:       0,
		DynamicQueryMultiplier:      2,
		MinDiscoveryPerRun:          0,
		MaxDiscoveryShare:           1,
		MinDiscoveryShareLowQuality: 0.25,
		MinDiscoveredInOutput:       1,
		DiscoveredPromotionMinFitScore: 0.3,
		QualityTopK:                 5,
		QualityMinAvgFit:            0.5,
		QualityThreshold:            0.4,
		QualityMinCountAbove:        2,
		MinStrictMatchesBeforeExpand: 1,
		BestMatchesMinFitScore:      0.1,
		StrictRescueCount:           2,
		StrictRescueMinFitScore:     0.05,
		FitScoreEpsilon:             0.02,
		CountryGuardEnabled:         true,
		CountryGuardSerpLocaleEnabled: true,
		LocationCoverageFloor:       0.2,
		StaleRefreshMaxPerRun:       0,
		DiscoveredEnrichReserve:     2,
		DiscoveredOrphanEnrichReserve: 1,
		NoveltyEnabled:              false,
		NoveltyWindowDays:           14,
		QueryGenMode:                "deterministic",
		AdaptiveMinStrictAttempts:   1,
		AdaptiveStrictMinYield:      0,
		AdaptiveMinFallbackAttempts: 1,
		AdaptiveFallbackMinYield:    0,
	}
}

type fakePoolLoader struct {
	entries []store.PoolEntry
}

func (f *fakePoolLoader) LoadPool(ctx context.Context, tenantID string, limit int, trackFilter []model.Track) ([]store.PoolEntry, error) {
	return f.entries, nil
}

type fakeAssembler struct {
	rows []model.SourcingCandidate
}

func (f *fakeAssembler) ReplaceAssembly(ctx context.Context, requestID string, rows []model.SourcingCandidate) error {
	f.rows = rows
	return nil
}

type fakeNovelty struct {
	exposed map[string]bool
}

func (f *fakeNovelty) GetRecentlyExposedCandidateIds(ctx context.Context, tenantID, roleFamily, location string, windowDays int) (map[string]bool, error) {
	return f.exposed, nil
}

type fakeEnqueuer struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeEnqueuer) Enqueue(ctx context.Context, tenantID, candidateID string, priority int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, candidateID)
	return nil
}

type noopDiscoveryStore struct{}

func (noopDiscoveryStore) IsHandleSeen(ctx context.Context, tenantID, profileHandle string) (bool, error) {
	return false, nil
}
func (noopDiscoveryStore) UpsertFromSERP(ctx context.Context, tenantID string, profile serp.ProfileSummary, query string) (model.Candidate, error) {
	return model.Candidate{}, nil
}

type noopProvider struct{}

func (noopProvider) SearchLinkedInProfilesWithMeta(ctx context.Context, query string, limit int) (serp.Result, error) {
	return serp.Result{}, nil
}

// newTestRedis spins up a real in-memory Redis server (miniredis) for the
// orchestrator's budget.Guard dependency, rather than a hand-rolled stub.
func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func strPtr(s string) *string { return &s }

func makeEntry(id, headline, location string, fresh bool) store.PoolEntry {
	now := time.Now()
	stale := now.Add(24 * time.Hour)
	if !fresh {
		stale = now.Add(-24 * time.Hour)
	}
	return store.PoolEntry{
		Candidate: model.Candidate{
			ID:               id,
			TenantID:         "tenant-1",
			HeadlineHint:     strPtr(headline),
			LocationHint:     strPtr(location),
			EnrichmentStatus: model.EnrichmentPending,
			UpdatedAt:        now,
		},
		Snapshot: &model.IntelligenceSnapshot{
			CandidateID:      id,
			Track:            model.TrackTech,
			SkillsNormalized: []string{"go", "kubernetes"},
			RoleType:         "backend engineer",
			SeniorityBand:    "senior",
			Location:         location,
			ComputedAt:       now,
			StaleAfter:       stale,
		},
	}
}

func TestRunAssemblesFromPoolWithoutDiscoveryWhenPoolIsGood(t *testing.T) {
	cfg := testConfig()
	entries := []store.PoolEntry{
		makeEntry("c1", "Senior Backend Engineer, Go, Kubernetes", "Bangalore, India", true),
		makeEntry("c2", "Senior Backend Engineer, Go, Kubernetes", "Bangalore, India", true),
		makeEntry("c3", "Senior Backend Engineer, Go, Kubernetes", "Bangalore, India", true),
		makeEntry("c4", "Senior Backend Engineer, Go, Kubernetes", "Bangalore, India", true),
		makeEntry("c5", "Senior Backend Engineer, Go, Kubernetes", "Bangalore, India", true),
	}

	pool := &fakePoolLoader{entries: entries}
	assembler := &fakeAssembler{}
	enq := &fakeEnqueuer{}
	guard := budget.New(newTestRedis(t))

	o := New(cfg, pool, assembler, &fakeNovelty{}, enq, noopDiscoveryStore{}, noopProvider{}, guard, nil)

	jobCtx := model.JobContext{
		Title:    "Senior Backend Engineer",
		Skills:   []string{"go", "kubernetes"},
		Location: "Bangalore, India",
	}
	trackDecision := model.TrackDecision{Track: model.TrackTech}

	result, err := o.Run(context.Background(), "req-1", "tenant-1", jobCtx, trackDecision)
	require.NoError(t, err)

	assert.Equal(t, 5, result.ResultCount)
	assert.Len(t, assembler.rows, 5)
	for i, row := range assembler.rows {
		assert.Equal(t, i+1, row.Rank)
		assert.Equal(t, model.SourcePool, row.SourceType)
	}
}

func TestRunDropsCandidatesFromMismatchedCountry(t *testing.T) {
	cfg := testConfig()
	entries := []store.PoolEntry{
		makeEntry("in1", "Senior Backend Engineer, Go", "Bangalore, India", true),
		makeEntry("us1", "Senior Backend Engineer, Go", "Austin, USA", true),
	}

	pool := &fakePoolLoader{entries: entries}
	assembler := &fakeAssembler{}
	enq := &fakeEnqueuer{}
	guard := budget.New(newTestRedis(t))

	o := New(cfg, pool, assembler, &fakeNovelty{}, enq, noopDiscoveryStore{}, noopProvider{}, guard, nil)

	jobCtx := model.JobContext{Title: "Senior Backend Engineer", Skills: []string{"go"}, Location: "Bangalore, India"}
	trackDecision := model.TrackDecision{Track: model.TrackTech}

	_, err := o.Run(context.Background(), "req-2", "tenant-1", jobCtx, trackDecision)
	require.NoError(t, err)

	var ids []string
	for _, row := range assembler.rows {
		ids = append(ids, row.CandidateID)
	}
	assert.Contains(t, ids, "in1")
	assert.NotContains(t, ids, "us1")
}

func TestRunRanksAreContiguousOneBased(t *testing.T) {
	cfg := testConfig()
	cfg.TargetCount = 3
	entries := []store.PoolEntry{
		makeEntry("a", "Senior Backend Engineer, Go", "Bangalore, India", true),
		makeEntry("b", "Senior Backend Engineer, Go", "Bangalore, India", true),
		makeEntry("c", "Senior Backend Engineer, Go", "Bangalore, India", true),
	}
	pool := &fakePoolLoader{entries: entries}
	assembler := &fakeAssembler{}
	enq := &fakeEnqueuer{}
	guard := budget.New(newTestRedis(t))

	o := New(cfg, pool, assembler, &fakeNovelty{}, enq, noopDiscoveryStore{}, noopProvider{}, guard, nil)

	jobCtx := model.JobContext{Title: "Senior Backend Engineer", Skills: []string{"go"}, Location: "Bangalore, India"}
	_, err := o.Run(context.Background(), "req-3", "tenant-1", jobCtx, model.TrackDecision{Track: model.TrackTech})
	require.NoError(t, err)

	for i, row := range assembler.rows {
		assert.Equal(t, i+1, row.Rank)
	}
}

func TestRunEnqueuesEnrichmentForUnenrichedTopRows(t *testing.T) {
	cfg := testConfig()
	entries := []store.PoolEntry{
		makeEntry("a", "Senior Backend Engineer, Go", "Bangalore, India", true),
	}
	pool := &fakePoolLoader{entries: entries}
	assembler := &fakeAssembler{}
	enq := &fakeEnqueuer{}
	guard := budget.New(newTestRedis(t))

	o := New(cfg, pool, assembler, &fakeNovelty{}, enq, noopDiscoveryStore{}, noopProvider{}, guard, nil)

	jobCtx := model.JobContext{Title: "Senior Backend Engineer", Skills: []string{"go"}, Location: "Bangalore, India"}
	_, err := o.Run(context.Background(), "req-4", "tenant-1", jobCtx, model.TrackDecision{Track: model.TrackTech})
	require.NoError(t, err)

	assert.Contains(t, enq.calls, "a")
}

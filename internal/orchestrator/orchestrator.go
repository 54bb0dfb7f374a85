// Package orchestrator implements §4.H, the heart of the sourcing core:
// load the candidate pool, rank it, gate it on quality and country, top it
// up from discovery when thin, assemble a two-tier strict/expanded result,
// suppress over-exposed repeats, persist, and enqueue enrichment.
package orchestrator

import (
	"context"
	"encoding/json"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/puneetrinity/signal-sourcing/internal/budget"
	"github.com/puneetrinity/signal-sourcing/internal/config"
	"github.com/puneetrinity/signal-sourcing/internal/discovery"
	"github.com/puneetrinity/signal-sourcing/internal/hints"
	"github.com/puneetrinity/signal-sourcing/internal/llm"
	"github.com/puneetrinity/signal-sourcing/internal/model"
	"github.com/puneetrinity/signal-sourcing/internal/rank"
	"github.com/puneetrinity/signal-sourcing/internal/requirements"
	"github.com/puneetrinity/signal-sourcing/internal/serp"
	"github.com/puneetrinity/signal-sourcing/internal/store"
)

// PoolLoader is the narrow read surface over the candidates table the
// orchestrator needs (§4.H step 2).
type PoolLoader interface {
	LoadPool(ctx context.Context, tenantID string, limit int, trackFilter []model.Track) ([]store.PoolEntry, error)
}

// AssemblyWriter persists the replace-all assembly transaction (§4.H.10).
type AssemblyWriter interface {
	ReplaceAssembly(ctx context.Context, requestID string, rows []model.SourcingCandidate) error
}

// NoveltyReader answers which candidates were recently exposed for a
// roleFamily/location pair (§4.L), read-only to this core.
type NoveltyReader interface {
	GetRecentlyExposedCandidateIds(ctx context.Context, tenantID, roleFamily, location string, windowDays int) (map[string]bool, error)
}

// EnrichmentEnqueuer schedules an enrichment job for one candidate at a
// given priority; dedup against already-queued/running sessions for the
// tenant+candidate is the enqueuer's responsibility, not the orchestrator's.
type EnrichmentEnqueuer interface {
	Enqueue(ctx context.Context, tenantID, candidateID string, priority int) error
}

const poolLoadLimit = 5000

// enrichEnqueueConcurrency bounds the concurrent fan-out of §4.H.11's
// enrich-enqueue HTTP calls once the (deduped, prioritized) target list has
// been decided.
const enrichEnqueueConcurrency = 8

// OrchestratorResult carries every diagnostic field a sourcing job records
// about a single run of §4.H.
type OrchestratorResult struct {
	ResultCount        int
	QueriesExecuted    int
	QualityGateTriggered bool

	PoolSize        int
	DiscoveryTarget int
	DiscoveryReason string

	AvgFitTopK           float64
	CountAboveThreshold  int
	StrictTopKCount      int
	StrictCoverageRate   float64
	LocationHintCoverage float64

	CountryGuardSerpLocaleSkippedCount int

	StrictDemotedCount         int
	DemotedStrictWithCityMatch int

	DiscoveredCount                   int
	DiscoveredPromotionQualifiedCount int

	NoveltyRemovedCount int

	StoppedReason string
	ShiftReason   string

	Rows []model.SourcingCandidate
}

// Orchestrator bundles the collaborators §4.H needs; all are consumer-
// defined narrow interfaces except the leaf packages (budget, serp,
// discovery, llm) which have no orchestrator-specific surface to narrow.
type Orchestrator struct {
	cfg config.Config

	pool      PoolLoader
	assembler AssemblyWriter
	novelty   NoveltyReader
	enrich    EnrichmentEnqueuer

	discoveryStore discovery.CandidateStore
	serpProvider   serp.Provider
	budgetGuard    *budget.Guard
	generator      llm.ObjectGenerator

	now func() time.Time
}

func New(cfg config.Config, pool PoolLoader, assembler AssemblyWriter, novelty NoveltyReader, enrich EnrichmentEnqueuer,
	discoveryStore discovery.CandidateStore, serpProvider serp.Provider, budgetGuard *budget.Guard, generator llm.ObjectGenerator) *Orchestrator {
	return &Orchestrator{
		cfg: cfg, pool: pool, assembler: assembler, novelty: novelty, enrich: enrich,
		discoveryStore: discoveryStore, serpProvider: serpProvider, budgetGuard: budgetGuard, generator: generator,
		now: time.Now,
	}
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

func entryLocationText(e store.PoolEntry) string {
	if e.Snapshot != nil && e.Snapshot.Location != "" {
		return e.Snapshot.Location
	}
	return derefStr(e.Candidate.LocationHint)
}

func derefStr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// serpMetaSignal is the subset of a Candidate's raw SERP metadata the
// orchestrator reads for the country guard's weaker signal and for the
// enrichment priority adjustment. The SERP provider's meta payload is
// provider-specific; this is the minimal shape this core relies on.
type serpMetaSignal struct {
	PostedAt      *time.Time `json:"postedAt,omitempty"`
	LocaleCountry string     `json:"localeCountry,omitempty"`
}

func parseSerpMeta(raw json.RawMessage) serpMetaSignal {
	var m serpMetaSignal
	if len(raw) == 0 {
		return m
	}
	_ = json.Unmarshal(raw, &m)
	return m
}

func priorityAdjustment(meta serpMetaSignal, requestedCountry string, now time.Time) int {
	adj := 0
	if meta.PostedAt != nil {
		age := now.Sub(*meta.PostedAt)
		switch {
		case age <= 30*24*time.Hour:
			adj -= 3
		case age <= 90*24*time.Hour:
			adj -= 1
		case age > 365*24*time.Hour:
			adj += 2
		}
	}
	if meta.LocaleCountry != "" && requestedCountry != "" {
		if strings.EqualFold(meta.LocaleCountry, requestedCountry) {
			adj -= 4
		} else {
			adj += 4
		}
	}
	return adj
}

func clampPriority(v int) int {
	if v < 1 {
		return 1
	}
	if v > 99 {
		return 99
	}
	return v
}

// topTenPercentFitThreshold returns the fitScore at the 90th percentile of
// the assembled set — candidates scoring at or above it are the top ~10%.
func topTenPercentFitThreshold(assembled []rank.Scored) float64 {
	if len(assembled) == 0 {
		return 0
	}
	scores := make([]float64, len(assembled))
	for i, s := range assembled {
		scores[i] = s.FitScore
	}
	sort.Float64s(scores)
	idx := int(math.Ceil(0.9*float64(len(scores)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(scores) {
		idx = len(scores) - 1
	}
	return scores[idx]
}

// Run executes the full §4.H pipeline for one sourcing request.
func (o *Orchestrator) Run(ctx context.Context, requestID, tenantID string, jobCtx model.JobContext, trackDecision model.TrackDecision) (OrchestratorResult, error) {
	cfg := o.cfg
	req := requirements.Build(jobCtx)
	nowT := o.now()

	filter := trackFilterFor(trackDecision.Track)
	entries, err := o.pool.LoadPool(ctx, tenantID, poolLoadLimit, filter)
	if err != nil {
		return OrchestratorResult{}, err
	}

	candByID := make(map[string]store.PoolEntry, len(entries))
	inputs := make([]rank.Input, 0, len(entries))
	for _, e := range entries {
		candByID[e.Candidate.ID] = e
		inputs = append(inputs, rank.Input{Candidate: e.Candidate, Snapshot: e.Snapshot})
	}

	rankCfg := rank.Config{FitScoreEpsilon: cfg.FitScoreEpsilon, LocationBoostWeight: cfg.LocationBoostWeight}
	scored := rank.Rank(inputs, req, rankCfg)

	// §4.H step 4: country guard.
	result := OrchestratorResult{PoolSize: len(entries)}
	if cfg.CountryGuardEnabled {
		if requestedCountry, ok := rank.CountryTokenForLocation(req.Location); ok {
			kept := make([]rank.Scored, 0, len(scored))
			for _, s := range scored {
				e := candByID[s.CandidateID]
				locText := entryLocationText(e)
				if locText != "" {
					if tok, ok2 := rank.CountryTokenForLocation(locText); ok2 && tok != requestedCountry {
						continue
					}
					kept = append(kept, s)
					continue
				}
				if cfg.CountryGuardSerpLocaleEnabled {
					meta := parseSerpMeta(e.Candidate.SearchMeta)
					if meta.LocaleCountry != "" && !strings.EqualFold(meta.LocaleCountry, requestedCountry) {
						continue
					}
					kept = append(kept, s)
					continue
				}
				result.CountryGuardSerpLocaleSkippedCount++
				kept = append(kept, s)
			}
			scored = kept
		}
	}

	requestedCountry, _ := rank.CountryTokenForLocation(req.Location)

	// §4.H step 5: quality gate over top-K.
	topK := scored
	if len(topK) > cfg.QualityTopK {
		topK = topK[:cfg.QualityTopK]
	}
	var sumFit float64
	countAbove, strictCount := 0, 0
	for _, s := range topK {
		sumFit += s.FitScore
		if s.FitScore >= cfg.QualityThreshold {
			countAbove++
		}
		if s.Breakdown.MatchTier == model.TierStrict {
			strictCount++
		}
	}
	if len(topK) > 0 {
		result.AvgFitTopK = sumFit / float64(len(topK))
		result.StrictCoverageRate = float64(strictCount) / float64(len(topK))
	}
	result.CountAboveThreshold = countAbove
	result.StrictTopKCount = strictCount

	locHintCount := 0
	for _, s := range scored {
		e := candByID[s.CandidateID]
		if entryLocationText(e) != "" {
			locHintCount++
		}
	}
	if len(scored) > 0 {
		result.LocationHintCoverage = float64(locHintCount) / float64(len(scored))
	}

	hasLocationConstraint := strings.TrimSpace(req.Location) != "" && !hints.IsNoisy(req.Location)
	strictCoverageDeficient := strictCount < cfg.MinStrictMatchesBeforeExpand

	qualityGateTriggered := len(topK) == 0 ||
		result.AvgFitTopK < cfg.QualityMinAvgFit ||
		countAbove < minInt(cfg.QualityMinCountAbove, len(topK)) ||
		strictCoverageDeficient ||
		(hasLocationConstraint && result.LocationHintCoverage < cfg.LocationCoverageFloor)
	result.QualityGateTriggered = qualityGateTriggered

	// §4.H step 6: discovery target.
	poolDeficit := maxInt(0, cfg.TargetCount-len(scored))
	qualityShareTarget := 0
	if qualityGateTriggered {
		qualityShareTarget = int(math.Ceil(cfg.MinDiscoveryShareLowQuality * float64(cfg.TargetCount)))
	}
	strictCoverageDeficit := 0
	if strictCoverageDeficient {
		strictCoverageDeficit = cfg.MinStrictMatchesBeforeExpand - strictCount
	}

	target := maxInt(poolDeficit, maxInt(qualityShareTarget, maxInt(strictCoverageDeficit, cfg.MinDiscoveryPerRun)))
	discoveryCap := int(math.Floor(cfg.MaxDiscoveryShare * float64(cfg.TargetCount)))
	discoveryTarget := minInt(target, discoveryCap)
	result.DiscoveryTarget = discoveryTarget

	switch {
	case discoveryTarget <= 0:
		result.DiscoveryReason = ""
	case poolDeficit > 0 && qualityGateTriggered:
		result.DiscoveryReason = "deficit_and_low_quality"
	case poolDeficit > 0:
		result.DiscoveryReason = "pool_deficit"
	case qualityGateTriggered:
		result.DiscoveryReason = "low_quality_pool"
	default:
		result.DiscoveryReason = "minimum_discovery_floor"
	}

	var discoveredScored []rank.Scored
	discByID := map[string]model.Candidate{}
	if discoveryTarget > 0 {
		maxQueries := cfg.MaxSerpQueries
		if qualityGateTriggered {
			maxQueries = int(math.Ceil(float64(maxQueries) * cfg.DynamicQueryMultiplier))
		}
		reservation := o.budgetGuard.Reserve(ctx, tenantID, maxQueries, cfg.DailySerpCapPerTenant)
		if reservation.Allowed {
			var plan discovery.Plan
			if cfg.QueryGenMode == "hybrid" && o.generator != nil {
				plan = discovery.BuildHybridPlan(ctx, o.generator, req, reservation.MaxQueries, cfg.QueryGroqTimeoutMs, cfg.QueryGroqMaxRetries)
			} else {
				plan = discovery.BuildDeterministicPlan(req, reservation.MaxQueries)
			}
			adaptiveCfg := discovery.AdaptiveConfig{
				MinStrictAttempts:   cfg.AdaptiveMinStrictAttempts,
				StrictMinYield:      cfg.AdaptiveStrictMinYield,
				MinFallbackAttempts: cfg.AdaptiveMinFallbackAttempts,
				FallbackMinYield:    cfg.AdaptiveFallbackMinYield,
			}
			runResult := discovery.Run(ctx, plan, o.serpProvider, o.discoveryStore, tenantID, reservation.MaxQueries, discoveryTarget, adaptiveCfg)
			o.budgetGuard.Release(ctx, reservation.Key, reservation.ReservedQueries, runResult.QueriesUsed)

			result.QueriesExecuted = runResult.QueriesUsed
			result.StoppedReason = runResult.StoppedReason
			result.ShiftReason = runResult.ShiftReason

			discInputs := make([]rank.Input, 0, len(runResult.Candidates))
			for _, c := range runResult.Candidates {
				discByID[c.ID] = c
				discInputs = append(discInputs, rank.Input{Candidate: c})
			}
			discoveredScored = rank.Rank(discInputs, req, rankCfg)
		} else {
			log.Warn().Str("tenant_id", tenantID).Str("skipped_reason", string(reservation.SkippedReason)).Msg("discovery_budget_unavailable")
		}
	}
	result.DiscoveredCount = len(discoveredScored)

	// §4.H step 7: promotion qualification for discovered candidates.
	promoQualified := make(map[string]bool, len(discoveredScored))
	for _, s := range discoveredScored {
		gatePassed := true
		if hasLocationConstraint {
			gatePassed = s.Breakdown.MatchTier == model.TierStrict
		}
		if gatePassed && s.FitScore >= cfg.DiscoveredPromotionMinFitScore {
			promoQualified[s.CandidateID] = true
			result.DiscoveredPromotionQualifiedCount++
		}
	}

	// §4.H step 8: two-tier assembly.
	var assembled []rank.Scored
	assembledSource := map[string]model.SourceType{}
	usedDiscovered := map[string]bool{}

	reserveSlots := minInt(minInt(cfg.MinDiscoveredInOutput, len(discoveredScored)), cfg.TargetCount)
	for _, s := range discoveredScored {
		if len(assembled) >= reserveSlots {
			break
		}
		if promoQualified[s.CandidateID] && s.Breakdown.MatchTier == model.TierStrict {
			assembled = append(assembled, s)
			assembledSource[s.CandidateID] = model.SourceDiscovered
			usedDiscovered[s.CandidateID] = true
		}
	}

	var poolStrict, poolExpanded []rank.Scored
	for _, s := range scored {
		if s.Breakdown.MatchTier == model.TierStrict {
			poolStrict = append(poolStrict, s)
		} else {
			poolExpanded = append(poolExpanded, s)
		}
	}

	var survivingStrict []rank.Scored
	demotedIDs := map[string]bool{}
	for _, s := range poolStrict {
		if s.FitScore < cfg.BestMatchesMinFitScore {
			result.StrictDemotedCount++
			if s.Breakdown.LocationMatchType == model.LocationCityExact || s.Breakdown.LocationMatchType == model.LocationCityAlias {
				result.DemotedStrictWithCityMatch++
			}
			demotedIDs[s.CandidateID] = true
			poolExpanded = append(poolExpanded, s)
		} else {
			survivingStrict = append(survivingStrict, s)
		}
	}
	sort.SliceStable(poolExpanded, func(i, j int) bool {
		return rank.CompareFitWithConfidence(poolExpanded[i], poolExpanded[j], cfg.FitScoreEpsilon) < 0
	})

	if len(survivingStrict) == 0 && cfg.StrictRescueCount > 0 {
		rescued := 0
		var remaining []rank.Scored
		for _, s := range poolExpanded {
			if rescued < cfg.StrictRescueCount && demotedIDs[s.CandidateID] && s.FitScore >= cfg.StrictRescueMinFitScore {
				survivingStrict = append(survivingStrict, s)
				rescued++
				continue
			}
			remaining = append(remaining, s)
		}
		poolExpanded = remaining
		sort.SliceStable(survivingStrict, func(i, j int) bool {
			return rank.CompareFitWithConfidence(survivingStrict[i], survivingStrict[j], cfg.FitScoreEpsilon) < 0
		})
	}

	poolFillLimit := maxInt(0, cfg.TargetCount-len(assembled))
	filledFromPool := 0
	for _, s := range survivingStrict {
		if filledFromPool >= poolFillLimit {
			break
		}
		assembled = append(assembled, s)
		assembledSource[s.CandidateID] = model.SourcePool
		filledFromPool++
	}
	for _, s := range poolExpanded {
		if filledFromPool >= poolFillLimit {
			break
		}
		assembled = append(assembled, s)
		assembledSource[s.CandidateID] = model.SourcePool
		filledFromPool++
	}

	for _, s := range discoveredScored {
		if len(assembled) >= cfg.TargetCount {
			break
		}
		if usedDiscovered[s.CandidateID] || !promoQualified[s.CandidateID] {
			continue
		}
		assembled = append(assembled, s)
		assembledSource[s.CandidateID] = model.SourceDiscovered
		usedDiscovered[s.CandidateID] = true
	}
	for _, s := range discoveredScored {
		if len(assembled) >= cfg.TargetCount {
			break
		}
		if usedDiscovered[s.CandidateID] {
			continue
		}
		assembled = append(assembled, s)
		assembledSource[s.CandidateID] = model.SourceDiscovered
		usedDiscovered[s.CandidateID] = true
	}

	// §4.H step 9: novelty suppression.
	if cfg.NoveltyEnabled && req.RoleFamily != "" && o.novelty != nil {
		targetCity := req.Location
		exposed, nerr := o.novelty.GetRecentlyExposedCandidateIds(ctx, tenantID, req.RoleFamily, targetCity, cfg.NoveltyWindowDays)
		if nerr != nil {
			log.Warn().Err(nerr).Str("tenant_id", tenantID).Msg("novelty_lookup_failed")
		} else if len(exposed) > 0 {
			threshold := topTenPercentFitThreshold(assembled)
			usedIDs := map[string]bool{}
			for _, s := range assembled {
				usedIDs[s.CandidateID] = true
			}
			var backfillExpanded []rank.Scored
			for _, s := range poolExpanded {
				if !usedIDs[s.CandidateID] {
					backfillExpanded = append(backfillExpanded, s)
				}
			}
			var backfillDiscovered []rank.Scored
			for _, s := range discoveredScored {
				if !usedIDs[s.CandidateID] {
					backfillDiscovered = append(backfillDiscovered, s)
				}
			}

			kept := make([]rank.Scored, 0, len(assembled))
			bei, bdi := 0, 0
			for _, s := range assembled {
				if assembledSource[s.CandidateID] != model.SourceDiscovered &&
					s.Breakdown.MatchTier == model.TierExpanded && exposed[s.CandidateID] && s.FitScore < threshold {
					result.NoveltyRemovedCount++
					replaced := false
					for bei < len(backfillExpanded) {
						cand := backfillExpanded[bei]
						bei++
						if exposed[cand.CandidateID] && cand.FitScore < threshold {
							continue
						}
						kept = append(kept, cand)
						assembledSource[cand.CandidateID] = model.SourcePool
						usedIDs[cand.CandidateID] = true
						replaced = true
						break
					}
					if !replaced {
						for bdi < len(backfillDiscovered) {
							cand := backfillDiscovered[bdi]
							bdi++
							if exposed[cand.CandidateID] && cand.FitScore < threshold {
								continue
							}
							kept = append(kept, cand)
							assembledSource[cand.CandidateID] = model.SourceDiscovered
							usedDiscovered[cand.CandidateID] = true
							usedIDs[cand.CandidateID] = true
							replaced = true
							break
						}
					}
					continue
				}
				kept = append(kept, s)
			}
			assembled = kept
		}
	}

	// §4.H step 10: persist the assembly in one transaction, 1-based
	// contiguous ranks in assembly order (the ordering invariant).
	rows := make([]model.SourcingCandidate, 0, len(assembled))
	for i, s := range assembled {
		source := assembledSource[s.CandidateID]
		enrichStatus := model.EnrichmentPending
		if source != model.SourceDiscovered {
			if e, ok := candByID[s.CandidateID]; ok {
				enrichStatus = e.Candidate.EnrichmentStatus
				if enrichStatus == model.EnrichmentCompleted {
					source = model.SourcePoolEnriched
				}
			}
		}
		rows = append(rows, model.SourcingCandidate{
			RequestID:        requestID,
			CandidateID:      s.CandidateID,
			FitScore:         s.FitScore,
			FitBreakdown:     s.Breakdown,
			SourceType:       source,
			EnrichmentStatus: enrichStatus,
			Rank:             i + 1,
		})
	}
	if err := o.assembler.ReplaceAssembly(ctx, requestID, rows); err != nil {
		return OrchestratorResult{}, err
	}
	result.Rows = rows
	result.ResultCount = len(rows)

	// §4.H step 11: enrich enqueue.
	o.enqueueEnrichment(ctx, tenantID, rows, entries, discByID, discoveredScored, requestedCountry, usedDiscovered, nowT)

	return result, nil
}

func (o *Orchestrator) lookupMeta(candidateID string, candByID map[string]store.PoolEntry, discByID map[string]model.Candidate) serpMetaSignal {
	if e, ok := candByID[candidateID]; ok {
		return parseSerpMeta(e.Candidate.SearchMeta)
	}
	if c, ok := discByID[candidateID]; ok {
		return parseSerpMeta(c.SearchMeta)
	}
	return serpMetaSignal{}
}

// enrichTarget is one decided (candidateID, priority) enqueue call; the
// decision pass below is inherently sequential (each of the four passes
// dedups against candidates already claimed by an earlier pass), but once
// decided, the enqueue calls themselves are independent outbound HTTP
// requests and are fired with bounded concurrency.
type enrichTarget struct {
	candidateID string
	priority    int
}

func (o *Orchestrator) enqueueEnrichment(ctx context.Context, tenantID string, rows []model.SourcingCandidate, entries []store.PoolEntry,
	discByID map[string]model.Candidate, discoveredScored []rank.Scored, requestedCountry string, usedDiscovered map[string]bool, nowT time.Time) {
	cfg := o.cfg
	candByID := make(map[string]store.PoolEntry, len(entries))
	for _, e := range entries {
		candByID[e.Candidate.ID] = e
	}

	enqueued := map[string]bool{}
	var targets []enrichTarget
	enq := func(candidateID string, priority int) {
		if enqueued[candidateID] {
			return
		}
		enqueued[candidateID] = true
		targets = append(targets, enrichTarget{candidateID: candidateID, priority: clampPriority(priority)})
	}

	unenriched := func(status model.EnrichmentStatus) bool {
		return status != model.EnrichmentCompleted && status != model.EnrichmentInProgress
	}

	count := 0
	for _, row := range rows {
		if count >= cfg.InitialEnrichCount {
			break
		}
		if !unenriched(row.EnrichmentStatus) {
			continue
		}
		meta := o.lookupMeta(row.CandidateID, candByID, discByID)
		enq(row.CandidateID, 10+(row.Rank-1)+priorityAdjustment(meta, requestedCountry, nowT))
		count++
	}

	count, pri := 0, 30
	for _, row := range rows {
		if count >= cfg.DiscoveredEnrichReserve {
			break
		}
		if row.SourceType != model.SourceDiscovered || enqueued[row.CandidateID] || !unenriched(row.EnrichmentStatus) {
			continue
		}
		meta := o.lookupMeta(row.CandidateID, candByID, discByID)
		enq(row.CandidateID, pri+priorityAdjustment(meta, requestedCountry, nowT))
		pri++
		count++
	}

	count, pri = 0, 40
	for _, s := range discoveredScored {
		if count >= cfg.DiscoveredOrphanEnrichReserve {
			break
		}
		if usedDiscovered[s.CandidateID] || enqueued[s.CandidateID] {
			continue
		}
		c, ok := discByID[s.CandidateID]
		if !ok {
			continue
		}
		meta := parseSerpMeta(c.SearchMeta)
		enq(s.CandidateID, pri+priorityAdjustment(meta, requestedCountry, nowT))
		pri++
		count++
	}

	count, pri = 0, 50
	for _, e := range entries {
		if count >= cfg.StaleRefreshMaxPerRun {
			break
		}
		if e.Snapshot == nil || !e.Snapshot.StaleAfter.Before(nowT) || enqueued[e.Candidate.ID] {
			continue
		}
		meta := parseSerpMeta(e.Candidate.SearchMeta)
		enq(e.Candidate.ID, pri+priorityAdjustment(meta, requestedCountry, nowT))
		pri++
		count++
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(enrichEnqueueConcurrency)
	for _, t := range targets {
		t := t
		g.Go(func() error {
			if err := o.enrich.Enqueue(gctx, tenantID, t.candidateID, t.priority); err != nil {
				log.Warn().Err(err).Str("candidate_id", t.candidateID).Msg("enrich_enqueue_failed")
			}
			return nil
		})
	}
	_ = g.Wait()
}

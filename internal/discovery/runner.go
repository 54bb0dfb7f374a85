package discovery

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/puneetrinity/signal-sourcing/internal/model"
	"github.com/puneetrinity/signal-sourcing/internal/serp"
)

// CandidateStore is the narrow persistence surface the runner needs,
// implemented by internal/store against the candidates table.
type CandidateStore interface {
	IsHandleSeen(ctx context.Context, tenantID, profileHandle string) (bool, error)
	UpsertFromSERP(ctx context.Context, tenantID string, profile serp.ProfileSummary, query string) (model.Candidate, error)
}

// QueryRunTelemetry is emitted once per executed query (§4.F step 5).
type QueryRunTelemetry struct {
	Phase           string
	Query           string
	ProviderUsed    string
	UsedFallback    bool
	ResultCount     int
	AcceptedCount   int
	CumulativeTotal int
	LatencyMs       int64
}

// Stopped reasons (§4.F adaptive early stop).
const (
	StoppedTargetReached         = "target_reached"
	StoppedBudgetExhausted       = "budget_exhausted"
	StoppedCompletedQueries      = "completed_queries"
	StoppedNoQueries             = "no_queries"
	StoppedStrictLowYieldShifted = "strict_low_yield_shifted"
	StoppedFallbackLowYield      = "fallback_low_yield_stopped"
)

// AdaptiveConfig carries the early-stop thresholds (§4.F).
type AdaptiveConfig struct {
	MinStrictAttempts   int
	StrictMinYield      float64
	MinFallbackAttempts int
	FallbackMinYield    float64
}

// RunResult is the outcome of one discovery run. ShiftReason is set when
// the strict phase was abandoned early for low yield (the run itself may
// continue into the fallback phase and terminate for a different reason).
type RunResult struct {
	Candidates    []model.Candidate
	Telemetry     []QueryRunTelemetry
	QueriesUsed   int
	StoppedReason string
	ShiftReason   string
}

// Run executes plan under the reserved query budget (maxQueries), stopping
// early per the adaptive-yield rules or once targetCount new candidates
// have been accepted.
func Run(ctx context.Context, plan Plan, provider serp.Provider, store CandidateStore, tenantID string, maxQueries, targetCount int, cfg AdaptiveConfig) RunResult {
	if maxQueries <= 0 {
		return RunResult{StoppedReason: StoppedBudgetExhausted}
	}
	if len(plan.Strict) == 0 && len(plan.Fallback) == 0 {
		return RunResult{StoppedReason: StoppedNoQueries}
	}

	var (
		accepted       []model.Candidate
		telemetry      []QueryRunTelemetry
		queriesUsed    int
		strictExecuted int
		strictAccepted int
		fallbackExec   int
		fallbackAcc    int
	)

	phase := "strict"
	queries := plan.Strict
	idx := 0

	runQuery := func(q string) bool {
		if queriesUsed >= maxQueries {
			return false
		}
		if len(accepted) >= targetCount {
			return false
		}

		start := time.Now()
		result, err := provider.SearchLinkedInProfilesWithMeta(ctx, q, 20)
		latency := time.Since(start).Milliseconds()
		queriesUsed++

		if err != nil {
			log.Warn().Err(err).Str("query", q).Msg("discovery_query_failed")
			telemetry = append(telemetry, QueryRunTelemetry{
				Phase: phase, Query: q, LatencyMs: latency, CumulativeTotal: len(accepted),
			})
			return true
		}

		acceptedThisQuery := 0
		for _, p := range result.Results {
			if len(accepted) >= targetCount {
				break
			}
			seen, serr := store.IsHandleSeen(ctx, tenantID, p.ProfileURL)
			if serr != nil || seen {
				continue
			}
			cand, uerr := store.UpsertFromSERP(ctx, tenantID, p, q)
			if uerr != nil {
				log.Warn().Err(uerr).Str("query", q).Msg("discovery_upsert_failed")
				continue
			}
			accepted = append(accepted, cand)
			acceptedThisQuery++
		}

		telemetry = append(telemetry, QueryRunTelemetry{
			Phase: phase, Query: q, ProviderUsed: result.ProviderUsed, UsedFallback: result.UsedFallback,
			ResultCount: len(result.Results), AcceptedCount: acceptedThisQuery,
			CumulativeTotal: len(accepted), LatencyMs: latency,
		})

		if phase == "strict" {
			strictExecuted++
			strictAccepted += acceptedThisQuery
		} else {
			fallbackExec++
			fallbackAcc += acceptedThisQuery
		}
		return true
	}

	stoppedReason := StoppedCompletedQueries
	shiftReason := ""

	for {
		if len(accepted) >= targetCount {
			stoppedReason = StoppedTargetReached
			break
		}
		if queriesUsed >= maxQueries {
			stoppedReason = StoppedBudgetExhausted
			break
		}

		if idx >= len(queries) {
			if phase == "strict" {
				phase = "fallback"
				queries = plan.Fallback
				idx = 0
				if len(queries) == 0 {
					stoppedReason = StoppedCompletedQueries
					break
				}
				continue
			}
			stoppedReason = StoppedCompletedQueries
			break
		}

		q := queries[idx]
		idx++
		if !runQuery(q) {
			if len(accepted) >= targetCount {
				stoppedReason = StoppedTargetReached
			} else {
				stoppedReason = StoppedBudgetExhausted
			}
			break
		}

		if phase == "strict" && strictExecuted >= cfg.MinStrictAttempts {
			yield := float64(strictAccepted) / float64(strictExecuted)
			if yield < cfg.StrictMinYield && len(plan.Fallback) > 0 {
				phase = "fallback"
				queries = plan.Fallback
				idx = 0
				shiftReason = StoppedStrictLowYieldShifted
			}
		} else if phase == "fallback" && fallbackExec >= cfg.MinFallbackAttempts {
			yield := float64(fallbackAcc) / float64(fallbackExec)
			if yield < cfg.FallbackMinYield {
				stoppedReason = StoppedFallbackLowYield
				break
			}
		}
	}

	return RunResult{
		Candidates:    accepted,
		Telemetry:     telemetry,
		QueriesUsed:   queriesUsed,
		StoppedReason: stoppedReason,
		ShiftReason:   shiftReason,
	}
}

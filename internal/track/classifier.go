// Package track implements the two-stage (deterministic + LLM-fallback)
// job track classifier (§4.D): a keyword-weighted deterministic scorer
// with an optional Redis-cached, circuit-breaker-guarded LLM fallback.
package track

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/puneetrinity/signal-sourcing/internal/config"
	"github.com/puneetrinity/signal-sourcing/internal/llm"
	"github.com/puneetrinity/signal-sourcing/internal/model"
)

// Classifier resolves a TrackDecision for a job. It must never fail: any
// unexpected error yields the documented fail-safe decision.
type Classifier struct {
	cfg       config.Config
	rdb       RedisClient
	generator llm.ObjectGenerator
	now       func() time.Time
}

// New builds a Classifier. rdb and generator may be nil to disable caching/
// breaker state and the LLM fallback respectively (deterministic-only mode).
func New(cfg config.Config, rdb RedisClient, generator llm.ObjectGenerator) *Classifier {
	return &Classifier{cfg: cfg, rdb: rdb, generator: generator, now: time.Now}
}

// Classify resolves a TrackDecision for the given job context and built
// requirements. explicitHint is one of "tech", "non_tech", "auto", or "".
func (c *Classifier) Classify(ctx context.Context, jobCtx model.JobContext, req model.Requirements, explicitHint string) (decision model.TrackDecision) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("track_classify_panic_recovered")
			decision = failSafeDecision(c.now())
		}
	}()

	det := c.deterministic(jobCtx, req)

	if explicitHint == string(model.TrackTech) || explicitHint == string(model.TrackNonTech) {
		det.Track = model.Track(explicitHint)
		det.Confidence = 1.0
		det.Method = "deterministic"
		det.HintUsed = explicitHint
		det.ClassifierVersion = c.cfg.TrackClassifierVersion
		det.ResolvedAt = c.now()
		return det
	}

	det.ClassifierVersion = c.cfg.TrackClassifierVersion
	det.ResolvedAt = c.now()

	if !c.cfg.TrackGroqEnabled || c.generator == nil || det.Confidence >= c.cfg.TrackLowConfThreshold {
		return det
	}

	merged := c.withLLMFallback(ctx, jobCtx, req, det)
	merged.ResolvedAt = c.now()
	return merged
}

func failSafeDecision(now time.Time) model.TrackDecision {
	return model.TrackDecision{
		Track:      model.TrackTech,
		Confidence: 0.30,
		Method:     "deterministic",
		ResolvedAt: now,
	}
}

// deterministic implements the keyword-weighted scorer of §4.D step 2.
func (c *Classifier) deterministic(jobCtx model.JobContext, req model.Requirements) model.TrackDecision {
	bag := strings.Join([]string{
		jobCtx.Title, jobCtx.JDDigest,
		strings.Join(jobCtx.Skills, " "), strings.Join(jobCtx.GoodToHaveSkills, " "),
	}, " ")

	techRaw, strongTech, techMatched := matchKeywords(bag, techKeywords)
	nonTechRaw, strongNonTech, nonTechMatched := matchKeywords(bag, nonTechKeywords)

	roleFamilyDetected := req.RoleFamily != "" && isTechRoleFamily(req.RoleFamily)
	if roleFamilyDetected {
		techRaw += 2.0
	}

	total := techRaw + nonTechRaw
	matched := append(append([]string{}, techMatched...), nonTechMatched...)

	base := model.TrackDecision{
		Method:           "deterministic",
		MatchedKeywords:  matched,
		RoleFamilySignal: roleFamilyDetected,
		TechRaw:          techRaw,
		NonTechRaw:       nonTechRaw,
	}

	if total == 0 {
		base.Track = model.TrackTech
		base.Confidence = 0.30
		return base
	}

	techScore := techRaw / total
	nonTechScore := nonTechRaw / total
	margin := techScore - nonTechScore
	if margin < 0 {
		margin = -margin
	}

	if strongTech >= 5 && strongNonTech == 0 {
		base.Track = model.TrackTech
		base.Confidence = clamp(0.6+0.8*margin, 0.95, 0.99)
		return base
	}
	if strongNonTech >= 5 && strongTech == 0 {
		base.Track = model.TrackNonTech
		base.Confidence = clamp(0.6+0.8*margin, 0.95, 0.99)
		return base
	}

	if margin < c.cfg.TrackBlendThreshold {
		base.Track = model.TrackBlended
		base.Confidence = 0.5 + margin
		return base
	}

	if techScore > nonTechScore {
		base.Track = model.TrackTech
	} else {
		base.Track = model.TrackNonTech
	}
	base.Confidence = minF(0.99, 0.6+0.8*margin)
	return base
}

func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

var techRoleFamilies = map[string]struct{}{
	"backend": {}, "frontend": {}, "fullstack": {}, "data": {}, "devops": {}, "mobile": {},
}

func isTechRoleFamily(family string) bool {
	_, ok := techRoleFamilies[strings.ToLower(family)]
	return ok
}

var llmSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"track":         map[string]any{"type": "string", "enum": []string{"tech", "non_tech"}},
		"confidence":    map[string]any{"type": "number"},
		"reasons":       map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		"ambiguityFlag": map[string]any{"type": "boolean"},
	},
	"required": []string{"track", "confidence"},
}

// withLLMFallback implements §4.D step 3: cache lookup, circuit breaker,
// the bounded-retry timed call, and the merge rules.
func (c *Classifier) withLLMFallback(ctx context.Context, jobCtx model.JobContext, req model.Requirements, det model.TrackDecision) model.TrackDecision {
	key := CacheKey(c.cfg.TrackClassifierVersion, jobCtx.Title, jobCtx.Skills, jobCtx.JDDigest)

	if cached, ok := getCached(ctx, c.rdb, key); ok {
		llmRes := model.LLMTrackResult{
			Track:         model.Track(cached.Track),
			Confidence:    cached.Confidence,
			Reasons:       cached.Reasons,
			AmbiguityFlag: cached.AmbiguityFlag,
			Cached:        true,
		}
		return mergeDecision(det, llmRes)
	}

	now := c.now()
	if breakerOpen(ctx, c.rdb, now) {
		return det
	}

	llmRes, err := c.callLLM(ctx, jobCtx, req)
	if err != nil {
		recordBreakerFailure(ctx, c.rdb, c.cfg.TrackCBThreshold, c.cfg.TrackCBWindowSec, c.cfg.TrackCBCooldownSec, now)
		return det
	}

	setCached(ctx, c.rdb, key, llmResultCache{
		Track:         string(llmRes.Track),
		Confidence:    llmRes.Confidence,
		Reasons:       llmRes.Reasons,
		AmbiguityFlag: llmRes.AmbiguityFlag,
	}, time.Duration(c.cfg.TrackGroqCacheTTLDays)*24*time.Hour)

	return mergeDecision(det, llmRes)
}

// callLLM performs one attempt plus up to MaxRetries retries, each bounded
// by a hard timeout; retries only happen on non-timeout errors, per §4.D.3
// and grounded on the reference stack's searchWithRetry.
func (c *Classifier) callLLM(ctx context.Context, jobCtx model.JobContext, req model.Requirements) (model.LLMTrackResult, error) {
	prompt := fmt.Sprintf(
		"Classify this job as tech or non_tech.\nTitle: %s\nSkills: %s\nDescription: %s\nRespond with track, confidence (0-1), up to 5 reasons, and an ambiguityFlag.",
		jobCtx.Title, strings.Join(jobCtx.Skills, ", "), jobCtx.JDDigest,
	)

	var lastErr error
	attempts := 1 + c.cfg.TrackGroqMaxRetries
	timeout := time.Duration(c.cfg.TrackGroqTimeoutMs) * time.Millisecond

	for attempt := 0; attempt < attempts; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		raw, err := c.generator.Generate(callCtx, llmSchema, prompt)
		timedOut := callCtx.Err() != nil
		cancel()

		if err == nil {
			var parsed struct {
				Track         string   `json:"track"`
				Confidence    float64  `json:"confidence"`
				Reasons       []string `json:"reasons"`
				AmbiguityFlag bool     `json:"ambiguityFlag"`
			}
			if jerr := json.Unmarshal(raw, &parsed); jerr != nil {
				lastErr = jerr
			} else {
				if len(parsed.Reasons) > 5 {
					parsed.Reasons = parsed.Reasons[:5]
				}
				return model.LLMTrackResult{
					Track:         model.Track(parsed.Track),
					Confidence:    parsed.Confidence,
					Reasons:       parsed.Reasons,
					AmbiguityFlag: parsed.AmbiguityFlag,
				}, nil
			}
		} else {
			lastErr = err
		}

		if timedOut {
			return model.LLMTrackResult{}, fmt.Errorf("llm call timed out: %w", lastErr)
		}
	}
	return model.LLMTrackResult{}, fmt.Errorf("llm call failed after %d attempts: %w", attempts, lastErr)
}

// mergeDecision applies the §4.D.3 merge rules.
func mergeDecision(det model.TrackDecision, g model.LLMTrackResult) model.TrackDecision {
	out := det
	out.Method = "deterministic+groq"
	out.LLMResult = &g

	var leaning model.Track
	hasLeaning := det.Track != model.TrackBlended
	if hasLeaning {
		leaning = det.Track
	}

	switch {
	case hasLeaning && g.Track == leaning && g.Confidence >= 0.60:
		out.Track = g.Track
		out.Confidence = maxF(det.Confidence, g.Confidence)
	case det.Track == model.TrackBlended && g.Confidence >= 0.80:
		out.Track = g.Track
		out.Confidence = g.Confidence
	case hasLeaning && g.Track != leaning:
		out.Track = model.TrackBlended
	default:
		out.Track = det.Track
		out.Confidence = det.Confidence
	}
	return out
}

func maxF(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

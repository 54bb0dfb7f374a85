// Package discovery implements the query planner and SERP-driven runner
// of §4.F: a deterministic strict/fallback query builder, an optional LLM
// merge on top of it, and an adaptive-early-stop execution loop.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/puneetrinity/signal-sourcing/internal/llm"
	"github.com/puneetrinity/signal-sourcing/internal/model"
	"github.com/puneetrinity/signal-sourcing/internal/requirements"
)

func msToDuration(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

const (
	sitePrefix  = "site:linkedin.com/in"
	maxQueryLen = 240
)

// Plan is the full set of queries to run, strict phase first.
type Plan struct {
	Strict   []string
	Fallback []string
}

// dedupeAppend appends text to list if its normalized form hasn't been
// seen, capped at limit.
func dedupeAppend(list []string, seen map[string]struct{}, limit int, text string) []string {
	if len(list) >= limit {
		return list
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return list
	}
	q := clipQuery(sitePrefix + " " + text)
	key := strings.ToLower(q)
	if _, ok := seen[key]; ok {
		return list
	}
	seen[key] = struct{}{}
	return append(list, q)
}

func clipQuery(q string) string {
	if len(q) > maxQueryLen {
		return q[:maxQueryLen]
	}
	return q
}

// getDiscoverySkillTerms canonicalizes skills for use in generated query
// text. Concept-level coverage (e.g. "k8s" as evidence of "kubernetes") is
// boosted downstream in the ranker's text-fallback scan via
// requirements.GetSkillSurfaceForms; the planner itself emits the single
// canonical term per skill so queries stay reproducible.
func getDiscoverySkillTerms(skills []string) []string {
	terms := make([]string, 0, len(skills))
	for _, s := range skills {
		terms = append(terms, requirements.CanonicalizeSkill(s))
	}
	return terms
}

func joinSkills(skills []string) string {
	return strings.Join(skills, " ")
}

func topN(skills []string, n int) []string {
	if len(skills) < n {
		return skills
	}
	return skills[:n]
}

// BuildDeterministicPlan implements §4.F's always-produced deterministic
// plan, capped per phase at maxQueries.
func BuildDeterministicPlan(req model.Requirements, maxQueries int) Plan {
	seen := map[string]struct{}{}
	var strict, fallback []string

	role := req.RoleFamily
	location := req.Location
	title := req.Title
	top3 := getDiscoverySkillTerms(topN(req.TopSkills, 3))
	top2 := getDiscoverySkillTerms(topN(req.TopSkills, 2))

	if role != "" && location != "" && len(top3) == 3 {
		strict = dedupeAppend(strict, seen, maxQueries, fmt.Sprintf("%s %s %s", role, location, joinSkills(top3)))
	}
	if role != "" && location != "" && len(top2) == 2 {
		strict = dedupeAppend(strict, seen, maxQueries, fmt.Sprintf("%s %s %s", role, location, joinSkills(top2)))
	}
	if title != "" && location != "" {
		strict = dedupeAppend(strict, seen, maxQueries, fmt.Sprintf("%s %s", title, location))
	}
	if role != "" && location != "" && len(req.TopSkills) == 0 {
		strict = dedupeAppend(strict, seen, maxQueries, fmt.Sprintf("%s %s", role, location))
	}

	if role != "" && len(top3) > 0 {
		fallback = dedupeAppend(fallback, seen, maxQueries, fmt.Sprintf("%s %s", role, joinSkills(top3)))
	}
	if title != "" {
		fallback = dedupeAppend(fallback, seen, maxQueries, title)
	}
	if title != "" && len(req.TopSkills) > 0 {
		fallback = dedupeAppend(fallback, seen, maxQueries, fmt.Sprintf("%s %s", title, joinSkills(getDiscoverySkillTerms(req.TopSkills))))
	}
	if len(top3) > 0 {
		fallback = dedupeAppend(fallback, seen, maxQueries, joinSkills(top3))
	}
	if role != "" && len(top2) > 0 {
		fallback = dedupeAppend(fallback, seen, maxQueries, fmt.Sprintf("%s %s", role, joinSkills(top2)))
	}
	if role != "" {
		fallback = dedupeAppend(fallback, seen, maxQueries, role)
	}
	if location != "" {
		fallback = dedupeAppend(fallback, seen, maxQueries, location)
	}

	return Plan{Strict: strict, Fallback: fallback}
}

var queryGenSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"strictQueries":   map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "maxItems": 12},
		"fallbackQueries": map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "maxItems": 12},
	},
	"required": []string{"strictQueries", "fallbackQueries"},
}

// BuildHybridPlan attempts an LLM-generated query set and merges it onto
// the deterministic plan (LLM never replaces, only augments). On any
// failure it falls back to the deterministic plan unchanged.
func BuildHybridPlan(ctx context.Context, generator llm.ObjectGenerator, req model.Requirements, maxQueries, timeoutMs, maxRetries int) Plan {
	det := BuildDeterministicPlan(req, maxQueries)
	if generator == nil {
		return det
	}

	llmPlan, err := callQueryGen(ctx, generator, req, timeoutMs, maxRetries)
	if err != nil {
		return det
	}

	seen := map[string]struct{}{}
	var strict, fallback []string
	for _, q := range llmPlan.Strict {
		strict = dedupeAppend(strict, seen, maxQueries, stripSitePrefix(q))
	}
	for _, q := range det.Strict {
		strict = dedupeAppend(strict, seen, maxQueries, stripSitePrefix(q))
	}
	for _, q := range llmPlan.Fallback {
		fallback = dedupeAppend(fallback, seen, maxQueries, stripSitePrefix(q))
	}
	for _, q := range det.Fallback {
		fallback = dedupeAppend(fallback, seen, maxQueries, stripSitePrefix(q))
	}

	return Plan{Strict: strict, Fallback: fallback}
}

func stripSitePrefix(q string) string {
	return strings.TrimSpace(strings.TrimPrefix(q, sitePrefix))
}

func callQueryGen(ctx context.Context, generator llm.ObjectGenerator, req model.Requirements, timeoutMs, maxRetries int) (Plan, error) {
	prompt := fmt.Sprintf(
		"Generate LinkedIn profile search queries for a %s role in %s requiring skills: %s. Return up to 12 strictQueries (location-targeted) and up to 12 fallbackQueries.",
		req.RoleFamily, req.Location, strings.Join(req.TopSkills, ", "),
	)

	var lastErr error
	attempts := 1 + maxRetries
	for attempt := 0; attempt < attempts; attempt++ {
		callCtx, cancel := llm.WithTimeout(ctx, msToDuration(timeoutMs))
		raw, err := generator.Generate(callCtx, queryGenSchema, prompt)
		timedOut := callCtx.Err() != nil
		cancel()

		if err == nil {
			var parsed struct {
				StrictQueries   []string `json:"strictQueries"`
				FallbackQueries []string `json:"fallbackQueries"`
			}
			if jerr := json.Unmarshal(raw, &parsed); jerr == nil {
				return Plan{Strict: parsed.StrictQueries, Fallback: parsed.FallbackQueries}, nil
			}
			lastErr = fmt.Errorf("unmarshal query gen response")
		} else {
			lastErr = err
		}
		if timedOut {
			return Plan{}, fmt.Errorf("query gen timed out: %w", lastErr)
		}
	}
	return Plan{}, fmt.Errorf("query gen failed after %d attempts: %w", attempts, lastErr)
}

// Package rank implements the pure ranking function (§4.E): four weighted
// component scores plus a location tier gate that never enters the score.
package rank

import (
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/puneetrinity/signal-sourcing/internal/model"
	"github.com/puneetrinity/signal-sourcing/internal/requirements"
)

const (
	weightSkill     = 0.45
	weightRole      = 0.15
	weightSeniority = 0.25
	weightFreshness = 0.15
)

// Config carries the ranker's tunable parameters (§4.E's rank() signature).
// LocationBoostWeight is accepted for signature parity with the spec but,
// per §4.E, location never enters the score itself — it only gates tier
// assignment, consumed downstream by the two-tier assembly (§4.H).
type Config struct {
	FitScoreEpsilon     float64
	LocationBoostWeight float64
}

// Input pairs a candidate with its (possibly absent) intelligence snapshot.
type Input struct {
	Candidate model.Candidate
	Snapshot  *model.IntelligenceSnapshot
}

// Scored is one ranked candidate, carrying the full fit breakdown.
type Scored struct {
	CandidateID string
	FitScore    float64
	Breakdown   model.FitBreakdown
}

// Rank scores every candidate, classifies its location tier, and returns
// the list sorted descending by fit with compareFitWithConfidence as the
// tie-break comparator. It never mutates its inputs.
func Rank(inputs []Input, req model.Requirements, cfg Config) []Scored {
	out := make([]Scored, 0, len(inputs))
	for _, in := range inputs {
		skillScore, skillMethod := scoreSkill(in, req)
		roleScore := scoreRole(in, req)
		seniorityScore := scoreSeniority(in, req)
		freshnessScore := scoreFreshness(in)

		fit := weightSkill*skillScore + weightRole*roleScore + weightSeniority*seniorityScore + weightFreshness*freshnessScore

		loc := classifyLocation(req.Location, candidateLocationText(in))
		conf := dataConfidence(in, skillMethod)

		out = append(out, Scored{
			CandidateID: in.Candidate.ID,
			FitScore:    fit,
			Breakdown: model.FitBreakdown{
				SkillScore:        skillScore,
				SkillScoreMethod:  skillMethod,
				RoleScore:         roleScore,
				SeniorityScore:    seniorityScore,
				FreshnessScore:    freshnessScore,
				MatchTier:         model.MatchTier(loc.matchTier),
				LocationMatchType: model.LocationMatchType(loc.matchType),
				DataConfidence:    conf,
			},
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return compareFitWithConfidence(out[i], out[j], cfg.FitScoreEpsilon) < 0
	})
	return out
}

// compareFitWithConfidence implements §4.E's tie-break comparator: fitScore
// descending, ties within epsilon broken by dataConfidence (high > medium
// > low), then stable by candidate id. Returns <0 if a sorts before b.
func compareFitWithConfidence(a, b Scored, epsilon float64) int {
	diff := a.FitScore - b.FitScore
	if diff > epsilon {
		return -1
	}
	if diff < -epsilon {
		return 1
	}
	ra, rb := confidenceRank(a.Breakdown.DataConfidence), confidenceRank(b.Breakdown.DataConfidence)
	if ra != rb {
		if ra > rb {
			return -1
		}
		return 1
	}
	switch {
	case a.CandidateID < b.CandidateID:
		return -1
	case a.CandidateID > b.CandidateID:
		return 1
	default:
		return 0
	}
}

// CompareFitWithConfidence exposes the tie-break comparator to callers
// outside this package (the orchestrator's assembly sorts).
func CompareFitWithConfidence(a, b Scored, epsilon float64) int {
	return compareFitWithConfidence(a, b, epsilon)
}

// SortStrictBeforeExpanded reorders scored rows so every strict-tier row
// precedes every expanded-tier row, each group internally ordered by
// compareFitWithConfidence (§4.K step 3).
func SortStrictBeforeExpanded(scored []Scored, epsilon float64) {
	sort.SliceStable(scored, func(i, j int) bool {
		ti, tj := scored[i].Breakdown.MatchTier, scored[j].Breakdown.MatchTier
		if ti != tj {
			return ti == model.TierStrict
		}
		return compareFitWithConfidence(scored[i], scored[j], epsilon) < 0
	})
}

func confidenceRank(c model.DataConfidence) int {
	switch c {
	case model.ConfidenceHigh:
		return 2
	case model.ConfidenceMedium:
		return 1
	default:
		return 0
	}
}

var allowlistShortForms = map[string]struct{}{
	"ts": {}, "js": {}, "go": {}, "pg": {}, "k8s": {},
}

var alphaOnlyRe = regexp.MustCompile(`^[a-zA-Z]+$`)

// scoreSkill implements skillScore = 0.8*overlap + 0.2*domainMatch,
// preferring the snapshot's normalized skill set over a text scan.
func scoreSkill(in Input, req model.Requirements) (float64, string) {
	if len(req.TopSkills) == 0 {
		return 0, "snapshot"
	}

	if in.Snapshot != nil && len(in.Snapshot.SkillsNormalized) > 0 {
		overlap := overlapRatio(in.Snapshot.SkillsNormalized, req.TopSkills)
		domain := domainMatch(in.Snapshot, req)
		return clamp01(0.8*overlap + 0.2*domain), "snapshot"
	}

	bag := strings.ToLower(strings.Join([]string{
		derefStr(in.Candidate.HeadlineHint), in.Candidate.SearchTitle, in.Candidate.SearchSnippet,
	}, " "))

	matched := 0
	for _, skill := range req.TopSkills {
		forms := requirements.GetSkillSurfaceForms(skill)
		for _, form := range forms {
			if len(form) <= 2 && alphaOnlyRe.MatchString(form) {
				if _, ok := allowlistShortForms[form]; !ok {
					continue
				}
			}
			re := regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(form) + `\b`)
			if re.MatchString(bag) {
				matched++
				break
			}
		}
	}
	overlap := float64(matched) / float64(len(req.TopSkills))
	return clamp01(0.8 * overlap), "text_fallback"
}

func overlapRatio(snapshotSkills, targetSkills []string) float64 {
	set := make(map[string]struct{}, len(snapshotSkills))
	for _, s := range snapshotSkills {
		set[requirements.CanonicalizeSkill(s)] = struct{}{}
	}
	matched := 0
	for _, t := range targetSkills {
		if _, ok := set[requirements.CanonicalizeSkill(t)]; ok {
			matched++
		}
	}
	if len(targetSkills) == 0 {
		return 0
	}
	return float64(matched) / float64(len(targetSkills))
}

func domainMatch(snap *model.IntelligenceSnapshot, req model.Requirements) float64 {
	if req.Domain == "" {
		return 0.5
	}
	if strings.Contains(strings.ToLower(snap.RoleType), req.Domain) {
		return 1.0
	}
	return 0.0
}

var fullstackAdjacent = map[string]struct{}{"frontend": {}, "backend": {}}

func scoreRole(in Input, req model.Requirements) float64 {
	if req.RoleFamily == "" {
		return 0.5
	}
	detected := detectRoleFamily(in)
	if detected == "" {
		return 0.3
	}
	if detected == req.RoleFamily {
		return 1.0
	}
	if (detected == "fullstack" && isFullstackAdjacent(req.RoleFamily)) ||
		(req.RoleFamily == "fullstack" && isFullstackAdjacent(detected)) {
		return 0.7
	}
	return 0.1
}

func isFullstackAdjacent(family string) bool {
	_, ok := fullstackAdjacent[family]
	return ok
}

func detectRoleFamily(in Input) string {
	if in.Snapshot != nil && in.Snapshot.RoleType != "" {
		return requirements.DetectRoleFamily(in.Snapshot.RoleType)
	}
	text := strings.Join([]string{derefStr(in.Candidate.HeadlineHint), in.Candidate.SearchTitle}, " ")
	return requirements.DetectRoleFamily(text)
}

var seniorityLadder = []string{"junior", "mid", "senior", "lead", "staff", "principal"}

func seniorityIndex(band string) (int, bool) {
	for i, b := range seniorityLadder {
		if b == band {
			return i, true
		}
	}
	return 0, false
}

func scoreSeniority(in Input, req model.Requirements) float64 {
	if req.SeniorityLevel == "" {
		return 0.5
	}
	targetIdx, ok := seniorityIndex(req.SeniorityLevel)
	if !ok {
		return 0.3
	}

	band := ""
	if in.Snapshot != nil {
		band = in.Snapshot.SeniorityBand
	}
	if band == "" {
		band = requirements.DetectSeniority(derefStr(in.Candidate.HeadlineHint) + " " + in.Candidate.SearchTitle)
	}
	candIdx, ok := seniorityIndex(band)
	if !ok {
		return 0.3
	}

	dist := candIdx - targetIdx
	if dist < 0 {
		dist = -dist
	}
	switch dist {
	case 0:
		return 1.0
	case 1:
		return 0.5
	default:
		return 0
	}
}

func scoreFreshness(in Input) float64 {
	var ts *time.Time
	if in.Snapshot != nil {
		t := in.Snapshot.ComputedAt
		ts = &t
	} else {
		ts = in.Candidate.LastEnrichedAt
	}
	if ts == nil {
		return 0.1
	}
	age := time.Since(*ts)
	switch {
	case age <= 30*24*time.Hour:
		return 1.0
	case age <= 90*24*time.Hour:
		return 0.7
	case age <= 180*24*time.Hour:
		return 0.4
	default:
		return 0.1
	}
}

// dataConfidence is derived from how much of the scoring leaned on a real
// snapshot versus a noisy text fallback: snapshot-backed skill scoring plus
// a known seniority band is high confidence; any snapshot use is medium;
// a pure text-fallback read is low. This mirrors how the teacher's
// specialist resolver grades a match's evidence quality.
func dataConfidence(in Input, skillMethod string) model.DataConfidence {
	if skillMethod == "snapshot" && in.Snapshot != nil && in.Snapshot.SeniorityBand != "" {
		return model.ConfidenceHigh
	}
	if in.Snapshot != nil {
		return model.ConfidenceMedium
	}
	return model.ConfidenceLow
}

func candidateLocationText(in Input) string {
	if in.Snapshot != nil && in.Snapshot.Location != "" {
		return in.Snapshot.Location
	}
	return derefStr(in.Candidate.LocationHint)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func derefStr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

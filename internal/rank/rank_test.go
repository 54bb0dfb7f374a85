package rank

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/puneetrinity/signal-sourcing/internal/model"
)

func strPtr(s string) *string { return &s }

func TestRankOrdersBySkillOverlap(t *testing.T) {
	now := time.Now()
	fresh := now.Add(-time.Hour)

	req := model.Requirements{TopSkills: []string{"go", "kubernetes", "postgresql"}}

	inputs := []Input{
		{
			Candidate: model.Candidate{ID: "strong"},
			Snapshot: &model.IntelligenceSnapshot{
				SkillsNormalized: []string{"go", "kubernetes", "postgresql"},
				ComputedAt:       fresh,
			},
		},
		{
			Candidate: model.Candidate{ID: "weak"},
			Snapshot: &model.IntelligenceSnapshot{
				SkillsNormalized: []string{"excel"},
				ComputedAt:       fresh,
			},
		},
	}

	scored := Rank(inputs, req, Config{FitScoreEpsilon: 0.01})
	assert.Equal(t, "strong", scored[0].CandidateID)
	assert.Greater(t, scored[0].FitScore, scored[1].FitScore)
}

func TestRankTextFallbackWhenNoSnapshot(t *testing.T) {
	req := model.Requirements{TopSkills: []string{"go", "kubernetes"}}
	inputs := []Input{
		{
			Candidate: model.Candidate{
				ID:            "c1",
				HeadlineHint:  strPtr("Senior Go and Kubernetes Engineer"),
				LastEnrichedAt: timePtr(time.Now()),
			},
		},
	}
	scored := Rank(inputs, req, Config{FitScoreEpsilon: 0.01})
	assert.Equal(t, "text_fallback", scored[0].Breakdown.SkillScoreMethod)
	assert.Greater(t, scored[0].Breakdown.SkillScore, 0.0)
}

func timePtr(t time.Time) *time.Time { return &t }

func TestRankEmptyTopSkillsGivesZeroSkillScoreAndTies(t *testing.T) {
	req := model.Requirements{}
	inputs := []Input{
		{
			Candidate: model.Candidate{ID: "a"},
			Snapshot: &model.IntelligenceSnapshot{
				SkillsNormalized: []string{"go", "kubernetes"},
			},
		},
		{
			Candidate: model.Candidate{ID: "b"},
		},
	}

	scored := Rank(inputs, req, Config{FitScoreEpsilon: 0.01})
	for _, s := range scored {
		assert.Equal(t, 0.0, s.Breakdown.SkillScore)
	}
	assert.Equal(t, scored[0].FitScore, scored[1].FitScore)
}

func TestClassifyLocationCityExact(t *testing.T) {
	c := classifyLocation("Bangalore, India", "Software Engineer based in Bangalore, India")
	assert.Equal(t, tierStrict, c.matchTier)
	assert.Equal(t, locCityExact, c.matchType)
}

func TestClassifyLocationCityAlias(t *testing.T) {
	c := classifyLocation("Bengaluru, India", "Based in Bangalore")
	assert.Equal(t, tierStrict, c.matchTier)
	assert.Equal(t, locCityAlias, c.matchType)
}

func TestClassifyLocationCountryOnly(t *testing.T) {
	c := classifyLocation("Mumbai, India", "Remote, India")
	assert.Equal(t, tierExpanded, c.matchTier)
	assert.Equal(t, locCountryOnly, c.matchType)
}

func TestClassifyLocationNoTarget(t *testing.T) {
	c := classifyLocation("", "Anywhere")
	assert.Equal(t, tierStrict, c.matchTier)
	assert.Equal(t, locNone, c.matchType)
}

func TestClassifyLocationNoisyCandidate(t *testing.T) {
	c := classifyLocation("Bangalore, India", "Unknown")
	assert.Equal(t, tierExpanded, c.matchTier)
	assert.Equal(t, locNone, c.matchType)
}

func TestCompareFitWithConfidenceTieBreaksOnConfidence(t *testing.T) {
	a := Scored{CandidateID: "a", FitScore: 0.701, Breakdown: model.FitBreakdown{DataConfidence: model.ConfidenceLow}}
	b := Scored{CandidateID: "b", FitScore: 0.700, Breakdown: model.FitBreakdown{DataConfidence: model.ConfidenceHigh}}
	assert.Equal(t, 1, compareFitWithConfidence(a, b, 0.01))
}

func TestCompareFitWithConfidenceStableById(t *testing.T) {
	a := Scored{CandidateID: "a", FitScore: 0.5, Breakdown: model.FitBreakdown{DataConfidence: model.ConfidenceMedium}}
	b := Scored{CandidateID: "b", FitScore: 0.5, Breakdown: model.FitBreakdown{DataConfidence: model.ConfidenceMedium}}
	assert.Equal(t, -1, compareFitWithConfidence(a, b, 0.01))
}

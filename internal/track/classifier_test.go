package track

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/puneetrinity/signal-sourcing/internal/config"
	"github.com/puneetrinity/signal-sourcing/internal/model"
	"github.com/puneetrinity/signal-sourcing/internal/requirements"
)

func testConfig() config.Config {
	return config.Config{
		TrackClassifierVersion: "v1",
		TrackLowConfThreshold:  0.65,
		TrackBlendThreshold:    0.15,
		TrackGroqEnabled:       false,
		TrackGroqTimeoutMs:     1200,
		TrackGroqMaxRetries:    1,
		TrackGroqCacheTTLDays:  7,
		TrackCBThreshold:       5,
		TrackCBWindowSec:       120,
		TrackCBCooldownSec:     60,
	}
}

func TestClassifyDeterministicTech(t *testing.T) {
	jobCtx := model.JobContext{
		Title:  "Senior Backend Software Engineer",
		Skills: []string{"golang", "kubernetes", "postgresql", "docker", "aws"},
		JDDigest: `{"topSkills":["golang","kubernetes","postgresql","docker","aws"]}`,
	}
	req := requirements.Build(jobCtx)

	c := New(testConfig(), nil, nil)
	decision := c.Classify(context.Background(), jobCtx, req, "")

	assert.Equal(t, model.TrackTech, decision.Track)
	assert.Equal(t, "deterministic", decision.Method)
	assert.GreaterOrEqual(t, decision.Confidence, 0.0)
	assert.LessOrEqual(t, decision.Confidence, 1.0)
}

func TestClassifyDeterministicNonTech(t *testing.T) {
	jobCtx := model.JobContext{
		Title: "Enterprise Account Executive",
		Skills: []string{"sales", "salesforce", "negotiation", "business development", "crm"},
		JDDigest: "Responsible for enterprise sales pipeline management and quota attainment.",
	}
	req := requirements.Build(jobCtx)

	c := New(testConfig(), nil, nil)
	decision := c.Classify(context.Background(), jobCtx, req, "")

	assert.Equal(t, model.TrackNonTech, decision.Track)
	assert.GreaterOrEqual(t, decision.Confidence, 0.0)
	assert.LessOrEqual(t, decision.Confidence, 1.0)
}

func TestClassifyAmbiguousBlended(t *testing.T) {
	jobCtx := model.JobContext{
		Title:    "Technical Account Manager",
		Skills:   []string{"api", "docker"},
		JDDigest: "stakeholder relationship vendor budget",
	}
	req := requirements.Build(jobCtx)

	c := New(testConfig(), nil, nil)
	decision := c.Classify(context.Background(), jobCtx, req, "")

	require.NotEmpty(t, decision.Track)
	assert.Equal(t, model.TrackBlended, decision.Track)
	assert.GreaterOrEqual(t, decision.Confidence, 0.0)
	assert.LessOrEqual(t, decision.Confidence, 1.0)
}

func TestClassifyExplicitHintOverridesToFullConfidence(t *testing.T) {
	jobCtx := model.JobContext{
		Title:     "Enterprise Account Executive",
		JDDigest:  "sales quota pipeline",
		TrackHint: "tech",
	}
	req := requirements.Build(jobCtx)

	c := New(testConfig(), nil, nil)
	decision := c.Classify(context.Background(), jobCtx, req, "tech")

	assert.Equal(t, model.TrackTech, decision.Track)
	assert.Equal(t, 1.0, decision.Confidence)
	assert.Equal(t, "tech", decision.HintUsed)
}

func TestClassifyNeverFailsOnEmptyInput(t *testing.T) {
	jobCtx := model.JobContext{}
	req := model.Requirements{}

	c := New(testConfig(), nil, nil)
	decision := c.Classify(context.Background(), jobCtx, req, "")

	assert.Equal(t, model.TrackTech, decision.Track)
	assert.InDelta(t, 0.30, decision.Confidence, 0.001)
	assert.Equal(t, "deterministic", decision.Method)
}

func TestFailSafeDecisionShape(t *testing.T) {
	d := failSafeDecision(time.Now())
	assert.Equal(t, model.TrackTech, d.Track)
	assert.InDelta(t, 0.30, d.Confidence, 0.001)
	assert.Empty(t, d.MatchedKeywords)
}

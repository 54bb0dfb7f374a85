package discovery

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/puneetrinity/signal-sourcing/internal/model"
)

func TestBuildDeterministicPlanStrictOrder(t *testing.T) {
	req := model.Requirements{
		RoleFamily: "backend",
		Location:   "Bangalore, India",
		Title:      "Senior Backend Engineer",
		TopSkills:  []string{"go", "kubernetes", "postgresql"},
	}
	plan := BuildDeterministicPlan(req, 12)

	assert.NotEmpty(t, plan.Strict)
	assert.Contains(t, plan.Strict[0], "backend")
	assert.Contains(t, plan.Strict[0], "Bangalore")
	for _, q := range plan.Strict {
		assert.True(t, strings.HasPrefix(q, sitePrefix))
	}
}

func TestBuildDeterministicPlanDedupesCaseInsensitive(t *testing.T) {
	req := model.Requirements{
		RoleFamily: "Backend",
		Title:      "Backend",
	}
	plan := BuildDeterministicPlan(req, 12)
	seen := map[string]struct{}{}
	for _, q := range append(plan.Strict, plan.Fallback...) {
		key := strings.ToLower(q)
		_, dup := seen[key]
		assert.False(t, dup, "duplicate query: %s", q)
		seen[key] = struct{}{}
	}
}

func TestBuildDeterministicPlanCapsAtMaxQueries(t *testing.T) {
	req := model.Requirements{
		RoleFamily: "backend",
		Location:   "Remote",
		Title:      "Backend Engineer",
		TopSkills:  []string{"go", "kubernetes", "postgresql", "docker"},
	}
	plan := BuildDeterministicPlan(req, 2)
	assert.LessOrEqual(t, len(plan.Strict), 2)
	assert.LessOrEqual(t, len(plan.Fallback), 2)
}

func TestBuildDeterministicPlanNoSkillsFallsBackToRoleLocation(t *testing.T) {
	req := model.Requirements{
		RoleFamily: "backend",
		Location:   "Remote",
	}
	plan := BuildDeterministicPlan(req, 12)
	found := false
	for _, q := range plan.Strict {
		if strings.Contains(q, "backend") && strings.Contains(q, "Remote") {
			found = true
		}
	}
	assert.True(t, found)
}

type fakeGenerator struct {
	response []byte
	err      error
}

func (f *fakeGenerator) Generate(ctx context.Context, schema map[string]any, prompt string) ([]byte, error) {
	return f.response, f.err
}

// Package requirements parses a job's structured digest into normalized
// requirements (§4.C), canonicalizing skills via a static alias table.
package requirements

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/puneetrinity/signal-sourcing/internal/model"
)

const maxSkills = 12

type parsedDigest struct {
	TopSkills      []string `json:"topSkills"`
	SeniorityLevel string   `json:"seniorityLevel"`
	Domain         string   `json:"domain"`
	RoleFamily     string   `json:"roleFamily"`
}

var splitRe = regexp.MustCompile(`[,;]`)

func normalizeSkillText(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// CanonicalizeSkill exposes the canonical form of a raw skill string.
func CanonicalizeSkill(s string) string { return canonicalizeSkill(s) }

// GetSkillSurfaceForms exposes canonical + alias + concept surface forms
// for a canonical skill.
func GetSkillSurfaceForms(canonical string) []string { return getSkillSurfaceForms(canonical) }

// DetectRoleFamily runs the same keyword signals Build uses to infer a
// role family from a title, exposed for the ranker's text-fallback path.
func DetectRoleFamily(text string) string { return inferRoleFamily(text) }

// DetectSeniority runs the same keyword signals Build uses to infer a
// seniority band from a title, exposed for the ranker's text-fallback path.
func DetectSeniority(text string) string { return inferSeniority(text) }

// Build parses jobCtx.JDDigest (structured JSON when possible, else a
// comma/semicolon-delimited token fallback), merges topSkills/skills/
// goodToHaveSkills, dedupes via CanonicalizeSkill, and clips to 12. When
// seniorityLevel/roleFamily are absent from the digest they are inferred
// from the title via inferSeniority/inferRoleFamily (the taxonomy modules
// this core treats as internal helpers, per spec's out-of-scope note on
// "role-family/seniority taxonomies" referring to the external system
// that OWNS the taxonomy, not this lightweight keyword inference).
func Build(jobCtx model.JobContext) model.Requirements {
	var digest parsedDigest
	_ = json.Unmarshal([]byte(jobCtx.JDDigest), &digest)

	seen := map[string]struct{}{}
	var skills []string
	addSkill := func(raw string) {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			return
		}
		canon := canonicalizeSkill(raw)
		if canon == "" {
			return
		}
		if _, ok := seen[canon]; ok {
			return
		}
		if len(skills) >= maxSkills {
			return
		}
		seen[canon] = struct{}{}
		skills = append(skills, canon)
	}

	for _, s := range digest.TopSkills {
		addSkill(s)
	}
	for _, s := range jobCtx.Skills {
		addSkill(s)
	}
	for _, s := range jobCtx.GoodToHaveSkills {
		addSkill(s)
	}
	if len(digest.TopSkills) == 0 && len(jobCtx.Skills) == 0 {
		for _, tok := range splitRe.Split(jobCtx.JDDigest, -1) {
			if len(skills) >= maxSkills {
				break
			}
			tok = strings.TrimSpace(tok)
			if len(tok) > 0 && len(tok) < 40 {
				addSkill(tok)
			}
		}
	}

	seniority := strings.ToLower(strings.TrimSpace(digest.SeniorityLevel))
	roleFamily := strings.ToLower(strings.TrimSpace(digest.RoleFamily))
	if seniority == "" {
		seniority = inferSeniority(jobCtx.Title)
	}
	if roleFamily == "" {
		roleFamily = inferRoleFamily(jobCtx.Title)
	}

	return model.Requirements{
		TopSkills:       skills,
		SeniorityLevel:  seniority,
		Domain:          strings.ToLower(strings.TrimSpace(digest.Domain)),
		RoleFamily:      roleFamily,
		Title:           jobCtx.Title,
		Location:        jobCtx.Location,
		ExperienceYears: jobCtx.ExperienceYears,
	}
}

var senioritySignals = []struct {
	band     string
	keywords []string
}{
	{"principal", []string{"principal", "distinguished", "fellow"}},
	{"staff", []string{"staff"}},
	{"senior", []string{"senior", "sr.", "sr "}},
	{"lead", []string{"lead", "head of"}},
	{"mid", []string{"mid-level", "mid level"}},
	{"junior", []string{"junior", "jr.", "jr ", "entry level", "associate"}},
}

func inferSeniority(title string) string {
	t := strings.ToLower(title)
	for _, sig := range senioritySignals {
		for _, kw := range sig.keywords {
			if strings.Contains(t, kw) {
				return sig.band
			}
		}
	}
	return ""
}

var roleFamilySignals = []struct {
	family   string
	keywords []string
}{
	{"backend", []string{"backend", "back-end", "back end", "server side", "api engineer"}},
	{"frontend", []string{"frontend", "front-end", "front end", "ui engineer"}},
	{"fullstack", []string{"full stack", "full-stack", "fullstack"}},
	{"data", []string{"data engineer", "data scientist", "analytics engineer"}},
	{"devops", []string{"devops", "sre", "site reliability", "platform engineer"}},
	{"mobile", []string{"ios", "android", "mobile engineer"}},
	{"sales", []string{"account executive", "sales", "business development"}},
	{"marketing", []string{"marketing", "growth", "demand gen"}},
	{"product", []string{"product manager", "product owner"}},
	{"design", []string{"designer", "ux", "ui design"}},
	{"finance", []string{"accountant", "finance", "controller"}},
	{"hr", []string{"recruiter", "talent", "human resources", "hr "}},
}

func inferRoleFamily(title string) string {
	t := strings.ToLower(title)
	for _, sig := range roleFamilySignals {
		for _, kw := range sig.keywords {
			if strings.Contains(t, kw) {
				return sig.family
			}
		}
	}
	return ""
}

package requirements

import (
	_ "embed"

	"gopkg.in/yaml.v3"
)

//go:embed aliases.yaml
var aliasesYAML []byte

type aliasData struct {
	Aliases             map[string]string   `yaml:"aliases"`
	ConceptSurfaceForms map[string][]string `yaml:"conceptSurfaceForms"`
}

// aliasTable maps common shorthand/variant skill spellings to a single
// canonical form. conceptSurfaceForms maps a canonical concept to
// additional surface forms that should be treated as evidence of that
// concept in free text (beyond the alias table, which is a strict 1:1
// rewrite). Both are decoded once from aliases.yaml at package init,
// grounded on the reference stack's own yaml.v3 config-loading style.
var aliasTable map[string]string
var conceptSurfaceForms map[string][]string

func init() {
	var data aliasData
	if err := yaml.Unmarshal(aliasesYAML, &data); err != nil {
		panic("requirements: malformed aliases.yaml: " + err.Error())
	}
	aliasTable = data.Aliases
	conceptSurfaceForms = data.ConceptSurfaceForms
}

// canonicalizeSkill lowercases, trims, and rewrites s through the alias
// table if present.
func canonicalizeSkill(s string) string {
	t := normalizeSkillText(s)
	if canon, ok := aliasTable[t]; ok {
		return canon
	}
	return t
}

// getSkillSurfaceForms returns the canonical form plus every alias that
// maps to it plus any concept surface forms, for the ranker's
// text-fallback scan.
func getSkillSurfaceForms(canonical string) []string {
	forms := map[string]struct{}{canonical: {}}
	for alias, canon := range aliasTable {
		if canon == canonical {
			forms[alias] = struct{}{}
		}
	}
	if extra, ok := conceptSurfaceForms[canonical]; ok {
		for _, e := range extra {
			forms[e] = struct{}{}
		}
	}
	out := make([]string, 0, len(forms))
	for f := range forms {
		out = append(out, f)
	}
	return out
}

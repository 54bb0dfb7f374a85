package track

import (
	_ "embed"
	"regexp"

	"gopkg.in/yaml.v3"
)

//go:embed keywords.yaml
var keywordsYAML []byte

type keywordList struct {
	Strong   []string `yaml:"strong"`
	Moderate []string `yaml:"moderate"`
}

type keywordData struct {
	Tech    keywordList `yaml:"tech"`
	NonTech keywordList `yaml:"nonTech"`
}

type keyword struct {
	term   string
	weight float64 // 1.0 strong, 0.5 moderate
	re     *regexp.Regexp
}

func compileKeywords(strong, moderate []string) []keyword {
	out := make([]keyword, 0, len(strong)+len(moderate))
	for _, t := range strong {
		out = append(out, keyword{term: t, weight: 1.0, re: wordBoundary(t)})
	}
	for _, t := range moderate {
		out = append(out, keyword{term: t, weight: 0.5, re: wordBoundary(t)})
	}
	return out
}

func wordBoundary(term string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(term) + `\b`)
}

// techKeywords and nonTechKeywords are decoded once from keywords.yaml at
// package init, grounded on the reference stack's own yaml.v3 config-loading
// style.
var techKeywords []keyword
var nonTechKeywords []keyword

func init() {
	var data keywordData
	if err := yaml.Unmarshal(keywordsYAML, &data); err != nil {
		panic("track: malformed keywords.yaml: " + err.Error())
	}
	techKeywords = compileKeywords(data.Tech.Strong, data.Tech.Moderate)
	nonTechKeywords = compileKeywords(data.NonTech.Strong, data.NonTech.Moderate)
}

func matchKeywords(text string, list []keyword) (raw float64, strongCount int, matched []string) {
	for _, k := range list {
		if k.re.MatchString(text) {
			raw += k.weight
			if k.weight >= 1.0 {
				strongCount++
			}
			matched = append(matched, k.term)
		}
	}
	return
}

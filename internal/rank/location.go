package rank

import (
	"regexp"
	"strings"

	"github.com/puneetrinity/signal-sourcing/internal/hints"
)

var (
	greaterAreaRe = regexp.MustCompile(`(?i)^greater\s+(.+?)\s+(area|region|metropolitan)$`)
	punctRe       = regexp.MustCompile(`[^a-z0-9\s]`)
	spaceRe       = regexp.MustCompile(`\s+`)
)

var cityAliases = map[string]string{
	"bengaluru": "bangalore",
	"bombay":    "mumbai",
	"nyc":       "new york",
	"sf":        "san francisco",
}

var countryTokens = map[string]struct{}{
	"usa": {}, "us": {}, "united states": {}, "uk": {}, "united kingdom": {},
	"india": {}, "canada": {}, "germany": {}, "france": {}, "australia": {},
	"singapore": {}, "netherlands": {}, "ireland": {}, "spain": {}, "italy": {},
	"brazil": {}, "mexico": {}, "japan": {}, "china": {},
}

func canonicalizeText(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = punctRe.ReplaceAllString(s, " ")
	s = spaceRe.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

func applyAlias(s string) string {
	if alias, ok := cityAliases[s]; ok {
		return alias
	}
	return s
}

// primaryCity extracts the target's city from its first comma segment,
// stripping a "greater X area/region/metropolitan" wrapper.
func primaryCity(targetLocation string) string {
	parts := strings.Split(targetLocation, ",")
	first := canonicalizeText(parts[0])
	if m := greaterAreaRe.FindStringSubmatch(first); m != nil {
		first = strings.TrimSpace(m[1])
	}
	return first
}

func matchingCountryToken(canon string) (string, bool) {
	for token := range countryTokens {
		if strings.Contains(" "+canon+" ", " "+token+" ") {
			return token, true
		}
	}
	return "", false
}

// CountryTokenForLocation derives the country token a free-text location
// string refers to, if any — exposed for the orchestrator's country guard
// (§4.H step 4), which needs the same token vocabulary this package's
// location classifier uses.
func CountryTokenForLocation(location string) (string, bool) {
	if hints.IsNoisy(location) || strings.TrimSpace(location) == "" {
		return "", false
	}
	return matchingCountryToken(canonicalizeText(location))
}

// classification is the location-gate result for one candidate.
type classification struct {
	matchTier  string
	matchType  string
}

const (
	tierStrict   = "strict_location"
	tierExpanded = "expanded_location"

	locCityExact   = "city_exact"
	locCityAlias   = "city_alias"
	locCountryOnly = "country_only"
	locNone        = "none"
)

// classifyLocation implements §4.E's location classification.
func classifyLocation(targetLocation, candidateLocation string) classification {
	if hints.IsNoisy(targetLocation) || strings.TrimSpace(targetLocation) == "" {
		return classification{tierStrict, locNone}
	}
	if hints.IsNoisy(candidateLocation) || strings.TrimSpace(candidateLocation) == "" {
		return classification{tierExpanded, locNone}
	}

	targetCityRaw := primaryCity(targetLocation)
	targetCityCanon := applyAlias(targetCityRaw)
	candidateCanonRaw := canonicalizeText(candidateLocation)

	hasTargetCity := targetCityRaw != ""

	if hasTargetCity && strings.Contains(candidateCanonRaw, targetCityCanon) {
		if strings.Contains(candidateCanonRaw, targetCityRaw) {
			return classification{tierStrict, locCityExact}
		}
		return classification{tierStrict, locCityAlias}
	}

	targetCanon := canonicalizeText(targetLocation)
	if targetToken, ok := matchingCountryToken(targetCanon); ok {
		if candToken, ok2 := matchingCountryToken(candidateCanonRaw); ok2 && candToken == targetToken {
			if !hasTargetCity {
				return classification{tierStrict, locCountryOnly}
			}
			return classification{tierExpanded, locCountryOnly}
		}
	}

	return classification{tierExpanded, locNone}
}

package hints

import "testing"

func TestIsNoisy(t *testing.T) {
	cases := map[string]bool{
		"":                     true,
		"n/a":                  true,
		"N/A":                  true,
		"unknown":              true,
		"...":                  true,
		"view full profile...": true,
		"https://example.com":  true,
		"linkedin member":      true,
		"Senior Backend Engineer": false,
		"Bangalore, India":     false,
	}
	for in, want := range cases {
		if got := IsNoisy(in); got != want {
			t.Errorf("IsNoisy(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestQualityScoreClamped(t *testing.T) {
	if QualityScore("") != 0 {
		t.Fatal("empty should score 0")
	}
	if QualityScore("one two three four five six") != 4 {
		t.Fatalf("expected clamp to 4, got %d", QualityScore("one two three four five six"))
	}
	if QualityScore("one two") != 2 {
		t.Fatalf("expected 2, got %d", QualityScore("one two"))
	}
}

func TestShouldReplaceMonotone(t *testing.T) {
	if !ShouldReplace("", "Staff Engineer") {
		t.Fatal("expected replace of empty with real text")
	}
	if ShouldReplace("Staff Engineer at Acme", "Eng") {
		t.Fatal("should not replace higher quality with lower")
	}
	if ShouldReplace("Staff", "n/a") {
		t.Fatal("should never replace with noisy text")
	}
}

func TestLocationHintQualityScore(t *testing.T) {
	if LocationHintQualityScore("Bangalore, India") < 2 {
		t.Fatal("city+country should score high")
	}
	if LocationHintQualityScore("10 years experience as engineer") != 0 {
		t.Fatal("bio-shaped text must score 0")
	}
	if LocationHintQualityScore("India") != 1 {
		t.Fatalf("country-only should score 1, got %d", LocationHintQualityScore("India"))
	}
}

func TestShouldReplaceLocationHintRejectsBio(t *testing.T) {
	if ShouldReplaceLocationHint("", "10 years of experience as a senior engineer") {
		t.Fatal("bio text must never pass as a location hint")
	}
}

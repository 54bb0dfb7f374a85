// Package serp defines the consumed SERP provider interface (§6).
package serp

import (
	"context"
	"encoding/json"
)

// ProfileSummary is one SERP hit for a LinkedIn-profile-shaped query.
type ProfileSummary struct {
	ProfileURL  string
	Title       string
	Snippet     string
	Name        string
	Headline    string
	Location    string
	ProviderMeta json.RawMessage
}

// Result is the outcome of one searchLinkedInProfilesWithMeta call.
type Result struct {
	Results      []ProfileSummary
	ProviderUsed string
	UsedFallback bool
}

// Provider is the consumed SERP provider interface.
type Provider interface {
	SearchLinkedInProfilesWithMeta(ctx context.Context, query string, limit int) (Result, error)
}

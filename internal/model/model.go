// Package model holds the tenant-scoped entities shared across the
// sourcing pipeline's components.
package model

import (
	"encoding/json"
	"time"
)

// EnrichmentStatus tracks where a Candidate is in the enrichment lifecycle.
type EnrichmentStatus string

const (
	EnrichmentPending    EnrichmentStatus = "pending"
	EnrichmentInProgress EnrichmentStatus = "in_progress"
	EnrichmentCompleted  EnrichmentStatus = "completed"
	EnrichmentFailed     EnrichmentStatus = "failed"
)

// Track is the resolved job classification.
type Track string

const (
	TrackTech    Track = "tech"
	TrackNonTech Track = "non_tech"
	TrackBlended Track = "blended"
)

// Candidate is a person identified by a stable profile handle on a target
// social platform. (tenantId, profileHandle) is unique.
type Candidate struct {
	ID               string
	TenantID         string
	ProfileURL       string
	ProfileHandle    string
	SearchProvider   string
	SearchQuery      string
	SearchTitle      string
	SearchSnippet    string
	SearchMeta       json.RawMessage
	NameHint         *string
	HeadlineHint     *string
	LocationHint     *string
	CompanyHint      *string
	EnrichmentStatus EnrichmentStatus
	LastEnrichedAt   *time.Time
	RoleType         *string
	ConfidenceScore  *float64
	CaptureSource    string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// IntelligenceSnapshot is derived, cached, per-track fact set about a candidate.
type IntelligenceSnapshot struct {
	CandidateID         string
	Track               Track
	SkillsNormalized    []string
	RoleType            string
	SeniorityBand       string
	Location            string
	ActivityRecencyDays *int
	ComputedAt          time.Time
	StaleAfter          time.Time
}

// IsFresh reports whether the snapshot is still fresh as of now.
func (s IntelligenceSnapshot) IsFresh(now time.Time) bool {
	return !s.StaleAfter.Before(now)
}

// RequestStatus is the SourcingRequest state-machine state.
type RequestStatus string

const (
	RequestQueued         RequestStatus = "queued"
	RequestProcessing     RequestStatus = "processing"
	RequestComplete       RequestStatus = "complete"
	RequestCallbackSent   RequestStatus = "callback_sent"
	RequestCallbackFailed RequestStatus = "callback_failed"
	RequestFailed         RequestStatus = "failed"
)

// JobContext is the structured job description the caller supplies.
type JobContext struct {
	JDDigest          string   `json:"jdDigest"`
	Title             string   `json:"title,omitempty"`
	Skills            []string `json:"skills,omitempty"`
	GoodToHaveSkills  []string `json:"goodToHaveSkills,omitempty"`
	Location          string   `json:"location,omitempty"`
	ExperienceYears   *float64 `json:"experienceYears,omitempty"`
	Education         string   `json:"education,omitempty"`
	TrackHint         string   `json:"trackHint,omitempty"`
}

// SourcingRequest is one caller-initiated sourcing job.
type SourcingRequest struct {
	ID                string
	TenantID          string
	ExternalJobID     string
	CallbackURL       string
	JobContext        JobContext
	Status            RequestStatus
	Diagnostics       map[string]json.RawMessage
	ResultCount       int
	QueriesExecuted   int
	CallbackAttempts  int
	LastCallbackError *string
	CompletedAt       *time.Time
	LastRerankedAt    *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// SourceType classifies how a SourcingCandidate entered the output.
type SourceType string

const (
	SourcePool          SourceType = "pool"
	SourcePoolEnriched  SourceType = "pool_enriched"
	SourceDiscovered    SourceType = "discovered"
)

// MatchTier partitions the output by location-strictness, not score.
type MatchTier string

const (
	TierStrict   MatchTier = "strict_location"
	TierExpanded MatchTier = "expanded_location"
)

// LocationMatchType describes how a candidate's location matched the target.
type LocationMatchType string

const (
	LocationCityExact   LocationMatchType = "city_exact"
	LocationCityAlias   LocationMatchType = "city_alias"
	LocationCountryOnly LocationMatchType = "country_only"
	LocationNone        LocationMatchType = "none"
)

// DataConfidence is a coarse confidence band used as a tie-break signal.
type DataConfidence string

const (
	ConfidenceHigh   DataConfidence = "high"
	ConfidenceMedium DataConfidence = "medium"
	ConfidenceLow    DataConfidence = "low"
)

// FitBreakdown carries the component scores behind a fit score.
type FitBreakdown struct {
	SkillScore         float64           `json:"skillScore"`
	SkillScoreMethod   string            `json:"skillScoreMethod"`
	RoleScore          float64           `json:"roleScore"`
	SeniorityScore     float64           `json:"seniorityScore"`
	FreshnessScore     float64           `json:"freshnessScore"`
	MatchTier          MatchTier         `json:"matchTier"`
	LocationMatchType  LocationMatchType `json:"locationMatchType"`
	DataConfidence     DataConfidence    `json:"dataConfidence"`
}

// SourcingCandidate is one row in the ranked output of a request.
type SourcingCandidate struct {
	RequestID        string
	CandidateID      string
	FitScore         float64
	FitBreakdown     FitBreakdown
	SourceType       SourceType
	EnrichmentStatus EnrichmentStatus
	Rank             int
}

// TrackDecision is the resolved classification, persisted inside diagnostics.
type TrackDecision struct {
	Track             Track            `json:"track"`
	Confidence        float64          `json:"confidence"`
	Method            string           `json:"method"`
	ClassifierVersion string           `json:"classifierVersion"`
	MatchedKeywords   []string         `json:"matchedKeywords,omitempty"`
	RoleFamilySignal  bool             `json:"roleFamilySignal,omitempty"`
	TechRaw           float64          `json:"techRaw"`
	NonTechRaw        float64          `json:"nonTechRaw"`
	LLMResult         *LLMTrackResult  `json:"llmResult,omitempty"`
	HintUsed          string           `json:"hintUsed,omitempty"`
	ResolvedAt        time.Time        `json:"resolvedAt"`
}

// LLMTrackResult is the optional LLM sub-result merged into a TrackDecision.
type LLMTrackResult struct {
	Track         Track    `json:"track"`
	Confidence    float64  `json:"confidence"`
	Reasons       []string `json:"reasons,omitempty"`
	AmbiguityFlag bool     `json:"ambiguityFlag"`
	Cached        bool     `json:"cached"`
}

// Requirements is the normalized, canonicalized set of job requirements
// built from a JobContext (§4.C).
type Requirements struct {
	TopSkills       []string
	SeniorityLevel  string
	Domain          string
	RoleFamily      string
	Title           string
	Location        string
	ExperienceYears *float64
}

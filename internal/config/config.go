// Package config loads the sourcing pipeline's configuration from the
// environment, following the reference stack's env-read-then-default
// pattern (see internal/config/loader.go in the teacher repo): every field
// is read with os.LookupEnv, clamped to documented bounds, and defaulted when
// unset or invalid. Load() is called once at process startup; the
// returned Config is treated as immutable afterwards.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config is the full, immutable configuration record for the sourcing core.
type Config struct {
	// Output sizing
	TargetCount        int
	MinGoodEnough       int
	JobMaxEnrich         int
	InitialEnrichCount    int

	// Discovery budget
	MaxSerpQueries              int
	DailySerpCapPerTenant       int
	DynamicQueryMultiplier      float64
	MinDiscoveryPerRun          int
	MaxDiscoveryShare           float64
	MinDiscoveryShareLowQuality float64
	MinDiscoveredInOutput       int
	DiscoveredPromotionMinFitScore float64

	// Quality gate
	QualityTopK              int
	QualityMinAvgFit          float64
	QualityThreshold          float64
	QualityMinCountAbove      int
	MinStrictMatchesBeforeExpand int

	// Ranking
	BestMatchesMinFitScore float64
	StrictRescueCount      int
	StrictRescueMinFitScore float64
	FitScoreEpsilon        float64
	LocationBoostWeight    float64

	// Guards & freshness
	CountryGuardEnabled           bool
	CountryGuardSerpLocaleEnabled bool
	LocationCoverageFloor         float64
	SnapshotStaleDays             int
	StaleRefreshMaxPerRun         int
	DiscoveredEnrichReserve       int
	DiscoveredOrphanEnrichReserve int

	// Novelty
	NoveltyEnabled    bool
	NoveltyWindowDays int

	// Query generation
	QueryGenMode              string // "deterministic" | "hybrid"
	QueryGroqTimeoutMs        int
	QueryGroqMaxRetries       int
	AdaptiveMinStrictAttempts   int
	AdaptiveStrictMinYield      float64
	AdaptiveMinFallbackAttempts int
	AdaptiveFallbackMinYield    float64

	// Track classifier
	TrackClassifierVersion string
	TrackLowConfThreshold  float64
	TrackBlendThreshold    float64
	TrackGroqEnabled       bool
	TrackGroqTimeoutMs     int
	TrackGroqMaxRetries    int
	TrackGroqCacheTTLDays  int
	TrackCBThreshold       int
	TrackCBWindowSec       int
	TrackCBCooldownSec     int

	// Rerank
	RerankAfterEnrichment bool
	RerankDelayMs         int

	// Worker / HTTP
	WorkerConcurrency                    int
	Port                                  string
	RerankWorkerConcurrency              int
	RerankWorkerPort                      string
	CallbackRedeliveryEnabled             bool
	CallbackRedeliveryIntervalMinutes     int
	CallbackRedeliveryMaxAgeMinutes       int
	CallbackRedeliveryBatchSize           int

	// Secrets / connections
	RedisURL             string
	DatabaseURL          string
	SignalJWTPrivateKey  string
	SignalJWTActiveKid   string
	GroqAPIKey           string
	EnrichmentServiceURL string
	SerperAPIKey         string

	LogLevel string
}

func getenv(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func getString(key, def string) string {
	if v, ok := getenv(key); ok {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	v, ok := getenv(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Warn().Str("env", key).Str("value", v).Msg("config_invalid_int_using_default")
		return def
	}
	return n
}

func getFloat(key string, def float64) float64 {
	v, ok := getenv(key)
	if !ok {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Warn().Str("env", key).Str("value", v).Msg("config_invalid_float_using_default")
		return def
	}
	return f
}

func getBool(key string, def bool) bool {
	v, ok := getenv(key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Warn().Str("env", key).Str("value", v).Msg("config_invalid_bool_using_default")
		return def
	}
	return b
}

func clampInt(v, min, max int) int {
	if v < min {
		return min
	}
	if max > 0 && v > max {
		return max
	}
	return v
}

func clampFloat(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// Load reads configuration from the environment (optionally pre-populated
// from a .env file) and returns a clamped, defaulted Config.
func Load() Config {
	// Overload mirrors the reference stack's internal/config/loader.go:
	// .env values win over pre-existing OS environment in development,
	// but this never fails the load — a missing .env file is normal in
	// production.
	_ = godotenv.Overload()

	c := Config{
		TargetCount:        clampInt(getInt("TARGET_COUNT", 100), 1, 0),
		MinGoodEnough:      getInt("MIN_GOOD_ENOUGH", 20),
		JobMaxEnrich:       getInt("JOB_MAX_ENRICH", 40),
		InitialEnrichCount: getInt("INITIAL_ENRICH_COUNT", 20),

		MaxSerpQueries:                 getInt("MAX_SERP_QUERIES", 12),
		DailySerpCapPerTenant:          getInt("SOURCE_DAILY_SERP_CAP_PER_TENANT", 200),
		DynamicQueryMultiplier:         clampFloat(getFloat("SOURCE_DYNAMIC_QUERY_MULTIPLIER", 2), 1, 5),
		MinDiscoveryPerRun:             getInt("SOURCE_MIN_DISCOVERY_PER_RUN", 5),
		MaxDiscoveryShare:              clampFloat(getFloat("SOURCE_MAX_DISCOVERY_SHARE", 0.4), 0, 1),
		MinDiscoveryShareLowQuality:    clampFloat(getFloat("SOURCE_MIN_DISCOVERY_SHARE_LOW_QUALITY", 0.25), 0, 1),
		MinDiscoveredInOutput:          getInt("SOURCE_MIN_DISCOVERED_IN_OUTPUT", 10),
		DiscoveredPromotionMinFitScore: clampFloat(getFloat("SOURCE_DISCOVERED_PROMOTION_MIN_FIT_SCORE", 0.4), 0, 1),

		QualityTopK:                  getInt("SOURCE_QUALITY_TOP_K", 20),
		QualityMinAvgFit:             clampFloat(getFloat("SOURCE_QUALITY_MIN_AVG_FIT", 0.5), 0, 1),
		QualityThreshold:             clampFloat(getFloat("SOURCE_QUALITY_THRESHOLD", 0.45), 0, 1),
		QualityMinCountAbove:         getInt("SOURCE_QUALITY_MIN_COUNT_ABOVE", 10),
		MinStrictMatchesBeforeExpand: getInt("SOURCE_MIN_STRICT_MATCHES_BEFORE_EXPAND", 5),

		BestMatchesMinFitScore:  clampFloat(getFloat("SOURCE_BEST_MATCHES_MIN_FIT_SCORE", 0.45), 0, 1),
		StrictRescueCount:       getInt("SOURCE_STRICT_RESCUE_COUNT", 5),
		StrictRescueMinFitScore: clampFloat(getFloat("SOURCE_STRICT_RESCUE_MIN_FIT_SCORE", 0.3), 0, 1),
		FitScoreEpsilon:         clampFloat(getFloat("SOURCE_FIT_SCORE_EPSILON", 0.02), 0, 1),
		LocationBoostWeight:     clampFloat(getFloat("SOURCE_LOCATION_BOOST_WEIGHT", 0), 0, 1),

		CountryGuardEnabled:           getBool("SOURCE_COUNTRY_GUARD_ENABLED", true),
		CountryGuardSerpLocaleEnabled: getBool("SOURCE_COUNTRY_GUARD_SERP_LOCALE_ENABLED", true),
		LocationCoverageFloor:         clampFloat(getFloat("SOURCE_LOCATION_COVERAGE_FLOOR", 0.3), 0, 1),
		SnapshotStaleDays:             getInt("SNAPSHOT_STALE_DAYS", 30),
		StaleRefreshMaxPerRun:         getInt("STALE_REFRESH_MAX_PER_RUN", 10),
		DiscoveredEnrichReserve:       getInt("SOURCE_DISCOVERED_ENRICH_RESERVE", 5),
		DiscoveredOrphanEnrichReserve: getInt("SOURCE_DISCOVERED_ORPHAN_ENRICH_RESERVE", 3),

		NoveltyEnabled:    getBool("SOURCE_NOVELTY_ENABLED", true),
		NoveltyWindowDays: getInt("SOURCE_NOVELTY_WINDOW_DAYS", 14),

		QueryGenMode:                getString("SOURCING_QUERY_GEN_MODE", "deterministic"),
		QueryGroqTimeoutMs:          getInt("SOURCING_QUERY_GROQ_TIMEOUT_MS", 1500),
		QueryGroqMaxRetries:         getInt("SOURCING_QUERY_GROQ_MAX_RETRIES", 1),
		AdaptiveMinStrictAttempts:   getInt("SOURCING_ADAPTIVE_MIN_STRICT_ATTEMPTS", 3),
		AdaptiveStrictMinYield:      clampFloat(getFloat("SOURCING_ADAPTIVE_STRICT_MIN_YIELD", 0.2), 0, 1),
		AdaptiveMinFallbackAttempts: getInt("SOURCING_ADAPTIVE_MIN_FALLBACK_ATTEMPTS", 3),
		AdaptiveFallbackMinYield:    clampFloat(getFloat("SOURCING_ADAPTIVE_FALLBACK_MIN_YIELD", 0.15), 0, 1),

		TrackClassifierVersion: getString("TRACK_CLASSIFIER_VERSION", "v1"),
		TrackLowConfThreshold:  clampFloat(getFloat("TRACK_LOW_CONF_THRESHOLD", 0.65), 0, 1),
		TrackBlendThreshold:    clampFloat(getFloat("TRACK_BLEND_THRESHOLD", 0.15), 0, 1),
		TrackGroqEnabled:       getBool("TRACK_GROQ_ENABLED", false),
		TrackGroqTimeoutMs:     getInt("TRACK_GROQ_TIMEOUT_MS", 1200),
		TrackGroqMaxRetries:    getInt("TRACK_GROQ_MAX_RETRIES", 1),
		TrackGroqCacheTTLDays:  getInt("TRACK_GROQ_CACHE_TTL_DAYS", 7),
		TrackCBThreshold:       getInt("TRACK_CB_THRESHOLD", 5),
		TrackCBWindowSec:       getInt("TRACK_CB_WINDOW_SEC", 120),
		TrackCBCooldownSec:     getInt("TRACK_CB_COOLDOWN_SEC", 60),

		RerankAfterEnrichment: getBool("SOURCING_RERANK_AFTER_ENRICHMENT", true),
		RerankDelayMs:         getInt("SOURCING_RERANK_DELAY_MS", 2000),

		WorkerConcurrency:                 getInt("SOURCING_WORKER_CONCURRENCY", 2),
		Port:                              getString("PORT", "8080"),
		RerankWorkerConcurrency:           getInt("SOURCING_RERANK_WORKER_CONCURRENCY", 2),
		RerankWorkerPort:                  getString("RERANK_WORKER_PORT", "8081"),
		CallbackRedeliveryEnabled:         getBool("SOURCING_CALLBACK_REDELIVERY_ENABLED", true),
		CallbackRedeliveryIntervalMinutes: getInt("SOURCING_CALLBACK_REDELIVERY_INTERVAL_MINUTES", 10),
		CallbackRedeliveryMaxAgeMinutes:   getInt("SOURCING_CALLBACK_REDELIVERY_MAX_AGE_MINUTES", 30),
		CallbackRedeliveryBatchSize:       getInt("SOURCING_CALLBACK_REDELIVERY_BATCH_SIZE", 50),

		RedisURL:             getString("REDIS_URL", "redis://localhost:6379/0"),
		DatabaseURL:          getString("DATABASE_URL", ""),
		SignalJWTPrivateKey:  getString("SIGNAL_JWT_PRIVATE_KEY", ""),
		SignalJWTActiveKid:   getString("SIGNAL_JWT_ACTIVE_KID", "v1"),
		GroqAPIKey:           getString("GROQ_API_KEY", ""),
		EnrichmentServiceURL: getString("ENRICHMENT_SERVICE_URL", ""),
		SerperAPIKey:         getString("SERPER_API_KEY", ""),

		LogLevel: getString("LOG_LEVEL", "info"),
	}

	if c.WorkerConcurrency < 1 {
		c.WorkerConcurrency = 1
	}
	if c.RerankWorkerConcurrency < 1 {
		c.RerankWorkerConcurrency = 1
	}
	if c.DailySerpCapPerTenant < 0 {
		c.DailySerpCapPerTenant = 0
	}
	if c.QueryGenMode != "hybrid" {
		c.QueryGenMode = "deterministic"
	}

	return c
}

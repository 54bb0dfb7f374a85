package track

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RedisClient is the minimal surface this package needs, generalized from
// the reference stack's internal/orchestrator/dedupe.go RedisDedupeStore
// (Get/Set with TTL) plus the atomic counter ops the circuit breaker needs.
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, ttl time.Duration) *redis.StatusCmd
	Incr(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, ttl time.Duration) *redis.BoolCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

const (
	cacheKeyPrefix   = "track:groq:"
	cbFailuresKey    = "track:groq:cb:failures"
	cbOpenUntilKey   = "track:groq:cb:open_until"
)

// CacheKey computes the SHA-256-derived cache key for a classification
// request, prefixed by classifier version per spec §4.D.3.
func CacheKey(classifierVersion, title string, skills []string, jdDigest string) string {
	sorted := append([]string(nil), skills...)
	sort.Strings(sorted)
	digest := jdDigest
	if len(digest) > 500 {
		digest = digest[:500]
	}
	payload := title + "|" + strings.Join(sorted, ",") + "|" + digest
	sum := sha256.Sum256([]byte(payload))
	hash16 := hex.EncodeToString(sum[:])[:16]
	return fmt.Sprintf("%s%s:%s", cacheKeyPrefix, classifierVersion, hash16)
}

// getCached returns a cached LLMTrackResult, or ok=false on a miss or
// Redis error (cache misses fall through to the uncached path per §7).
func getCached(ctx context.Context, rdb RedisClient, key string) (llmResultCache, bool) {
	if rdb == nil {
		return llmResultCache{}, false
	}
	val, err := rdb.Get(ctx, key).Result()
	if err != nil {
		return llmResultCache{}, false
	}
	var cached llmResultCache
	if err := json.Unmarshal([]byte(val), &cached); err != nil {
		log.Debug().Err(err).Str("key", key).Msg("track_cache_unmarshal_error")
		return llmResultCache{}, false
	}
	return cached, true
}

func setCached(ctx context.Context, rdb RedisClient, key string, result llmResultCache, ttl time.Duration) {
	if rdb == nil {
		return
	}
	data, err := json.Marshal(result)
	if err != nil {
		return
	}
	if err := rdb.Set(ctx, key, data, ttl).Err(); err != nil {
		log.Debug().Err(err).Str("key", key).Msg("track_cache_set_error")
	}
}

type llmResultCache struct {
	Track         string   `json:"track"`
	Confidence    float64  `json:"confidence"`
	Reasons       []string `json:"reasons,omitempty"`
	AmbiguityFlag bool     `json:"ambiguityFlag"`
}

// breakerOpen reports whether the circuit is currently open (calls
// should be skipped). Breaker errors default to closed (fail-safe toward
// use, per §7): any Redis error here is treated as "not open".
func breakerOpen(ctx context.Context, rdb RedisClient, now time.Time) bool {
	if rdb == nil {
		return false
	}
	val, err := rdb.Get(ctx, cbOpenUntilKey).Result()
	if err != nil || val == "" {
		return false
	}
	ms, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return false
	}
	openUntil := time.UnixMilli(ms)
	return now.Before(openUntil)
}

// recordBreakerFailure increments the windowed failure counter and opens
// the circuit once it reaches threshold, per §4.D.3.
func recordBreakerFailure(ctx context.Context, rdb RedisClient, threshold int, windowSec, cooldownSec int, now time.Time) {
	if rdb == nil {
		return
	}
	n, err := rdb.Incr(ctx, cbFailuresKey).Result()
	if err != nil {
		return
	}
	if n == 1 {
		_ = rdb.Expire(ctx, cbFailuresKey, time.Duration(windowSec)*time.Second).Err()
	}
	if int(n) >= threshold {
		openUntil := now.Add(time.Duration(cooldownSec) * time.Second)
		_ = rdb.Set(ctx, cbOpenUntilKey, strconv.FormatInt(openUntil.UnixMilli(), 10), time.Duration(cooldownSec)*time.Second).Err()
	}
}

// Package budget implements the per-tenant daily SERP query cap (§4.G): an
// atomic reservation protocol against Redis, grounded on the reference
// stack's internal/orchestrator/dedupe.go Redis TTL-key pattern.
package budget

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RedisClient is the minimal surface this package needs.
type RedisClient interface {
	IncrBy(ctx context.Context, key string, value int64) *redis.IntCmd
	DecrBy(ctx context.Context, key string, value int64) *redis.IntCmd
	Expire(ctx context.Context, key string, ttl time.Duration) *redis.BoolCmd
}

// SkippedReason enumerates the normal (non-error) outcomes of Reserve.
type SkippedReason string

const (
	SkippedNone               SkippedReason = ""
	SkippedCapGuardUnavailable SkippedReason = "cap_guard_unavailable"
	SkippedDailyCapReached    SkippedReason = "daily_serp_cap_reached"
)

// Reservation is the result of a Reserve call.
type Reservation struct {
	Allowed         bool
	MaxQueries      int
	Key             string
	ReservedQueries int
	SkippedReason   SkippedReason
}

// Guard enforces the daily SERP cap for a tenant.
type Guard struct {
	rdb RedisClient
	now func() time.Time
}

// New builds a Guard. rdb must not be nil; callers should not construct a
// Guard when Redis is unavailable — Reserve already fails closed on a
// per-call Redis error.
func New(rdb RedisClient) *Guard {
	return &Guard{rdb: rdb, now: time.Now}
}

func dayKey(tenantID string, now time.Time) string {
	return fmt.Sprintf("sourcing:serper:%s:%s", tenantID, now.UTC().Format("2006-01-02"))
}

func secondsUntilUTCMidnight(now time.Time) time.Duration {
	utc := now.UTC()
	midnight := time.Date(utc.Year(), utc.Month(), utc.Day()+1, 0, 0, 0, 0, time.UTC)
	return midnight.Sub(utc)
}

// Reserve attempts to reserve up to n queries for tenantID's current UTC
// day, trying n, n-1, ..., 1 until one fits under dailyCap. A dailyCap of 0
// or less means uncapped: the full n is reserved unconditionally (subject
// to Redis availability).
func (g *Guard) Reserve(ctx context.Context, tenantID string, n, dailyCap int) Reservation {
	if n <= 0 {
		return Reservation{Allowed: false, SkippedReason: SkippedDailyCapReached}
	}

	key := dayKey(tenantID, g.now())

	if dailyCap <= 0 {
		total, err := g.rdb.IncrBy(ctx, key, int64(n)).Result()
		if err != nil {
			log.Warn().Err(err).Str("tenant_id", tenantID).Msg("budget_guard_redis_unavailable")
			return Reservation{Allowed: false, Key: key, SkippedReason: SkippedCapGuardUnavailable}
		}
		if total == int64(n) {
			_ = g.rdb.Expire(ctx, key, secondsUntilUTCMidnight(g.now())).Err()
		}
		return Reservation{Allowed: true, MaxQueries: n, Key: key, ReservedQueries: n}
	}

	for reserve := n; reserve >= 1; reserve-- {
		total, err := g.rdb.IncrBy(ctx, key, int64(reserve)).Result()
		if err != nil {
			log.Warn().Err(err).Str("tenant_id", tenantID).Msg("budget_guard_redis_unavailable")
			return Reservation{Allowed: false, Key: key, SkippedReason: SkippedCapGuardUnavailable}
		}
		if total == int64(reserve) {
			_ = g.rdb.Expire(ctx, key, secondsUntilUTCMidnight(g.now())).Err()
		}
		if total <= int64(dailyCap) {
			return Reservation{Allowed: true, MaxQueries: reserve, Key: key, ReservedQueries: reserve}
		}
		if _, err := g.rdb.DecrBy(ctx, key, int64(reserve)).Result(); err != nil {
			log.Warn().Err(err).Str("tenant_id", tenantID).Msg("budget_guard_release_failed")
			return Reservation{Allowed: false, Key: key, SkippedReason: SkippedCapGuardUnavailable}
		}
	}

	return Reservation{Allowed: false, Key: key, SkippedReason: SkippedDailyCapReached}
}

// Release gives back any reserved-but-unused queries after discovery runs.
func (g *Guard) Release(ctx context.Context, key string, reservedQueries, usedQueries int) {
	unused := reservedQueries - usedQueries
	if unused <= 0 {
		return
	}
	if err := g.rdb.DecrBy(ctx, key, int64(unused)).Err(); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("budget_guard_release_failed")
	}
}

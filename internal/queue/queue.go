// Package queue implements the BullMQ-style job queue abstraction §4.I
// assumes as an external collaborator: add/get/remove over Redis lists and
// sorted sets, with delayed jobs, exponential backoff retries, and bounded
// completed/failed retention — grounded on the reference stack's Redis TTL
// and atomic-counter conventions (internal/track/cache.go) generalized
// from a single key into the list/zset primitives a job queue needs.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// State is one of a job's lifecycle states.
type State string

const (
	StateWaiting   State = "waiting"
	StateDelayed   State = "delayed"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
	StateMissing   State = ""
)

// Retention bounds how long and how many finished jobs of one kind are kept.
type Retention struct {
	Count int
	Age   time.Duration
}

// AddOptions mirrors the BullMQ job options this core depends on. Delay,
// Attempts and BackoffBaseMs are applied; RemoveOnComplete and RemoveOnFail
// are not read, and the worker trims finished jobs with its own fixed
// retention.
type AddOptions struct {
	Delay             time.Duration
	Attempts          int
	BackoffBaseMs     int
	RemoveOnComplete  Retention
	RemoveOnFail      Retention
}

// Job is one unit of work tracked by the queue.
type Job struct {
	ID            string
	Data          json.RawMessage
	State         State
	AttemptsMade  int
	MaxAttempts   int
	BackoffBaseMs int
	CreatedAt     time.Time
}

// RedisClient is the minimal Redis surface the queue needs.
type RedisClient interface {
	HSet(ctx context.Context, key string, values ...any) *redis.IntCmd
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Exists(ctx context.Context, keys ...string) *redis.IntCmd
	RPush(ctx context.Context, key string, values ...any) *redis.IntCmd
	LPop(ctx context.Context, key string) *redis.StringCmd
	LRem(ctx context.Context, key string, count int64, value any) *redis.IntCmd
	ZAdd(ctx context.Context, key string, members ...redis.Z) *redis.IntCmd
	ZRem(ctx context.Context, key string, members ...any) *redis.IntCmd
	ZRangeByScore(ctx context.Context, key string, opt *redis.ZRangeBy) *redis.StringSliceCmd
	ZRemRangeByRank(ctx context.Context, key string, start, stop int64) *redis.IntCmd
	ZRemRangeByScore(ctx context.Context, key string, min, max string) *redis.IntCmd
}

// Queue is one named BullMQ-style queue.
type Queue struct {
	rdb  RedisClient
	name string
	now  func() time.Time
}

func New(rdb RedisClient, name string) *Queue {
	return &Queue{rdb: rdb, name: name, now: time.Now}
}

func (q *Queue) jobKey(jobID string) string     { return fmt.Sprintf("queue:%s:job:%s", q.name, jobID) }
func (q *Queue) waitingKey() string             { return fmt.Sprintf("queue:%s:waiting", q.name) }
func (q *Queue) delayedKey() string             { return fmt.Sprintf("queue:%s:delayed", q.name) }
func (q *Queue) completedKey() string           { return fmt.Sprintf("queue:%s:completed", q.name) }
func (q *Queue) failedKey() string              { return fmt.Sprintf("queue:%s:failed", q.name) }

// Add enqueues jobID with data, immediately waiting or delayed per opts.
func (q *Queue) Add(ctx context.Context, jobID string, data any, opts AddOptions) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	attempts := opts.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	backoff := opts.BackoffBaseMs
	if backoff <= 0 {
		backoff = 10000
	}

	state := StateWaiting
	if opts.Delay > 0 {
		state = StateDelayed
	}

	if err := q.rdb.HSet(ctx, q.jobKey(jobID),
		"data", string(payload),
		"state", string(state),
		"attemptsMade", 0,
		"maxAttempts", attempts,
		"backoffMs", backoff,
		"createdAt", q.now().UTC().Format(time.RFC3339Nano),
	).Err(); err != nil {
		return err
	}

	if opts.Delay > 0 {
		runAt := q.now().Add(opts.Delay)
		return q.rdb.ZAdd(ctx, q.delayedKey(), redis.Z{Score: float64(runAt.UnixMilli()), Member: jobID}).Err()
	}
	return q.rdb.RPush(ctx, q.waitingKey(), jobID).Err()
}

// GetJob loads a job's current state, or returns a zero Job with
// StateMissing if it no longer exists (already removed or never added).
func (q *Queue) GetJob(ctx context.Context, jobID string) (Job, error) {
	fields, err := q.rdb.HGetAll(ctx, q.jobKey(jobID)).Result()
	if err != nil {
		return Job{}, err
	}
	if len(fields) == 0 {
		return Job{ID: jobID, State: StateMissing}, nil
	}
	job := Job{ID: jobID, Data: json.RawMessage(fields["data"]), State: State(fields["state"])}
	fmt.Sscanf(fields["attemptsMade"], "%d", &job.AttemptsMade)
	fmt.Sscanf(fields["maxAttempts"], "%d", &job.MaxAttempts)
	fmt.Sscanf(fields["backoffMs"], "%d", &job.BackoffBaseMs)
	if ts, err := time.Parse(time.RFC3339Nano, fields["createdAt"]); err == nil {
		job.CreatedAt = ts
	}
	return job, nil
}

// Remove deletes a job and scrubs it from every list/zset it might be in.
func (q *Queue) Remove(ctx context.Context, jobID string) error {
	q.rdb.LRem(ctx, q.waitingKey(), 0, jobID)
	q.rdb.ZRem(ctx, q.delayedKey(), jobID)
	q.rdb.ZRem(ctx, q.completedKey(), jobID)
	q.rdb.ZRem(ctx, q.failedKey(), jobID)
	return q.rdb.Del(ctx, q.jobKey(jobID)).Err()
}

// PromoteDueDelayed moves delayed jobs whose runAt has passed into waiting.
// Workers call this on a short interval; it is idempotent and safe to race
// across worker processes since ZRem only succeeds once per member.
func (q *Queue) PromoteDueDelayed(ctx context.Context) (int, error) {
	now := q.now()
	ids, err := q.rdb.ZRangeByScore(ctx, q.delayedKey(), &redis.ZRangeBy{
		Min: "-inf", Max: fmt.Sprintf("%d", now.UnixMilli()),
	}).Result()
	if err != nil {
		return 0, err
	}
	promoted := 0
	for _, id := range ids {
		if removed, err := q.rdb.ZRem(ctx, q.delayedKey(), id).Result(); err != nil || removed == 0 {
			continue // lost the race to another worker
		}
		q.rdb.HSet(ctx, q.jobKey(id), "state", string(StateWaiting))
		q.rdb.RPush(ctx, q.waitingKey(), id)
		promoted++
	}
	return promoted, nil
}

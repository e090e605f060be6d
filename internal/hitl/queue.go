package hitl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/agrimind/orchestrator/internal/circuitbreaker"
	"github.com/agrimind/orchestrator/internal/metrics"
	"github.com/agrimind/orchestrator/internal/orchestration"
)

const (
	pendingListKey    = "review:pending"
	taskKeyPrefix     = "review:task:"
	decisionKeyPrefix = "review:decision:"
)

// ErrAlreadyDecided is returned when a second decision arrives for a handle.
var ErrAlreadyDecided = errors.New("review already decided")

// ErrUnknownHandle is returned for handles that were never enqueued or whose
// task has expired.
var ErrUnknownHandle = errors.New("unknown review handle")

// reviewTask is the JSON payload stored per enqueued composite.
type reviewTask struct {
	Handle     string                         `json:"handle"`
	Composite  *orchestration.CompositeResult `json:"composite"`
	Reason     string                         `json:"reason"`
	EnqueuedAt time.Time                      `json:"enqueued_at"`
}

// RedisQueue is the Redis-backed review queue: a pending list for reviewers
// to drain plus one task and one decision key per handle. All access goes
// through the circuit-breaker wrapper so a Redis outage degrades to
// escalation errors instead of hung queries.
type RedisQueue struct {
	redis  *circuitbreaker.RedisWrapper
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisQueue creates a review queue. ttl bounds how long undecided tasks
// and recorded decisions are kept.
func NewRedisQueue(rw *circuitbreaker.RedisWrapper, ttl time.Duration, logger *zap.Logger) *RedisQueue {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisQueue{redis: rw, ttl: ttl, logger: logger}
}

// Enqueue stores the composite for review and returns an opaque handle.
func (q *RedisQueue) Enqueue(ctx context.Context, composite *orchestration.CompositeResult, reason string) (string, error) {
	handle := uuid.NewString()
	task := reviewTask{
		Handle:     handle,
		Composite:  composite,
		Reason:     reason,
		EnqueuedAt: time.Now().UTC(),
	}
	payload, err := json.Marshal(task)
	if err != nil {
		return "", fmt.Errorf("marshal review task: %w", err)
	}
	if err := q.redis.Set(ctx, taskKeyPrefix+handle, payload, q.ttl).Err(); err != nil {
		return "", fmt.Errorf("store review task: %w", err)
	}
	if err := q.redis.LPush(ctx, pendingListKey, handle).Err(); err != nil {
		return "", fmt.Errorf("push review handle: %w", err)
	}
	q.refreshDepth(ctx)
	return handle, nil
}

// PollDecision reports the recorded decision for a handle, or pending when a
// reviewer has not decided yet.
func (q *RedisQueue) PollDecision(ctx context.Context, handle string) (*orchestration.ReviewDecision, bool, error) {
	raw, err := q.redis.Get(ctx, decisionKeyPrefix+handle).Bytes()
	switch {
	case err == nil:
		var decision orchestration.ReviewDecision
		if err := json.Unmarshal(raw, &decision); err != nil {
			return nil, false, fmt.Errorf("decode review decision: %w", err)
		}
		return &decision, true, nil
	case errors.Is(err, redis.Nil):
		// No decision yet; make sure the handle is real.
		if err := q.redis.Get(ctx, taskKeyPrefix+handle).Err(); err != nil {
			if errors.Is(err, redis.Nil) {
				return nil, false, ErrUnknownHandle
			}
			return nil, false, fmt.Errorf("check review task: %w", err)
		}
		return nil, false, nil
	default:
		return nil, false, fmt.Errorf("read review decision: %w", err)
	}
}

// RecordDecision stores a terminal human decision for a handle. Decisions are
// immutable; a second write fails with ErrAlreadyDecided.
func (q *RedisQueue) RecordDecision(ctx context.Context, handle string, decision orchestration.ReviewDecision) error {
	if decision.Outcome != orchestration.ReviewApproved && decision.Outcome != orchestration.ReviewRejected {
		return fmt.Errorf("outcome %q is not a reviewer decision", decision.Outcome)
	}
	if err := q.redis.Get(ctx, taskKeyPrefix+handle).Err(); err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrUnknownHandle
		}
		return fmt.Errorf("check review task: %w", err)
	}
	if err := q.redis.Get(ctx, decisionKeyPrefix+handle).Err(); err == nil {
		return ErrAlreadyDecided
	} else if !errors.Is(err, redis.Nil) {
		return fmt.Errorf("check review decision: %w", err)
	}

	decision.DecidedAt = time.Now().UTC()
	payload, err := json.Marshal(decision)
	if err != nil {
		return fmt.Errorf("marshal review decision: %w", err)
	}
	if err := q.redis.Set(ctx, decisionKeyPrefix+handle, payload, q.ttl).Err(); err != nil {
		return fmt.Errorf("store review decision: %w", err)
	}
	if err := q.redis.LRem(ctx, pendingListKey, 1, handle).Err(); err != nil {
		q.logger.Warn("Failed to remove decided handle from pending list",
			zap.String("handle", handle), zap.Error(err))
	}
	q.refreshDepth(ctx)
	q.logger.Info("Review decision recorded",
		zap.String("handle", handle),
		zap.String("outcome", string(decision.Outcome)),
		zap.String("reviewer", decision.Reviewer),
	)
	return nil
}

// Task returns the stored review task for a handle, for reviewer UIs.
func (q *RedisQueue) Task(ctx context.Context, handle string) (*orchestration.CompositeResult, string, error) {
	raw, err := q.redis.Get(ctx, taskKeyPrefix+handle).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, "", ErrUnknownHandle
		}
		return nil, "", fmt.Errorf("read review task: %w", err)
	}
	var task reviewTask
	if err := json.Unmarshal(raw, &task); err != nil {
		return nil, "", fmt.Errorf("decode review task: %w", err)
	}
	return task.Composite, task.Reason, nil
}

// Depth reports the number of handles awaiting review.
func (q *RedisQueue) Depth(ctx context.Context) (int64, error) {
	n, err := q.redis.LLen(ctx, pendingListKey).Result()
	if err != nil {
		return 0, err
	}
	metrics.ReviewQueueDepth.Set(float64(n))
	return n, nil
}

func (q *RedisQueue) refreshDepth(ctx context.Context) {
	if n, err := q.redis.LLen(ctx, pendingListKey).Result(); err == nil {
		metrics.ReviewQueueDepth.Set(float64(n))
	}
}

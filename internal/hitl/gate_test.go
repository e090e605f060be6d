package hitl

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/agrimind/orchestrator/internal/circuitbreaker"
	"github.com/agrimind/orchestrator/internal/config"
	"github.com/agrimind/orchestrator/internal/orchestration"
)

func testGateConfig() config.GateConfig {
	return config.GateConfig{
		ApproveThreshold:  0.75,
		RejectFloor:       0.3,
		SeverityThreshold: 0.6,
		ReviewWindow:      500 * time.Millisecond,
		PollInterval:      20 * time.Millisecond,
	}
}

func testQueue(t *testing.T) *RedisQueue {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	rw := circuitbreaker.NewRedisWrapper(client, zap.NewNop())
	return NewRedisQueue(rw, time.Hour, zap.NewNop())
}

func composite(confidence float64, claims ...orchestration.Claim) *orchestration.CompositeResult {
	return &orchestration.CompositeResult{
		ID:         "comp-1",
		QueryID:    "q1",
		Answer:     "answer",
		Claims:     claims,
		Confidence: confidence,
		CreatedAt:  time.Now().UTC(),
	}
}

func TestGateAutoApproveAtThreshold(t *testing.T) {
	g := NewGate(testGateConfig, testQueue(t), zap.NewNop())

	res, err := g.Review(context.Background(), composite(0.75,
		orchestration.Claim{Tag: orchestration.TagGrounded, Severity: 0.8}))
	require.NoError(t, err)
	assert.Equal(t, orchestration.ReviewAutoApproved, res.State)
	require.NotNil(t, res.Decision)
	assert.Equal(t, "gate", res.Decision.Reviewer)
}

func TestGateJustBelowThresholdEscalates(t *testing.T) {
	g := NewGate(testGateConfig, testQueue(t), zap.NewNop())

	res, err := g.Review(context.Background(), composite(0.74,
		orchestration.Claim{Tag: orchestration.TagGrounded, Severity: 0.8}))
	require.NoError(t, err)
	assert.Equal(t, orchestration.ReviewEscalated, res.State)
	assert.NotEmpty(t, res.Handle)
	assert.Nil(t, res.Decision)
}

func TestGateRejectsBelowFloor(t *testing.T) {
	g := NewGate(testGateConfig, testQueue(t), zap.NewNop())

	res, err := g.Review(context.Background(), composite(0.2))
	require.NoError(t, err)
	assert.Equal(t, orchestration.ReviewRejected, res.State)
	require.NotNil(t, res.Decision)
}

func TestGateSevereDisputeBlocksAutoApproval(t *testing.T) {
	g := NewGate(testGateConfig, testQueue(t), zap.NewNop())

	res, err := g.Review(context.Background(), composite(0.9,
		orchestration.Claim{SubQuestion: "urgency", Tag: orchestration.TagDisputed, Severity: 0.8}))
	require.NoError(t, err)
	assert.Equal(t, orchestration.ReviewEscalated, res.State)
}

func TestGateMinorUngroundedClaimStillApproves(t *testing.T) {
	g := NewGate(testGateConfig, testQueue(t), zap.NewNop())

	res, err := g.Review(context.Background(), composite(0.8,
		orchestration.Claim{Tag: orchestration.TagGrounded, Severity: 0.8},
		orchestration.Claim{Tag: orchestration.TagUngrounded, Severity: 0.4}))
	require.NoError(t, err)
	assert.Equal(t, orchestration.ReviewAutoApproved, res.State)
}

func TestAwaitDecisionReceivesReviewerVerdict(t *testing.T) {
	q := testQueue(t)
	g := NewGate(testGateConfig, q, zap.NewNop())

	res, err := g.Review(context.Background(), composite(0.5))
	require.NoError(t, err)
	require.Equal(t, orchestration.ReviewEscalated, res.State)

	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = q.RecordDecision(context.Background(), res.Handle, orchestration.ReviewDecision{
			CompositeID: "comp-1",
			Outcome:     orchestration.ReviewApproved,
			Reviewer:    "agronomist-7",
			Feedback:    "recommendation is sound",
		})
	}()

	decision, err := g.AwaitDecision(context.Background(), res.Handle)
	require.NoError(t, err)
	assert.Equal(t, orchestration.ReviewApproved, decision.Outcome)
	assert.Equal(t, "agronomist-7", decision.Reviewer)
	assert.False(t, decision.DecidedAt.IsZero())
}

func TestAwaitDecisionTimesOut(t *testing.T) {
	q := testQueue(t)
	g := NewGate(testGateConfig, q, zap.NewNop())

	res, err := g.Review(context.Background(), composite(0.5))
	require.NoError(t, err)

	_, err = g.AwaitDecision(context.Background(), res.Handle)
	var terr *orchestration.ReviewTimeoutError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, res.Handle, terr.Handle)
}

func TestQueueLifecycle(t *testing.T) {
	q := testQueue(t)
	ctx := context.Background()

	handle, err := q.Enqueue(ctx, composite(0.5), "needs a human")
	require.NoError(t, err)

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth)

	stored, reason, err := q.Task(ctx, handle)
	require.NoError(t, err)
	assert.Equal(t, "comp-1", stored.ID)
	assert.Equal(t, "needs a human", reason)

	_, done, err := q.PollDecision(ctx, handle)
	require.NoError(t, err)
	assert.False(t, done)

	err = q.RecordDecision(ctx, handle, orchestration.ReviewDecision{
		Outcome:  orchestration.ReviewRejected,
		Reviewer: "agronomist-3",
	})
	require.NoError(t, err)

	decision, done, err := q.PollDecision(ctx, handle)
	require.NoError(t, err)
	require.True(t, done)
	assert.Equal(t, orchestration.ReviewRejected, decision.Outcome)

	depth, err = q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), depth)
}

func TestQueueDecisionImmutable(t *testing.T) {
	q := testQueue(t)
	ctx := context.Background()

	handle, err := q.Enqueue(ctx, composite(0.5), "needs a human")
	require.NoError(t, err)

	first := orchestration.ReviewDecision{Outcome: orchestration.ReviewApproved, Reviewer: "a"}
	require.NoError(t, q.RecordDecision(ctx, handle, first))

	second := orchestration.ReviewDecision{Outcome: orchestration.ReviewRejected, Reviewer: "b"}
	assert.ErrorIs(t, q.RecordDecision(ctx, handle, second), ErrAlreadyDecided)
}

func TestQueueUnknownHandle(t *testing.T) {
	q := testQueue(t)
	ctx := context.Background()

	_, _, err := q.PollDecision(ctx, "nope")
	assert.ErrorIs(t, err, ErrUnknownHandle)

	err = q.RecordDecision(ctx, "nope", orchestration.ReviewDecision{Outcome: orchestration.ReviewApproved})
	assert.ErrorIs(t, err, ErrUnknownHandle)
}

func TestQueueRejectsNonTerminalOutcome(t *testing.T) {
	q := testQueue(t)
	ctx := context.Background()

	handle, err := q.Enqueue(ctx, composite(0.5), "needs a human")
	require.NoError(t, err)

	err = q.RecordDecision(ctx, handle, orchestration.ReviewDecision{Outcome: orchestration.ReviewEscalated})
	assert.Error(t, err)
}

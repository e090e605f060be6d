// Package hitl gates composite results behind configurable confidence
// thresholds and routes the undecidable middle band to human reviewers via a
// Redis-backed queue.
package hitl

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/agrimind/orchestrator/internal/config"
	"github.com/agrimind/orchestrator/internal/metrics"
	"github.com/agrimind/orchestrator/internal/orchestration"
)

// Gate decides what happens to a composite result. Thresholds are read
// through a config accessor on every decision so hot reloads take effect
// without a restart.
type Gate struct {
	cfg    func() config.GateConfig
	queue  orchestration.ReviewQueue
	logger *zap.Logger
}

// NewGate creates a gate. The queue may be nil only when escalation is
// impossible, which in practice means tests.
func NewGate(cfg func() config.GateConfig, queue orchestration.ReviewQueue, logger *zap.Logger) *Gate {
	return &Gate{cfg: cfg, queue: queue, logger: logger}
}

// Result is the gate's verdict. Decision is set for the two auto outcomes;
// Handle is set when the result was escalated for human review.
type Result struct {
	State    orchestration.ReviewState
	Decision *orchestration.ReviewDecision
	Handle   string
}

// Review applies the threshold policy. Confidence exactly at the approve
// threshold auto-approves; below the reject floor rejects; everything in
// between, and anything carrying a severe disputed or ungrounded claim,
// escalates.
func (g *Gate) Review(ctx context.Context, composite *orchestration.CompositeResult) (*Result, error) {
	cfg := g.cfg()

	switch {
	case composite.Confidence < cfg.RejectFloor:
		decision := g.autoDecision(composite, orchestration.ReviewRejected,
			fmt.Sprintf("confidence %.2f below reject floor %.2f", composite.Confidence, cfg.RejectFloor))
		return &Result{State: orchestration.ReviewRejected, Decision: decision}, nil

	case composite.Confidence >= cfg.ApproveThreshold && !g.hasBlockingClaim(composite, cfg.SeverityThreshold):
		decision := g.autoDecision(composite, orchestration.ReviewAutoApproved,
			fmt.Sprintf("confidence %.2f at or above approve threshold %.2f", composite.Confidence, cfg.ApproveThreshold))
		return &Result{State: orchestration.ReviewAutoApproved, Decision: decision}, nil
	}

	reason := g.escalationReason(composite, cfg)
	handle, err := g.queue.Enqueue(ctx, composite, reason)
	if err != nil {
		return nil, fmt.Errorf("enqueue for review: %w", err)
	}
	metrics.GateDecisions.WithLabelValues(string(orchestration.ReviewEscalated)).Inc()
	g.logger.Info("Composite escalated for human review",
		zap.String("composite_id", composite.ID),
		zap.String("handle", handle),
		zap.String("reason", reason),
	)
	return &Result{State: orchestration.ReviewEscalated, Handle: handle}, nil
}

// AwaitDecision polls the review queue until a reviewer decides or the
// configured review window expires with *orchestration.ReviewTimeoutError.
func (g *Gate) AwaitDecision(ctx context.Context, handle string) (*orchestration.ReviewDecision, error) {
	cfg := g.cfg()
	start := time.Now()
	deadline := start.Add(cfg.ReviewWindow)

	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()
	for {
		decision, done, err := g.queue.PollDecision(ctx, handle)
		if err != nil {
			return nil, err
		}
		if done {
			metrics.ReviewWaitSeconds.Observe(time.Since(start).Seconds())
			return decision, nil
		}
		if time.Now().After(deadline) {
			return nil, &orchestration.ReviewTimeoutError{Handle: handle, Window: cfg.ReviewWindow}
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (g *Gate) autoDecision(composite *orchestration.CompositeResult, state orchestration.ReviewState, feedback string) *orchestration.ReviewDecision {
	metrics.GateDecisions.WithLabelValues(string(state)).Inc()
	g.logger.Info("Gate decided automatically",
		zap.String("composite_id", composite.ID),
		zap.String("state", string(state)),
		zap.Float64("confidence", composite.Confidence),
	)
	return &orchestration.ReviewDecision{
		CompositeID: composite.ID,
		Outcome:     state,
		Reviewer:    "gate",
		Feedback:    feedback,
		DecidedAt:   time.Now().UTC(),
	}
}

// hasBlockingClaim reports whether any disputed or ungrounded claim is severe
// enough to block auto-approval.
func (g *Gate) hasBlockingClaim(composite *orchestration.CompositeResult, severityThreshold float64) bool {
	for _, c := range composite.Claims {
		if c.Tag == orchestration.TagGrounded {
			continue
		}
		if c.Severity >= severityThreshold {
			return true
		}
	}
	return false
}

func (g *Gate) escalationReason(composite *orchestration.CompositeResult, cfg config.GateConfig) string {
	var parts []string
	if composite.Confidence < cfg.ApproveThreshold {
		parts = append(parts, fmt.Sprintf("confidence %.2f below approve threshold %.2f", composite.Confidence, cfg.ApproveThreshold))
	}
	for _, c := range composite.Claims {
		if c.Tag != orchestration.TagGrounded && c.Severity >= cfg.SeverityThreshold {
			parts = append(parts, fmt.Sprintf("%s claim on %q (severity %.1f)", c.Tag, c.SubQuestion, c.Severity))
		}
	}
	if len(parts) == 0 {
		parts = append(parts, "policy escalation")
	}
	return strings.Join(parts, "; ")
}

// Package service runs the query pipeline: classify, plan, execute, merge
// and gate, with session context and audit trail around it.
package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agrimind/orchestrator/internal/audit"
	"github.com/agrimind/orchestrator/internal/classifier"
	"github.com/agrimind/orchestrator/internal/config"
	"github.com/agrimind/orchestrator/internal/engine"
	"github.com/agrimind/orchestrator/internal/hitl"
	"github.com/agrimind/orchestrator/internal/merger"
	"github.com/agrimind/orchestrator/internal/metrics"
	"github.com/agrimind/orchestrator/internal/orchestration"
	"github.com/agrimind/orchestrator/internal/planner"
	"github.com/agrimind/orchestrator/internal/session"
	"github.com/agrimind/orchestrator/internal/tracing"
)

// followUpWordLimit bounds how short a question must be before the previous
// session question is prepended for context.
const followUpWordLimit = 4

// Outcome is the terminal result of one query.
type Outcome struct {
	QueryID    string                        `json:"query_id"`
	Tier       orchestration.Tier            `json:"tier"`
	Answer     string                        `json:"answer"`
	Confidence float64                       `json:"confidence"`
	State      orchestration.ReviewState     `json:"state"`
	Handle     string                        `json:"review_handle,omitempty"`
	Claims     []orchestration.Claim         `json:"claims,omitempty"`
	Decision   *orchestration.ReviewDecision `json:"decision,omitempty"`
}

// Orchestrator wires the pipeline stages together.
type Orchestrator struct {
	classifier *classifier.Classifier
	planner    *planner.Planner
	merger     *merger.Merger
	gate       *hitl.Gate
	reviews    *hitl.RedisQueue
	provider   orchestration.AgentProvider
	sessions   *session.Manager
	audit      *audit.Store
	cfg        *config.Manager
	logger     *zap.Logger

	mu     sync.RWMutex
	engine *engine.Engine
}

// New builds the orchestrator. sessions and store may be nil; the pipeline
// then runs without conversational memory or audit trail.
func New(
	cfg *config.Manager,
	provider orchestration.AgentProvider,
	gate *hitl.Gate,
	reviews *hitl.RedisQueue,
	sessions *session.Manager,
	store *audit.Store,
	logger *zap.Logger,
) *Orchestrator {
	o := &Orchestrator{
		classifier: classifier.New(logger),
		planner:    planner.New(logger),
		merger:     merger.New(logger),
		gate:       gate,
		reviews:    reviews,
		provider:   provider,
		sessions:   sessions,
		audit:      store,
		cfg:        cfg,
		logger:     logger,
		engine:     engine.New(provider, cfg.Orchestration(), logger),
	}
	// Rebuild the engine when orchestration limits change on disk.
	cfg.OnChange(func(*config.Config) {
		o.mu.Lock()
		o.engine = engine.New(provider, cfg.Orchestration(), logger)
		o.mu.Unlock()
		logger.Info("Execution engine rebuilt after config change")
	})
	return o
}

// ProcessQuery runs one query through the full pipeline. Escalated results
// return immediately with a review handle; callers decide whether to block
// on the human decision.
func (o *Orchestrator) ProcessQuery(ctx context.Context, query orchestration.Query) (*Outcome, error) {
	if query.ID == "" {
		query.ID = uuid.New().String()
	}
	if query.ArrivedAt.IsZero() {
		query.ArrivedAt = time.Now().UTC()
	}
	metrics.QueriesReceived.WithLabelValues(string(query.Modality)).Inc()
	start := time.Now()

	sess := o.loadSession(ctx, &query)

	score, err := o.classify(ctx, query)
	if err != nil {
		metrics.QueriesCompleted.WithLabelValues("unknown", "rejected").Inc()
		return nil, err
	}

	if err := o.audit.RecordQuery(ctx, query, score); err != nil {
		o.logger.Warn("Audit write failed", zap.String("query_id", query.ID), zap.Error(err))
	}

	plan, err := o.plan(ctx, query, score)
	if err != nil {
		metrics.QueriesCompleted.WithLabelValues(string(score.Tier), "plan_failed").Inc()
		return nil, err
	}
	if err := o.audit.RecordPlan(ctx, plan); err != nil {
		o.logger.Warn("Audit write failed", zap.String("query_id", query.ID), zap.Error(err))
	}

	results, err := o.execute(ctx, plan)
	if err != nil {
		metrics.QueriesCompleted.WithLabelValues(string(score.Tier), "execution_failed").Inc()
		return nil, err
	}

	composite, err := o.merge(ctx, query.ID, results)
	if err != nil {
		metrics.QueriesCompleted.WithLabelValues(string(score.Tier), "merge_failed").Inc()
		return nil, err
	}

	verdict, err := o.review(ctx, composite)
	if err != nil {
		metrics.QueriesCompleted.WithLabelValues(string(score.Tier), "gate_failed").Inc()
		return nil, err
	}

	if err := o.audit.RecordResult(ctx, composite, verdict.State); err != nil {
		o.logger.Warn("Audit write failed", zap.String("query_id", query.ID), zap.Error(err))
	}
	o.recordExchange(ctx, sess, query, score, composite, verdict)

	metrics.QueriesCompleted.WithLabelValues(string(score.Tier), strings.ToLower(string(verdict.State))).Inc()
	metrics.QueryDuration.WithLabelValues(string(score.Tier)).Observe(time.Since(start).Seconds())

	o.logger.Info("Query completed",
		zap.String("query_id", query.ID),
		zap.String("tier", string(score.Tier)),
		zap.String("state", string(verdict.State)),
		zap.Float64("confidence", composite.Confidence),
		zap.Duration("elapsed", time.Since(start)),
	)

	return &Outcome{
		QueryID:    query.ID,
		Tier:       score.Tier,
		Answer:     composite.Answer,
		Confidence: composite.Confidence,
		State:      verdict.State,
		Handle:     verdict.Handle,
		Claims:     composite.Claims,
		Decision:   verdict.Decision,
	}, nil
}

// AwaitReview blocks until a human decides an escalated result or the
// review window closes. The decision itself is audited where it is recorded.
func (o *Orchestrator) AwaitReview(ctx context.Context, handle string) (*orchestration.ReviewDecision, error) {
	return o.gate.AwaitDecision(ctx, handle)
}

// RecordDecision stores a human verdict for an escalated result and writes
// the audit row.
func (o *Orchestrator) RecordDecision(ctx context.Context, handle string, decision orchestration.ReviewDecision) error {
	if o.reviews == nil {
		return fmt.Errorf("no review queue configured")
	}
	if err := o.reviews.RecordDecision(ctx, handle, decision); err != nil {
		return err
	}
	if err := o.audit.RecordDecision(ctx, decision); err != nil {
		o.logger.Warn("Audit write failed", zap.String("composite_id", decision.CompositeID), zap.Error(err))
	}
	return nil
}

// ReviewTask fetches the escalated composite and escalation reason for a
// pending review handle.
func (o *Orchestrator) ReviewTask(ctx context.Context, handle string) (*orchestration.CompositeResult, string, error) {
	if o.reviews == nil {
		return nil, "", fmt.Errorf("no review queue configured")
	}
	return o.reviews.Task(ctx, handle)
}

// ReviewQueueDepth reports how many results await human review.
func (o *Orchestrator) ReviewQueueDepth(ctx context.Context) (int64, error) {
	if o.reviews == nil {
		return 0, nil
	}
	return o.reviews.Depth(ctx)
}

func (o *Orchestrator) classify(ctx context.Context, query orchestration.Query) (orchestration.ComplexityScore, error) {
	_, span := tracing.StartStageSpan(ctx, "classify", query.ID)
	defer span.End()
	timer := time.Now()
	defer func() { metrics.StageDuration.WithLabelValues("classify").Observe(time.Since(timer).Seconds()) }()

	return o.classifier.Classify(query)
}

func (o *Orchestrator) plan(ctx context.Context, query orchestration.Query, score orchestration.ComplexityScore) (*orchestration.ExecutionPlan, error) {
	_, span := tracing.StartStageSpan(ctx, "plan", query.ID)
	defer span.End()
	timer := time.Now()
	defer func() { metrics.StageDuration.WithLabelValues("plan").Observe(time.Since(timer).Seconds()) }()

	return o.planner.Plan(query, score, o.provider)
}

func (o *Orchestrator) execute(ctx context.Context, plan *orchestration.ExecutionPlan) ([]orchestration.StepResult, error) {
	ctx, span := tracing.StartStageSpan(ctx, "execute", plan.QueryID)
	defer span.End()
	timer := time.Now()
	defer func() { metrics.StageDuration.WithLabelValues("execute").Observe(time.Since(timer).Seconds()) }()

	o.mu.RLock()
	eng := o.engine
	o.mu.RUnlock()
	return eng.Execute(ctx, plan)
}

func (o *Orchestrator) merge(ctx context.Context, queryID string, results []orchestration.StepResult) (*orchestration.CompositeResult, error) {
	_, span := tracing.StartStageSpan(ctx, "merge", queryID)
	defer span.End()
	timer := time.Now()
	defer func() { metrics.StageDuration.WithLabelValues("merge").Observe(time.Since(timer).Seconds()) }()

	return o.merger.Merge(queryID, results)
}

func (o *Orchestrator) review(ctx context.Context, composite *orchestration.CompositeResult) (*hitl.Result, error) {
	ctx, span := tracing.StartStageSpan(ctx, "gate", composite.QueryID)
	defer span.End()
	timer := time.Now()
	defer func() { metrics.StageDuration.WithLabelValues("gate").Observe(time.Since(timer).Seconds()) }()

	return o.gate.Review(ctx, composite)
}

// loadSession pulls conversational context. A terse follow-up inherits the
// previous question so the classifier and planner see the real subject.
func (o *Orchestrator) loadSession(ctx context.Context, query *orchestration.Query) *session.Session {
	if o.sessions == nil || query.SessionID == "" {
		return nil
	}
	sess, err := o.sessions.GetOrCreate(ctx, query.SessionID, "")
	if err != nil {
		o.logger.Warn("Session load failed", zap.String("session_id", query.SessionID), zap.Error(err))
		return nil
	}
	if prev := sess.LastQuestion(); prev != "" && len(strings.Fields(query.Text)) < followUpWordLimit {
		query.Text = fmt.Sprintf("%s (regarding: %s)", query.Text, prev)
		o.logger.Debug("Follow-up enriched from session",
			zap.String("query_id", query.ID),
			zap.String("session_id", query.SessionID),
		)
	}
	return sess
}

func (o *Orchestrator) recordExchange(
	ctx context.Context,
	sess *session.Session,
	query orchestration.Query,
	score orchestration.ComplexityScore,
	composite *orchestration.CompositeResult,
	verdict *hitl.Result,
) {
	if o.sessions == nil || sess == nil {
		return
	}
	err := o.sessions.RecordExchange(ctx, sess.ID, session.Exchange{
		QueryID:  query.ID,
		Question: query.Text,
		Answer:   composite.Answer,
		Tier:     string(score.Tier),
		Outcome:  string(verdict.State),
		AskedAt:  query.ArrivedAt,
	})
	if err != nil {
		o.logger.Warn("Session write failed", zap.String("session_id", sess.ID), zap.Error(err))
	}
}

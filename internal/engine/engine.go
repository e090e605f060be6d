// Package engine executes validated plans: steps run concurrently in
// dependency waves, each step with its own timeout, bounded retries and a
// per-capability circuit breaker. A required step failing terminally cancels
// everything still in flight.
package engine

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/agrimind/orchestrator/internal/circuitbreaker"
	"github.com/agrimind/orchestrator/internal/config"
	"github.com/agrimind/orchestrator/internal/metrics"
	"github.com/agrimind/orchestrator/internal/orchestration"
	"github.com/agrimind/orchestrator/internal/tracing"
)

const baseBackoff = 100 * time.Millisecond

// Engine runs execution plans against an agent provider.
type Engine struct {
	provider orchestration.AgentProvider
	cfg      config.OrchestrationConfig
	limiter  *rate.Limiter
	logger   *zap.Logger

	mu       sync.Mutex
	breakers map[string]*circuitbreaker.Breaker
}

// New creates an engine. The rate limiter is shared across all steps of all
// queries so a burst of deep plans cannot starve the agent fleet.
func New(provider orchestration.AgentProvider, cfg config.OrchestrationConfig, logger *zap.Logger) *Engine {
	return &Engine{
		provider: provider,
		cfg:      cfg,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.RateBurst),
		logger:   logger,
		breakers: make(map[string]*circuitbreaker.Breaker),
	}
}

// Execute runs every step of the plan and returns one StepResult per step, in
// plan order. Optional step failures are recorded and execution continues; a
// required step failing terminally, or the query deadline expiring, aborts
// with *orchestration.PlanExecutionError carrying the results completed so
// far.
func (e *Engine) Execute(ctx context.Context, plan *orchestration.ExecutionPlan) ([]orchestration.StepResult, error) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.QueryTimeout)
	defer cancel()

	results := make([]orchestration.StepResult, len(plan.Steps))
	index := make(map[string]int, len(plan.Steps))
	for i, st := range plan.Steps {
		index[st.ID] = i
		results[i] = orchestration.StepResult{
			StepID:      st.ID,
			Capability:  st.Capability,
			SubQuestion: st.SubQuestion,
			Status:      orchestration.StepSkipped,
			Retrieval:   st.Retrieval,
			Required:    st.Required,
		}
	}

	var requiredFailed string
	for _, wave := range waves(plan.Steps) {
		if ctx.Err() != nil || requiredFailed != "" {
			break
		}

		g, waveCtx := errgroup.WithContext(ctx)
		if e.cfg.MaxConcurrentSteps > 0 {
			g.SetLimit(e.cfg.MaxConcurrentSteps)
		}
		var mu sync.Mutex

		for _, i := range wave {
			step := plan.Steps[i]
			slot := i
			if skip, reason := e.shouldSkip(step, results, index); skip {
				results[slot].Status = orchestration.StepSkipped
				results[slot].Error = reason
				metrics.StepExecutions.WithLabelValues(step.Capability, string(orchestration.StepSkipped)).Inc()
				// A required step that cannot run is a required-step failure;
				// skip semantics only ever apply to optional work.
				if step.Required {
					mu.Lock()
					if requiredFailed == "" {
						requiredFailed = step.ID
					}
					mu.Unlock()
				}
				continue
			}
			g.Go(func() error {
				res := e.runStep(waveCtx, step, results, index)
				mu.Lock()
				results[slot] = res
				if step.Required && res.Status != orchestration.StepSuccess {
					if requiredFailed == "" {
						requiredFailed = step.ID
					}
					mu.Unlock()
					// Abort siblings; their partial results are kept.
					return fmt.Errorf("required step %s: %s", step.ID, res.Error)
				}
				mu.Unlock()
				return nil
			})
		}
		// The group error only signals early cancellation; per-step outcomes
		// live in the result slots.
		_ = g.Wait()
	}

	completed := snapshot(results)
	switch {
	case requiredFailed != "":
		idx := index[requiredFailed]
		return completed, &orchestration.PlanExecutionError{
			QueryID:   plan.QueryID,
			Kind:      orchestration.ExecRequiredStepFailed,
			StepID:    requiredFailed,
			Cause:     errors.New(results[idx].Error),
			Completed: completed,
		}
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return completed, &orchestration.PlanExecutionError{
			QueryID:   plan.QueryID,
			Kind:      orchestration.ExecQueryTimeout,
			Cause:     ctx.Err(),
			Completed: completed,
		}
	case ctx.Err() != nil:
		return completed, &orchestration.PlanExecutionError{
			QueryID:   plan.QueryID,
			Kind:      orchestration.ExecCanceled,
			Cause:     ctx.Err(),
			Completed: completed,
		}
	}
	return completed, nil
}

// shouldSkip reports whether a step cannot run because a dependency it needs
// did not finish successfully. Failed retrieval and failed optional
// dependencies do not skip the step; they only cost it the corresponding
// input bindings. Only a failed required dependency makes a step unrunnable,
// and by then the plan is already aborting.
func (e *Engine) shouldSkip(step orchestration.PlanStep, results []orchestration.StepResult, index map[string]int) (bool, string) {
	for _, dep := range step.DependsOn {
		i, ok := index[dep]
		if !ok {
			return true, fmt.Sprintf("unknown dependency %q", dep)
		}
		r := results[i]
		if r.Status == orchestration.StepSuccess || r.Retrieval || !r.Required {
			continue
		}
		return true, fmt.Sprintf("dependency %q finished with status %s", dep, r.Status)
	}
	return false, ""
}

// runStep resolves the step's input bindings, then invokes the agent behind a
// rate limiter and a per-capability breaker with bounded retries.
func (e *Engine) runStep(ctx context.Context, step orchestration.PlanStep, results []orchestration.StepResult, index map[string]int) orchestration.StepResult {
	ctx, span := tracing.StartStepSpan(ctx, step.ID, step.Capability)
	defer span.End()

	start := time.Now()
	res := orchestration.StepResult{
		StepID:      step.ID,
		Capability:  step.Capability,
		SubQuestion: step.SubQuestion,
		Retrieval:   step.Retrieval,
		Required:    step.Required,
	}
	finish := func(status orchestration.StepStatus, errMsg string) orchestration.StepResult {
		res.Status = status
		res.Error = errMsg
		res.Latency = time.Since(start)
		metrics.StepExecutions.WithLabelValues(step.Capability, string(status)).Inc()
		metrics.StepDuration.WithLabelValues(step.Capability).Observe(res.Latency.Seconds())
		return res
	}

	inputs, err := resolveInputs(step, results, index)
	if err != nil {
		return finish(orchestration.StepFailure, err.Error())
	}

	agent, ok := e.provider.Agent(step.Capability)
	if !ok {
		return finish(orchestration.StepFailure, fmt.Sprintf("capability %q not registered", step.Capability))
	}

	breaker := e.breaker(step.Capability)
	var lastErr error
	timedOut := false
	for attempt := 1; attempt <= e.cfg.StepRetries+1; attempt++ {
		res.Attempts = attempt
		if attempt > 1 {
			metrics.StepRetries.WithLabelValues(step.Capability).Inc()
			if err := sleepBackoff(ctx, attempt-2); err != nil {
				lastErr = err
				break
			}
		}
		if err := e.limiter.Wait(ctx); err != nil {
			lastErr = err
			break
		}

		attemptCtx, cancel := context.WithTimeout(ctx, e.cfg.StepTimeout)
		var out map[string]any
		var ev []orchestration.Evidence
		invokeErr := breaker.Execute(attemptCtx, func() error {
			o, v, err := agent.Invoke(attemptCtx, inputs)
			out, ev = o, v
			return err
		})
		cancel()

		if invokeErr == nil {
			res.Output = out
			res.Evidence = ev
			return finish(orchestration.StepSuccess, "")
		}
		lastErr = invokeErr
		timedOut = errors.Is(invokeErr, context.DeadlineExceeded) && ctx.Err() == nil

		if ctx.Err() != nil {
			// The query deadline or a sibling abort took the context down;
			// no point retrying.
			break
		}
		if !orchestration.IsTransient(invokeErr) && !errors.Is(invokeErr, circuitbreaker.ErrOpen) && !errors.Is(invokeErr, circuitbreaker.ErrTooManyRequests) {
			break
		}
		e.logger.Debug("Step attempt failed, will retry",
			zap.String("step_id", step.ID),
			zap.String("capability", step.Capability),
			zap.Int("attempt", attempt),
			zap.Error(invokeErr),
		)
	}

	status := orchestration.StepFailure
	if timedOut || errors.Is(lastErr, context.DeadlineExceeded) {
		status = orchestration.StepTimeout
	}
	msg := "unknown failure"
	if lastErr != nil {
		msg = lastErr.Error()
	}
	return finish(status, msg)
}

// resolveInputs materializes a step's bindings from literals and prior step
// outputs. References into a failed retrieval or failed optional step are
// dropped rather than failing the step, so a surviving required step still
// runs over whatever its successful dependencies produced.
func resolveInputs(step orchestration.PlanStep, results []orchestration.StepResult, index map[string]int) (map[string]any, error) {
	inputs := make(map[string]any, len(step.Inputs))
	for name, b := range step.Inputs {
		if !b.IsRef() {
			inputs[name] = b.Literal
			continue
		}
		i, ok := index[b.FromStep]
		if !ok {
			return nil, fmt.Errorf("input %q references unknown step %q", name, b.FromStep)
		}
		dep := results[i]
		if dep.Status != orchestration.StepSuccess {
			if dep.Retrieval || !dep.Required {
				continue
			}
			return nil, fmt.Errorf("input %q references step %q which finished with status %s", name, b.FromStep, dep.Status)
		}
		v, ok := dep.Output[b.FromField]
		if !ok {
			if dep.Retrieval {
				continue
			}
			return nil, fmt.Errorf("input %q: step %q produced no field %q", name, b.FromStep, b.FromField)
		}
		inputs[name] = v
	}
	return inputs, nil
}

func (e *Engine) breaker(capability string) *circuitbreaker.Breaker {
	e.mu.Lock()
	defer e.mu.Unlock()
	if b, ok := e.breakers[capability]; ok {
		return b
	}
	b := circuitbreaker.New("agent:"+capability, circuitbreaker.DefaultConfig(), e.logger)
	e.breakers[capability] = b
	return b
}

// waves groups step indices into dependency levels. Bindings only reference
// earlier steps, so a single forward pass suffices.
func waves(steps []orchestration.PlanStep) [][]int {
	level := make(map[string]int, len(steps))
	byLevel := make(map[int][]int)
	max := 0
	for i, st := range steps {
		l := 0
		for _, dep := range st.DependsOn {
			if dl, ok := level[dep]; ok && dl+1 > l {
				l = dl + 1
			}
		}
		level[st.ID] = l
		byLevel[l] = append(byLevel[l], i)
		if l > max {
			max = l
		}
	}
	out := make([][]int, 0, max+1)
	for l := 0; l <= max; l++ {
		out = append(out, byLevel[l])
	}
	return out
}

func sleepBackoff(ctx context.Context, exp int) error {
	if exp < 0 {
		exp = 0
	}
	d := baseBackoff << uint(exp)
	d += time.Duration(rand.Int63n(int64(d)/2 + 1))
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func snapshot(results []orchestration.StepResult) []orchestration.StepResult {
	out := make([]orchestration.StepResult, len(results))
	copy(out, results)
	return out
}

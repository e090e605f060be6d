package orchestration

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ClassificationError indicates a malformed or unsupported query. Aborts
// before any agent is invoked.
type ClassificationError struct {
	QueryID string
	Reason  string
}

func (e *ClassificationError) Error() string {
	return fmt.Sprintf("classification failed for query %s: %s", e.QueryID, e.Reason)
}

// PlanningError indicates an unsatisfiable capability, a dependency cycle or
// an unregistered tag. Aborts before any agent is invoked.
type PlanningError struct {
	QueryID    string
	Capability string
	CyclePath  []string
	Reason     string
}

func (e *PlanningError) Error() string {
	msg := fmt.Sprintf("planning failed for query %s: %s", e.QueryID, e.Reason)
	if e.Capability != "" {
		msg += fmt.Sprintf(" (capability %q)", e.Capability)
	}
	if len(e.CyclePath) > 0 {
		msg += fmt.Sprintf(" (cycle: %s)", strings.Join(e.CyclePath, " -> "))
	}
	return msg
}

// ExecErrorKind discriminates plan execution failures.
type ExecErrorKind string

const (
	ExecRequiredStepFailed ExecErrorKind = "required_step_failure"
	ExecQueryTimeout       ExecErrorKind = "query_timeout"
	ExecCanceled           ExecErrorKind = "canceled"
)

// PlanExecutionError is returned when a required step fails terminally or the
// query-level deadline expires. Completed carries every StepResult finished
// before the failure so callers can salvage partial results.
type PlanExecutionError struct {
	QueryID   string
	Kind      ExecErrorKind
	StepID    string
	Cause     error
	Completed []StepResult
}

func (e *PlanExecutionError) Error() string {
	switch e.Kind {
	case ExecQueryTimeout:
		return fmt.Sprintf("plan execution for query %s aborted: query timeout (%d steps completed)", e.QueryID, len(e.Completed))
	case ExecCanceled:
		return fmt.Sprintf("plan execution for query %s canceled (%d steps completed)", e.QueryID, len(e.Completed))
	default:
		return fmt.Sprintf("plan execution for query %s aborted: required step %s failed: %v", e.QueryID, e.StepID, e.Cause)
	}
}

func (e *PlanExecutionError) Unwrap() error { return e.Cause }

// MergeError indicates an irreconcilable mismatch between a step's declared
// and actual output schema. Scoped to a single step, never the whole merge.
type MergeError struct {
	StepID     string
	Capability string
	Reason     string
}

func (e *MergeError) Error() string {
	return fmt.Sprintf("merge failed for step %s (%s): %s", e.StepID, e.Capability, e.Reason)
}

// ReviewTimeoutError indicates the review queue produced no decision within
// the configured window.
type ReviewTimeoutError struct {
	Handle string
	Window time.Duration
}

func (e *ReviewTimeoutError) Error() string {
	return fmt.Sprintf("review %s: no decision within %s", e.Handle, e.Window)
}

// TransientError wraps a failure that may succeed on retry (network errors,
// agent timeouts). The execution engine retries these with backoff.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "transient: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as retryable. Returns nil for a nil err.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Err: err}
}

// FatalError wraps a failure that must never be retried (schema validation,
// agent-reported fatal conditions).
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string { return "fatal: " + e.Err.Error() }
func (e *FatalError) Unwrap() error { return e.Err }

// Fatal wraps err as non-retryable. Returns nil for a nil err.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return &FatalError{Err: err}
}

// IsTransient reports whether err should be retried. Unclassified errors are
// treated as transient so flaky collaborators get their bounded retries;
// anything explicitly fatal is not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var fe *FatalError
	if errors.As(err, &fe) {
		return false
	}
	return true
}

// Package health aggregates liveness and readiness checks for the
// orchestrator's dependencies: Redis, Postgres, the vector store and the
// downstream agent and embedding services.
package health

import (
	"context"
	"time"
)

// CheckStatus grades a single component check.
type CheckStatus int

const (
	StatusHealthy CheckStatus = iota
	StatusDegraded
	StatusUnhealthy
	StatusUnknown
)

func (s CheckStatus) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusDegraded:
		return "degraded"
	case StatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// CheckResult is the outcome of one component check.
type CheckResult struct {
	Component string         `json:"component"`
	Status    CheckStatus    `json:"status"`
	Message   string         `json:"message,omitempty"`
	Error     string         `json:"error,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Duration  time.Duration  `json:"duration"`
	Timestamp time.Time      `json:"timestamp"`
	Critical  bool           `json:"critical"`
}

// Checker is one component health probe.
type Checker interface {
	Name() string
	Check(ctx context.Context) CheckResult
	// IsCritical marks checks whose failure takes readiness down.
	IsCritical() bool
	Timeout() time.Duration
}

// Overall is the aggregated service health.
type Overall struct {
	Status    CheckStatus   `json:"status"`
	Message   string        `json:"message,omitempty"`
	Ready     bool          `json:"ready"`
	Live      bool          `json:"live"`
	Timestamp time.Time     `json:"timestamp"`
	Duration  time.Duration `json:"duration"`
}

// Detailed pairs the aggregate with per-component results.
type Detailed struct {
	Overall    Overall                `json:"overall"`
	Components map[string]CheckResult `json:"components"`
}

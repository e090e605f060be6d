package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Manager runs registered checkers and aggregates their results.
type Manager struct {
	mu       sync.RWMutex
	checkers map[string]Checker
	last     map[string]CheckResult
	logger   *zap.Logger
}

// NewManager creates an empty health manager.
func NewManager(logger *zap.Logger) *Manager {
	return &Manager{
		checkers: make(map[string]Checker),
		last:     make(map[string]CheckResult),
		logger:   logger,
	}
}

// Register adds a checker. Names must be unique.
func (m *Manager) Register(c Checker) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	name := c.Name()
	if name == "" {
		return fmt.Errorf("checker name cannot be empty")
	}
	if _, exists := m.checkers[name]; exists {
		return fmt.Errorf("checker %s already registered", name)
	}
	m.checkers[name] = c
	m.logger.Info("Health checker registered",
		zap.String("checker", name),
		zap.Bool("critical", c.IsCritical()),
	)
	return nil
}

// Check runs every checker and returns the detailed picture.
func (m *Manager) Check(ctx context.Context) Detailed {
	m.mu.RLock()
	checkers := make([]Checker, 0, len(m.checkers))
	for _, c := range m.checkers {
		checkers = append(checkers, c)
	}
	m.mu.RUnlock()

	start := time.Now()
	components := make(map[string]CheckResult, len(checkers))
	for _, c := range checkers {
		components[c.Name()] = m.run(ctx, c)
	}

	m.mu.Lock()
	for name, r := range components {
		m.last[name] = r
	}
	m.mu.Unlock()

	overall := aggregate(components)
	overall.Timestamp = start
	overall.Duration = time.Since(start)
	return Detailed{Overall: overall, Components: components}
}

// IsReady reports whether all critical components are serving.
func (m *Manager) IsReady(ctx context.Context) bool {
	return m.Check(ctx).Overall.Ready
}

// LastResults returns the most recent results without re-probing.
func (m *Manager) LastResults() map[string]CheckResult {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]CheckResult, len(m.last))
	for name, r := range m.last {
		out[name] = r
	}
	return out
}

func (m *Manager) run(ctx context.Context, c Checker) CheckResult {
	checkCtx, cancel := context.WithTimeout(ctx, c.Timeout())
	defer cancel()

	start := time.Now()
	result := c.Check(checkCtx)
	result.Component = c.Name()
	result.Critical = c.IsCritical()
	result.Duration = time.Since(start)
	result.Timestamp = start
	return result
}

func aggregate(components map[string]CheckResult) Overall {
	if len(components) == 0 {
		return Overall{Status: StatusUnknown, Message: "no health checks registered", Ready: false, Live: true}
	}

	criticalDown, degraded, optionalDown := 0, 0, 0
	for _, r := range components {
		switch r.Status {
		case StatusUnhealthy:
			if r.Critical {
				criticalDown++
			} else {
				optionalDown++
			}
		case StatusDegraded:
			degraded++
		}
	}

	switch {
	case criticalDown > 0:
		return Overall{
			Status:  StatusUnhealthy,
			Message: fmt.Sprintf("%d critical component(s) failing", criticalDown),
			Ready:   false,
			Live:    true,
		}
	case degraded > 0 || optionalDown > 0:
		return Overall{
			Status:  StatusDegraded,
			Message: fmt.Sprintf("%d component(s) degraded or down", degraded+optionalDown),
			Ready:   true,
			Live:    true,
		}
	default:
		return Overall{
			Status:  StatusHealthy,
			Message: fmt.Sprintf("all %d components healthy", len(components)),
			Ready:   true,
			Live:    true,
		}
	}
}

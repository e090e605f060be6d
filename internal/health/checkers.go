package health

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/agrimind/orchestrator/internal/circuitbreaker"
	"github.com/agrimind/orchestrator/internal/vectordb"
)

const slowThreshold = 100 * time.Millisecond

// RedisChecker probes the session and review-queue store.
type RedisChecker struct {
	wrapper *circuitbreaker.RedisWrapper
	logger  *zap.Logger
	timeout time.Duration
}

func NewRedisChecker(wrapper *circuitbreaker.RedisWrapper, logger *zap.Logger) *RedisChecker {
	return &RedisChecker{wrapper: wrapper, logger: logger, timeout: 5 * time.Second}
}

func (r *RedisChecker) Name() string           { return "redis" }
func (r *RedisChecker) IsCritical() bool       { return true }
func (r *RedisChecker) Timeout() time.Duration { return r.timeout }

func (r *RedisChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{Component: "redis", Critical: true, Timestamp: start}

	if r.wrapper.IsOpen() {
		result.Status = StatusUnhealthy
		result.Error = "circuit breaker open"
		result.Message = "Redis circuit breaker is open"
		return result
	}

	if err := r.wrapper.Ping(ctx).Err(); err != nil {
		result.Status = StatusUnhealthy
		result.Error = err.Error()
		result.Message = "Redis ping failed"
		return result
	}

	elapsed := time.Since(start)
	if elapsed > slowThreshold {
		result.Status = StatusDegraded
		result.Message = "Redis responding with high latency"
	} else {
		result.Status = StatusHealthy
		result.Message = "Redis healthy"
	}
	result.Details = map[string]any{"latency_ms": elapsed.Milliseconds()}
	return result
}

// Pinger is satisfied by the audit store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// DatabaseChecker probes the audit database.
type DatabaseChecker struct {
	db      Pinger
	logger  *zap.Logger
	timeout time.Duration
}

func NewDatabaseChecker(db Pinger, logger *zap.Logger) *DatabaseChecker {
	return &DatabaseChecker{db: db, logger: logger, timeout: 5 * time.Second}
}

func (d *DatabaseChecker) Name() string           { return "database" }
func (d *DatabaseChecker) IsCritical() bool       { return false }
func (d *DatabaseChecker) Timeout() time.Duration { return d.timeout }

func (d *DatabaseChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{Component: "database", Timestamp: start}

	if err := d.db.Ping(ctx); err != nil {
		result.Status = StatusUnhealthy
		result.Error = err.Error()
		result.Message = "database ping failed"
		return result
	}

	result.Status = StatusHealthy
	result.Message = "database healthy"
	result.Details = map[string]any{"latency_ms": time.Since(start).Milliseconds()}
	return result
}

// CollectionInspector is satisfied by the vector store client.
type CollectionInspector interface {
	Enabled() bool
	Info(ctx context.Context) (*vectordb.CollectionInfo, error)
}

// VectorStoreChecker probes the passage index. Retrieval degrades rather
// than fails when the store is down, so this check is not critical.
type VectorStoreChecker struct {
	store   CollectionInspector
	logger  *zap.Logger
	timeout time.Duration
}

func NewVectorStoreChecker(store CollectionInspector, logger *zap.Logger) *VectorStoreChecker {
	return &VectorStoreChecker{store: store, logger: logger, timeout: 5 * time.Second}
}

func (v *VectorStoreChecker) Name() string           { return "vectordb" }
func (v *VectorStoreChecker) IsCritical() bool       { return false }
func (v *VectorStoreChecker) Timeout() time.Duration { return v.timeout }

func (v *VectorStoreChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{Component: "vectordb", Timestamp: start}

	if !v.store.Enabled() {
		result.Status = StatusHealthy
		result.Message = "vector store disabled"
		return result
	}

	info, err := v.store.Info(ctx)
	if err != nil {
		result.Status = StatusUnhealthy
		result.Error = err.Error()
		result.Message = "vector store unreachable"
		return result
	}

	result.Status = StatusHealthy
	result.Message = "vector store healthy"
	result.Details = map[string]any{"collection": info.Name, "points": info.PointsCount}
	return result
}

// HTTPChecker probes a downstream HTTP service's health endpoint. Used for
// the agent gateway and the embedding service.
type HTTPChecker struct {
	name     string
	url      string
	critical bool
	client   *http.Client
	timeout  time.Duration
}

func NewHTTPChecker(name, url string, critical bool) *HTTPChecker {
	timeout := 5 * time.Second
	return &HTTPChecker{
		name:     name,
		url:      url,
		critical: critical,
		client:   &http.Client{Timeout: timeout},
		timeout:  timeout,
	}
}

func (h *HTTPChecker) Name() string           { return h.name }
func (h *HTTPChecker) IsCritical() bool       { return h.critical }
func (h *HTTPChecker) Timeout() time.Duration { return h.timeout }

func (h *HTTPChecker) Check(ctx context.Context) CheckResult {
	start := time.Now()
	result := CheckResult{Component: h.name, Critical: h.critical, Timestamp: start}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.url, nil)
	if err != nil {
		result.Status = StatusUnknown
		result.Error = err.Error()
		return result
	}

	resp, err := h.client.Do(req)
	if err != nil {
		result.Status = StatusUnhealthy
		result.Error = err.Error()
		result.Message = fmt.Sprintf("%s unreachable", h.name)
		return result
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode < 300:
		result.Status = StatusHealthy
		result.Message = fmt.Sprintf("%s healthy", h.name)
	case resp.StatusCode < 500:
		result.Status = StatusDegraded
		result.Message = fmt.Sprintf("%s returned %d", h.name, resp.StatusCode)
	default:
		result.Status = StatusUnhealthy
		result.Message = fmt.Sprintf("%s returned %d", h.name, resp.StatusCode)
	}
	result.Details = map[string]any{
		"url":        h.url,
		"latency_ms": time.Since(start).Milliseconds(),
	}
	return result
}

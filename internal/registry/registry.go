// Package registry maps capability tags to agent descriptors and live agent
// handles. Agents register at process start; afterwards the registry is
// read-only and safe for unlimited concurrent readers.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/agrimind/orchestrator/internal/orchestration"
)

// Registry implements orchestration.AgentProvider.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]orchestration.Agent
	logger *zap.Logger
	sealed bool
}

// New creates an empty registry.
func New(logger *zap.Logger) *Registry {
	return &Registry{
		agents: make(map[string]orchestration.Agent),
		logger: logger,
	}
}

// Register adds an agent under its capability tag. Duplicate tags and
// registration after Seal are errors.
func (r *Registry) Register(agent orchestration.Agent) error {
	desc := agent.Descriptor()
	if desc.Capability == "" {
		return fmt.Errorf("registry: agent with empty capability tag")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return fmt.Errorf("registry: sealed, cannot register %q", desc.Capability)
	}
	if _, exists := r.agents[desc.Capability]; exists {
		return fmt.Errorf("registry: capability %q already registered", desc.Capability)
	}
	r.agents[desc.Capability] = agent

	r.logger.Info("Agent registered",
		zap.String("capability", desc.Capability),
		zap.String("subject", desc.Subject),
		zap.String("latency", desc.Latency.String()),
		zap.Bool("idempotent", desc.Idempotent),
	)
	return nil
}

// Seal marks startup registration as complete.
func (r *Registry) Seal() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sealed = true
	r.logger.Info("Agent registry sealed", zap.Int("capabilities", len(r.agents)))
}

// Agent returns the live agent for a capability tag.
func (r *Registry) Agent(capability string) (orchestration.Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[capability]
	return a, ok
}

// Descriptor returns the descriptor for a capability tag.
func (r *Registry) Descriptor(capability string) (orchestration.AgentDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[capability]
	if !ok {
		return orchestration.AgentDescriptor{}, false
	}
	return a.Descriptor(), true
}

// Descriptors returns all descriptors sorted by capability tag so planning
// over the registry is deterministic.
func (r *Registry) Descriptors() []orchestration.AgentDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]orchestration.AgentDescriptor, 0, len(r.agents))
	for _, a := range r.agents {
		out = append(out, a.Descriptor())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Capability < out[j].Capability })
	return out
}

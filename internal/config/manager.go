package config

import (
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Manager holds the live configuration and re-reads policy knobs (gate
// thresholds, engine timeouts and retries) when the config file changes on
// disk. Structural settings (ports, endpoints, DSNs) require a restart.
type Manager struct {
	mu       sync.RWMutex
	cfg      *Config
	v        *viper.Viper
	logger   *zap.Logger
	onChange []func(*Config)
}

// NewManager wraps a loaded configuration and starts watching its source
// file if one was used.
func NewManager(cfg *Config, v *viper.Viper, logger *zap.Logger) *Manager {
	m := &Manager{cfg: cfg, v: v, logger: logger}
	if v != nil && v.ConfigFileUsed() != "" {
		v.OnConfigChange(func(e fsnotify.Event) {
			m.reload(e.Name)
		})
		v.WatchConfig()
	}
	return m
}

// Snapshot returns the current configuration. The returned value must not be
// mutated.
func (m *Manager) Snapshot() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// Gate returns the current gate thresholds.
func (m *Manager) Gate() GateConfig {
	return m.Snapshot().Gate
}

// Orchestration returns the current engine knobs.
func (m *Manager) Orchestration() OrchestrationConfig {
	return m.Snapshot().Orchestration
}

// OnChange registers a callback invoked after a successful reload.
// Register before the file can change; not safe to call concurrently with
// reloads.
func (m *Manager) OnChange(fn func(*Config)) {
	m.onChange = append(m.onChange, fn)
}

func (m *Manager) reload(name string) {
	var next Config
	if err := m.v.Unmarshal(&next); err != nil {
		m.logger.Warn("Config reload failed, keeping previous config",
			zap.String("file", name), zap.Error(err))
		return
	}
	if err := validate(&next); err != nil {
		m.logger.Warn("Config reload rejected, keeping previous config",
			zap.String("file", name), zap.Error(err))
		return
	}

	m.mu.Lock()
	m.cfg = &next
	m.mu.Unlock()

	m.logger.Info("Configuration reloaded",
		zap.String("file", name),
		zap.Float64("approve_threshold", next.Gate.ApproveThreshold),
		zap.Float64("reject_floor", next.Gate.RejectFloor),
		zap.Duration("step_timeout", next.Orchestration.StepTimeout),
	)
	for _, fn := range m.onChange {
		fn(&next)
	}
}

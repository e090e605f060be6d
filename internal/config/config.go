// Package config loads the orchestrator configuration from YAML with
// environment overrides and supports hot-reloading of policy knobs.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// OrchestrationConfig holds the execution engine knobs.
type OrchestrationConfig struct {
	StepTimeout        time.Duration `mapstructure:"step_timeout"`
	StepRetries        int           `mapstructure:"step_retries"`
	QueryTimeout       time.Duration `mapstructure:"query_timeout"`
	MaxConcurrentSteps int           `mapstructure:"max_concurrent_steps"`
	RatePerSecond      float64       `mapstructure:"rate_per_second"`
	RateBurst          int           `mapstructure:"rate_burst"`
}

// GateConfig holds the human-review gate thresholds.
type GateConfig struct {
	ApproveThreshold  float64       `mapstructure:"approve_threshold"`
	RejectFloor       float64       `mapstructure:"reject_floor"`
	SeverityThreshold float64       `mapstructure:"severity_threshold"`
	ReviewWindow      time.Duration `mapstructure:"review_window"`
	PollInterval      time.Duration `mapstructure:"poll_interval"`
}

// VectorDBConfig configures the Qdrant knowledge index client.
type VectorDBConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Host       string        `mapstructure:"host"`
	Port       int           `mapstructure:"port"`
	Collection string        `mapstructure:"collection"`
	TopK       int           `mapstructure:"top_k"`
	Threshold  float64       `mapstructure:"threshold"`
	Timeout    time.Duration `mapstructure:"timeout"`
	MMREnabled bool          `mapstructure:"mmr_enabled"`
	MMRLambda  float64       `mapstructure:"mmr_lambda"`
}

// EmbeddingsConfig configures the embedding service client.
type EmbeddingsConfig struct {
	BaseURL  string        `mapstructure:"base_url"`
	Model    string        `mapstructure:"model"`
	Timeout  time.Duration `mapstructure:"timeout"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
	MaxLRU   int           `mapstructure:"max_lru"`
}

// AgentsConfig configures the model-serving endpoints for built-in agents.
type AgentsConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
	// Endpoints optionally overrides the URL per capability tag.
	Endpoints map[string]string `mapstructure:"endpoints"`
}

// Config is the full orchestrator configuration.
type Config struct {
	Server struct {
		HTTPPort    int    `mapstructure:"http_port"`
		MetricsPort int    `mapstructure:"metrics_port"`
		AuthToken   string `mapstructure:"auth_token"`
	} `mapstructure:"server"`

	Orchestration OrchestrationConfig `mapstructure:"orchestration"`
	Gate          GateConfig          `mapstructure:"gate"`
	VectorDB      VectorDBConfig      `mapstructure:"vectordb"`
	Embeddings    EmbeddingsConfig    `mapstructure:"embeddings"`
	Agents        AgentsConfig        `mapstructure:"agents"`

	Redis struct {
		Addr     string `mapstructure:"addr"`
		Password string `mapstructure:"password"`
		DB       int    `mapstructure:"db"`
	} `mapstructure:"redis"`

	Database struct {
		Enabled bool   `mapstructure:"enabled"`
		DSN     string `mapstructure:"dsn"`
	} `mapstructure:"database"`

	Session struct {
		TTL        time.Duration `mapstructure:"ttl"`
		MaxHistory int           `mapstructure:"max_history"`
	} `mapstructure:"session"`

	Observability struct {
		Logging struct {
			Level  string `mapstructure:"level"`
			Format string `mapstructure:"format"`
		} `mapstructure:"logging"`
		Tracing struct {
			Enabled     bool   `mapstructure:"enabled"`
			Endpoint    string `mapstructure:"endpoint"`
			ServiceName string `mapstructure:"service_name"`
		} `mapstructure:"tracing"`
	} `mapstructure:"observability"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.http_port", 8081)
	v.SetDefault("server.metrics_port", 2112)

	v.SetDefault("orchestration.step_timeout", "30s")
	v.SetDefault("orchestration.step_retries", 2)
	v.SetDefault("orchestration.query_timeout", "2m")
	v.SetDefault("orchestration.max_concurrent_steps", 8)
	v.SetDefault("orchestration.rate_per_second", 20.0)
	v.SetDefault("orchestration.rate_burst", 10)

	v.SetDefault("gate.approve_threshold", 0.75)
	v.SetDefault("gate.reject_floor", 0.3)
	v.SetDefault("gate.severity_threshold", 0.6)
	v.SetDefault("gate.review_window", "15m")
	v.SetDefault("gate.poll_interval", "2s")

	v.SetDefault("vectordb.host", "localhost")
	v.SetDefault("vectordb.port", 6333)
	v.SetDefault("vectordb.collection", "knowledge_passages")
	v.SetDefault("vectordb.top_k", 5)
	v.SetDefault("vectordb.threshold", 0.35)
	v.SetDefault("vectordb.timeout", "5s")
	v.SetDefault("vectordb.mmr_lambda", 0.7)

	v.SetDefault("embeddings.model", "text-embedding-3-small")
	v.SetDefault("embeddings.timeout", "5s")
	v.SetDefault("embeddings.cache_ttl", "1h")
	v.SetDefault("embeddings.max_lru", 2048)

	v.SetDefault("agents.timeout", "30s")

	v.SetDefault("redis.addr", "localhost:6379")

	v.SetDefault("session.ttl", "24h")
	v.SetDefault("session.max_history", 5)

	v.SetDefault("observability.logging.level", "info")
	v.SetDefault("observability.logging.format", "json")
	v.SetDefault("observability.tracing.service_name", "agrimind-orchestrator")
}

// Load reads configuration from path (or $CONFIG_PATH, or the bundled
// default) with AGRIMIND_* environment overrides.
func Load(path string) (*Config, *viper.Viper, error) {
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("AGRIMIND")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := validate(&cfg); err != nil {
		return nil, nil, err
	}
	return &cfg, v, nil
}

func validate(cfg *Config) error {
	g := cfg.Gate
	if g.RejectFloor < 0 || g.ApproveThreshold > 1 || g.RejectFloor > g.ApproveThreshold {
		return fmt.Errorf("gate thresholds invalid: reject_floor=%v approve_threshold=%v", g.RejectFloor, g.ApproveThreshold)
	}
	if cfg.Orchestration.StepRetries < 0 {
		return fmt.Errorf("orchestration.step_retries must be >= 0")
	}
	if cfg.Orchestration.StepTimeout <= 0 || cfg.Orchestration.QueryTimeout <= 0 {
		return fmt.Errorf("orchestration timeouts must be positive")
	}
	// The gate's decision ticker panics on a non-positive interval, so catch a
	// bad file at load time.
	if g.PollInterval <= 0 {
		return fmt.Errorf("gate.poll_interval must be positive, got %v", g.PollInterval)
	}
	if g.ReviewWindow <= 0 {
		return fmt.Errorf("gate.review_window must be positive, got %v", g.ReviewWindow)
	}
	return nil
}

package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/agrimind/orchestrator/internal/agents"
	"github.com/agrimind/orchestrator/internal/audit"
	"github.com/agrimind/orchestrator/internal/circuitbreaker"
	"github.com/agrimind/orchestrator/internal/config"
	"github.com/agrimind/orchestrator/internal/embeddings"
	"github.com/agrimind/orchestrator/internal/health"
	"github.com/agrimind/orchestrator/internal/hitl"
	"github.com/agrimind/orchestrator/internal/httpapi"
	"github.com/agrimind/orchestrator/internal/registry"
	"github.com/agrimind/orchestrator/internal/retriever"
	"github.com/agrimind/orchestrator/internal/service"
	"github.com/agrimind/orchestrator/internal/session"
	"github.com/agrimind/orchestrator/internal/tracing"
	"github.com/agrimind/orchestrator/internal/vectordb"
)

func main() {
	cfg, v, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := buildLogger(cfg)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	mgr := config.NewManager(cfg, v, logger)

	if err := tracing.Initialize(tracing.Config{
		Enabled:     cfg.Observability.Tracing.Enabled,
		ServiceName: cfg.Observability.Tracing.ServiceName,
		Endpoint:    cfg.Observability.Tracing.Endpoint,
	}, logger); err != nil {
		logger.Warn("Tracing initialization failed, continuing without export", zap.Error(err))
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tracing.Shutdown(ctx)
	}()

	// Redis backs sessions, the review queue and the embedding cache.
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	rw := circuitbreaker.NewRedisWrapper(redisClient, logger)
	if err := rw.Ping(context.Background()).Err(); err != nil {
		logger.Fatal("Redis unreachable", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
	}

	sessions := session.NewManager(rw, cfg.Session.TTL, cfg.Session.MaxHistory, logger)
	queue := hitl.NewRedisQueue(rw, 0, logger)
	gate := hitl.NewGate(mgr.Gate, queue, logger)

	var store *audit.Store
	if cfg.Database.Enabled {
		store, err = audit.Open(cfg.Database.DSN, logger)
		if err != nil {
			logger.Fatal("Audit database unreachable", zap.Error(err))
		}
		defer store.Close()
		if err := store.EnsureSchema(context.Background()); err != nil {
			logger.Fatal("Audit schema migration failed", zap.Error(err))
		}
	}

	// Knowledge retrieval: Qdrant index behind the embedding service.
	vdb := vectordb.NewClient(vectordb.Config{
		Enabled:    cfg.VectorDB.Enabled,
		Host:       cfg.VectorDB.Host,
		Port:       cfg.VectorDB.Port,
		Collection: cfg.VectorDB.Collection,
		TopK:       cfg.VectorDB.TopK,
		Threshold:  cfg.VectorDB.Threshold,
		Timeout:    cfg.VectorDB.Timeout,
		MMREnabled: cfg.VectorDB.MMREnabled,
		MMRLambda:  cfg.VectorDB.MMRLambda,
	}, logger)
	if vdb.Enabled() {
		if err := vdb.ValidateDimensions(context.Background()); err != nil {
			logger.Fatal("Vector collection mismatch", zap.Error(err))
		}
	}
	embedder := embeddings.NewService(embeddings.Config{
		BaseURL:  cfg.Embeddings.BaseURL,
		Model:    cfg.Embeddings.Model,
		Timeout:  cfg.Embeddings.Timeout,
		CacheTTL: cfg.Embeddings.CacheTTL,
		MaxLRU:   cfg.Embeddings.MaxLRU,
	}, embeddings.NewRedisCache(rw))

	reg, err := buildRegistry(cfg, vdb, embedder, logger)
	if err != nil {
		logger.Fatal("Agent registry setup failed", zap.Error(err))
	}

	orch := service.New(mgr, reg, gate, queue, sessions, store, logger)

	// Health endpoints ride on the API mux.
	healthMgr := health.NewManager(logger)
	mustRegister := func(c health.Checker) {
		if err := healthMgr.Register(c); err != nil {
			logger.Fatal("Health checker registration failed", zap.Error(err))
		}
	}
	mustRegister(health.NewRedisChecker(rw, logger))
	if store != nil {
		mustRegister(health.NewDatabaseChecker(store, logger))
	}
	if vdb.Enabled() {
		mustRegister(health.NewVectorStoreChecker(vdb, logger))
	}
	if cfg.Agents.BaseURL != "" {
		mustRegister(health.NewHTTPChecker("agents", cfg.Agents.BaseURL+"/health", true))
	}
	if cfg.Embeddings.BaseURL != "" {
		mustRegister(health.NewHTTPChecker("embeddings", cfg.Embeddings.BaseURL+"/health", false))
	}

	api := httpapi.NewHandler(orch, cfg.Server.AuthToken, logger)
	apiServer := httpapi.StartServer(cfg.Server.HTTPPort, api, func(mux *http.ServeMux) {
		health.NewHTTPHandler(healthMgr, logger).RegisterRoutes(mux)
	}, logger)

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.MetricsPort),
		Handler: metricsMux,
	}
	go func() {
		logger.Info("Starting metrics server", zap.Int("port", cfg.Server.MetricsPort))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("Metrics server failed", zap.Error(err))
		}
	}()

	logger.Info("Orchestrator up",
		zap.Int("http_port", cfg.Server.HTTPPort),
		zap.Int("metrics_port", cfg.Server.MetricsPort),
		zap.Int("capabilities", len(reg.Descriptors())),
		zap.Bool("vectordb", vdb.Enabled()),
		zap.Bool("audit", store != nil),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("Shutting down", zap.String("signal", sig.String()))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("API server shutdown error", zap.Error(err))
	}
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Metrics server shutdown error", zap.Error(err))
	}
}

// buildRegistry registers the retrieval pseudo-agent, the built-in catalog
// and any YAML-manifested agents, then seals the registry.
func buildRegistry(
	cfg *config.Config,
	vdb *vectordb.Client,
	embedder *embeddings.Service,
	logger *zap.Logger,
) (*registry.Registry, error) {
	reg := registry.New(logger)

	if vdb.Enabled() {
		if err := reg.Register(retriever.New(embedder, vdb, logger)); err != nil {
			return nil, err
		}
	}
	for _, agent := range agents.Catalog(cfg.Agents, logger) {
		if err := reg.Register(agent); err != nil {
			return nil, err
		}
	}

	if dir := os.Getenv("AGENT_MANIFEST_DIR"); dir != "" {
		manifests, err := registry.LoadManifests(dir)
		if err != nil {
			return nil, err
		}
		for _, m := range manifests {
			desc, err := m.Descriptor()
			if err != nil {
				return nil, err
			}
			endpoint := m.Endpoint
			if endpoint == "" {
				endpoint = fmt.Sprintf("%s/agents/%s", cfg.Agents.BaseURL, desc.Capability)
			}
			if err := reg.Register(agents.NewHTTPAgent(desc, endpoint, cfg.Agents.Timeout, logger)); err != nil {
				return nil, err
			}
		}
		logger.Info("Manifest agents registered", zap.Int("count", len(manifests)), zap.String("dir", dir))
	}

	reg.Seal()
	return reg, nil
}

func buildLogger(cfg *config.Config) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if err := level.Set(strings.ToLower(cfg.Observability.Logging.Level)); err != nil {
		level = zapcore.InfoLevel
	}

	zcfg := zap.NewProductionConfig()
	if strings.EqualFold(cfg.Observability.Logging.Format, "console") {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)
	return zcfg.Build()
}

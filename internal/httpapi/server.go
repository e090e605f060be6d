// Package httpapi exposes the query pipeline and the review workflow over
// HTTP: query ingress for farmer-facing channels and decision endpoints for
// the agronomist review console.
package httpapi

import (
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/agrimind/orchestrator/internal/service"
)

// Handler serves the orchestrator API.
type Handler struct {
	orch      *service.Orchestrator
	logger    *zap.Logger
	authToken string
}

// NewHandler creates the API handler. authToken guards the review decision
// endpoint; empty disables auth (development only).
func NewHandler(orch *service.Orchestrator, authToken string, logger *zap.Logger) *Handler {
	return &Handler{orch: orch, authToken: authToken, logger: logger}
}

// RegisterRoutes mounts all API endpoints on the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/v1/queries", h.handleQuery)
	mux.HandleFunc("/v1/reviews/task", h.handleReviewTask)
	mux.HandleFunc("/v1/reviews/decision", h.handleReviewDecision)
	mux.HandleFunc("/v1/reviews/pending", h.handlePendingReviews)
}

// StartServer runs the API on its own listener and returns the server for
// graceful shutdown.
func StartServer(port int, h *Handler, extra func(*http.ServeMux), logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	if extra != nil {
		extra(mux)
	}
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		logger.Info("Starting API server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("API server failed", zap.Error(err))
		}
	}()
	return srv
}

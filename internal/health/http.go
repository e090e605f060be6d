package health

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"
)

// HTTPHandler exposes the manager over HTTP for probes and operators.
type HTTPHandler struct {
	manager *Manager
	logger  *zap.Logger
}

func NewHTTPHandler(manager *Manager, logger *zap.Logger) *HTTPHandler {
	return &HTTPHandler{manager: manager, logger: logger}
}

// RegisterRoutes mounts the probe endpoints on a mux.
func (h *HTTPHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.handleHealth)
	mux.HandleFunc("/health/ready", h.handleReady)
	mux.HandleFunc("/health/live", h.handleLive)
	mux.HandleFunc("/health/detailed", h.handleDetailed)
}

func (h *HTTPHandler) handleHealth(w http.ResponseWriter, r *http.Request) {
	detailed := h.manager.Check(r.Context())
	status := http.StatusOK
	if detailed.Overall.Status == StatusUnhealthy || detailed.Overall.Status == StatusUnknown {
		status = http.StatusServiceUnavailable
	}
	h.writeJSON(w, status, map[string]any{
		"status":  detailed.Overall.Status.String(),
		"message": detailed.Overall.Message,
		"ready":   detailed.Overall.Ready,
	})
}

func (h *HTTPHandler) handleReady(w http.ResponseWriter, r *http.Request) {
	if h.manager.IsReady(r.Context()) {
		h.writeJSON(w, http.StatusOK, map[string]any{"ready": true})
		return
	}
	h.writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ready": false})
}

func (h *HTTPHandler) handleLive(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{"live": true})
}

func (h *HTTPHandler) handleDetailed(w http.ResponseWriter, r *http.Request) {
	detailed := h.manager.Check(r.Context())
	status := http.StatusOK
	if detailed.Overall.Status == StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	h.writeJSON(w, status, detailed)
}

func (h *HTTPHandler) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("Failed to encode health response", zap.Error(err))
	}
}

package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/agrimind/orchestrator/internal/hitl"
	"github.com/agrimind/orchestrator/internal/orchestration"
)

// decisionRequest is the reviewer's verdict payload.
type decisionRequest struct {
	Handle   string `json:"handle"`
	Approved bool   `json:"approved"`
	Reviewer string `json:"reviewer"`
	Feedback string `json:"feedback,omitempty"`
}

func (h *Handler) handleReviewDecision(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !h.authorized(r) {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req decisionRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.Handle == "" || req.Reviewer == "" {
		writeError(w, http.StatusBadRequest, "handle and reviewer are required")
		return
	}

	outcome := orchestration.ReviewRejected
	if req.Approved {
		outcome = orchestration.ReviewApproved
	}
	err := h.orch.RecordDecision(r.Context(), req.Handle, orchestration.ReviewDecision{
		Outcome:   outcome,
		Reviewer:  req.Reviewer,
		Feedback:  req.Feedback,
		DecidedAt: time.Now().UTC(),
	})
	switch {
	case errors.Is(err, hitl.ErrUnknownHandle):
		writeError(w, http.StatusNotFound, "unknown review handle")
		return
	case errors.Is(err, hitl.ErrAlreadyDecided):
		writeError(w, http.StatusConflict, "review already decided")
		return
	case err != nil:
		h.logger.Error("Decision record failed", zap.String("handle", req.Handle), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to record decision")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"handle":  req.Handle,
		"outcome": string(outcome),
	})
}

func (h *Handler) handleReviewTask(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !h.authorized(r) {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	handle := r.URL.Query().Get("handle")
	if handle == "" {
		writeError(w, http.StatusBadRequest, "handle is required")
		return
	}

	composite, reason, err := h.orch.ReviewTask(r.Context(), handle)
	if errors.Is(err, hitl.ErrUnknownHandle) {
		writeError(w, http.StatusNotFound, "unknown review handle")
		return
	}
	if err != nil {
		h.logger.Error("Task fetch failed", zap.String("handle", handle), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to fetch task")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"handle":    handle,
		"reason":    reason,
		"composite": composite,
	})
}

func (h *Handler) handlePendingReviews(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !h.authorized(r) {
		writeError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	depth, err := h.orch.ReviewQueueDepth(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read queue depth")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pending": depth})
}

func (h *Handler) authorized(r *http.Request) bool {
	if h.authToken == "" {
		return true
	}
	auth := r.Header.Get("Authorization")
	return strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == h.authToken
}

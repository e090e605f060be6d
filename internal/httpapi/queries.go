package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/agrimind/orchestrator/internal/orchestration"
)

// queryRequest is the ingress payload for one farmer query.
type queryRequest struct {
	Text      string `json:"text,omitempty"`
	ImageRef  string `json:"image_ref,omitempty"`
	AudioRef  string `json:"audio_ref,omitempty"`
	Modality  string `json:"modality"`
	Locale    string `json:"locale,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	// WaitForReview blocks the request on the human decision when the
	// result escalates, up to the review window.
	WaitForReview bool `json:"wait_for_review,omitempty"`
}

func (h *Handler) handleQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req queryRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	modality := orchestration.Modality(req.Modality)
	if modality == "" {
		modality = orchestration.ModalityText
	}

	query := orchestration.Query{
		Text:      req.Text,
		ImageRef:  req.ImageRef,
		AudioRef:  req.AudioRef,
		Modality:  modality,
		Locale:    req.Locale,
		SessionID: req.SessionID,
		ArrivedAt: time.Now().UTC(),
	}

	outcome, err := h.orch.ProcessQuery(r.Context(), query)
	if err != nil {
		h.writeQueryError(w, err)
		return
	}

	if req.WaitForReview && outcome.State == orchestration.ReviewEscalated {
		decision, err := h.orch.AwaitReview(r.Context(), outcome.Handle)
		var timeout *orchestration.ReviewTimeoutError
		switch {
		case err == nil:
			outcome.State = decision.Outcome
			outcome.Decision = decision
		case errors.As(err, &timeout):
			// Window closed; hand the caller the still-pending handle.
			h.logger.Info("Review window closed", zap.String("handle", outcome.Handle))
		default:
			writeError(w, http.StatusInternalServerError, "review wait failed")
			return
		}
	}

	writeJSON(w, http.StatusOK, outcome)
}

func (h *Handler) writeQueryError(w http.ResponseWriter, err error) {
	var (
		classification *orchestration.ClassificationError
		planning       *orchestration.PlanningError
		execution      *orchestration.PlanExecutionError
	)
	switch {
	case errors.As(err, &classification):
		writeError(w, http.StatusBadRequest, classification.Error())
	case errors.As(err, &planning):
		writeError(w, http.StatusUnprocessableEntity, planning.Error())
	case errors.As(err, &execution):
		if execution.Kind == orchestration.ExecQueryTimeout {
			writeError(w, http.StatusGatewayTimeout, execution.Error())
			return
		}
		writeError(w, http.StatusBadGateway, execution.Error())
	default:
		h.logger.Error("Query failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": sanitizeErr(msg)})
}

// sanitizeErr keeps error payloads JSON-safe.
func sanitizeErr(s string) string {
	s = strings.ReplaceAll(s, `"`, `'`)
	return strings.ReplaceAll(s, "\n", " ")
}

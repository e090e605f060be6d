package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/agrimind/orchestrator/internal/circuitbreaker"
	"github.com/agrimind/orchestrator/internal/config"
	"github.com/agrimind/orchestrator/internal/hitl"
	"github.com/agrimind/orchestrator/internal/orchestration"
	"github.com/agrimind/orchestrator/internal/registry"
	"github.com/agrimind/orchestrator/internal/service"
)

type stubAgent struct {
	desc     orchestration.AgentDescriptor
	answer   string
	evidence []orchestration.Evidence
}

func (a *stubAgent) Descriptor() orchestration.AgentDescriptor { return a.desc }

func (a *stubAgent) Invoke(context.Context, map[string]any) (map[string]any, []orchestration.Evidence, error) {
	return map[string]any{"answer": a.answer}, a.evidence, nil
}

func testMux(t *testing.T, evidence []orchestration.Evidence, token string) *http.ServeMux {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	rw := circuitbreaker.NewRedisWrapper(client, zap.NewNop())

	cfg := &config.Config{}
	cfg.Orchestration = config.OrchestrationConfig{
		StepTimeout:        time.Second,
		StepRetries:        1,
		QueryTimeout:       5 * time.Second,
		MaxConcurrentSteps: 4,
		RatePerSecond:      1000,
		RateBurst:          100,
	}
	cfg.Gate = config.GateConfig{
		ApproveThreshold:  0.75,
		RejectFloor:       0.3,
		SeverityThreshold: 0.6,
		ReviewWindow:      200 * time.Millisecond,
		PollInterval:      20 * time.Millisecond,
	}
	mgr := config.NewManager(cfg, nil, zap.NewNop())

	reg := registry.New(zap.NewNop())
	require.NoError(t, reg.Register(&stubAgent{
		desc: orchestration.AgentDescriptor{
			Capability: "knowledge_retrieval",
			Subject:    "evidence",
			Input: orchestration.Schema{Fields: []orchestration.SchemaField{
				{Name: "question", Kind: orchestration.KindString, Optional: true},
				{Name: "top_k", Kind: orchestration.KindNumber, Optional: true},
			}},
			Output: orchestration.Schema{Fields: []orchestration.SchemaField{
				{Name: "passages", Kind: orchestration.KindPassages},
			}},
		},
		answer:   "retrieved",
		evidence: evidence,
	}))
	require.NoError(t, reg.Register(&stubAgent{
		desc: orchestration.AgentDescriptor{
			Capability: "crop_recommendation",
			Subject:    "crop_selection",
			Keywords:   []string{"which crop", "crop for"},
			Input: orchestration.Schema{Fields: []orchestration.SchemaField{
				{Name: "question", Kind: orchestration.KindString},
				{Name: "passages", Kind: orchestration.KindPassages, Optional: true},
			}},
			Output: orchestration.Schema{Fields: []orchestration.SchemaField{
				{Name: "answer", Kind: orchestration.KindString},
			}},
		},
		answer: "Cotton suits black soil",
	}))
	reg.Seal()

	queue := hitl.NewRedisQueue(rw, time.Hour, zap.NewNop())
	gate := hitl.NewGate(mgr.Gate, queue, zap.NewNop())
	orch := service.New(mgr, reg, gate, queue, nil, nil, zap.NewNop())

	mux := http.NewServeMux()
	NewHandler(orch, token, zap.NewNop()).RegisterRoutes(mux)
	return mux
}

func postJSON(mux *http.ServeMux, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestQueryEndpointApproved(t *testing.T) {
	evidence := []orchestration.Evidence{{PassageID: "p1", SourceID: "handbook", Relevance: 0.9, Span: "cotton"}}
	mux := testMux(t, evidence, "")

	rec := postJSON(mux, "/v1/queries", `{"text":"which crop for black soil"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var outcome service.Outcome
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &outcome))
	require.Equal(t, orchestration.ReviewAutoApproved, outcome.State)
	require.Equal(t, "Cotton suits black soil", outcome.Answer)
}

func TestQueryEndpointRejectsBadPayload(t *testing.T) {
	mux := testMux(t, nil, "")

	rec := postJSON(mux, "/v1/queries", `{"text":`, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postJSON(mux, "/v1/queries", `{"text":"   "}`, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postJSON(mux, "/v1/queries", `{"unknown_field":1}`, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReviewRoundTrip(t *testing.T) {
	mux := testMux(t, nil, "secret")
	authz := map[string]string{"Authorization": "Bearer secret"}

	// Zero evidence escalates.
	rec := postJSON(mux, "/v1/queries", `{"text":"which crop for my field"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var outcome service.Outcome
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &outcome))
	require.Equal(t, orchestration.ReviewEscalated, outcome.State)
	require.NotEmpty(t, outcome.Handle)

	// Task fetch requires the bearer token.
	req := httptest.NewRequest(http.MethodGet, "/v1/reviews/task?handle="+outcome.Handle, nil)
	unauth := httptest.NewRecorder()
	mux.ServeHTTP(unauth, req)
	require.Equal(t, http.StatusUnauthorized, unauth.Code)

	req = httptest.NewRequest(http.MethodGet, "/v1/reviews/task?handle="+outcome.Handle, nil)
	req.Header.Set("Authorization", "Bearer secret")
	taskRec := httptest.NewRecorder()
	mux.ServeHTTP(taskRec, req)
	require.Equal(t, http.StatusOK, taskRec.Code)

	// Record the verdict.
	rec = postJSON(mux, "/v1/reviews/decision",
		`{"handle":"`+outcome.Handle+`","approved":true,"reviewer":"agronomist-1"}`, authz)
	require.Equal(t, http.StatusOK, rec.Code)

	// A second verdict conflicts.
	rec = postJSON(mux, "/v1/reviews/decision",
		`{"handle":"`+outcome.Handle+`","approved":false,"reviewer":"agronomist-2"}`, authz)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestReviewDecisionUnknownHandle(t *testing.T) {
	mux := testMux(t, nil, "")

	rec := postJSON(mux, "/v1/reviews/decision",
		`{"handle":"no-such-handle","approved":true,"reviewer":"agronomist-1"}`, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

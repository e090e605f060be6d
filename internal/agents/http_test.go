package agents

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/agrimind/orchestrator/internal/config"
	"github.com/agrimind/orchestrator/internal/orchestration"
	"github.com/agrimind/orchestrator/internal/registry"
)

func cropDescriptor() orchestration.AgentDescriptor {
	return orchestration.AgentDescriptor{
		Capability: "crop_recommendation",
		Subject:    "crop_selection",
		Input: orchestration.Schema{Fields: []orchestration.SchemaField{
			{Name: "question", Kind: orchestration.KindString},
			{Name: "passages", Kind: orchestration.KindPassages, Optional: true},
		}},
		Output: answerOutput(),
	}
}

func TestInvokeSuccess(t *testing.T) {
	var gotReq invokeRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"answer": "Rice is the best fit for these conditions.",
			"topic":  "crop_choice",
			"evidence": []map[string]any{
				{"passage_id": "p1", "source_id": "handbook", "relevance": 0.8, "span": "rice thrives"},
			},
		})
	}))
	t.Cleanup(srv.Close)

	a := NewHTTPAgent(cropDescriptor(), srv.URL, time.Second, zap.NewNop())
	out, evidence, err := a.Invoke(context.Background(), map[string]any{"question": "which crop"})
	require.NoError(t, err)

	assert.Equal(t, "crop_recommendation", gotReq.Capability)
	assert.Equal(t, "Rice is the best fit for these conditions.", out["answer"])
	assert.Equal(t, "crop_choice", out["topic"])
	require.Len(t, evidence, 1)
	assert.Equal(t, "p1", evidence[0].PassageID)
}

func TestInvokeMissingRequiredInputIsFatal(t *testing.T) {
	a := NewHTTPAgent(cropDescriptor(), "http://unused", time.Second, zap.NewNop())
	_, _, err := a.Invoke(context.Background(), map[string]any{})
	require.Error(t, err)
	assert.False(t, orchestration.IsTransient(err))
}

func TestInvokeServerErrorIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	a := NewHTTPAgent(cropDescriptor(), srv.URL, time.Second, zap.NewNop())
	_, _, err := a.Invoke(context.Background(), map[string]any{"question": "q"})
	require.Error(t, err)
	assert.True(t, orchestration.IsTransient(err))
}

func TestInvokeClientErrorIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unknown capability", http.StatusUnprocessableEntity)
	}))
	t.Cleanup(srv.Close)

	a := NewHTTPAgent(cropDescriptor(), srv.URL, time.Second, zap.NewNop())
	_, _, err := a.Invoke(context.Background(), map[string]any{"question": "q"})
	require.Error(t, err)
	assert.False(t, orchestration.IsTransient(err))
}

func TestInvokeAgentReportedErrorIsFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"error": "model refused"})
	}))
	t.Cleanup(srv.Close)

	a := NewHTTPAgent(cropDescriptor(), srv.URL, time.Second, zap.NewNop())
	_, _, err := a.Invoke(context.Background(), map[string]any{"question": "q"})
	require.Error(t, err)
	assert.False(t, orchestration.IsTransient(err))
	assert.ErrorContains(t, err, "model refused")
}

func TestCatalogRegistersCleanly(t *testing.T) {
	cfg := config.AgentsConfig{
		BaseURL: "http://models.internal:9000",
		Timeout: 10 * time.Second,
		Endpoints: map[string]string{
			"market_price": "http://prices.internal:9100/invoke",
		},
	}
	catalog := Catalog(cfg, zap.NewNop())
	require.NotEmpty(t, catalog)

	r := registry.New(zap.NewNop())
	for _, a := range catalog {
		require.NoError(t, r.Register(a))
	}

	// The roster keeps capability tags unique and includes the synthesis and
	// transcription pseudo-agents the planner relies on.
	caps := make(map[string]bool)
	for _, d := range r.Descriptors() {
		caps[d.Capability] = true
	}
	for _, want := range []string{
		"crop_recommendation", "disease_detection", "pest_prediction",
		"weather_forecast", "market_price", "credit_policy",
		"deep_research", "translation", "synthesis", "speech_transcription",
	} {
		assert.True(t, caps[want], "missing capability %s", want)
	}

	override := catalog[4].(*HTTPAgent)
	assert.Equal(t, "market_price", override.Descriptor().Capability)
	assert.Equal(t, "http://prices.internal:9100/invoke", override.endpoint)
}

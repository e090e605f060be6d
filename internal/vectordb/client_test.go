package vectordb

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testClient(t *testing.T, handler http.Handler, mutate func(*Config)) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	hostPort := strings.TrimPrefix(srv.URL, "http://")
	host, portStr, ok := strings.Cut(hostPort, ":")
	require.True(t, ok)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	cfg := Config{
		Enabled:    true,
		Host:       host,
		Port:       port,
		Collection: "knowledge_passages",
		TopK:       5,
		Threshold:  0.35,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	return NewClient(cfg, zap.NewNop())
}

func TestSearchPassages(t *testing.T) {
	var gotReq queryRequest
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/collections/knowledge_passages/points/query", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status": "ok",
			"result": map[string]any{
				"points": []map[string]any{
					{"id": "p1", "score": 0.91, "payload": map[string]any{"text": "rice likes rainfall", "source_id": "handbook"}},
					{"id": "p2", "score": 0.55, "payload": map[string]any{"text": "wheat likes cool weather", "source_id": "handbook"}},
				},
			},
		})
	})
	c := testClient(t, handler, nil)

	passages, err := c.SearchPassages(context.Background(), []float32{0.1, 0.2}, 2)
	require.NoError(t, err)
	require.Len(t, passages, 2)
	assert.Equal(t, "p1", passages[0].ID)
	assert.Equal(t, "handbook", passages[0].SourceID)
	assert.Equal(t, "rice likes rainfall", passages[0].Text)
	assert.InDelta(t, 0.91, passages[0].Score, 0.001)

	require.NotNil(t, gotReq.ScoreThreshold)
	assert.InDelta(t, 0.35, *gotReq.ScoreThreshold, 0.001)
	assert.Equal(t, 2, gotReq.Limit)
}

func TestSearchPassagesDisabled(t *testing.T) {
	c := NewClient(Config{Enabled: false}, zap.NewNop())
	_, err := c.SearchPassages(context.Background(), []float32{0.1}, 3)
	assert.Error(t, err)
}

func TestSearchPassagesServerError(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	c := testClient(t, handler, nil)

	_, err := c.SearchPassages(context.Background(), []float32{0.1}, 3)
	assert.Error(t, err)
}

func TestMMRReorderPrefersDiversity(t *testing.T) {
	query := []float32{1, 0}
	passages := []Passage{
		{ID: "a", Vector: []float32{0.9, 0.1}},
		{ID: "dup", Vector: []float32{0.9, 0.12}},
		{ID: "other", Vector: []float32{0, 1}},
	}
	out := mmrReorder(query, passages, 0.3)
	require.Len(t, out, 3)
	assert.Equal(t, "a", out[0].ID)
	assert.Equal(t, "other", out[1].ID, "near-duplicate should rank behind the diverse passage")
}

func TestInfoAndValidateDimensions(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/collections/knowledge_passages", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"result": map[string]any{
				"points_count": 42,
				"config": map[string]any{
					"params": map[string]any{
						"vectors": map[string]any{"size": 1536},
					},
				},
			},
		})
	})

	t.Run("matching dimension", func(t *testing.T) {
		c := testClient(t, handler, func(cfg *Config) { cfg.ExpectedDim = 1536 })
		info, err := c.Info(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1536, info.VectorSize)
		assert.Equal(t, int64(42), info.PointsCount)
		assert.NoError(t, c.ValidateDimensions(context.Background()))
	})

	t.Run("mismatched dimension", func(t *testing.T) {
		c := testClient(t, handler, func(cfg *Config) { cfg.ExpectedDim = 768 })
		assert.Error(t, c.ValidateDimensions(context.Background()))
	})
}

func TestUpsertPassagesAssignsIDs(t *testing.T) {
	var got struct {
		Points []UpsertItem `json:"points"`
	}
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPut, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "ok"})
	})
	c := testClient(t, handler, nil)

	err := c.UpsertPassages(context.Background(), []UpsertItem{
		{Vector: []float32{0.1}, Payload: map[string]any{"text": "x"}},
	})
	require.NoError(t, err)
	require.Len(t, got.Points, 1)
	assert.NotEmpty(t, got.Points[0].ID)
}

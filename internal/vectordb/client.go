// Package vectordb is a minimal Qdrant HTTP client for the knowledge passage
// index. Requests go through a circuit breaker and carry traceparent headers.
package vectordb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agrimind/orchestrator/internal/circuitbreaker"
	"github.com/agrimind/orchestrator/internal/metrics"
	"github.com/agrimind/orchestrator/internal/tracing"
)

// Client talks to one Qdrant instance.
type Client struct {
	cfg   Config
	base  string
	httpw *circuitbreaker.HTTPWrapper
	log   *zap.Logger
}

// NewClient creates a Qdrant client. Host, port and collection come from
// configuration; zero values get sensible defaults.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.Port == 0 {
		cfg.Port = 6333
	}
	if cfg.TopK == 0 {
		cfg.TopK = 5
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Collection == "" {
		cfg.Collection = "knowledge_passages"
	}
	httpClient := &http.Client{Timeout: cfg.Timeout}
	return &Client{
		cfg:   cfg,
		base:  fmt.Sprintf("http://%s:%d", cfg.Host, cfg.Port),
		httpw: circuitbreaker.NewHTTPWrapper(httpClient, "qdrant", logger),
		log:   logger,
	}
}

// Enabled reports whether searches will be attempted at all.
func (c *Client) Enabled() bool { return c != nil && c.cfg.Enabled }

type queryRequest struct {
	Query          []float32      `json:"query"`
	Limit          int            `json:"limit"`
	ScoreThreshold *float64       `json:"score_threshold,omitempty"`
	WithPayload    bool           `json:"with_payload"`
	WithVector     bool           `json:"with_vector,omitempty"`
	Filter         map[string]any `json:"filter,omitempty"`
}

type point struct {
	ID      any            `json:"id"`
	Score   float64        `json:"score"`
	Payload map[string]any `json:"payload"`
	Vector  []float64      `json:"vector,omitempty"`
}

type queryResponse struct {
	Result struct {
		Points []point `json:"points"`
	} `json:"result"`
	Status string `json:"status"`
}

// SearchPassages finds the passages most similar to the query embedding,
// applying the configured score threshold and optional MMR re-ranking.
func (c *Client) SearchPassages(ctx context.Context, embedding []float32, topK int) ([]Passage, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("vectordb: search called while disabled")
	}
	if topK <= 0 {
		topK = c.cfg.TopK
	}
	start := time.Now()

	// With MMR on, over-fetch so the re-ranker has a pool to diversify from.
	limit := topK
	if c.cfg.MMREnabled {
		limit = topK * 3
	}

	pts, err := c.query(ctx, embedding, limit)
	if err != nil {
		metrics.RecordVectorSearch(c.cfg.Collection, "error", time.Since(start).Seconds())
		return nil, err
	}

	passages := make([]Passage, 0, len(pts))
	for _, p := range pts {
		passages = append(passages, toPassage(p))
	}
	if c.cfg.MMREnabled {
		passages = mmrReorder(embedding, passages, c.cfg.MMRLambda)
	}
	if len(passages) > topK {
		passages = passages[:topK]
	}

	metrics.RecordVectorSearch(c.cfg.Collection, "ok", time.Since(start).Seconds())
	return passages, nil
}

func (c *Client) query(ctx context.Context, embedding []float32, limit int) ([]point, error) {
	url := fmt.Sprintf("%s/collections/%s/points/query", c.base, c.cfg.Collection)
	ctx, span := tracing.StartHTTPSpan(ctx, http.MethodPost, url)
	defer span.End()

	var thr *float64
	if c.cfg.Threshold > 0 {
		t := c.cfg.Threshold
		thr = &t
	}
	body, err := json.Marshal(queryRequest{
		Query:          embedding,
		Limit:          limit,
		ScoreThreshold: thr,
		WithPayload:    true,
		WithVector:     c.cfg.MMREnabled,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	tracing.InjectTraceparent(ctx, req)

	resp, err := c.httpw.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("qdrant query status %d", resp.StatusCode)
	}

	var qr queryResponse
	if err := json.NewDecoder(resp.Body).Decode(&qr); err != nil {
		return nil, err
	}
	return qr.Result.Points, nil
}

// UpsertPassages inserts or updates knowledge passages. Items without an ID
// get a fresh UUID.
func (c *Client) UpsertPassages(ctx context.Context, items []UpsertItem) error {
	if !c.Enabled() {
		return fmt.Errorf("vectordb: upsert called while disabled")
	}
	for i := range items {
		if items[i].ID == "" {
			items[i].ID = uuid.NewString()
		}
	}

	url := fmt.Sprintf("%s/collections/%s/points", c.base, c.cfg.Collection)
	ctx, span := tracing.StartHTTPSpan(ctx, http.MethodPut, url)
	defer span.End()

	body, err := json.Marshal(map[string]any{"points": items})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	tracing.InjectTraceparent(ctx, req)

	resp, err := c.httpw.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("qdrant upsert status %d", resp.StatusCode)
	}
	return nil
}

// Info fetches basic collection metadata, used by health checks and startup
// dimension validation.
func (c *Client) Info(ctx context.Context) (*CollectionInfo, error) {
	url := fmt.Sprintf("%s/collections/%s", c.base, c.cfg.Collection)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpw.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("qdrant collection info status %d", resp.StatusCode)
	}

	var result struct {
		Result struct {
			PointsCount int64 `json:"points_count"`
			Config      struct {
				Params struct {
					Vectors struct {
						Size int `json:"size"`
					} `json:"vectors"`
				} `json:"params"`
			} `json:"config"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	return &CollectionInfo{
		Name:        c.cfg.Collection,
		VectorSize:  result.Result.Config.Params.Vectors.Size,
		PointsCount: result.Result.PointsCount,
	}, nil
}

// ValidateDimensions checks the collection's vector size against the expected
// embedding dimension. A missing collection is logged, not fatal, so a fresh
// deployment can start before its index is seeded.
func (c *Client) ValidateDimensions(ctx context.Context) error {
	if !c.Enabled() || c.cfg.ExpectedDim <= 0 {
		return nil
	}
	info, err := c.Info(ctx)
	if err != nil {
		c.log.Warn("Could not validate collection dimensions",
			zap.String("collection", c.cfg.Collection), zap.Error(err))
		return nil
	}
	if info.VectorSize != c.cfg.ExpectedDim {
		return fmt.Errorf("collection %s has vector size %d, expected %d",
			c.cfg.Collection, info.VectorSize, c.cfg.ExpectedDim)
	}
	c.log.Info("Collection dimension validated",
		zap.String("collection", c.cfg.Collection),
		zap.Int("dimension", info.VectorSize))
	return nil
}

func toPassage(p point) Passage {
	out := Passage{Score: p.Score}
	if p.ID != nil {
		out.ID = fmt.Sprintf("%v", p.ID)
	}
	if t, ok := p.Payload["text"].(string); ok {
		out.Text = t
	}
	if s, ok := p.Payload["source_id"].(string); ok {
		out.SourceID = s
	}
	if len(p.Vector) > 0 {
		v := make([]float32, len(p.Vector))
		for i, f := range p.Vector {
			v[i] = float32(f)
		}
		out.Vector = v
	}
	return out
}

// mmrReorder greedily reorders passages by maximal marginal relevance, with
// lambda trading relevance against diversity.
func mmrReorder(query []float32, passages []Passage, lambda float64) []Passage {
	if lambda <= 0 || lambda > 1 {
		lambda = 0.7
	}
	n := len(passages)
	if n <= 1 {
		return passages
	}
	qd := make([]float64, n)
	for i := range passages {
		qd[i] = cosineSim(query, passages[i].Vector)
	}
	selected := make([]int, 0, n)
	remaining := make([]bool, n)
	for i := range remaining {
		remaining[i] = true
	}
	for len(selected) < n {
		bestIdx := -1
		bestScore := math.Inf(-1)
		for i := 0; i < n; i++ {
			if !remaining[i] {
				continue
			}
			maxSim := 0.0
			for _, s := range selected {
				if sim := cosineSim(passages[i].Vector, passages[s].Vector); sim > maxSim {
					maxSim = sim
				}
			}
			score := lambda*qd[i] - (1-lambda)*maxSim
			if score > bestScore {
				bestScore = score
				bestIdx = i
			}
		}
		if bestIdx == -1 {
			break
		}
		selected = append(selected, bestIdx)
		remaining[bestIdx] = false
	}
	out := make([]Passage, 0, n)
	for _, i := range selected {
		out = append(out, passages[i])
	}
	return out
}

func cosineSim(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		da, db := float64(a[i]), float64(b[i])
		dot += da * db
		na += da * da
		nb += db * db
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

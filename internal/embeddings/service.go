// Package embeddings generates query embeddings through the model service,
// with a two-level cache: in-process LRU in front of Redis.
package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/agrimind/orchestrator/internal/metrics"
	"github.com/agrimind/orchestrator/internal/tracing"
)

const lruTTL = 30 * time.Minute

// Service provides embedding generation with caching.
type Service struct {
	cfg   Config
	http  *http.Client
	cache Cache
	lru   *LocalLRU
}

// NewService creates an embedding client. cache may be nil to run with the
// in-process LRU only.
func NewService(cfg Config, cache Cache) *Service {
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = time.Hour
	}
	if cfg.MaxLRU == 0 {
		cfg.MaxLRU = 2048
	}
	if cfg.FallbackDimensions == 0 {
		cfg.FallbackDimensions = 384
	}
	return &Service{
		cfg:   cfg,
		http:  &http.Client{Timeout: cfg.Timeout},
		cache: cache,
		lru:   NewLocalLRU(cfg.MaxLRU),
	}
}

type embedRequest struct {
	Texts []string `json:"texts"`
	Model string   `json:"model"`
}

type embedResponse struct {
	Embeddings [][]float64 `json:"embeddings"`
	Dimensions int         `json:"dimensions"`
	ModelUsed  string      `json:"model_used"`
}

// Embed returns the vector for a single text.
func (s *Service) Embed(ctx context.Context, text string) ([]float32, error) {
	if s == nil {
		return nil, fmt.Errorf("embedding service not initialized")
	}
	key := MakeKey(s.cfg.Model, text)

	if v, ok := s.lru.Get(ctx, key); ok {
		metrics.EmbeddingRequests.WithLabelValues("lru_hit").Inc()
		return v, nil
	}
	if s.cache != nil {
		if v, ok := s.cache.Get(ctx, key); ok {
			s.lru.Set(ctx, key, v, lruTTL)
			metrics.EmbeddingRequests.WithLabelValues("cache_hit").Inc()
			return v, nil
		}
	}

	vecs, err := s.fetch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	out := vecs[0]

	s.lru.Set(ctx, key, out, lruTTL)
	if s.cache != nil {
		s.cache.Set(ctx, key, out, s.cfg.CacheTTL)
	}
	return out, nil
}

// EmbedBatch returns vectors for multiple texts in one request, consulting
// the caches per text first.
func (s *Service) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if s == nil {
		return nil, fmt.Errorf("embedding service not initialized")
	}
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	results := make([][]float32, len(texts))
	var missing []string
	var missingIdx []int
	for i, text := range texts {
		key := MakeKey(s.cfg.Model, text)
		if v, ok := s.lru.Get(ctx, key); ok {
			results[i] = v
			metrics.EmbeddingRequests.WithLabelValues("lru_hit").Inc()
			continue
		}
		if s.cache != nil {
			if v, ok := s.cache.Get(ctx, key); ok {
				results[i] = v
				s.lru.Set(ctx, key, v, lruTTL)
				metrics.EmbeddingRequests.WithLabelValues("cache_hit").Inc()
				continue
			}
		}
		missing = append(missing, text)
		missingIdx = append(missingIdx, i)
	}
	if len(missing) == 0 {
		return results, nil
	}

	vecs, err := s.fetch(ctx, missing)
	if err != nil {
		return nil, err
	}
	for i, vec := range vecs {
		results[missingIdx[i]] = vec
		key := MakeKey(s.cfg.Model, missing[i])
		s.lru.Set(ctx, key, vec, lruTTL)
		if s.cache != nil {
			s.cache.Set(ctx, key, vec, s.cfg.CacheTTL)
		}
	}
	return results, nil
}

func (s *Service) fetch(ctx context.Context, texts []string) ([][]float32, error) {
	if s.cfg.BaseURL == "" {
		// Offline mode: hashed bag-of-words vectors. Far weaker than a real
		// model but deterministic, so retrieval stays functional without a
		// model service.
		out := make([][]float32, len(texts))
		for i, text := range texts {
			out[i] = hashedVector(text, s.cfg.FallbackDimensions)
		}
		metrics.EmbeddingRequests.WithLabelValues("fallback").Inc()
		return out, nil
	}

	url := fmt.Sprintf("%s/embeddings/", s.cfg.BaseURL)
	ctx, span := tracing.StartHTTPSpan(ctx, http.MethodPost, url)
	defer span.End()

	payload, err := json.Marshal(embedRequest{Texts: texts, Model: s.cfg.Model})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	tracing.InjectTraceparent(ctx, req)

	resp, err := s.http.Do(req)
	if err != nil {
		metrics.EmbeddingRequests.WithLabelValues("error").Inc()
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		metrics.EmbeddingRequests.WithLabelValues("error").Inc()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("embedding service returned %d: %s", resp.StatusCode, string(body))
	}

	var er embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		metrics.EmbeddingRequests.WithLabelValues("error").Inc()
		return nil, err
	}
	if len(er.Embeddings) != len(texts) {
		metrics.EmbeddingRequests.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("embedding service returned %d embeddings for %d texts", len(er.Embeddings), len(texts))
	}

	out := make([][]float32, len(er.Embeddings))
	for i, emb := range er.Embeddings {
		vec := make([]float32, len(emb))
		for j, f := range emb {
			vec[j] = float32(f)
		}
		out[i] = vec
	}
	metrics.EmbeddingRequests.WithLabelValues("ok").Inc()
	return out, nil
}

// hashedVector folds the text's lowercased tokens into dims buckets via FNV
// and L2-normalizes, giving identical texts identical vectors.
func hashedVector(text string, dims int) []float32 {
	vec := make([]float32, dims)
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		_, _ = h.Write([]byte(tok))
		vec[int(h.Sum32())%dims]++
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
	}
	return vec
}

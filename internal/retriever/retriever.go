// Package retriever exposes the knowledge index as a pseudo-agent: embed the
// question, search the passage collection, return scored evidence. It
// registers under the same capability tag the planner wires retrieval steps
// to, so the engine runs it like any other agent.
package retriever

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/agrimind/orchestrator/internal/orchestration"
	"github.com/agrimind/orchestrator/internal/planner"
	"github.com/agrimind/orchestrator/internal/util"
	"github.com/agrimind/orchestrator/internal/vectordb"
)

const spanLimit = 200

// Embedder turns text into a vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Searcher finds passages similar to an embedding.
type Searcher interface {
	SearchPassages(ctx context.Context, embedding []float32, topK int) ([]vectordb.Passage, error)
}

// Retriever is the knowledge retrieval pseudo-agent.
type Retriever struct {
	embedder Embedder
	searcher Searcher
	logger   *zap.Logger
}

// New creates the retrieval agent.
func New(embedder Embedder, searcher Searcher, logger *zap.Logger) *Retriever {
	return &Retriever{embedder: embedder, searcher: searcher, logger: logger}
}

// Descriptor declares the retrieval capability.
func (r *Retriever) Descriptor() orchestration.AgentDescriptor {
	return orchestration.AgentDescriptor{
		Capability: planner.CapRetrieval,
		Subject:    "evidence",
		Input: orchestration.Schema{Fields: []orchestration.SchemaField{
			{Name: "question", Kind: orchestration.KindString},
			{Name: "top_k", Kind: orchestration.KindNumber, Optional: true},
		}},
		Output: orchestration.Schema{Fields: []orchestration.SchemaField{
			{Name: "passages", Kind: orchestration.KindPassages},
		}},
		Latency:    orchestration.LatencyFast,
		Idempotent: true,
	}
}

// Invoke embeds the question and searches the knowledge index. Zero hits is a
// successful invocation with empty evidence; the merger decides what an
// unsupported claim costs.
func (r *Retriever) Invoke(ctx context.Context, input map[string]any) (map[string]any, []orchestration.Evidence, error) {
	question, ok := input["question"].(string)
	if !ok || question == "" {
		return nil, nil, orchestration.Fatal(fmt.Errorf("retrieval requires a question"))
	}
	topK := intInput(input["top_k"])

	vec, err := r.embedder.Embed(ctx, question)
	if err != nil {
		return nil, nil, orchestration.Transient(fmt.Errorf("embed question: %w", err))
	}

	passages, err := r.searcher.SearchPassages(ctx, vec, topK)
	if err != nil {
		return nil, nil, orchestration.Transient(fmt.Errorf("search passages: %w", err))
	}

	evidence := make([]orchestration.Evidence, 0, len(passages))
	payload := make([]map[string]any, 0, len(passages))
	for _, p := range passages {
		evidence = append(evidence, orchestration.Evidence{
			PassageID: p.ID,
			SourceID:  p.SourceID,
			Relevance: p.Score,
			Span:      util.TruncateString(p.Text, spanLimit, true),
		})
		payload = append(payload, map[string]any{
			"id":        p.ID,
			"text":      p.Text,
			"source_id": p.SourceID,
			"score":     p.Score,
		})
	}

	r.logger.Debug("Knowledge retrieval completed",
		zap.Int("passages", len(passages)),
		zap.Int("top_k", topK),
	)
	return map[string]any{"passages": payload}, evidence, nil
}

func intInput(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}

package agents

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/agrimind/orchestrator/internal/config"
	"github.com/agrimind/orchestrator/internal/orchestration"
	"github.com/agrimind/orchestrator/internal/planner"
)

func questionField() orchestration.SchemaField {
	return orchestration.SchemaField{Name: "question", Kind: orchestration.KindString}
}

func passagesField() orchestration.SchemaField {
	return orchestration.SchemaField{Name: "passages", Kind: orchestration.KindPassages, Optional: true}
}

func answerOutput() orchestration.Schema {
	return orchestration.Schema{Fields: []orchestration.SchemaField{
		{Name: "answer", Kind: orchestration.KindString},
		{Name: "topic", Kind: orchestration.KindString, Optional: true},
	}}
}

// builtinDescriptors is the agronomy capability roster. Keywords are matched
// against lowercased query text by the planner.
func builtinDescriptors() []orchestration.AgentDescriptor {
	return []orchestration.AgentDescriptor{
		{
			Capability: "crop_recommendation",
			Subject:    "crop_selection",
			Keywords:   []string{"recommend crop", "which crop", "best crop", "crop for", "what to plant", "sow"},
			Input:      orchestration.Schema{Fields: []orchestration.SchemaField{questionField(), passagesField()}},
			Output:     answerOutput(),
			Latency:    orchestration.LatencyStandard,
			Idempotent: true,
		},
		{
			Capability: "disease_detection",
			Subject:    "disease",
			Keywords:   []string{"disease", "blight", "leaf spot", "infection", "fungus", "wilt", "rot"},
			Input: orchestration.Schema{Fields: []orchestration.SchemaField{
				questionField(),
				{Name: "image", Kind: orchestration.KindImage, Optional: true},
				passagesField(),
			}},
			Output:  answerOutput(),
			Latency: orchestration.LatencyStandard,
		},
		{
			Capability: "pest_prediction",
			Subject:    "pest",
			Keywords:   []string{"pest", "infestation", "locust", "aphid", "bollworm", "caterpillar"},
			Input: orchestration.Schema{Fields: []orchestration.SchemaField{
				questionField(),
				{Name: "image", Kind: orchestration.KindImage, Optional: true},
				passagesField(),
			}},
			Output:  answerOutput(),
			Latency: orchestration.LatencyStandard,
		},
		{
			Capability: "weather_forecast",
			Subject:    "weather",
			Keywords:   []string{"weather", "rain", "rainfall", "forecast", "temperature", "humidity", "monsoon", "frost"},
			Input:      orchestration.Schema{Fields: []orchestration.SchemaField{questionField()}},
			Output:     answerOutput(),
			Latency:    orchestration.LatencyFast,
			Idempotent: true,
		},
		{
			Capability: "market_price",
			Subject:    "market",
			Keywords:   []string{"price", "market", "sell", "mandi", "rate", "demand"},
			Input:      orchestration.Schema{Fields: []orchestration.SchemaField{questionField()}},
			Output:     answerOutput(),
			Latency:    orchestration.LatencyFast,
			Idempotent: true,
		},
		{
			Capability: "credit_policy",
			Subject:    "credit",
			Keywords:   []string{"loan", "credit", "subsidy", "insurance", "scheme", "policy"},
			Input:      orchestration.Schema{Fields: []orchestration.SchemaField{questionField(), passagesField()}},
			Output:     answerOutput(),
			Latency:    orchestration.LatencyStandard,
		},
		{
			Capability: planner.CapDeepResearch,
			Subject:    "research",
			Keywords:   []string{"research", "analysis", "outlook", "compare", "long-term", "strategy"},
			Input:      orchestration.Schema{Fields: []orchestration.SchemaField{questionField(), passagesField()}},
			Output:     answerOutput(),
			Latency:    orchestration.LatencySlow,
		},
		{
			Capability: "translation",
			Subject:    "translation",
			Keywords:   []string{"translate", "in hindi", "in tamil", "in telugu", "in marathi", "in kannada"},
			Input:      orchestration.Schema{Fields: []orchestration.SchemaField{questionField()}},
			Output:     answerOutput(),
			Latency:    orchestration.LatencyFast,
			Idempotent: true,
		},
		{
			Capability: planner.CapSynthesis,
			Subject:    "synthesis",
			Input:      orchestration.Schema{Fields: []orchestration.SchemaField{questionField()}},
			Output:     answerOutput(),
			Latency:    orchestration.LatencyStandard,
		},
		{
			Capability: planner.CapTranscription,
			Subject:    "transcription",
			Input: orchestration.Schema{Fields: []orchestration.SchemaField{
				{Name: "audio", Kind: orchestration.KindAudio},
			}},
			Output: orchestration.Schema{Fields: []orchestration.SchemaField{
				{Name: "text", Kind: orchestration.KindString},
			}},
			Latency:    orchestration.LatencyFast,
			Idempotent: true,
		},
	}
}

// Catalog builds the built-in agents against the configured serving
// endpoints. Per-capability overrides win over the base URL.
func Catalog(cfg config.AgentsConfig, logger *zap.Logger) []orchestration.Agent {
	descs := builtinDescriptors()
	out := make([]orchestration.Agent, 0, len(descs))
	for _, d := range descs {
		endpoint := cfg.Endpoints[d.Capability]
		if endpoint == "" {
			endpoint = fmt.Sprintf("%s/agents/%s", cfg.BaseURL, d.Capability)
		}
		out = append(out, NewHTTPAgent(d, endpoint, cfg.Timeout, logger))
	}
	return out
}

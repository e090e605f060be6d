// Package classifier scores incoming queries for retrieval and reasoning
// depth. Classification is a pure function over the query: identical input
// always yields the identical score.
package classifier

import (
	"strings"

	"go.uber.org/zap"

	"github.com/agrimind/orchestrator/internal/orchestration"
	"github.com/agrimind/orchestrator/internal/util"
)

// topicKeywords maps a topic group to trigger words. The number of distinct
// groups a query touches is its capability fan-out.
var topicKeywords = map[string][]string{
	"crop_selection": {"recommend crop", "best crop", "which crop", "crop for", "sow", "sowing"},
	"disease":        {"disease", "fungal", "blight", "leaf spot", "infection", "infected"},
	"pest":           {"pest", "insect", "locust", "bollworm", "infestation", "outbreak"},
	"weather":        {"weather", "forecast", "rainfall", "monsoon", "temperature", "humidity forecast"},
	"market":         {"market price", "price", "mandi", "sell", "trend", "commodity"},
	"credit":         {"credit", "loan", "policy", "subsidy", "insurance", "finance"},
	"yield":          {"yield", "harvest estimate", "production estimate"},
	"fertilizer":     {"fertilizer", "nutrient", "npk dose", "urea"},
	"translation":    {"translate", "translation", "in hindi", "in marathi", "in telugu"},
}

// deepMarkers signal multi-hop research intent.
var deepMarkers = []string{
	"research", "comprehensive", "in-depth", "detailed report", "literature",
	"compare across", "long-term", "strategy for the next",
}

// reasoningMarkers signal analytic rather than lookup intent.
var reasoningMarkers = []string{
	"why", "how can", "compare", "analyze", "assess", "impact", "should i",
	"risk", "plan", "trade-off",
}

// Classifier produces a ComplexityScore per query.
type Classifier struct {
	logger *zap.Logger
}

// New creates a classifier.
func New(logger *zap.Logger) *Classifier {
	return &Classifier{logger: logger}
}

// Classify validates the query and scores it. Malformed input fails with
// *orchestration.ClassificationError; no side effects either way.
func (c *Classifier) Classify(query orchestration.Query) (orchestration.ComplexityScore, error) {
	if err := validate(query); err != nil {
		return orchestration.ComplexityScore{}, err
	}

	text := strings.ToLower(query.Text)
	words := len(strings.Fields(text))
	topics := countTopics(text)
	features := util.ParseFeatureValues(query.Text)
	deep := countMarkers(text, deepMarkers)
	analytic := countMarkers(text, reasoningMarkers)

	retrieval := 0.2 + 0.15*float64(topics)
	if words > 25 {
		retrieval += 0.1
	}
	if deep > 0 {
		retrieval += 0.2
	}
	// Structured feature payloads answer themselves from the model input;
	// little retrieval needed beyond grounding the recommendation.
	if len(features) >= 4 {
		retrieval -= 0.15
	}

	reasoning := 0.15 + 0.15*float64(analytic) + 0.25*float64(deep)
	if topics > 1 {
		reasoning += 0.15 * float64(topics-1)
	}

	score := orchestration.ComplexityScore{
		QueryID:        query.ID,
		RetrievalDepth: util.Clamp01(retrieval),
		ReasoningDepth: util.Clamp01(reasoning),
		Tier:           tierFor(topics, deep, len(features), util.Clamp01(reasoning)),
	}

	c.logger.Debug("Query classified",
		zap.String("query_id", query.ID),
		zap.String("tier", string(score.Tier)),
		zap.Int("topics", topics),
		zap.Float64("retrieval_depth", score.RetrievalDepth),
		zap.Float64("reasoning_depth", score.ReasoningDepth),
	)
	return score, nil
}

func validate(q orchestration.Query) error {
	fail := func(reason string) error {
		return &orchestration.ClassificationError{QueryID: q.ID, Reason: reason}
	}
	switch q.Modality {
	case orchestration.ModalityText:
		if strings.TrimSpace(q.Text) == "" {
			return fail("empty text for text modality")
		}
	case orchestration.ModalityImage:
		if q.ImageRef == "" {
			return fail("missing image reference for image modality")
		}
	case orchestration.ModalityVoice:
		if q.AudioRef == "" {
			return fail("missing audio reference for voice modality")
		}
	default:
		return fail("unsupported modality " + string(q.Modality))
	}
	return nil
}

func countTopics(text string) int {
	n := 0
	for _, words := range topicKeywords {
		for _, w := range words {
			if strings.Contains(text, w) {
				n++
				break
			}
		}
	}
	return n
}

func countMarkers(text string, markers []string) int {
	n := 0
	for _, m := range markers {
		if strings.Contains(text, m) {
			n++
		}
	}
	return n
}

func tierFor(topics, deep, features int, reasoning float64) orchestration.Tier {
	switch {
	case deep > 0 || topics >= 3:
		return orchestration.TierDeep
	// Structured feature payloads (soil/climate forms) are single model
	// invocations even when their field names brush other topic keywords.
	case features >= 4:
		return orchestration.TierSimple
	case topics >= 2 || reasoning >= 0.5:
		return orchestration.TierModerate
	default:
		return orchestration.TierSimple
	}
}

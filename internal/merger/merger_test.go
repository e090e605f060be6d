package merger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/agrimind/orchestrator/internal/orchestration"
	"github.com/agrimind/orchestrator/internal/planner"
)

func retrievalResult(evidence ...orchestration.Evidence) orchestration.StepResult {
	return orchestration.StepResult{
		StepID:     planner.CapRetrieval,
		Capability: planner.CapRetrieval,
		Status:     orchestration.StepSuccess,
		Retrieval:  true,
		Evidence:   evidence,
		Output:     map[string]any{"passages": []string{}},
	}
}

func agentResult(id, subQuestion, answer string, required bool) orchestration.StepResult {
	return orchestration.StepResult{
		StepID:      id,
		Capability:  id,
		SubQuestion: subQuestion,
		Status:      orchestration.StepSuccess,
		Required:    required,
		Output:      map[string]any{"answer": answer},
	}
}

func TestMergeGroundedClaim(t *testing.T) {
	m := New(zap.NewNop())
	results := []orchestration.StepResult{
		retrievalResult(orchestration.Evidence{PassageID: "p1", SourceID: "handbook", Relevance: 0.9, Span: "rice thrives in high rainfall"}),
		agentResult("crop_recommendation", "crop_selection", "Rice suits these soil conditions.", true),
	}

	composite, err := m.Merge("q1", results)
	require.NoError(t, err)
	require.Len(t, composite.Claims, 1)

	claim := composite.Claims[0]
	assert.Equal(t, orchestration.TagGrounded, claim.Tag)
	require.NotEmpty(t, claim.Evidence)
	assert.InDelta(t, 0.9, claim.Confidence, 0.001, "single agent: relevance * (0.7 + 0.3)")
	assert.Equal(t, "Rice suits these soil conditions.", composite.Answer)
}

func TestMergeZeroEvidenceTagsUngrounded(t *testing.T) {
	m := New(zap.NewNop())
	results := []orchestration.StepResult{
		retrievalResult(), // retriever found nothing
		agentResult("crop_recommendation", "crop_selection", "Plant rice.", true),
	}

	composite, err := m.Merge("q1", results)
	require.NoError(t, err)
	require.Len(t, composite.Claims, 1)
	assert.Equal(t, orchestration.TagUngrounded, composite.Claims[0].Tag)
	assert.InDelta(t, 0.5, composite.Confidence, 0.001)
	assert.True(t, composite.HasTag(orchestration.TagUngrounded))
}

func TestMergeDisagreementTagsDisputed(t *testing.T) {
	m := New(zap.NewNop())
	disease := agentResult("disease_detection", "disease", "Spray immediately, the infestation is urgent.", true)
	disease.Output["topic"] = "urgency"
	market := agentResult("market_price", "market", "No urgency, prices favor waiting two weeks.", false)
	market.Output["topic"] = "urgency"

	results := []orchestration.StepResult{
		retrievalResult(orchestration.Evidence{PassageID: "p1", Relevance: 0.8}),
		disease,
		market,
	}

	composite, err := m.Merge("q1", results)
	require.NoError(t, err)
	require.Len(t, composite.Claims, 1)

	claim := composite.Claims[0]
	assert.Equal(t, orchestration.TagDisputed, claim.Tag)
	require.Len(t, claim.Variants, 2, "both variants retained verbatim")
	assert.Equal(t, "disease_detection", claim.Variants[0].Capability)
	assert.Equal(t, "market_price", claim.Variants[1].Capability)
	// Halved: 0.8 * (0.7 + 0.3*0.5) * 0.5
	assert.InDelta(t, 0.34, claim.Confidence, 0.001)
}

func TestMergeAgreementRaisesConfidence(t *testing.T) {
	m := New(zap.NewNop())
	a := agentResult("weather_forecast", "weather", "Heavy rainfall expected this week.", true)
	a.Output["topic"] = "forecast"
	b := agentResult("deep_research", "research", "Heavy rainfall expected across this week.", false)
	b.Output["topic"] = "forecast"

	solo, err := m.Merge("q1", []orchestration.StepResult{
		retrievalResult(orchestration.Evidence{PassageID: "p1", Relevance: 0.7}),
		a,
	})
	require.NoError(t, err)

	agreed, err := m.Merge("q1", []orchestration.StepResult{
		retrievalResult(orchestration.Evidence{PassageID: "p1", Relevance: 0.7}),
		a,
		b,
	})
	require.NoError(t, err)

	require.Len(t, agreed.Claims, 1)
	assert.Equal(t, orchestration.TagGrounded, agreed.Claims[0].Tag)
	assert.Equal(t, solo.Claims[0].Confidence, agreed.Claims[0].Confidence,
		"full agreement keeps the agreement ratio at 1")
}

func TestMergeMoreEvidenceNeverLowersConfidence(t *testing.T) {
	m := New(zap.NewNop())
	step := agentResult("crop_recommendation", "crop_selection", "Plant rice.", true)

	weak, err := m.Merge("q1", []orchestration.StepResult{retrievalResult(), step})
	require.NoError(t, err)

	withLowRelevance, err := m.Merge("q1", []orchestration.StepResult{
		retrievalResult(orchestration.Evidence{PassageID: "p1", Relevance: 0.2}),
		step,
	})
	require.NoError(t, err)

	withHighRelevance, err := m.Merge("q1", []orchestration.StepResult{
		retrievalResult(
			orchestration.Evidence{PassageID: "p1", Relevance: 0.2},
			orchestration.Evidence{PassageID: "p2", Relevance: 0.95},
		),
		step,
	})
	require.NoError(t, err)

	assert.GreaterOrEqual(t, withLowRelevance.Claims[0].Confidence, weak.Claims[0].Confidence)
	assert.GreaterOrEqual(t, withHighRelevance.Claims[0].Confidence, withLowRelevance.Claims[0].Confidence)
}

func TestMergeOptionalFailurePenalty(t *testing.T) {
	m := New(zap.NewNop())
	failed := orchestration.StepResult{
		StepID:     "market_price",
		Capability: "market_price",
		Status:     orchestration.StepFailure,
		Error:      "upstream 503",
	}

	composite, err := m.Merge("q1", []orchestration.StepResult{
		retrievalResult(orchestration.Evidence{PassageID: "p1", Relevance: 0.9}),
		agentResult("crop_recommendation", "crop_selection", "Plant rice.", true),
		failed,
	})
	require.NoError(t, err)
	assert.InDelta(t, 0.1, composite.Penalty, 0.001)
	assert.InDelta(t, 0.8, composite.Confidence, 0.001, "0.9 mean minus 0.1 penalty")
}

func TestMergeSchemaMismatch(t *testing.T) {
	m := New(zap.NewNop())

	t.Run("required step is fatal", func(t *testing.T) {
		bad := orchestration.StepResult{
			StepID:     "crop_recommendation",
			Capability: "crop_recommendation",
			Status:     orchestration.StepSuccess,
			Required:   true,
			Output:     map[string]any{"answer": 42},
		}
		_, err := m.Merge("q1", []orchestration.StepResult{bad})
		var merr *orchestration.MergeError
		require.ErrorAs(t, err, &merr)
		assert.Equal(t, "crop_recommendation", merr.StepID)
	})

	t.Run("optional step dropped with penalty", func(t *testing.T) {
		bad := orchestration.StepResult{
			StepID:     "market_price",
			Capability: "market_price",
			Status:     orchestration.StepSuccess,
			Output:     map[string]any{"price": 1810.0},
		}
		composite, err := m.Merge("q1", []orchestration.StepResult{
			agentResult("crop_recommendation", "crop_selection", "Plant rice.", true),
			bad,
		})
		require.NoError(t, err)
		require.Len(t, composite.Claims, 1)
		assert.InDelta(t, 0.1, composite.Penalty, 0.001)
	})
}

func TestMergeSynthesisBecomesAnswer(t *testing.T) {
	m := New(zap.NewNop())
	synth := orchestration.StepResult{
		StepID:     planner.CapSynthesis,
		Capability: planner.CapSynthesis,
		Status:     orchestration.StepSuccess,
		Required:   true,
		Output:     map[string]any{"answer": "Treat the blight first, then sell the healthy stock."},
	}

	composite, err := m.Merge("q1", []orchestration.StepResult{
		agentResult("disease_detection", "disease", "Early blight detected.", true),
		agentResult("market_price", "market", "Prices are stable.", false),
		synth,
	})
	require.NoError(t, err)
	assert.Equal(t, "Treat the blight first, then sell the healthy stock.", composite.Answer)
	assert.Len(t, composite.Claims, 2, "synthesis output is the answer, not a claim")
}

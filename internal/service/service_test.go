package service

import (
	"context"
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
	"github.com/agrimind/orchestrator/internal/session"
)

type stubAgent struct {
	desc     orchestration.AgentDescriptor
	answer   string
	topic    string
	evidence []orchestration.Evidence
}

func (a *stubAgent) Descriptor() orchestration.AgentDescriptor { return a.desc }

func (a *stubAgent) Invoke(_ context.Context, input map[string]any) (map[string]any, []orchestration.Evidence, error) {
	out := map[string]any{"answer": a.answer}
	if a.topic != "" {
		out["topic"] = a.topic
	}
	if a.desc.Capability == "synthesis" {
		out["answer"] = "combined: " + a.answer
	}
	return out, a.evidence, nil
}

func field(name string, kind orchestration.FieldKind, optional bool) orchestration.SchemaField {
	return orchestration.SchemaField{Name: name, Kind: kind, Optional: optional}
}

func strongEvidence() []orchestration.Evidence {
	return []orchestration.Evidence{
		{PassageID: "p1", SourceID: "icar-handbook", Relevance: 0.9, Span: "cotton in black soil"},
		{PassageID: "p2", SourceID: "soil-survey", Relevance: 0.7, Span: "600mm rainfall zones"},
	}
}

// buildProvider registers retrieval, synthesis and the domain agents used by
// the pipeline scenarios. retrievalEvidence controls how grounded answers are.
func buildProvider(t *testing.T, retrievalEvidence []orchestration.Evidence) orchestration.AgentProvider {
	t.Helper()
	reg := registry.New(zap.NewNop())

	agents := []*stubAgent{
		{
			desc: orchestration.AgentDescriptor{
				Capability: "knowledge_retrieval",
				Subject:    "evidence",
				Input: orchestration.Schema{Fields: []orchestration.SchemaField{
					field("question", orchestration.KindString, true),
					field("top_k", orchestration.KindNumber, true),
				}},
				Output:  orchestration.Schema{Fields: []orchestration.SchemaField{field("passages", orchestration.KindPassages, false)}},
				Latency: orchestration.LatencyFast,
			},
			answer:   "retrieved",
			evidence: retrievalEvidence,
		},
		{
			desc: orchestration.AgentDescriptor{
				Capability: "crop_recommendation",
				Subject:    "crop_selection",
				Keywords:   []string{"which crop", "crop for", "sow"},
				Input: orchestration.Schema{Fields: []orchestration.SchemaField{
					field("question", orchestration.KindString, false),
					field("passages", orchestration.KindPassages, true),
				}},
				Output: orchestration.Schema{Fields: []orchestration.SchemaField{field("answer", orchestration.KindString, false)}},
			},
			answer: "Cotton suits black soil with 600mm rainfall",
		},
		{
			desc: orchestration.AgentDescriptor{
				Capability: "disease_detection",
				Subject:    "disease",
				Keywords:   []string{"disease", "leaf spot", "blight"},
				Input: orchestration.Schema{Fields: []orchestration.SchemaField{
					field("question", orchestration.KindString, false),
					field("passages", orchestration.KindPassages, true),
				}},
				Output: orchestration.Schema{Fields: []orchestration.SchemaField{field("answer", orchestration.KindString, false)}},
			},
			answer: "Hold the harvest and treat the fungal infection first",
			topic:  "urgency",
		},
		{
			desc: orchestration.AgentDescriptor{
				Capability: "market_price",
				Subject:    "market",
				Keywords:   []string{"market price", "price", "sell"},
				Input: orchestration.Schema{Fields: []orchestration.SchemaField{
					field("question", orchestration.KindString, false),
				}},
				Output:  orchestration.Schema{Fields: []orchestration.SchemaField{field("answer", orchestration.KindString, false)}},
				Latency: orchestration.LatencyFast,
			},
			answer: "Sell immediately, cotton rates are peaking at the mandi",
			topic:  "urgency",
		},
		{
			desc: orchestration.AgentDescriptor{
				Capability: "synthesis",
				Subject:    "synthesis",
				Input: orchestration.Schema{Fields: []orchestration.SchemaField{
					field("question", orchestration.KindString, true),
				}},
				Output: orchestration.Schema{Fields: []orchestration.SchemaField{field("answer", orchestration.KindString, false)}},
			},
			answer: "summary of findings",
		},
	}
	for _, a := range agents {
		require.NoError(t, reg.Register(a))
	}
	reg.Seal()
	return reg
}

func testConfig() *config.Config {
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
		ReviewWindow:      500 * time.Millisecond,
		PollInterval:      20 * time.Millisecond,
	}
	return cfg
}

func buildOrchestrator(t *testing.T, evidence []orchestration.Evidence, withSessions bool) (*Orchestrator, *hitl.RedisQueue) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	rw := circuitbreaker.NewRedisWrapper(client, zap.NewNop())

	mgr := config.NewManager(testConfig(), nil, zap.NewNop())
	queue := hitl.NewRedisQueue(rw, time.Hour, zap.NewNop())
	gate := hitl.NewGate(mgr.Gate, queue, zap.NewNop())

	var sessions *session.Manager
	if withSessions {
		sessions = session.NewManager(rw, time.Hour, 5, zap.NewNop())
	}

	provider := buildProvider(t, evidence)
	return New(mgr, provider, gate, queue, sessions, nil, zap.NewNop()), queue
}

func TestProcessQueryGroundedAutoApproves(t *testing.T) {
	o, _ := buildOrchestrator(t, strongEvidence(), false)

	outcome, err := o.ProcessQuery(context.Background(), orchestration.Query{
		Text:     "Which crop for black soil",
		Modality: orchestration.ModalityText,
	})
	require.NoError(t, err)

	require.Equal(t, orchestration.TierSimple, outcome.Tier)
	require.Equal(t, orchestration.ReviewAutoApproved, outcome.State)
	require.Equal(t, "Cotton suits black soil with 600mm rainfall", outcome.Answer)
	require.InDelta(t, 0.9, outcome.Confidence, 1e-9)
	require.Len(t, outcome.Claims, 1)
	require.Equal(t, orchestration.TagGrounded, outcome.Claims[0].Tag)
	require.NotNil(t, outcome.Decision)
	require.Empty(t, outcome.Handle)
}

func TestProcessQueryDisputedClaimEscalates(t *testing.T) {
	o, queue := buildOrchestrator(t, strongEvidence(), false)

	outcome, err := o.ProcessQuery(context.Background(), orchestration.Query{
		Text:     "My cotton has leaf spot disease, should I sell at the current market price",
		Modality: orchestration.ModalityText,
	})
	require.NoError(t, err)

	require.Equal(t, orchestration.TierModerate, outcome.Tier)
	require.Equal(t, orchestration.ReviewEscalated, outcome.State)
	require.NotEmpty(t, outcome.Handle)

	// Disagreeing urgency answers collapse into one disputed claim keeping
	// both variants verbatim.
	var disputed *orchestration.Claim
	for i := range outcome.Claims {
		if outcome.Claims[i].Tag == orchestration.TagDisputed {
			disputed = &outcome.Claims[i]
		}
	}
	require.NotNil(t, disputed)
	require.Equal(t, "urgency", disputed.SubQuestion)
	require.Len(t, disputed.Variants, 2)

	// The escalated task is retrievable for reviewers.
	task, _, err := queue.Task(context.Background(), outcome.Handle)
	require.NoError(t, err)
	require.Equal(t, outcome.QueryID, task.QueryID)
}

func TestProcessQueryZeroEvidenceEscalates(t *testing.T) {
	o, _ := buildOrchestrator(t, nil, false)

	outcome, err := o.ProcessQuery(context.Background(), orchestration.Query{
		Text:     "Which crop for my field",
		Modality: orchestration.ModalityText,
	})
	require.NoError(t, err)

	require.Equal(t, orchestration.ReviewEscalated, outcome.State)
	require.Len(t, outcome.Claims, 1)
	require.Equal(t, orchestration.TagUngrounded, outcome.Claims[0].Tag)
	require.InDelta(t, 0.5, outcome.Confidence, 1e-9)
}

func TestProcessQueryEscalationResolvedByReviewer(t *testing.T) {
	o, _ := buildOrchestrator(t, nil, false)

	outcome, err := o.ProcessQuery(context.Background(), orchestration.Query{
		Text:     "Which crop for my field",
		Modality: orchestration.ModalityText,
	})
	require.NoError(t, err)
	require.Equal(t, orchestration.ReviewEscalated, outcome.State)

	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = o.RecordDecision(context.Background(), outcome.Handle, orchestration.ReviewDecision{
			Outcome:  orchestration.ReviewApproved,
			Reviewer: "agronomist-1",
		})
	}()

	decision, err := o.AwaitReview(context.Background(), outcome.Handle)
	require.NoError(t, err)
	require.Equal(t, orchestration.ReviewApproved, decision.Outcome)
	require.Equal(t, "agronomist-1", decision.Reviewer)
}

func TestProcessQueryRejectsInvalidInput(t *testing.T) {
	o, _ := buildOrchestrator(t, nil, false)

	_, err := o.ProcessQuery(context.Background(), orchestration.Query{
		Text:     "   ",
		Modality: orchestration.ModalityText,
	})
	var cerr *orchestration.ClassificationError
	require.ErrorAs(t, err, &cerr)
}

func TestProcessQuerySessionFollowUpEnrichment(t *testing.T) {
	o, _ := buildOrchestrator(t, strongEvidence(), true)
	ctx := context.Background()

	first, err := o.ProcessQuery(ctx, orchestration.Query{
		Text:      "Which crop for black soil with 600mm rainfall",
		Modality:  orchestration.ModalityText,
		SessionID: "sess-42",
	})
	require.NoError(t, err)
	require.Equal(t, orchestration.ReviewAutoApproved, first.State)

	// "And sowing" alone matches the crop agent only through the inherited
	// question context.
	second, err := o.ProcessQuery(ctx, orchestration.Query{
		Text:      "And sow when",
		Modality:  orchestration.ModalityText,
		SessionID: "sess-42",
	})
	require.NoError(t, err)
	require.Equal(t, "Cotton suits black soil with 600mm rainfall", second.Answer)
}

// Package planner turns a classified query into an execution plan: an
// ordered DAG of agent and retrieval invocations with explicit data
// dependencies. Planning is a best-effort heuristic, but identical
// (query, score, registry) inputs always produce the identical plan.
package planner

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/agrimind/orchestrator/internal/metrics"
	"github.com/agrimind/orchestrator/internal/orchestration"
)

// Well-known pseudo-agent capabilities the planner wires in besides the
// keyword-matched domain agents.
const (
	CapRetrieval     = "knowledge_retrieval"
	CapSynthesis     = "synthesis"
	CapDeepResearch  = "deep_research"
	CapTranscription = "speech_transcription"
)

// Planner builds execution plans against a registry.
type Planner struct {
	logger *zap.Logger
}

// New creates a planner.
func New(logger *zap.Logger) *Planner {
	return &Planner{logger: logger}
}

// candidate is a keyword-matched descriptor with its match strength.
type candidate struct {
	desc orchestration.AgentDescriptor
	hits int
}

// Plan selects capabilities whose input schemas are satisfiable from the
// query and prior step outputs, orders them into a DAG and validates it.
// Unsatisfiable or cyclic plans fail with *orchestration.PlanningError
// before any agent is invoked.
func (p *Planner) Plan(
	query orchestration.Query,
	score orchestration.ComplexityScore,
	provider orchestration.AgentProvider,
) (*orchestration.ExecutionPlan, error) {
	selected, err := p.selectCapabilities(query, score, provider)
	if err != nil {
		metrics.PlanningErrors.Inc()
		return nil, err
	}

	plan := &orchestration.ExecutionPlan{
		QueryID:   query.ID,
		Tier:      score.Tier,
		CreatedAt: time.Now().UTC(),
	}

	// Voice queries are transcribed first; downstream question bindings
	// reference the transcript instead of the raw query text.
	questionBinding := orchestration.Binding{Literal: query.Text}
	if query.Modality == orchestration.ModalityVoice {
		if _, ok := provider.Descriptor(CapTranscription); !ok {
			metrics.PlanningErrors.Inc()
			return nil, &orchestration.PlanningError{
				QueryID:    query.ID,
				Capability: CapTranscription,
				Reason:     "voice query but no transcription capability registered",
			}
		}
		plan.Steps = append(plan.Steps, orchestration.PlanStep{
			ID:          CapTranscription,
			Capability:  CapTranscription,
			SubQuestion: "transcript",
			Required:    true,
			Inputs: map[string]orchestration.Binding{
				"audio": {Literal: query.AudioRef},
			},
		})
		questionBinding = orchestration.Binding{FromStep: CapTranscription, FromField: "text"}
	}

	// A retrieval step grounds every text-bearing query; its failure never
	// aborts the plan, it only costs evidence.
	retrievalPlanned := false
	if _, ok := provider.Descriptor(CapRetrieval); ok {
		step := orchestration.PlanStep{
			ID:          CapRetrieval,
			Capability:  CapRetrieval,
			SubQuestion: "evidence",
			Retrieval:   true,
			Inputs: map[string]orchestration.Binding{
				"question": questionBinding,
				"top_k":    {Literal: topKFor(score.Tier)},
			},
		}
		if questionBinding.IsRef() {
			step.DependsOn = []string{questionBinding.FromStep}
		}
		plan.Steps = append(plan.Steps, step)
		retrievalPlanned = true
	}

	var agentStepIDs []string
	for rank, cand := range selected {
		step, ok := p.buildAgentStep(query, cand.desc, questionBinding, retrievalPlanned)
		if !ok {
			// Input schema not satisfiable from this query; skip.
			continue
		}
		// The strongest match is load-bearing; lower-ranked agents enrich
		// the answer but their failure should not abort the plan.
		step.Required = rank == 0
		plan.Steps = append(plan.Steps, step)
		agentStepIDs = append(agentStepIDs, step.ID)
	}

	if len(agentStepIDs) == 0 {
		metrics.PlanningErrors.Inc()
		return nil, &orchestration.PlanningError{
			QueryID: query.ID,
			Reason:  "no registered capability is satisfiable for this query",
		}
	}

	if len(agentStepIDs) > 1 {
		if _, ok := provider.Descriptor(CapSynthesis); !ok {
			metrics.PlanningErrors.Inc()
			return nil, &orchestration.PlanningError{
				QueryID:    query.ID,
				Capability: CapSynthesis,
				Reason:     "multi-agent plan requires a synthesis capability",
			}
		}
		synth := orchestration.PlanStep{
			ID:          CapSynthesis,
			Capability:  CapSynthesis,
			SubQuestion: "synthesis",
			Required:    true,
			DependsOn:   append([]string(nil), agentStepIDs...),
			Inputs: map[string]orchestration.Binding{
				"question": questionBinding,
			},
		}
		for _, id := range agentStepIDs {
			synth.Inputs["finding_"+id] = orchestration.Binding{FromStep: id, FromField: "answer"}
		}
		plan.Steps = append(plan.Steps, synth)
	}

	if err := Validate(plan, provider); err != nil {
		metrics.PlanningErrors.Inc()
		return nil, err
	}

	metrics.PlansBuilt.WithLabelValues(string(score.Tier)).Inc()
	metrics.PlanSteps.WithLabelValues(string(score.Tier)).Observe(float64(len(plan.Steps)))
	p.logger.Info("Execution plan built",
		zap.String("query_id", query.ID),
		zap.String("tier", string(score.Tier)),
		zap.Int("steps", len(plan.Steps)),
		zap.Strings("agents", agentStepIDs),
	)
	return plan, nil
}

// selectCapabilities keyword-matches descriptors against the query, resolves
// subject overlaps by latency class, and caps fan-out by tier.
func (p *Planner) selectCapabilities(
	query orchestration.Query,
	score orchestration.ComplexityScore,
	provider orchestration.AgentProvider,
) ([]candidate, error) {
	text := strings.ToLower(query.Text)

	bySubject := make(map[string]candidate)
	var subjects []string
	for _, desc := range provider.Descriptors() {
		if isPseudoCapability(desc.Capability) {
			continue
		}
		hits := keywordHits(text, desc.Keywords)
		if hits == 0 {
			continue
		}
		subject := desc.Subject
		if subject == "" {
			subject = desc.Capability
		}
		cur, exists := bySubject[subject]
		if !exists {
			bySubject[subject] = candidate{desc: desc, hits: hits}
			subjects = append(subjects, subject)
			continue
		}
		// Two agents declare overlapping capability for this subject:
		// prefer the lower latency class unless the tier calls for the
		// higher-fidelity (slower) one.
		if better(desc, cur.desc, score.Tier) || (equivalent(desc, cur.desc, score.Tier) && hits > cur.hits) {
			bySubject[subject] = candidate{desc: desc, hits: hits}
		}
	}

	selected := make([]candidate, 0, len(subjects))
	for _, s := range subjects {
		selected = append(selected, bySubject[s])
	}
	// Strongest match first; capability tag breaks ties for determinism.
	sort.Slice(selected, func(i, j int) bool {
		if selected[i].hits != selected[j].hits {
			return selected[i].hits > selected[j].hits
		}
		return selected[i].desc.Capability < selected[j].desc.Capability
	})

	// Deep queries get the research pipeline on top of the matched agents.
	if score.Tier == orchestration.TierDeep {
		if desc, ok := provider.Descriptor(CapDeepResearch); ok && !containsCapability(selected, CapDeepResearch) {
			selected = append(selected, candidate{desc: desc, hits: 0})
		}
	}

	if len(selected) == 0 {
		// Nothing matched: fall back to the generalist researcher.
		if desc, ok := provider.Descriptor(CapDeepResearch); ok {
			selected = append(selected, candidate{desc: desc, hits: 0})
		}
	}

	limit := fanoutFor(score.Tier)
	if len(selected) > limit {
		selected = selected[:limit]
	}
	return selected, nil
}

// buildAgentStep binds the descriptor's input schema from the query and the
// retrieval step. Returns false when a required field cannot be bound.
func (p *Planner) buildAgentStep(
	query orchestration.Query,
	desc orchestration.AgentDescriptor,
	questionBinding orchestration.Binding,
	retrievalPlanned bool,
) (orchestration.PlanStep, bool) {
	step := orchestration.PlanStep{
		ID:          desc.Capability,
		Capability:  desc.Capability,
		SubQuestion: subjectOf(desc),
		Inputs:      make(map[string]orchestration.Binding),
	}

	for _, f := range desc.Input.Fields {
		switch f.Kind {
		case orchestration.KindString:
			step.Inputs[f.Name] = questionBinding
			if questionBinding.IsRef() {
				step.DependsOn = appendUnique(step.DependsOn, questionBinding.FromStep)
			}
		case orchestration.KindImage:
			if query.ImageRef == "" {
				if f.Optional {
					continue
				}
				return orchestration.PlanStep{}, false
			}
			step.Inputs[f.Name] = orchestration.Binding{Literal: query.ImageRef}
		case orchestration.KindAudio:
			if query.AudioRef == "" {
				if f.Optional {
					continue
				}
				return orchestration.PlanStep{}, false
			}
			step.Inputs[f.Name] = orchestration.Binding{Literal: query.AudioRef}
		case orchestration.KindPassages:
			if !retrievalPlanned {
				if f.Optional {
					continue
				}
				return orchestration.PlanStep{}, false
			}
			step.Inputs[f.Name] = orchestration.Binding{FromStep: CapRetrieval, FromField: "passages"}
			step.DependsOn = appendUnique(step.DependsOn, CapRetrieval)
		default:
			if !f.Optional {
				step.Inputs[f.Name] = orchestration.Binding{Literal: query.Text}
			}
		}
	}
	return step, true
}

// Validate checks a plan against the registry: every capability must be
// registered, bindings may only reference earlier steps, and the dependency
// graph must be acyclic. The execution engine calls this for externally
// constructed plans too.
func Validate(plan *orchestration.ExecutionPlan, provider orchestration.AgentProvider) error {
	seen := make(map[string]bool, len(plan.Steps))
	for _, st := range plan.Steps {
		if seen[st.ID] {
			return &orchestration.PlanningError{
				QueryID: plan.QueryID,
				Reason:  fmt.Sprintf("duplicate step id %q", st.ID),
			}
		}
		if _, ok := provider.Descriptor(st.Capability); !ok {
			return &orchestration.PlanningError{
				QueryID:    plan.QueryID,
				Capability: st.Capability,
				Reason:     "unregistered capability",
			}
		}
		for name, b := range st.Inputs {
			if b.IsRef() && !seen[b.FromStep] {
				return &orchestration.PlanningError{
					QueryID: plan.QueryID,
					Reason:  fmt.Sprintf("step %q input %q references step %q which is not an earlier step", st.ID, name, b.FromStep),
				}
			}
		}
		for _, dep := range st.DependsOn {
			if dep == st.ID {
				return &orchestration.PlanningError{
					QueryID: plan.QueryID,
					Reason:  fmt.Sprintf("step %q depends on itself", st.ID),
				}
			}
		}
		seen[st.ID] = true
	}

	if check := detectCycles(plan.Steps); check.HasCycle {
		return &orchestration.PlanningError{
			QueryID:   plan.QueryID,
			CyclePath: check.CyclePath,
			Reason:    "dependency cycle",
		}
	}
	return nil
}

func keywordHits(text string, keywords []string) int {
	n := 0
	for _, kw := range keywords {
		if kw != "" && strings.Contains(text, strings.ToLower(kw)) {
			n++
		}
	}
	return n
}

func better(a, b orchestration.AgentDescriptor, tier orchestration.Tier) bool {
	if tier == orchestration.TierDeep {
		return a.Latency > b.Latency
	}
	return a.Latency < b.Latency
}

func equivalent(a, b orchestration.AgentDescriptor, tier orchestration.Tier) bool {
	return a.Latency == b.Latency
}

func containsCapability(cands []candidate, capability string) bool {
	for _, c := range cands {
		if c.desc.Capability == capability {
			return true
		}
	}
	return false
}

func isPseudoCapability(capability string) bool {
	switch capability {
	case CapRetrieval, CapSynthesis, CapTranscription:
		return true
	}
	return false
}

func subjectOf(desc orchestration.AgentDescriptor) string {
	if desc.Subject != "" {
		return desc.Subject
	}
	return desc.Capability
}

func appendUnique(deps []string, id string) []string {
	for _, d := range deps {
		if d == id {
			return deps
		}
	}
	return append(deps, id)
}

func topKFor(tier orchestration.Tier) int {
	switch tier {
	case orchestration.TierDeep:
		return 8
	case orchestration.TierModerate:
		return 5
	default:
		return 3
	}
}

func fanoutFor(tier orchestration.Tier) int {
	switch tier {
	case orchestration.TierDeep:
		return 5
	case orchestration.TierModerate:
		return 3
	default:
		return 1
	}
}

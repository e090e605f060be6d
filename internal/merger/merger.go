// Package merger folds step results into a single evidence-annotated
// composite answer. Conflicting agent outputs are never averaged away: both
// variants are retained under a disputed tag and the gate decides.
package merger

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/agrimind/orchestrator/internal/metrics"
	"github.com/agrimind/orchestrator/internal/orchestration"
	"github.com/agrimind/orchestrator/internal/planner"
	"github.com/agrimind/orchestrator/internal/util"
)

const (
	// Two answers to the same sub-question with token overlap below this are
	// treated as a disagreement.
	agreementCutoff = 0.5

	// Confidence floor for the relevance factor. Claims with no evidence sit
	// at this baseline, and evidence weaker than it never lowers a claim.
	relevanceFloor = 0.5

	disputeFactor   = 0.5
	optionalPenalty = 0.1

	severityRequired = 0.8
	severityOptional = 0.4
)

// Merger builds composite results.
type Merger struct {
	logger *zap.Logger
}

// New creates a merger.
func New(logger *zap.Logger) *Merger {
	return &Merger{logger: logger}
}

// variant is one agent's answer before grouping.
type variant struct {
	key      string
	claim    orchestration.ClaimVariant
	required bool
}

// Merge folds step results into a CompositeResult. Evidence from retrieval
// steps is pooled and attached to every claim. A successful step whose output
// does not carry a string "answer" is a schema mismatch: fatal for required
// steps, dropped with a penalty for optional ones.
func (m *Merger) Merge(queryID string, results []orchestration.StepResult) (*orchestration.CompositeResult, error) {
	pool := evidencePool(results)

	var (
		variants  []variant
		answer    string
		penalty   float64
		hasAnswer bool
	)
	for _, r := range results {
		if r.Retrieval {
			continue
		}
		switch r.Status {
		case orchestration.StepFailure, orchestration.StepTimeout:
			if !r.Required {
				penalty += optionalPenalty
			}
			continue
		case orchestration.StepSkipped:
			continue
		}

		text, err := answerOf(r)
		if err != nil {
			metrics.MergeErrors.Inc()
			if r.Required {
				return nil, err
			}
			m.logger.Warn("Dropping optional step output on schema mismatch",
				zap.String("step_id", r.StepID),
				zap.Error(err),
			)
			penalty += optionalPenalty
			continue
		}

		if r.Capability == planner.CapSynthesis {
			answer = text
			hasAnswer = true
			continue
		}

		variants = append(variants, variant{
			key: claimKey(r),
			claim: orchestration.ClaimVariant{
				Capability: r.Capability,
				Text:       text,
				Evidence:   r.Evidence,
			},
			required: r.Required,
		})
	}

	claims := m.buildClaims(variants, pool)

	composite := &orchestration.CompositeResult{
		ID:        uuid.NewString(),
		QueryID:   queryID,
		Claims:    claims,
		Evidence:  pool,
		Penalty:   penalty,
		CreatedAt: time.Now().UTC(),
	}
	composite.Answer = pickAnswer(answer, hasAnswer, claims)
	composite.Confidence = overallConfidence(claims, penalty)
	return composite, nil
}

// buildClaims groups variants by key and scores each group. Within a group,
// every variant is compared to the first; any disagreement tags the claim
// disputed and keeps all variants verbatim.
func (m *Merger) buildClaims(variants []variant, pool []orchestration.Evidence) []orchestration.Claim {
	groups := make(map[string][]variant)
	var order []string
	for _, v := range variants {
		if _, ok := groups[v.key]; !ok {
			order = append(order, v.key)
		}
		groups[v.key] = append(groups[v.key], v)
	}

	claims := make([]orchestration.Claim, 0, len(order))
	for _, key := range order {
		group := groups[key]
		lead := group[0]

		agree := 1
		disputed := false
		for _, v := range group[1:] {
			if tokenOverlap(lead.claim.Text, v.claim.Text) >= agreementCutoff {
				agree++
			} else {
				disputed = true
			}
		}
		agreement := float64(agree) / float64(len(group))

		evidence := append([]orchestration.Evidence(nil), pool...)
		for _, v := range group {
			evidence = mergeEvidence(evidence, v.claim.Evidence)
		}

		tag := orchestration.TagGrounded
		if len(evidence) == 0 {
			tag = orchestration.TagUngrounded
		}
		if disputed {
			tag = orchestration.TagDisputed
		}

		rel := relevanceFloor
		for _, ev := range evidence {
			if ev.Relevance > rel {
				rel = ev.Relevance
			}
		}
		confidence := util.Clamp01(rel * (0.7 + 0.3*agreement))
		if disputed {
			confidence *= disputeFactor
		}

		severity := severityOptional
		for _, v := range group {
			if v.required {
				severity = severityRequired
			}
		}

		claim := orchestration.Claim{
			SubQuestion: key,
			Text:        lead.claim.Text,
			Capability:  lead.claim.Capability,
			Tag:         tag,
			Confidence:  confidence,
			Severity:    severity,
			Evidence:    evidence,
		}
		if len(group) > 1 {
			claim.Variants = make([]orchestration.ClaimVariant, 0, len(group))
			for _, v := range group {
				claim.Variants = append(claim.Variants, v.claim)
			}
		}
		metrics.ClaimsTagged.WithLabelValues(string(tag)).Inc()
		claims = append(claims, claim)
	}
	return claims
}

// overallConfidence is the mean claim confidence minus the optional-failure
// penalty. Disputed and ungrounded tags only ever pull it down.
func overallConfidence(claims []orchestration.Claim, penalty float64) float64 {
	if len(claims) == 0 {
		return 0
	}
	sum := 0.0
	for _, c := range claims {
		sum += c.Confidence
	}
	return util.Clamp01(sum/float64(len(claims)) - penalty)
}

func pickAnswer(synth string, hasSynth bool, claims []orchestration.Claim) string {
	if hasSynth {
		return synth
	}
	for _, c := range claims {
		if c.Severity >= severityRequired {
			return c.Text
		}
	}
	if len(claims) > 0 {
		return claims[0].Text
	}
	return ""
}

// answerOf validates the declared output surface: agent steps must produce a
// non-empty string "answer".
func answerOf(r orchestration.StepResult) (string, error) {
	v, ok := r.Output["answer"]
	if !ok {
		return "", &orchestration.MergeError{
			StepID:     r.StepID,
			Capability: r.Capability,
			Reason:     `output field "answer" missing`,
		}
	}
	text, ok := v.(string)
	if !ok || strings.TrimSpace(text) == "" {
		return "", &orchestration.MergeError{
			StepID:     r.StepID,
			Capability: r.Capability,
			Reason:     fmt.Sprintf(`output field "answer" is %T, want non-empty string`, v),
		}
	}
	return text, nil
}

// claimKey groups comparable answers. Agents that reason about the same topic
// declare it in their output; otherwise the planner's sub-question stands.
func claimKey(r orchestration.StepResult) string {
	if topic, ok := r.Output["topic"].(string); ok && topic != "" {
		return topic
	}
	return r.SubQuestion
}

// evidencePool collects evidence from retrieval steps, deduplicated and
// sorted strongest first.
func evidencePool(results []orchestration.StepResult) []orchestration.Evidence {
	var pool []orchestration.Evidence
	for _, r := range results {
		if r.Retrieval && r.Status == orchestration.StepSuccess {
			pool = mergeEvidence(pool, r.Evidence)
		}
	}
	sort.SliceStable(pool, func(i, j int) bool { return pool[i].Relevance > pool[j].Relevance })
	return pool
}

func mergeEvidence(dst, src []orchestration.Evidence) []orchestration.Evidence {
	seen := make(map[string]bool, len(dst))
	for _, ev := range dst {
		seen[ev.PassageID] = true
	}
	for _, ev := range src {
		if !seen[ev.PassageID] {
			seen[ev.PassageID] = true
			dst = append(dst, ev)
		}
	}
	return dst
}

// tokenOverlap is the Jaccard similarity of the two texts' word sets.
func tokenOverlap(a, b string) float64 {
	as := tokenSet(a)
	bs := tokenSet(b)
	if len(as) == 0 || len(bs) == 0 {
		return 0
	}
	inter := 0
	for w := range as {
		if bs[w] {
			inter++
		}
	}
	union := len(as) + len(bs) - inter
	return float64(inter) / float64(union)
}

func tokenSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(s)) {
		w = strings.Trim(w, ".,;:!?\"'()")
		if w != "" {
			set[w] = true
		}
	}
	return set
}

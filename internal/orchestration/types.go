// Package orchestration defines the core domain model shared by the
// classifier, planner, execution engine, merger and HITL gate.
package orchestration

import (
	"time"
)

// Modality identifies the raw input kind of a query.
type Modality string

const (
	ModalityText  Modality = "text"
	ModalityImage Modality = "image"
	ModalityVoice Modality = "voice"
)

// Query is an accepted user query. Immutable once created.
type Query struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	ImageRef  string    `json:"image_ref,omitempty"`
	AudioRef  string    `json:"audio_ref,omitempty"`
	Modality  Modality  `json:"modality"`
	Locale    string    `json:"locale,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	ArrivedAt time.Time `json:"arrived_at"`
}

// Tier buckets a query by how much retrieval and reasoning it needs.
type Tier string

const (
	TierSimple   Tier = "simple"
	TierModerate Tier = "moderate"
	TierDeep     Tier = "deep"
)

// ComplexityScore is produced once per query and parameterizes planning.
type ComplexityScore struct {
	QueryID        string  `json:"query_id"`
	RetrievalDepth float64 `json:"retrieval_depth"` // 0..1
	ReasoningDepth float64 `json:"reasoning_depth"` // 0..1
	Tier           Tier    `json:"tier"`
}

// LatencyClass is the declared response-time class of an agent.
type LatencyClass int

const (
	LatencyFast LatencyClass = iota
	LatencyStandard
	LatencySlow
)

func (l LatencyClass) String() string {
	switch l {
	case LatencyFast:
		return "fast"
	case LatencyStandard:
		return "standard"
	case LatencySlow:
		return "slow"
	default:
		return "unknown"
	}
}

// FieldKind is the declared type of a schema field.
type FieldKind string

const (
	KindString   FieldKind = "string"
	KindNumber   FieldKind = "number"
	KindImage    FieldKind = "image"
	KindAudio    FieldKind = "audio"
	KindPassages FieldKind = "passages"
	KindAny      FieldKind = "any"
)

// SchemaField is a single named field in an agent's input or output schema.
type SchemaField struct {
	Name     string    `json:"name" yaml:"name"`
	Kind     FieldKind `json:"kind" yaml:"kind"`
	Optional bool      `json:"optional,omitempty" yaml:"optional,omitempty"`
}

// Schema declares the shape of an agent's input or output.
type Schema struct {
	Fields []SchemaField `json:"fields" yaml:"fields"`
}

// Field returns the named field, if declared.
func (s Schema) Field(name string) (SchemaField, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return SchemaField{}, false
}

// AgentDescriptor describes a registered capability. Registered at process
// start and read-only thereafter.
type AgentDescriptor struct {
	Capability string `json:"capability" yaml:"capability"`
	// Subject groups descriptors that answer the same kind of sub-question;
	// the planner tie-breaks within a subject by latency class.
	Subject    string       `json:"subject" yaml:"subject"`
	Keywords   []string     `json:"keywords" yaml:"keywords"`
	Input      Schema       `json:"input" yaml:"input"`
	Output     Schema       `json:"output" yaml:"output"`
	Latency    LatencyClass `json:"latency" yaml:"latency"`
	Idempotent bool         `json:"idempotent" yaml:"idempotent"`
}

// Binding supplies one input field of a plan step: either a literal value or
// a reference to a field of an earlier step's output.
type Binding struct {
	Literal   any    `json:"literal,omitempty"`
	FromStep  string `json:"from_step,omitempty"`
	FromField string `json:"from_field,omitempty"`
}

// IsRef reports whether the binding references another step's output.
func (b Binding) IsRef() bool { return b.FromStep != "" }

// PlanStep is one scheduled invocation within an execution plan.
type PlanStep struct {
	ID          string             `json:"id"`
	Capability  string             `json:"capability"`
	SubQuestion string             `json:"sub_question"`
	Inputs      map[string]Binding `json:"inputs"`
	DependsOn   []string           `json:"depends_on,omitempty"`
	Required    bool               `json:"required"`
	// Retrieval marks steps whose output must be evidence-backed.
	Retrieval bool `json:"retrieval,omitempty"`
}

// ExecutionPlan is a DAG of plan steps in a valid topological order.
// Immutable during execution.
type ExecutionPlan struct {
	QueryID   string     `json:"query_id"`
	Tier      Tier       `json:"tier"`
	Steps     []PlanStep `json:"steps"`
	CreatedAt time.Time  `json:"created_at"`
}

// Step returns the step with the given ID, if present.
func (p *ExecutionPlan) Step(id string) (PlanStep, bool) {
	for _, s := range p.Steps {
		if s.ID == id {
			return s, true
		}
	}
	return PlanStep{}, false
}

// StepStatus is the terminal status of a step invocation.
type StepStatus string

const (
	StepSuccess StepStatus = "success"
	StepFailure StepStatus = "failure"
	StepTimeout StepStatus = "timeout"
	StepSkipped StepStatus = "skipped"
)

// Evidence is one retrieved passage supporting a claim.
type Evidence struct {
	PassageID string  `json:"passage_id"`
	SourceID  string  `json:"source_id"`
	Relevance float64 `json:"relevance"`
	Span      string  `json:"span"`
}

// StepResult is the outcome of one plan step.
type StepResult struct {
	StepID      string         `json:"step_id"`
	Capability  string         `json:"capability"`
	SubQuestion string         `json:"sub_question"`
	Status      StepStatus     `json:"status"`
	Output      map[string]any `json:"output,omitempty"`
	Evidence    []Evidence     `json:"evidence,omitempty"`
	Error       string         `json:"error,omitempty"`
	Attempts    int            `json:"attempts"`
	Latency     time.Duration  `json:"latency"`
	Retrieval   bool           `json:"retrieval,omitempty"`
	Required    bool           `json:"required"`
}

// ClaimTag marks how well a claim is supported.
type ClaimTag string

const (
	TagGrounded   ClaimTag = "grounded"
	TagUngrounded ClaimTag = "ungrounded"
	TagDisputed   ClaimTag = "disputed"
)

// ClaimVariant is one agent's answer to a sub-question, kept verbatim when
// agents disagree.
type ClaimVariant struct {
	Capability string     `json:"capability"`
	Text       string     `json:"text"`
	Evidence   []Evidence `json:"evidence,omitempty"`
}

// Claim is a single statement in a composite result with its grounding.
type Claim struct {
	SubQuestion string   `json:"sub_question"`
	Text        string   `json:"text"`
	Capability  string   `json:"capability"`
	Tag         ClaimTag `json:"tag"`
	Confidence  float64  `json:"confidence"`
	// Severity grades how much an ungrounded/disputed tag should worry the
	// gate: claims from required steps carry higher severity.
	Severity float64        `json:"severity,omitempty"`
	Evidence []Evidence     `json:"evidence,omitempty"`
	Variants []ClaimVariant `json:"variants,omitempty"`
}

// CompositeResult is the merged, evidence-annotated answer for a query.
type CompositeResult struct {
	ID         string     `json:"id"`
	QueryID    string     `json:"query_id"`
	Answer     string     `json:"answer"`
	Claims     []Claim    `json:"claims"`
	Evidence   []Evidence `json:"evidence,omitempty"`
	Confidence float64    `json:"confidence"`
	// Penalty accumulated from optional-step failures and dropped outputs.
	Penalty   float64   `json:"penalty,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// HasTag reports whether any claim carries the given tag.
func (c *CompositeResult) HasTag(tag ClaimTag) bool {
	for _, cl := range c.Claims {
		if cl.Tag == tag {
			return true
		}
	}
	return false
}

// ReviewState is the terminal state of the HITL gate for a composite result.
type ReviewState string

const (
	ReviewPending      ReviewState = "PENDING"
	ReviewAutoApproved ReviewState = "AUTO_APPROVED"
	ReviewEscalated    ReviewState = "ESCALATED"
	ReviewRejected     ReviewState = "REJECTED"

	// ReviewApproved records a human approval arriving through the review
	// queue; it never appears as a gate state.
	ReviewApproved ReviewState = "APPROVED"
)

// ReviewDecision is terminal and immutable once recorded.
type ReviewDecision struct {
	CompositeID string      `json:"composite_id"`
	Outcome     ReviewState `json:"outcome"`
	Reviewer    string      `json:"reviewer,omitempty"`
	Feedback    string      `json:"feedback,omitempty"`
	DecidedAt   time.Time   `json:"decided_at"`
}

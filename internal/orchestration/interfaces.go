package orchestration

import "context"

// Agent is the invocation contract every registered capability implements.
// Invoke must validate input against the declared schema and return within
// its declared latency class or signal timeout through ctx. Errors should be
// wrapped with Transient or Fatal to drive the engine's retry policy.
type Agent interface {
	Descriptor() AgentDescriptor
	Invoke(ctx context.Context, input map[string]any) (output map[string]any, evidence []Evidence, err error)
}

// AgentProvider resolves capability tags to agents and descriptors. Safe for
// unlimited concurrent readers.
type AgentProvider interface {
	Descriptor(capability string) (AgentDescriptor, bool)
	Descriptors() []AgentDescriptor
	Agent(capability string) (Agent, bool)
}

// Retriever produces a finite, ordered sequence of evidence for a query.
type Retriever interface {
	Retrieve(ctx context.Context, text string, topK int) ([]Evidence, error)
}

// ReviewQueue is the non-blocking handoff to human reviewers.
type ReviewQueue interface {
	Enqueue(ctx context.Context, result *CompositeResult, reason string) (handle string, err error)
	// PollDecision returns (decision, true, nil) once recorded, or
	// (nil, false, nil) while the review is still pending.
	PollDecision(ctx context.Context, handle string) (*ReviewDecision, bool, error)
}

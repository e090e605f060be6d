// Package agents holds the built-in capability agents: thin HTTP clients to
// model-serving endpoints, each declaring the input/output schema the planner
// binds against. Circuit breaking and retries belong to the engine; an agent
// only classifies its failures as transient or fatal.
package agents

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/agrimind/orchestrator/internal/orchestration"
	"github.com/agrimind/orchestrator/internal/tracing"
)

// HTTPAgent invokes one model-serving endpoint.
type HTTPAgent struct {
	desc     orchestration.AgentDescriptor
	endpoint string
	client   *http.Client
	logger   *zap.Logger
}

// NewHTTPAgent creates an agent for a descriptor and endpoint.
func NewHTTPAgent(desc orchestration.AgentDescriptor, endpoint string, timeout time.Duration, logger *zap.Logger) *HTTPAgent {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPAgent{
		desc:     desc,
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

// Descriptor returns the declared capability schema.
func (a *HTTPAgent) Descriptor() orchestration.AgentDescriptor { return a.desc }

type invokeRequest struct {
	Capability string         `json:"capability"`
	Input      map[string]any `json:"input"`
}

type invokeResponse struct {
	Answer   string         `json:"answer"`
	Topic    string         `json:"topic,omitempty"`
	Output   map[string]any `json:"output,omitempty"`
	Evidence []struct {
		PassageID string  `json:"passage_id"`
		SourceID  string  `json:"source_id"`
		Relevance float64 `json:"relevance"`
		Span      string  `json:"span"`
	} `json:"evidence,omitempty"`
	Error string `json:"error,omitempty"`
}

// Invoke validates the input against the declared schema, posts it to the
// serving endpoint and maps the response. 4xx means the request itself is
// wrong and will not improve on retry; 5xx and transport errors are
// transient.
func (a *HTTPAgent) Invoke(ctx context.Context, input map[string]any) (map[string]any, []orchestration.Evidence, error) {
	if err := a.validateInput(input); err != nil {
		return nil, nil, orchestration.Fatal(err)
	}

	ctx, span := tracing.StartHTTPSpan(ctx, http.MethodPost, a.endpoint)
	defer span.End()

	body, err := json.Marshal(invokeRequest{Capability: a.desc.Capability, Input: input})
	if err != nil {
		return nil, nil, orchestration.Fatal(fmt.Errorf("marshal agent input: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, nil, orchestration.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	tracing.InjectTraceparent(ctx, req)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, nil, orchestration.Transient(fmt.Errorf("agent %s: %w", a.desc.Capability, err))
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return nil, nil, orchestration.Transient(fmt.Errorf("agent %s returned %d", a.desc.Capability, resp.StatusCode))
	case resp.StatusCode >= 400:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, nil, orchestration.Fatal(fmt.Errorf("agent %s rejected request (%d): %s", a.desc.Capability, resp.StatusCode, string(msg)))
	}

	var ir invokeResponse
	if err := json.NewDecoder(resp.Body).Decode(&ir); err != nil {
		return nil, nil, orchestration.Transient(fmt.Errorf("decode agent %s response: %w", a.desc.Capability, err))
	}
	if ir.Error != "" {
		return nil, nil, orchestration.Fatal(fmt.Errorf("agent %s: %s", a.desc.Capability, ir.Error))
	}

	output := map[string]any{"answer": ir.Answer}
	if ir.Topic != "" {
		output["topic"] = ir.Topic
	}
	for k, v := range ir.Output {
		if _, taken := output[k]; !taken {
			output[k] = v
		}
	}

	evidence := make([]orchestration.Evidence, 0, len(ir.Evidence))
	for _, ev := range ir.Evidence {
		evidence = append(evidence, orchestration.Evidence{
			PassageID: ev.PassageID,
			SourceID:  ev.SourceID,
			Relevance: ev.Relevance,
			Span:      ev.Span,
		})
	}
	return output, evidence, nil
}

func (a *HTTPAgent) validateInput(input map[string]any) error {
	for _, f := range a.desc.Input.Fields {
		v, present := input[f.Name]
		if !present {
			if f.Optional {
				continue
			}
			return fmt.Errorf("agent %s: required input %q missing", a.desc.Capability, f.Name)
		}
		switch f.Kind {
		case orchestration.KindString, orchestration.KindImage, orchestration.KindAudio:
			if s, ok := v.(string); !ok || s == "" {
				return fmt.Errorf("agent %s: input %q must be a non-empty string", a.desc.Capability, f.Name)
			}
		case orchestration.KindNumber:
			switch v.(type) {
			case int, int64, float64:
			default:
				return fmt.Errorf("agent %s: input %q must be numeric", a.desc.Capability, f.Name)
			}
		}
	}
	return nil
}

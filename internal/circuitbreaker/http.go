package circuitbreaker

import (
	"net/http"

	"go.uber.org/zap"
)

// HTTPWrapper wraps an *http.Client with a circuit breaker. Server errors
// (5xx) count as failures; client errors (4xx) do not trip the breaker.
type HTTPWrapper struct {
	client *http.Client
	cb     *Breaker
	logger *zap.Logger
}

// NewHTTPWrapper creates an HTTP wrapper with a named breaker.
func NewHTTPWrapper(client *http.Client, name string, logger *zap.Logger) *HTTPWrapper {
	return &HTTPWrapper{
		client: client,
		cb:     New(name, DefaultConfig(), logger),
		logger: logger,
	}
}

// Do executes the request through the breaker.
func (w *HTTPWrapper) Do(req *http.Request) (*http.Response, error) {
	var resp *http.Response
	err := w.cb.Execute(req.Context(), func() error {
		var err error
		resp, err = w.client.Do(req)
		if err != nil {
			return err
		}
		if resp.StatusCode >= 500 {
			return ErrServerStatus
		}
		return nil
	})
	if err == ErrServerStatus {
		// Surface the response; the breaker counted the failure.
		return resp, nil
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// State exposes the underlying breaker state.
func (w *HTTPWrapper) State() State { return w.cb.State() }

// ErrServerStatus is an internal sentinel for 5xx responses.
var ErrServerStatus = errServerStatus{}

type errServerStatus struct{}

func (errServerStatus) Error() string { return "upstream returned server error" }

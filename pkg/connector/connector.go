// Package connector defines the provider abstraction: every supported
// backend is wrapped by a Connector that translates the canonical request
// into that provider's wire format and the provider's reply back into the
// canonical response.
//
// A Connector never returns a Go error from Chat. Transport failures,
// non-2xx statuses, and malformed payloads are all reported through
// Result{Success: false}; failover happens at the provider granularity
// above this layer, never inside a connector.
package connector

import (
	"context"
	"time"

	"github.com/modelgate/modelgate/pkg/api"
)

// DefaultTimeout bounds every outbound provider call unless a connector is
// configured otherwise. A timed-out call is reported as a transport failure.
const DefaultTimeout = 30 * time.Second

// Result is the uniform outcome contract every connector returns.
// Data is present iff Success; Error is present iff not Success.
// LatencyMS is wall-clock time measured by the connector around the
// outbound call, including response parsing.
type Result struct {
	Success    bool                        `json:"success"`
	Data       *api.ChatCompletionResponse `json:"data,omitempty"`
	Error      string                      `json:"error,omitempty"`
	LatencyMS  int64                       `json:"latency_ms"`
	TokensUsed int                         `json:"tokens_used"`
}

// Connector is the single capability each provider variant implements.
// Implementations must be safe for concurrent use and perform exactly one
// outbound call per Chat invocation.
type Connector interface {
	// Name returns the provider identifier (e.g., "openai", "gemini").
	Name() string

	// Chat translates and forwards the request, returning the normalized
	// outcome. It never panics and never returns a transport error directly.
	Chat(ctx context.Context, req *api.ChatCompletionRequest) Result
}

// Failure builds a failed Result from an error message and the elapsed
// wall time since the call started.
func Failure(message string, elapsed time.Duration) Result {
	return Result{
		Success:   false,
		Error:     message,
		LatencyMS: elapsed.Milliseconds(),
	}
}

// Completed builds a successful Result from a canonical response and the
// elapsed wall time. TokensUsed mirrors the response's usage total.
func Completed(resp *api.ChatCompletionResponse, elapsed time.Duration) Result {
	return Result{
		Success:    true,
		Data:       resp,
		LatencyMS:  elapsed.Milliseconds(),
		TokensUsed: resp.Usage.TotalTokens,
	}
}

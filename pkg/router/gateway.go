package router

import (
	"context"
	"log/slog"
	"time"

	"github.com/modelgate/modelgate/pkg/api"
	"github.com/modelgate/modelgate/pkg/auth"
	"github.com/modelgate/modelgate/pkg/connector"
	"github.com/modelgate/modelgate/pkg/observability"
	"github.com/modelgate/modelgate/pkg/usage"
)

// Gateway ties selection, dispatch, failover, and accounting into the
// single operation behind POST /v1/chat/completions.
type Gateway struct {
	registry *connector.Registry
	selector Selector
	failover *Failover
	recorder *usage.Recorder
}

// NewGateway assembles the request pipeline. recorder may be nil to disable
// accounting (used by some tests).
func NewGateway(registry *connector.Registry, selector Selector, failover *Failover, recorder *usage.Recorder) *Gateway {
	return &Gateway{
		registry: registry,
		selector: selector,
		failover: failover,
		recorder: recorder,
	}
}

// Complete serves one chat completion. It returns the provider that
// actually produced the result (which may differ from the selected one
// after failover) along with the normalized outcome.
//
// Invalid requests fail before any network call. Usage is attributed to
// the provider that served the request; a total failure is booked against
// the originally selected provider.
func (g *Gateway) Complete(ctx context.Context, user *auth.User, req *api.ChatCompletionRequest) (string, connector.Result) {
	if err := req.Validate(); err != nil {
		return "", connector.Result{Success: false, Error: err.Error()}
	}

	selected := g.selector.Select(req)

	if !g.registry.Has(selected) {
		// Unknown explicit provider. No dispatch, no failover, no billing.
		return selected, connector.Result{Success: false, Error: connector.ErrInvalidProvider}
	}

	start := time.Now()
	result := g.registry.Dispatch(ctx, selected, req)
	g.observe(selected, result)

	served := selected
	if !result.Success {
		slog.Warn("provider failed", "provider", selected, "error", result.Error)

		recoveredBy, failoverResult := g.failover.Run(ctx, selected, req)
		if recoveredBy != "" {
			g.observe(recoveredBy, failoverResult)
			observability.FailoversTotal.WithLabelValues(selected, recoveredBy).Inc()
			served, result = recoveredBy, failoverResult
		} else {
			observability.FailoversTotal.WithLabelValues(selected, "none").Inc()
			result = failoverResult
			result.LatencyMS = time.Since(start).Milliseconds()
		}
	}

	g.record(ctx, user, served, req, result)
	return served, result
}

func (g *Gateway) observe(provider string, result connector.Result) {
	prompt, completion := 0, 0
	if result.Data != nil {
		prompt = result.Data.Usage.PromptTokens
		completion = result.Data.Usage.CompletionTokens
	}
	observability.RecordProviderCall(provider, result.Success,
		float64(result.LatencyMS)/1000, prompt, completion)
}

func (g *Gateway) record(ctx context.Context, user *auth.User, provider string, req *api.ChatCompletionRequest, result connector.Result) {
	if g.recorder == nil {
		return
	}

	rec := usage.Record{
		Provider:  provider,
		Model:     req.Model,
		LatencyMS: result.LatencyMS,
		Success:   result.Success,
	}
	if user != nil {
		rec.UserID = user.ID
	}
	if result.Success && result.Data != nil {
		rec.Model = result.Data.Model
		rec.PromptTokens = result.Data.Usage.PromptTokens
		rec.CompletionTokens = result.Data.Usage.CompletionTokens
		rec.TotalTokens = result.Data.Usage.TotalTokens
	} else {
		rec.ErrorMessage = result.Error
	}

	g.recorder.Record(ctx, rec)
}

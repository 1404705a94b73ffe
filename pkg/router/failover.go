package router

import (
	"context"
	"log/slog"

	"github.com/modelgate/modelgate/pkg/api"
	"github.com/modelgate/modelgate/pkg/config"
	"github.com/modelgate/modelgate/pkg/connector"
	"github.com/modelgate/modelgate/pkg/debug"
)

// ErrAllProvidersFailed is the error text reported when the primary and
// every failover candidate failed.
const ErrAllProvidersFailed = "All providers failed"

// Failover walks the remaining healthy providers in priority order after a
// primary failure. Each request gets at most one failover pass; there is no
// retry or backoff within it.
type Failover struct {
	cfg      *config.Config
	registry *connector.Registry
	order    []string
}

// NewFailover builds a coordinator over the registry and provider table.
func NewFailover(cfg *config.Config, registry *connector.Registry) *Failover {
	return &Failover{cfg: cfg, registry: registry, order: priorityOrder(cfg)}
}

// Run tries every healthy provider except failed, in priority order, and
// returns the first success together with the provider that produced it.
// When no candidate succeeds it returns an empty provider name and a failed
// Result carrying ErrAllProvidersFailed.
func (f *Failover) Run(ctx context.Context, failed string, req *api.ChatCompletionRequest) (string, connector.Result) {
	for _, name := range f.order {
		if name == failed || !f.cfg.Healthy(name) || !f.registry.Has(name) {
			debug.Log("router", "skipping failover candidate",
				"provider", name, "healthy", f.cfg.Healthy(name), "registered", f.registry.Has(name))
			continue
		}

		slog.Info("failing over", "from", failed, "to", name)
		result := f.registry.Dispatch(ctx, name, req)
		if result.Success {
			return name, result
		}
		slog.Warn("failover candidate failed", "provider", name, "error", result.Error)
	}

	return "", connector.Result{Success: false, Error: ErrAllProvidersFailed}
}

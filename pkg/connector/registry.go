package connector

import (
	"context"

	"github.com/modelgate/modelgate/pkg/api"
)

// ErrInvalidProvider is the error text reported when a provider identifier
// is not in the registry. Reaching it means a caller bypassed the selector's
// validation; it is a contract violation, not a normal runtime condition.
const ErrInvalidProvider = "Invalid provider"

// Registry maps provider identifiers to their Connector instances. The set
// is fixed at construction time; there is no runtime plugin mechanism.
type Registry struct {
	connectors map[string]Connector
	names      []string
}

// NewRegistry creates a registry holding the given connectors, keyed by
// their Name(). Registration order is preserved for Names().
func NewRegistry(connectors ...Connector) *Registry {
	r := &Registry{connectors: make(map[string]Connector, len(connectors))}
	for _, c := range connectors {
		if _, dup := r.connectors[c.Name()]; dup {
			continue
		}
		r.connectors[c.Name()] = c
		r.names = append(r.names, c.Name())
	}
	return r
}

// Dispatch invokes the connector registered under provider and returns its
// Result unchanged. Unknown identifiers yield a failed Result rather than
// an error: routing failures stay inside the normalized contract.
func (r *Registry) Dispatch(ctx context.Context, provider string, req *api.ChatCompletionRequest) Result {
	c, ok := r.connectors[provider]
	if !ok {
		return Result{Success: false, Error: ErrInvalidProvider}
	}
	return c.Chat(ctx, req)
}

// Has reports whether provider is a member of the closed enumeration.
func (r *Registry) Has(provider string) bool {
	_, ok := r.connectors[provider]
	return ok
}

// Names returns the registered provider identifiers in registration order.
func (r *Registry) Names() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

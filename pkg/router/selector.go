// Package router decides which provider serves each request and coordinates
// failover when the chosen provider cannot.
package router

import (
	"sort"

	"github.com/modelgate/modelgate/pkg/api"
	"github.com/modelgate/modelgate/pkg/config"
)

// Selector chooses the provider for a request. It is a pure decision; the
// dispatch itself happens in the Gateway.
type Selector interface {
	Select(req *api.ChatCompletionRequest) string
}

// PrioritySelector picks the first healthy provider in configured priority
// order. An explicit provider in the request wins unconditionally, healthy
// or not; failover deals with the consequences.
type PrioritySelector struct {
	cfg   *config.Config
	order []string
}

// NewPrioritySelector builds a selector over the configured provider table.
func NewPrioritySelector(cfg *config.Config) *PrioritySelector {
	return &PrioritySelector{cfg: cfg, order: priorityOrder(cfg)}
}

// Select returns the provider that should serve req.
func (s *PrioritySelector) Select(req *api.ChatCompletionRequest) string {
	if req.Provider != "" {
		return req.Provider
	}
	for _, name := range s.order {
		if s.cfg.Healthy(name) {
			return name
		}
	}
	// Unreachable with a sane table: the fallback provider is always
	// healthy. Kept as a hard default for a table that removed it.
	return config.FallbackProvider
}

// priorityOrder returns the configured provider names sorted by ascending
// priority.
func priorityOrder(cfg *config.Config) []string {
	providers := make([]config.ProviderConfig, len(cfg.Providers))
	copy(providers, cfg.Providers)
	sort.Slice(providers, func(i, j int) bool {
		return providers[i].Priority < providers[j].Priority
	})

	order := make([]string, len(providers))
	for i, p := range providers {
		order[i] = p.Name
	}
	return order
}

// Package catalog builds the in-memory ModelDescriptor catalog the Model
// Router selects over. Descriptors are loaded once from configuration (and
// on explicit reload); only the Available flag is refreshed live, from the
// circuit-breaker registry and provider registry, matching the invariant
// that route() itself performs no I/O.
package catalog

import (
	gateway "github.com/campersurfer/autopicker/internal"
	"github.com/campersurfer/autopicker/internal/config"
)

// AvailabilityChecker reports whether a provider is currently usable. The
// circuit-breaker registry satisfies this by checking breaker state; nil
// checkers default to available.
type AvailabilityChecker interface {
	Available(providerID string) bool
}

// Catalog holds a static snapshot of ModelDescriptors plus an availability
// source consulted on each Snapshot call.
type Catalog struct {
	base         []gateway.ModelDescriptor
	availability AvailabilityChecker
}

// Build constructs a Catalog from the router config's catalog entries.
func Build(cfg config.RouterConfig, availability AvailabilityChecker) *Catalog {
	base := make([]gateway.ModelDescriptor, 0, len(cfg.Catalog))
	for _, e := range cfg.Catalog {
		caps := make([]gateway.Capability, 0, len(e.Capabilities))
		for _, c := range e.Capabilities {
			caps = append(caps, gateway.Capability(c))
		}
		base = append(base, gateway.ModelDescriptor{
			ProviderID:      e.ProviderID,
			ModelID:         e.ModelID,
			Capabilities:    caps,
			CostPer1kInput:  e.CostPer1kInput,
			CostPer1kOutput: e.CostPer1kOutput,
			ContextWindow:   e.ContextWindow,
			MaxOutputTokens: e.MaxOutputTokens,
			SpeedTier:       gateway.SpeedTier(e.SpeedTier),
			PricingTier:     gateway.PricingTier(e.PricingTier),
		})
	}
	return &Catalog{base: base, availability: availability}
}

// Snapshot returns the current catalog with Available flags refreshed from
// the availability source. The returned slice is a fresh copy safe for the
// caller to filter/sort without affecting other callers.
func (c *Catalog) Snapshot() []gateway.ModelDescriptor {
	out := make([]gateway.ModelDescriptor, len(c.base))
	copy(out, c.base)
	for i := range out {
		if c.availability == nil {
			out[i].Available = true
			continue
		}
		out[i].Available = c.availability.Available(out[i].ProviderID)
	}
	return out
}

// FastestWindow returns the smallest context window among "fast" tier
// models, used by the complexity scorer's long-context signal. Returns 0 if
// no fast-tier model is configured.
func (c *Catalog) FastestWindow() int {
	min := 0
	for _, m := range c.base {
		if m.SpeedTier != gateway.SpeedFast {
			continue
		}
		if min == 0 || (m.ContextWindow > 0 && m.ContextWindow < min) {
			min = m.ContextWindow
		}
	}
	return min
}

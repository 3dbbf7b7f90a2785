package app

import (
	gateway "github.com/campersurfer/autopicker/internal"
	"github.com/campersurfer/autopicker/internal/catalog"
	"github.com/campersurfer/autopicker/internal/complexity"
	"github.com/campersurfer/autopicker/internal/router"
)

// AutoRouter resolves a chat request to a SelectedRoute by scoring its
// complexity and running the Model Router over a live catalog snapshot,
// rather than a statically configured alias (see RouterService). It is
// consulted when the client requests model "auto" or leaves Model empty.
type AutoRouter struct {
	scorer  *complexity.Scorer
	catalog *catalog.Catalog
}

// NewAutoRouter builds an AutoRouter over the given catalog, using a scorer
// whose long-context threshold is derived from the catalog's fastest tier.
func NewAutoRouter(cat *catalog.Catalog) *AutoRouter {
	scorer := complexity.NewScorer()
	if w := cat.FastestWindow(); w > 0 {
		scorer.FastWindow = w
	}
	return &AutoRouter{scorer: scorer, catalog: cat}
}

// Resolve scores the request and extractions, then runs Select over a fresh
// catalog snapshot to produce a SelectedRoute.
func (ar *AutoRouter) Resolve(req gateway.ChatRequest, extractions []gateway.Extraction, prefs gateway.RouterPreferences) (gateway.SelectedRoute, error) {
	score := ar.scorer.Score(req, extractions)
	return router.Select(score, req, prefs, ar.catalog.Snapshot())
}

// IsAutoModel reports whether a requested model string should be resolved
// by the complexity-based router rather than a static alias lookup.
func IsAutoModel(model string) bool {
	return model == "" || model == string(gateway.TierAuto)
}

// selectedToTargets flattens a SelectedRoute into the same ResolvedTarget
// shape RouterService produces, so ProxyService's failover loop can treat
// both routing paths identically.
func selectedToTargets(sel gateway.SelectedRoute) []ResolvedTarget {
	targets := make([]ResolvedTarget, 0, 1+len(sel.Fallbacks))
	targets = append(targets, ResolvedTarget{ProviderID: sel.Model.ProviderID, Model: sel.Model.ModelID})
	for i, fb := range sel.Fallbacks {
		targets = append(targets, ResolvedTarget{ProviderID: fb.ProviderID, Model: fb.ModelID, Priority: i + 1})
	}
	return targets
}

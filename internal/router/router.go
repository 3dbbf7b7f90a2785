// Package router implements the deterministic Model Router (§4.2): it
// selects a (provider, model) pair honoring capability, cost, tier, and
// preference constraints over a catalog snapshot. Select performs no I/O;
// provider/model availability is tracked elsewhere (circuit breaker,
// provider registry) and supplied here only as the catalog's Available flag.
package router

import (
	"sort"

	gateway "github.com/campersurfer/autopicker/internal"
)

// Select runs the five-step selection procedure from §4.2 and returns a
// SelectedRoute. It is a pure function of (score, request, prefs, catalog):
// the same inputs always yield a structurally equal result.
func Select(score gateway.ComplexityScore, req gateway.ChatRequest, prefs gateway.RouterPreferences, catalog []gateway.ModelDescriptor) (gateway.SelectedRoute, error) {
	// Step 1: explicit model pin.
	if prefs.ExplicitModelID != "" && prefs.ExplicitModelID != "auto" {
		for _, m := range catalog {
			if m.ModelID == prefs.ExplicitModelID && satisfiesCapabilities(m, score.RequiredCapabilities) {
				return gateway.SelectedRoute{Model: m, RationaleTags: []string{"explicit-model"}}, nil
			}
		}
		// Falls through to normal selection per spec wording ("otherwise fall through").
	}

	// Step 2: capability + cost ceiling + availability filter.
	candidates := make([]gateway.ModelDescriptor, 0, len(catalog))
	for _, m := range catalog {
		if !m.Available {
			continue
		}
		if !satisfiesCapabilities(m, score.RequiredCapabilities) {
			continue
		}
		if prefs.MaxCostPer1kTokens > 0 && m.CostPer1kInput > prefs.MaxCostPer1kTokens {
			continue
		}
		if prefs.PricingTier != "" && prefs.PricingTier != gateway.TierAuto && m.PricingTier != prefs.PricingTier {
			continue
		}
		candidates = append(candidates, m)
	}

	if len(candidates) == 0 {
		if sentinel, ok := localFallback(catalog, score.RequiredCapabilities); ok {
			return gateway.SelectedRoute{Model: sentinel, RationaleTags: []string{"local-fallback"}}, nil
		}
		return gateway.SelectedRoute{}, gateway.ErrNoModelAvailable
	}

	// Step 4: tier filter, with one-step relaxation.
	minTier := tierForScore(score.Score)
	tierFiltered := filterByMinTier(candidates, minTier)
	tags := []string{}
	if len(tierFiltered) == 0 {
		relaxed := relaxTier(minTier)
		tierFiltered = filterByMinTier(candidates, relaxed)
		if len(tierFiltered) > 0 {
			tags = append(tags, "tier-relaxed")
		}
	}
	if len(tierFiltered) == 0 {
		// Still nothing at any tier: fall back to the full capability-filtered set.
		tierFiltered = candidates
		tags = append(tags, "tier-relaxed")
	}

	// Step 3: sort key (-capability-excess, bias-adjusted-cost, -speed-preference-match, model-id).
	requestedSpeed := preferredSpeedTier(prefs)
	sort.SliceStable(tierFiltered, func(i, j int) bool {
		a, b := tierFiltered[i], tierFiltered[j]
		ea, eb := capabilityExcess(a, score.RequiredCapabilities), capabilityExcess(b, score.RequiredCapabilities)
		if ea != eb {
			return ea < eb // fewer non-required capabilities (specialist) first
		}
		ca, cb := biasAdjustedCost(a, prefs), biasAdjustedCost(b, prefs)
		if ca != cb {
			return ca < cb
		}
		sa, sb := speedMatch(a, requestedSpeed), speedMatch(b, requestedSpeed)
		if sa != sb {
			return sa > sb // negative match sorts first => match(1) before no-match(0)
		}
		return a.ModelID < b.ModelID
	})

	selected := tierFiltered[0]
	fallbacks := tierFiltered[1:]
	if len(fallbacks) > 3 {
		fallbacks = fallbacks[:3]
	}

	return gateway.SelectedRoute{
		Model:         selected,
		Fallbacks:     fallbacks,
		RationaleTags: tags,
	}, nil
}

func satisfiesCapabilities(m gateway.ModelDescriptor, required []gateway.Capability) bool {
	for _, c := range required {
		if !m.HasCapability(c) {
			return false
		}
	}
	return true
}

func capabilityExcess(m gateway.ModelDescriptor, required []gateway.Capability) int {
	req := make(map[gateway.Capability]bool, len(required))
	for _, c := range required {
		req[c] = true
	}
	excess := 0
	for _, c := range m.Capabilities {
		if !req[c] {
			excess++
		}
	}
	return excess
}

func biasAdjustedCost(m gateway.ModelDescriptor, prefs gateway.RouterPreferences) float64 {
	if prefs.PreferCheap {
		return m.CostPer1kInput * 0.5
	}
	return m.CostPer1kInput
}

func preferredSpeedTier(prefs gateway.RouterPreferences) gateway.SpeedTier {
	if prefs.PreferFast {
		return gateway.SpeedFast
	}
	return ""
}

func speedMatch(m gateway.ModelDescriptor, requested gateway.SpeedTier) int {
	if requested == "" {
		return 0
	}
	if m.SpeedTier == requested {
		return 1
	}
	return 0
}

var tierOrder = map[gateway.SpeedTier]int{
	gateway.SpeedFast:     0,
	gateway.SpeedBalanced: 1,
	gateway.SpeedPowerful: 2,
}

// tierForScore maps a ComplexityScore to the minimum required speed tier:
// [0..30] -> fast allowed, (30..70] -> balanced minimum, (70..100] -> powerful minimum.
func tierForScore(score int) gateway.SpeedTier {
	switch {
	case score <= 30:
		return gateway.SpeedFast
	case score <= 70:
		return gateway.SpeedBalanced
	default:
		return gateway.SpeedPowerful
	}
}

func relaxTier(tier gateway.SpeedTier) gateway.SpeedTier {
	switch tier {
	case gateway.SpeedPowerful:
		return gateway.SpeedBalanced
	case gateway.SpeedBalanced:
		return gateway.SpeedFast
	default:
		return gateway.SpeedFast
	}
}

func filterByMinTier(candidates []gateway.ModelDescriptor, minTier gateway.SpeedTier) []gateway.ModelDescriptor {
	min := tierOrder[minTier]
	out := make([]gateway.ModelDescriptor, 0, len(candidates))
	for _, m := range candidates {
		if tierOrder[m.SpeedTier] >= min {
			out = append(out, m)
		}
	}
	return out
}

// localFallback returns the sentinel local-hosted model, if the catalog
// declares an available one (pricing tier "local") that has every required
// capability, for use when no candidate otherwise satisfies the request.
func localFallback(catalog []gateway.ModelDescriptor, required []gateway.Capability) (gateway.ModelDescriptor, bool) {
	for _, m := range catalog {
		if m.PricingTier == gateway.TierLocal && m.Available && satisfiesCapabilities(m, required) {
			return m, true
		}
	}
	return gateway.ModelDescriptor{}, false
}

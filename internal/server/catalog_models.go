package server

import (
	"encoding/json"
	"net/http"
	"time"
)

// catalogCacheKey is the single cache slot for the rarely-changing model
// catalog snapshot; unlike chat response caching there is no per-identity
// variation, so one fixed key suffices.
const catalogCacheKey = "catalog:models:v1"

// catalogCacheTTL matches the refresh cadence of the underlying
// circuit-breaker-backed Available flags (§6): stale availability for up to
// 30s is an acceptable tradeoff against hitting the breaker registry on
// every model-listing call.
const catalogCacheTTL = 30 * time.Second

// handleCatalogModels returns the live model catalog (§4.2, §6), including
// each model's current availability as seen by the circuit breaker.
func (s *server) handleCatalogModels(w http.ResponseWriter, r *http.Request) {
	if s.deps.Catalog == nil {
		writeJSON(w, http.StatusOK, []any{})
		return
	}

	if s.deps.Cache != nil {
		if data, ok := s.deps.Cache.Get(r.Context(), catalogCacheKey); ok {
			w.Header()["Content-Type"] = jsonCT
			w.WriteHeader(http.StatusOK)
			w.Write(data)
			return
		}
	}

	snapshot := s.deps.Catalog.Snapshot()
	data, err := json.Marshal(snapshot)
	if err != nil {
		writeUpstreamError(w, r.Context(), err)
		return
	}
	if s.deps.Cache != nil {
		s.deps.Cache.Set(r.Context(), catalogCacheKey, data, catalogCacheTTL)
	}
	w.Header()["Content-Type"] = jsonCT
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

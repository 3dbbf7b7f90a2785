package server

import (
	"net/http"

	"github.com/campersurfer/autopicker/internal/telemetry"
)

// handleMonitoringHealth reports host resource usage and per-provider
// circuit-breaker reachability (§4.4.4). Absent a configured HealthCollector
// the endpoint still reports provider availability with zeroed host metrics.
func (s *server) handleMonitoringHealth(w http.ResponseWriter, r *http.Request) {
	var providers map[string]bool
	if s.deps.Proxy != nil {
		providers = s.deps.Proxy.ProviderAvailability()
	}

	if s.deps.Health == nil {
		writeJSON(w, http.StatusOK, telemetry.HealthSnapshot{Providers: providers})
		return
	}
	snapshot := s.deps.Health.Snapshot(r.Context(), providers)
	writeJSON(w, http.StatusOK, snapshot)
}

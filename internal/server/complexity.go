package server

import (
	"net/http"

	gateway "github.com/campersurfer/autopicker/internal"
	"github.com/campersurfer/autopicker/internal/router"
)

// analyzeComplexityRequest mirrors ChatRequest for scoring purposes plus the
// routing preferences the caller wants previewed.
type analyzeComplexityRequest struct {
	gateway.ChatRequest
	Preferences gateway.RouterPreferences `json:"preferences,omitempty"`
}

// analyzeComplexityResponse returns the deterministic score and the route
// that would be selected for it, with no upstream call made.
type analyzeComplexityResponse struct {
	Complexity gateway.ComplexityScore `json:"complexity"`
	Route      gateway.SelectedRoute   `json:"route,omitempty"`
}

// handleAnalyzeComplexity scores a would-be chat request and previews the
// route the Model Router would select, without dispatching it (§4.2).
func (s *server) handleAnalyzeComplexity(w http.ResponseWriter, r *http.Request) {
	var req analyzeComplexityRequest
	if !decodeRequestBody(w, r, &req) {
		return
	}
	if s.deps.Complexity == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse("complexity scoring not configured"))
		return
	}

	score := s.deps.Complexity.Score(req.ChatRequest, nil)
	resp := analyzeComplexityResponse{Complexity: score}

	if s.deps.Catalog != nil {
		if route, err := router.Select(score, req.ChatRequest, req.Preferences, s.deps.Catalog.Snapshot()); err == nil {
			resp.Route = route
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	gateway "github.com/campersurfer/autopicker/internal"
)

// handleMultimodalChat resolves a request's referenced file_ids to their
// Extractions, weaves them into a system message ahead of the caller's own
// messages, and dispatches through the same failover path as
// /v1/chat/completions -- routed via AutoRouter.Resolve with the real
// extractions so capability requirements (vision, long-context, ...) are
// scored from actual content rather than guessed from file_ids alone (§4.1,
// §4.2).
func (s *server) handleMultimodalChat(w http.ResponseWriter, r *http.Request) {
	var req gateway.ChatRequest
	if !decodeRequestBody(w, r, &req) {
		return
	}

	identity := gateway.IdentityFromContext(r.Context())
	if identity != nil && !identity.IsModelAllowed(req.Model) {
		writeJSON(w, http.StatusForbidden, errorResponse("model not allowed"))
		return
	}

	extractions, err := s.resolveFileExtractions(r, req.FileIDs)
	if err != nil {
		writeUpstreamError(w, r.Context(), err)
		return
	}
	if len(extractions) > 0 {
		req.Messages = append([]gateway.Message{extractionSystemMessage(extractions)}, req.Messages...)
	}

	estimated := int64(100)
	if s.deps.TokenCounter != nil {
		estimated = int64(s.deps.TokenCounter.EstimateRequest(req.Model, req.Messages))
	}
	if !s.consumeTPM(w, identity, estimated) {
		return
	}

	start := time.Now()
	resp, err := s.deps.Proxy.ChatCompletionWithExtractions(r.Context(), &req, extractions)
	elapsed := time.Since(start)
	if err != nil {
		writeUpstreamError(w, r.Context(), err)
		return
	}
	s.adjustTPM(identity, estimated, resp.Usage)
	s.recordUsage(r, identity, req.Model, resp.Usage, elapsed, false)
	writeJSON(w, http.StatusOK, resp)
}

// resolveFileExtractions reads each referenced FileRecord (enforcing owner
// scoping) and dispatches extraction, skipping files the caller doesn't own
// rather than failing the whole request.
func (s *server) resolveFileExtractions(r *http.Request, fileIDs []string) ([]gateway.Extraction, error) {
	if len(fileIDs) == 0 || s.deps.Blobs == nil {
		return nil, nil
	}
	owner := uploadOwnerIdentity(r)
	extractions := make([]gateway.Extraction, 0, len(fileIDs))
	for _, id := range fileIDs {
		rec, err := s.deps.Blobs.ReadMeta(id)
		if err != nil {
			return nil, fmt.Errorf("file %s: %w", id, err)
		}
		if rec.OwnerIdentity != owner {
			return nil, fmt.Errorf("file %s: %w", id, gateway.ErrFileNotFound)
		}
		if s.deps.Extractors == nil {
			continue
		}
		extraction, err := s.deps.Extractors.Dispatch(r.Context(), rec)
		if err != nil {
			continue // unsupported/failed extraction degrades gracefully, doesn't block the chat
		}
		extractions = append(extractions, extraction)
	}
	return extractions, nil
}

// extractionSystemMessage renders the dispatched Extractions as one system
// message the upstream model sees ahead of the caller's own prompt.
func extractionSystemMessage(extractions []gateway.Extraction) gateway.Message {
	var sb strings.Builder
	sb.WriteString("The user has attached the following files:\n\n")
	for _, ex := range extractions {
		fmt.Fprintf(&sb, "--- file %s (%s) ---\n%s\n\n", ex.FileID, ex.Kind, ex.Text)
	}
	content, _ := json.Marshal(sb.String())
	return gateway.Message{Role: "system", Content: content}
}

package server

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	gateway "github.com/campersurfer/autopicker/internal"
)

// handleListFiles lists the caller's own FileRecords (§4.1), scoped by the
// same owner identity upload assigns them under.
func (s *server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	owner := uploadOwnerIdentity(r)
	recs, err := s.deps.Blobs.ListByOwner(owner)
	if err != nil {
		writeUpstreamError(w, r.Context(), err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

// handleGetFile returns one FileRecord's metadata, 404 if the id is unknown
// or owned by a different caller.
func (s *server) handleGetFile(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	rec, err := s.deps.Blobs.ReadMeta(id)
	if err != nil {
		writeUpstreamError(w, r.Context(), err)
		return
	}
	if rec.OwnerIdentity != uploadOwnerIdentity(r) {
		writeUpstreamError(w, r.Context(), gateway.ErrFileNotFound)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleExtractFile runs extraction for a file on every call; concurrent
// calls for the same file are coalesced by the Dispatcher's singleflight.
func (s *server) handleExtractFile(w http.ResponseWriter, r *http.Request) {
	if s.deps.Extractors == nil {
		writeUpstreamError(w, r.Context(), gateway.ErrUnsupportedType)
		return
	}
	id := chi.URLParam(r, "id")
	rec, err := s.deps.Blobs.ReadMeta(id)
	if err != nil {
		writeUpstreamError(w, r.Context(), err)
		return
	}
	if rec.OwnerIdentity != uploadOwnerIdentity(r) {
		writeUpstreamError(w, r.Context(), gateway.ErrFileNotFound)
		return
	}

	extraction, err := s.deps.Extractors.Dispatch(r.Context(), rec)
	if err != nil {
		if errors.Is(err, gateway.ErrUnsupportedType) {
			rec.ExtractionStatus = gateway.ExtractionUnsupported
		} else {
			rec.ExtractionStatus = gateway.ExtractionFailed
		}
		s.deps.Blobs.WriteMeta(rec)
		writeUpstreamError(w, r.Context(), err)
		return
	}

	rec.ExtractionStatus = gateway.ExtractionReady
	if err := s.deps.Blobs.WriteMeta(rec); err != nil {
		writeUpstreamError(w, r.Context(), err)
		return
	}

	writeJSON(w, http.StatusOK, extraction)
}

package server

import (
	"bytes"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	gateway "github.com/campersurfer/autopicker/internal"
	"github.com/campersurfer/autopicker/internal/security"
)

// defaultMaxUploadBytes is the upload size ceiling (§4.1) applied when
// Deps.MaxUploadBytes is unset.
const defaultMaxUploadBytes = 10 << 20

// defaultRetentionWindow is the extraction/file retention window (§4.1)
// applied when Deps.RetentionWindow is unset.
const defaultRetentionWindow = 24 * time.Hour

// sniffWindow is the number of leading bytes read before streaming the rest
// of the upload to the blob store, enough for every magic number in
// security.SniffMIME plus net/http.DetectContentType's own 512-byte window.
const sniffWindow = 512

// handleUpload accepts a multipart/form-data upload under the "file" field,
// sanitizes and sniffs it, writes it to the blob store, and persists a
// FileRecord sidecar (§4.1, §6). It does not require authentication; the
// routeRuleLimit middleware bounds unauthenticated traffic by client IP.
func (s *server) handleUpload(w http.ResponseWriter, r *http.Request) {
	maxBytes := s.deps.MaxUploadBytes
	if maxBytes == 0 {
		maxBytes = defaultMaxUploadBytes
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+(1<<20))
	if err := r.ParseMultipartForm(maxBytes); err != nil {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse("upload exceeds size limit"))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse("missing \"file\" field"))
		return
	}
	defer file.Close()

	sanitized := security.SanitizeFilename(header.Filename)
	declaredMIME := header.Header.Get("Content-Type")

	head := make([]byte, sniffWindow)
	n, _ := io.ReadFull(file, head)
	head = head[:n]
	detectedMIME := security.SniffMIME(head, declaredMIME)

	if len(s.deps.AllowedMIMETypes) > 0 && !security.Allowed(detectedMIME, s.deps.AllowedMIMETypes) {
		writeJSON(w, http.StatusUnsupportedMediaType, errorResponse("unsupported file type"))
		return
	}
	if strings.HasPrefix(detectedMIME, "text/") && !security.ValidateUTF8(string(head)) {
		writeJSON(w, http.StatusBadRequest, errorResponse("file is not valid UTF-8"))
		return
	}

	id := uuid.Must(uuid.NewV7()).String()
	ext := strings.TrimPrefix(filepath.Ext(sanitized), ".")

	size, sum, err := s.deps.Blobs.Write(id, ext, io.MultiReader(bytes.NewReader(head), file), maxBytes)
	if err != nil {
		writeUpstreamError(w, r.Context(), err)
		return
	}

	retention := s.deps.RetentionWindow
	if retention == 0 {
		retention = defaultRetentionWindow
	}
	now := time.Now()

	rec := &gateway.FileRecord{
		ID:                 id,
		OriginalName:       header.Filename,
		SanitizedName:      sanitized,
		DeclaredMIME:       declaredMIME,
		DetectedMIME:       detectedMIME,
		SizeBytes:          size,
		SHA256:             sum,
		UploadedAt:         now,
		RetentionExpiresAt: now.Add(retention),
		ExtractionStatus:   gateway.ExtractionPending,
		OwnerIdentity:      uploadOwnerIdentity(r),
	}
	if s.deps.Extractors == nil {
		rec.ExtractionStatus = gateway.ExtractionUnsupported
	}
	if err := s.deps.Blobs.WriteMeta(rec); err != nil {
		writeUpstreamError(w, r.Context(), err)
		return
	}

	writeJSON(w, http.StatusCreated, rec)
}

// uploadOwnerIdentity scopes an upload to the authenticated caller's org (or
// key, absent an org), falling back to client IP for the unauthenticated
// upload route so later listing can still be scoped per-caller.
func uploadOwnerIdentity(r *http.Request) string {
	if identity := gateway.IdentityFromContext(r.Context()); identity != nil {
		if identity.OrgID != "" {
			return identity.OrgID
		}
		if identity.KeyID != "" {
			return identity.KeyID
		}
	}
	return "ip:" + clientIP(r)
}

// clientIP extracts the caller's address for IP-scoped identity, preferring
// a forwarded header (trusted only behind the deployment's own proxy) over
// the raw connection address.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	host := r.RemoteAddr
	if i := strings.LastIndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}
	return host
}

// Package security implements upload-path input validation (§4.1, §6):
// filename sanitization, UTF-8 validation, and MIME sniffing beyond the
// client's declared Content-Type.
//
// Grounded on the retrieved Pepperjack upload handler's stdlib-only
// sanitization and internal/server/middleware.go's securityHeaders pattern.
package security

import (
	"net/http"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// SanitizeFilename strips directory components and dangerous characters
// from a client-supplied filename, returning a name safe to use as a
// storage-path component. It never returns a name containing "..", a
// leading "/", or a leading ".".
func SanitizeFilename(name string) string {
	name = filepath.Base(filepath.Clean(name))
	if name == "." || name == ".." || name == string(filepath.Separator) {
		return "upload"
	}
	var sb strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			sb.WriteRune(r)
		default:
			sb.WriteByte('_')
		}
	}
	out := strings.TrimLeft(sb.String(), "._")
	if out == "" {
		return "upload"
	}
	return out
}

// ValidateUTF8 reports whether s is well-formed UTF-8. Extractors reject
// input that fails this check rather than silently replacing invalid
// sequences, so ingestion failures are visible to the caller.
func ValidateUTF8(s string) bool {
	return utf8.ValidString(s)
}

// magicNumbers supplements net/http.DetectContentType for formats it
// under-detects or that the ingestion MIME allow-list needs distinguished
// (DetectContentType alone maps most audio formats to
// application/octet-stream).
var magicNumbers = []struct {
	mime   string
	prefix []byte
}{
	{"audio/mpeg", []byte{0xFF, 0xFB}},
	{"audio/mpeg", []byte("ID3")},
	{"audio/wav", []byte("RIFF")},
	{"application/pdf", []byte("%PDF")},
	{"image/png", []byte{0x89, 'P', 'N', 'G'}},
	{"image/jpeg", []byte{0xFF, 0xD8, 0xFF}},
}

// SniffMIME detects a file's actual content type from its leading bytes,
// falling back to net/http.DetectContentType when no magic-number entry
// matches. declaredMIME is used only as the final fallback when sniffing is
// inconclusive (e.g. for plain text, which has no magic number).
func SniffMIME(data []byte, declaredMIME string) string {
	for _, m := range magicNumbers {
		if len(data) >= len(m.prefix) && string(data[:len(m.prefix)]) == string(m.prefix) {
			return m.mime
		}
	}
	detected := http.DetectContentType(data)
	inconclusive := detected == "application/octet-stream" || strings.HasPrefix(detected, "text/plain")
	if inconclusive && declaredMIME != "" {
		return declaredMIME
	}
	return detected
}

// Allowed reports whether mime is present in the configured allow-list.
func Allowed(mime string, allowList []string) bool {
	for _, a := range allowList {
		if a == mime {
			return true
		}
	}
	return false
}

// Package extract implements the Extractor Registry (§4.1): MIME-keyed
// content extractors, a bounded worker pool, and a singleflight-coalesced
// Dispatcher that turns a FileRecord's bytes into a gateway.Extraction.
//
// Grounded on the provider registry pattern (internal/provider.Registry)
// generalized from provider-name keys to MIME-type keys.
package extract

import (
	"context"
	"fmt"
	"sync"

	gateway "github.com/campersurfer/autopicker/internal"
)

// Extractor turns the bytes behind a FileRecord into a gateway.Extraction.
// Implementations must be safe for concurrent use.
type Extractor interface {
	// Kind reports the ExtractionKind this extractor produces.
	Kind() gateway.ExtractionKind
	// Extract consumes data (the file's full bytes, read by the caller) and
	// produces an Extraction. textCap bounds the returned Text length; exceeding it sets
	// Extraction.Truncated.
	Extract(ctx context.Context, rec *gateway.FileRecord, data []byte, textCap int) (gateway.Extraction, error)
}

// Registry maps MIME types to Extractors. Safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	extractors map[string]Extractor
}

// NewRegistry returns an empty, ready-to-use Registry.
func NewRegistry() *Registry {
	return &Registry{extractors: make(map[string]Extractor)}
}

// Register adds an extractor for the given MIME type, overwriting any
// previous registration.
func (r *Registry) Register(mime string, e Extractor) {
	r.mu.Lock()
	r.extractors[mime] = e
	r.mu.Unlock()
}

// Get returns the extractor registered for mime, or gateway.ErrUnsupportedType.
func (r *Registry) Get(mime string) (Extractor, error) {
	r.mu.RLock()
	e, ok := r.extractors[mime]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", gateway.ErrUnsupportedType, mime)
	}
	return e, nil
}

// MIMETypes returns the set of MIME types with a registered extractor.
func (r *Registry) MIMETypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.extractors))
	for mime := range r.extractors {
		out = append(out, mime)
	}
	return out
}

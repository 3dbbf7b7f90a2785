package extract

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	gateway "github.com/campersurfer/autopicker/internal"
	"github.com/campersurfer/autopicker/internal/blobstore"
	"golang.org/x/sync/singleflight"
)

// Dispatcher coordinates extraction: it looks up the right Extractor for a
// FileRecord's MIME type, runs it on the bounded Pool, and coalesces
// concurrent requests for the same (file-ID, extractor) pair via
// singleflight so a burst of identical requests triggers one extraction.
type Dispatcher struct {
	registry *Registry
	pool     *Pool
	blobs    *blobstore.Store
	group    singleflight.Group
	textCap  int
}

// NewDispatcher wires a Registry, Pool, and blob Store together.
func NewDispatcher(registry *Registry, pool *Pool, blobs *blobstore.Store, textCap int) *Dispatcher {
	return &Dispatcher{registry: registry, pool: pool, blobs: blobs, textCap: textCap}
}

// Dispatch runs extraction for rec synchronously on the caller's goroutine
// but via the bounded Pool, coalescing duplicate in-flight requests for the
// same file ID. The returned Extraction reflects the FileRecord's detected
// MIME type at call time.
func (d *Dispatcher) Dispatch(ctx context.Context, rec *gateway.FileRecord) (gateway.Extraction, error) {
	extractor, err := d.registry.Get(rec.DetectedMIME)
	if err != nil {
		return gateway.Extraction{}, err
	}

	key := rec.ID + ":" + string(extractor.Kind())
	v, err, _ := d.group.Do(key, func() (any, error) {
		return d.runOnPool(ctx, rec, extractor)
	})
	if err != nil {
		return gateway.Extraction{}, err
	}
	return v.(gateway.Extraction), nil
}

func (d *Dispatcher) runOnPool(ctx context.Context, rec *gateway.FileRecord, extractor Extractor) (gateway.Extraction, error) {
	type result struct {
		ex  gateway.Extraction
		err error
	}
	done := make(chan result, 1)

	submitErr := d.pool.Submit(func(workCtx context.Context) {
		start := time.Now()
		r, err := d.blobs.Open(rec.ID, extOf(rec.SanitizedName))
		if err != nil {
			done <- result{err: fmt.Errorf("extract: open blob: %w", err)}
			return
		}
		defer r.Close()

		data, err := io.ReadAll(r)
		if err != nil {
			done <- result{err: fmt.Errorf("extract: read blob: %w", err)}
			return
		}

		ex, err := extractor.Extract(workCtx, rec, data, d.textCap)
		ex.ElapsedMs = time.Since(start).Milliseconds()
		if ex.Metadata == nil {
			ex.Metadata = map[string]any{}
		}
		ex.Metadata["source_size_bytes"] = rec.SizeBytes
		if err != nil {
			slog.Warn("extraction failed", "file_id", rec.ID, "kind", extractor.Kind(), "err", err)
		}
		done <- result{ex: ex, err: err}
	})
	if submitErr != nil {
		return gateway.Extraction{}, submitErr
	}

	select {
	case <-ctx.Done():
		return gateway.Extraction{}, ctx.Err()
	case r := <-done:
		return r.ex, r.err
	}
}

func extOf(name string) string {
	for i := len(name) - 1; i >= 0 && i > len(name)-8; i-- {
		if name[i] == '.' {
			return name[i+1:]
		}
	}
	return ""
}


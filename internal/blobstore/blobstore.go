// Package blobstore implements the content-addressed local Blob Store
// (§4.1, §6): uploaded bytes are written to a temporary file, hashed while
// streaming, and renamed atomically into their final sharded location so
// readers never observe a partial file. It exclusively owns FileRecord
// bytes; Extractions are owned by the cache and outlive FileRecord deletion.
//
// Grounded on the retrieved Pepperjack upload handler's TeeReader-hashing
// and path-traversal-guard pattern, generalized to this domain's sharded
// layout (blob-store-root/<2-char shard>/<file-id>.<ext>).
package blobstore

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	gateway "github.com/campersurfer/autopicker/internal"
)

// Store is a local, sharded, content-addressed directory of uploaded bytes
// plus JSON metadata sidecars.
type Store struct {
	root string
}

// New creates a Store rooted at dir, creating it if necessary.
func New(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("blobstore: create root: %w", err)
	}
	return &Store{root: dir}, nil
}

// Write consumes r into a temporary file, enforcing maxBytes, then renames
// it atomically into its final sharded location keyed by id. It returns the
// byte count and hex SHA-256 of the content actually written. If r exceeds
// maxBytes, the temp file is removed and gateway.ErrPayloadTooLarge is
// returned with no residue left on disk.
func (s *Store) Write(id string, ext string, r io.Reader, maxBytes int64) (size int64, sha256hex string, err error) {
	shard := shardFor(id)
	dir := filepath.Join(s.root, shard)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, "", fmt.Errorf("blobstore: create shard dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return 0, "", fmt.Errorf("blobstore: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpPath)
	}

	hasher := sha256.New()
	tee := io.TeeReader(io.LimitReader(r, maxBytes+1), hasher)
	n, copyErr := io.Copy(tmp, tee)
	if copyErr != nil {
		cleanup()
		return 0, "", fmt.Errorf("blobstore: write temp file: %w", copyErr)
	}
	if n > maxBytes {
		cleanup()
		return 0, "", gateway.ErrPayloadTooLarge
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return 0, "", fmt.Errorf("blobstore: close temp file: %w", err)
	}

	finalPath := s.path(id, ext)
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return 0, "", fmt.Errorf("blobstore: rename into place: %w", err)
	}

	return n, hex.EncodeToString(hasher.Sum(nil)), nil
}

// Open returns a reader for the blob identified by (id, ext). Callers must
// Close it.
func (s *Store) Open(id, ext string) (io.ReadCloser, error) {
	f, err := os.Open(s.path(id, ext))
	if os.IsNotExist(err) {
		return nil, gateway.ErrFileNotFound
	}
	return f, err
}

// WriteMeta persists a FileRecord's metadata sidecar as JSON.
func (s *Store) WriteMeta(rec *gateway.FileRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("blobstore: marshal meta: %w", err)
	}
	metaPath := s.metaPath(rec.ID)
	tmpPath := metaPath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("blobstore: write meta: %w", err)
	}
	return os.Rename(tmpPath, metaPath)
}

// ReadMeta loads a FileRecord's metadata sidecar.
func (s *Store) ReadMeta(id string) (*gateway.FileRecord, error) {
	data, err := os.ReadFile(s.metaPath(id))
	if os.IsNotExist(err) {
		return nil, gateway.ErrFileNotFound
	}
	if err != nil {
		return nil, err
	}
	var rec gateway.FileRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("blobstore: unmarshal meta: %w", err)
	}
	return &rec, nil
}

// ListByOwner walks every shard's metadata sidecars and returns the
// FileRecords owned by the given identity, newest first. The store has no
// separate index: at the scale a single-node deployment serves, a directory
// walk over small JSON sidecars is simpler than maintaining one.
func (s *Store) ListByOwner(owner string) ([]*gateway.FileRecord, error) {
	var out []*gateway.FileRecord
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".meta.json") {
			return nil
		}
		data, readErr := os.ReadFile(path)
		if readErr != nil {
			return nil // skip unreadable sidecars rather than failing the whole listing
		}
		var rec gateway.FileRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil
		}
		if rec.OwnerIdentity == owner {
			out = append(out, &rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("blobstore: list by owner: %w", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UploadedAt.After(out[j].UploadedAt) })
	return out, nil
}

// Delete removes a blob and its metadata sidecar. Per the Ownership
// invariant, this does NOT evict any Extraction keyed on the file's content
// hash — those are owned and retained by the Cache.
func (s *Store) Delete(id, ext string) error {
	metaErr := os.Remove(s.metaPath(id))
	blobErr := os.Remove(s.path(id, ext))
	if blobErr != nil && !os.IsNotExist(blobErr) {
		return blobErr
	}
	if metaErr != nil && !os.IsNotExist(metaErr) {
		return metaErr
	}
	return nil
}

func (s *Store) path(id, ext string) string {
	name := id
	if ext != "" {
		name += "." + strings.TrimPrefix(ext, ".")
	}
	return filepath.Join(s.root, shardFor(id), name)
}

func (s *Store) metaPath(id string) string {
	return filepath.Join(s.root, shardFor(id), id+".meta.json")
}

// shardFor derives the 2-character shard directory from the ID's first two
// characters, falling back to "00" for IDs shorter than 2 chars.
func shardFor(id string) string {
	if len(id) < 2 {
		return "00"
	}
	return id[:2]
}

// RetentionExpiry computes the retention-expiry timestamp for a newly
// uploaded file given the configured retention window.
func RetentionExpiry(now time.Time, retention time.Duration) time.Time {
	return now.Add(retention)
}

package blobstore

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"testing"
	"time"

	gateway "github.com/campersurfer/autopicker/internal"
)

func TestWrite_RoundTrip(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	content := []byte("hello, blob store")
	n, sum, err := s.Write("file-abc123", "txt", bytes.NewReader(content), 1<<20)
	if err != nil {
		t.Fatalf("Write: %v", err)
	}
	if n != int64(len(content)) {
		t.Fatalf("n = %d, want %d", n, len(content))
	}
	want := sha256.Sum256(content)
	if sum != hex.EncodeToString(want[:]) {
		t.Fatalf("sha256 = %s, want %s", sum, hex.EncodeToString(want[:]))
	}

	r, err := s.Open("file-abc123", "txt")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer r.Close()
	var buf bytes.Buffer
	buf.ReadFrom(r)
	if buf.String() != string(content) {
		t.Fatalf("content = %q, want %q", buf.String(), content)
	}
}

func TestWrite_RejectsOversizedPayload(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	content := strings.Repeat("x", 100)
	_, _, err = s.Write("file-big", "bin", strings.NewReader(content), 10)
	if !errors.Is(err, gateway.ErrPayloadTooLarge) {
		t.Fatalf("err = %v, want ErrPayloadTooLarge", err)
	}
	if _, err := s.Open("file-big", "bin"); !errors.Is(err, gateway.ErrFileNotFound) {
		t.Fatalf("oversized write left a residual file: %v", err)
	}
}

func TestOpen_MissingFile(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := s.Open("nope", "txt"); !errors.Is(err, gateway.ErrFileNotFound) {
		t.Fatalf("err = %v, want ErrFileNotFound", err)
	}
}

func TestMeta_RoundTrip(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	rec := &gateway.FileRecord{
		ID:                 "file-meta1",
		OriginalName:       "report.csv",
		SanitizedName:      "report.csv",
		DeclaredMIME:       "text/csv",
		DetectedMIME:       "text/csv",
		SizeBytes:          42,
		SHA256:             "deadbeef",
		UploadedAt:         time.Unix(1000, 0).UTC(),
		RetentionExpiresAt: time.Unix(2000, 0).UTC(),
		StoragePath:        "me/file-meta1.csv",
		ExtractionStatus:   gateway.ExtractionPending,
		OwnerIdentity:      "org-1",
	}
	if err := s.WriteMeta(rec); err != nil {
		t.Fatalf("WriteMeta: %v", err)
	}
	got, err := s.ReadMeta("file-meta1")
	if err != nil {
		t.Fatalf("ReadMeta: %v", err)
	}
	if got.OriginalName != rec.OriginalName || got.SHA256 != rec.SHA256 {
		t.Fatalf("ReadMeta mismatch: %+v", got)
	}
}

func TestDelete_RemovesBlobAndMeta(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, _, err := s.Write("file-del1", "txt", strings.NewReader("bye"), 1<<20); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := s.WriteMeta(&gateway.FileRecord{ID: "file-del1"}); err != nil {
		t.Fatalf("WriteMeta: %v", err)
	}
	if err := s.Delete("file-del1", "txt"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Open("file-del1", "txt"); !errors.Is(err, gateway.ErrFileNotFound) {
		t.Fatalf("blob survived delete: %v", err)
	}
	if _, err := s.ReadMeta("file-del1"); !errors.Is(err, gateway.ErrFileNotFound) {
		t.Fatalf("meta survived delete: %v", err)
	}
}

func TestListByOwner_FiltersAndOrdersByUploadTime(t *testing.T) {
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	recs := []*gateway.FileRecord{
		{ID: "file-o1a", OwnerIdentity: "org-1", UploadedAt: time.Unix(100, 0).UTC()},
		{ID: "file-o1b", OwnerIdentity: "org-1", UploadedAt: time.Unix(200, 0).UTC()},
		{ID: "file-o2a", OwnerIdentity: "org-2", UploadedAt: time.Unix(150, 0).UTC()},
	}
	for _, r := range recs {
		if err := s.WriteMeta(r); err != nil {
			t.Fatalf("WriteMeta(%s): %v", r.ID, err)
		}
	}

	got, err := s.ListByOwner("org-1")
	if err != nil {
		t.Fatalf("ListByOwner: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len(got) = %d, want 2", len(got))
	}
	if got[0].ID != "file-o1b" || got[1].ID != "file-o1a" {
		t.Fatalf("got = [%s, %s], want newest-first [file-o1b, file-o1a]", got[0].ID, got[1].ID)
	}
}

func TestShardFor_ShortID(t *testing.T) {
	if got := shardFor("a"); got != "00" {
		t.Fatalf("shardFor(\"a\") = %q, want \"00\"", got)
	}
	if got := shardFor("ab12"); got != "ab" {
		t.Fatalf("shardFor(\"ab12\") = %q, want \"ab\"", got)
	}
}

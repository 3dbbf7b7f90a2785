package server

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"

	gateway "github.com/campersurfer/autopicker/internal"
	"github.com/campersurfer/autopicker/internal/app"
	"github.com/campersurfer/autopicker/internal/blobstore"
	"github.com/campersurfer/autopicker/internal/extract"
	"github.com/campersurfer/autopicker/internal/provider"
)

func newIngestionTestHandler(t *testing.T) (http.Handler, *blobstore.Store) {
	t.Helper()
	blobs, err := blobstore.New(t.TempDir())
	if err != nil {
		t.Fatalf("blobstore.New: %v", err)
	}

	registry := extract.NewRegistry()
	registry.Register("text/plain", extract.NewTextExtractor())
	pool := extract.NewPool(t.Context(), 2, 4)
	t.Cleanup(pool.Stop)
	dispatcher := extract.NewDispatcher(registry, pool, blobs, 1<<20)

	reg := provider.NewRegistry()
	reg.Register("fake", fakeProvider{})
	routerSvc := app.NewRouterService(&fakeRouteStore{})

	h := New(Deps{
		Auth:       fakeAuth{},
		Proxy:      app.NewProxyService(reg, routerSvc, nil, nil),
		Providers:  reg,
		Router:     routerSvc,
		Blobs:      blobs,
		Extractors: dispatcher,
	})
	return h, blobs
}

func uploadTextFile(t *testing.T, h http.Handler, name, content string) gateway.FileRecord {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	part.Write([]byte(content))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer gnd_test")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("upload status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var out gateway.FileRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode upload response: %v", err)
	}
	return out
}

func TestUpload_RoundTrip(t *testing.T) {
	t.Parallel()
	h, _ := newIngestionTestHandler(t)
	rec := uploadTextFile(t, h, "notes.txt", "hello world")

	if rec.ID == "" {
		t.Fatal("upload returned empty ID")
	}
	if rec.DetectedMIME != "text/plain; charset=utf-8" && rec.DetectedMIME != "text/plain" {
		t.Errorf("DetectedMIME = %q", rec.DetectedMIME)
	}
	if rec.SizeBytes != int64(len("hello world")) {
		t.Errorf("SizeBytes = %d, want %d", rec.SizeBytes, len("hello world"))
	}
}

func TestUpload_MissingFileField(t *testing.T) {
	t.Parallel()
	h, _ := newIngestionTestHandler(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	mw.WriteField("not_file", "x")
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestListFiles_ScopedByOwnerIP(t *testing.T) {
	t.Parallel()
	h, _ := newIngestionTestHandler(t)
	uploaded := uploadTextFile(t, h, "a.txt", "content a")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/files", nil)
	req.Header.Set("Authorization", "Bearer gnd_test")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var list []gateway.FileRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list) != 1 || list[0].ID != uploaded.ID {
		t.Fatalf("list = %+v, want [%s]", list, uploaded.ID)
	}
}

func TestGetFile_NotFound(t *testing.T) {
	t.Parallel()
	h, _ := newIngestionTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/files/nope", nil)
	req.Header.Set("Authorization", "Bearer gnd_test")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestExtractFile_ReturnsText(t *testing.T) {
	t.Parallel()
	h, _ := newIngestionTestHandler(t)
	uploaded := uploadTextFile(t, h, "b.txt", "extractable content")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/files/"+uploaded.ID+"/extract", nil)
	req.Header.Set("Authorization", "Bearer gnd_test")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var extraction gateway.Extraction
	if err := json.Unmarshal(rec.Body.Bytes(), &extraction); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if extraction.Text != "extractable content" {
		t.Errorf("Text = %q", extraction.Text)
	}
}

func TestAnalyzeComplexity_NoComplexityScorerConfigured(t *testing.T) {
	t.Parallel()
	h, _ := newIngestionTestHandler(t)

	body := `{"model":"gpt-4o","messages":[{"role":"user","content":"hi"}]}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/analyze-complexity", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer gnd_test")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503 (no scorer configured), body = %s", rec.Code, rec.Body.String())
	}
}

func TestMonitoringHealth_ReportsProviderAvailability(t *testing.T) {
	t.Parallel()
	h, _ := newIngestionTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/monitoring/health", nil)
	req.Header.Set("Authorization", "Bearer gnd_test")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	var snap struct {
		Providers map[string]bool `json:"providers"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !snap.Providers["fake"] {
		t.Errorf("providers = %+v, want fake=true", snap.Providers)
	}
}

func TestCatalogModels_EmptyWithoutCatalogConfigured(t *testing.T) {
	t.Parallel()
	h, _ := newIngestionTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/models", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Body.String() != "[]\n" && rec.Body.String() != "[]" {
		t.Errorf("body = %q, want empty list", rec.Body.String())
	}
}

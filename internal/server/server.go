// Package server implements the HTTP transport layer for the Autopicker gateway.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"go.opentelemetry.io/otel/trace"

	gateway "github.com/campersurfer/autopicker/internal"
	"github.com/campersurfer/autopicker/internal/app"
	"github.com/campersurfer/autopicker/internal/blobstore"
	"github.com/campersurfer/autopicker/internal/catalog"
	"github.com/campersurfer/autopicker/internal/complexity"
	"github.com/campersurfer/autopicker/internal/extract"
	"github.com/campersurfer/autopicker/internal/provider"
	"github.com/campersurfer/autopicker/internal/ratelimit"
	"github.com/campersurfer/autopicker/internal/storage"
	"github.com/campersurfer/autopicker/internal/telemetry"
)

// ReadyChecker reports whether the system is ready to serve traffic.
type ReadyChecker func(ctx context.Context) error

// UsageRecorder records API usage asynchronously.
type UsageRecorder interface {
	Record(gateway.UsageRecord)
}

// TokenCounter estimates token counts for request messages.
type TokenCounter interface {
	EstimateRequest(model string, messages []gateway.Message) int
}

// QuotaChecker verifies and tracks spend budgets.
type QuotaChecker interface {
	Check(keyID string, limit float64) bool
	Consume(keyID string, costUSD float64)
}

// Deps holds all dependencies for the HTTP server.
type Deps struct {
	Auth         gateway.Authenticator
	Proxy        *app.ProxyService
	Providers    *provider.Registry   // needed for NativeProxy type assertion
	Router       *app.RouterService   // needed for model -> provider routing
	Keys         *app.KeyManager
	Store          storage.Store        // nil = no admin CRUD (for tests)
	Metrics        *telemetry.Metrics  // nil = no Prometheus metrics
	MetricsHandler http.Handler        // nil = no /metrics endpoint
	Tracer         trace.Tracer        // nil = no distributed tracing
	ReadyCheck     ReadyChecker        // nil = always ready (for tests)
	Usage        UsageRecorder        // nil = no usage recording
	RateLimiter  *ratelimit.Registry  // nil = no rate limiting
	TokenCounter TokenCounter         // nil = fixed estimate
	Cache        Cache                // nil = no caching
	Quota        QuotaChecker         // nil = no quota enforcement
	DefaultRPM   int64               // fallback RPM when per-key is 0
	DefaultTPM   int64               // fallback TPM when per-key is 0

	// Ingestion & routing surface (§4.1, §4.2, §6). Nil disables the
	// corresponding /api/v1/* routes so the server still runs in tests/older
	// deployments without the blob store configured.
	Blobs             *blobstore.Store     // nil = no /api/v1/upload, /files surface
	Extractors        *extract.Dispatcher  // nil = extraction always returns "unsupported"
	Complexity        *complexity.Scorer   // nil = no /api/v1/analyze-complexity
	Catalog           *catalog.Catalog     // nil = /api/v1/models lists nothing; analyze-complexity gives no route preview
	Health            *telemetry.HealthCollector // nil = /api/v1/monitoring/health reports zeros
	RuleEngine        *ratelimit.RuleEngine      // nil = no per-route glob rate limiting
	MaxUploadBytes    int64         // 0 = 10 MiB default
	AllowedMIMETypes  []string      // empty = allow-all
	ExtractionTextCap int           // 0 = 1 MiB default
	RetentionWindow   time.Duration // 0 = 24h default
}

// New creates an http.Handler with all routes and middleware wired.
func New(deps Deps) http.Handler {
	s := &server{deps: deps}

	r := chi.NewRouter()

	// Global middleware
	r.Use(s.securityHeaders)
	r.Use(s.recovery)
	r.Use(s.requestID)
	r.Use(s.logging)
	if deps.Metrics != nil {
		r.Use(metricsMiddleware(deps.Metrics))
	}
	if deps.Tracer != nil {
		r.Use(tracingMiddleware(deps.Tracer))
	}

	// System endpoints (no auth)
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	// Client-facing API (auth required) -- universal OpenAI-format
	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)
		r.Use(s.rateLimit)
		r.Post("/v1/chat/completions", s.handleChatCompletion)
		r.Post("/v1/embeddings", s.handleEmbeddings)
		r.Get("/v1/models", s.handleListModels)
	})

	// Native API passthrough routes (per-provider auth normalization)
	s.mountNativeRoutes(r)

	// Ingestion & routing surface (§4.1, §4.2, §6). Upload and model listing
	// are reachable without an API key (guarded by the glob rule engine on
	// client IP instead); the rest require authentication so file visibility
	// can be scoped to the caller's identity.
	r.Group(func(r chi.Router) {
		r.Use(s.authenticateSoft)
		r.Use(s.routeRuleLimit)
		r.Get("/api/v1/models", s.handleCatalogModels)
		if deps.Blobs != nil {
			r.Post("/api/v1/upload", s.handleUpload)
		}
	})
	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)
		r.Use(s.routeRuleLimit)
		if deps.Blobs != nil {
			r.Get("/api/v1/files", s.handleListFiles)
			r.Get("/api/v1/files/{id}", s.handleGetFile)
			r.Post("/api/v1/files/{id}/extract", s.handleExtractFile)
		}
		r.Post("/api/v1/chat/multimodal", s.handleMultimodalChat)
		r.Post("/api/v1/analyze-complexity", s.handleAnalyzeComplexity)
		r.Get("/api/v1/monitoring/health", s.handleMonitoringHealth)
	})

	// Admin API (auth + RBAC required)
	if deps.Store != nil {
		r.Route("/admin/v1", func(r chi.Router) {
			r.Use(s.authenticate)

			r.Group(func(r chi.Router) {
				r.Use(s.requirePerm(gateway.PermManageProviders))
				r.Get("/providers", s.handleListProviders)
				r.Post("/providers", s.handleCreateProvider)
				r.Get("/providers/{id}", s.handleGetProvider)
				r.Put("/providers/{id}", s.handleUpdateProvider)
				r.Delete("/providers/{id}", s.handleDeleteProvider)
				r.Post("/cache/purge", s.handleCachePurge)
			})

			r.Group(func(r chi.Router) {
				r.Use(s.requirePerm(gateway.PermManageAllKeys))
				r.Get("/keys", s.handleListKeys)
				r.Post("/keys", s.handleCreateKey)
				r.Get("/keys/{id}", s.handleGetKey)
				r.Put("/keys/{id}", s.handleUpdateKey)
				r.Delete("/keys/{id}", s.handleDeleteKey)
			})

			r.Group(func(r chi.Router) {
				r.Use(s.requirePerm(gateway.PermManageRoutes))
				r.Get("/routes", s.handleListRoutes)
				r.Post("/routes", s.handleCreateRoute)
				r.Get("/routes/{id}", s.handleGetRoute)
				r.Put("/routes/{id}", s.handleUpdateRoute)
				r.Delete("/routes/{id}", s.handleDeleteRoute)
			})

			r.Group(func(r chi.Router) {
				r.Use(s.requirePerm(gateway.PermViewAllUsage))
				r.Get("/usage", s.handleQueryUsage)
				r.Get("/usage/summary", s.handleUsageSummary)
			})
		})
	}

	return r
}

type server struct {
	deps Deps
}

package telemetry

import (
	"context"
	"log/slog"
)

// RequestEvent is the structured per-request audit record (§4.4.4): one
// entry logged at the end of every chat/embeddings/multimodal request,
// capturing enough detail to reconstruct routing and cost decisions without
// a full tracing backend.
type RequestEvent struct {
	RequestID       string
	KeyID           string
	OrgID           string
	Route           string // model alias or explicit model ID requested
	SelectedModel   string // provider/model actually dispatched to
	ComplexityScore int
	FallbacksUsed   int
	CacheHit        bool
	FileCount       int
	InputTokens     int
	OutputTokens    int
	CostUSD         float64
	DurationMs      int64
	Status          string // "ok", "error", "rate_limited", "circuit_open"
}

// Log emits the event as a single structured slog record at Info level.
// Typed slog.Attr values (rather than slog.Info's boxed key/value pairs)
// match the allocation-conscious logging style used throughout
// internal/server/middleware.go.
func (e RequestEvent) Log(ctx context.Context) {
	slog.LogAttrs(ctx, slog.LevelInfo, "request_event",
		slog.String("request_id", e.RequestID),
		slog.String("key_id", e.KeyID),
		slog.String("org_id", e.OrgID),
		slog.String("route", e.Route),
		slog.String("selected_model", e.SelectedModel),
		slog.Int("complexity_score", e.ComplexityScore),
		slog.Int("fallbacks_used", e.FallbacksUsed),
		slog.Bool("cache_hit", e.CacheHit),
		slog.Int("file_count", e.FileCount),
		slog.Int("input_tokens", e.InputTokens),
		slog.Int("output_tokens", e.OutputTokens),
		slog.Float64("cost_usd", e.CostUSD),
		slog.Int64("duration_ms", e.DurationMs),
		slog.String("status", e.Status),
	)
}

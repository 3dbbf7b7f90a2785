package gateway

import "time"

// ExtractionStatus is the lifecycle state of a FileRecord's content extraction.
type ExtractionStatus string

const (
	ExtractionPending    ExtractionStatus = "pending"
	ExtractionInProgress ExtractionStatus = "in-progress"
	ExtractionReady      ExtractionStatus = "ready"
	ExtractionFailed     ExtractionStatus = "failed"
	ExtractionUnsupported ExtractionStatus = "unsupported"
)

// FileRecord is immutable metadata about an uploaded file. Bytes live in the
// blob store, keyed by the same ID.
type FileRecord struct {
	ID                 string           `json:"id"`
	OriginalName       string           `json:"original_name"`
	SanitizedName      string           `json:"sanitized_name"`
	DeclaredMIME       string           `json:"declared_mime"`
	DetectedMIME       string           `json:"detected_mime"`
	SizeBytes          int64            `json:"size_bytes"`
	SHA256             string           `json:"sha256"`
	UploadedAt         time.Time        `json:"uploaded_at"`
	RetentionExpiresAt time.Time        `json:"retention_expires_at"`
	StoragePath        string           `json:"-"`
	ExtractionStatus   ExtractionStatus `json:"extraction_status"`
	OwnerIdentity      string           `json:"-"` // API-key ID or org ID; never serialized to other tenants
}

// ExtractionKind classifies the shape of an Extraction's text payload.
type ExtractionKind string

const (
	KindText           ExtractionKind = "text"
	KindTable          ExtractionKind = "table"
	KindImageCaption   ExtractionKind = "image-caption"
	KindTranscript     ExtractionKind = "transcript"
	KindStructuredJSON ExtractionKind = "structured-json"
)

// Extraction is the canonical textual+metadata representation of an uploaded
// file produced by an Extractor. One successful Extraction exists per
// (file-ID, extractor-id); it is owned by the Cache, keyed on content hash,
// and outlives the FileRecord it was first produced for.
type Extraction struct {
	FileID           string            `json:"file_id"`
	Kind             ExtractionKind    `json:"kind"`
	Text             string            `json:"text"`
	Metadata         map[string]any    `json:"metadata,omitempty"`
	ExtractorID      string            `json:"extractor_id"`
	ExtractorVersion string            `json:"extractor_version"`
	ElapsedMs        int64             `json:"elapsed_ms"`
	Warnings         []string          `json:"warnings,omitempty"`
	Truncated        bool              `json:"truncated"`
}

// Capability is a single model/request capability requirement.
type Capability string

const (
	CapText              Capability = "text"
	CapVision            Capability = "vision"
	CapAudioUnderstanding Capability = "audio-understanding"
	CapLongContext       Capability = "long-context"
	CapFunctionCalling   Capability = "function-calling"
)

// ComplexityScore is the deterministic output of the complexity scorer: an
// integer score in [0,100] plus the capabilities the request requires.
type ComplexityScore struct {
	Score                  int          `json:"score"`
	RequiredCapabilities   []Capability `json:"required_capabilities"`
	EstimatedInputTokens   int          `json:"estimated_input_tokens"`
	EstimatedOutputCeiling int          `json:"estimated_output_ceiling"`
	RationaleTags          []string     `json:"rationale_tags,omitempty"`
}

// HasCapability reports whether the score requires the given capability.
func (c ComplexityScore) HasCapability(cap Capability) bool {
	for _, have := range c.RequiredCapabilities {
		if have == cap {
			return true
		}
	}
	return false
}

// SpeedTier is a provider's latency class.
type SpeedTier string

const (
	SpeedFast     SpeedTier = "fast"
	SpeedBalanced SpeedTier = "balanced"
	SpeedPowerful SpeedTier = "powerful"
)

// PricingTier is a provider-pricing label used by the Router as a filter.
type PricingTier string

const (
	TierStandard   PricingTier = "standard"
	TierEnterprise PricingTier = "enterprise"
	TierLocal      PricingTier = "local"
	TierAuto       PricingTier = "auto"
)

// ModelDescriptor is the static capability+cost description of one upstream
// model. Descriptors are immutable during a run and reloaded only on
// explicit configuration reload; Available is the one field tracked live
// (via the circuit breaker and provider registry), never mutated by the Router.
type ModelDescriptor struct {
	ProviderID      string       `json:"provider_id"`
	ModelID         string       `json:"model_id"`
	Capabilities    []Capability `json:"capabilities"`
	CostPer1kInput  float64      `json:"cost_per_1k_input"`
	CostPer1kOutput float64      `json:"cost_per_1k_output"`
	ContextWindow   int          `json:"context_window"`
	MaxOutputTokens int          `json:"max_output_tokens"`
	SpeedTier       SpeedTier    `json:"speed_tier"`
	PricingTier     PricingTier  `json:"pricing_tier"`
	Available       bool         `json:"available"`
}

// HasCapability reports whether the descriptor declares the given capability.
func (m ModelDescriptor) HasCapability(cap Capability) bool {
	for _, have := range m.Capabilities {
		if have == cap {
			return true
		}
	}
	return false
}

// SelectedRoute is the Model Router's output: the chosen ModelDescriptor plus
// rationale and an ordered fallback list. Named SelectedRoute (rather than
// Route) to avoid colliding with the pre-existing Route type, which is the
// persisted static model-alias configuration used by the admin CRUD surface.
type SelectedRoute struct {
	Model         ModelDescriptor   `json:"model"`
	Fallbacks     []ModelDescriptor `json:"fallbacks"`
	RationaleTags []string          `json:"rationale_tags,omitempty"`
}

// RouterPreferences configures route() selection bias and hard filters.
type RouterPreferences struct {
	PreferFast        bool
	PreferCheap       bool
	MaxCostPer1kTokens float64 // 0 = unbounded
	PricingTier       PricingTier
	ExplicitModelID   string // "" or "auto" = no explicit pin
}

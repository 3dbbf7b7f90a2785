// Package complexity implements the deterministic request-complexity scorer
// (§4.2). Score is a pure function: same inputs always yield the same
// ComplexityScore, and it performs no I/O.
package complexity

import (
	"strings"

	gateway "github.com/campersurfer/autopicker/internal"
	"github.com/campersurfer/autopicker/internal/tokencount"
)

// fastModelWindow is the context window (in tokens) used to decide whether
// the long-context capability is required, absent a catalog lookup. Callers
// that have a live catalog can set Scorer.FastWindow to the actual smallest
// "fast" model window.
const fastModelWindow = 128_000

// Scorer computes ComplexityScores. The zero value is usable; FastWindow
// may be set to override the long-context threshold with a catalog-derived
// value.
type Scorer struct {
	counter    *tokencount.Counter
	FastWindow int
}

// NewScorer builds a Scorer using the shared character-heuristic token
// estimator (see SPEC_FULL.md Open Question 1).
func NewScorer() *Scorer {
	return &Scorer{counter: tokencount.NewCounter(), FastWindow: fastModelWindow}
}

// Score sums the weighted signals defined in §4.2, capped at 100, and
// derives the required-capability set. It performs no I/O and is safe for
// concurrent use.
func (s *Scorer) Score(req gateway.ChatRequest, extractions []gateway.Extraction) gateway.ComplexityScore {
	var points int
	var tags []string

	userChars := 0
	codeLike := false
	for _, m := range req.Messages {
		if m.Role != "user" {
			continue
		}
		text := string(m.Content)
		userChars += len(text)
		if looksCodeLike(text) {
			codeLike = true
		}
	}

	// message-payload size: +1 per 800 chars, capped at +25.
	payloadPts := min(userChars/800, 25)
	points += payloadPts
	if payloadPts > 0 {
		tags = append(tags, "payload-size")
	}

	// number of referenced files: +5 per file, capped at +20.
	fileCount := len(req.FileIDs)
	filePts := min(fileCount*5, 20)
	points += filePts
	if filePts > 0 {
		tags = append(tags, "file-count")
	}

	// per-file bytes: +1 per 200 KiB, capped at +15.
	var totalBytes int64
	for _, ex := range extractions {
		if sz, ok := ex.Metadata["source_size_bytes"].(int64); ok {
			totalBytes += sz
		}
	}
	bytePts := int(totalBytes / (200 * 1024))
	if bytePts > 15 {
		bytePts = 15
	}
	points += bytePts
	if bytePts > 0 {
		tags = append(tags, "file-bytes")
	}

	hasImage, hasAudio, hasTable := false, false, false
	audioTextLen := 0
	for _, ex := range extractions {
		switch ex.Kind {
		case gateway.KindImageCaption:
			hasImage = true
		case gateway.KindTranscript:
			hasAudio = true
			audioTextLen += len(ex.Text)
		case gateway.KindTable:
			hasTable = true
		}
	}
	if hasImage {
		points += 10
		tags = append(tags, "image-extraction")
	}
	if hasAudio {
		points += 15
		tags = append(tags, "audio-extraction")
	}
	if hasTable {
		points += 5
		tags = append(tags, "table-extraction")
	}

	// explicit capability hints: +10 per required-but-non-text capability.
	explicitCaps := explicitCapabilities(req)
	for _, c := range explicitCaps {
		if c != gateway.CapText {
			points += 10
		}
	}
	if len(explicitCaps) > 0 {
		tags = append(tags, "explicit-capability-hint")
	}

	// code-like content heuristic: +5.
	if codeLike {
		points += 5
		tags = append(tags, "code-like")
	}

	if points > 100 {
		points = 100
	}
	if points < 0 {
		points = 0
	}

	inputTokens := s.counter.EstimateRequest(req.Model, req.Messages)
	for _, ex := range extractions {
		inputTokens += s.counter.CountText("", ex.Text)
	}

	window := s.FastWindow
	if window <= 0 {
		window = fastModelWindow
	}

	required := []gateway.Capability{gateway.CapText}
	if hasImage {
		required = append(required, gateway.CapVision)
	}
	if hasAudio && audioTextLen > 0 {
		required = append(required, gateway.CapAudioUnderstanding)
	}
	if inputTokens > (window*75)/100 {
		required = append(required, gateway.CapLongContext)
	}
	for _, c := range explicitCaps {
		if !containsCap(required, c) {
			required = append(required, c)
		}
	}

	return gateway.ComplexityScore{
		Score:                  points,
		RequiredCapabilities:   required,
		EstimatedInputTokens:   inputTokens,
		EstimatedOutputCeiling: estimateOutputCeiling(req),
		RationaleTags:          tags,
	}
}

// explicitCapabilities derives explicit capability hints from the request.
// The only hint recognized is a non-empty Tools field, which maps to
// function-calling; ResponseFormat and the model field are not inspected.
func explicitCapabilities(req gateway.ChatRequest) []gateway.Capability {
	var caps []gateway.Capability
	if len(req.Tools) > 0 {
		caps = append(caps, gateway.CapFunctionCalling)
	}
	return caps
}

func containsCap(caps []gateway.Capability, c gateway.Capability) bool {
	for _, have := range caps {
		if have == c {
			return true
		}
	}
	return false
}

func looksCodeLike(text string) bool {
	if strings.Contains(text, "```") {
		return true
	}
	if len(text) == 0 {
		return false
	}
	punct := 0
	for _, r := range text {
		switch r {
		case '{', '}', '(', ')', ';', '<', '>', '=', '/', '\\', '[', ']':
			punct++
		}
	}
	return float64(punct)/float64(len(text)) > 0.10
}

func estimateOutputCeiling(req gateway.ChatRequest) int {
	if req.MaxTokens != nil && *req.MaxTokens > 0 {
		return *req.MaxTokens
	}
	return 4096
}

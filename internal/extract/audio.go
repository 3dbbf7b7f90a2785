package extract

import (
	"context"
	"fmt"

	gateway "github.com/campersurfer/autopicker/internal"
	"github.com/campersurfer/autopicker/internal/retry"
)

// AsyncTranscriber is the seam to a transcription backend (e.g. a provider's
// speech-to-text endpoint). No such provider exists in this repo's pack, so
// AudioExtractor is built against this interface and exercised with a fake
// in tests; wiring a concrete implementation is a matter of registering one
// that round-trips through an upstream provider's native proxy.
type AsyncTranscriber interface {
	Transcribe(ctx context.Context, data []byte, mime string) (text string, err error)
}

// AudioExtractor produces a transcript via an AsyncTranscriber, classified
// as gateway.KindTranscript. Transcription calls are retried under
// retry.AudioExtractionPolicy (§4.1): 3 retries, 500ms base, +/-20% jitter,
// 30s per attempt.
type AudioExtractor struct {
	transcriber AsyncTranscriber
	policy      retry.Policy
}

// NewAudioExtractor wires an AsyncTranscriber with the standard retry policy.
func NewAudioExtractor(t AsyncTranscriber) *AudioExtractor {
	return &AudioExtractor{transcriber: t, policy: retry.AudioExtractionPolicy()}
}

func (e *AudioExtractor) Kind() gateway.ExtractionKind { return gateway.KindTranscript }

func (e *AudioExtractor) Extract(ctx context.Context, rec *gateway.FileRecord, data []byte, textCap int) (gateway.Extraction, error) {
	var text string
	err := retry.Do(ctx, e.policy, func(attemptCtx context.Context) error {
		t, tErr := e.transcriber.Transcribe(attemptCtx, data, rec.DetectedMIME)
		if tErr != nil {
			return tErr
		}
		text = t
		return nil
	})
	if err != nil {
		return gateway.Extraction{
			FileID:           rec.ID,
			Kind:             gateway.KindTranscript,
			ExtractorID:      "audio",
			ExtractorVersion: "1",
			Warnings:         []string{fmt.Sprintf("transcription failed after retries: %v", err)},
		}, err
	}
	truncated := false
	if textCap > 0 && len(text) > textCap {
		text = text[:textCap]
		truncated = true
	}
	return gateway.Extraction{
		FileID:           rec.ID,
		Kind:             gateway.KindTranscript,
		Text:             text,
		ExtractorID:      "audio",
		ExtractorVersion: "1",
		Truncated:        truncated,
	}, nil
}

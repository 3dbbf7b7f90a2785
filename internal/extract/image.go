package extract

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	gateway "github.com/campersurfer/autopicker/internal"
)

// ImageExtractor decodes image dimensions and produces a short
// caption-style description, classified as gateway.KindImageCaption. No
// vision/OCR library exists anywhere in the retrieval pack, so this is a
// deliberately lightweight metadata-only extraction: real captioning is
// deferred to a vision-capable model at dispatch time (the Model Router
// requires gateway.CapVision for these requests).
type ImageExtractor struct{}

// NewImageExtractor returns an image extractor.
func NewImageExtractor() *ImageExtractor { return &ImageExtractor{} }

func (e *ImageExtractor) Kind() gateway.ExtractionKind { return gateway.KindImageCaption }

func (e *ImageExtractor) Extract(_ context.Context, rec *gateway.FileRecord, data []byte, textCap int) (gateway.Extraction, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	var warnings []string
	var text string
	if err != nil {
		warnings = append(warnings, fmt.Sprintf("could not decode image header: %v", err))
		text = fmt.Sprintf("[image: %s, undecodable, %d bytes]", rec.OriginalName, len(data))
	} else {
		text = fmt.Sprintf("[image: %s, %s, %dx%d]", rec.OriginalName, format, cfg.Width, cfg.Height)
	}
	truncated := false
	if textCap > 0 && len(text) > textCap {
		text = text[:textCap]
		truncated = true
	}
	meta := map[string]any{}
	if err == nil {
		meta["width"] = cfg.Width
		meta["height"] = cfg.Height
		meta["format"] = format
	}
	return gateway.Extraction{
		FileID:           rec.ID,
		Kind:             gateway.KindImageCaption,
		Text:             text,
		Metadata:         meta,
		ExtractorID:      "image",
		ExtractorVersion: "1",
		Warnings:         warnings,
		Truncated:        truncated,
	}, nil
}

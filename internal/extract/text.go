package extract

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strings"

	gateway "github.com/campersurfer/autopicker/internal"
	"golang.org/x/text/unicode/norm"
)

// TextExtractor passes plain text and markdown through, normalized to
// Unicode NFC (§4.1) and capped at textCap bytes.
type TextExtractor struct{ kind gateway.ExtractionKind }

// NewTextExtractor returns an extractor that emits gateway.KindText.
func NewTextExtractor() *TextExtractor { return &TextExtractor{kind: gateway.KindText} }

func (e *TextExtractor) Kind() gateway.ExtractionKind { return e.kind }

func (e *TextExtractor) Extract(_ context.Context, rec *gateway.FileRecord, data []byte, textCap int) (gateway.Extraction, error) {
	text := norm.NFC.String(string(data))
	truncated := false
	if textCap > 0 && len(text) > textCap {
		text = text[:textCap]
		truncated = true
	}
	return gateway.Extraction{
		FileID:           rec.ID,
		Kind:             e.kind,
		Text:             text,
		ExtractorID:      "text",
		ExtractorVersion: "1",
		Truncated:        truncated,
	}, nil
}

// CSVExtractor renders tabular data as a flattened pipe-delimited text
// representation, classified as gateway.KindTable.
type CSVExtractor struct{}

// NewCSVExtractor returns a CSV/TSV extractor.
func NewCSVExtractor() *CSVExtractor { return &CSVExtractor{} }

func (e *CSVExtractor) Kind() gateway.ExtractionKind { return gateway.KindTable }

func (e *CSVExtractor) Extract(_ context.Context, rec *gateway.FileRecord, data []byte, textCap int) (gateway.Extraction, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	var sb strings.Builder
	rows := 0
	truncated := false
	for {
		row, err := reader.Read()
		if err != nil {
			break
		}
		rows++
		sb.WriteString(strings.Join(row, " | "))
		sb.WriteByte('\n')
		if textCap > 0 && sb.Len() > textCap {
			truncated = true
			break
		}
	}
	text := norm.NFC.String(sb.String())
	if textCap > 0 && len(text) > textCap {
		text = text[:textCap]
		truncated = true
	}
	return gateway.Extraction{
		FileID:           rec.ID,
		Kind:             gateway.KindTable,
		Text:             text,
		Metadata:         map[string]any{"rows": rows},
		ExtractorID:      "csv",
		ExtractorVersion: "1",
		Truncated:        truncated,
	}, nil
}

// JSONExtractor re-serializes JSON compactly, classified as
// gateway.KindStructuredJSON. Invalid JSON falls back to raw text so the
// pipeline never fails outright on a malformed upload declared as JSON.
type JSONExtractor struct{}

// NewJSONExtractor returns a JSON extractor.
func NewJSONExtractor() *JSONExtractor { return &JSONExtractor{} }

func (e *JSONExtractor) Kind() gateway.ExtractionKind { return gateway.KindStructuredJSON }

func (e *JSONExtractor) Extract(_ context.Context, rec *gateway.FileRecord, data []byte, textCap int) (gateway.Extraction, error) {
	var warnings []string
	var compact bytes.Buffer
	if err := json.Compact(&compact, data); err != nil {
		warnings = append(warnings, fmt.Sprintf("not valid JSON, stored as raw text: %v", err))
		compact.Reset()
		compact.Write(data)
	}
	text := norm.NFC.String(compact.String())
	truncated := false
	if textCap > 0 && len(text) > textCap {
		text = text[:textCap]
		truncated = true
	}
	return gateway.Extraction{
		FileID:           rec.ID,
		Kind:             gateway.KindStructuredJSON,
		Text:             text,
		ExtractorID:      "json",
		ExtractorVersion: "1",
		Warnings:         warnings,
		Truncated:        truncated,
	}, nil
}

// MarkdownExtractor strips the lightest Markdown syntax (headers, emphasis
// markers) to approximate prose for downstream token estimation, classified
// as gateway.KindText.
type MarkdownExtractor struct{}

// NewMarkdownExtractor returns a Markdown extractor.
func NewMarkdownExtractor() *MarkdownExtractor { return &MarkdownExtractor{} }

func (e *MarkdownExtractor) Kind() gateway.ExtractionKind { return gateway.KindText }

func (e *MarkdownExtractor) Extract(_ context.Context, rec *gateway.FileRecord, data []byte, textCap int) (gateway.Extraction, error) {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	var sb strings.Builder
	for scanner.Scan() {
		line := strings.TrimLeft(scanner.Text(), "#>* -")
		sb.WriteString(line)
		sb.WriteByte('\n')
	}
	text := norm.NFC.String(sb.String())
	truncated := false
	if textCap > 0 && len(text) > textCap {
		text = text[:textCap]
		truncated = true
	}
	return gateway.Extraction{
		FileID:           rec.ID,
		Kind:             gateway.KindText,
		Text:             text,
		ExtractorID:      "markdown",
		ExtractorVersion: "1",
		Truncated:        truncated,
	}, nil
}

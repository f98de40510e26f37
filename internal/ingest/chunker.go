package ingest

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// ErrUnsupportedFormat is returned when a document type has no registered chunker.
var ErrUnsupportedFormat = errors.New("unsupported document format")

// Chunker splits raw document bytes into overlapping text chunks, the unit
// of embedding and retrieval.
type Chunker interface {
	Chunk(content []byte) ([]string, error)
}

// ChunkerFor returns the chunker registered for the document type.
// PDFs and CSVs use different defaults: CSV rows are structurally smaller
// units than prose, so CSV chunks group rows under the header instead of
// slicing character windows.
func ChunkerFor(docType string) (Chunker, error) {
	switch docType {
	case "pdf":
		return &PDFChunker{Size: defaultPDFChunkSize, Overlap: defaultPDFChunkOverlap}, nil
	case "csv":
		return &CSVChunker{RowsPerChunk: defaultCSVRowsPerChunk, RowOverlap: defaultCSVRowOverlap}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, docType)
	}
}

// splitText slices text into overlapping windows of roughly size runes,
// preferring to break at whitespace so words stay intact.
func splitText(text string, size, overlap int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if size <= 0 {
		size = 1000
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	runes := []rune(text)
	var chunks []string
	start := 0
	for start < len(runes) {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		cut := end
		if end < len(runes) {
			for cut > start && !unicode.IsSpace(runes[cut]) {
				cut--
			}
			// No whitespace in the window: hard cut mid-word.
			if cut == start {
				cut = end
			}
		}
		chunk := strings.TrimSpace(string(runes[start:cut]))
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		if cut >= len(runes) {
			break
		}
		next := cut - overlap
		if next <= start {
			next = cut
		}
		start = next
	}
	return chunks
}

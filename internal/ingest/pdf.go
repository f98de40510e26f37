package ingest

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

const (
	defaultPDFChunkSize    = 1000
	defaultPDFChunkOverlap = 200
)

// PDFChunker extracts plain text from a PDF and splits it into overlapping
// character windows.
type PDFChunker struct {
	Size    int
	Overlap int
}

func (c *PDFChunker) Chunk(content []byte) ([]string, error) {
	text, err := extractPDFText(content)
	if err != nil {
		return nil, err
	}
	return splitText(text, c.Size, c.Overlap), nil
}

func extractPDFText(content []byte) (string, error) {
	r, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("opening pdf: %w", err)
	}

	var b strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("extracting text from page %d: %w", i, err)
		}
		b.WriteString(text)
		b.WriteString("\n")
	}
	return b.String(), nil
}

package ingest

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strings"
)

const (
	defaultCSVRowsPerChunk = 40
	defaultCSVRowOverlap   = 4
)

// CSVChunker splits a CSV into overlapping groups of rows. The header line
// is prepended to every chunk so each one stays interpretable on its own.
type CSVChunker struct {
	RowsPerChunk int
	RowOverlap   int
}

func (c *CSVChunker) Chunk(content []byte) ([]string, error) {
	reader := csv.NewReader(bytes.NewReader(content))
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parsing csv: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	size := c.RowsPerChunk
	if size <= 0 {
		size = defaultCSVRowsPerChunk
	}
	overlap := c.RowOverlap
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	header := records[0]
	rows := records[1:]
	if len(rows) == 0 {
		return []string{writeCSVRows(header, nil)}, nil
	}

	var chunks []string
	step := size - overlap
	for start := 0; start < len(rows); start += step {
		end := start + size
		if end > len(rows) {
			end = len(rows)
		}
		chunks = append(chunks, writeCSVRows(header, rows[start:end]))
		if end >= len(rows) {
			break
		}
	}
	return chunks, nil
}

func writeCSVRows(header []string, rows [][]string) string {
	var b strings.Builder
	w := csv.NewWriter(&b)
	w.Write(header)
	for _, row := range rows {
		w.Write(row)
	}
	w.Flush()
	return strings.TrimRight(b.String(), "\n")
}

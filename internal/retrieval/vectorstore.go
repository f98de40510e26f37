package retrieval

import (
	"context"
	"time"
)

// VectorStore is the interface for vector storage and similarity search
// backends. The current implementation uses SQLite with brute-force cosine
// similarity, which is fine for per-document indexes of a few thousand
// chunks each.
type VectorStore interface {
	// ReplaceDocument atomically swaps a document's index: all existing
	// chunks for the document are removed and the given records inserted in
	// a single transaction. Readers see either the old index or the new
	// one, never a partial build.
	ReplaceDocument(ctx context.Context, documentID string, records []Record) error

	// DeleteDocument removes every chunk belonging to the document.
	DeleteDocument(ctx context.Context, documentID string) error

	// Search returns the top-K records most similar to the query vector.
	// When documentIDs is non-empty, only chunks of those documents are
	// considered. Ties on score resolve to the earliest chunk in document
	// order.
	Search(ctx context.Context, vector []float32, topK int, documentIDs []string) ([]ScoredRecord, error)

	// CountChunks returns the number of indexed chunks for the document.
	CountChunks(ctx context.Context, documentID string) (int, error)
}

// Record represents one indexed chunk of a document.
type Record struct {
	ID         string
	DocumentID string
	ChunkIndex int
	TextChunk  string
	Embedding  []float32
	CreatedAt  time.Time
}

// ScoredRecord is a Record with a similarity score attached.
type ScoredRecord struct {
	Record
	Score float32
}

package retrieval

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

// openTestDB creates an in-memory SQLite database with the document_vectors table.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	_, err = db.Exec(`
		CREATE TABLE document_vectors (
			id TEXT PRIMARY KEY,
			document_id TEXT NOT NULL,
			chunk_index INTEGER NOT NULL,
			text_chunk TEXT NOT NULL,
			embedding BLOB NOT NULL,
			created_at DATETIME NOT NULL
		)`)
	if err != nil {
		t.Fatalf("creating table: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func makeTestVector(dim int, seed float32) []float32 {
	v := make([]float32, dim)
	for i := range v {
		v[i] = seed + float32(i)*0.001
	}
	return v
}

func docRecords(docID string, n int, seed float32) []Record {
	var records []Record
	for i := 0; i < n; i++ {
		records = append(records, Record{
			ID:         fmt.Sprintf("%s-c%d", docID, i),
			DocumentID: docID,
			ChunkIndex: i,
			TextChunk:  fmt.Sprintf("chunk %d of %s", i, docID),
			Embedding:  makeTestVector(768, seed+float32(i)*0.01),
			CreatedAt:  time.Now().UTC(),
		})
	}
	return records
}

func TestReplaceAndSearch(t *testing.T) {
	db := openTestDB(t)
	s := NewSQLiteStore(db)
	ctx := context.Background()

	vec := makeTestVector(768, 0.1)
	err := s.ReplaceDocument(ctx, "d1", []Record{{
		ID:         "d1-c0",
		DocumentID: "d1",
		ChunkIndex: 0,
		TextChunk:  "Go is a compiled language",
		Embedding:  vec,
		CreatedAt:  time.Now().UTC(),
	}})
	if err != nil {
		t.Fatalf("ReplaceDocument: %v", err)
	}

	results, err := s.Search(ctx, vec, 1, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if results[0].Score < 0.99 {
		t.Errorf("score = %f, want > 0.99", results[0].Score)
	}
	if results[0].ID != "d1-c0" {
		t.Errorf("ID = %q, want d1-c0", results[0].ID)
	}
}

func TestReplaceDocument_SwapsWholesale(t *testing.T) {
	db := openTestDB(t)
	s := NewSQLiteStore(db)
	ctx := context.Background()

	if err := s.ReplaceDocument(ctx, "d1", docRecords("d1", 5, 0.1)); err != nil {
		t.Fatalf("first ReplaceDocument: %v", err)
	}
	if err := s.ReplaceDocument(ctx, "d1", docRecords("d1", 2, 0.5)); err != nil {
		t.Fatalf("second ReplaceDocument: %v", err)
	}

	count, err := s.CountChunks(ctx, "d1")
	if err != nil {
		t.Fatalf("CountChunks: %v", err)
	}
	if count != 2 {
		t.Errorf("count after re-ingest = %d, want 2", count)
	}
}

func TestSearch_DocumentFilter(t *testing.T) {
	db := openTestDB(t)
	s := NewSQLiteStore(db)
	ctx := context.Background()

	if err := s.ReplaceDocument(ctx, "d1", docRecords("d1", 3, 0.1)); err != nil {
		t.Fatalf("ReplaceDocument d1: %v", err)
	}
	if err := s.ReplaceDocument(ctx, "d2", docRecords("d2", 3, 0.1)); err != nil {
		t.Fatalf("ReplaceDocument d2: %v", err)
	}

	results, err := s.Search(ctx, makeTestVector(768, 0.1), 10, []string{"d2"})
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	for _, r := range results {
		if r.DocumentID != "d2" {
			t.Errorf("result from document %q, want d2", r.DocumentID)
		}
	}
}

func TestSearch_TopK(t *testing.T) {
	db := openTestDB(t)
	s := NewSQLiteStore(db)
	ctx := context.Background()

	if err := s.ReplaceDocument(ctx, "d1", docRecords("d1", 10, 0.0)); err != nil {
		t.Fatalf("ReplaceDocument: %v", err)
	}

	results, err := s.Search(ctx, makeTestVector(768, 0.05), 3, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 3 {
		t.Errorf("got %d results, want 3", len(results))
	}
	for i := 1; i < len(results); i++ {
		if results[i].Score > results[i-1].Score {
			t.Errorf("results not sorted by score: %f after %f", results[i].Score, results[i-1].Score)
		}
	}
}

func TestSearch_TiesPreferEarlierChunk(t *testing.T) {
	db := openTestDB(t)
	s := NewSQLiteStore(db)
	ctx := context.Background()

	// Identical embeddings produce identical scores; the earliest chunk
	// must win deterministically.
	vec := makeTestVector(768, 0.3)
	var records []Record
	for i := 0; i < 4; i++ {
		records = append(records, Record{
			ID:         fmt.Sprintf("d1-c%d", i),
			DocumentID: "d1",
			ChunkIndex: i,
			TextChunk:  fmt.Sprintf("duplicate %d", i),
			Embedding:  vec,
			CreatedAt:  time.Now().UTC(),
		})
	}
	if err := s.ReplaceDocument(ctx, "d1", records); err != nil {
		t.Fatalf("ReplaceDocument: %v", err)
	}

	results, err := s.Search(ctx, vec, 2, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	if results[0].ChunkIndex != 0 || results[1].ChunkIndex != 1 {
		t.Errorf("chunk order = [%d, %d], want [0, 1]", results[0].ChunkIndex, results[1].ChunkIndex)
	}
}

func TestSearch_EmptyTable(t *testing.T) {
	db := openTestDB(t)
	s := NewSQLiteStore(db)

	results, err := s.Search(context.Background(), makeTestVector(768, 0.1), 5, nil)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("got %d results, want 0", len(results))
	}
}

func TestSearch_TopKZero(t *testing.T) {
	db := openTestDB(t)
	s := NewSQLiteStore(db)

	results, err := s.Search(context.Background(), makeTestVector(768, 0.1), 0, nil)
	if err != nil {
		t.Fatalf("Search with topK=0: %v", err)
	}
	if results != nil {
		t.Errorf("expected nil results for topK=0, got %d", len(results))
	}
}

func TestDeleteDocument(t *testing.T) {
	db := openTestDB(t)
	s := NewSQLiteStore(db)
	ctx := context.Background()

	if err := s.ReplaceDocument(ctx, "d1", docRecords("d1", 3, 0.1)); err != nil {
		t.Fatalf("ReplaceDocument: %v", err)
	}
	if err := s.DeleteDocument(ctx, "d1"); err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}

	count, err := s.CountChunks(ctx, "d1")
	if err != nil {
		t.Fatalf("CountChunks: %v", err)
	}
	if count != 0 {
		t.Errorf("count after delete = %d, want 0", count)
	}

	// Deleting an already-deleted document is a no-op.
	if err := s.DeleteDocument(ctx, "d1"); err != nil {
		t.Errorf("second DeleteDocument: %v", err)
	}
}

func TestEncodeDecodeFloat32s(t *testing.T) {
	v := makeTestVector(16, 0.7)
	decoded, err := decodeFloat32s(encodeFloat32s(v))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(decoded) != len(v) {
		t.Fatalf("len = %d, want %d", len(decoded), len(v))
	}
	for i := range v {
		if decoded[i] != v[i] {
			t.Errorf("decoded[%d] = %f, want %f", i, decoded[i], v[i])
		}
	}

	if _, err := decodeFloat32s([]byte{1, 2, 3}); err == nil {
		t.Error("expected error for truncated blob")
	}
}

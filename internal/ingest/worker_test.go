package ingest

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/kalambet/askd/internal/retrieval"
	"github.com/kalambet/askd/internal/storage"
)

type fakeStore struct {
	jobs      []*storage.Job
	docs      map[string]storage.Document
	completed []string
	failed    map[string]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{docs: make(map[string]storage.Document), failed: make(map[string]string)}
}

func (f *fakeStore) ClaimNextJob(types []string) (*storage.Job, error) {
	if len(f.jobs) == 0 {
		return nil, nil
	}
	job := f.jobs[0]
	f.jobs = f.jobs[1:]
	return job, nil
}

func (f *fakeStore) CompleteJob(id string) error {
	f.completed = append(f.completed, id)
	return nil
}

func (f *fakeStore) FailJob(id string, errMsg string) error {
	f.failed[id] = errMsg
	return nil
}

func (f *fakeStore) GetDocument(id string) (storage.Document, error) {
	doc, ok := f.docs[id]
	if !ok {
		return storage.Document{}, storage.ErrNotFound
	}
	return doc, nil
}

func (f *fakeStore) SetDocumentStatus(id, status, errMsg string) error {
	doc, ok := f.docs[id]
	if !ok {
		return storage.ErrNotFound
	}
	doc.Status = status
	doc.Error = errMsg
	f.docs[id] = doc
	return nil
}

func (f *fakeStore) SetDocumentProcessed(id string, chunkCount int) error {
	doc, ok := f.docs[id]
	if !ok {
		return storage.ErrNotFound
	}
	doc.Status = storage.DocStatusProcessed
	doc.ChunkCount = chunkCount
	f.docs[id] = doc
	return nil
}

type fakeEmbedder struct {
	err error
}

func (f *fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0.1, 0.2, 0.3}
	}
	return out, nil
}

type fakeVectors struct {
	replaced map[string][]retrieval.Record
	err      error
}

func (f *fakeVectors) ReplaceDocument(_ context.Context, documentID string, records []retrieval.Record) error {
	if f.err != nil {
		return f.err
	}
	if f.replaced == nil {
		f.replaced = make(map[string][]retrieval.Record)
	}
	f.replaced[documentID] = records
	return nil
}

func csvDoc(id string, rows int) storage.Document {
	var b strings.Builder
	b.WriteString("id,name\n")
	for i := 0; i < rows; i++ {
		b.WriteString("1,alice\n")
	}
	return storage.Document{ID: id, Name: id + ".csv", DocType: "csv", Content: []byte(b.String()), Status: storage.DocStatusPending}
}

func TestRunOnce_NoJobs(t *testing.T) {
	w := NewWorker(newFakeStore(), &fakeEmbedder{}, &fakeVectors{}, 0)

	done, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if done {
		t.Error("done = true with empty queue")
	}
}

func TestRunOnce_IngestsDocument(t *testing.T) {
	store := newFakeStore()
	store.docs["d1"] = csvDoc("d1", 100)
	store.jobs = append(store.jobs, &storage.Job{ID: "j1", Type: JobTypeIngest, PayloadJSON: `{"document_id":"d1"}`})
	vectors := &fakeVectors{}

	w := NewWorker(store, &fakeEmbedder{}, vectors, 0)
	done, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if !done {
		t.Fatal("done = false, want true")
	}

	if len(store.completed) != 1 || store.completed[0] != "j1" {
		t.Errorf("completed = %v, want [j1]", store.completed)
	}
	doc := store.docs["d1"]
	if doc.Status != storage.DocStatusProcessed {
		t.Errorf("status = %q, want processed", doc.Status)
	}
	records := vectors.replaced["d1"]
	if len(records) == 0 {
		t.Fatal("no records written to vector store")
	}
	if doc.ChunkCount != len(records) {
		t.Errorf("chunk count = %d, records = %d", doc.ChunkCount, len(records))
	}
	for i, r := range records {
		if r.ChunkIndex != i {
			t.Errorf("record %d has chunk index %d", i, r.ChunkIndex)
		}
		if r.DocumentID != "d1" {
			t.Errorf("record %d has document %q", i, r.DocumentID)
		}
	}
}

func TestRunOnce_EmbedFailureLeavesNoIndex(t *testing.T) {
	store := newFakeStore()
	store.docs["d1"] = csvDoc("d1", 10)
	store.jobs = append(store.jobs, &storage.Job{ID: "j1", Type: JobTypeIngest, PayloadJSON: `{"document_id":"d1"}`})
	vectors := &fakeVectors{}

	w := NewWorker(store, &fakeEmbedder{err: errors.New("model unavailable")}, vectors, 0)
	done, err := w.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if !done {
		t.Fatal("done = false, want true")
	}

	if _, ok := store.failed["j1"]; !ok {
		t.Error("job not marked failed")
	}
	if store.docs["d1"].Status != storage.DocStatusFailed {
		t.Errorf("document status = %q, want failed", store.docs["d1"].Status)
	}
	// Atomic ingest: nothing may reach the vector store on failure.
	if len(vectors.replaced) != 0 {
		t.Errorf("vector store touched on failed ingest: %v", vectors.replaced)
	}
}

func TestRunOnce_UnsupportedType(t *testing.T) {
	store := newFakeStore()
	store.docs["d1"] = storage.Document{ID: "d1", DocType: "docx", Content: []byte("x"), Status: storage.DocStatusPending}
	store.jobs = append(store.jobs, &storage.Job{ID: "j1", Type: JobTypeIngest, PayloadJSON: `{"document_id":"d1"}`})

	w := NewWorker(store, &fakeEmbedder{}, &fakeVectors{}, 0)
	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	if msg := store.failed["j1"]; !strings.Contains(msg, "unsupported document format") {
		t.Errorf("failure message = %q", msg)
	}
}

func TestRunOnce_BadPayload(t *testing.T) {
	store := newFakeStore()
	store.jobs = append(store.jobs, &storage.Job{ID: "j1", Type: JobTypeIngest, PayloadJSON: `{broken`})

	w := NewWorker(store, &fakeEmbedder{}, &fakeVectors{}, 0)
	if _, err := w.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if _, ok := store.failed["j1"]; !ok {
		t.Error("job with bad payload not marked failed")
	}
}

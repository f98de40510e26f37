package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/askd/internal/retrieval"
	"github.com/kalambet/askd/internal/storage"
)

// JobTypeIngest is the queue job type for building a document's vector index.
const JobTypeIngest = "ingest_document"

// JobStore abstracts the job queue and document operations the worker needs.
type JobStore interface {
	ClaimNextJob(types []string) (*storage.Job, error)
	CompleteJob(id string) error
	FailJob(id string, errMsg string) error
	GetDocument(id string) (storage.Document, error)
	SetDocumentStatus(id, status, errMsg string) error
	SetDocumentProcessed(id string, chunkCount int) error
}

// ContentEmbedder generates embeddings for text chunks.
type ContentEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorReplacer swaps a document's vector index atomically.
type VectorReplacer interface {
	ReplaceDocument(ctx context.Context, documentID string, records []retrieval.Record) error
}

// Worker processes document ingest jobs from the SQLite job queue.
type Worker struct {
	store    JobStore
	embedder ContentEmbedder
	vectors  VectorReplacer
	poll     time.Duration
	logger   *slog.Logger
}

// NewWorker creates a Worker with the given dependencies.
// If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(store JobStore, embedder ContentEmbedder, vectors VectorReplacer, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		store:    store,
		embedder: embedder,
		vectors:  vectors,
		poll:     pollInterval,
		logger:   slog.Default(),
	}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single ingest job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob([]string{JobTypeIngest})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.processJob(ctx, job); err != nil {
		w.logger.Warn("ingest job failed", "job_id", job.ID, "error", err)
		if failErr := w.store.FailJob(job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

// IngestPayload is the queue payload for JobTypeIngest.
type IngestPayload struct {
	DocumentID string `json:"document_id"`
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) error {
	var payload IngestPayload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		return fmt.Errorf("parsing payload: %w", err)
	}

	if err := w.ingestDocument(ctx, payload.DocumentID); err != nil {
		if statusErr := w.store.SetDocumentStatus(payload.DocumentID, storage.DocStatusFailed, err.Error()); statusErr != nil {
			w.logger.Error("failed to mark document as failed", "document_id", payload.DocumentID, "error", statusErr)
		}
		return err
	}
	return nil
}

// ingestDocument builds the document's vector index: chunk, embed, swap.
// Any failure before the swap leaves the previous index untouched.
func (w *Worker) ingestDocument(ctx context.Context, documentID string) error {
	doc, err := w.store.GetDocument(documentID)
	if err != nil {
		return fmt.Errorf("loading document %s: %w", documentID, err)
	}

	if err := w.store.SetDocumentStatus(doc.ID, storage.DocStatusProcessing, ""); err != nil {
		return fmt.Errorf("marking document processing: %w", err)
	}

	chunker, err := ChunkerFor(doc.DocType)
	if err != nil {
		return err
	}

	chunks, err := chunker.Chunk(doc.Content)
	if err != nil {
		return fmt.Errorf("chunking document: %w", err)
	}
	if len(chunks) == 0 {
		return fmt.Errorf("document %s produced no text chunks", doc.ID)
	}

	vectors, err := w.embedder.EmbedBatch(ctx, chunks)
	if err != nil {
		return fmt.Errorf("embedding chunks: %w", err)
	}

	now := time.Now().UTC()
	records := make([]retrieval.Record, len(chunks))
	for i, text := range chunks {
		records[i] = retrieval.Record{
			ID:         uuid.New().String(),
			DocumentID: doc.ID,
			ChunkIndex: i,
			TextChunk:  text,
			Embedding:  vectors[i],
			CreatedAt:  now,
		}
	}

	if err := w.vectors.ReplaceDocument(ctx, doc.ID, records); err != nil {
		return fmt.Errorf("replacing vector index: %w", err)
	}

	if err := w.store.SetDocumentProcessed(doc.ID, len(chunks)); err != nil {
		return fmt.Errorf("marking document processed: %w", err)
	}

	return nil
}

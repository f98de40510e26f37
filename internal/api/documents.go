package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kalambet/askd/internal/ingest"
	"github.com/kalambet/askd/internal/storage"
)

// documentResponse is the wire shape for a document, without content.
type documentResponse struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	DocType    string `json:"docType"`
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
	ChunkCount int    `json:"chunkCount"`
	CreatedAt  string `json:"createdAt"`
	UpdatedAt  string `json:"updatedAt"`
}

func toDocumentResponse(d storage.Document) documentResponse {
	return documentResponse{
		ID:         d.ID,
		Name:       d.Name,
		DocType:    d.DocType,
		Status:     d.Status,
		Error:      d.Error,
		ChunkCount: d.ChunkCount,
		CreatedAt:  d.CreatedAt.Format(time.RFC3339),
		UpdatedAt:  d.UpdatedAt.Format(time.RFC3339),
	}
}

// docTypeFromName maps a file name to a supported document type.
// Unsupported extensions are rejected before any content is stored.
func docTypeFromName(name string) (string, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		return "pdf", nil
	case ".csv":
		return "csv", nil
	default:
		return "", ingest.ErrUnsupportedFormat
	}
}

func handleUploadDocument(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)

		if err := r.ParseMultipartForm(maxUploadSize); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid multipart form: %v", err)
			return
		}

		file, header, err := r.FormFile("file")
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "file field is required")
			return
		}
		defer file.Close()

		docType, err := docTypeFromName(header.Filename)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error",
				"unsupported document format %q, expected .pdf or .csv", filepath.Ext(header.Filename))
			return
		}

		content, err := io.ReadAll(file)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "reading upload: %v", err)
			return
		}
		if len(content) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "uploaded file is empty")
			return
		}

		now := time.Now().UTC()
		doc := storage.Document{
			ID:        uuid.New().String(),
			Name:      header.Filename,
			DocType:   docType,
			Content:   content,
			Status:    storage.DocStatusPending,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := deps.Store.SaveDocument(doc); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "saving document: %v", err)
			return
		}

		payload, err := json.Marshal(ingest.IngestPayload{DocumentID: doc.ID})
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "creating job payload: %v", err)
			return
		}
		// A failed ingest is user-actionable (bad file, bad encoding),
		// so the job gets a single attempt rather than the queue's
		// default retry budget.
		job := storage.Job{
			ID:          uuid.New().String(),
			Type:        ingest.JobTypeIngest,
			PayloadJSON: string(payload),
			MaxAttempts: 1,
		}
		if err := deps.Store.EnqueueJob(job); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "enqueueing ingest job: %v", err)
			return
		}

		w.WriteHeader(http.StatusAccepted)
		writeJSON(w, toDocumentResponse(doc))
	}
}

func handleListDocuments(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 50, 200)
		offset := parseIntParam(r, "offset", 0, 0)

		docs, err := deps.Store.ListDocuments(limit, offset)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing documents: %v", err)
			return
		}

		out := make([]documentResponse, 0, len(docs))
		for _, d := range docs {
			out = append(out, toDocumentResponse(d))
		}
		writeJSON(w, out)
	}
}

func handleGetDocument(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		doc, err := deps.Store.GetDocument(id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "document not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "loading document: %v", err)
			return
		}
		writeJSON(w, toDocumentResponse(doc))
	}
}

func handleDeleteDocument(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		if _, err := deps.Store.GetDocument(id); errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "document not found")
			return
		} else if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "loading document: %v", err)
			return
		}

		if deps.Vectors != nil {
			if err := deps.Vectors.DeleteDocument(r.Context(), id); err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "removing vector index: %v", err)
				return
			}
		}
		if err := deps.Store.DeleteDocument(id); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "deleting document: %v", err)
			return
		}
		writeJSON(w, map[string]string{"status": "deleted"})
	}
}

package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kalambet/askd/internal/agent"
	"github.com/kalambet/askd/internal/retrieval"
	"github.com/kalambet/askd/internal/sqltool"
	"github.com/kalambet/askd/internal/storage"
	"github.com/kalambet/askd/internal/websearch"
)

// Deps carries everything the HTTP handlers need.
type Deps struct {
	Store        *storage.Store
	Vectors      retrieval.VectorStore
	Searcher     *retrieval.Searcher
	Orchestrator *agent.Orchestrator
	Resolver     *sqltool.Resolver
	Suggester    *sqltool.Suggester
	SearchClient *websearch.Client // nil disables the web search tool
	Token        string
	TopK         int
}

// NewHandler builds the full HTTP surface. The health endpoint is
// always open; everything else sits behind bearer auth when a token
// is configured.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(requestLogger)

	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/chat", handleChat(deps))
		r.Get("/conversations", handleListConversations(deps))
		r.Get("/conversations/{id}", handleGetConversation(deps))
		r.Get("/conversations/{id}/messages", handleListMessages(deps))

		r.Post("/documents", handleUploadDocument(deps))
		r.Get("/documents", handleListDocuments(deps))
		r.Get("/documents/{id}", handleGetDocument(deps))
		r.Delete("/documents/{id}", handleDeleteDocument(deps))

		r.Get("/database/connection", handleGetConnection(deps))
		r.Post("/database/connection", handleSetConnection(deps))
		r.Delete("/database/connection", handleClearConnection(deps))
		r.Post("/database/connection/test", handleTestConnection(deps))
		r.Get("/database/schema", handleGetSchema(deps))
		r.Post("/database/query", handleRunQuery(deps))
		r.Post("/database/query/suggestions", handleQuerySuggestions(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start).Round(time.Millisecond),
		)
	})
}

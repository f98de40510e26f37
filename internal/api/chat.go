package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kalambet/askd/internal/agent"
	"github.com/kalambet/askd/internal/llm"
	"github.com/kalambet/askd/internal/storage"
)

type chatRequest struct {
	ConversationID string   `json:"conversationId,omitempty"`
	Message        string   `json:"message"`
	DocumentIDs    []string `json:"documentIds,omitempty"`
}

type chatResponse struct {
	ConversationID string             `json:"conversationId"`
	Reply          string             `json:"reply"`
	ToolTrace      []agent.Invocation `json:"toolTrace"`
	LimitReached   bool               `json:"limitReached,omitempty"`
}

func handleChat(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Message == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "message is required")
			return
		}

		conversationID := req.ConversationID
		var history []llm.Message
		if conversationID == "" {
			conversationID = uuid.New().String()
			title := req.Message
			if len(title) > 80 {
				title = title[:80]
			}
			now := time.Now().UTC()
			conv := storage.Conversation{ID: conversationID, Title: title, CreatedAt: now, UpdatedAt: now}
			if err := deps.Store.CreateConversation(conv); err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "creating conversation: %v", err)
				return
			}
		} else {
			if _, err := deps.Store.GetConversation(conversationID); errors.Is(err, storage.ErrNotFound) {
				httpError(w, http.StatusNotFound, "not_found", "conversation not found")
				return
			} else if err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "loading conversation: %v", err)
				return
			}
			stored, err := deps.Store.ListMessages(conversationID)
			if err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "loading messages: %v", err)
				return
			}
			for _, m := range stored {
				history = append(history, llm.Message{Role: m.Role, Content: m.Content})
			}
		}

		tools := availableTools(deps, req.DocumentIDs)

		result, err := deps.Orchestrator.Respond(r.Context(), agent.Turn{
			UserText: req.Message,
			History:  history,
			Tools:    tools,
		})
		if err != nil {
			httpError(w, http.StatusBadGateway, "api_error", "generating reply: %v", err)
			return
		}

		if err := persistTurn(deps, conversationID, req.Message, req.DocumentIDs, result); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "saving messages: %v", err)
			return
		}

		writeJSON(w, chatResponse{
			ConversationID: conversationID,
			Reply:          result.FinalText,
			ToolTrace:      traceOrEmpty(result.Trace),
			LimitReached:   result.LimitReached,
		})
	}
}

// availableTools builds the tool set for this turn. A tool is offered
// only when its backing resource is actually usable: document search
// needs processed documents of that type, SQL tools need a resolvable
// connection, web search needs an API key. With nothing available the
// model still answers from the conversation alone. A non-empty
// documentIDs restricts search to those documents.
func availableTools(deps Deps, documentIDs []string) []agent.Tool {
	var tools []agent.Tool

	requested := make(map[string]bool, len(documentIDs))
	for _, id := range documentIDs {
		requested[id] = true
	}

	docs, err := deps.Store.ListDocuments(200, 0)
	if err == nil {
		var pdfIDs, csvIDs []string
		for _, d := range docs {
			if d.Status != storage.DocStatusProcessed {
				continue
			}
			if len(requested) > 0 && !requested[d.ID] {
				continue
			}
			switch d.DocType {
			case "pdf":
				pdfIDs = append(pdfIDs, d.ID)
			case "csv":
				csvIDs = append(csvIDs, d.ID)
			}
		}
		if len(pdfIDs) > 0 {
			tools = append(tools, agent.NewPDFSearchTool(deps.Searcher, deps.TopK, pdfIDs))
		}
		if len(csvIDs) > 0 {
			tools = append(tools, agent.NewCSVSearchTool(deps.Searcher, deps.TopK, csvIDs))
		}
	}

	if d, err := currentDescriptor(deps); err == nil {
		tools = append(tools,
			agent.NewSQLQueryTool(d),
			agent.NewDatabaseSchemaTool(d),
			agent.NewSQLSuggestTool(deps.Suggester, d),
		)
	}

	if deps.SearchClient != nil {
		tools = append(tools, agent.NewWebSearchTool(deps.SearchClient, 5))
	}

	return tools
}

func persistTurn(deps Deps, conversationID, userText string, documentIDs []string, result *agent.Result) error {
	now := time.Now().UTC()

	if documentIDs == nil {
		documentIDs = []string{}
	}
	attachments, err := json.Marshal(documentIDs)
	if err != nil {
		return err
	}

	userMsg := storage.Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		Role:           "user",
		Content:        userText,
		Attachments:    string(attachments),
		CreatedAt:      now,
	}
	if err := deps.Store.AppendMessage(userMsg); err != nil {
		return err
	}

	trace, err := json.Marshal(traceOrEmpty(result.Trace))
	if err != nil {
		return err
	}
	assistantMsg := storage.Message{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		Role:           "assistant",
		Content:        result.FinalText,
		ToolTrace:      string(trace),
		CreatedAt:      now.Add(time.Millisecond),
	}
	if err := deps.Store.AppendMessage(assistantMsg); err != nil {
		return err
	}

	return deps.Store.TouchConversation(conversationID)
}

func traceOrEmpty(trace []agent.Invocation) []agent.Invocation {
	if trace == nil {
		return []agent.Invocation{}
	}
	return trace
}

func handleListConversations(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 50, 200)
		offset := parseIntParam(r, "offset", 0, 0)

		convs, err := deps.Store.ListConversations(limit, offset)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing conversations: %v", err)
			return
		}
		if convs == nil {
			convs = []storage.Conversation{}
		}
		writeJSON(w, convs)
	}
}

func handleGetConversation(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conv, err := deps.Store.GetConversation(chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "conversation not found")
			return
		} else if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "loading conversation: %v", err)
			return
		}
		writeJSON(w, conv)
	}
}

func handleListMessages(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		if _, err := deps.Store.GetConversation(id); errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "conversation not found")
			return
		} else if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "loading conversation: %v", err)
			return
		}

		msgs, err := deps.Store.ListMessages(id)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "listing messages: %v", err)
			return
		}
		if msgs == nil {
			msgs = []storage.Message{}
		}
		writeJSON(w, msgs)
	}
}

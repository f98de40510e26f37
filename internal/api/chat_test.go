package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/kalambet/askd/internal/agent"
	"github.com/kalambet/askd/internal/llm"
	"github.com/kalambet/askd/internal/storage"
)

func TestChat_NewConversation(t *testing.T) {
	e := newTestEnv(t)

	rec := postJSON(t, e, "/chat", map[string]string{"message": "hi there"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	var resp chatResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if resp.Reply != "hello" || resp.ConversationID == "" {
		t.Errorf("resp = %+v", resp)
	}
	if resp.ToolTrace == nil {
		t.Error("toolTrace should be an empty array, not null")
	}

	// Both turns are persisted.
	msgs, err := e.deps.Store.ListMessages(resp.ConversationID)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(msgs) != 2 || msgs[0].Role != "user" || msgs[1].Role != "assistant" {
		t.Errorf("messages = %+v", msgs)
	}
	if msgs[0].Attachments != "[]" {
		t.Errorf("attachments = %q, want []", msgs[0].Attachments)
	}
}

func TestChat_StoresAttachments(t *testing.T) {
	e := newTestEnv(t)

	rec := postJSON(t, e, "/chat", map[string]any{
		"message":     "summarize the report",
		"documentIds": []string{"doc-123", "doc-456"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var resp chatResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding: %v", err)
	}

	msgs, err := e.deps.Store.ListMessages(resp.ConversationID)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	var ids []string
	if err := json.Unmarshal([]byte(msgs[0].Attachments), &ids); err != nil {
		t.Fatalf("decoding attachments %q: %v", msgs[0].Attachments, err)
	}
	if len(ids) != 2 || ids[0] != "doc-123" || ids[1] != "doc-456" {
		t.Errorf("attachments = %v", ids)
	}
}

func TestChat_ContinuesConversation(t *testing.T) {
	e := newTestEnv(t)

	rec := postJSON(t, e, "/chat", map[string]string{"message": "first"})
	var resp chatResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)

	e.chat.replies = []llm.Message{{Role: "assistant", Content: "second answer"}}
	rec = postJSON(t, e, "/chat", map[string]string{
		"conversationId": resp.ConversationID,
		"message":        "second",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	msgs, err := e.deps.Store.ListMessages(resp.ConversationID)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(msgs) != 4 {
		t.Errorf("message count = %d, want 4", len(msgs))
	}
}

func TestChat_UnknownConversation(t *testing.T) {
	e := newTestEnv(t)
	rec := postJSON(t, e, "/chat", map[string]string{"conversationId": "nope", "message": "hi"})
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestChat_MissingMessage(t *testing.T) {
	e := newTestEnv(t)
	rec := postJSON(t, e, "/chat", map[string]string{})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestListConversationsAndMessages(t *testing.T) {
	e := newTestEnv(t)

	rec := postJSON(t, e, "/chat", map[string]string{"message": "hi"})
	var resp chatResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)

	rec = e.do(t, httptest.NewRequest(http.MethodGet, "/conversations", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("conversations status = %d", rec.Code)
	}
	var convs []storage.Conversation
	if err := json.Unmarshal(rec.Body.Bytes(), &convs); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if len(convs) != 1 || convs[0].ID != resp.ConversationID {
		t.Errorf("conversations = %+v", convs)
	}

	rec = e.do(t, httptest.NewRequest(http.MethodGet, "/conversations/"+resp.ConversationID+"/messages", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("messages status = %d", rec.Code)
	}
	var msgs []storage.Message
	if err := json.Unmarshal(rec.Body.Bytes(), &msgs); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if len(msgs) != 2 {
		t.Errorf("messages = %+v", msgs)
	}

	rec = e.do(t, httptest.NewRequest(http.MethodGet, "/conversations/"+resp.ConversationID, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("conversation status = %d", rec.Code)
	}
	var conv storage.Conversation
	if err := json.Unmarshal(rec.Body.Bytes(), &conv); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if conv.ID != resp.ConversationID {
		t.Errorf("conversation = %+v", conv)
	}
}

func TestAvailableTools_Gating(t *testing.T) {
	e := newTestEnv(t)

	// Nothing configured: no tools at all.
	if tools := availableTools(e.deps, nil); len(tools) != 0 {
		t.Errorf("tools = %d, want 0", len(tools))
	}

	// A processed CSV enables csv search only.
	doc := storage.Document{ID: "d1", Name: "a.csv", DocType: "csv", Content: []byte("id\n1\n"), Status: storage.DocStatusProcessed}
	if err := e.deps.Store.SaveDocument(doc); err != nil {
		t.Fatalf("SaveDocument: %v", err)
	}
	tools := availableTools(e.deps, nil)
	if len(tools) != 1 || tools[0].Name() != "search_csv_documents" {
		t.Fatalf("tools = %+v", toolNames(tools))
	}

	// Restricting to an unrelated document id hides it again.
	if tools := availableTools(e.deps, []string{"other"}); len(tools) != 0 {
		t.Errorf("filtered tools = %v", toolNames(tools))
	}

	// A connection enables the SQL tools.
	e.env["SQLITE_DB_PATH"] = makeSQLiteFile(t, "CREATE TABLE t (id INTEGER)")
	tools = availableTools(e.deps, nil)
	names := toolNames(tools)
	want := map[string]bool{"search_csv_documents": true, "run_sql_query": true, "database_schema": true, "suggest_sql_queries": true}
	if len(names) != len(want) {
		t.Fatalf("tools = %v", names)
	}
	for _, n := range names {
		if !want[n] {
			t.Errorf("unexpected tool %q", n)
		}
	}
}

func toolNames(tools []agent.Tool) []string {
	names := make([]string, len(tools))
	for i, tool := range tools {
		names[i] = tool.Name()
	}
	return names
}

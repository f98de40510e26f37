package sqltool

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kalambet/askd/internal/llm"
)

type fakeChat struct {
	reply    llm.Message
	err      error
	calls    int
	messages []llm.Message
	opts     *llm.ChatOptions
}

func (f *fakeChat) Chat(_ context.Context, _ string, messages []llm.Message, opts *llm.ChatOptions) (llm.Message, error) {
	f.calls++
	f.messages = messages
	f.opts = opts
	if f.err != nil {
		return llm.Message{}, f.err
	}
	return f.reply, nil
}

func suggestionJSON(queries ...string) string {
	var b strings.Builder
	b.WriteString(`{"analysis":"the query scans the whole table","suggestions":[`)
	for i, q := range queries {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString(`{"title":"t","summary":"s","query":"` + q + `","rationale":"r","warnings":[]}`)
	}
	b.WriteString(`]}`)
	return b.String()
}

func TestSuggest_WithSchema(t *testing.T) {
	d := sqliteFixture(t, "CREATE TABLE invoices (id INTEGER PRIMARY KEY, amount REAL)")
	chat := &fakeChat{reply: llm.Message{Role: "assistant", Content: suggestionJSON("SELECT id FROM invoices")}}

	set, err := NewSuggester(chat, "test-model").Suggest(context.Background(), d, "SELECT * FROM invoices", 5)
	if err != nil {
		t.Fatalf("Suggest: %v", err)
	}

	if !set.SchemaIncluded || set.SchemaError != "" {
		t.Errorf("schemaIncluded = %v, schemaError = %q", set.SchemaIncluded, set.SchemaError)
	}
	if set.Analysis == "" {
		t.Error("analysis missing")
	}
	if len(set.Suggestions) != 1 {
		t.Fatalf("suggestions = %+v", set.Suggestions)
	}
	s := set.Suggestions[0]
	if s.ID == "" {
		t.Error("suggestion has no id")
	}
	if s.Query != "SELECT id FROM invoices" {
		t.Errorf("query = %q", s.Query)
	}

	if chat.calls != 1 {
		t.Errorf("model called %d times, want exactly 1", chat.calls)
	}
	prompt := chat.messages[len(chat.messages)-1].Content
	if !strings.Contains(prompt, "invoices") {
		t.Errorf("prompt missing schema context: %q", prompt)
	}
	if chat.opts == nil || chat.opts.Format == nil {
		t.Error("structured output format not requested")
	}
}

func TestSuggest_SchemaUnavailableDegrades(t *testing.T) {
	r := NewResolver("/base", func(string) string { return "" })
	d, err := r.Resolve(&DescriptorInput{Mode: "sqlite", SQLitePath: filepath.Join(t.TempDir(), "gone.db")})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	chat := &fakeChat{reply: llm.Message{Content: suggestionJSON("SELECT 1")}}

	set, err := NewSuggester(chat, "test-model").Suggest(context.Background(), d, "SELECT 1", 5)
	if err != nil {
		t.Fatalf("Suggest: %v", err)
	}
	if set.SchemaIncluded {
		t.Error("schemaIncluded = true despite introspection failure")
	}
	if set.SchemaError == "" {
		t.Error("schemaError missing")
	}
	if len(set.Suggestions) != 1 {
		t.Errorf("suggestions = %+v", set.Suggestions)
	}
}

func TestSuggest_CapsAndDropsUnrunnable(t *testing.T) {
	d := sqliteFixture(t, "CREATE TABLE t (id INTEGER)")
	queries := []string{"SELECT 1", "", "SELECT 2", "SELECT 3", "SELECT 4", "SELECT 5", "SELECT 6", "SELECT 7"}
	chat := &fakeChat{reply: llm.Message{Content: suggestionJSON(queries...)}}

	set, err := NewSuggester(chat, "test-model").Suggest(context.Background(), d, "SELECT * FROM t", 0)
	if err != nil {
		t.Fatalf("Suggest: %v", err)
	}
	if len(set.Suggestions) != DefaultMaxSuggestions {
		t.Fatalf("got %d suggestions, want %d", len(set.Suggestions), DefaultMaxSuggestions)
	}
	seen := map[string]bool{}
	for _, s := range set.Suggestions {
		if s.Query == "" {
			t.Error("suggestion without runnable query survived")
		}
		if seen[s.ID] {
			t.Errorf("duplicate id %s", s.ID)
		}
		seen[s.ID] = true
	}
}

func TestSuggest_FencedResponse(t *testing.T) {
	d := sqliteFixture(t, "CREATE TABLE t (id INTEGER)")
	chat := &fakeChat{reply: llm.Message{Content: "```json\n" + suggestionJSON("SELECT 1") + "\n```"}}

	set, err := NewSuggester(chat, "test-model").Suggest(context.Background(), d, "SELECT * FROM t", 3)
	if err != nil {
		t.Fatalf("Suggest: %v", err)
	}
	if len(set.Suggestions) != 1 {
		t.Errorf("suggestions = %+v", set.Suggestions)
	}
}

func TestSuggest_ModelFailureNotRetried(t *testing.T) {
	d := sqliteFixture(t, "CREATE TABLE t (id INTEGER)")
	chat := &fakeChat{err: errors.New("model overloaded")}

	_, err := NewSuggester(chat, "test-model").Suggest(context.Background(), d, "SELECT 1", 3)
	if err == nil {
		t.Fatal("expected error")
	}
	if chat.calls != 1 {
		t.Errorf("model called %d times, want 1", chat.calls)
	}
}

func TestSuggest_EmptyQuery(t *testing.T) {
	d := sqliteFixture(t, "CREATE TABLE t (id INTEGER)")
	chat := &fakeChat{}
	if _, err := NewSuggester(chat, "test-model").Suggest(context.Background(), d, "  ", 3); err == nil {
		t.Fatal("expected error for empty query")
	}
	if chat.calls != 0 {
		t.Errorf("model called %d times for empty query", chat.calls)
	}
}

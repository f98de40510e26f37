package sqltool

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/kalambet/askd/internal/llm"
)

// DefaultMaxSuggestions caps how many suggestions a single request returns.
const DefaultMaxSuggestions = 5

// Suggestion is one reviewed alternative to the user's query. Query is
// always runnable as-is against the same connection.
type Suggestion struct {
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	Summary   string   `json:"summary"`
	Query     string   `json:"query"`
	Rationale string   `json:"rationale,omitempty"`
	Warnings  []string `json:"warnings,omitempty"`
}

// SuggestionSet is the full response to a suggestion request.
// SchemaIncluded reports whether live schema context reached the model;
// when introspection failed, SchemaError carries the reason and the
// suggestions were generated from the query text alone.
type SuggestionSet struct {
	Analysis       string       `json:"analysis,omitempty"`
	Suggestions    []Suggestion `json:"suggestions"`
	SchemaIncluded bool         `json:"schemaIncluded"`
	SchemaError    string       `json:"schemaError,omitempty"`
}

// ChatClient is the single-call LLM surface the suggester needs.
type ChatClient interface {
	Chat(ctx context.Context, model string, messages []llm.Message, opts *llm.ChatOptions) (llm.Message, error)
}

// Suggester generates improved query alternatives with one model call.
type Suggester struct {
	client ChatClient
	model  string
}

func NewSuggester(client ChatClient, model string) *Suggester {
	return &Suggester{client: client, model: model}
}

const suggestSystemPrompt = `You are an expert SQL reviewer. Given a user's SQL query and optionally the database schema, propose improved or alternative queries. Every suggested query must be complete and runnable as-is on the same database. Respond with JSON only.`

var suggestFormat = &llm.Schema{
	Type: "object",
	Properties: map[string]llm.SchemaProperty{
		"analysis":    {Type: "string", Description: "brief analysis of the original query"},
		"suggestions": {Type: "array", Description: "alternative queries with title, summary, query, rationale and warnings"},
	},
	Required: []string{"suggestions"},
}

// Suggest reviews the query and proposes up to maxSuggestions
// alternatives. Schema context is best effort: an introspection failure
// degrades the request instead of failing it. The model is called
// exactly once; a model failure is returned to the caller unretried.
func (s *Suggester) Suggest(ctx context.Context, d Descriptor, query string, maxSuggestions int) (*SuggestionSet, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("query must not be empty")
	}
	if maxSuggestions <= 0 {
		maxSuggestions = DefaultMaxSuggestions
	}

	set := &SuggestionSet{Suggestions: []Suggestion{}}

	var schemaText string
	snapshot, err := Introspect(ctx, d)
	if err != nil {
		set.SchemaError = err.Error()
	} else {
		schemaText = summarizeSnapshot(snapshot)
		set.SchemaIncluded = true
	}

	var prompt strings.Builder
	fmt.Fprintf(&prompt, "Original query:\n%s\n", query)
	if schemaText != "" {
		fmt.Fprintf(&prompt, "\nDatabase schema:\n%s\n", schemaText)
	} else {
		prompt.WriteString("\nNo schema information is available; suggest based on the query alone.\n")
	}
	fmt.Fprintf(&prompt, "\nPropose up to %d suggestions.", maxSuggestions)

	reply, err := s.client.Chat(ctx, s.model, []llm.Message{
		{Role: "system", Content: suggestSystemPrompt},
		{Role: "user", Content: prompt.String()},
	}, &llm.ChatOptions{Format: suggestFormat})
	if err != nil {
		return nil, fmt.Errorf("generating suggestions: %w", err)
	}

	var parsed struct {
		Analysis    string `json:"analysis"`
		Suggestions []struct {
			Title     string   `json:"title"`
			Summary   string   `json:"summary"`
			Query     string   `json:"query"`
			Rationale string   `json:"rationale"`
			Warnings  []string `json:"warnings"`
		} `json:"suggestions"`
	}
	if err := json.Unmarshal([]byte(extractJSON(reply.Content)), &parsed); err != nil {
		return nil, fmt.Errorf("parsing model response: %w", err)
	}

	set.Analysis = parsed.Analysis
	for _, raw := range parsed.Suggestions {
		if strings.TrimSpace(raw.Query) == "" {
			continue
		}
		set.Suggestions = append(set.Suggestions, Suggestion{
			ID:        uuid.New().String(),
			Title:     raw.Title,
			Summary:   raw.Summary,
			Query:     raw.Query,
			Rationale: raw.Rationale,
			Warnings:  raw.Warnings,
		})
		if len(set.Suggestions) == maxSuggestions {
			break
		}
	}
	return set, nil
}

const (
	summaryMaxTables  = 20
	summaryMaxColumns = 30
)

// summarizeSnapshot renders a compact one-table-per-line schema summary
// for the prompt, truncated to keep the context bounded.
func summarizeSnapshot(s *SchemaSnapshot) string {
	var b strings.Builder
	for i, table := range s.Tables {
		if i == summaryMaxTables {
			fmt.Fprintf(&b, "... and %d more tables\n", len(s.Tables)-summaryMaxTables)
			break
		}
		b.WriteString(table.Name)
		b.WriteString(" (")
		for j, col := range table.Columns {
			if j == summaryMaxColumns {
				fmt.Fprintf(&b, ", ... %d more columns", len(table.Columns)-summaryMaxColumns)
				break
			}
			if j > 0 {
				b.WriteString(", ")
			}
			b.WriteString(col.Name)
			if col.Type != "" {
				b.WriteString(" ")
				b.WriteString(col.Type)
			}
			if col.PrimaryKey {
				b.WriteString(" PK")
			}
		}
		b.WriteString(")")
		for _, fk := range table.ForeignKeys {
			fmt.Fprintf(&b, " [%s -> %s.%s]", fk.Column, fk.ReferencedTable, fk.ReferencedColumn)
		}
		b.WriteString("\n")
	}
	for _, v := range s.Views {
		fmt.Fprintf(&b, "view %s\n", v.Name)
	}
	return strings.TrimRight(b.String(), "\n")
}

// extractJSON tolerates markdown fences and prose around the JSON body.
func extractJSON(content string) string {
	s := strings.TrimSpace(content)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}

package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/kalambet/askd/internal/llm"
	"github.com/kalambet/askd/internal/retrieval"
	"github.com/kalambet/askd/internal/sqltool"
	"github.com/kalambet/askd/internal/websearch"
)

// Tool is one capability the orchestrator can offer the model. Run
// receives the raw JSON arguments from the model's tool call and
// returns text that is folded back into the conversation.
type Tool struct {
	Spec llm.ToolSpec
	Run  func(ctx context.Context, args json.RawMessage) (string, error)
}

// Name returns the tool's wire name used for dispatch.
func (t Tool) Name() string { return t.Spec.Function.Name }

func queryArgsSchema(description string) llm.Schema {
	return llm.Schema{
		Type: "object",
		Properties: map[string]llm.SchemaProperty{
			"query": {Type: "string", Description: description},
		},
		Required: []string{"query"},
	}
}

type queryArgs struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

func parseQueryArgs(raw json.RawMessage) (queryArgs, error) {
	var args queryArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return args, fmt.Errorf("invalid tool arguments: %w", err)
	}
	if args.Query == "" {
		return args, fmt.Errorf("tool arguments missing required field %q", "query")
	}
	return args, nil
}

// NewPDFSearchTool searches the given PDF documents' vector index.
func NewPDFSearchTool(searcher *retrieval.Searcher, topK int, documentIDs []string) Tool {
	return newDocumentSearchTool(
		"search_pdf_documents",
		"Search the user's uploaded PDF documents for passages relevant to a natural-language query.",
		searcher, topK, documentIDs)
}

// NewCSVSearchTool searches the given CSV documents' vector index.
func NewCSVSearchTool(searcher *retrieval.Searcher, topK int, documentIDs []string) Tool {
	return newDocumentSearchTool(
		"search_csv_documents",
		"Search the user's uploaded CSV files for rows relevant to a natural-language query.",
		searcher, topK, documentIDs)
}

func newDocumentSearchTool(name, description string, searcher *retrieval.Searcher, topK int, documentIDs []string) Tool {
	return Tool{
		Spec: llm.ToolSpec{
			Type: "function",
			Function: llm.FunctionSpec{
				Name:        name,
				Description: description,
				Parameters:  queryArgsSchema("what to look for in the documents"),
			},
		},
		Run: func(ctx context.Context, raw json.RawMessage) (string, error) {
			args, err := parseQueryArgs(raw)
			if err != nil {
				return "", err
			}
			chunks, err := searcher.Search(ctx, args.Query, topK, documentIDs)
			if err != nil {
				return "", err
			}
			return retrieval.FormatChunks(chunks, 0), nil
		},
	}
}

// NewSQLQueryTool executes SQL against the configured connection.
func NewSQLQueryTool(d sqltool.Descriptor) Tool {
	return Tool{
		Spec: llm.ToolSpec{
			Type: "function",
			Function: llm.FunctionSpec{
				Name:        "run_sql_query",
				Description: "Execute a SQL statement against the connected database and return the result.",
				Parameters: llm.Schema{
					Type: "object",
					Properties: map[string]llm.SchemaProperty{
						"query": {Type: "string", Description: "the SQL statement to execute"},
						"limit": {Type: "integer", Description: "maximum number of rows to return"},
					},
					Required: []string{"query"},
				},
			},
		},
		Run: func(ctx context.Context, raw json.RawMessage) (string, error) {
			args, err := parseQueryArgs(raw)
			if err != nil {
				return "", err
			}
			limit := args.Limit
			if limit <= 0 {
				limit = sqltool.DefaultRowLimit
			}
			res, err := sqltool.Execute(ctx, d, args.Query, limit)
			if err != nil {
				return "", err
			}
			out, err := json.Marshal(res)
			if err != nil {
				return "", fmt.Errorf("encoding query result: %w", err)
			}
			return string(out), nil
		},
	}
}

// NewSQLSuggestTool generates improved query alternatives.
func NewSQLSuggestTool(suggester *sqltool.Suggester, d sqltool.Descriptor) Tool {
	return Tool{
		Spec: llm.ToolSpec{
			Type: "function",
			Function: llm.FunctionSpec{
				Name:        "suggest_sql_queries",
				Description: "Review a SQL query and propose improved or alternative queries for the connected database.",
				Parameters:  queryArgsSchema("the SQL query to review"),
			},
		},
		Run: func(ctx context.Context, raw json.RawMessage) (string, error) {
			args, err := parseQueryArgs(raw)
			if err != nil {
				return "", err
			}
			set, err := suggester.Suggest(ctx, d, args.Query, sqltool.DefaultMaxSuggestions)
			if err != nil {
				return "", err
			}
			out, err := json.Marshal(set)
			if err != nil {
				return "", fmt.Errorf("encoding suggestions: %w", err)
			}
			return string(out), nil
		},
	}
}

// NewDatabaseSchemaTool exposes live schema introspection to the model.
func NewDatabaseSchemaTool(d sqltool.Descriptor) Tool {
	return Tool{
		Spec: llm.ToolSpec{
			Type: "function",
			Function: llm.FunctionSpec{
				Name:        "database_schema",
				Description: "List the tables, columns, keys and views of the connected database.",
				Parameters:  llm.Schema{Type: "object", Properties: map[string]llm.SchemaProperty{}},
			},
		},
		Run: func(ctx context.Context, _ json.RawMessage) (string, error) {
			snap, err := sqltool.Introspect(ctx, d)
			if err != nil {
				return "", err
			}
			out, err := json.Marshal(snap)
			if err != nil {
				return "", fmt.Errorf("encoding schema: %w", err)
			}
			return string(out), nil
		},
	}
}

// NewWebSearchTool runs live web searches through the search API.
func NewWebSearchTool(client *websearch.Client, maxResults int) Tool {
	return Tool{
		Spec: llm.ToolSpec{
			Type: "function",
			Function: llm.FunctionSpec{
				Name:        "web_search",
				Description: "Search the web for current information not present in the user's documents or database.",
				Parameters:  queryArgsSchema("the web search query"),
			},
		},
		Run: func(ctx context.Context, raw json.RawMessage) (string, error) {
			args, err := parseQueryArgs(raw)
			if err != nil {
				return "", err
			}
			results, err := client.Search(ctx, args.Query, maxResults)
			if err != nil {
				return "", err
			}
			return websearch.FormatResults(results), nil
		},
	}
}

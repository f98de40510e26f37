package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/askd/internal/sqltool"
	"github.com/kalambet/askd/internal/storage"
)

// NewMCPServer exposes the document index and the SQL connection as
// MCP tools over stdio, so editor and agent clients can use them
// alongside the HTTP API.
func NewMCPServer(deps Deps) *server.MCPServer {
	s := server.NewMCPServer(
		"askd",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("askd — local assistant over uploaded documents and a connected SQL database."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("search_documents",
			mcp.WithDescription("Semantically search the uploaded PDF and CSV documents for relevant passages."),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of passages (default 5)")),
		),
		mcpSearchDocuments(deps),
	)

	s.AddTool(
		mcp.NewTool("run_sql_query",
			mcp.WithDescription("Execute a SQL statement against the configured database connection."),
			mcp.WithString("query", mcp.Description("SQL statement to execute"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of rows (default 100)")),
		),
		mcpRunSQLQuery(deps),
	)

	s.AddTool(
		mcp.NewTool("database_schema",
			mcp.WithDescription("List the tables, columns, keys and views of the configured database connection."),
		),
		mcpDatabaseSchema(deps),
	)

	return s
}

func mcpSearchDocuments(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		limit := req.GetInt("limit", 5)
		if limit <= 0 {
			limit = 5
		}
		if limit > 50 {
			limit = 50
		}

		var processed []string
		docs, err := deps.Store.ListDocuments(200, 0)
		if err != nil {
			return mcpError(fmt.Sprintf("listing documents: %v", err)), nil
		}
		for _, d := range docs {
			if d.Status == storage.DocStatusProcessed {
				processed = append(processed, d.ID)
			}
		}
		if len(processed) == 0 {
			return mcpText("No processed documents are available."), nil
		}

		chunks, err := deps.Searcher.Search(ctx, query, limit, processed)
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}

		b, err := json.Marshal(chunks)
		if err != nil {
			return mcpError(fmt.Sprintf("encoding results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpRunSQLQuery(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}
		limit := req.GetInt("limit", sqltool.DefaultRowLimit)

		d, err := currentDescriptor(deps)
		if err != nil {
			return mcpError(fmt.Sprintf("no usable database connection: %v", err)), nil
		}

		res, err := sqltool.Execute(ctx, d, query, limit)
		if err != nil {
			return mcpError(err.Error()), nil
		}

		b, err := json.Marshal(res)
		if err != nil {
			return mcpError(fmt.Sprintf("encoding result: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpDatabaseSchema(deps Deps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		d, err := currentDescriptor(deps)
		if err != nil {
			return mcpError(fmt.Sprintf("no usable database connection: %v", err)), nil
		}

		snap, err := sqltool.Introspect(ctx, d)
		if err != nil {
			return mcpError(err.Error()), nil
		}

		b, err := json.Marshal(snap)
		if err != nil {
			return mcpError(fmt.Sprintf("encoding schema: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}

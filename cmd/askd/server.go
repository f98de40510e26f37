package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/askd/internal/agent"
	"github.com/kalambet/askd/internal/api"
	"github.com/kalambet/askd/internal/config"
	"github.com/kalambet/askd/internal/ingest"
	"github.com/kalambet/askd/internal/llm"
	"github.com/kalambet/askd/internal/retrieval"
	"github.com/kalambet/askd/internal/sqltool"
	"github.com/kalambet/askd/internal/storage"
	"github.com/kalambet/askd/internal/websearch"
)

var (
	serveMCP     bool
	servePort    int
	serveDataDir string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the askd server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

func init() {
	serveCmd.Flags().BoolVar(&serveMCP, "mcp", false, "also expose MCP tools on stdio")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "listen port (overrides ASKD_SERVER_PORT)")
	serveCmd.Flags().StringVar(&serveDataDir, "data-dir", "", "data directory (overrides ASKD_STORAGE_DATA_DIR)")
}

func runServer() error {
	printStep("starting askd %s", version)

	cfg := config.Load()
	if servePort > 0 {
		cfg.Server.Port = servePort
	}
	if serveDataDir != "" {
		cfg.Storage.DataDir = serveDataDir
	}

	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Check model availability before accepting traffic.
	llmClient := llm.New(cfg.Ollama.BaseURL)
	if err := llm.EnsureReady(ctx, llmClient, cfg.Ollama.ChatModel, cfg.Ollama.EmbedModel, os.Stderr); err != nil {
		return err
	}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			printWarning("closing storage: %v", err)
		}
	}()

	embedder := retrieval.NewEmbedder(llmClient, cfg.Ollama.EmbedModel)
	vectors := retrieval.NewSQLiteStore(store.DB())
	searcher := retrieval.NewSearcher(embedder, vectors)

	toolTimeout, err := time.ParseDuration(cfg.Agent.ToolTimeout)
	if err != nil {
		slog.Warn("invalid tool timeout, using default 30s", "value", cfg.Agent.ToolTimeout, "error", err)
		toolTimeout = 30 * time.Second
	}
	orchestrator := agent.NewOrchestrator(llmClient, cfg.Ollama.ChatModel, cfg.Agent.MaxRounds, toolTimeout)

	var searchClient *websearch.Client
	if cfg.Search.TavilyAPIKey != "" {
		searchClient = websearch.NewClient(cfg.Search.TavilyAPIKey)
	} else {
		slog.Info("web search disabled, no API key configured")
	}

	deps := api.Deps{
		Store:        store,
		Vectors:      vectors,
		Searcher:     searcher,
		Orchestrator: orchestrator,
		Resolver:     sqltool.NewResolver(cfg.Storage.DataDir, nil),
		Suggester:    sqltool.NewSuggester(llmClient, cfg.Ollama.ChatModel),
		SearchClient: searchClient,
		Token:        cfg.Server.APIToken,
		TopK:         cfg.Retrieval.TopK,
	}

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: api.NewHandler(deps),
	}

	// Ingest jobs run in-process off the SQLite queue.
	worker := ingest.NewWorker(store, embedder, vectors, 500*time.Millisecond)
	go worker.Run(ctx)

	if serveMCP {
		stdioSrv := server.NewStdioServer(api.NewMCPServer(deps))
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)")
	}

	errCh := make(chan error, 1)
	go func() {
		printSuccess("askd listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		printStep("shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

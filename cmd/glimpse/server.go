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

	"github.com/glimpsehq/glimpse/internal/analysis"
	"github.com/glimpsehq/glimpse/internal/api"
	"github.com/glimpsehq/glimpse/internal/config"
	"github.com/glimpsehq/glimpse/internal/media"
	"github.com/glimpsehq/glimpse/internal/pipeline"
	"github.com/glimpsehq/glimpse/internal/retrieval"
	"github.com/glimpsehq/glimpse/internal/storage"
	"github.com/glimpsehq/glimpse/internal/tagging"
	"github.com/glimpsehq/glimpse/internal/task"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the glimpse server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		archiveDir, _ := cmd.Flags().GetString("archive-dir")
		return runServer(archiveDir)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show glimpse system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func init() {
	startCmd.Flags().String("archive-dir", "", "default directory of post archive files for processing")
}

func runServer(archiveDir string) error {
	fmt.Fprintf(os.Stderr, "glimpse version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logLevel := slog.LevelInfo
	if strings.EqualFold(cfg.Log.Level, "debug") {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	provider := analysis.NewClient(cfg.Provider.BaseURL, cfg.Provider.APIKey,
		cfg.Provider.EmbedModel, cfg.Provider.ChatModel)

	vectorStore := retrieval.NewSQLiteVectorStore(store.DB())
	searcher := retrieval.NewSearcher(provider, vectorStore, store, cfg.Retrieval.TopK)

	downloader, err := media.NewDownloader(cfg.Storage.ImageDir)
	if err != nil {
		return err
	}

	tagger := tagging.NewAutoTagger(store, provider, logger)
	pipe := pipeline.New(store, vectorStore, provider, downloader, tagger, logger)
	analyzer := pipeline.NewImageAnalyzer(store, vectorStore, provider, cfg.Storage.ImageDir, logger)
	registry := task.NewRegistry()

	deps := api.AppDeps{
		Store:      store,
		Searcher:   searcher,
		Pipeline:   pipe,
		Analyzer:   analyzer,
		Tagger:     tagger,
		Tasks:      registry,
		Logger:     logger,
		ImageDir:   cfg.Storage.ImageDir,
		ArchiveDir: archiveDir,
	}

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: api.NewAppHandler(deps),
	}

	// MCP over stdio, alongside HTTP.
	mcpSrv := api.NewMCPServer(deps)
	stdioSrv := server.NewStdioServer(mcpSrv)
	go func() {
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("MCP stdio server error", "error", err)
		}
	}()
	slog.Info("MCP server started (stdio transport)")

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "glimpse listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(serverURL + "/health")
	running := false
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == 200 {
			running = true
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	printStatus("Provider", "%s", cfg.Provider.BaseURL)
	printStatus("Embed model", "%s", cfg.Provider.EmbedModel)
	printStatus("Chat model", "%s", cfg.Provider.ChatModel)

	if running {
		statsResp, err := client.Get(serverURL + "/api/stats")
		if err == nil {
			var stats storage.Stats
			if decodeErr := decodeJSON(statsResp, &stats); decodeErr == nil {
				printStatus("Posts", "%d (%d with vectors)", stats.TotalPosts, stats.PostsWithVectors)
				printStatus("Images", "%d posts (%d analyzed)", stats.PostsWithImages, stats.PostsWithAnalyzed)
			}
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

// Command protoboard is the prototyping-editor session service.
//
// Usage:
//
//	protoboard -config protoboard.yaml     # run with config file
//	protoboard -addr :8086                 # run with defaults
//	protoboard -mcp                        # serve tools over stdio instead of HTTP
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	_ "modernc.org/sqlite"

	"github.com/hazyhaar/protoboard/dbopen"
	"github.com/hazyhaar/protoboard/draft"
	"github.com/hazyhaar/protoboard/editor"
	"github.com/hazyhaar/protoboard/prototype"
)

func main() {
	configPath := flag.String("config", "", "path to protoboard.yaml config file")
	addr := flag.String("addr", "", "HTTP listen address (overrides config)")
	draftDB := flag.String("draft-db", "", "path to the draft SQLite database (overrides config)")
	storageURL := flag.String("storage-url", "", "document storage base URL (overrides config)")
	mcpStdio := flag.Bool("mcp", false, "serve MCP over stdio instead of HTTP")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	flag.Parse()

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	// Stdout belongs to the MCP transport in stdio mode; logs go to stderr.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, *configPath, *addr, *draftDB, *storageURL, *mcpStdio); err != nil {
		logger.Error("protoboard: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, configPath, addr, draftDB, storageURL string, mcpStdio bool) error {
	cfg, err := resolveConfig(configPath, addr, draftDB, storageURL)
	if err != nil {
		return err
	}
	cfg.Logger = logger

	db, err := dbopen.Open(cfg.DraftDBPath, dbopen.WithMkdirAll(), dbopen.WithSchema(draft.Schema))
	if err != nil {
		return fmt.Errorf("draft db: %w", err)
	}
	defer db.Close()

	store := prototype.NewClient(prototype.ClientOptions{
		BaseURL:  cfg.Storage.BaseURL,
		Timeout:  cfg.Storage.Timeout,
		Attempts: cfg.Storage.Attempts,
		Backoff:  cfg.Storage.Backoff,
		Logger:   logger,
	})

	eng, err := editor.New(cfg, store, draft.New(db))
	if err != nil {
		return fmt.Errorf("init: %w", err)
	}
	defer eng.Shutdown(context.Background())

	go pruneLoop(ctx, logger, eng, cfg.DraftTTL)

	if mcpStdio {
		return runMCP(ctx, eng)
	}
	return runHTTP(ctx, eng, cfg.ListenAddr)
}

func resolveConfig(configPath, addr, draftDB, storageURL string) (*editor.Config, error) {
	cfg := &editor.Config{}
	if configPath != "" {
		loaded, err := editor.LoadConfigFile(configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if addr != "" {
		cfg.ListenAddr = addr
	}
	if draftDB != "" {
		cfg.DraftDBPath = draftDB
	}
	if storageURL != "" {
		cfg.Storage.BaseURL = storageURL
	}
	// The draft database is opened before the engine applies its defaults.
	if cfg.DraftDBPath == "" {
		cfg.DraftDBPath = "protoboard.db"
	}
	return cfg, nil
}

// pruneLoop deletes expired drafts once an hour.
func pruneLoop(ctx context.Context, logger *slog.Logger, eng *editor.Engine, ttl time.Duration) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := eng.PruneDrafts(ctx, ttl)
			if err != nil {
				logger.Warn("draft prune", "error", err)
			} else if n > 0 {
				logger.Info("drafts pruned", "count", n)
			}
		}
	}
}

// runMCP serves the tool surface over stdio until the context ends.
func runMCP(ctx context.Context, eng *editor.Engine) error {
	srv := mcp.NewServer(&mcp.Implementation{
		Name:    "protoboard",
		Version: "1.0.0",
	}, nil)
	eng.RegisterMCP(srv)

	slog.Info("mcp serving on stdio")
	if err := srv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
		return fmt.Errorf("mcp: %w", err)
	}
	return nil
}

func runHTTP(ctx context.Context, eng *editor.Engine, addr string) error {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	eng.RegisterHTTP(r)

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		slog.Info("server starting", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown", "error", err)
	}
	slog.Info("server stopped")
	return nil
}

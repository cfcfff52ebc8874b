package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nikhilbhutani/financial-analyzer/internal/analysis"
	"github.com/nikhilbhutani/financial-analyzer/internal/api"
	"github.com/nikhilbhutani/financial-analyzer/internal/api/handlers"
	"github.com/nikhilbhutani/financial-analyzer/internal/cache"
	"github.com/nikhilbhutani/financial-analyzer/internal/config"
	"github.com/nikhilbhutani/financial-analyzer/internal/database"
	"github.com/nikhilbhutani/financial-analyzer/internal/engine"
	"github.com/nikhilbhutani/financial-analyzer/internal/ledger"
	"github.com/nikhilbhutani/financial-analyzer/internal/llm"
	"github.com/nikhilbhutani/financial-analyzer/internal/queue"
	"github.com/nikhilbhutani/financial-analyzer/internal/search"
	"github.com/nikhilbhutani/financial-analyzer/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	ctx := context.Background()

	l, err := ledger.Open(ctx, cfg.Database)
	if err != nil {
		slog.Error("failed to open ledger", "error", err)
		os.Exit(1)
	}
	defer l.Close()
	if dialect, _ := database.DialectOf(cfg.Database.URL); dialect == database.Memory {
		slog.Warn("memory ledger is process-local, queued analyses will not reach a worker")
	}

	store, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		slog.Error("failed to init document store", "error", err)
		os.Exit(1)
	}

	// Redis backs both the queue and the search cache. The API still serves
	// sync requests while it is down; /readyz reports it.
	rdb, err := cache.NewClient(cfg.Redis.URL)
	if err != nil {
		slog.Error("invalid redis url", "error", err)
		os.Exit(1)
	}
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		slog.Warn("redis unavailable, async submissions will fail", "error", err)
	}

	gw, err := llm.NewGateway(ctx, cfg.LLM)
	if err != nil {
		slog.Error("failed to init llm gateway", "error", err)
		os.Exit(1)
	}

	searcher := search.NewClient(cfg.Search, cache.NewCache(rdb, "search:"))
	eng, err := engine.New(cfg, gw, searcher)
	if err != nil {
		slog.Error("failed to init analysis engine", "error", err)
		os.Exit(1)
	}

	qc, err := queue.NewClient(cfg.Redis.URL, cfg.Queue)
	if err != nil {
		slog.Error("failed to init queue client", "error", err)
		os.Exit(1)
	}
	defer qc.Close()

	svc := analysis.NewService(l, store, eng, qc)

	router := api.NewRouter(cfg.Server, svc, map[string]handlers.Check{
		"ledger": l.Ping,
		"redis":  handlers.RedisCheck(rdb),
	})
	defer router.Close()

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router.Setup(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("starting API server", "addr", cfg.Addr(), "engine", cfg.Engine.Backend, "storage", cfg.Storage.Backend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced shutdown", "error", err)
	}
	slog.Info("server stopped")
}

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/nikhilbhutani/financial-analyzer/internal/analysis"
	"github.com/nikhilbhutani/financial-analyzer/internal/cache"
	"github.com/nikhilbhutani/financial-analyzer/internal/config"
	"github.com/nikhilbhutani/financial-analyzer/internal/engine"
	"github.com/nikhilbhutani/financial-analyzer/internal/ledger"
	"github.com/nikhilbhutani/financial-analyzer/internal/llm"
	"github.com/nikhilbhutani/financial-analyzer/internal/queue"
	"github.com/nikhilbhutani/financial-analyzer/internal/queue/workers"
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

	l, err := ledger.OpenShared(ctx, cfg.Database)
	if err != nil {
		slog.Error("failed to open ledger", "error", err)
		os.Exit(1)
	}
	defer l.Close()

	store, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		slog.Error("failed to init document store", "error", err)
		os.Exit(1)
	}

	redisOpt, err := queue.RedisOpt(cfg.Redis.URL)
	if err != nil {
		slog.Error("invalid redis url", "error", err)
		os.Exit(1)
	}
	rdb, err := cache.NewClient(cfg.Redis.URL)
	if err != nil {
		slog.Error("invalid redis url", "error", err)
		os.Exit(1)
	}
	defer rdb.Close()

	gw, err := llm.NewGateway(ctx, cfg.LLM)
	if err != nil {
		slog.Error("failed to init llm gateway", "error", err)
		os.Exit(1)
	}
	eng, err := engine.New(cfg, gw, search.NewClient(cfg.Search, cache.NewCache(rdb, "search:")))
	if err != nil {
		slog.Error("failed to init analysis engine", "error", err)
		os.Exit(1)
	}

	// The worker never enqueues analyses, so it needs no dispatcher.
	svc := analysis.NewService(l, store, eng, nil)

	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.Queue.Concurrency,
		Queues:      map[string]int{cfg.Queue.Name: 1},
	})

	registry := queue.NewHandlersRegistry()
	analysisWorker := workers.NewAnalysisWorker(svc)
	registry.Register(queue.TypeAnalysisRun, asynq.HandlerFunc(analysisWorker.ProcessTask))

	maintenance := workers.NewMaintenanceWorker(l, store, cfg.Ledger.Retention, cfg.Storage.StaleAfter)
	registry.Register(queue.TypeLedgerPurge, asynq.HandlerFunc(maintenance.ProcessTask))

	var scheduler *asynq.Scheduler
	if maintenance.Enabled() {
		scheduler = asynq.NewScheduler(redisOpt, nil)
		entryID, err := scheduler.Register(cfg.Ledger.PurgeCron, asynq.NewTask(queue.TypeLedgerPurge, nil), asynq.Queue(cfg.Queue.Name))
		if err != nil {
			slog.Error("failed to schedule maintenance", "cron", cfg.Ledger.PurgeCron, "error", err)
			os.Exit(1)
		}
		if err := scheduler.Start(); err != nil {
			slog.Error("scheduler error", "error", err)
			os.Exit(1)
		}
		slog.Info("maintenance scheduled", "entry_id", entryID, "cron", cfg.Ledger.PurgeCron)
	}

	slog.Info("starting worker", "queue", cfg.Queue.Name, "concurrency", cfg.Queue.Concurrency, "types", registry.Types())
	if err := srv.Start(registry.Mux()); err != nil {
		slog.Error("worker error", "error", err)
		os.Exit(1)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down worker...")
	if scheduler != nil {
		scheduler.Shutdown()
	}
	srv.Shutdown()
	slog.Info("worker stopped")
}

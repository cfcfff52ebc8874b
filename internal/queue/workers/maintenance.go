package workers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/nikhilbhutani/financial-analyzer/internal/ledger"
	"github.com/nikhilbhutani/financial-analyzer/internal/models"
	"github.com/nikhilbhutani/financial-analyzer/internal/storage"
)

// JobLedger is the slice of the ledger maintenance needs.
type JobLedger interface {
	Purge(ctx context.Context, before time.Time) (int64, error)
	Get(ctx context.Context, jobID string) (*models.AnalysisJob, error)
}

// Sweeper removes stored documents older than a threshold.
type Sweeper interface {
	Sweep(ctx context.Context, olderThan time.Duration, keep func(storage.Handle) bool) (int, error)
}

// MaintenanceWorker expires old ledger records and sweeps documents orphaned
// by crashed processes. A zero retention or staleAfter disables that half.
type MaintenanceWorker struct {
	ledger     JobLedger
	store      Sweeper
	retention  time.Duration
	staleAfter time.Duration
	now        func() time.Time
}

func NewMaintenanceWorker(l JobLedger, s Sweeper, retention, staleAfter time.Duration) *MaintenanceWorker {
	return &MaintenanceWorker{
		ledger:     l,
		store:      s,
		retention:  retention,
		staleAfter: staleAfter,
		now:        time.Now,
	}
}

// Enabled reports whether there is anything for the worker to do.
func (w *MaintenanceWorker) Enabled() bool {
	return w.retention > 0 || w.staleAfter > 0
}

func (w *MaintenanceWorker) ProcessTask(ctx context.Context, _ *asynq.Task) error {
	if w.retention > 0 {
		n, err := w.ledger.Purge(ctx, w.now().Add(-w.retention))
		if err != nil {
			return fmt.Errorf("purge ledger: %w", err)
		}
		slog.Info("ledger purged", "removed", n, "retention", w.retention)
	}

	if w.staleAfter > 0 {
		n, err := w.store.Sweep(ctx, w.staleAfter, func(h storage.Handle) bool {
			return w.stillQueued(ctx, h)
		})
		if err != nil {
			return fmt.Errorf("sweep documents: %w", err)
		}
		if n > 0 {
			slog.Warn("removed orphaned documents", "count", n)
		}
	}
	return nil
}

// stillQueued reports whether h belongs to a job that has not finished yet.
// Documents of pending or processing jobs survive a sweep however old they
// are; a ledger lookup error keeps the document too.
func (w *MaintenanceWorker) stillQueued(ctx context.Context, h storage.Handle) bool {
	id, ok := h.JobID()
	if !ok {
		return false
	}
	job, err := w.ledger.Get(ctx, id)
	if errors.Is(err, ledger.ErrNotFound) {
		return false
	}
	if err != nil {
		slog.Warn("keeping document, ledger lookup failed", "job_id", id, "error", err)
		return true
	}
	return !job.Status.IsTerminal()
}

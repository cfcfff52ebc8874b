package workers

import (
	"context"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/nikhilbhutani/financial-analyzer/internal/analysis"
	"github.com/nikhilbhutani/financial-analyzer/internal/queue"
)

// Processor runs one analysis task to a terminal state.
type Processor interface {
	Process(ctx context.Context, t analysis.Task) error
}

type AnalysisWorker struct {
	svc Processor
}

func NewAnalysisWorker(svc Processor) *AnalysisWorker {
	return &AnalysisWorker{svc: svc}
}

// ProcessTask handles analysis:run. asynq removes the task only once this
// returns, so a crash mid-analysis leads to redelivery.
func (w *AnalysisWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	payload, err := queue.DecodeAnalysisRun(t)
	if err != nil {
		slog.Error("discarding malformed analysis task", "error", err)
		return err
	}

	if retried, ok := asynq.GetRetryCount(ctx); ok && retried > 0 {
		slog.Info("retrying analysis task", "job_id", payload.JobID, "attempt", retried+1)
	}
	return w.svc.Process(ctx, payload.Task())
}

// Package ledger is the durable record of analysis jobs and their lifecycle.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nikhilbhutani/financial-analyzer/internal/models"
)

var (
	ErrNotFound          = errors.New("ledger: job not found")
	ErrDuplicateJob      = errors.New("ledger: job already exists")
	ErrInvalidTransition = errors.New("ledger: invalid status transition")
	ErrInvalidRecord     = errors.New("ledger: invalid record")
)

// Ledger stores AnalysisJob records. Implementations must make each
// Update's transition check and write atomic per job id.
type Ledger interface {
	// Create inserts a new record. A record created in a terminal status gets
	// its CompletedAt stamped.
	Create(ctx context.Context, job *models.AnalysisJob) error
	// Update moves a job to u.Status and stamps CompletedAt on entry into a
	// terminal status. Unknown ids yield ErrNotFound.
	Update(ctx context.Context, jobID string, u Update) (*models.AnalysisJob, error)
	Get(ctx context.Context, jobID string) (*models.AnalysisJob, error)
	// List returns jobs newest first; ties on created_at fall back to
	// reverse insertion order.
	List(ctx context.Context, limit, offset int) ([]models.AnalysisJob, error)
	// Purge deletes terminal jobs completed before the cutoff.
	Purge(ctx context.Context, before time.Time) (int64, error)
	Ping(ctx context.Context) error
	Close() error
}

// Update describes a status change. Result must accompany completed and
// Error must accompany failed; neither is allowed otherwise.
type Update struct {
	Status models.AnalysisStatus
	Result *string
	Error  *string
}

func Processing() Update { return Update{Status: models.StatusProcessing} }

func Completed(result string) Update {
	return Update{Status: models.StatusCompleted, Result: &result}
}

func Failed(message string) Update {
	return Update{Status: models.StatusFailed, Error: &message}
}

func (u Update) validate() error {
	if !u.Status.Valid() || u.Status == models.StatusPending {
		return fmt.Errorf("%w: cannot update to status %q", ErrInvalidRecord, u.Status)
	}
	if (u.Status == models.StatusCompleted) != (u.Result != nil) {
		return fmt.Errorf("%w: result is required for, and only for, completed jobs", ErrInvalidRecord)
	}
	if (u.Status == models.StatusFailed) != (u.Error != nil) {
		return fmt.Errorf("%w: error is required for, and only for, failed jobs", ErrInvalidRecord)
	}
	return nil
}

// prepareCreate validates a new record and fills the timestamps the ledger
// owns.
func prepareCreate(job *models.AnalysisJob, now time.Time) error {
	if job.JobID == "" {
		return fmt.Errorf("%w: job id is required", ErrInvalidRecord)
	}
	if !job.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidRecord, job.Status)
	}
	if (job.Status == models.StatusCompleted) != (job.Result != nil) {
		return fmt.Errorf("%w: result is required for, and only for, completed jobs", ErrInvalidRecord)
	}
	if (job.Status == models.StatusFailed) != (job.Error != nil) {
		return fmt.Errorf("%w: error is required for, and only for, failed jobs", ErrInvalidRecord)
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.CreatedAt = job.CreatedAt.UTC()
	job.CompletedAt = nil
	if job.Status.IsTerminal() {
		completed := now.UTC()
		job.CompletedAt = &completed
	}
	return nil
}

// missError explains why a guarded update touched no row.
func missError(current *models.AnalysisJob, target models.AnalysisStatus) error {
	if current == nil {
		return ErrNotFound
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, target)
}

func statusStrings(statuses []models.AnalysisStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func normalizePage(limit, offset int) (int, int) {
	if limit < 0 {
		limit = 0
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

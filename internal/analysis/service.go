// Package analysis drives the lifecycle of an analysis job across the
// document store, the ledger, the engine and the dispatcher.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/financial-analyzer/internal/engine"
	"github.com/nikhilbhutani/financial-analyzer/internal/ledger"
	"github.com/nikhilbhutani/financial-analyzer/internal/models"
	"github.com/nikhilbhutani/financial-analyzer/internal/storage"
)

// Upload is a document submitted for analysis.
type Upload struct {
	Filename string
	Query    string
	Content  io.Reader
}

// Task is the unit of work handed to a worker.
type Task struct {
	JobID    string         `json:"job_id"`
	Query    string         `json:"query"`
	Document storage.Handle `json:"document"`
	Filename string         `json:"filename"`
}

// Dispatcher hands a task to the worker pool.
type Dispatcher interface {
	Dispatch(ctx context.Context, t Task) error
}

type Service struct {
	ledger     ledger.Ledger
	store      storage.DocumentStore
	engine     engine.Engine
	dispatcher Dispatcher
}

// NewService wires the lifecycle. dispatcher may be nil in processes that
// never submit asynchronously, engine may be nil in processes that never
// analyse.
func NewService(l ledger.Ledger, store storage.DocumentStore, eng engine.Engine, d Dispatcher) *Service {
	return &Service{ledger: l, store: store, engine: eng, dispatcher: d}
}

// SubmitSync stores the upload, analyses it inline and records the terminal
// outcome. On engine failure the failed job is returned together with the
// *engine.Failure. The document is deleted whatever the outcome.
func (s *Service) SubmitSync(ctx context.Context, up Upload) (*models.AnalysisJob, error) {
	if s.engine == nil {
		return nil, errors.New("no analysis engine configured")
	}

	jobID := uuid.NewString()
	query := models.NormalizeQuery(up.Query)

	h, err := s.store.Save(ctx, jobID, up.Content)
	if err != nil {
		return nil, fmt.Errorf("save document: %w", err)
	}
	// the client may disconnect while the engine runs
	ctx = context.WithoutCancel(ctx)
	defer s.store.Delete(ctx, h)

	path, release, err := s.store.Open(ctx, h)
	if err != nil {
		return nil, fmt.Errorf("open document: %w", err)
	}
	defer release()

	slog.Info("analysis started", "job_id", jobID, "mode", "sync", "filename", up.Filename)
	report, runErr := s.engine.Analyze(ctx, query, path)

	job := &models.AnalysisJob{
		JobID:    jobID,
		Filename: up.Filename,
		Query:    query,
	}
	var failure *engine.Failure
	if runErr != nil {
		failure = engine.AsFailure(runErr)
		job.Status = models.StatusFailed
		job.Error = &failure.Message
	} else {
		job.Status = models.StatusCompleted
		job.Result = &report
	}

	if err := s.ledger.Create(ctx, job); err != nil {
		return nil, errors.Join(fmt.Errorf("record job: %w", err), runErr)
	}

	if failure != nil {
		slog.Error("analysis failed", "job_id", jobID, "kind", failure.Kind, "error", failure.Message)
		return job, failure
	}
	slog.Info("analysis completed", "job_id", jobID)
	return job, nil
}

// SubmitAsync stores the upload, records a pending job and queues it. When
// queueing fails the job is marked failed and the document removed.
func (s *Service) SubmitAsync(ctx context.Context, up Upload) (*models.AnalysisJob, error) {
	if s.dispatcher == nil {
		return nil, errors.New("no dispatcher configured")
	}

	jobID := uuid.NewString()
	query := models.NormalizeQuery(up.Query)

	h, err := s.store.Save(ctx, jobID, up.Content)
	if err != nil {
		return nil, fmt.Errorf("save document: %w", err)
	}

	job := &models.AnalysisJob{
		JobID:    jobID,
		Filename: up.Filename,
		Query:    query,
		Status:   models.StatusPending,
	}
	if err := s.ledger.Create(ctx, job); err != nil {
		s.store.Delete(context.WithoutCancel(ctx), h)
		return nil, fmt.Errorf("record job: %w", err)
	}

	task := Task{JobID: jobID, Query: query, Document: h, Filename: up.Filename}
	if err := s.dispatcher.Dispatch(ctx, task); err != nil {
		cleanup := context.WithoutCancel(ctx)
		if _, uerr := s.ledger.Update(cleanup, jobID, ledger.Failed("failed to queue analysis: "+err.Error())); uerr != nil {
			slog.Error("failed to mark unqueued job", "job_id", jobID, "error", uerr)
		}
		s.store.Delete(cleanup, h)
		return nil, fmt.Errorf("dispatch job: %w", err)
	}

	slog.Info("analysis queued", "job_id", jobID, "filename", up.Filename)
	return job, nil
}

// Process runs a queued task. A returned error means an infrastructure
// failure and the task should be retried; analysis failures are recorded on
// the job instead. Redelivered tasks for finished jobs are skipped.
func (s *Service) Process(ctx context.Context, t Task) error {
	if s.engine == nil {
		return errors.New("no analysis engine configured")
	}

	job, err := s.ledger.Get(ctx, t.JobID)
	if errors.Is(err, ledger.ErrNotFound) {
		slog.Warn("dropping task for unknown job", "job_id", t.JobID)
		s.store.Delete(ctx, t.Document)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load job: %w", err)
	}
	if job.Status.IsTerminal() {
		slog.Info("skipping finished job", "job_id", t.JobID, "status", job.Status)
		s.store.Delete(ctx, t.Document)
		return nil
	}

	if _, err := s.ledger.Update(ctx, t.JobID, ledger.Processing()); err != nil {
		if errors.Is(err, ledger.ErrInvalidTransition) {
			slog.Info("job finished concurrently, skipping", "job_id", t.JobID)
			s.store.Delete(ctx, t.Document)
			return nil
		}
		return fmt.Errorf("mark processing: %w", err)
	}

	path, release, err := s.store.Open(ctx, t.Document)
	if err != nil {
		slog.Error("document unavailable", "job_id", t.JobID, "error", err)
		s.store.Delete(ctx, t.Document)
		return s.finish(ctx, t.JobID, ledger.Failed("document unavailable: "+err.Error()))
	}

	slog.Info("analysis started", "job_id", t.JobID, "mode", "async")
	report, runErr := s.engine.Analyze(ctx, job.Query, path)
	release()

	// worker shutdown: leave the job and document for redelivery
	if runErr != nil && errors.Is(ctx.Err(), context.Canceled) {
		return fmt.Errorf("analysis interrupted: %w", ctx.Err())
	}
	s.store.Delete(context.WithoutCancel(ctx), t.Document)

	if runErr != nil {
		f := engine.AsFailure(runErr)
		slog.Error("analysis failed", "job_id", t.JobID, "kind", f.Kind, "error", f.Message)
		return s.finish(ctx, t.JobID, ledger.Failed(f.Message))
	}
	slog.Info("analysis completed", "job_id", t.JobID)
	return s.finish(ctx, t.JobID, ledger.Completed(report))
}

func (s *Service) finish(ctx context.Context, jobID string, u ledger.Update) error {
	_, err := s.ledger.Update(context.WithoutCancel(ctx), jobID, u)
	if errors.Is(err, ledger.ErrInvalidTransition) {
		slog.Warn("job already finished", "job_id", jobID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("record outcome: %w", err)
	}
	return nil
}

// Job returns the record for jobID or ledger.ErrNotFound.
func (s *Service) Job(ctx context.Context, jobID string) (*models.AnalysisJob, error) {
	return s.ledger.Get(ctx, jobID)
}

// List returns a page of jobs, newest first.
func (s *Service) List(ctx context.Context, limit, offset int) ([]models.AnalysisJob, error) {
	return s.ledger.List(ctx, limit, offset)
}

package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/nikhilbhutani/financial-analyzer/internal/analysis"
	"github.com/nikhilbhutani/financial-analyzer/internal/engine"
	"github.com/nikhilbhutani/financial-analyzer/internal/ledger"
	"github.com/nikhilbhutani/financial-analyzer/internal/models"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
)

// AnalysisService is the lifecycle the handlers drive.
type AnalysisService interface {
	SubmitSync(ctx context.Context, up analysis.Upload) (*models.AnalysisJob, error)
	SubmitAsync(ctx context.Context, up analysis.Upload) (*models.AnalysisJob, error)
	Job(ctx context.Context, jobID string) (*models.AnalysisJob, error)
	List(ctx context.Context, limit, offset int) ([]models.AnalysisJob, error)
}

type AnalysisHandler struct {
	svc       AnalysisService
	maxUpload int64
	validate  *validator.Validate
}

func NewAnalysisHandler(svc AnalysisService, maxUpload int64) *AnalysisHandler {
	return &AnalysisHandler{svc: svc, maxUpload: maxUpload, validate: validator.New()}
}

type listParams struct {
	Limit  int `validate:"min=1,max=500"`
	Offset int `validate:"min=0"`
}

func (h *AnalysisHandler) Root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "Financial Document Analyzer API is running"})
}

// Analyze runs the analysis inline and answers once the report is ready.
func (h *AnalysisHandler) Analyze(w http.ResponseWriter, r *http.Request) {
	up, cleanup, ok := h.readUpload(w, r)
	if !ok {
		return
	}
	defer cleanup()

	job, err := h.svc.SubmitSync(r.Context(), up)
	if err != nil {
		var failure *engine.Failure
		if !errors.As(err, &failure) {
			slog.Error("sync analysis failed", "error", err)
		}
		writeError(w, http.StatusInternalServerError, "Error processing financial document: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "success",
		"job_id":         job.JobID,
		"query":          job.Query,
		"analysis":       deref(job.Result),
		"file_processed": job.Filename,
	})
}

// AnalyzeAsync queues the analysis and answers immediately with the job id.
func (h *AnalysisHandler) AnalyzeAsync(w http.ResponseWriter, r *http.Request) {
	up, cleanup, ok := h.readUpload(w, r)
	if !ok {
		return
	}
	defer cleanup()

	job, err := h.svc.SubmitAsync(r.Context(), up)
	if err != nil {
		slog.Error("queueing analysis failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Error queuing document analysis: "+err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"status":  "queued",
		"job_id":  job.JobID,
		"message": "Document analysis has been queued. Use /status/" + job.JobID + " to check progress.",
	})
}

// Status reports progress; result or error appear only once the job is done.
func (h *AnalysisHandler) Status(w http.ResponseWriter, r *http.Request) {
	job, ok := h.lookup(w, r, "Task not found")
	if !ok {
		return
	}

	resp := map[string]any{
		"job_id":     job.JobID,
		"status":     job.Status,
		"filename":   job.Filename,
		"query":      job.Query,
		"created_at": job.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	switch job.Status {
	case models.StatusCompleted:
		resp["result"] = deref(job.Result)
		resp["completed_at"] = formatTime(job.CompletedAt)
	case models.StatusFailed:
		resp["error"] = deref(job.Error)
		resp["completed_at"] = formatTime(job.CompletedAt)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *AnalysisHandler) List(w http.ResponseWriter, r *http.Request) {
	params := listParams{Limit: defaultListLimit}
	q := r.URL.Query()

	for name, dst := range map[string]*int{"limit": &params.Limit, "offset": &params.Offset} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid "+name+": must be an integer")
			return
		}
		*dst = v
	}
	if err := h.validate.Struct(params); err != nil {
		writeError(w, http.StatusBadRequest, "invalid pagination: limit must be 1-"+strconv.Itoa(maxListLimit)+" and offset non-negative")
		return
	}

	jobs, err := h.svc.List(r.Context(), params.Limit, params.Offset)
	if err != nil {
		slog.Error("list analyses failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	results := make([]models.AnalysisSummary, 0, len(jobs))
	for i := range jobs {
		results = append(results, jobs[i].Summary())
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(results), "results": results})
}

// Result returns the full record, with result and error null until set.
func (h *AnalysisHandler) Result(w http.ResponseWriter, r *http.Request) {
	job, ok := h.lookup(w, r, "Analysis result not found")
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (h *AnalysisHandler) lookup(w http.ResponseWriter, r *http.Request, notFound string) (*models.AnalysisJob, bool) {
	job, err := h.svc.Job(r.Context(), chi.URLParam(r, "job_id"))
	if errors.Is(err, ledger.ErrNotFound) {
		writeError(w, http.StatusNotFound, notFound)
		return nil, false
	}
	if err != nil {
		slog.Error("load analysis failed", "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return nil, false
	}
	return job, true
}

// readUpload parses the multipart form. cleanup releases any spooled parts.
func (h *AnalysisHandler) readUpload(w http.ResponseWriter, r *http.Request) (analysis.Upload, func(), bool) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(h.maxUpload); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "file too large")
		} else {
			writeError(w, http.StatusBadRequest, "invalid multipart form")
		}
		return analysis.Upload{}, nil, false
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		r.MultipartForm.RemoveAll()
		writeError(w, http.StatusBadRequest, "file required")
		return analysis.Upload{}, nil, false
	}

	cleanup := func() {
		file.Close()
		r.MultipartForm.RemoveAll()
	}
	return analysis.Upload{
		Filename: header.Filename,
		Query:    r.FormValue("query"),
		Content:  file,
	}, cleanup, true
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func formatTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

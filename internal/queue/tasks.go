package queue

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/nikhilbhutani/financial-analyzer/internal/analysis"
	"github.com/nikhilbhutani/financial-analyzer/internal/storage"
)

const (
	TypeAnalysisRun = "analysis:run"
	TypeLedgerPurge = "ledger:purge"
)

type AnalysisRunPayload struct {
	JobID          string `json:"job_id"`
	Query          string `json:"query"`
	DocumentHandle string `json:"document_handle"`
	Filename       string `json:"filename"`
}

func (p AnalysisRunPayload) Task() analysis.Task {
	return analysis.Task{
		JobID:    p.JobID,
		Query:    p.Query,
		Document: storage.Handle(p.DocumentHandle),
		Filename: p.Filename,
	}
}

func payloadFor(t analysis.Task) AnalysisRunPayload {
	return AnalysisRunPayload{
		JobID:          t.JobID,
		Query:          t.Query,
		DocumentHandle: string(t.Document),
		Filename:       t.Filename,
	}
}

// DecodeAnalysisRun reads an analysis:run payload. A malformed payload can
// never succeed, so the error skips retries.
func DecodeAnalysisRun(t *asynq.Task) (AnalysisRunPayload, error) {
	var p AnalysisRunPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return p, fmt.Errorf("unmarshal payload: %v: %w", err, asynq.SkipRetry)
	}
	if p.JobID == "" {
		return p, fmt.Errorf("payload has no job id: %w", asynq.SkipRetry)
	}
	return p, nil
}

package models

import (
	"strings"
	"time"
)

// DefaultQuery is used whenever a submission arrives without a usable query.
const DefaultQuery = "Analyze this financial document for investment insights"

type AnalysisStatus string

const (
	StatusPending    AnalysisStatus = "pending"
	StatusProcessing AnalysisStatus = "processing"
	StatusCompleted  AnalysisStatus = "completed"
	StatusFailed     AnalysisStatus = "failed"
)

// IsTerminal reports whether no further transition is possible.
func (s AnalysisStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

func (s AnalysisStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// validTransitions lists, for every target status, the statuses a job may be
// in beforehand. processing -> processing is a re-claim after redelivery.
var validTransitions = map[AnalysisStatus][]AnalysisStatus{
	StatusProcessing: {StatusPending, StatusProcessing},
	StatusCompleted:  {StatusProcessing},
	StatusFailed:     {StatusPending, StatusProcessing},
}

// AllowedFrom returns the statuses from which a job may move to target.
func AllowedFrom(target AnalysisStatus) []AnalysisStatus {
	return validTransitions[target]
}

// CanTransition reports whether from -> to is a legal lifecycle step.
func CanTransition(from, to AnalysisStatus) bool {
	for _, s := range validTransitions[to] {
		if s == from {
			return true
		}
	}
	return false
}

// AnalysisJob is one submitted document analysis and its outcome.
type AnalysisJob struct {
	JobID       string         `json:"job_id" db:"job_id"`
	Filename    string         `json:"filename" db:"filename"`
	Query       string         `json:"query" db:"query"`
	Status      AnalysisStatus `json:"status" db:"status"`
	Result      *string        `json:"result" db:"result"`
	Error       *string        `json:"error" db:"error"`
	CreatedAt   time.Time      `json:"created_at" db:"created_at"`
	CompletedAt *time.Time     `json:"completed_at" db:"completed_at"`
}

// AnalysisSummary is the list view of a job; it omits result and error bodies.
type AnalysisSummary struct {
	JobID       string         `json:"job_id"`
	Filename    string         `json:"filename"`
	Query       string         `json:"query"`
	Status      AnalysisStatus `json:"status"`
	CreatedAt   time.Time      `json:"created_at"`
	CompletedAt *time.Time     `json:"completed_at"`
}

func (j *AnalysisJob) Summary() AnalysisSummary {
	return AnalysisSummary{
		JobID:       j.JobID,
		Filename:    j.Filename,
		Query:       j.Query,
		Status:      j.Status,
		CreatedAt:   j.CreatedAt,
		CompletedAt: j.CompletedAt,
	}
}

// NormalizeQuery trims q and substitutes DefaultQuery when nothing is left.
func NormalizeQuery(q string) string {
	q = strings.TrimSpace(q)
	if q == "" {
		return DefaultQuery
	}
	return q
}

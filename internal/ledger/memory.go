package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/nikhilbhutani/financial-analyzer/internal/models"
)

type memoryEntry struct {
	job models.AnalysisJob
	seq int64
}

// MemoryLedger keeps jobs in process memory. It backs tests and
// single-process runs with DATABASE_URL=memory://.
type MemoryLedger struct {
	mu   sync.RWMutex
	seq  int64
	jobs map[string]*memoryEntry
	now  func() time.Time
}

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		jobs: make(map[string]*memoryEntry),
		now:  time.Now,
	}
}

func (l *MemoryLedger) Create(_ context.Context, job *models.AnalysisJob) error {
	if err := prepareCreate(job, l.now()); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.jobs[job.JobID]; exists {
		return ErrDuplicateJob
	}
	l.seq++
	l.jobs[job.JobID] = &memoryEntry{job: cloneJob(*job), seq: l.seq}
	return nil
}

func (l *MemoryLedger) Update(_ context.Context, jobID string, u Update) (*models.AnalysisJob, error) {
	if err := u.validate(); err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.jobs[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	if !models.CanTransition(e.job.Status, u.Status) {
		return nil, missError(&e.job, u.Status)
	}

	e.job.Status = u.Status
	if u.Result != nil {
		r := *u.Result
		e.job.Result = &r
	}
	if u.Error != nil {
		msg := *u.Error
		e.job.Error = &msg
	}
	if u.Status.IsTerminal() {
		completed := l.now().UTC()
		e.job.CompletedAt = &completed
	}

	out := cloneJob(e.job)
	return &out, nil
}

func (l *MemoryLedger) Get(_ context.Context, jobID string) (*models.AnalysisJob, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	e, ok := l.jobs[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	out := cloneJob(e.job)
	return &out, nil
}

func (l *MemoryLedger) List(_ context.Context, limit, offset int) ([]models.AnalysisJob, error) {
	limit, offset = normalizePage(limit, offset)

	// copy under the lock; Update mutates entries in place
	l.mu.RLock()
	entries := make([]memoryEntry, 0, len(l.jobs))
	for _, e := range l.jobs {
		entries = append(entries, memoryEntry{job: cloneJob(e.job), seq: e.seq})
	}
	l.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.job.CreatedAt.Equal(b.job.CreatedAt) {
			return a.job.CreatedAt.After(b.job.CreatedAt)
		}
		return a.seq > b.seq
	})

	if offset >= len(entries) {
		return []models.AnalysisJob{}, nil
	}
	end := min(offset+limit, len(entries))
	out := make([]models.AnalysisJob, 0, end-offset)
	for _, e := range entries[offset:end] {
		out = append(out, e.job)
	}
	return out, nil
}

func (l *MemoryLedger) Purge(_ context.Context, before time.Time) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var n int64
	for id, e := range l.jobs {
		if e.job.Status.IsTerminal() && e.job.CompletedAt != nil && e.job.CompletedAt.Before(before) {
			delete(l.jobs, id)
			n++
		}
	}
	return n, nil
}

func (l *MemoryLedger) Ping(context.Context) error { return nil }

func (l *MemoryLedger) Close() error { return nil }

func cloneJob(j models.AnalysisJob) models.AnalysisJob {
	if j.Result != nil {
		r := *j.Result
		j.Result = &r
	}
	if j.Error != nil {
		e := *j.Error
		j.Error = &e
	}
	if j.CompletedAt != nil {
		c := *j.CompletedAt
		j.CompletedAt = &c
	}
	return j
}

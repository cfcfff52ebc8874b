package analysis

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbhutani/financial-analyzer/internal/engine"
	"github.com/nikhilbhutani/financial-analyzer/internal/ledger"
	"github.com/nikhilbhutani/financial-analyzer/internal/models"
	"github.com/nikhilbhutani/financial-analyzer/internal/storage"
)

type fakeEngine struct {
	analyzeFn func(ctx context.Context, query, path string) (string, error)
}

func (e *fakeEngine) Analyze(ctx context.Context, query, path string) (string, error) {
	return e.analyzeFn(ctx, query, path)
}

type fakeDispatcher struct {
	mu         sync.Mutex
	tasks      []Task
	dispatchFn func(ctx context.Context, t Task) error
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, t Task) error {
	d.mu.Lock()
	d.tasks = append(d.tasks, t)
	d.mu.Unlock()
	if d.dispatchFn != nil {
		return d.dispatchFn(ctx, t)
	}
	return nil
}

type fixture struct {
	svc    *Service
	ledger *ledger.MemoryLedger
	dir    string
	disp   *fakeDispatcher
}

func newFixture(t *testing.T, analyze func(ctx context.Context, query, path string) (string, error)) *fixture {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewLocalStore(dir)
	require.NoError(t, err)

	f := &fixture{ledger: ledger.NewMemoryLedger(), dir: dir, disp: &fakeDispatcher{}}
	f.svc = NewService(f.ledger, store, &fakeEngine{analyzeFn: analyze}, f.disp)
	return f
}

func (f *fixture) storedFiles(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(f.dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func upload(query string) Upload {
	return Upload{Filename: "tsla-q2.pdf", Query: query, Content: strings.NewReader("%PDF-1.4 fake")}
}

func TestSubmitSync_Completes(t *testing.T) {
	var gotQuery, gotPath string
	f := newFixture(t, func(_ context.Context, query, path string) (string, error) {
		gotQuery, gotPath = query, path
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "%PDF-1.4 fake", string(data))
		return "Buy, with caveats.", nil
	})

	job, err := f.svc.SubmitSync(context.Background(), upload("   "))
	require.NoError(t, err)

	assert.Equal(t, models.DefaultQuery, gotQuery)
	assert.Contains(t, gotPath, storage.FileName(job.JobID))
	assert.Equal(t, models.StatusCompleted, job.Status)
	require.NotNil(t, job.Result)
	assert.Equal(t, "Buy, with caveats.", *job.Result)

	stored, err := f.ledger.Get(context.Background(), job.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, stored.Status)
	assert.NotNil(t, stored.CompletedAt)
	assert.Equal(t, "tsla-q2.pdf", stored.Filename)
	assert.Empty(t, f.storedFiles(t))
}

func TestSubmitSync_EngineFailureIsRecorded(t *testing.T) {
	f := newFixture(t, func(context.Context, string, string) (string, error) {
		return "", errors.New("engine busy: model overloaded")
	})

	job, err := f.svc.SubmitSync(context.Background(), upload("Is TSLA a buy?"))
	var failure *engine.Failure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, "engine busy: model overloaded", failure.Message)

	require.NotNil(t, job)
	stored, gerr := f.ledger.Get(context.Background(), job.JobID)
	require.NoError(t, gerr)
	assert.Equal(t, models.StatusFailed, stored.Status)
	require.NotNil(t, stored.Error)
	assert.Equal(t, "engine busy: model overloaded", *stored.Error)
	assert.Nil(t, stored.Result)
	assert.NotNil(t, stored.CompletedAt)
	assert.Equal(t, "Is TSLA a buy?", stored.Query)
	assert.Empty(t, f.storedFiles(t))
}

func TestSubmitSync_SurvivesClientDisconnect(t *testing.T) {
	f := newFixture(t, func(ctx context.Context, _, _ string) (string, error) {
		return "report", ctx.Err()
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	job, err := f.svc.SubmitSync(ctx, upload("q"))
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, job.Status)
}

func TestSubmitAsync_QueuesPendingJob(t *testing.T) {
	f := newFixture(t, nil)

	job, err := f.svc.SubmitAsync(context.Background(), upload(" What is the debt load? "))
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, job.Status)
	assert.Equal(t, "What is the debt load?", job.Query)

	require.Len(t, f.disp.tasks, 1)
	task := f.disp.tasks[0]
	assert.Equal(t, job.JobID, task.JobID)
	assert.Equal(t, storage.Handle(storage.FileName(job.JobID)), task.Document)
	assert.Equal(t, []string{storage.FileName(job.JobID)}, f.storedFiles(t))

	stored, err := f.ledger.Get(context.Background(), job.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, stored.Status)
	assert.Nil(t, stored.CompletedAt)
}

func TestSubmitAsync_DispatchFailure(t *testing.T) {
	f := newFixture(t, nil)
	f.disp.dispatchFn = func(context.Context, Task) error { return errors.New("redis unreachable") }

	_, err := f.svc.SubmitAsync(context.Background(), upload(""))
	require.ErrorContains(t, err, "redis unreachable")

	jobs, lerr := f.ledger.List(context.Background(), 10, 0)
	require.NoError(t, lerr)
	require.Len(t, jobs, 1)
	assert.Equal(t, models.StatusFailed, jobs[0].Status)
	assert.Equal(t, "failed to queue analysis: redis unreachable", *jobs[0].Error)
	assert.Empty(t, f.storedFiles(t))
}

func TestProcess_Completes(t *testing.T) {
	var f *fixture
	f = newFixture(t, func(ctx context.Context, query, _ string) (string, error) {
		jobs, err := f.ledger.List(ctx, 1, 0)
		require.NoError(t, err)
		assert.Equal(t, models.StatusProcessing, jobs[0].Status)
		return "report for " + query, nil
	})
	ctx := context.Background()

	job, err := f.svc.SubmitAsync(ctx, upload("q1"))
	require.NoError(t, err)
	require.NoError(t, f.svc.Process(ctx, f.disp.tasks[0]))

	stored, err := f.svc.Job(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, stored.Status)
	assert.Equal(t, "report for q1", *stored.Result)
	assert.Empty(t, f.storedFiles(t))
}

func TestProcess_EngineFailure(t *testing.T) {
	f := newFixture(t, func(context.Context, string, string) (string, error) {
		return "", &engine.Failure{Kind: engine.KindUpstreamTimeout, Message: "analysis timed out"}
	})
	ctx := context.Background()

	job, err := f.svc.SubmitAsync(ctx, upload("q"))
	require.NoError(t, err)
	require.NoError(t, f.svc.Process(ctx, f.disp.tasks[0]))

	stored, err := f.svc.Job(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, stored.Status)
	assert.Equal(t, "analysis timed out", *stored.Error)
	assert.Empty(t, f.storedFiles(t))
}

func TestProcess_RedeliveryAfterCompletionIsSkipped(t *testing.T) {
	calls := 0
	f := newFixture(t, func(context.Context, string, string) (string, error) {
		calls++
		return "report", nil
	})
	ctx := context.Background()

	_, err := f.svc.SubmitAsync(ctx, upload("q"))
	require.NoError(t, err)
	task := f.disp.tasks[0]
	require.NoError(t, f.svc.Process(ctx, task))
	require.NoError(t, f.svc.Process(ctx, task))
	assert.Equal(t, 1, calls)
}

func TestProcess_UnknownJob(t *testing.T) {
	f := newFixture(t, func(context.Context, string, string) (string, error) {
		t.Fatal("engine must not run")
		return "", nil
	})
	err := f.svc.Process(context.Background(), Task{JobID: "missing", Document: storage.Handle(storage.FileName("missing"))})
	assert.NoError(t, err)
}

func TestProcess_MissingDocumentFailsJob(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	job, err := f.svc.SubmitAsync(ctx, upload("q"))
	require.NoError(t, err)
	require.NoError(t, os.Remove(f.dir+"/"+storage.FileName(job.JobID)))

	require.NoError(t, f.svc.Process(ctx, f.disp.tasks[0]))
	stored, err := f.svc.Job(ctx, job.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, stored.Status)
	assert.True(t, strings.HasPrefix(*stored.Error, "document unavailable: "))
}

func TestProcess_ShutdownLeavesJobForRedelivery(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	f := newFixture(t, func(ctx context.Context, _, _ string) (string, error) {
		cancel()
		return "", ctx.Err()
	})

	job, err := f.svc.SubmitAsync(context.Background(), upload("q"))
	require.NoError(t, err)

	err = f.svc.Process(ctx, f.disp.tasks[0])
	require.ErrorIs(t, err, context.Canceled)

	stored, err := f.svc.Job(context.Background(), job.JobID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, stored.Status)
	assert.Len(t, f.storedFiles(t), 1)
}

func TestConcurrentAsyncJobs(t *testing.T) {
	f := newFixture(t, func(_ context.Context, query, _ string) (string, error) {
		return "report: " + query, nil
	})
	ctx := context.Background()

	const n = 10
	var wg sync.WaitGroup
	ids := make([]string, n)
	for i := range n {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			job, err := f.svc.SubmitAsync(ctx, upload(fmt.Sprintf("query %d", i)))
			assert.NoError(t, err)
			if job != nil {
				ids[i] = job.JobID
			}
		}(i)
	}
	wg.Wait()
	require.Len(t, f.disp.tasks, n)

	for _, task := range f.disp.tasks {
		wg.Add(1)
		go func(task Task) {
			defer wg.Done()
			assert.NoError(t, f.svc.Process(ctx, task))
		}(task)
	}
	wg.Wait()

	seen := make(map[string]bool)
	for i, id := range ids {
		require.NotEmpty(t, id)
		assert.False(t, seen[id], "duplicate job id")
		seen[id] = true

		job, err := f.svc.Job(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.StatusCompleted, job.Status)
		assert.Equal(t, fmt.Sprintf("report: query %d", i), *job.Result)
	}
	assert.Empty(t, f.storedFiles(t))
}

package ledger_test

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbhutani/financial-analyzer/internal/config"
	"github.com/nikhilbhutani/financial-analyzer/internal/ledger"
	"github.com/nikhilbhutani/financial-analyzer/internal/models"
)

// runLedgerSuite exercises the behaviour every Ledger backend must share.
// newLedger must return an empty ledger.
func runLedgerSuite(t *testing.T, newLedger func(t *testing.T) ledger.Ledger) {
	ctx := context.Background()
	base := time.Date(2025, 7, 1, 12, 0, 0, 0, time.UTC)

	pending := func(id string) *models.AnalysisJob {
		return &models.AnalysisJob{JobID: id, Filename: id + ".pdf", Query: models.DefaultQuery, Status: models.StatusPending}
	}

	t.Run("create and get", func(t *testing.T) {
		l := newLedger(t)
		require.NoError(t, l.Create(ctx, pending("job-1")))

		got, err := l.Get(ctx, "job-1")
		require.NoError(t, err)
		assert.Equal(t, "job-1", got.JobID)
		assert.Equal(t, "job-1.pdf", got.Filename)
		assert.Equal(t, models.StatusPending, got.Status)
		assert.False(t, got.CreatedAt.IsZero())
		assert.Nil(t, got.CompletedAt)
		assert.Nil(t, got.Result)
		assert.Nil(t, got.Error)
	})

	t.Run("get unknown job", func(t *testing.T) {
		l := newLedger(t)
		_, err := l.Get(ctx, "missing")
		assert.ErrorIs(t, err, ledger.ErrNotFound)
	})

	t.Run("duplicate create is rejected without overwriting", func(t *testing.T) {
		l := newLedger(t)
		require.NoError(t, l.Create(ctx, pending("dup")))
		_, err := l.Update(ctx, "dup", ledger.Processing())
		require.NoError(t, err)

		second := pending("dup")
		second.Filename = "other.pdf"
		err = l.Create(ctx, second)
		assert.ErrorIs(t, err, ledger.ErrDuplicateJob)

		got, err := l.Get(ctx, "dup")
		require.NoError(t, err)
		assert.Equal(t, "dup.pdf", got.Filename)
		assert.Equal(t, models.StatusProcessing, got.Status)
	})

	t.Run("terminal create stamps completed_at", func(t *testing.T) {
		l := newLedger(t)
		msg := "engine busy"
		job := &models.AnalysisJob{JobID: "sync-fail", Filename: "a.pdf", Query: "q", Status: models.StatusFailed, Error: &msg}
		require.NoError(t, l.Create(ctx, job))

		got, err := l.Get(ctx, "sync-fail")
		require.NoError(t, err)
		assert.Equal(t, models.StatusFailed, got.Status)
		require.NotNil(t, got.Error)
		assert.Equal(t, "engine busy", *got.Error)
		assert.Nil(t, got.Result)
		assert.NotNil(t, got.CompletedAt)
	})

	t.Run("create rejects inconsistent record", func(t *testing.T) {
		l := newLedger(t)
		job := &models.AnalysisJob{JobID: "bad", Filename: "a.pdf", Query: "q", Status: models.StatusCompleted}
		assert.ErrorIs(t, l.Create(ctx, job), ledger.ErrInvalidRecord)
	})

	t.Run("full lifecycle", func(t *testing.T) {
		l := newLedger(t)
		require.NoError(t, l.Create(ctx, pending("life")))

		got, err := l.Update(ctx, "life", ledger.Processing())
		require.NoError(t, err)
		assert.Equal(t, models.StatusProcessing, got.Status)
		assert.Nil(t, got.CompletedAt)

		got, err = l.Update(ctx, "life", ledger.Completed("the report"))
		require.NoError(t, err)
		assert.Equal(t, models.StatusCompleted, got.Status)
		require.NotNil(t, got.Result)
		assert.Equal(t, "the report", *got.Result)
		assert.Nil(t, got.Error)
		require.NotNil(t, got.CompletedAt)
		completedAt := *got.CompletedAt

		_, err = l.Update(ctx, "life", ledger.Failed("late failure"))
		assert.ErrorIs(t, err, ledger.ErrInvalidTransition)

		_, err = l.Update(ctx, "life", ledger.Processing())
		assert.ErrorIs(t, err, ledger.ErrInvalidTransition)

		got, err = l.Get(ctx, "life")
		require.NoError(t, err)
		assert.Equal(t, models.StatusCompleted, got.Status)
		assert.True(t, completedAt.Equal(*got.CompletedAt))
		assert.Nil(t, got.Error)
	})

	t.Run("pending cannot jump to completed", func(t *testing.T) {
		l := newLedger(t)
		require.NoError(t, l.Create(ctx, pending("jump")))
		_, err := l.Update(ctx, "jump", ledger.Completed("r"))
		assert.ErrorIs(t, err, ledger.ErrInvalidTransition)
	})

	t.Run("pending may fail directly", func(t *testing.T) {
		l := newLedger(t)
		require.NoError(t, l.Create(ctx, pending("enqueue-fail")))
		got, err := l.Update(ctx, "enqueue-fail", ledger.Failed("broker down"))
		require.NoError(t, err)
		assert.Equal(t, models.StatusFailed, got.Status)
		assert.NotNil(t, got.CompletedAt)
	})

	t.Run("processing can be re-claimed", func(t *testing.T) {
		l := newLedger(t)
		require.NoError(t, l.Create(ctx, pending("redeliver")))
		_, err := l.Update(ctx, "redeliver", ledger.Processing())
		require.NoError(t, err)
		_, err = l.Update(ctx, "redeliver", ledger.Processing())
		assert.NoError(t, err)
	})

	t.Run("update unknown job", func(t *testing.T) {
		l := newLedger(t)
		_, err := l.Update(ctx, "missing", ledger.Processing())
		assert.ErrorIs(t, err, ledger.ErrNotFound)
	})

	t.Run("update requires matching payload", func(t *testing.T) {
		l := newLedger(t)
		require.NoError(t, l.Create(ctx, pending("payload")))
		_, err := l.Update(ctx, "payload", ledger.Update{Status: models.StatusCompleted})
		assert.ErrorIs(t, err, ledger.ErrInvalidRecord)
		_, err = l.Update(ctx, "payload", ledger.Update{Status: models.StatusPending})
		assert.ErrorIs(t, err, ledger.ErrInvalidRecord)
	})

	t.Run("list is newest first and paginates without overlap", func(t *testing.T) {
		l := newLedger(t)
		for i := range 5 {
			job := pending(fmt.Sprintf("job-%d", i))
			job.CreatedAt = base.Add(time.Duration(i) * time.Second)
			require.NoError(t, l.Create(ctx, job))
		}

		page1, err := l.List(ctx, 2, 0)
		require.NoError(t, err)
		require.Len(t, page1, 2)
		assert.Equal(t, "job-4", page1[0].JobID)
		assert.Equal(t, "job-3", page1[1].JobID)

		page2, err := l.List(ctx, 2, 2)
		require.NoError(t, err)
		require.Len(t, page2, 2)
		assert.Equal(t, "job-2", page2[0].JobID)
		assert.Equal(t, "job-1", page2[1].JobID)

		page3, err := l.List(ctx, 2, 4)
		require.NoError(t, err)
		require.Len(t, page3, 1)
		assert.Equal(t, "job-0", page3[0].JobID)

		empty, err := l.List(ctx, 2, 10)
		require.NoError(t, err)
		assert.Empty(t, empty)
	})

	t.Run("list breaks created_at ties by insertion order", func(t *testing.T) {
		l := newLedger(t)
		for _, id := range []string{"first", "second", "third"} {
			job := pending(id)
			job.CreatedAt = base
			require.NoError(t, l.Create(ctx, job))
		}

		jobs, err := l.List(ctx, 10, 0)
		require.NoError(t, err)
		require.Len(t, jobs, 3)
		assert.Equal(t, []string{"third", "second", "first"},
			[]string{jobs[0].JobID, jobs[1].JobID, jobs[2].JobID})
	})

	t.Run("purge removes only old terminal jobs", func(t *testing.T) {
		l := newLedger(t)
		require.NoError(t, l.Create(ctx, pending("old-pending")))
		msg := "boom"
		require.NoError(t, l.Create(ctx, &models.AnalysisJob{
			JobID: "old-failed", Filename: "a.pdf", Query: "q", Status: models.StatusFailed, Error: &msg,
		}))

		n, err := l.Purge(ctx, time.Now().Add(-time.Hour))
		require.NoError(t, err)
		assert.Zero(t, n)

		n, err = l.Purge(ctx, time.Now().Add(time.Hour))
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		_, err = l.Get(ctx, "old-failed")
		assert.ErrorIs(t, err, ledger.ErrNotFound)
		_, err = l.Get(ctx, "old-pending")
		assert.NoError(t, err)
	})

	t.Run("concurrent jobs do not interfere", func(t *testing.T) {
		l := newLedger(t)
		const n = 8
		for i := range n {
			require.NoError(t, l.Create(ctx, pending(fmt.Sprintf("c-%d", i))))
		}

		var wg sync.WaitGroup
		errs := make(chan error, n)
		for i := range n {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				id := fmt.Sprintf("c-%d", i)
				if _, err := l.Update(ctx, id, ledger.Processing()); err != nil {
					errs <- err
					return
				}
				if _, err := l.Update(ctx, id, ledger.Completed("report for "+id)); err != nil {
					errs <- err
				}
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			require.NoError(t, err)
		}

		for i := range n {
			id := fmt.Sprintf("c-%d", i)
			got, err := l.Get(ctx, id)
			require.NoError(t, err)
			require.NotNil(t, got.Result)
			assert.Equal(t, "report for "+id, *got.Result)
		}
	})

	t.Run("list sees whole records during concurrent updates", func(t *testing.T) {
		l := newLedger(t)
		const n = 50
		for i := range n {
			require.NoError(t, l.Create(ctx, pending(fmt.Sprintf("r-%d", i))))
		}

		done := make(chan struct{})
		torn := make(chan string, n)
		report := func(msg string) {
			select {
			case torn <- msg:
			default:
			}
		}
		var readers sync.WaitGroup
		for range 2 {
			readers.Add(1)
			go func() {
				defer readers.Done()
				for {
					select {
					case <-done:
						return
					default:
					}
					jobs, err := l.List(ctx, n, 0)
					if err != nil {
						report(err.Error())
						return
					}
					for _, j := range jobs {
						if j.Status == models.StatusCompleted && (j.Result == nil || j.CompletedAt == nil) {
							report(j.JobID)
						}
					}
				}
			}()
		}

		var writers sync.WaitGroup
		for i := range n {
			writers.Add(1)
			go func(i int) {
				defer writers.Done()
				id := fmt.Sprintf("r-%d", i)
				if _, err := l.Update(ctx, id, ledger.Processing()); err == nil {
					_, _ = l.Update(ctx, id, ledger.Completed("report for "+id))
				}
			}(i)
		}
		writers.Wait()
		close(done)
		readers.Wait()
		close(torn)

		for id := range torn {
			t.Errorf("incomplete record listed: %s", id)
		}
		jobs, err := l.List(ctx, n, 0)
		require.NoError(t, err)
		for _, j := range jobs {
			assert.Equal(t, models.StatusCompleted, j.Status, j.JobID)
		}
	})
}

func TestMemoryLedger(t *testing.T) {
	runLedgerSuite(t, func(t *testing.T) ledger.Ledger {
		return ledger.NewMemoryLedger()
	})
}

func TestSQLiteLedger(t *testing.T) {
	runLedgerSuite(t, func(t *testing.T) ledger.Ledger {
		url := "sqlite:///" + filepath.Join(t.TempDir(), "ledger.db")
		l, err := ledger.Open(context.Background(), config.DatabaseConfig{URL: url, MaxConns: 1})
		require.NoError(t, err)
		t.Cleanup(func() { assert.NoError(t, l.Close()) })
		return l
	})
}

func TestOpen_Memory(t *testing.T) {
	l, err := ledger.Open(context.Background(), config.DatabaseConfig{URL: "memory://"})
	require.NoError(t, err)
	assert.IsType(t, &ledger.MemoryLedger{}, l)
	assert.NoError(t, l.Ping(context.Background()))
}

func TestOpenShared(t *testing.T) {
	_, err := ledger.OpenShared(context.Background(), config.DatabaseConfig{URL: "memory://"})
	assert.ErrorIs(t, err, ledger.ErrProcessLocal)

	url := "sqlite:///" + filepath.Join(t.TempDir(), "shared.db")
	l, err := ledger.OpenShared(context.Background(), config.DatabaseConfig{URL: url, MaxConns: 1})
	require.NoError(t, err)
	assert.IsType(t, &ledger.SQLiteLedger{}, l)
	assert.NoError(t, l.Close())
}

func TestOpen_UnsupportedScheme(t *testing.T) {
	_, err := ledger.Open(context.Background(), config.DatabaseConfig{URL: "mysql://localhost/db"})
	assert.Error(t, err)
}

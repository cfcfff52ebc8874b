package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbhutani/financial-analyzer/internal/analysis"
	"github.com/nikhilbhutani/financial-analyzer/internal/api/handlers"
	"github.com/nikhilbhutani/financial-analyzer/internal/config"
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
	mu    sync.Mutex
	tasks []analysis.Task
	err   error
}

func (d *fakeDispatcher) Dispatch(_ context.Context, t analysis.Task) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.tasks = append(d.tasks, t)
	return nil
}

type testServer struct {
	handler http.Handler
	svc     *analysis.Service
	disp    *fakeDispatcher
	engine  *fakeEngine
}

func newTestServer(t *testing.T, checks map[string]handlers.Check) *testServer {
	t.Helper()
	store, err := storage.NewLocalStore(t.TempDir())
	require.NoError(t, err)

	ts := &testServer{
		disp: &fakeDispatcher{},
		engine: &fakeEngine{analyzeFn: func(_ context.Context, query, _ string) (string, error) {
			return "Report: " + query, nil
		}},
	}
	ts.svc = analysis.NewService(ledger.NewMemoryLedger(), store, ts.engine, ts.disp)

	rt := NewRouter(config.ServerConfig{MaxUploadBytes: 1 << 20}, ts.svc, checks)
	t.Cleanup(rt.Close)
	ts.handler = rt.Setup()
	return ts
}

func (ts *testServer) do(t *testing.T, req *http.Request) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return rec, body
}

func (ts *testServer) get(t *testing.T, path string) (*httptest.ResponseRecorder, map[string]any) {
	return ts.do(t, httptest.NewRequest(http.MethodGet, path, nil))
}

func uploadRequest(t *testing.T, path, query string, withFile bool) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if withFile {
		fw, err := mw.CreateFormFile("file", "TSLA-Q2-2025-Update.pdf")
		require.NoError(t, err)
		_, err = fw.Write([]byte("%PDF-1.4 test"))
		require.NoError(t, err)
	}
	if query != "" {
		require.NoError(t, mw.WriteField("query", query))
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func TestRoot(t *testing.T) {
	ts := newTestServer(t, nil)
	rec, body := ts.get(t, "/")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Financial Document Analyzer API is running", body["message"])
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t, map[string]handlers.Check{
		"ledger": func(context.Context) error { return nil },
	})
	rec, body := ts.get(t, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])

	rec, body = ts.get(t, "/readyz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"ledger": "ok"}, body["checks"])

	ts = newTestServer(t, map[string]handlers.Check{
		"ledger": func(context.Context) error { return nil },
		"redis":  func(context.Context) error { return errors.New("connection refused") },
	})
	rec, body = ts.get(t, "/readyz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "unhealthy", body["status"])
	assert.Equal(t, "unhealthy: connection refused", body["checks"].(map[string]any)["redis"])
}

func TestAnalyze_Sync(t *testing.T) {
	ts := newTestServer(t, nil)

	rec, body := ts.do(t, uploadRequest(t, "/analyze", "", true))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "success", body["status"])
	assert.Equal(t, models.DefaultQuery, body["query"])
	assert.Equal(t, "Report: "+models.DefaultQuery, body["analysis"])
	assert.Equal(t, "TSLA-Q2-2025-Update.pdf", body["file_processed"])

	jobID := body["job_id"].(string)
	rec, body = ts.get(t, "/status/"+jobID)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "completed", body["status"])
	assert.Equal(t, "Report: "+models.DefaultQuery, body["result"])
	assert.NotNil(t, body["completed_at"])
	assert.NotContains(t, body, "error")
}

func TestAnalyze_MissingFile(t *testing.T) {
	ts := newTestServer(t, nil)
	rec, body := ts.do(t, uploadRequest(t, "/analyze", "q", false))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "file required", body["error"])
}

func TestAnalyze_EngineFailure(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.engine.analyzeFn = func(context.Context, string, string) (string, error) {
		return "", errors.New("engine busy")
	}

	rec, body := ts.do(t, uploadRequest(t, "/analyze", "Is TSLA a buy?", true))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Error processing financial document: engine busy", body["error"])

	// the failure is still recorded
	rec, body = ts.get(t, "/results")
	require.Equal(t, http.StatusOK, rec.Code)
	results := body["results"].([]any)
	require.Len(t, results, 1)
	assert.Equal(t, "failed", results[0].(map[string]any)["status"])
}

func TestAnalyze_AsyncLifecycle(t *testing.T) {
	ts := newTestServer(t, nil)

	rec, body := ts.do(t, uploadRequest(t, "/analyze/async", "What is the debt load?", true))
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "queued", body["status"])
	jobID := body["job_id"].(string)
	assert.Contains(t, body["message"], "/status/"+jobID)

	rec, body = ts.get(t, "/status/"+jobID)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pending", body["status"])
	assert.NotContains(t, body, "result")
	assert.NotContains(t, body, "completed_at")

	rec, body = ts.get(t, "/results/"+jobID)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, body["result"])
	assert.Nil(t, body["error"])
	assert.Nil(t, body["completed_at"])

	require.Len(t, ts.disp.tasks, 1)
	require.NoError(t, ts.svc.Process(context.Background(), ts.disp.tasks[0]))

	rec, body = ts.get(t, "/results/"+jobID)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "completed", body["status"])
	assert.Equal(t, "Report: What is the debt load?", body["result"])
	assert.NotNil(t, body["completed_at"])
}

func TestAnalyze_AsyncQueueFailure(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.disp.err = errors.New("redis unreachable")

	rec, body := ts.do(t, uploadRequest(t, "/analyze/async", "", true))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, body["error"], "Error queuing document analysis: ")
	assert.Contains(t, body["error"], "redis unreachable")
}

func TestNotFound(t *testing.T) {
	ts := newTestServer(t, nil)

	rec, body := ts.get(t, "/status/does-not-exist")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Task not found", body["error"])

	rec, body = ts.get(t, "/results/does-not-exist")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Analysis result not found", body["error"])
}

func TestResults_Pagination(t *testing.T) {
	ts := newTestServer(t, nil)

	var ids []string
	for range 5 {
		_, body := ts.do(t, uploadRequest(t, "/analyze/async", "", true))
		ids = append(ids, body["job_id"].(string))
		time.Sleep(2 * time.Millisecond)
	}
	require.Len(t, ts.disp.tasks, 5)

	// finish them newest first so completion order is the reverse of submission
	for i := len(ts.disp.tasks) - 1; i >= 0; i-- {
		require.NoError(t, ts.svc.Process(context.Background(), ts.disp.tasks[i]))
		time.Sleep(2 * time.Millisecond)
	}

	rec, body := ts.get(t, "/results?limit=2")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, body["count"])
	results := body["results"].([]any)
	assert.Equal(t, ids[4], results[0].(map[string]any)["job_id"])
	assert.Equal(t, ids[3], results[1].(map[string]any)["job_id"])
	assert.NotContains(t, results[0], "result")
	for _, r := range results {
		assert.Equal(t, "completed", r.(map[string]any)["status"])
		assert.NotNil(t, r.(map[string]any)["completed_at"])
	}

	_, body = ts.get(t, "/results?limit=2&offset=2")
	assert.EqualValues(t, 2, body["count"])
	assert.Equal(t, ids[2], body["results"].([]any)[0].(map[string]any)["job_id"])

	_, body = ts.get(t, "/results?limit=2&offset=4")
	assert.EqualValues(t, 1, body["count"])
	assert.Equal(t, ids[0], body["results"].([]any)[0].(map[string]any)["job_id"])

	_, body = ts.get(t, "/results")
	assert.EqualValues(t, 5, body["count"])

	for _, q := range []string{"limit=0", "limit=501", "limit=abc", "offset=-1"} {
		rec, _ := ts.get(t, "/results?"+q)
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

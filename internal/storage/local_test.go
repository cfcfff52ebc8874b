package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbhutani/financial-analyzer/internal/config"
)

func TestLocalStore_SaveOpenDelete(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := NewLocalStore(dir)
	require.NoError(t, err)

	h, err := s.Save(ctx, "abc", strings.NewReader("%PDF-1.4 body"))
	require.NoError(t, err)
	assert.Equal(t, Handle("financial_document_abc.pdf"), h)

	path, release, err := s.Open(ctx, h)
	require.NoError(t, err)
	defer release()
	assert.Equal(t, filepath.Join(dir, "financial_document_abc.pdf"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4 body", string(data))

	s.Delete(ctx, h)
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))

	// second delete is a no-op
	s.Delete(ctx, h)

	_, _, err = s.Open(ctx, h)
	assert.Error(t, err)
}

func TestLocalStore_LeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	s, err := NewLocalStore(dir)
	require.NoError(t, err)

	_, err = s.Save(context.Background(), "one", strings.NewReader("x"))
	require.NoError(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "financial_document_one.pdf", entries[0].Name())
}

func TestLocalStore_RejectsForeignHandles(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := NewLocalStore(dir)
	require.NoError(t, err)

	outside := filepath.Join(t.TempDir(), "keep.txt")
	require.NoError(t, os.WriteFile(outside, []byte("keep"), 0o644))

	for _, h := range []Handle{"", "../keep.txt", "notes.txt", "sub/financial_document_x.pdf"} {
		_, _, err := s.Open(ctx, h)
		assert.Error(t, err, "handle %q", h)
		s.Delete(ctx, h)
	}
	_, err = os.Stat(outside)
	assert.NoError(t, err)
}

func TestLocalStore_Sweep(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := NewLocalStore(dir)
	require.NoError(t, err)

	old, err := s.Save(ctx, "old", strings.NewReader("old"))
	require.NoError(t, err)
	fresh, err := s.Save(ctx, "fresh", strings.NewReader("fresh"))
	require.NoError(t, err)
	unrelated := filepath.Join(dir, "TSLA-Q2-2025-Update.pdf")
	require.NoError(t, os.WriteFile(unrelated, []byte("sample"), 0o644))

	past := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(s.path(old), past, past))
	require.NoError(t, os.Chtimes(unrelated, past, past))

	n, err := s.Sweep(ctx, time.Hour, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = os.Stat(s.path(old))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(s.path(fresh))
	assert.NoError(t, err)
	_, err = os.Stat(unrelated)
	assert.NoError(t, err)
}

func TestLocalStore_SweepKeepsLiveDocuments(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStore(t.TempDir())
	require.NoError(t, err)

	queued, err := s.Save(ctx, "queued", strings.NewReader("queued"))
	require.NoError(t, err)
	orphan, err := s.Save(ctx, "orphan", strings.NewReader("orphan"))
	require.NoError(t, err)

	past := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(s.path(queued), past, past))
	require.NoError(t, os.Chtimes(s.path(orphan), past, past))

	var seen []string
	n, err := s.Sweep(ctx, time.Hour, func(h Handle) bool {
		id, ok := h.JobID()
		require.True(t, ok)
		seen = append(seen, id)
		return id == "queued"
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.ElementsMatch(t, []string{"queued", "orphan"}, seen)

	_, err = os.Stat(s.path(queued))
	assert.NoError(t, err)
	_, err = os.Stat(s.path(orphan))
	assert.True(t, os.IsNotExist(err))
}

func TestHandle_JobID(t *testing.T) {
	id, ok := Handle(FileName("job-42")).JobID()
	assert.True(t, ok)
	assert.Equal(t, "job-42", id)

	_, ok = Handle("../etc/passwd").JobID()
	assert.False(t, ok)
}

func TestNew_Backends(t *testing.T) {
	ctx := context.Background()

	store, err := New(ctx, config.StorageConfig{Backend: "local", Dir: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &LocalStore{}, store)

	_, err = New(ctx, config.StorageConfig{Backend: "s3"})
	assert.Error(t, err)

	_, err = New(ctx, config.StorageConfig{Backend: "ftp"})
	assert.Error(t, err)
}

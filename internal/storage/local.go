package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// LocalStore keeps documents in a directory shared by the api and worker
// processes.
type LocalStore struct {
	dir string
}

func NewLocalStore(dir string) (*LocalStore, error) {
	if dir == "" {
		dir = "data"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &LocalStore{dir: dir}, nil
}

func (s *LocalStore) Save(_ context.Context, id string, content io.Reader) (Handle, error) {
	h := Handle(FileName(id))
	if err := h.validate(); err != nil {
		return "", err
	}

	// write under a temp name so a crashed upload never looks complete
	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("create upload file: %w", err)
	}
	if _, err := io.Copy(tmp, content); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write upload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("close upload: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path(h)); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("store upload: %w", err)
	}
	return h, nil
}

func (s *LocalStore) Open(_ context.Context, h Handle) (string, func(), error) {
	if err := h.validate(); err != nil {
		return "", nil, err
	}
	p := s.path(h)
	if _, err := os.Stat(p); err != nil {
		return "", nil, fmt.Errorf("open document: %w", err)
	}
	return p, func() {}, nil
}

func (s *LocalStore) Delete(_ context.Context, h Handle) {
	if err := h.validate(); err != nil {
		slog.Warn("skipping document delete", "handle", string(h), "error", err)
		return
	}
	if err := os.Remove(s.path(h)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("failed to delete document", "handle", string(h), "error", err)
	}
}

func (s *LocalStore) Sweep(_ context.Context, olderThan time.Duration, keep func(Handle) bool) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("read storage dir: %w", err)
	}

	cutoff := time.Now().Add(-olderThan)
	removed := 0
	for _, e := range entries {
		if e.IsDir() || !isDocumentName(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if keep != nil && keep(Handle(e.Name())) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, e.Name())); err != nil && !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("failed to sweep document", "file", e.Name(), "error", err)
			continue
		}
		removed++
	}
	return removed, nil
}

func (s *LocalStore) path(h Handle) string {
	return filepath.Join(s.dir, string(h))
}

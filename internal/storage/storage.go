// Package storage holds uploaded documents between submission and analysis.
package storage

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/nikhilbhutani/financial-analyzer/internal/config"
)

const (
	filePrefix = "financial_document_"
	fileSuffix = ".pdf"
)

// Handle identifies a stored document. It is safe to pass between processes.
type Handle string

// DocumentStore is the transient holding area for uploaded files.
type DocumentStore interface {
	Save(ctx context.Context, id string, content io.Reader) (Handle, error)
	// Open makes the document readable at a local path. release must be
	// called once the caller is done with the path.
	Open(ctx context.Context, h Handle) (path string, release func(), err error)
	// Delete removes the document. Missing documents are ignored and other
	// failures are logged, never returned.
	Delete(ctx context.Context, h Handle)
	// Sweep removes documents older than olderThan, except those keep
	// reports true for, and returns how many were removed. A nil keep
	// removes every stale document.
	Sweep(ctx context.Context, olderThan time.Duration, keep func(Handle) bool) (int, error)
}

// New builds the DocumentStore selected by cfg.Backend.
func New(ctx context.Context, cfg config.StorageConfig) (DocumentStore, error) {
	switch cfg.Backend {
	case "", "local":
		return NewLocalStore(cfg.Dir)
	case "s3":
		return NewS3Store(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

// FileName is the stored name of the document with the given id.
func FileName(id string) string {
	return filePrefix + id + fileSuffix
}

// JobID returns the job id a handle was saved under.
func (h Handle) JobID() (string, bool) {
	if h.validate() != nil {
		return "", false
	}
	return strings.TrimSuffix(strings.TrimPrefix(string(h), filePrefix), fileSuffix), true
}

func (h Handle) validate() error {
	name := string(h)
	if name == "" || filepath.Base(name) != name ||
		!strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
		return fmt.Errorf("invalid document handle %q", name)
	}
	return nil
}

func isDocumentName(name string) bool {
	return Handle(name).validate() == nil
}

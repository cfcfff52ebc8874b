// Package engine runs the four-agent financial analysis over one document.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nikhilbhutani/financial-analyzer/internal/config"
	"github.com/nikhilbhutani/financial-analyzer/internal/llm"
	"github.com/nikhilbhutani/financial-analyzer/internal/search"
	"github.com/nikhilbhutani/financial-analyzer/pkg/textextract"
)

// Engine produces a narrative report for a query about a document.
type Engine interface {
	Analyze(ctx context.Context, query, documentPath string) (string, error)
}

// Kind classifies why an analysis failed.
type Kind string

const (
	KindUpstreamTimeout Kind = "upstream-timeout"
	KindExtraction      Kind = "extraction-failure"
	KindUnknown         Kind = "unknown"
)

// Failure is the error returned by Analyze. Message is the human-readable
// text recorded against the job.
type Failure struct {
	Kind    Kind
	Message string
	Cause   error
}

func (f *Failure) Error() string { return f.Message }
func (f *Failure) Unwrap() error { return f.Cause }

// AsFailure classifies err. It returns nil for a nil error and err itself when
// it already is a *Failure.
func AsFailure(err error) *Failure {
	if err == nil {
		return nil
	}
	var f *Failure
	if errors.As(err, &f) {
		return f
	}

	kind := KindUnknown
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		kind = KindUpstreamTimeout
	case errors.Is(err, textextract.ErrExtraction):
		kind = KindExtraction
	}
	return &Failure{Kind: kind, Message: err.Error(), Cause: err}
}

// backend runs the agent pipeline. inputs carries "query" and "file_path".
type backend interface {
	run(ctx context.Context, inputs map[string]string) (string, error)
}

// Analyzer is the Engine used by the api and worker binaries. It is safe for
// concurrent use and meant to be built once per process.
type Analyzer struct {
	backend         backend
	defaultDocument string
	maxTokens       int
	timeout         time.Duration
}

// New builds the analyzer for the configured backend. searcher may be nil, in
// which case the web search tool reports itself unavailable.
func New(cfg *config.Config, gw llm.Gateway, searcher search.Searcher) (*Analyzer, error) {
	tools := newToolbox(searcher)

	var b backend
	switch cfg.Engine.Backend {
	case "", "crew":
		b = newCrewBackend(cfg, gw, tools)
	case "agents":
		var err error
		b, err = newAgentsBackend(cfg, tools)
		if err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown engine backend %q", cfg.Engine.Backend)
	}

	slog.Info("analysis engine ready", "backend", cfg.Engine.Backend, "timeout", cfg.Engine.Timeout)
	return &Analyzer{
		backend:         b,
		defaultDocument: cfg.Engine.DefaultDocument,
		maxTokens:       cfg.Engine.MaxDocumentTokens,
		timeout:         cfg.Engine.Timeout,
	}, nil
}

// Analyze runs the pipeline. An empty documentPath selects the default
// sample document. Every returned error is a *Failure.
func (a *Analyzer) Analyze(ctx context.Context, query, documentPath string) (string, error) {
	if documentPath == "" {
		documentPath = a.defaultDocument
	}
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	doc, err := loadDocument(documentPath, a.maxTokens)
	if err != nil {
		return "", AsFailure(err)
	}

	start := time.Now()
	report, err := a.backend.run(withDocument(ctx, doc), map[string]string{
		"query":     query,
		"file_path": documentPath,
	})
	if err != nil {
		f := AsFailure(err)
		// rate limiter waits fail early without wrapping the deadline error
		if f.Kind == KindUnknown && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			f.Kind = KindUpstreamTimeout
		}
		return "", f
	}

	report = strings.TrimSpace(report)
	if report == "" {
		return "", &Failure{Kind: KindUnknown, Message: "analysis produced an empty report"}
	}
	slog.Info("analysis finished", "document", documentPath, "duration", time.Since(start))
	return report, nil
}

package engine

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/nikhilbhutani/financial-analyzer/pkg/textextract"
	"github.com/nikhilbhutani/financial-analyzer/pkg/tokenizer"
)

// document is the job's PDF, extracted once per analysis and shared by every
// agent through the context.
type document struct {
	path     string
	text     string
	rendered string
	tokens   int
}

type documentKey struct{}

func withDocument(ctx context.Context, doc *document) context.Context {
	return context.WithValue(ctx, documentKey{}, doc)
}

func documentFrom(ctx context.Context) (*document, bool) {
	doc, ok := ctx.Value(documentKey{}).(*document)
	return doc, ok && doc != nil
}

func loadDocument(path string, maxTokens int) (*document, error) {
	ext, err := textextract.ExtractPDF(path)
	if err != nil {
		return nil, err
	}
	text := strings.TrimSpace(ext.Content)
	if text == "" {
		return nil, fmt.Errorf("%w: %s contains no extractable text", textextract.ErrExtraction, filepath.Base(path))
	}
	doc := &document{
		path:     path,
		text:     ext.Content,
		rendered: render(path, ext, maxTokens),
		tokens:   tokenizer.CountTokens(ext.Content),
	}
	slog.Debug("document loaded", "file", filepath.Base(path), "pages", ext.Pages,
		"tokens", doc.tokens, "truncated", maxTokens > 0 && doc.tokens > maxTokens)
	return doc, nil
}

func render(path string, ext *textextract.ExtractedText, maxTokens int) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Document: %s (%d pages)\n", filepath.Base(path), ext.Pages)
	if title := ext.Metadata["title"]; title != "" {
		fmt.Fprintf(&sb, "Title: %s\n", title)
	}
	sb.WriteString("\n")

	body := ext.Content
	truncated := false
	if maxTokens > 0 {
		body, truncated = tokenizer.Truncate(body, maxTokens)
	}
	sb.WriteString(body)
	if truncated {
		sb.WriteString("\n\n[document truncated]")
	}
	return sb.String()
}

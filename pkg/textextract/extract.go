// Package textextract pulls plain text and basic metadata out of PDF files.
package textextract

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// ErrExtraction marks a document whose text could not be read.
var ErrExtraction = errors.New("text extraction failed")

func init() {
	// keep pdfcpu from writing a config dir under $HOME
	api.DisableConfigDir()
}

type ExtractedText struct {
	Content  string
	Pages    int
	Metadata map[string]string
}

// ExtractPDF reads every page of the PDF at path. Each page ends with a
// newline and runs of blank lines are collapsed across the whole text,
// page boundaries included.
func ExtractPDF(path string) (*ExtractedText, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		if f != nil {
			f.Close()
		}
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s: no such file", ErrExtraction, path)
		}
		return nil, fmt.Errorf("%w: open %s: %v", ErrExtraction, path, err)
	}
	defer f.Close()

	var buf strings.Builder
	numPages := reader.NumPage()

	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil || text == "" {
			continue
		}
		buf.WriteString(text)
		buf.WriteString("\n")
	}

	meta := map[string]string{"type": "pdf"}
	for k, v := range inspect(path) {
		meta[k] = v
	}

	return &ExtractedText{
		Content:  CollapseBlankLines(buf.String()),
		Pages:    numPages,
		Metadata: meta,
	}, nil
}

// CollapseBlankLines replaces every run of consecutive newlines with one.
func CollapseBlankLines(s string) string {
	for strings.Contains(s, "\n\n") {
		s = strings.ReplaceAll(s, "\n\n", "\n")
	}
	return s
}

// inspect reads structural metadata with pdfcpu. Failures are ignored since
// the text reader is more lenient with malformed files.
func inspect(path string) map[string]string {
	meta := map[string]string{}
	if n, err := api.PageCountFile(path); err == nil {
		meta["page_count"] = strconv.Itoa(n)
	}

	ctx, err := api.ReadContextFile(path)
	if err != nil || ctx == nil || ctx.XRefTable == nil {
		return meta
	}
	meta["encrypted"] = strconv.FormatBool(ctx.Encrypt != nil)
	if ctx.Title != "" {
		meta["title"] = ctx.Title
	}
	if ctx.Producer != "" {
		meta["producer"] = ctx.Producer
	}
	return meta
}

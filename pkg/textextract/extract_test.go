package textextract

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbhutani/financial-analyzer/internal/testutil"
)

func TestExtractPDF(t *testing.T) {
	path := testutil.WritePDF(t, "Total revenues grew 12 percent", "Debt increased in the quarter")

	out, err := ExtractPDF(path)
	require.NoError(t, err)
	assert.Equal(t, 2, out.Pages)
	assert.Contains(t, out.Content, "Total revenues grew 12 percent")
	assert.Contains(t, out.Content, "Debt increased in the quarter")
	assert.NotContains(t, out.Content, "\n\n")
	assert.Contains(t, out.Content, "percent\nDebt", "pages are joined by a single newline")
	assert.Equal(t, "pdf", out.Metadata["type"])
}

func TestExtractPDF_MissingFile(t *testing.T) {
	_, err := ExtractPDF(filepath.Join(t.TempDir(), "missing.pdf"))
	assert.ErrorIs(t, err, ErrExtraction)
}

func TestExtractPDF_NotAPDF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fake.pdf")
	require.NoError(t, os.WriteFile(path, []byte("just some text"), 0o644))

	_, err := ExtractPDF(path)
	assert.ErrorIs(t, err, ErrExtraction)
}

func TestCollapseBlankLines(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"a\n\nb", "a\nb"},
		{"a\n\n\n\nb\n\n", "a\nb\n"},
		{"no breaks", "no breaks"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, CollapseBlankLines(tt.in))
	}
}

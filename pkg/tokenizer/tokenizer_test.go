package tokenizer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCountTokens(t *testing.T) {
	assert.Equal(t, 1, CountTokens(""))
	assert.Equal(t, 4, CountTokens("one two three"))
}

func TestTruncate(t *testing.T) {
	text := "alpha  beta\ngamma delta epsilon"

	out, cut := Truncate(text, 100)
	assert.False(t, cut)
	assert.Equal(t, text, out)

	// 4 tokens allow 3 words
	out, cut = Truncate(text, 4)
	assert.True(t, cut)
	assert.Equal(t, "alpha  beta\ngamma", out)
	assert.LessOrEqual(t, CountTokens(out), 4)
}

func TestTruncate_KeepsAtLeastOneWord(t *testing.T) {
	out, cut := Truncate("revenue grew strongly", 0)
	assert.True(t, cut)
	assert.Equal(t, "revenue", out)
}

func TestTruncate_LargeInput(t *testing.T) {
	text := strings.Repeat("word ", 10000)
	out, cut := Truncate(text, 300)
	assert.True(t, cut)
	assert.Len(t, strings.Fields(out), 225)
}

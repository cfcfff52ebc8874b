package tokenizer

import (
	"strings"
	"unicode"
)

// CountTokens provides a rough token count estimate.
func CountTokens(text string) int {
	// Rough estimate: ~4 tokens per 3 English words
	words := strings.Fields(text)
	return max(len(words)*4/3, 1)
}

// Truncate cuts text so that CountTokens stays within maxTokens, keeping the
// original whitespace of the retained prefix. It reports whether anything
// was dropped.
func Truncate(text string, maxTokens int) (string, bool) {
	maxWords := maxTokens * 3 / 4
	if maxWords < 1 {
		maxWords = 1
	}

	words := 0
	inWord := false
	for i, r := range text {
		if unicode.IsSpace(r) {
			inWord = false
			continue
		}
		if !inWord {
			inWord = true
			words++
			if words > maxWords {
				return strings.TrimRightFunc(text[:i], unicode.IsSpace), true
			}
		}
	}
	return text, false
}

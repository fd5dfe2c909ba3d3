// Package text splits input text into provider-sized chunks.
package text

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidMaxLength is returned when the chunk length budget is below one character.
var ErrInvalidMaxLength = errors.New("max chunk length must be at least 1")

const (
	errFmtInvalidMaxLength = "%w: got %d"
	space                  = ' '
)

// isSentenceEnd reports whether r terminates a sentence for chunking purposes.
func isSentenceEnd(r rune) bool {
	switch r {
	case '.', '?', '!', '\n':
		return true
	default:
		return false
	}
}

// Split breaks text into an ordered list of trimmed, non-empty chunks of at
// most maxLength characters (Unicode code points).
//
// While the remainder is too long, the cut is placed after the last sentence
// terminator inside the budget, else after the last space, else exactly at
// maxLength.
func Split(text string, maxLength int) ([]string, error) {
	if maxLength < 1 {
		return nil, fmt.Errorf(errFmtInvalidMaxLength, ErrInvalidMaxLength, maxLength)
	}

	remaining := []rune(strings.TrimSpace(text))
	chunks := make([]string, 0, len(remaining)/maxLength+1)

	for len(remaining) > 0 {
		if len(remaining) <= maxLength {
			chunks = appendChunk(chunks, remaining)

			break
		}

		splitAt := findSplit(remaining, maxLength)
		chunks = appendChunk(chunks, remaining[:splitAt])
		remaining = []rune(strings.TrimSpace(string(remaining[splitAt:])))
	}

	return chunks, nil
}

// findSplit returns the exclusive end index of the next chunk.
func findSplit(remaining []rune, maxLength int) int {
	start := min(len(remaining)-1, maxLength-1)

	for i := start; i >= 0; i-- {
		if isSentenceEnd(remaining[i]) {
			return i + 1
		}
	}

	for i := start; i >= 0; i-- {
		if remaining[i] == space {
			return i + 1
		}
	}

	return maxLength
}

func appendChunk(chunks []string, chunk []rune) []string {
	trimmed := strings.TrimSpace(string(chunk))
	if trimmed == "" {
		return chunks
	}

	return append(chunks, trimmed)
}

// Package chunker splits extracted document text into overlapping,
// fixed-size word windows. Chunk boundaries are a pure function of the input
// so re-running ingestion over the same text always yields the same chunks.
package chunker

import "strings"

const (
	// DefaultSize is the number of words per chunk used by ingestion.
	DefaultSize = 800
	// DefaultOverlap is the number of words shared by consecutive chunks.
	DefaultOverlap = 200
)

// Split breaks text on whitespace and emits windows of size words, advancing
// by size-overlap words each step (at least one word, so an overlap that is
// greater than or equal to size still terminates). The final window is
// truncated to the remaining words and ends the scan.
//
// Empty or whitespace-only text yields no chunks. size < 1 is undefined and
// also yields no chunks.
func Split(text string, size, overlap int) []string {
	if size < 1 {
		return nil
	}
	if overlap < 0 {
		overlap = 0
	}

	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	step := max(size-overlap, 1)

	chunks := make([]string, 0, Count(len(words), size, overlap))
	for start := 0; start < len(words); start += step {
		end := min(start+size, len(words))
		chunks = append(chunks, strings.Join(words[start:end], " "))
		if end == len(words) {
			break
		}
	}
	return chunks
}

// Count returns how many chunks Split produces for a text of n words without
// materialising them. It is used to pre-size slices and to report progress.
func Count(n, size, overlap int) int {
	if n <= 0 || size < 1 {
		return 0
	}
	if overlap < 0 {
		overlap = 0
	}
	if n <= size {
		return 1
	}
	step := max(size-overlap, 1)
	// Windows start at 0, step, 2*step, ... until one reaches the end.
	return (n-size+step-1)/step + 1
}

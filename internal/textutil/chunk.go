// Package textutil provides the text-segmentation helpers the
// extraction pipeline uses on long ordinance documents.
package textutil

import (
	"strings"
)

// Chunk splits text into fixed-size segments of size characters,
// each overlapping its predecessor by overlap characters. Boundaries
// fall on rune positions, so multi-byte characters (section signs,
// accented names) never straddle two chunks. The final chunk may be
// shorter. Returns nil for empty input.
func Chunk(text string, size, overlap int) []string {
	if text == "" || size <= 0 {
		return nil
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	runes := []rune(text)
	step := size - overlap
	var chunks []string
	for start := 0; start < len(runes); start += step {
		end := start + size
		if end >= len(runes) {
			chunks = append(chunks, string(runes[start:]))
			break
		}
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}

// MergeOverlapping joins consecutive chunks back into one string,
// collapsing the longest suffix of each chunk that prefixes the next
// so overlapped regions appear once.
func MergeOverlapping(chunks []string) string {
	if len(chunks) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString(chunks[0])
	merged := chunks[0]

	for _, chunk := range chunks[1:] {
		overlap := longestOverlap(merged, chunk)
		sb.WriteString(chunk[overlap:])
		merged = chunk
	}
	return sb.String()
}

// longestOverlap returns the length of the longest suffix of prev
// that is a prefix of next
func longestOverlap(prev, next string) int {
	max := len(prev)
	if len(next) < max {
		max = len(next)
	}
	for n := max; n > 0; n-- {
		if strings.HasSuffix(prev, next[:n]) {
			return n
		}
	}
	return 0
}

// Package ingest loads the company catalog, 10-K filings, and earnings call
// transcripts into the local store, embedding passage text along the way.
package ingest

import "strings"

// Chunking window, in words. Overlap keeps sentences that straddle a chunk
// boundary retrievable from both sides.
const (
	ChunkWords   = 600
	OverlapWords = 100
)

// ChunkText splits text into word windows of size words with overlap words
// shared between consecutive chunks. Whitespace runs collapse to single
// spaces. A final window shorter than the overlap is merged into the
// previous chunk rather than emitted as a fragment.
func ChunkText(text string, size, overlap int) []string {
	if size <= 0 {
		size = ChunkWords
	}
	if overlap < 0 || overlap >= size {
		overlap = OverlapWords
	}

	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}
	if len(words) <= size {
		return []string{strings.Join(words, " ")}
	}

	step := size - overlap
	var chunks []string
	for start := 0; start < len(words); start += step {
		end := start + size
		if end >= len(words) {
			chunks = append(chunks, strings.Join(words[start:], " "))
			break
		}
		// Absorb a short tail into this chunk instead of emitting it alone.
		if len(words)-end <= overlap {
			chunks = append(chunks, strings.Join(words[start:], " "))
			break
		}
		chunks = append(chunks, strings.Join(words[start:end], " "))
	}
	return chunks
}

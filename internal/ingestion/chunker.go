package ingestion

import (
	"errors"
	"fmt"
)

const (
	DefaultChunkSize    = 800
	DefaultChunkOverlap = 100
)

var ErrInvalidWindow = errors.New("chunk size must exceed overlap")

// Chunk is a window of the source document. Start and End are byte offsets,
// Text equals document[Start:End].
type Chunk struct {
	ID    string `json:"id"`
	Index int    `json:"index"`
	Text  string `json:"text"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

// ChunkText splits text into windows of size characters, each starting
// size-overlap characters after the previous one. The last window may be
// shorter; empty text yields no chunks.
func ChunkText(text string, size, overlap int) ([]Chunk, error) {
	if size <= 0 || overlap < 0 || size-overlap <= 0 {
		return nil, fmt.Errorf("%w: size=%d overlap=%d", ErrInvalidWindow, size, overlap)
	}
	if text == "" {
		return nil, nil
	}

	// byteAt[i] is the byte offset of the i-th rune; the final entry is len(text).
	byteAt := make([]int, 0, len(text)+1)
	for i := range text {
		byteAt = append(byteAt, i)
	}
	runes := len(byteAt)
	byteAt = append(byteAt, len(text))

	step := size - overlap
	chunks := make([]Chunk, 0, runes/step+1)
	for start := 0; start < runes; start += step {
		end := start + size
		if end > runes {
			end = runes
		}
		b0, b1 := byteAt[start], byteAt[end]
		chunks = append(chunks, Chunk{
			ID:    fmt.Sprintf("chunk-%d", len(chunks)),
			Index: len(chunks),
			Text:  text[b0:b1],
			Start: b0,
			End:   b1,
		})
	}
	return chunks, nil
}

// Texts returns the chunk bodies in order.
func Texts(chunks []Chunk) []string {
	out := make([]string, len(chunks))
	for i, c := range chunks {
		out[i] = c.Text
	}
	return out
}

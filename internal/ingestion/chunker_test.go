package ingestion

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkTextWindows(t *testing.T) {
	tests := []struct {
		name   string
		length int
		want   [][2]int
	}{
		{"empty", 0, nil},
		{"shorter than window", 500, [][2]int{{0, 500}}},
		{"exactly one window", 800, [][2]int{{0, 800}}},
		{"short tail", 850, [][2]int{{0, 800}, {700, 850}}},
		{"three windows", 2000, [][2]int{{0, 800}, {700, 1500}, {1400, 2000}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text := strings.Repeat("a", tt.length)
			chunks, err := ChunkText(text, DefaultChunkSize, DefaultChunkOverlap)
			require.NoError(t, err)

			var got [][2]int
			for _, c := range chunks {
				got = append(got, [2]int{c.Start, c.End})
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestChunksCoverDocumentWithOverlap(t *testing.T) {
	text := strings.Repeat("Glucose 165 mg/dL; HbA1c 8.5%. ", 90)
	chunks, err := ChunkText(text, 800, 100)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	assert.Equal(t, 0, chunks[0].Start)
	assert.Equal(t, len(text), chunks[len(chunks)-1].End)
	for i, c := range chunks {
		assert.Equal(t, text[c.Start:c.End], c.Text)
		assert.Equal(t, i, c.Index)
		if i > 0 {
			assert.Equal(t, chunks[i-1].Start+700, c.Start)
			assert.Less(t, c.Start, chunks[i-1].End)
		}
	}
}

func TestChunkTextCountsCharactersNotBytes(t *testing.T) {
	text := strings.Repeat("é", 10)
	chunks, err := ChunkText(text, 4, 1)
	require.NoError(t, err)

	require.Len(t, chunks, 4)
	assert.Equal(t, "éééé", chunks[0].Text)
	assert.Equal(t, "é", chunks[3].Text)
}

func TestChunkTextRejectsBadWindow(t *testing.T) {
	_, err := ChunkText("text", 100, 100)
	assert.ErrorIs(t, err, ErrInvalidWindow)

	_, err = ChunkText("text", 0, 0)
	assert.ErrorIs(t, err, ErrInvalidWindow)
}

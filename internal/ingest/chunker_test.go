package ingest

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sentenceText(n int) string {
	var sb strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&sb, "Sentence number %d has exactly seven useful words. ", i)
	}
	return sb.String()
}

func TestSplitChunksEmpty(t *testing.T) {
	assert.Nil(t, SplitChunks("", DefaultChunkOptions()))
	assert.Nil(t, SplitChunks("   \n\n  ", DefaultChunkOptions()))
}

func TestSplitChunksShortTextSingleChunk(t *testing.T) {
	chunks := SplitChunks("A short note. Nothing more to say.", DefaultChunkOptions())
	require.Len(t, chunks, 1)
	assert.Equal(t, 0, chunks[0].Ordinal)
	assert.Equal(t, "A short note. Nothing more to say.", chunks[0].Text)
}

func TestSplitChunksRespectsTarget(t *testing.T) {
	opts := ChunkOptions{TargetWords: 40, OverlapWords: 10}
	chunks := SplitChunks(sentenceText(30), opts)
	require.Greater(t, len(chunks), 1)
	for i, c := range chunks {
		assert.Equal(t, i, c.Ordinal)
		// A chunk may exceed the target by at most one sentence.
		assert.LessOrEqual(t, c.Words, opts.TargetWords+7, "chunk %d too large", i)
	}
}

func TestSplitChunksOverlap(t *testing.T) {
	opts := ChunkOptions{TargetWords: 40, OverlapWords: 10}
	chunks := SplitChunks(sentenceText(30), opts)
	require.Greater(t, len(chunks), 1)

	// The tail sentence of each chunk reappears in the next chunk.
	for i := 1; i < len(chunks); i++ {
		prev := chunks[i-1].Text
		lastSentenceStart := strings.LastIndex(prev[:len(prev)-1], ". ")
		require.GreaterOrEqual(t, lastSentenceStart, 0)
		tail := strings.TrimSpace(prev[lastSentenceStart+1:])
		assert.Contains(t, chunks[i].Text, tail,
			"chunk %d should carry the previous chunk's tail", i)
	}
}

func TestSplitChunksPrefersParagraphBoundaries(t *testing.T) {
	text := "First paragraph one sentence\n\nSecond paragraph another sentence"
	chunks := SplitChunks(text, ChunkOptions{TargetWords: 4, OverlapWords: 0})
	require.Len(t, chunks, 2)
	assert.Equal(t, "First paragraph one sentence", chunks[0].Text)
	assert.Equal(t, "Second paragraph another sentence", chunks[1].Text)
}

func TestSplitChunksOversizedSentence(t *testing.T) {
	// One run-on "sentence" far over 2x the target gets hard-split.
	words := make([]string, 120)
	for i := range words {
		words[i] = fmt.Sprintf("w%d", i)
	}
	chunks := SplitChunks(strings.Join(words, " "), ChunkOptions{TargetWords: 30, OverlapWords: 5})
	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.LessOrEqual(t, c.Words, 30)
	}
	// All words survive the split.
	joined := strings.Join([]string{chunks[0].Text, chunks[len(chunks)-1].Text}, " ")
	assert.Contains(t, joined, "w0")
	assert.Contains(t, joined, "w119")
}

func TestSplitChunksDeterministic(t *testing.T) {
	text := sentenceText(25)
	opts := ChunkOptions{TargetWords: 50, OverlapWords: 10}
	assert.Equal(t, SplitChunks(text, opts), SplitChunks(text, opts))
}

package ingest

import (
	"regexp"
	"strings"
)

// Chunk is one piece of a split document.
type Chunk struct {
	Ordinal int
	Text    string
	Words   int
}

// ChunkOptions bound the chunk size. TargetWords is the size aimed for;
// OverlapWords is carried from the tail of one chunk into the head of
// the next so context at chunk boundaries is not lost.
type ChunkOptions struct {
	TargetWords  int
	OverlapWords int
}

// DefaultChunkOptions: ~400 words per chunk with ~12% overlap.
func DefaultChunkOptions() ChunkOptions {
	return ChunkOptions{TargetWords: 400, OverlapWords: 50}
}

var sentenceEnd = regexp.MustCompile(`([.!?]["')\]]?)(\s+)`)

// SplitChunks splits text into overlapping chunks of roughly
// TargetWords words, preferring paragraph and sentence boundaries.
// Deterministic for identical input.
func SplitChunks(text string, opts ChunkOptions) []Chunk {
	if opts.TargetWords <= 0 {
		opts.TargetWords = 400
	}
	if opts.OverlapWords < 0 {
		opts.OverlapWords = 0
	}
	if opts.OverlapWords >= opts.TargetWords {
		opts.OverlapWords = opts.TargetWords / 4
	}

	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return nil
	}

	var chunks []Chunk
	var current []string
	currentWords := 0

	flush := func() {
		if currentWords == 0 {
			return
		}
		text := strings.TrimSpace(strings.Join(current, " "))
		chunks = append(chunks, Chunk{Ordinal: len(chunks), Text: text, Words: currentWords})
		// Carry overlap into the next chunk: trailing sentences summing
		// to at least OverlapWords.
		var carry []string
		carryWords := 0
		for i := len(current) - 1; i >= 0 && carryWords < opts.OverlapWords; i-- {
			carry = append([]string{current[i]}, carry...)
			carryWords += wordCount(current[i])
		}
		// A single huge trailing sentence must not echo a whole chunk.
		if carryWords >= currentWords {
			carry, carryWords = nil, 0
		}
		current, currentWords = carry, carryWords
	}

	for _, sentence := range sentences {
		words := wordCount(sentence)
		if words == 0 {
			continue
		}
		// Oversized single sentence: hard-split on word boundaries.
		if words > opts.TargetWords*2 {
			flush()
			for _, piece := range splitWords(sentence, opts.TargetWords, opts.OverlapWords) {
				chunks = append(chunks, Chunk{Ordinal: len(chunks), Text: piece, Words: wordCount(piece)})
			}
			continue
		}
		if currentWords > 0 && currentWords+words > opts.TargetWords {
			flush()
		}
		current = append(current, sentence)
		currentWords += words
	}
	if currentWords > 0 {
		// The carried overlap alone is not a chunk; only emit when the
		// tail holds new material.
		if len(chunks) == 0 || !strings.HasSuffix(chunks[len(chunks)-1].Text, strings.TrimSpace(strings.Join(current, " "))) {
			flush()
		}
	}
	return chunks
}

// splitSentences splits on paragraph breaks first, then sentence
// terminators within each paragraph.
func splitSentences(text string) []string {
	var out []string
	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		para = strings.Join(strings.Fields(para), " ")
		marked := sentenceEnd.ReplaceAllString(para, "$1\x00")
		for _, s := range strings.Split(marked, "\x00") {
			s = strings.TrimSpace(s)
			if s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

func splitWords(sentence string, target, overlap int) []string {
	words := strings.Fields(sentence)
	var out []string
	step := target - overlap
	if step <= 0 {
		step = target
	}
	for start := 0; start < len(words); start += step {
		end := start + target
		if end > len(words) {
			end = len(words)
		}
		out = append(out, strings.Join(words[start:end], " "))
		if end == len(words) {
			break
		}
	}
	return out
}

func wordCount(s string) int {
	return len(strings.Fields(s))
}

// Package local provides an offline embedder for tests and air-gapped
// installs. Vectors are hashed bag-of-words counts with a light
// word-pair term, so lore about the same people and places lands near
// itself; it captures wording overlap, not meaning.
package local

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	registryembed "github.com/chronicle-rpg/chronicle/internal/registry/embed"
)

const (
	modelName = "local-hash-v1"
	dimension = 384

	// Word pairs count less than the words themselves; "cursed door"
	// should pull two texts together without drowning out "cursed".
	pairWeight = 0.5
)

func init() {
	registryembed.Register(registryembed.Plugin{
		Name: "local",
		Loader: func(_ context.Context) (registryembed.Embedder, error) {
			return &Embedder{}, nil
		},
	})
}

// Embedder is fully deterministic: the same text always yields the
// same vector, which the retrieval tests rely on.
type Embedder struct{}

func (e *Embedder) ModelName() string { return modelName }

func (e *Embedder) Dimension() int { return dimension }

func (e *Embedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = embed(text)
	}
	return vectors, nil
}

func embed(text string) []float32 {
	vector := make([]float32, dimension)
	words := split(text)
	for i, word := range words {
		vector[bucket(word)]++
		if i > 0 {
			vector[bucket(words[i-1]+" "+word)] += pairWeight
		}
	}

	var norm float64
	for _, v := range vector {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vector
	}
	inv := float32(1 / math.Sqrt(norm))
	for i := range vector {
		vector[i] *= inv
	}
	return vector
}

func bucket(term string) int {
	h := fnv.New64a()
	_, _ = h.Write([]byte(term))
	return int(h.Sum64() % uint64(dimension))
}

func split(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

var _ registryembed.Embedder = (*Embedder)(nil)

// Package embed is the registry of embedding backends. One backend is
// selected by name at startup; the assembler, ingestor and background
// indexer share that instance, so every fragment and query vector
// comes from the same model.
package embed

import (
	"context"
	"fmt"
	"sort"
)

// Embedder produces vector embeddings from text.
type Embedder interface {
	// EmbedTexts returns a vector embedding for each input text, in the
	// same order. All vectors share the model's fixed dimensionality.
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
	// ModelName returns the model identifier used for embedding.
	ModelName() string
	// Dimension returns the dimensionality of the embeddings, or zero if
	// not yet known (some backends report it on first call).
	Dimension() int
}

// Loader creates an Embedder from config.
type Loader func(ctx context.Context) (Embedder, error)

// Plugin is a named embedder backend.
type Plugin struct {
	Name   string
	Loader Loader
}

var registry = map[string]Loader{}

// Register adds an embedder backend. Called from init() in plugin
// packages; a repeated name overwrites.
func Register(p Plugin) {
	registry[p.Name] = p.Loader
}

// Names returns the registered backend names, sorted.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Select returns the loader for the named backend.
func Select(name string) (Loader, error) {
	loader, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown embedder %q; valid: %v", name, Names())
	}
	return loader, nil
}

package cache

import (
	"context"
	"fmt"
	"time"
)

// EmbeddingCache fronts the embedding backend with a text-keyed vector
// cache. Re-ingesting a revised document re-embeds mostly unchanged
// chunks; a hit skips the backend call entirely. Keys are derived from
// (model, text) so a model switch never serves stale vectors.
type EmbeddingCache interface {
	Available() bool
	Get(ctx context.Context, modelName, text string) ([]float32, bool, error)
	Set(ctx context.Context, modelName, text string, embedding []float32, ttl time.Duration) error
}

// Loader creates an EmbeddingCache from config.
type Loader func(ctx context.Context) (EmbeddingCache, error)

// Plugin represents an embedding cache plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds an embedding cache plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered embedding cache plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named embedding cache plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown embedding cache %q; valid: %v", name, Names())
}

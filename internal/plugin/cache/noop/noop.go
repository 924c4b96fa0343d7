package noop

import (
	"context"
	"time"

	"github.com/chronicle-rpg/chronicle/internal/registry/cache"
)

func init() {
	cache.Register(cache.Plugin{
		Name: "none",
		Loader: func(ctx context.Context) (cache.EmbeddingCache, error) {
			return &noopEmbeddingCache{}, nil
		},
	})
}

type noopEmbeddingCache struct{}

func (n *noopEmbeddingCache) Available() bool { return false }
func (n *noopEmbeddingCache) Get(_ context.Context, _, _ string) ([]float32, bool, error) {
	return nil, false, nil
}
func (n *noopEmbeddingCache) Set(_ context.Context, _, _ string, _ []float32, _ time.Duration) error {
	return nil
}

var _ cache.EmbeddingCache = (*noopEmbeddingCache)(nil)

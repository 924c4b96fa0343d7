// Package ristretto provides the default in-process embedding cache.
package ristretto

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/chronicle-rpg/chronicle/internal/registry/cache"
	ristretto "github.com/dgraph-io/ristretto/v2"
)

const (
	// maxCost bounds the cache at roughly 256 MB of vector data.
	maxCost     = 256 << 20
	numCounters = 1e6
)

func init() {
	cache.Register(cache.Plugin{
		Name: "ristretto",
		Loader: func(ctx context.Context) (cache.EmbeddingCache, error) {
			inner, err := ristretto.NewCache(&ristretto.Config[string, []float32]{
				NumCounters: numCounters,
				MaxCost:     maxCost,
				BufferItems: 64,
			})
			if err != nil {
				return nil, fmt.Errorf("ristretto cache: %w", err)
			}
			return &ristrettoEmbeddingCache{inner: inner}, nil
		},
	})
}

type ristrettoEmbeddingCache struct {
	inner *ristretto.Cache[string, []float32]
}

func embedKey(modelName, text string) string {
	sum := sha256.Sum256([]byte(text))
	return modelName + ":" + hex.EncodeToString(sum[:])
}

func (c *ristrettoEmbeddingCache) Available() bool { return true }

func (c *ristrettoEmbeddingCache) Get(_ context.Context, modelName, text string) ([]float32, bool, error) {
	vec, ok := c.inner.Get(embedKey(modelName, text))
	return vec, ok, nil
}

func (c *ristrettoEmbeddingCache) Set(_ context.Context, modelName, text string, embedding []float32, ttl time.Duration) error {
	cost := int64(len(embedding) * 4)
	if cost == 0 {
		cost = 1
	}
	if ttl > 0 {
		c.inner.SetWithTTL(embedKey(modelName, text), embedding, cost, ttl)
	} else {
		c.inner.Set(embedKey(modelName, text), embedding, cost)
	}
	return nil
}

var _ cache.EmbeddingCache = (*ristrettoEmbeddingCache)(nil)

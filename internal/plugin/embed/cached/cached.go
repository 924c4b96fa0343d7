// Package cached decorates an embedder with the embedding cache, so
// repeated ingest of the same text never re-embeds it.
package cached

import (
	"context"
	"time"

	registrycache "github.com/chronicle-rpg/chronicle/internal/registry/cache"
	registryembed "github.com/chronicle-rpg/chronicle/internal/registry/embed"
	"github.com/chronicle-rpg/chronicle/internal/telemetry"
)

// Wrap returns an embedder that consults cache before calling inner.
// Partial hits embed only the missing texts. A cache failure is never
// an embed failure; the inner embedder is the source of truth.
func Wrap(inner registryembed.Embedder, cache registrycache.EmbeddingCache, ttl time.Duration) registryembed.Embedder {
	if cache == nil || !cache.Available() {
		return inner
	}
	return &cachedEmbedder{inner: inner, cache: cache, ttl: ttl}
}

type cachedEmbedder struct {
	inner registryembed.Embedder
	cache registrycache.EmbeddingCache
	ttl   time.Duration
}

func (e *cachedEmbedder) ModelName() string { return e.inner.ModelName() }
func (e *cachedEmbedder) Dimension() int    { return e.inner.Dimension() }

func (e *cachedEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	var missing []string
	var missingIdx []int

	model := e.inner.ModelName()
	for i, text := range texts {
		if vec, ok, err := e.cache.Get(ctx, model, text); err == nil && ok {
			results[i] = vec
			if telemetry.EmbedRequestsTotal != nil {
				telemetry.EmbedRequestsTotal.WithLabelValues("cache_hit").Inc()
			}
			continue
		}
		missing = append(missing, text)
		missingIdx = append(missingIdx, i)
	}
	if len(missing) == 0 {
		return results, nil
	}

	embedded, err := e.inner.EmbedTexts(ctx, missing)
	if err != nil {
		if telemetry.EmbedRequestsTotal != nil {
			telemetry.EmbedRequestsTotal.WithLabelValues("error").Inc()
		}
		return nil, err
	}
	if telemetry.EmbedRequestsTotal != nil {
		telemetry.EmbedRequestsTotal.WithLabelValues("ok").Inc()
	}
	for j, vec := range embedded {
		results[missingIdx[j]] = vec
		_ = e.cache.Set(ctx, model, missing[j], vec, e.ttl)
	}
	return results, nil
}

var _ registryembed.Embedder = (*cachedEmbedder)(nil)

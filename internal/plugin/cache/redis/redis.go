package redis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chronicle-rpg/chronicle/internal/config"
	registrycache "github.com/chronicle-rpg/chronicle/internal/registry/cache"
	goredis "github.com/redis/go-redis/v9"
)

const defaultTTL = 24 * time.Hour

func init() {
	registrycache.Register(registrycache.Plugin{
		Name:   "redis",
		Loader: load,
	})
}

func load(ctx context.Context) (registrycache.EmbeddingCache, error) {
	cfg := config.FromContext(ctx)
	if cfg == nil || cfg.RedisURL == "" {
		return nil, fmt.Errorf("redis cache: CHRONICLE_REDIS_URL is required")
	}
	ttl := cfg.CacheTTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	opts, err := goredis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("redis cache: invalid URL: %w", err)
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis cache: ping failed: %w", err)
	}
	return &redisEmbeddingCache{client: client, ttl: ttl}, nil
}

type redisEmbeddingCache struct {
	client *goredis.Client
	ttl    time.Duration
}

// embedKey hashes the text so arbitrarily long fragments produce a
// bounded key.
func embedKey(modelName, text string) string {
	sum := sha256.Sum256([]byte(text))
	return fmt.Sprintf("embed:%s:%s", modelName, hex.EncodeToString(sum[:]))
}

func (c *redisEmbeddingCache) Available() bool {
	return true
}

func (c *redisEmbeddingCache) Get(ctx context.Context, modelName, text string) ([]float32, bool, error) {
	data, err := c.client.Get(ctx, embedKey(modelName, text)).Bytes()
	if err == goredis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var vec []float32
	if err := json.Unmarshal(data, &vec); err != nil {
		return nil, false, err
	}
	return vec, true, nil
}

func (c *redisEmbeddingCache) Set(ctx context.Context, modelName, text string, embedding []float32, ttl time.Duration) error {
	data, err := json.Marshal(embedding)
	if err != nil {
		return err
	}
	if ttl == 0 {
		ttl = c.ttl
	}
	return c.client.Set(ctx, embedKey(modelName, text), data, ttl).Err()
}

var _ registrycache.EmbeddingCache = (*redisEmbeddingCache)(nil)

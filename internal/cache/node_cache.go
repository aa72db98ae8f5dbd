package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"oraculus-server/internal/domain"
	"oraculus-server/internal/storygraph"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const nodeKeyPrefix = "story_node:"

// Compile-time check that the redis cache satisfies the provider's interface.
var _ storygraph.NodeCache = (*RedisNodeCache)(nil)

// RedisNodeCache stores generated story nodes in Redis, keyed by variable key
// (node id + gender category + age range), shared across sessions and
// restarts.
type RedisNodeCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisNodeCache creates the cache. ttl <= 0 means entries never expire.
func NewRedisNodeCache(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisNodeCache {
	return &RedisNodeCache{
		client: client,
		ttl:    ttl,
		logger: logger.Named("NodeCache"),
	}
}

// Get returns the cached node for a key, or (nil, nil) on a miss.
func (c *RedisNodeCache) Get(ctx context.Context, key string) (*domain.StoryNode, error) {
	data, err := c.client.Get(ctx, nodeKeyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read node from cache: %w", err)
	}

	var node domain.StoryNode
	if err := json.Unmarshal(data, &node); err != nil {
		// A corrupt entry is treated as a miss; it will be overwritten.
		c.logger.Warn("dropping corrupt cache entry", zap.String("key", key), zap.Error(err))
		c.client.Del(ctx, nodeKeyPrefix+key)
		return nil, nil
	}
	return &node, nil
}

// Set stores a node under the key.
func (c *RedisNodeCache) Set(ctx context.Context, key string, node domain.StoryNode) error {
	data, err := json.Marshal(node)
	if err != nil {
		return fmt.Errorf("failed to marshal node for cache: %w", err)
	}
	if err := c.client.Set(ctx, nodeKeyPrefix+key, data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to store node in cache: %w", err)
	}
	return nil
}

package question

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultCacheTTL = 5 * time.Minute

// Cache keeps loaded topics in Redis to offload Postgres when many rooms
// play the same topic.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

var _ TopicCache = (*Cache)(nil)

func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &Cache{client: client, ttl: ttl}
}

func (c *Cache) key(topicID string) string {
	return fmt.Sprintf("topic:%s", topicID)
}

func (c *Cache) Get(ctx context.Context, topicID string) (*TopicPack, error) {
	data, err := c.client.Get(ctx, c.key(topicID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}
	var pack TopicPack
	if err := json.Unmarshal(data, &pack); err != nil {
		return nil, err
	}
	return &pack, nil
}

func (c *Cache) Set(ctx context.Context, pack TopicPack) error {
	data, err := json.Marshal(pack)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.key(pack.Topic.ID), data, c.ttl).Err()
}

// Invalidate drops a cached topic after its content changes.
func (c *Cache) Invalidate(ctx context.Context, topicID string) error {
	return c.client.Del(ctx, c.key(topicID)).Err()
}

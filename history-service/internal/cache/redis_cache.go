package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/weiawesome/wes-edu-relay/history-service/internal/config"
	"github.com/weiawesome/wes-edu-relay/history-service/internal/domain"
)

type RedisHistoryCache struct {
	client *redis.Client
	prefix string
}

func NewRedisHistoryCache(cfg config.RedisConfig, prefix string) (*RedisHistoryCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisHistoryCacheFromClient(client, prefix), nil
}

func NewRedisHistoryCacheFromClient(client *redis.Client, prefix string) *RedisHistoryCache {
	return &RedisHistoryCache{client: client, prefix: prefix}
}

// Key returns the redis key of the owner's conversation with partnerID.
func (c *RedisHistoryCache) Key(ownerID, partnerID string) string {
	return fmt.Sprintf("%s:%s:%s", c.prefix, ownerID, partnerID)
}

func (c *RedisHistoryCache) Get(ctx context.Context, ownerID, partnerID string) ([]domain.Message, error) {
	data, err := c.client.Get(ctx, c.Key(ownerID, partnerID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("failed to get from redis: %w", err)
	}

	var msgs []domain.Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cache data: %w", err)
	}
	return msgs, nil
}

func (c *RedisHistoryCache) Set(ctx context.Context, ownerID, partnerID string, msgs []domain.Message, ttl time.Duration) error {
	data, err := json.Marshal(msgs)
	if err != nil {
		return fmt.Errorf("failed to marshal cache data: %w", err)
	}

	if err := c.client.Set(ctx, c.Key(ownerID, partnerID), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set in redis: %w", err)
	}
	return nil
}

// Invalidate deletes the given (owner, partner) entries.
func (c *RedisHistoryCache) Invalidate(ctx context.Context, pairs ...[2]string) error {
	if len(pairs) == 0 {
		return nil
	}
	keys := make([]string, len(pairs))
	for i, p := range pairs {
		keys[i] = c.Key(p[0], p[1])
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to delete from redis: %w", err)
	}
	return nil
}

func (c *RedisHistoryCache) Close() error {
	return c.client.Close()
}

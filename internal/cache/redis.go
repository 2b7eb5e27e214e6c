package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultPrefix = "surveysync:cache:"

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// Prefix namespaces every key (default: "surveysync:cache:").
	Prefix string
	TTL    time.Duration
}

// RedisCache is a Cache shared between server replicas. Each tag is a
// Redis set holding the keys attached to it.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisCache connects to Redis and verifies the connection.
func NewRedisCache(cfg RedisConfig) (*RedisCache, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return NewRedisCacheFromClient(client, cfg.Prefix, cfg.TTL), nil
}

// NewRedisCacheFromClient wraps an existing client. Used with miniredis in tests.
func NewRedisCacheFromClient(client *redis.Client, prefix string, ttl time.Duration) *RedisCache {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &RedisCache{client: client, prefix: prefix, ttl: ttl}
}

func (c *RedisCache) entryKey(key string) string {
	return c.prefix + "entry:" + key
}

func (c *RedisCache) tagKey(tag string) string {
	return c.prefix + "tag:" + tag
}

// Get implements Cache.
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	value, err := c.client.Get(ctx, c.entryKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}
	return value, true, nil
}

// Set implements Cache.
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, tags []string) error {
	pipe := c.client.TxPipeline()
	pipe.Set(ctx, c.entryKey(key), value, c.ttl)
	for _, tag := range tags {
		pipe.SAdd(ctx, c.tagKey(tag), key)
		if c.ttl > 0 {
			// The tag set must outlive its newest member.
			pipe.Expire(ctx, c.tagKey(tag), c.ttl)
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// InvalidateTags implements Cache.
func (c *RedisCache) InvalidateTags(ctx context.Context, tags ...string) error {
	for _, tag := range tags {
		keys, err := c.client.SMembers(ctx, c.tagKey(tag)).Result()
		if err != nil {
			return fmt.Errorf("redis smembers: %w", err)
		}

		toDelete := make([]string, 0, len(keys)+1)
		for _, key := range keys {
			toDelete = append(toDelete, c.entryKey(key))
		}
		toDelete = append(toDelete, c.tagKey(tag))

		if err := c.client.Del(ctx, toDelete...).Err(); err != nil {
			return fmt.Errorf("redis del: %w", err)
		}
	}
	return nil
}

// Close implements Cache.
func (c *RedisCache) Close() error {
	return c.client.Close()
}

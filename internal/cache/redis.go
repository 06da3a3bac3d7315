package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix = "vpet-tts:audio:"
	redisTimeout   = 2 * time.Second
)

// RedisCache is an L2 tier shared between pets through Redis. Expiry is
// delegated to Redis via the key TTL.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *log.Logger

	mu    sync.Mutex
	stats Stats
}

// NewRedisCache connects to addr and pings it.
func NewRedisCache(ctx context.Context, addr string, ttl time.Duration, logger *log.Logger) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(ctx, redisTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis %s unavailable: %w", addr, err)
	}
	return NewRedisCacheWithClient(client, ttl, logger), nil
}

// NewRedisCacheWithClient wraps an existing client.
func NewRedisCacheWithClient(client *redis.Client, ttl time.Duration, logger *log.Logger) *RedisCache {
	if logger == nil {
		logger = log.Default()
	}
	return &RedisCache{
		client: client,
		ttl:    ttl,
		logger: logger,
		stats:  Stats{Level: LevelRedis},
	}
}

// Get retrieves a value from Redis. Connection errors count as misses.
func (rc *RedisCache) Get(key string) ([]byte, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()

	data, err := rc.client.Get(ctx, redisKeyPrefix+key).Bytes()

	rc.mu.Lock()
	defer rc.mu.Unlock()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			rc.logger.Debug("Redis cache get failed", "key", key, "error", err)
		}
		rc.stats.Misses++
		return nil, false
	}
	rc.stats.Hits++
	rc.stats.LastAccess = time.Now()
	return data, true
}

// Put stores a value with the configured TTL.
func (rc *RedisCache) Put(key string, value []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()

	if err := rc.client.Set(ctx, redisKeyPrefix+key, value, rc.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Delete removes a key.
func (rc *RedisCache) Delete(key string) error {
	ctx, cancel := context.WithTimeout(context.Background(), redisTimeout)
	defer cancel()
	return rc.client.Del(ctx, redisKeyPrefix+key).Err()
}

// Clear removes every key this cache wrote.
func (rc *RedisCache) Clear() error {
	ctx, cancel := context.WithTimeout(context.Background(), 4*redisTimeout)
	defer cancel()

	iter := rc.client.Scan(ctx, 0, redisKeyPrefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	return rc.client.Del(ctx, keys...).Err()
}

// Stats returns hit and miss counts seen by this process.
func (rc *RedisCache) Stats() Stats {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	stats := rc.stats
	stats.updateHitRate()
	return stats
}

// Close closes the client.
func (rc *RedisCache) Close() error {
	return rc.client.Close()
}

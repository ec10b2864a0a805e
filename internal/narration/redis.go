package narration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var _ Cache = (*RedisCache)(nil)

// DefaultRedisPrefix namespaces every key the RedisCache writes.
const DefaultRedisPrefix = "narrata:"

// RedisOption is a functional option for configuring a RedisCache.
type RedisOption func(*RedisCache)

// WithPrefix sets the key namespace. Defaults to [DefaultRedisPrefix].
func WithPrefix(prefix string) RedisOption {
	return func(c *RedisCache) {
		if prefix != "" {
			c.prefix = prefix
		}
	}
}

// WithTTL expires entries after ttl. Zero (the default) keeps entries until
// their profile is deleted.
func WithTTL(ttl time.Duration) RedisOption {
	return func(c *RedisCache) {
		c.ttl = ttl
	}
}

// RedisCache is a Cache backed by Redis. Entries are stored as JSON under
// {prefix}narration:{key}; a set {prefix}profile:{id}:narrations indexes the
// keys of each profile.
type RedisCache struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisCache wraps an existing client.
func NewRedisCache(client redis.UniversalClient, opts ...RedisOption) *RedisCache {
	c := &RedisCache{client: client, prefix: DefaultRedisPrefix}
	for _, o := range opts {
		o(c)
	}
	return c
}

// NewRedisClient opens a client for addr and verifies it with PING.
func NewRedisClient(ctx context.Context, addr, username, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Username: username,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("narration: redis ping: %w", err)
	}
	return client, nil
}

func (c *RedisCache) entryKey(key string) string {
	return c.prefix + "narration:" + key
}

func (c *RedisCache) indexKey(profileID string) string {
	return c.prefix + "profile:" + profileID + ":narrations"
}

// Lookup implements Cache.
func (c *RedisCache) Lookup(ctx context.Context, key string) (Entry, bool, error) {
	raw, err := c.client.Get(ctx, c.entryKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("narration: lookup %s: %w", key, err)
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return Entry{}, false, fmt.Errorf("narration: decode %s: %w", key, err)
	}
	return e, true, nil
}

// Store implements Cache using SETNX so concurrent writers across instances
// agree on a single winner.
func (c *RedisCache) Store(ctx context.Context, e Entry) (Entry, bool, error) {
	if err := e.validate(); err != nil {
		return Entry{}, false, err
	}
	data, err := json.Marshal(e)
	if err != nil {
		return Entry{}, false, fmt.Errorf("narration: encode %s: %w", e.Key, err)
	}

	won, err := c.client.SetNX(ctx, c.entryKey(e.Key), data, c.ttl).Result()
	if err != nil {
		return Entry{}, false, fmt.Errorf("narration: store %s: %w", e.Key, err)
	}
	if won {
		if err := c.client.SAdd(ctx, c.indexKey(e.ProfileID), e.Key).Err(); err != nil {
			return Entry{}, false, fmt.Errorf("narration: index %s: %w", e.Key, err)
		}
		return e, true, nil
	}

	existing, ok, err := c.Lookup(ctx, e.Key)
	if err != nil {
		return Entry{}, false, err
	}
	if !ok {
		// The winner expired or was deleted between SETNX and GET.
		return Entry{}, false, fmt.Errorf("narration: store %s: entry vanished after losing race", e.Key)
	}
	return existing, false, nil
}

// DeleteProfile implements Cache.
func (c *RedisCache) DeleteProfile(ctx context.Context, profileID string) (int, error) {
	idx := c.indexKey(profileID)
	keys, err := c.client.SMembers(ctx, idx).Result()
	if err != nil {
		return 0, fmt.Errorf("narration: list profile %s: %w", profileID, err)
	}

	var deleted *redis.IntCmd
	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(keys) > 0 {
			full := make([]string, len(keys))
			for i, k := range keys {
				full[i] = c.entryKey(k)
			}
			deleted = pipe.Del(ctx, full...)
		}
		pipe.Del(ctx, idx)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("narration: delete profile %s: %w", profileID, err)
	}
	if deleted == nil {
		return 0, nil
	}
	return int(deleted.Val()), nil
}

// Ping checks the Redis connection. It matches the health.Checker signature.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

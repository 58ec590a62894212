package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

var Client *redis.Client

// InitRedis connects the shared client. An empty address leaves Client nil so callers
// fall back to the in-process cache.
func InitRedis(ctx context.Context, addr string) error {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		log.Info().Msg("REDIS_URL not set, using in-process sentiment cache")
		return nil
	}
	opts := &redis.Options{Addr: addr}
	if strings.HasPrefix(addr, "redis://") || strings.HasPrefix(addr, "rediss://") {
		parsed, err := redis.ParseURL(addr)
		if err != nil {
			return fmt.Errorf("parse redis url: %w", err)
		}
		opts = parsed
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return fmt.Errorf("connect to redis: %w", err)
	}
	Client = client
	log.Info().Str("addr", opts.Addr).Msg("connected to redis")
	return nil
}

// RedisScoreCache keeps sentiment entries in Redis so every process shares them.
type RedisScoreCache struct {
	client redis.Cmdable
	prefix string
}

func NewRedisScoreCache(client redis.Cmdable) *RedisScoreCache {
	return &RedisScoreCache{client: client, prefix: "sentiment"}
}

func (c *RedisScoreCache) key(ticker, source string) string {
	return c.prefix + ":" + strings.ToUpper(ticker) + ":" + source
}

func (c *RedisScoreCache) Get(ctx context.Context, ticker, source string) (Entry, bool, error) {
	raw, err := c.client.Get(ctx, c.key(ticker, source)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	var e Entry
	if err := json.Unmarshal(raw, &e); err != nil {
		return Entry{}, false, fmt.Errorf("decode cache entry: %w", err)
	}
	return e, true, nil
}

// Set overwrites the entry. The Redis expiry only reclaims memory; freshness is decided by
// the reader comparing Entry.At with its TTL.
func (c *RedisScoreCache) Set(ctx context.Context, ticker, source string, e Entry, ttl time.Duration) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.key(ticker, source), raw, ttl).Err()
}

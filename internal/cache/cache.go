// Package cache provides a thin, pool-configured Redis client used by the
// session store (internal/sessionredis). It deliberately knows nothing about
// sessions; it only knows how to get/set/delete JSON blobs and maintain
// small sets, with a disabled mode so the rest of the system degrades
// gracefully when no Redis endpoint is configured.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client wraps a pooled go-redis client. A nil-backed Client (Enabled=false
// in Config) is valid: writes and deletes become no-ops, Exists reports
// false, SetMembers returns no members, and Get returns ErrDisabled, which
// lets callers run without Redis during local development.
type Client struct {
	rdb *redis.Client
}

// Config holds Redis connection configuration.
type Config struct {
	Host     string
	Port     string
	Password string
	DB       int
	Enabled  bool
}

// New creates a new Redis-backed Client. When config.Enabled is false, it
// returns a disabled Client without attempting a connection.
func New(config Config) (*Client, error) {
	if !config.Enabled {
		return &Client{rdb: nil}, nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", config.Host, config.Port),
		Password: config.Password,
		DB:       config.DB,

		PoolSize:        25,
		MinIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 1 * time.Minute,

		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,

		MaxRetries:      3,
		MinRetryBackoff: 8 * time.Millisecond,
		MaxRetryBackoff: 512 * time.Millisecond,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Client{rdb: rdb}, nil
}

// NewFromRedis wraps an already-constructed go-redis client (used by tests
// against miniredis).
func NewFromRedis(rdb *redis.Client) *Client {
	return &Client{rdb: rdb}
}

func (c *Client) Close() error {
	if c.rdb == nil {
		return nil
	}
	return c.rdb.Close()
}

func (c *Client) Enabled() bool {
	return c.rdb != nil
}

// ErrDisabled is returned by operations that require a live connection when
// the client was constructed with Enabled: false.
var ErrDisabled = fmt.Errorf("cache: redis client disabled")

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = fmt.Errorf("cache: key not found")

func (c *Client) Get(ctx context.Context, key string, target interface{}) error {
	if !c.Enabled() {
		return ErrDisabled
	}
	val, err := c.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("get %s: %w", key, err)
	}
	return json.Unmarshal([]byte(val), target)
}

func (c *Client) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if !c.Enabled() {
		return nil
	}
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal value for %s: %w", key, err)
	}
	return c.rdb.Set(ctx, key, data, ttl).Err()
}

func (c *Client) Delete(ctx context.Context, keys ...string) error {
	if !c.Enabled() || len(keys) == 0 {
		return nil
	}
	return c.rdb.Del(ctx, keys...).Err()
}

func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	if !c.Enabled() {
		return false, nil
	}
	n, err := c.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("exists %s: %w", key, err)
	}
	return n > 0, nil
}

// SetAdd adds member to the Redis set at key.
func (c *Client) SetAdd(ctx context.Context, key, member string) error {
	if !c.Enabled() {
		return nil
	}
	return c.rdb.SAdd(ctx, key, member).Err()
}

// SetRemove removes member from the Redis set at key.
func (c *Client) SetRemove(ctx context.Context, key, member string) error {
	if !c.Enabled() {
		return nil
	}
	return c.rdb.SRem(ctx, key, member).Err()
}

// SetMembers returns all members of the Redis set at key.
func (c *Client) SetMembers(ctx context.Context, key string) ([]string, error) {
	if !c.Enabled() {
		return nil, nil
	}
	members, err := c.rdb.SMembers(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("smembers %s: %w", key, err)
	}
	return members, nil
}

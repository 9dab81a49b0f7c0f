// Package pubcache caches published-slug resolutions in Redis so the public
// address path does not hit Postgres on every view. A cache miss is never an
// error; the caller falls back to storage and back-fills.
package pubcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrMiss is returned when the slug has no cached entry.
var ErrMiss = errors.New("pubcache: miss")

// Entry is what resolution needs before loading the document itself.
type Entry struct {
	DocumentID        string    `json:"documentId"`
	PasswordProtected bool      `json:"passwordProtected"`
	PublishedAt       time.Time `json:"publishedAt"`
}

type Cache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// New connects to Redis and verifies the connection.
func New(redisURL string, ttl time.Duration) (*Cache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewWithClient(client, ttl), nil
}

// NewWithClient wraps an existing Redis client.
func NewWithClient(client *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cache{client: client, prefix: "pub:", ttl: ttl}
}

func (c *Cache) key(slug string) string {
	return c.prefix + slug
}

// Put stores a resolution for a published slug.
func (c *Cache) Put(ctx context.Context, slug string, entry Entry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal pubcache entry: %w", err)
	}
	if err := c.client.Set(ctx, c.key(slug), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("cache slug %s: %w", slug, err)
	}
	return nil
}

// Get resolves a slug from the cache. ErrMiss means "ask storage".
func (c *Cache) Get(ctx context.Context, slug string) (Entry, error) {
	payload, err := c.client.Get(ctx, c.key(slug)).Result()
	if err == redis.Nil {
		return Entry{}, ErrMiss
	}
	if err != nil {
		return Entry{}, fmt.Errorf("lookup slug %s: %w", slug, err)
	}

	var entry Entry
	if err := json.Unmarshal([]byte(payload), &entry); err != nil {
		return Entry{}, fmt.Errorf("unmarshal pubcache entry: %w", err)
	}
	return entry, nil
}

// Invalidate drops a cached slug, e.g. when a document is unpublished.
func (c *Cache) Invalidate(ctx context.Context, slug string) error {
	if err := c.client.Del(ctx, c.key(slug)).Err(); err != nil {
		return fmt.Errorf("invalidate slug %s: %w", slug, err)
	}
	return nil
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	return c.client.Close()
}

// Ping checks if Redis is reachable.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"overlaykit/api/internal/document"
)

// RedisStore is the shared remote backend used in hosted, multi-tenant
// deployments. Documents are stored as the full wrapped envelope under
// cfg:<namespace>:<name>.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore connects to Redis and verifies the connection before
// returning.
func NewRedisStore(redisURL string) (*RedisStore, error) {
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

	return NewRedisStoreWithClient(client), nil
}

// NewRedisStoreWithClient wraps an existing Redis client.
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{
		client: client,
		prefix: "cfg:",
	}
}

func (s *RedisStore) key(namespace, name string) string {
	if namespace == "" {
		namespace = "_global"
	}
	return s.prefix + namespace + ":" + name
}

func (s *RedisStore) Get(ctx context.Context, namespace, name string) (*document.Document, error) {
	raw, err := s.client.Get(ctx, s.key(namespace, name)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get config from redis: %w", err)
	}
	return document.Decode([]byte(raw))
}

func (s *RedisStore) Set(ctx context.Context, namespace, name string, doc *document.Document) error {
	data, err := document.Encode(doc)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.key(namespace, name), data, 0).Err(); err != nil {
		return fmt.Errorf("set config in redis: %w", err)
	}
	return nil
}

// Ping checks if Redis is reachable.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

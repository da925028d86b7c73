package host

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisSource reads elements published by the host as JSON values under
// "<prefix>:map:<id>".
type RedisSource struct {
	client *redis.Client
	prefix string
}

// NewRedisSource connects to the redis instance at url.
func NewRedisSource(ctx context.Context, url, prefix string) (*RedisSource, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &RedisSource{client: client, prefix: prefix}, nil
}

func (s *RedisSource) key(id string) string {
	return s.prefix + ":map:" + id
}

// Lookup implements Source.
func (s *RedisSource) Lookup(ctx context.Context, id string) (Element, error) {
	data, err := s.client.Get(ctx, s.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Element{}, ErrNotFound
		}
		return Element{}, fmt.Errorf("get element %s: %w", id, err)
	}

	var e Element
	if err := json.Unmarshal(data, &e); err != nil {
		return Element{}, fmt.Errorf("decode element %s: %w", id, err)
	}
	if e.ID == "" {
		e.ID = id
	}
	return e, nil
}

// Put publishes an element.
func (s *RedisSource) Put(ctx context.Context, e Element) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode element %s: %w", e.ID, err)
	}
	return s.client.Set(ctx, s.key(e.ID), data, 0).Err()
}

// Publish implements Publisher.
func (s *RedisSource) Publish(ctx context.Context, e Element) error {
	return s.Put(ctx, e)
}

// Close releases the redis connection pool.
func (s *RedisSource) Close() error {
	return s.client.Close()
}

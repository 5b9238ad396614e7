package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// RedisKV wraps Redis string operations with tracing. Entries never expire.
type RedisKV struct {
	client *redis.Client
}

var _ KV = &RedisKV{}

// NewRedisKV initializes a new Redis client and pings it
func NewRedisKV(ctx context.Context, addr, password string, db int) (*RedisKV, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	return &RedisKV{client: client}, nil
}

// Close closes the Redis connection
func (kv *RedisKV) Close() error {
	return kv.client.Close()
}

func (kv *RedisKV) Get(ctx context.Context, key string) (string, error) {
	ctx, span := tracer.Start(ctx, "redis.get",
		trace.WithAttributes(attribute.String("key", key)),
	)
	defer span.End()

	data, err := kv.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		span.SetAttributes(attribute.Bool("found", false))
		return "", ErrKeyNotFound
	} else if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("failed to get key %s: %w", key, err)
	}

	span.SetAttributes(attribute.Bool("found", true))
	return data, nil
}

func (kv *RedisKV) Set(ctx context.Context, key, value string) error {
	ctx, span := tracer.Start(ctx, "redis.set",
		trace.WithAttributes(
			attribute.String("key", key),
			attribute.Int("size_bytes", len(value)),
		),
	)
	defer span.End()

	if err := kv.client.Set(ctx, key, value, 0).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to set key %s: %w", key, err)
	}
	return nil
}

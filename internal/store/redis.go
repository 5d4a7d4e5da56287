package store

import (
	"context"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
)

// DefaultKeyPrefix namespaces keys in a shared Redis database.
const DefaultKeyPrefix = "domrelay"

// RedisKV stores each value under "<prefix>:<key>".
type RedisKV struct {
	client *goredis.Client
	prefix string
}

// NewRedisKV connects to the Redis instance at url and verifies it answers.
// Format: redis://[:password@]host:port[/db]
func NewRedisKV(ctx context.Context, url, prefix string) (*RedisKV, error) {
	if url == "" {
		return nil, errors.New("redis store requires a URL")
	}
	opts, err := goredis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis store: invalid URL: %w", err)
	}
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis store: ping: %w", err)
	}
	return &RedisKV{client: client, prefix: prefix}, nil
}

func (r *RedisKV) key(k string) string { return r.prefix + ":" + k }

func (r *RedisKV) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := r.client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis: get %s: %w", key, err)
	}
	return v, nil
}

func (r *RedisKV) Put(ctx context.Context, key string, value []byte) error {
	if err := r.client.Set(ctx, r.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("redis: set %s: %w", key, err)
	}
	return nil
}

func (r *RedisKV) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("redis: del %s: %w", key, err)
	}
	return nil
}

func (r *RedisKV) Close() error { return r.client.Close() }

package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// RedisKV stores keys in Redis under a common prefix.
// Values carry no TTL: expiry is decided by the session store, not by Redis.
type RedisKV struct {
	client *goredis.Client
	prefix string
}

// NewRedisKV wraps an existing client
func NewRedisKV(client *goredis.Client, prefix string) *RedisKV {
	if prefix == "" {
		prefix = "authgate:"
	}
	return &RedisKV{
		client: client,
		prefix: prefix,
	}
}

// DialRedis connects to addr and verifies the connection with a ping
func DialRedis(addr, password string, db int) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}

	return client, nil
}

func (r *RedisKV) key(k string) string {
	return r.prefix + k
}

func (r *RedisKV) Get(ctx context.Context, key string) (string, error) {
	val, err := r.client.Get(ctx, r.key(key)).Result()
	if errors.Is(err, goredis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return val, nil
}

func (r *RedisKV) Set(ctx context.Context, key, value string) error {
	return r.client.Set(ctx, r.key(key), value, 0).Err()
}

func (r *RedisKV) Remove(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.key(key)).Err()
}

// Close closes the underlying client
func (r *RedisKV) Close() error {
	return r.client.Close()
}

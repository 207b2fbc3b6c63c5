package devicestore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "harmoni:device:"

// Redis stores each device as one hash. The hash expiry is refreshed on
// every write when ttl is positive.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	return &Redis{client: client, ttl: ttl}
}

// Connect creates a client for addr and verifies it answers.
func Connect(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("devicestore: ping: %w", err)
	}
	return client, nil
}

func hashKey(device string) string {
	return keyPrefix + device
}

func (r *Redis) Get(ctx context.Context, device, key string) (string, bool, error) {
	v, err := r.client.HGet(ctx, hashKey(device), key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("devicestore: get %s: %w", key, err)
	}
	return v, true, nil
}

func (r *Redis) Set(ctx context.Context, device, key, value string) error {
	h := hashKey(device)
	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, h, key, value)
	if r.ttl > 0 {
		pipe.Expire(ctx, h, r.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("devicestore: set %s: %w", key, err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, device string, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := r.client.HDel(ctx, hashKey(device), keys...).Err(); err != nil {
		return fmt.Errorf("devicestore: delete: %w", err)
	}
	return nil
}

func (r *Redis) Clear(ctx context.Context, device string) error {
	if err := r.client.Del(ctx, hashKey(device)).Err(); err != nil {
		return fmt.Errorf("devicestore: clear: %w", err)
	}
	return nil
}

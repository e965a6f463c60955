package server

import (
	"context"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// redisStore counts login attempts in fixed windows shared by every server
// instance: INCR the key, set its expiry on the first hit and read the TTL
// once the limit is crossed.
type redisStore struct {
	client  *redis.Client
	timeout time.Duration
}

func newRedisStore(addr, password string, timeout time.Duration) *redisStore {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DialTimeout:  timeout,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
		MaxRetries:   1,
	})
	return &redisStore{client: client, timeout: timeout}
}

func (s *redisStore) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	count, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return false, 0, fmt.Errorf("incr %s: %w", key, err)
	}
	if count == 1 {
		ttl := window
		if ttl < time.Second {
			ttl = time.Second
		}
		if err := s.client.Expire(ctx, key, ttl).Err(); err != nil {
			return false, 0, fmt.Errorf("expire %s: %w", key, err)
		}
	}
	if count <= int64(limit) {
		return true, 0, nil
	}
	ttl, err := s.client.TTL(ctx, key).Result()
	if err != nil {
		return false, 0, fmt.Errorf("ttl %s: %w", key, err)
	}
	if ttl <= 0 {
		return false, window, nil
	}
	return false, ttl, nil
}

func (s *redisStore) Close() error {
	return s.client.Close()
}

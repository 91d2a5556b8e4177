package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"mailhub-backend/internal/mailsync/domain"
)

// redisKV backs the KVStore with a shared redis instance so multiple
// backend replicas see the same overrides, stats, and dedup entries.
type redisKV struct {
	client *redis.Client
}

// NewRedisKV wraps an existing redis client as a KVStore
func NewRedisKV(client *redis.Client) KVStore {
	return &redisKV{client: client}
}

func (s *redisKV) Get(ctx context.Context, key string) (string, error) {
	v, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrKeyNotFound
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrCacheUnavailable, err)
	}
	return v, nil
}

func (s *redisKV) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrCacheUnavailable, err)
	}
	return nil
}

func (s *redisKV) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", domain.ErrCacheUnavailable, err)
	}
	return ok, nil
}

func (s *redisKV) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrCacheUnavailable, err)
	}
	return nil
}

func (s *redisKV) HSet(ctx context.Context, key, field, value string) error {
	if err := s.client.HSet(ctx, key, field, value).Err(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrCacheUnavailable, err)
	}
	return nil
}

func (s *redisKV) HGet(ctx context.Context, key, field string) (string, error) {
	v, err := s.client.HGet(ctx, key, field).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrKeyNotFound
	}
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrCacheUnavailable, err)
	}
	return v, nil
}

func (s *redisKV) HDel(ctx context.Context, key string, fields ...string) error {
	if err := s.client.HDel(ctx, key, fields...).Err(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrCacheUnavailable, err)
	}
	return nil
}

// HUpdate watches the whole hash; any concurrent write to it aborts the
// transaction and the read-modify-write is retried against fresh state.
func (s *redisKV) HUpdate(ctx context.Context, key, field string, fn func(current string, exists bool) (string, bool, error)) error {
	var fnErr error
	txf := func(tx *redis.Tx) error {
		current, err := tx.HGet(ctx, key, field).Result()
		exists := true
		if errors.Is(err, redis.Nil) {
			exists = false
			current = ""
		} else if err != nil {
			return err
		}
		next, remove, err := fn(current, exists)
		if err != nil {
			fnErr = err
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if remove {
				pipe.HDel(ctx, key, field)
			} else {
				pipe.HSet(ctx, key, field, next)
			}
			return nil
		})
		return err
	}

	const maxRetries = 8
	for i := 0; i < maxRetries; i++ {
		fnErr = nil
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return nil
		}
		if errors.Is(fnErr, ErrSkipUpdate) {
			return nil
		}
		if fnErr != nil {
			return fnErr
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return fmt.Errorf("%w: %v", domain.ErrCacheUnavailable, err)
	}
	return fmt.Errorf("%w: hash update contention on %s", domain.ErrCacheUnavailable, key)
}

func (s *redisKV) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	m, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrCacheUnavailable, err)
	}
	return m, nil
}

// Update uses WATCH/MULTI optimistic locking; retried a few times under
// contention on the same key.
func (s *redisKV) Update(ctx context.Context, key string, fn func(current string, exists bool) (string, error)) (string, error) {
	var result string
	var fnErr error
	txf := func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, key).Result()
		exists := true
		if errors.Is(err, redis.Nil) {
			exists = false
			current = ""
		} else if err != nil {
			return err
		}
		next, err := fn(current, exists)
		if err != nil {
			fnErr = err
			return err
		}
		result = next
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, next, 0)
			return nil
		})
		return err
	}

	const maxRetries = 8
	for i := 0; i < maxRetries; i++ {
		fnErr = nil
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return result, nil
		}
		if fnErr != nil {
			return "", fnErr
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return "", fmt.Errorf("%w: %v", domain.ErrCacheUnavailable, err)
	}
	return "", fmt.Errorf("%w: update contention on %s", domain.ErrCacheUnavailable, key)
}

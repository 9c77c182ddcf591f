package syncqueue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisQueueKey = "commentsync:queue"

// RedisStore keeps the queue snapshot under a single Redis key. No TTL: a
// pending write stays pending until the engine resolves it.
type RedisStore struct {
	client *redis.Client
	key    string
}

func NewRedisStore(redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return &RedisStore{client: client, key: redisQueueKey}, nil
}

// NewRedisStoreWithClient wraps an existing client. The caller keeps
// ownership of the client's lifetime.
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, key: redisQueueKey}
}

func (s *RedisStore) SaveAll(ops []QueuedOperation) error {
	payload, err := json.Marshal(fileStoreSnapshot{Operations: cloneOperations(ops)})
	if err != nil {
		return fmt.Errorf("marshal queue snapshot: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.client.Set(ctx, s.key, payload, 0).Err(); err != nil {
		return fmt.Errorf("save queue snapshot: %w", err)
	}
	return nil
}

func (s *RedisStore) LoadAll() ([]QueuedOperation, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	payload, err := s.client.Get(ctx, s.key).Result()
	if errors.Is(err, redis.Nil) {
		return []QueuedOperation{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load queue snapshot: %w", err)
	}
	var snapshot fileStoreSnapshot
	if err := json.Unmarshal([]byte(payload), &snapshot); err != nil {
		return nil, fmt.Errorf("unmarshal queue snapshot: %w", err)
	}
	return cloneOperations(snapshot.Operations), nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

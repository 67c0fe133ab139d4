package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/deskhive/deskhive/config"
	"github.com/deskhive/deskhive/types"
)

// RedisMessageStore is a redis-backed MessageStore for deployments that
// keep hot threads in redis. Messages live in a per-thread sorted set
// scored by created_at, so "newest N" is a single ZREVRANGE.
type RedisMessageStore struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisMessageStore connects to redis and returns a ready store.
func NewRedisMessageStore(cfg config.RedisConfig) (*RedisMessageStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	keyPrefix := cfg.KeyPrefix
	if keyPrefix == "" {
		keyPrefix = "deskhive:"
	}
	return &RedisMessageStore{
		client:    client,
		keyPrefix: keyPrefix,
	}, nil
}

// NewRedisMessageStoreFromClient wraps an existing client (used by tests).
func NewRedisMessageStoreFromClient(client *redis.Client, keyPrefix string) *RedisMessageStore {
	if keyPrefix == "" {
		keyPrefix = "deskhive:"
	}
	return &RedisMessageStore{client: client, keyPrefix: keyPrefix}
}

func (s *RedisMessageStore) threadMessagesKey(threadID string) string {
	return s.keyPrefix + "thread:" + threadID + ":messages"
}

func (s *RedisMessageStore) threadKey(threadID string) string {
	return s.keyPrefix + "thread:" + threadID
}

// LoadMessages returns up to limit messages newest-first.
func (s *RedisMessageStore) LoadMessages(ctx context.Context, threadID string, limit int) ([]types.Message, error) {
	if limit <= 0 {
		return nil, nil
	}

	raw, err := s.client.ZRevRange(ctx, s.threadMessagesKey(threadID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, types.NewError(types.ErrStoreError, "load messages").WithCause(err)
	}

	msgs := make([]types.Message, 0, len(raw))
	for _, item := range raw {
		var msg types.Message
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			continue
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// LoadThread returns the thread record, nil when absent.
func (s *RedisMessageStore) LoadThread(ctx context.Context, threadID string) (*types.Thread, error) {
	raw, err := s.client.Get(ctx, s.threadKey(threadID)).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, types.NewError(types.ErrStoreError, "load thread").WithCause(err)
	}
	var th types.Thread
	if err := json.Unmarshal([]byte(raw), &th); err != nil {
		return nil, types.NewError(types.ErrStoreError, "decode thread").WithCause(err)
	}
	return &th, nil
}

// SaveMessage appends a message to the thread's sorted set.
func (s *RedisMessageStore) SaveMessage(ctx context.Context, msg *types.Message) error {
	m := *msg
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	b, err := json.Marshal(m)
	if err != nil {
		return types.NewError(types.ErrStoreError, "encode message").WithCause(err)
	}
	err = s.client.ZAdd(ctx, s.threadMessagesKey(m.ThreadID), redis.Z{
		Score:  float64(m.CreatedAt.UnixNano()),
		Member: string(b),
	}).Err()
	if err != nil {
		return types.NewError(types.ErrStoreError, "save message").WithCause(err)
	}
	return nil
}

// SaveThread stores the thread record.
func (s *RedisMessageStore) SaveThread(ctx context.Context, th *types.Thread) error {
	b, err := json.Marshal(th)
	if err != nil {
		return types.NewError(types.ErrStoreError, "encode thread").WithCause(err)
	}
	if err := s.client.Set(ctx, s.threadKey(th.ID), b, 0).Err(); err != nil {
		return types.NewError(types.ErrStoreError, "save thread").WithCause(err)
	}
	return nil
}

// Ping checks redis connectivity.
func (s *RedisMessageStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the redis client.
func (s *RedisMessageStore) Close() error {
	return s.client.Close()
}

package history

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/capitalize-ai/chat-gateway/internal/model"
)

const redisKeyPrefix = "chat:history:"

// RedisStore implements Store as one capped Redis list per session.
type RedisStore struct {
	client     *redis.Client
	ttl        time.Duration
	maxEntries int
}

type redisMessage struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Language  string    `json:"language,omitempty"`
	UserID    string    `json:"userId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewRedisStore creates a new Redis-backed store. A zero ttl keeps lists
// forever; a non-positive maxEntries leaves them uncapped.
func NewRedisStore(client *redis.Client, ttl time.Duration, maxEntries int) *RedisStore {
	return &RedisStore{client: client, ttl: ttl, maxEntries: maxEntries}
}

func redisKey(sessionID string) string {
	return redisKeyPrefix + sessionID
}

// Append implements Store.
func (s *RedisStore) Append(ctx context.Context, entry Entry) error {
	if err := entry.Validate(); err != nil {
		return err
	}

	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	val, err := json.Marshal(redisMessage{
		Role:      string(entry.Role),
		Content:   entry.Content,
		Language:  entry.Language,
		UserID:    entry.UserID,
		CreatedAt: createdAt.UTC(),
	})
	if err != nil {
		return err
	}

	key := redisKey(entry.SessionID)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, key, val)
		if s.maxEntries > 0 {
			pipe.LTrim(ctx, key, int64(-s.maxEntries), -1)
		}
		if s.ttl > 0 {
			pipe.Expire(ctx, key, s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to append chat message: %w", err)
	}
	return nil
}

// Load implements Store.
func (s *RedisStore) Load(ctx context.Context, sessionID string, limit int) ([]model.ChatMessage, error) {
	start := int64(0)
	if limit > 0 {
		start = int64(-limit)
	}

	vals, err := s.client.LRange(ctx, redisKey(sessionID), start, -1).Result()
	if err == redis.Nil {
		return []model.ChatMessage{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load chat history: %w", err)
	}

	msgs := make([]model.ChatMessage, 0, len(vals))
	for _, v := range vals {
		var stored redisMessage
		if err := json.Unmarshal([]byte(v), &stored); err != nil {
			continue
		}
		m := model.ChatMessage{Role: model.Role(stored.Role), Content: stored.Content, Language: stored.Language}
		if WellFormed(m) {
			msgs = append(msgs, m)
		}
	}
	return msgs, nil
}

// Ping implements Store.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close implements Store.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

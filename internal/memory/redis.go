package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// redisHistoryCap bounds per-session history so lists cannot grow unbounded.
const redisHistoryCap = 500

// RedisStore persists conversation history in Redis lists, one list per
// session, newest turn at the tail.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(ctx context.Context, redisURL string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &RedisStore{client: client}, nil
}

func sessionHistoryKey(sessionID string) string {
	return "parlo:history:" + sessionID
}

func (s *RedisStore) SaveTurn(ctx context.Context, record TurnRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal turn: %w", err)
	}

	key := sessionHistoryKey(record.SessionID)
	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, key, data)
	pipe.LTrim(ctx, key, -redisHistoryCap, -1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save turn: %w", err)
	}
	return nil
}

func (s *RedisStore) RecentContext(ctx context.Context, sessionID string, limit int) ([]TurnRecord, error) {
	if limit <= 0 {
		limit = 10
	}

	raw, err := s.client.LRange(ctx, sessionHistoryKey(sessionID), int64(-limit), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("query recent context: %w", err)
	}

	items := make([]TurnRecord, 0, len(raw))
	for _, entry := range raw {
		var r TurnRecord
		if err := json.Unmarshal([]byte(entry), &r); err != nil {
			return nil, fmt.Errorf("decode context entry: %w", err)
		}
		items = append(items, r)
	}
	return items, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

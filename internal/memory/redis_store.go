package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	redisv9 "github.com/redis/go-redis/v9"

	"github.com/feichai0017/legal-rag/internal/models"
)

type RedisStore struct {
	client *redisv9.Client
}

func NewRedisStore(client *redisv9.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) ListSessions(ctx context.Context, userID string) ([]models.ChatSession, error) {
	raw, err := s.client.LRange(ctx, s.sessionsKey(userID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list sessions failed: %w", err)
	}
	sessions := make([]models.ChatSession, 0, len(raw))
	for _, item := range raw {
		var session models.ChatSession
		if err := json.Unmarshal([]byte(item), &session); err != nil {
			return nil, fmt.Errorf("unmarshal session failed: %w", err)
		}
		sessions = append(sessions, session)
	}
	return sessions, nil
}

func (s *RedisStore) AddSession(ctx context.Context, userID, sessionID string) error {
	payload, err := json.Marshal(models.ChatSession{SessionID: sessionID, UserID: userID, CreatedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("marshal session failed: %w", err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redisv9.Pipeliner) error {
		pipe.RPush(ctx, s.sessionsKey(userID), payload)
		pipe.Set(ctx, s.ownerKey(sessionID), payload, 0)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis add session failed: %w", err)
	}
	return nil
}

func (s *RedisStore) DeleteSession(ctx context.Context, sessionID string) error {
	raw, err := s.client.Get(ctx, s.ownerKey(sessionID)).Result()
	if err == redisv9.Nil {
		return &models.NotFoundError{Resource: "session", Name: sessionID}
	}
	if err != nil {
		return fmt.Errorf("redis get session failed: %w", err)
	}
	var session models.ChatSession
	if err := json.Unmarshal([]byte(raw), &session); err != nil {
		return fmt.Errorf("unmarshal session failed: %w", err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redisv9.Pipeliner) error {
		pipe.LRem(ctx, s.sessionsKey(session.UserID), 0, raw)
		pipe.Del(ctx, s.ownerKey(sessionID), s.messagesKey(sessionID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis delete session failed: %w", err)
	}
	return nil
}

func (s *RedisStore) AddMessages(ctx context.Context, sessionID string, messages ...models.ChatMessage) error {
	if len(messages) == 0 {
		return nil
	}
	values := make([]interface{}, 0, len(messages))
	for _, m := range messages {
		if m.CreatedAt.IsZero() {
			m.CreatedAt = time.Now().UTC()
		}
		payload, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("marshal message failed: %w", err)
		}
		values = append(values, payload)
	}
	if err := s.client.RPush(ctx, s.messagesKey(sessionID), values...).Err(); err != nil {
		return fmt.Errorf("redis add messages failed: %w", err)
	}
	return nil
}

func (s *RedisStore) ListMessages(ctx context.Context, sessionID string) ([]models.ChatMessage, error) {
	raw, err := s.client.LRange(ctx, s.messagesKey(sessionID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list messages failed: %w", err)
	}
	messages := make([]models.ChatMessage, 0, len(raw))
	for _, item := range raw {
		var m models.ChatMessage
		if err := json.Unmarshal([]byte(item), &m); err != nil {
			return nil, fmt.Errorf("unmarshal message failed: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, nil
}

func (s *RedisStore) sessionsKey(userID string) string {
	return fmt.Sprintf("chat:sessions:%s", userID)
}

func (s *RedisStore) ownerKey(sessionID string) string {
	return fmt.Sprintf("chat:session:%s", sessionID)
}

func (s *RedisStore) messagesKey(sessionID string) string {
	return fmt.Sprintf("chat:session:%s:messages", sessionID)
}

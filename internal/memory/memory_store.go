package memory

import (
	"context"
	"sync"
	"time"

	"github.com/feichai0017/legal-rag/internal/models"
)

// InMemoryStore is a process local SessionStore for tests and single node runs.
type InMemoryStore struct {
	mu       sync.Mutex
	sessions map[string][]models.ChatSession
	owners   map[string]string
	messages map[string][]models.ChatMessage
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		sessions: make(map[string][]models.ChatSession),
		owners:   make(map[string]string),
		messages: make(map[string][]models.ChatMessage),
	}
}

func (s *InMemoryStore) ListSessions(_ context.Context, userID string) ([]models.ChatSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.ChatSession(nil), s.sessions[userID]...), nil
}

func (s *InMemoryStore) AddSession(_ context.Context, userID, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[userID] = append(s.sessions[userID], models.ChatSession{SessionID: sessionID, UserID: userID, CreatedAt: time.Now().UTC()})
	s.owners[sessionID] = userID
	return nil
}

func (s *InMemoryStore) DeleteSession(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	userID, ok := s.owners[sessionID]
	if !ok {
		return &models.NotFoundError{Resource: "session", Name: sessionID}
	}
	kept := s.sessions[userID][:0]
	for _, sess := range s.sessions[userID] {
		if sess.SessionID != sessionID {
			kept = append(kept, sess)
		}
	}
	s.sessions[userID] = kept
	delete(s.owners, sessionID)
	delete(s.messages, sessionID)
	return nil
}

func (s *InMemoryStore) AddMessages(_ context.Context, sessionID string, messages ...models.ChatMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range messages {
		if m.CreatedAt.IsZero() {
			m.CreatedAt = time.Now().UTC()
		}
		s.messages[sessionID] = append(s.messages[sessionID], m)
	}
	return nil
}

func (s *InMemoryStore) ListMessages(_ context.Context, sessionID string) ([]models.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.ChatMessage(nil), s.messages[sessionID]...), nil
}

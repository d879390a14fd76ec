// Package chat answers user messages from their documents and the shared
// knowledge base, and keeps one conversation per user.
package chat

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/feichai0017/legal-rag/internal/llm"
	"github.com/feichai0017/legal-rag/internal/memory"
	"github.com/feichai0017/legal-rag/internal/models"
	"github.com/feichai0017/legal-rag/internal/service/adminconfig"
	"github.com/feichai0017/legal-rag/internal/vectorstore"
	"github.com/feichai0017/legal-rag/pkg/logger"
	"github.com/feichai0017/legal-rag/pkg/retry"
)

type Retriever interface {
	Search(ctx context.Context, scope models.Scope, query string, topK int, names []string) ([]vectorstore.Match, error)
}

type DocumentLister interface {
	ListByStatus(ctx context.Context, scope models.Scope, statuses ...models.DocumentStatus) ([]models.Document, error)
}

type ModelFactory interface {
	Primary(cfg llm.ModelConfig) llm.ChatModel
	Secondary(cfg llm.ModelConfig) llm.ChatModel
}

type ConfigSource interface {
	Snapshot() *adminconfig.Snapshot
}

type Config struct {
	FreeMessageLimit int
	// HistoryWindow is how many past turns are sent to the model
	HistoryWindow int
	// SuggestionWindow is how many past turns seed suggested questions
	SuggestionWindow int
	TopK             int
	BackoffMaxWait   time.Duration
}

type Service struct {
	sessions  memory.SessionStore
	documents DocumentLister
	users     Retriever
	kb        Retriever
	models    ModelFactory
	admin     ConfigSource
	logger    logger.Logger
	config    Config
	backoff   retry.Policy
}

func NewService(sessions memory.SessionStore, documents DocumentLister, users, kb Retriever, factory ModelFactory, admin ConfigSource, log logger.Logger, cfg Config) *Service {
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = 10
	}
	if cfg.SuggestionWindow <= 0 {
		cfg.SuggestionWindow = 4
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 3
	}
	if cfg.BackoffMaxWait <= 0 {
		cfg.BackoffMaxWait = 10 * time.Second
	}
	return &Service{
		sessions:  sessions,
		documents: documents,
		users:     users,
		kb:        kb,
		models:    factory,
		admin:     admin,
		logger:    log.Named("chat"),
		config:    cfg,
		backoff:   retry.DefaultPolicy(cfg.BackoffMaxWait),
	}
}

// WithBackoff replaces the rate limit backoff policy, mainly for tests.
func (s *Service) WithBackoff(p retry.Policy) *Service {
	s.backoff = p
	return s
}

func newSessionID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// EnsureSession returns the user's session id, creating one on first use.
func (s *Service) EnsureSession(ctx context.Context, user *models.User) (string, error) {
	sessions, err := s.sessions.ListSessions(ctx, user.Email)
	if err != nil {
		return "", fmt.Errorf("failed to list sessions: %w", err)
	}
	if len(sessions) > 0 {
		return sessions[0].SessionID, nil
	}
	id := newSessionID()
	if err := s.sessions.AddSession(ctx, user.Email, id); err != nil {
		return "", fmt.Errorf("failed to create session: %w", err)
	}
	s.logger.Info("Created chat session", logger.String("user", user.Email))
	return id, nil
}

// History returns every stored turn of the user's conversation, oldest first.
func (s *Service) History(ctx context.Context, user *models.User) ([]models.ChatMessage, error) {
	sessionID, err := s.EnsureSession(ctx, user)
	if err != nil {
		return nil, err
	}
	msgs, err := s.sessions.ListMessages(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	if msgs == nil {
		msgs = []models.ChatMessage{}
	}
	return msgs, nil
}

// ClearHistory drops the user's session and starts a new empty one.
func (s *Service) ClearHistory(ctx context.Context, user *models.User) error {
	sessionID, err := s.EnsureSession(ctx, user)
	if err != nil {
		return err
	}
	if err := s.sessions.DeleteSession(ctx, sessionID); err != nil {
		return fmt.Errorf("error occurred while clearing chat history: %w", err)
	}
	if err := s.sessions.AddSession(ctx, user.Email, newSessionID()); err != nil {
		return fmt.Errorf("error occurred while clearing chat history: %w", err)
	}
	return nil
}

func lastN(msgs []models.ChatMessage, n int) []models.ChatMessage {
	if len(msgs) > n {
		return msgs[len(msgs)-n:]
	}
	return msgs
}

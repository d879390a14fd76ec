package memory

import (
	"context"

	"github.com/feichai0017/legal-rag/internal/models"
)

// SessionStore keeps chat sessions and their append-only message logs.
type SessionStore interface {
	ListSessions(ctx context.Context, userID string) ([]models.ChatSession, error)
	AddSession(ctx context.Context, userID, sessionID string) error
	DeleteSession(ctx context.Context, sessionID string) error
	AddMessages(ctx context.Context, sessionID string, messages ...models.ChatMessage) error
	ListMessages(ctx context.Context, sessionID string) ([]models.ChatMessage, error)
}

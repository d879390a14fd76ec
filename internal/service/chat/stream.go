package chat

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/feichai0017/legal-rag/internal/llm"
	"github.com/feichai0017/legal-rag/internal/models"
	"github.com/feichai0017/legal-rag/internal/vectorstore"
	"github.com/feichai0017/legal-rag/pkg/logger"
	"github.com/feichai0017/legal-rag/pkg/retry"
)

type ChunkKind string

const (
	ChunkText  ChunkKind = "text"
	ChunkLimit ChunkKind = "limit"
	ChunkError ChunkKind = "error"
)

type Chunk struct {
	Kind    ChunkKind `json:"kind"`
	Content string    `json:"content"`
}

const (
	errRateLimited = "The assistant is receiving too many requests right now. Please try again in a moment."
	errGeneration  = "Something went wrong while generating the response. Please try again."
)

// emitError marks a failure of the caller's emit func, i.e. the client went away.
type emitError struct{ err error }

func (e *emitError) Error() string { return "emit chunk: " + e.err.Error() }
func (e *emitError) Unwrap() error { return e.err }

// Stream answers req, passing chunks to emit as the model produces them.
// Model failures end the stream with an error chunk; a NoPriorResponseError
// is returned before anything is emitted.
func (s *Service) Stream(ctx context.Context, user *models.User, req models.ChatRequest, emit func(Chunk) error) error {
	log := s.logger.With(logger.String("user", user.Email), logger.String("mode", req.Mode.String()))
	if !req.Mode.Valid() {
		return &models.InvalidInputError{Message: "invalid chat mode"}
	}

	sessionID, err := s.EnsureSession(ctx, user)
	if err != nil {
		return err
	}
	history, err := s.sessions.ListMessages(ctx, sessionID)
	if err != nil {
		return err
	}

	if s.limitReached(user, history) {
		log.Info("Free message limit reached")
		return emit(Chunk{Kind: ChunkLimit, Content: limitMessage})
	}

	window := lastN(history, s.config.HistoryWindow)
	message := req.UserMsg
	if req.Mode != models.ModeNA {
		lastAI, ok := lastAIResponse(window)
		if !ok {
			return &models.NoPriorResponseError{}
		}
		message = rewrite(req.Mode, lastAI)
	}

	snap := s.admin.Snapshot()
	messages, err := s.buildMessages(ctx, user, snap.LLMRole, snap.LLMPrompt, window, message)
	if err != nil {
		log.Error("Retrieval failed", logger.Error(err))
		return emit(Chunk{Kind: ChunkError, Content: errGeneration})
	}

	var full strings.Builder
	genErr := s.generate(ctx, snap.ModelConfig(), messages, func(text string) error {
		full.WriteString(text)
		if err := emit(Chunk{Kind: ChunkText, Content: text}); err != nil {
			return &emitError{err: err}
		}
		return nil
	}, log)

	var disconnected *emitError
	switch {
	case genErr == nil:
	case errors.As(genErr, &disconnected):
		log.Warn("Client went away during streaming", logger.Error(genErr))
	default:
		log.Error("Chat generation failed", logger.Error(genErr))
		msg := errGeneration
		if models.IsRateLimit(genErr) {
			msg = errRateLimited
		}
		if err := emit(Chunk{Kind: ChunkError, Content: msg}); err != nil {
			return err
		}
		return nil
	}

	if !req.Traceless {
		s.persist(context.WithoutCancel(ctx), sessionID, req, full.String(), log)
	}
	if disconnected != nil {
		return disconnected.err
	}
	return nil
}

func (s *Service) limitReached(user *models.User, history []models.ChatMessage) bool {
	if !user.IsFreeUser() || s.config.FreeMessageLimit <= 0 {
		return false
	}
	n := 0
	for _, m := range history {
		if m.Role == models.ChatRoleUser {
			n++
		}
	}
	return n >= s.config.FreeMessageLimit
}

func (s *Service) buildMessages(ctx context.Context, user *models.User, role, prompt string, window []models.ChatMessage, message string) ([]llm.Message, error) {
	userCtx, err := s.retrieve(ctx, s.users, models.UserScope(user.Email), message)
	if err != nil {
		return nil, err
	}
	kbCtx, err := s.retrieve(ctx, s.kb, models.KnowledgeBase, message)
	if err != nil {
		return nil, err
	}

	messages := make([]llm.Message, 0, len(window)+2)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: systemPrompt(role, prompt, userCtx, kbCtx)})
	messages = append(messages, toLLM(window)...)
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: message})
	return messages, nil
}

// retrieve searches scope restricted to its completed documents. Vectors of
// in-flight uploads or failed compensations are never returned.
func (s *Service) retrieve(ctx context.Context, r Retriever, scope models.Scope, message string) ([]vectorstore.Match, error) {
	docs, err := s.documents.ListByStatus(ctx, scope, models.StatusCompleted)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, nil
	}
	names := make([]string, len(docs))
	for i, d := range docs {
		names[i] = d.DocumentName
	}
	return r.Search(ctx, scope, message, s.config.TopK, names)
}

// generate streams from the primary model, backing off on rate limits that
// happen before the first chunk, then falls back to the secondary model.
func (s *Service) generate(ctx context.Context, cfg llm.ModelConfig, messages []llm.Message, onChunk func(string) error, log logger.Logger) error {
	started := false
	forward := func(text string) error {
		started = true
		return onChunk(text)
	}
	retryable := func(err error) bool {
		return !started && models.IsRateLimit(err)
	}

	primary := s.models.Primary(cfg)
	err := retry.Do(ctx, s.backoff, retryable, func(attempt int) error {
		if attempt > 0 {
			log.Warn("Retrying chat after rate limit",
				logger.String("model", primary.Name()),
				logger.Int("attempt", attempt),
			)
		}
		_, err := primary.Stream(ctx, messages, forward)
		return err
	})
	if err == nil || !retryable(err) {
		return err
	}

	secondary := s.models.Secondary(cfg)
	log.Warn("Primary model rate limited, falling back",
		logger.String("primary", primary.Name()),
		logger.String("secondary", secondary.Name()),
	)
	return retry.Do(ctx, s.backoff, retryable, func(int) error {
		_, err := secondary.Stream(ctx, messages, forward)
		return err
	})
}

func (s *Service) persist(ctx context.Context, sessionID string, req models.ChatRequest, answer string, log logger.Logger) {
	now := time.Now().UTC()
	var turns []models.ChatMessage
	if req.Mode == models.ModeNA {
		turns = append(turns, models.ChatMessage{Role: models.ChatRoleUser, Content: req.UserMsg, CreatedAt: now})
	}
	turns = append(turns, models.ChatMessage{Role: models.ChatRoleAI, Content: answer, CreatedAt: now})
	if err := s.sessions.AddMessages(ctx, sessionID, turns...); err != nil {
		log.Error("Failed to save chat history", logger.Error(err))
	}
}

package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/feichai0017/legal-rag/internal/models"
	"github.com/feichai0017/legal-rag/internal/service/chat"
	"github.com/feichai0017/legal-rag/pkg/logger"
)

type ChatService interface {
	Stream(ctx context.Context, user *models.User, req models.ChatRequest, emit func(chat.Chunk) error) error
	History(ctx context.Context, user *models.User) ([]models.ChatMessage, error)
	SuggestedQuestions(ctx context.Context, user *models.User) ([]string, error)
	ClearHistory(ctx context.Context, user *models.User) error
}

type ChatHistoryResponse struct {
	Messages []models.ChatMessage `json:"messages"`
}

const historyCleared = "Your chat history has been cleared."

type ChatHandler struct {
	service ChatService
	logger  logger.Logger
}

func NewChatHandler(service ChatService, log logger.Logger) *ChatHandler {
	return &ChatHandler{service: service, logger: log.Named("chat")}
}

// SendMessage streams the answer as server sent events. Each chunk is an
// event named after its kind; a final "done" event closes a finished stream.
// Errors raised before the first chunk are returned as JSON.
func (h *ChatHandler) SendMessage(c *gin.Context) {
	user, ok := userOrAbort(c)
	if !ok {
		return
	}
	var req models.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request payload", err)
		return
	}

	ctx := c.Request.Context()
	started := false
	emit := func(chunk chat.Chunk) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !started {
			c.Header("Content-Type", "text/event-stream")
			c.Header("Cache-Control", "no-cache")
			c.Header("Connection", "keep-alive")
			c.Header("X-Accel-Buffering", "no")
			c.Status(http.StatusOK)
			started = true
		}
		c.SSEvent(string(chunk.Kind), chunk.Content)
		c.Writer.Flush()
		return nil
	}

	err := h.service.Stream(ctx, user, req, emit)
	switch {
	case err != nil && !started:
		handleError(c, h.logger, "Failed to answer message", err)
	case err != nil:
		logger.FromContext(ctx, h.logger).Warn("Chat stream ended early", logger.Error(err))
	default:
		_ = emit(chat.Chunk{Kind: "done"})
	}
}

func (h *ChatHandler) GetMessages(c *gin.Context) {
	user, ok := userOrAbort(c)
	if !ok {
		return
	}
	msgs, err := h.service.History(c.Request.Context(), user)
	if err != nil {
		handleError(c, h.logger, "Failed to load chat history", err)
		return
	}
	if msgs == nil {
		msgs = []models.ChatMessage{}
	}
	c.JSON(http.StatusOK, ChatHistoryResponse{Messages: msgs})
}

func (h *ChatHandler) SuggestedQuestions(c *gin.Context) {
	user, ok := userOrAbort(c)
	if !ok {
		return
	}
	questions, err := h.service.SuggestedQuestions(c.Request.Context(), user)
	if err != nil {
		handleError(c, h.logger, "Failed to suggest questions", err)
		return
	}
	if questions == nil {
		questions = []string{}
	}
	c.JSON(http.StatusOK, questions)
}

func (h *ChatHandler) ClearChat(c *gin.Context) {
	user, ok := userOrAbort(c)
	if !ok {
		return
	}
	if err := h.service.ClearHistory(c.Request.Context(), user); err != nil {
		handleError(c, h.logger, "Failed to clear chat history", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": historyCleared})
}

package handlers

import (
	"github.com/feichai0017/legal-rag/internal/utils/validator"
	"github.com/feichai0017/legal-rag/pkg/logger"
)

type Handlers struct {
	Documents     *DocumentHandler
	KnowledgeBase *DocumentHandler
	Chat          *ChatHandler
	Admin         *AdminHandler
	Health        *HealthHandler
}

type Deps struct {
	Documents DocumentService
	Tasks     TaskStatusReader
	Chat      ChatService
	Config    AdminConfigService
	Validator *validator.DocumentValidator
	Checks    map[string]HealthCheck
}

func NewHandlers(deps Deps, logger logger.Logger) *Handlers {
	return &Handlers{
		Documents:     NewUserDocumentHandler(deps.Documents, deps.Validator, deps.Tasks, logger),
		KnowledgeBase: NewKnowledgeBaseHandler(deps.Documents, deps.Validator, logger),
		Chat:          NewChatHandler(deps.Chat, logger),
		Admin:         NewAdminHandler(deps.Config, logger),
		Health:        NewHealthHandler(deps.Checks),
	}
}

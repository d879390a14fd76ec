package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/feichai0017/legal-rag/api/handlers"
	"github.com/feichai0017/legal-rag/api/middleware"
)

// SetupRoutes registers every endpoint on r. auth guards everything below /api/v1.
func SetupRoutes(r *gin.Engine, h *handlers.Handlers, auth gin.HandlerFunc) {
	r.GET("/health", h.Health.Health)

	v1 := r.Group("/api/v1")
	v1.Use(auth)

	users := v1.Group("/users")
	docs := users.Group("/documents")
	{
		docs.POST("/upload", h.Documents.Upload)
		docs.POST("/upload-gdrive", h.Documents.UploadFromDrive)
		docs.POST("/delete-multiple", h.Documents.DeleteMultiple)
		docs.GET("/list", h.Documents.List)
		docs.POST("/validate-documents", h.Documents.ValidateDocuments)
		docs.GET("/download/:file_name", h.Documents.Download)
		docs.GET("/tasks/:task_id", h.Documents.TaskStatus)
	}

	chat := users.Group("/chat")
	{
		chat.POST("/send-msg", h.Chat.SendMessage)
		chat.GET("/get-msgs", h.Chat.GetMessages)
		chat.GET("/suggested-qs", h.Chat.SuggestedQuestions)
		chat.DELETE("/clear-chat", h.Chat.ClearChat)
	}

	admin := v1.Group("/admin")
	admin.Use(middleware.AdminOnly())
	kb := admin.Group("/knowledge-base")
	{
		kb.POST("/upload", h.KnowledgeBase.Upload)
		kb.POST("/delete-multiple", h.KnowledgeBase.DeleteMultiple)
		kb.GET("/list", h.KnowledgeBase.List)
		kb.POST("/validate-documents", h.KnowledgeBase.ValidateDocuments)
		kb.GET("/download/:file_name", h.KnowledgeBase.Download)
	}
	admin.GET("/config", h.Admin.GetConfig)
	admin.PATCH("/config", h.Admin.UpdateConfig)
}

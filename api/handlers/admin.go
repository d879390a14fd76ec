package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/feichai0017/legal-rag/internal/models"
	"github.com/feichai0017/legal-rag/internal/service/adminconfig"
	"github.com/feichai0017/legal-rag/pkg/logger"
)

type AdminConfigService interface {
	Snapshot() *adminconfig.Snapshot
	Update(ctx context.Context, patch models.AdminConfigPatch) (*adminconfig.Snapshot, error)
}

type AdminHandler struct {
	config AdminConfigService
	logger logger.Logger
}

func NewAdminHandler(config AdminConfigService, log logger.Logger) *AdminHandler {
	return &AdminHandler{config: config, logger: log.Named("admin")}
}

func (h *AdminHandler) GetConfig(c *gin.Context) {
	c.JSON(http.StatusOK, h.config.Snapshot().AdminConfig)
}

// UpdateConfig applies a partial update; fields left out keep their value.
func (h *AdminHandler) UpdateConfig(c *gin.Context) {
	var patch models.AdminConfigPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		badRequest(c, "Invalid request payload", err)
		return
	}
	snap, err := h.config.Update(c.Request.Context(), patch)
	if err != nil {
		handleError(c, h.logger, "Failed to update admin config", err)
		return
	}
	c.JSON(http.StatusOK, snap.AdminConfig)
}

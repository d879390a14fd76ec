package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/feichai0017/legal-rag/internal/models"
	"github.com/feichai0017/legal-rag/internal/utils/validator"
	"github.com/feichai0017/legal-rag/pkg/logger"
	"github.com/feichai0017/legal-rag/pkg/queue"
)

// DocumentService is the slice of the document service the handlers call.
type DocumentService interface {
	UploadFiles(ctx context.Context, user *models.User, scope models.Scope, files []models.FileUpload) (*models.UploadResult, error)
	EnqueueDriveImport(ctx context.Context, user *models.User, link string) (*models.DriveImportResult, error)
	DeleteFiles(ctx context.Context, scope models.Scope, names []string) *models.DeleteResult
	QueueDeletes(ctx context.Context, scope models.Scope, names []string) (*models.DeleteResult, error)
	ListDocuments(ctx context.Context, scope models.Scope) (*models.DocumentList, error)
	ValidateFilenames(ctx context.Context, scope models.Scope, names []string) ([]models.FileExistence, error)
	GetDownloadLink(ctx context.Context, scope models.Scope, name string) (string, error)
}

// TaskStatusReader reports the progress of background work.
type TaskStatusReader interface {
	GetTaskStatus(ctx context.Context, taskID string) (*queue.TaskStatus, error)
}

type FileNamesRequest struct {
	FileNames []string `json:"file_names" binding:"required"`
}

type DownloadResponse struct {
	DownloadLink string `json:"download_link"`
}

// DocumentHandler serves the document endpoints of one scope kind: the
// caller's own documents or the knowledge base.
type DocumentHandler struct {
	service   DocumentService
	validator *validator.DocumentValidator
	tasks     TaskStatusReader
	logger    logger.Logger
	scopeOf   func(*models.User) models.Scope
}

func NewUserDocumentHandler(service DocumentService, v *validator.DocumentValidator, tasks TaskStatusReader, log logger.Logger) *DocumentHandler {
	return &DocumentHandler{
		service:   service,
		validator: v,
		tasks:     tasks,
		logger:    log.Named("documents"),
		scopeOf:   func(u *models.User) models.Scope { return models.UserScope(u.Email) },
	}
}

func NewKnowledgeBaseHandler(service DocumentService, v *validator.DocumentValidator, log logger.Logger) *DocumentHandler {
	return &DocumentHandler{
		service:   service,
		validator: v,
		logger:    log.Named("knowledge_base"),
		scopeOf:   func(*models.User) models.Scope { return models.KnowledgeBase },
	}
}

// Upload validates the multipart files[] field, then stores the valid files.
func (h *DocumentHandler) Upload(c *gin.Context) {
	user, ok := userOrAbort(c)
	if !ok {
		return
	}
	form, err := c.MultipartForm()
	if err != nil {
		badRequest(c, "Invalid form data", err)
		return
	}
	headers := form.File["files"]
	if len(headers) == 0 {
		badRequest(c, "No files provided", nil)
		return
	}

	results, err := h.validator.ValidateFiles(headers)
	if err != nil {
		handleError(c, h.logger, "Failed to read uploaded files", err)
		return
	}

	var rejected []models.FileInfo
	uploads := make([]models.FileUpload, 0, len(results))
	for _, r := range results {
		if !r.IsValid {
			rejected = append(rejected, models.FileInfo{
				Filename: r.FileInfo.Filename,
				Status:   string(models.StatusUploadFailed),
				Error:    r.Error(),
			})
			continue
		}
		uploads = append(uploads, models.FileUpload{
			Name:        r.FileInfo.Filename,
			ContentType: r.FileInfo.ContentType,
			Data:        r.Data,
		})
	}

	result := &models.UploadResult{UploadedFiles: []models.FileInfo{}, FailedFiles: []models.FileInfo{}}
	if len(uploads) > 0 {
		result, err = h.service.UploadFiles(c.Request.Context(), user, h.scopeOf(user), uploads)
		if err != nil {
			handleError(c, h.logger, "Failed to upload files", err)
			return
		}
	}
	result.FailedFiles = append(result.FailedFiles, rejected...)
	c.JSON(batchStatus(result.FailedFiles), result)
}

// UploadFromDrive queues the files behind the gdrivelink query parameter.
func (h *DocumentHandler) UploadFromDrive(c *gin.Context) {
	user, ok := userOrAbort(c)
	if !ok {
		return
	}
	link := c.Query("gdrivelink")
	if link == "" {
		badRequest(c, "gdrivelink is required", nil)
		return
	}
	result, err := h.service.EnqueueDriveImport(c.Request.Context(), user, link)
	if err != nil {
		handleError(c, h.logger, "Failed to import from Google Drive", err)
		return
	}
	c.JSON(batchStatus(result.FailedFiles), result)
}

// DeleteMultiple removes the named documents inline. With ?async=true the
// rows are marked to_delete and the store deletes run on the worker.
func (h *DocumentHandler) DeleteMultiple(c *gin.Context) {
	user, ok := userOrAbort(c)
	if !ok {
		return
	}
	var req FileNamesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request payload", err)
		return
	}

	scope := h.scopeOf(user)
	var result *models.DeleteResult
	if c.Query("async") == "true" {
		var err error
		if result, err = h.service.QueueDeletes(c.Request.Context(), scope, req.FileNames); err != nil {
			handleError(c, h.logger, "Failed to delete files", err)
			return
		}
	} else {
		result = h.service.DeleteFiles(c.Request.Context(), scope, req.FileNames)
	}
	c.JSON(batchStatus(result.FailedFiles), result)
}

func (h *DocumentHandler) List(c *gin.Context) {
	user, ok := userOrAbort(c)
	if !ok {
		return
	}
	list, err := h.service.ListDocuments(c.Request.Context(), h.scopeOf(user))
	if err != nil {
		handleError(c, h.logger, "Failed to list documents", err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// ValidateDocuments reports which of the given names are already stored.
func (h *DocumentHandler) ValidateDocuments(c *gin.Context) {
	user, ok := userOrAbort(c)
	if !ok {
		return
	}
	var req FileNamesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request payload", err)
		return
	}
	existence, err := h.service.ValidateFilenames(c.Request.Context(), h.scopeOf(user), req.FileNames)
	if err != nil {
		handleError(c, h.logger, "Failed to validate documents", err)
		return
	}
	c.JSON(http.StatusOK, existence)
}

func (h *DocumentHandler) Download(c *gin.Context) {
	user, ok := userOrAbort(c)
	if !ok {
		return
	}
	name := c.Param("file_name")
	if verr := validator.ValidateFilename(name); verr != nil {
		badRequest(c, verr.Message, nil)
		return
	}
	link, err := h.service.GetDownloadLink(c.Request.Context(), h.scopeOf(user), name)
	if err != nil {
		handleError(c, h.logger, "Failed to create download link", err)
		return
	}
	c.JSON(http.StatusOK, DownloadResponse{DownloadLink: link})
}

// TaskStatus returns the state of a queued Drive transfer or delete.
func (h *DocumentHandler) TaskStatus(c *gin.Context) {
	if h.tasks == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "not found", Message: "Background tasks are not enabled"})
		return
	}
	taskID := c.Param("task_id")
	status, err := h.tasks.GetTaskStatus(c.Request.Context(), taskID)
	if err != nil {
		handleError(c, h.logger, "Failed to get task status", err)
		return
	}
	c.JSON(http.StatusOK, status)
}

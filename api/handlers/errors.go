package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/feichai0017/legal-rag/api/middleware"
	"github.com/feichai0017/legal-rag/internal/models"
	"github.com/feichai0017/legal-rag/internal/service/adminconfig"
	"github.com/feichai0017/legal-rag/internal/service/document"
	"github.com/feichai0017/legal-rag/pkg/logger"
)

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// statusFor maps a service error to the HTTP status reported to the client.
func statusFor(err error) int {
	var (
		duplicate  *models.DuplicateDocumentError
		extraction *models.ExtractionError
		quota      *models.QuotaExceededError
		notFound   *models.NotFoundError
		noPrior    *models.NoPriorResponseError
		invalid    *models.InvalidInputError
	)
	switch {
	case errors.As(err, &duplicate):
		return http.StatusConflict
	case errors.As(err, &extraction):
		return http.StatusUnprocessableEntity
	case errors.As(err, &quota):
		return http.StatusForbidden
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &noPrior), errors.As(err, &invalid), errors.Is(err, adminconfig.ErrEmptyPatch):
		return http.StatusBadRequest
	case errors.Is(err, document.ErrDriveDisabled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// handleError logs err and writes it with the mapped status. Internal
// errors are not echoed to the client.
func handleError(c *gin.Context, log logger.Logger, message string, err error) {
	status := statusFor(err)
	log = logger.FromContext(c.Request.Context(), log)

	response := ErrorResponse{Message: message}
	if status == http.StatusInternalServerError {
		log.Error(message,
			logger.String("path", c.Request.URL.Path),
			logger.Error(err),
		)
		response.Error = "internal server error"
	} else {
		log.Warn(message,
			logger.String("path", c.Request.URL.Path),
			logger.Error(err),
		)
		response.Error = err.Error()
	}
	c.AbortWithStatusJSON(status, response)
}

func badRequest(c *gin.Context, message string, err error) {
	response := ErrorResponse{Message: message, Error: "bad request"}
	if err != nil {
		response.Error = err.Error()
	}
	c.AbortWithStatusJSON(http.StatusBadRequest, response)
}

func userOrAbort(c *gin.Context) (*models.User, bool) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized", Message: "Access token is not valid"})
	}
	return user, ok
}

// batchStatus is 200 when every file succeeded and 417 otherwise.
func batchStatus(failed []models.FileInfo) int {
	if len(failed) > 0 {
		return http.StatusExpectationFailed
	}
	return http.StatusOK
}

package document

import (
	"context"
	"errors"
	"fmt"

	"github.com/feichai0017/legal-rag/internal/gdrive"
	"github.com/feichai0017/legal-rag/internal/models"
	"github.com/feichai0017/legal-rag/internal/platform/rabbitmq"
	"github.com/feichai0017/legal-rag/pkg/logger"
	"github.com/feichai0017/legal-rag/pkg/queue"
)

var ErrDriveDisabled = errors.New("google drive import is not configured")

// EnqueueDriveImport resolves a Drive link into files, reserves a Queued row
// for each supported one and schedules the transfers.
func (s *Service) EnqueueDriveImport(ctx context.Context, user *models.User, link string) (*models.DriveImportResult, error) {
	if s.drive == nil || s.tasks == nil {
		return nil, ErrDriveDisabled
	}
	scope := models.UserScope(user.Email)
	log := s.logger.With(logger.String("scope", scope.Key()))

	files, err := s.drive.ResolveFiles(ctx, link)
	if err != nil {
		return nil, err
	}

	result := &models.DriveImportResult{
		QueuedFiles: []models.FileInfo{},
		FailedFiles: []models.FileInfo{},
	}
	var candidates []gdrive.File
	for _, f := range files {
		if !gdrive.Supported(f.MimeType) {
			result.FailedFiles = append(result.FailedFiles, models.FileInfo{
				Filename:    f.Name,
				ContentType: f.MimeType,
				Error:       "Unsupported file type",
			})
			continue
		}
		candidates = append(candidates, f)
	}
	if len(candidates) == 0 {
		return result, nil
	}

	names := make([]string, len(candidates))
	for i, f := range candidates {
		names[i] = f.Name
	}
	if _, err := s.repo.DeleteByStatus(ctx, scope, models.StatusUploadFailed, names); err != nil {
		return nil, err
	}
	if err := s.CheckFileQuota(ctx, user, scope, len(candidates)); err != nil {
		return nil, err
	}
	existing, err := s.repo.ExistingNames(ctx, scope, names)
	if err != nil {
		return nil, err
	}

	for _, f := range candidates {
		info := models.FileInfo{Filename: f.Name, ContentType: f.ContentType()}
		if existing[f.Name] {
			info.Error = (&models.DuplicateDocumentError{Name: f.Name}).Error()
			result.FailedFiles = append(result.FailedFiles, info)
			continue
		}
		if err := s.repo.Create(ctx, scope, f.Name, f.ContentType(), models.StatusQueued); err != nil {
			info.Error = err.Error()
			result.FailedFiles = append(result.FailedFiles, info)
			continue
		}
		existing[f.Name] = true

		taskID, err := s.enqueueTransfer(ctx, scope, f)
		if err != nil {
			log.Error("Failed to enqueue drive transfer", logger.String("document", f.Name), logger.Error(err))
			if uerr := s.repo.UpdateStatus(ctx, scope, f.Name, models.StatusQueued, models.StatusUploadFailed); uerr != nil {
				log.Error("Failed to mark transfer as failed", logger.Error(uerr))
			}
			info.Error = err.Error()
			result.FailedFiles = append(result.FailedFiles, info)
			continue
		}
		info.Status = string(models.StatusQueued)
		info.TaskID = taskID
		result.QueuedFiles = append(result.QueuedFiles, info)
	}
	log.Info("Drive import queued",
		logger.Int("queued", len(result.QueuedFiles)),
		logger.Int("failed", len(result.FailedFiles)),
	)
	return result, nil
}

func (s *Service) enqueueTransfer(ctx context.Context, scope models.Scope, f gdrive.File) (string, error) {
	task, err := queue.NewTask(queue.TaskTypeDriveTransfer, queue.PriorityDefault, queue.DriveTransferPayload{
		UserID:   scope.UserID,
		FileID:   f.ID,
		FileName: f.Name,
		MimeType: f.MimeType,
	})
	if err != nil {
		return "", err
	}
	if err := s.tasks.Enqueue(ctx, task); err != nil {
		return "", err
	}
	return task.ID, nil
}

// ProcessDriveFile runs one queued transfer: download, extract, index and
// store. Rows that left the Queued state are skipped.
func (s *Service) ProcessDriveFile(ctx context.Context, body []byte) error {
	if s.drive == nil {
		return ErrDriveDisabled
	}
	var payload queue.DriveTransferPayload
	if _, err := queue.Decode(body, &payload); err != nil {
		return err
	}
	scope := models.Scope{UserID: payload.UserID}
	file := gdrive.File{ID: payload.FileID, Name: payload.FileName, MimeType: payload.MimeType}
	log := s.logger.With(logger.String("scope", scope.Key()), logger.String("document", file.Name))

	doc, err := s.repo.Get(ctx, scope, file.Name)
	if err != nil {
		return err
	}
	if doc == nil || doc.Status != models.StatusQueued {
		log.Info("Skipping drive transfer, document is no longer queued")
		return nil
	}

	data, err := s.drive.Download(ctx, file)
	if err != nil {
		s.failTransfer(ctx, scope, file.Name, models.StatusQueued, err, log)
		return err
	}
	if err := s.repo.UpdateStatus(ctx, scope, file.Name, models.StatusQueued, models.StatusUploaded); err != nil {
		return fmt.Errorf("failed to start drive transfer: %w", err)
	}

	text, err := s.extractor.Extract(file.Name, data, file.ContentType())
	if err == nil {
		err = s.checkCharacters(ctx, scope, nil, text)
	}
	if err != nil {
		s.failTransfer(ctx, scope, file.Name, models.StatusUploaded, err, log)
		return err
	}
	return s.writeStores(ctx, scope, file.Name, text, data, file.ContentType(), log)
}

func (s *Service) failTransfer(ctx context.Context, scope models.Scope, name string, from models.DocumentStatus, cause error, log logger.Logger) {
	sctx := context.WithoutCancel(ctx)
	log.Error("Drive transfer failed", logger.Error(cause))
	if err := s.repo.UpdateStatus(sctx, scope, name, from, models.StatusUploadFailed); err != nil {
		log.Error("Failed to mark transfer as failed", logger.Error(err))
	}
	s.publish(sctx, rabbitmq.EventDocumentUploadFailed, scope, name, cause)
}

package document

import (
	"bytes"
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/feichai0017/legal-rag/internal/models"
	"github.com/feichai0017/legal-rag/internal/platform/rabbitmq"
	"github.com/feichai0017/legal-rag/pkg/logger"
)

// UploadFile ingests one file into scope: extract, index and store it.
// A Completed document of the same name is replaced.
func (s *Service) UploadFile(ctx context.Context, scope models.Scope, name string, data []byte, contentType string) error {
	log := s.logger.With(logger.String("scope", scope.Key()), logger.String("document", name))

	existing, err := s.repo.Get(ctx, scope, name)
	if err != nil {
		return err
	}
	if existing != nil && existing.Status.IsProcessing() {
		return &models.DuplicateDocumentError{Name: name}
	}

	text, err := s.extractor.Extract(name, data, contentType)
	if err != nil {
		return err
	}
	if err := s.checkCharacters(ctx, scope, existing, text); err != nil {
		return err
	}

	if existing != nil {
		s.clearPrevious(ctx, scope, existing, log)
	}

	if err := s.repo.Create(ctx, scope, name, contentType, models.StatusUploaded); err != nil {
		return err
	}
	return s.writeStores(ctx, scope, name, text, data, contentType, log)
}

// clearPrevious drops an older row of the same name before it is recreated.
// Failures are logged and do not stop the upload.
func (s *Service) clearPrevious(ctx context.Context, scope models.Scope, prev *models.Document, log logger.Logger) {
	if prev.Status == models.StatusCompleted || prev.Status == models.StatusDelFailed {
		if err := s.stores(scope).Index.DeleteDocument(ctx, scope, prev.DocumentName); err != nil {
			log.Warn("Failed to remove previous vectors", logger.Error(err))
		}
	}
	if err := s.repo.Delete(ctx, scope, prev.DocumentName); err != nil {
		log.Warn("Failed to remove previous row", logger.Error(err))
	}
}

func (s *Service) checkCharacters(ctx context.Context, scope models.Scope, existing *models.Document, text string) error {
	if s.config.MaxCharacters <= 0 || scope.IsKnowledgeBase() {
		return nil
	}
	current, err := s.repo.SumCharacters(ctx, scope)
	if err != nil {
		return err
	}
	if existing != nil {
		current -= existing.CharCount
	}
	n := int64(utf8.RuneCountInString(text))
	if current+n > s.config.MaxCharacters {
		return &models.QuotaExceededError{
			Resource:  "character",
			Limit:     int(s.config.MaxCharacters),
			Current:   int(current),
			Requested: int(n),
		}
	}
	return nil
}

// writeStores runs the index and blob writes for a row in Uploaded and settles
// the row as Completed or upload_failed.
func (s *Service) writeStores(ctx context.Context, scope models.Scope, name, text string, data []byte, contentType string, log logger.Logger) error {
	st := s.stores(scope)
	key := scope.BlobKey(name)

	saga := NewSaga(log,
		Step{
			Name: serviceVectorStore,
			Forward: func(ctx context.Context) error {
				_, err := st.Index.IndexDocument(ctx, scope, name, text)
				return err
			},
			Compensate: func(ctx context.Context) error {
				return st.Index.DeleteDocument(ctx, scope, name)
			},
		},
		Step{
			Name: serviceBlobStorage,
			Forward: func(ctx context.Context) error {
				return st.Blobs.Put(ctx, key, bytes.NewReader(data), int64(len(data)), contentType, map[string]string{
					"document-name": name,
					"scope":         scope.Key(),
				})
			},
			Compensate: func(ctx context.Context) error {
				return st.Blobs.Delete(ctx, key)
			},
		},
	)

	res := saga.Run(ctx)
	// the row must be settled even if the request was cancelled meanwhile
	sctx := context.WithoutCancel(ctx)

	if !res.OK() {
		failures := make([]error, 0, len(res.Failed))
		for _, f := range res.Failed {
			failures = append(failures, &models.StoreWriteError{Service: f.Step, Err: f.Err})
		}
		uploadErr := &models.StoreErrors{Failures: failures}
		log.Error("Upload failed", logger.Error(uploadErr))

		if err := s.repo.UpdateStatus(sctx, scope, name, models.StatusUploaded, models.StatusUploadFailed); err != nil {
			log.Error("Failed to mark upload as failed", logger.Error(err))
		}
		s.publish(sctx, rabbitmq.EventDocumentUploadFailed, scope, name, uploadErr)
		return uploadErr
	}

	if err := s.repo.SetCharCount(sctx, scope, name, int64(utf8.RuneCountInString(text))); err != nil {
		log.Warn("Failed to record character count", logger.Error(err))
	}
	if err := s.repo.UpdateStatus(sctx, scope, name, models.StatusUploaded, models.StatusCompleted); err != nil {
		return fmt.Errorf("failed to complete upload: %w", err)
	}
	log.Info("Document uploaded")
	s.publish(sctx, rabbitmq.EventDocumentCompleted, scope, name, nil)
	return nil
}

// UploadFiles uploads a batch concurrently. Files of user scopes are checked
// against the plan's file quota first; the whole batch is rejected if it does
// not fit.
func (s *Service) UploadFiles(ctx context.Context, user *models.User, scope models.Scope, files []models.FileUpload) (*models.UploadResult, error) {
	if !scope.IsKnowledgeBase() {
		if err := s.CheckFileQuota(ctx, user, scope, len(files)); err != nil {
			return nil, err
		}
	}

	outcomes := s.fanOut(ctx, len(files), func(i int) error {
		f := files[i]
		return s.UploadFile(ctx, scope, f.Name, f.Data, f.ContentType)
	})

	result := &models.UploadResult{
		UploadedFiles: []models.FileInfo{},
		FailedFiles:   []models.FileInfo{},
	}
	for i, f := range files {
		info := models.FileInfo{Filename: f.Name, ContentType: f.ContentType}
		if err := outcomes[i]; err != nil {
			info.Status = string(models.StatusUploadFailed)
			info.Error = err.Error()
			result.FailedFiles = append(result.FailedFiles, info)
			continue
		}
		info.Status = string(models.StatusCompleted)
		result.UploadedFiles = append(result.UploadedFiles, info)
	}
	return result, nil
}

// CheckFileQuota rejects incoming new files when the scope would exceed the
// user's plan limit. Admins get the paid limit.
func (s *Service) CheckFileQuota(ctx context.Context, user *models.User, scope models.Scope, incoming int) error {
	limit := s.config.PaidFileLimit
	if user == nil || user.IsFreeUser() {
		limit = s.config.FreeFileLimit
	}
	if limit <= 0 {
		return nil
	}
	current, err := s.repo.Count(ctx, scope)
	if err != nil {
		return err
	}
	if int(current)+incoming > limit {
		return &models.QuotaExceededError{
			Resource:  "file",
			Limit:     limit,
			Current:   int(current),
			Requested: incoming,
		}
	}
	return nil
}

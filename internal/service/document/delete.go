package document

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/feichai0017/legal-rag/internal/models"
	"github.com/feichai0017/legal-rag/internal/platform/rabbitmq"
	"github.com/feichai0017/legal-rag/internal/repository"
	"github.com/feichai0017/legal-rag/pkg/logger"
	"github.com/feichai0017/legal-rag/pkg/queue"
)

func fileNotFound() error {
	return &models.NotFoundError{Resource: "document", Message: "File does not exists"}
}

// DeleteFile removes a stored document from both backing stores and drops
// its row. A partial failure leaves the row in del_failed so the delete can
// be retried.
func (s *Service) DeleteFile(ctx context.Context, scope models.Scope, name string) error {
	doc, err := s.repo.Get(ctx, scope, name)
	if err != nil {
		return err
	}
	if doc == nil || (doc.Status != models.StatusCompleted && doc.Status != models.StatusDelFailed) {
		return fileNotFound()
	}
	if err := s.repo.UpdateStatus(ctx, scope, name, doc.Status, models.StatusToDelete); err != nil {
		if errors.Is(err, repository.ErrStatusChanged) {
			return fileNotFound()
		}
		return err
	}
	return s.removeStored(ctx, scope, name)
}

// removeStored deletes a to_delete document from both stores concurrently.
func (s *Service) removeStored(ctx context.Context, scope models.Scope, name string) error {
	log := s.logger.With(logger.String("scope", scope.Key()), logger.String("document", name))
	st := s.stores(scope)

	var (
		mu       sync.Mutex
		failures []error
	)
	fail := func(service string, err error) {
		mu.Lock()
		defer mu.Unlock()
		failures = append(failures, &models.StoreDeleteError{Service: service, Err: err})
	}

	var g errgroup.Group
	g.Go(func() error {
		if err := st.Index.DeleteDocument(ctx, scope, name); err != nil {
			fail(serviceVectorStore, err)
		}
		return nil
	})
	g.Go(func() error {
		if err := st.Blobs.Delete(ctx, scope.BlobKey(name)); err != nil {
			fail(serviceBlobStorage, err)
		}
		return nil
	})
	_ = g.Wait()

	sctx := context.WithoutCancel(ctx)
	if len(failures) > 0 {
		delErr := &models.StoreErrors{Failures: failures}
		log.Error("Delete failed", logger.Error(delErr))
		if err := s.repo.UpdateStatus(sctx, scope, name, models.StatusToDelete, models.StatusDelFailed); err != nil {
			log.Error("Failed to mark delete as failed", logger.Error(err))
		}
		s.publish(sctx, rabbitmq.EventDocumentDelFailed, scope, name, delErr)
		return delErr
	}

	if err := s.repo.Delete(sctx, scope, name); err != nil {
		return err
	}
	log.Info("Document deleted")
	s.publish(sctx, rabbitmq.EventDocumentDeleted, scope, name, nil)
	return nil
}

// DeleteFiles deletes the names concurrently and reports per file outcomes
// in input order.
func (s *Service) DeleteFiles(ctx context.Context, scope models.Scope, names []string) *models.DeleteResult {
	outcomes := s.fanOut(ctx, len(names), func(i int) error {
		return s.DeleteFile(ctx, scope, names[i])
	})

	result := &models.DeleteResult{
		DeletedFiles: []models.FileInfo{},
		FailedFiles:  []models.FileInfo{},
	}
	for i, name := range names {
		if err := outcomes[i]; err != nil {
			result.FailedFiles = append(result.FailedFiles, models.FileInfo{
				Filename: name,
				Status:   string(models.StatusDelFailed),
				Error:    err.Error(),
			})
			continue
		}
		result.DeletedFiles = append(result.DeletedFiles, models.FileInfo{Filename: name})
	}
	return result
}

// QueueDeletes marks names to_delete and hands them to the worker. Names
// that are not deletable are reported as failed. Without a task queue the
// deletes run inline.
func (s *Service) QueueDeletes(ctx context.Context, scope models.Scope, names []string) (*models.DeleteResult, error) {
	if s.tasks == nil {
		return s.DeleteFiles(ctx, scope, names), nil
	}

	result := &models.DeleteResult{
		DeletedFiles: []models.FileInfo{},
		FailedFiles:  []models.FileInfo{},
	}
	type marked struct {
		name string
		from models.DocumentStatus
	}
	var accepted []marked
	for _, name := range names {
		doc, err := s.repo.Get(ctx, scope, name)
		if err != nil {
			return nil, err
		}
		if doc == nil || (doc.Status != models.StatusCompleted && doc.Status != models.StatusDelFailed) {
			result.FailedFiles = append(result.FailedFiles, models.FileInfo{Filename: name, Error: fileNotFound().Error()})
			continue
		}
		if err := s.repo.UpdateStatus(ctx, scope, name, doc.Status, models.StatusToDelete); err != nil {
			result.FailedFiles = append(result.FailedFiles, models.FileInfo{Filename: name, Error: err.Error()})
			continue
		}
		accepted = append(accepted, marked{name: name, from: doc.Status})
	}
	if len(accepted) == 0 {
		return result, nil
	}

	payload := queue.DeletePayload{UserID: scope.UserID}
	for _, m := range accepted {
		payload.FileNames = append(payload.FileNames, m.name)
	}
	task, err := queue.NewTask(queue.TaskTypeDocumentDelete, queue.PriorityDefault, payload)
	if err == nil {
		err = s.tasks.Enqueue(ctx, task)
	}
	if err != nil {
		s.logger.Error("Failed to enqueue delete", logger.Error(err))
		for _, m := range accepted {
			// to_delete only leads back to completed; a del_failed row stays retryable either way
			if rerr := s.repo.UpdateStatus(ctx, scope, m.name, models.StatusToDelete, models.StatusCompleted); rerr != nil {
				s.logger.Error("Failed to revert queued delete", logger.String("document", m.name), logger.Error(rerr))
			}
			result.FailedFiles = append(result.FailedFiles, models.FileInfo{Filename: m.name, Error: err.Error()})
		}
		return result, nil
	}

	for _, m := range accepted {
		result.DeletedFiles = append(result.DeletedFiles, models.FileInfo{
			Filename: m.name,
			Status:   string(models.StatusToDelete),
			TaskID:   task.ID,
		})
	}
	return result, nil
}

// DeleteQueued finishes deletes queued by QueueDeletes. Rows no longer in
// to_delete are skipped.
func (s *Service) DeleteQueued(ctx context.Context, body []byte) (*models.DeleteResult, error) {
	var payload queue.DeletePayload
	if _, err := queue.Decode(body, &payload); err != nil {
		return nil, err
	}
	scope := models.Scope{UserID: payload.UserID}

	var lookupErr error
	var once sync.Once
	skipped := make([]bool, len(payload.FileNames))
	outcomes := s.fanOut(ctx, len(payload.FileNames), func(i int) error {
		name := payload.FileNames[i]
		doc, err := s.repo.Get(ctx, scope, name)
		if err != nil {
			once.Do(func() { lookupErr = err })
			return err
		}
		if doc == nil || doc.Status != models.StatusToDelete {
			skipped[i] = true
			return nil
		}
		return s.removeStored(ctx, scope, name)
	})
	if lookupErr != nil {
		return nil, lookupErr
	}

	result := &models.DeleteResult{
		DeletedFiles: []models.FileInfo{},
		FailedFiles:  []models.FileInfo{},
	}
	for i, name := range payload.FileNames {
		if skipped[i] {
			continue
		}
		if err := outcomes[i]; err != nil {
			result.FailedFiles = append(result.FailedFiles, models.FileInfo{Filename: name, Error: err.Error()})
			continue
		}
		result.DeletedFiles = append(result.DeletedFiles, models.FileInfo{Filename: name})
	}
	return result, nil
}

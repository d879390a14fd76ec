package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/feichai0017/legal-rag/internal/models"
	"github.com/feichai0017/legal-rag/pkg/logger"
	"github.com/feichai0017/legal-rag/pkg/queue"
)

// DocumentService is the part of the document service the worker drives.
type DocumentService interface {
	ProcessDriveFile(ctx context.Context, body []byte) error
	DeleteQueued(ctx context.Context, body []byte) (*models.DeleteResult, error)
	CleanupStaleBlobs(ctx context.Context, olderThan time.Duration) (int, error)
}

type StatusSaver interface {
	SaveFinalStatus(ctx context.Context, status *queue.TaskStatus) error
}

// Handlers runs document tasks and records their final status.
type Handlers struct {
	docs         DocumentService
	statuses     StatusSaver
	cleanupAfter time.Duration
	logger       logger.Logger
}

func NewHandlers(docs DocumentService, statuses StatusSaver, cleanupAfter time.Duration, log logger.Logger) *Handlers {
	return &Handlers{docs: docs, statuses: statuses, cleanupAfter: cleanupAfter, logger: log}
}

func (h *Handlers) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(queue.TaskTypeDriveTransfer, h.handleDriveTransfer)
	mux.HandleFunc(queue.TaskTypeDocumentDelete, h.handleDocumentDelete)
	mux.HandleFunc(queue.TaskTypeBlobCleanup, h.handleBlobCleanup)
}

func (h *Handlers) taskID(t *asynq.Task) (string, error) {
	var task queue.Task
	if err := json.Unmarshal(t.Payload(), &task); err != nil {
		h.logger.Error("Failed to unmarshal task",
			logger.Error(err),
			logger.String("type", t.Type()),
		)
		return "", fmt.Errorf("failed to unmarshal task: %v: %w", err, asynq.SkipRetry)
	}
	if task.ID == "" {
		return "", fmt.Errorf("invalid task data: missing id: %w", asynq.SkipRetry)
	}
	return task.ID, nil
}

func (h *Handlers) record(ctx context.Context, id string, started time.Time, err error) {
	status := &queue.TaskStatus{
		TaskID:     id,
		Status:     "completed",
		Progress:   1,
		StartedAt:  started,
		FinishedAt: time.Now(),
	}
	if err != nil {
		status.Status = "failed"
		status.Progress = 0
		status.Error = err.Error()
	}
	if serr := h.statuses.SaveFinalStatus(context.WithoutCancel(ctx), status); serr != nil {
		h.logger.Error("Failed to save task status", logger.String("taskId", id), logger.Error(serr))
	}
}

func (h *Handlers) handleDriveTransfer(ctx context.Context, t *asynq.Task) error {
	id, err := h.taskID(t)
	if err != nil {
		return err
	}
	started := time.Now()
	h.logger.Info("Processing drive transfer", logger.String("taskId", id))

	err = h.docs.ProcessDriveFile(ctx, t.Payload())
	h.record(ctx, id, started, err)
	if err != nil {
		// the document row is already settled as upload_failed
		return fmt.Errorf("drive transfer failed: %v: %w", err, asynq.SkipRetry)
	}
	return nil
}

func (h *Handlers) handleDocumentDelete(ctx context.Context, t *asynq.Task) error {
	id, err := h.taskID(t)
	if err != nil {
		return err
	}
	started := time.Now()

	res, err := h.docs.DeleteQueued(ctx, t.Payload())
	if err == nil && len(res.FailedFiles) > 0 {
		err = fmt.Errorf("%d of %d deletes failed", len(res.FailedFiles), len(res.FailedFiles)+len(res.DeletedFiles))
		h.record(ctx, id, started, err)
		// failed rows are del_failed now, the user retries them explicitly
		return nil
	}
	h.record(ctx, id, started, err)
	return err
}

func (h *Handlers) handleBlobCleanup(ctx context.Context, t *asynq.Task) error {
	n, err := h.docs.CleanupStaleBlobs(ctx, h.cleanupAfter)
	if err != nil {
		h.logger.Error("Stale blob cleanup failed", logger.Int("removed", n), logger.Error(err))
		return err
	}
	return nil
}

type DocumentWorker struct {
	BaseWorker
	handlers *Handlers
}

func NewDocumentWorker(cfg Config, docs DocumentService, statuses StatusSaver, log logger.Logger) (*DocumentWorker, error) {
	cfg.setDefaults()
	log = log.Named("worker")

	server := asynq.NewServer(cfg.Redis, asynq.Config{
		Concurrency: cfg.Concurrency,
		Queues:      cfg.Queues,
		RetryDelayFunc: func(n int, err error, task *asynq.Task) time.Duration {
			return time.Duration(n) * time.Minute
		},
	})

	w := &DocumentWorker{
		BaseWorker: BaseWorker{
			server:   server,
			mux:      asynq.NewServeMux(),
			logger:   log,
			stopChan: make(chan struct{}),
		},
		handlers: NewHandlers(docs, statuses, cfg.CleanupAfter, log),
	}
	w.handlers.Register(w.mux)

	if cfg.CleanupSpec != "" {
		w.scheduler = asynq.NewScheduler(cfg.Redis, &asynq.SchedulerOpts{Location: time.UTC})
		entryID, err := w.scheduler.Register(cfg.CleanupSpec, asynq.NewTask(queue.TaskTypeBlobCleanup, nil), asynq.Queue("low"))
		if err != nil {
			return nil, fmt.Errorf("failed to schedule blob cleanup: %w", err)
		}
		log.Info("Scheduled blob cleanup", logger.String("spec", cfg.CleanupSpec), logger.String("entry", entryID))
	}
	return w, nil
}

func (w *DocumentWorker) Start(ctx context.Context) error {
	if err := w.server.Start(w.mux); err != nil {
		return fmt.Errorf("failed to start worker server: %w", err)
	}
	if w.scheduler != nil {
		if err := w.scheduler.Start(); err != nil {
			w.server.Shutdown()
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
	}

	go func() {
		<-ctx.Done()
		_ = w.Stop()
	}()
	return nil
}

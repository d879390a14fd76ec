package document

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/feichai0017/legal-rag/internal/gdrive"
	"github.com/feichai0017/legal-rag/internal/models"
	"github.com/feichai0017/legal-rag/internal/platform/rabbitmq"
	"github.com/feichai0017/legal-rag/pkg/logger"
	"github.com/feichai0017/legal-rag/pkg/queue"
	"github.com/feichai0017/legal-rag/pkg/storage"
)

const (
	serviceVectorStore = "Vector Store"
	serviceBlobStorage = "Blob Storage"
)

type Repository interface {
	Get(ctx context.Context, scope models.Scope, name string) (*models.Document, error)
	Create(ctx context.Context, scope models.Scope, name, contentType string, status models.DocumentStatus) error
	UpdateStatus(ctx context.Context, scope models.Scope, name string, from, to models.DocumentStatus) error
	SetCharCount(ctx context.Context, scope models.Scope, name string, n int64) error
	Delete(ctx context.Context, scope models.Scope, name string) error
	List(ctx context.Context, scope models.Scope) ([]models.Document, error)
	DeleteByStatus(ctx context.Context, scope models.Scope, status models.DocumentStatus, names []string) (int64, error)
	ExistingNames(ctx context.Context, scope models.Scope, names []string, exclude ...models.DocumentStatus) (map[string]bool, error)
	Count(ctx context.Context, scope models.Scope) (int64, error)
	SumCharacters(ctx context.Context, scope models.Scope) (int64, error)
	ReferencedBlobKeys(ctx context.Context, knowledgeBase bool) (map[string]struct{}, error)
}

type Extractor interface {
	Extract(fileName string, data []byte, mimeType string) (string, error)
}

type Indexer interface {
	IndexDocument(ctx context.Context, scope models.Scope, name, text string) (int, error)
	DeleteDocument(ctx context.Context, scope models.Scope, name string) error
}

type DriveClient interface {
	ResolveFiles(ctx context.Context, link string) ([]gdrive.File, error)
	Download(ctx context.Context, f gdrive.File) ([]byte, error)
}

// Stores are the two backing stores of one scope family.
type Stores struct {
	Blobs storage.Storage
	Index Indexer
}

type ServiceConfig struct {
	// UploadConcurrency bounds the files of one batch upload or delete in flight
	UploadConcurrency int
	FreeFileLimit     int
	PaidFileLimit     int
	// MaxCharacters caps extracted text per user scope, 0 disables it
	MaxCharacters int64
	LinkExpiry    time.Duration
}

type Service struct {
	repo      Repository
	extractor Extractor
	users     Stores
	kb        Stores
	drive     DriveClient
	tasks     queue.Queue
	events    rabbitmq.Publisher
	logger    logger.Logger
	config    ServiceConfig
}

type Option func(*Service)

// WithDrive enables Google Drive imports.
func WithDrive(client DriveClient) Option {
	return func(s *Service) { s.drive = client }
}

// WithTaskQueue enables background transfers and queued deletes.
func WithTaskQueue(q queue.Queue) Option {
	return func(s *Service) { s.tasks = q }
}

func WithEvents(p rabbitmq.Publisher) Option {
	return func(s *Service) { s.events = p }
}

func NewService(repo Repository, extractor Extractor, users, kb Stores, log logger.Logger, cfg ServiceConfig, opts ...Option) *Service {
	if cfg.UploadConcurrency <= 0 {
		cfg.UploadConcurrency = 4
	}
	if cfg.LinkExpiry <= 0 {
		cfg.LinkExpiry = time.Hour
	}
	s := &Service{
		repo:      repo,
		extractor: extractor,
		users:     users,
		kb:        kb,
		events:    rabbitmq.NopPublisher{},
		logger:    log.Named("document"),
		config:    cfg,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// fanOut runs fn for indexes 0..n-1 with at most UploadConcurrency running.
// Indexes never started because ctx ended get ctx's error.
func (s *Service) fanOut(ctx context.Context, n int, fn func(i int) error) []error {
	outcomes := make([]error, n)
	sem := semaphore.NewWeighted(int64(s.config.UploadConcurrency))
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		if err := sem.Acquire(ctx, 1); err != nil {
			for j := i; j < n; j++ {
				outcomes[j] = err
			}
			break
		}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer sem.Release(1)
			outcomes[i] = fn(i)
		}(i)
	}
	wg.Wait()
	return outcomes
}

func (s *Service) stores(scope models.Scope) Stores {
	if scope.IsKnowledgeBase() {
		return s.kb
	}
	return s.users
}

func (s *Service) publish(ctx context.Context, eventType string, scope models.Scope, name string, cause error) {
	event := rabbitmq.DocumentEvent{
		Type:         eventType,
		Scope:        scope.Key(),
		DocumentName: name,
	}
	if cause != nil {
		event.Error = cause.Error()
	}
	if err := s.events.Publish(context.WithoutCancel(ctx), event); err != nil {
		s.logger.Warn("Failed to publish document event",
			logger.String("type", eventType),
			logger.String("document", name),
			logger.Error(err),
		)
	}
}

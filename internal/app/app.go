// Package app builds the services shared by the API server and the worker.
package app

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/feichai0017/legal-rag/config"
	"github.com/feichai0017/legal-rag/internal/extractor"
	"github.com/feichai0017/legal-rag/internal/gdrive"
	"github.com/feichai0017/legal-rag/internal/llm"
	"github.com/feichai0017/legal-rag/internal/memory"
	"github.com/feichai0017/legal-rag/internal/platform/database"
	"github.com/feichai0017/legal-rag/internal/platform/rabbitmq"
	"github.com/feichai0017/legal-rag/internal/platform/redis"
	"github.com/feichai0017/legal-rag/internal/repository"
	"github.com/feichai0017/legal-rag/internal/service/adminconfig"
	"github.com/feichai0017/legal-rag/internal/service/chat"
	"github.com/feichai0017/legal-rag/internal/service/document"
	"github.com/feichai0017/legal-rag/internal/vectorstore"
	"github.com/feichai0017/legal-rag/pkg/logger"
	"github.com/feichai0017/legal-rag/pkg/queue"
	"github.com/feichai0017/legal-rag/pkg/storage"
)

type App struct {
	Config *config.Config
	DB     *gorm.DB
	Redis  *goredis.Client
	Queue  *queue.AsynqQueue

	Users       *repository.UserRepository
	Documents   *document.Service
	Chat        *chat.Service
	AdminConfig *adminconfig.Service

	logger  logger.Logger
	closers []func() error
}

// New connects every backing service and wires the document, chat and admin
// config services. On error everything opened so far is released.
func New(ctx context.Context, cfg *config.Config, log logger.Logger) (*App, error) {
	a := &App{Config: cfg, logger: log}
	if err := a.init(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	cfg, log := a.Config, a.logger

	var err error
	if a.DB, err = database.New(ctx, cfg.Database.Driver, cfg.DSN()); err != nil {
		return err
	}
	a.onClose(func() error {
		sqlDB, err := a.DB.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	})
	if err = database.Migrate(a.DB); err != nil {
		return err
	}

	if a.Redis, err = redis.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB); err != nil {
		return err
	}
	a.onClose(a.Redis.Close)

	a.Queue = queue.NewAsynqQueue(&queue.QueueConfig{
		RedisAddr:     cfg.Redis.Addr,
		RedisPassword: cfg.Redis.Password,
		RedisDB:       cfg.Redis.DB,
	}, a.Redis)
	a.onClose(a.Queue.Close)

	userBlobs, err := storage.NewStorage(ctx, cfg.Storage.Backend(cfg.Storage.UserBucket), log)
	if err != nil {
		return fmt.Errorf("failed to initialize user storage: %w", err)
	}
	kbBlobs, err := storage.NewStorage(ctx, cfg.Storage.Backend(cfg.Storage.KBBucket), log)
	if err != nil {
		return fmt.Errorf("failed to initialize knowledge base storage: %w", err)
	}

	primary := llm.NewClient(llm.Provider{BaseURL: cfg.LLM.BaseURL, APIKey: cfg.LLM.APIKey, Timeout: cfg.LLMTimeout()})
	var secondary *llm.Client
	if cfg.LLM.SecondaryURL != "" {
		secondary = llm.NewClient(llm.Provider{BaseURL: cfg.LLM.SecondaryURL, APIKey: cfg.LLM.SecondaryAPIKey, Timeout: cfg.LLMTimeout()})
	}
	factory := llm.NewFactory(primary, secondary, cfg.LLM.SecondaryModel)
	embedder := llm.NewEmbedder(primary, cfg.LLM.EmbeddingModel)

	userStore, err := a.vectorStore(cfg.Pinecone.UserHost)
	if err != nil {
		return err
	}
	kbStore, err := a.vectorStore(cfg.Pinecone.KBHost)
	if err != nil {
		return err
	}
	userIndex := vectorstore.NewIndexer(userStore, embedder, vectorstore.IndexerConfig{}, log)
	kbIndex := vectorstore.NewIndexer(kbStore, embedder, vectorstore.IndexerConfig{}, log)

	docRepo := repository.NewDocumentRepository(a.DB)
	a.Users = repository.NewUserRepository(a.DB)

	a.AdminConfig = adminconfig.New(repository.NewAdminConfigRepository(a.DB), log)
	if err = a.AdminConfig.Reload(ctx); err != nil {
		return err
	}

	opts := []document.Option{
		document.WithTaskQueue(a.Queue),
		document.WithEvents(a.events(cfg)),
	}
	if cfg.GDrive.CredentialsFile != "" {
		drive, err := gdrive.New(ctx, cfg.GDrive.CredentialsFile, log)
		if err != nil {
			return err
		}
		opts = append(opts, document.WithDrive(drive))
	}

	a.Documents = document.NewService(
		docRepo,
		extractor.New(log),
		document.Stores{Blobs: userBlobs, Index: userIndex},
		document.Stores{Blobs: kbBlobs, Index: kbIndex},
		log,
		document.ServiceConfig{
			UploadConcurrency: cfg.Limits.UploadConcurrency,
			FreeFileLimit:     cfg.Limits.FreeFileLimit,
			PaidFileLimit:     cfg.Limits.PaidFileLimit,
			MaxCharacters:     cfg.Limits.MaxCharacters,
			LinkExpiry:        cfg.Storage.LinkExpiry(),
		},
		opts...,
	)

	a.Chat = chat.NewService(
		memory.NewRedisStore(a.Redis),
		docRepo,
		userIndex,
		kbIndex,
		factory,
		a.AdminConfig,
		log,
		chat.Config{
			FreeMessageLimit: cfg.Limits.FreeMessageLimit,
			HistoryWindow:    cfg.Limits.HistoryWindow,
			BackoffMaxWait:   cfg.BackoffMaxWait(),
		},
	)
	return nil
}

// vectorStore uses Pinecone when configured and an in process store otherwise.
func (a *App) vectorStore(host string) (vectorstore.Store, error) {
	if a.Config.Pinecone.APIKey == "" {
		a.logger.Warn("Pinecone is not configured, using in-memory vector store")
		return vectorstore.NewMemoryStore(), nil
	}
	return vectorstore.NewPineconeStore(vectorstore.PineconeConfig{
		APIKey:     a.Config.Pinecone.APIKey,
		IndexHost:  host,
		APIVersion: a.Config.Pinecone.APIVersion,
	}, a.logger)
}

func (a *App) events(cfg *config.Config) rabbitmq.Publisher {
	if cfg.RabbitMQ.URL == "" {
		return rabbitmq.NopPublisher{}
	}
	conn, err := rabbitmq.New(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange)
	if err != nil {
		a.logger.Warn("RabbitMQ unavailable, lifecycle events disabled", logger.Error(err))
		return rabbitmq.NopPublisher{}
	}
	a.onClose(conn.Close)
	publisher := rabbitmq.NewEventPublisher(conn, cfg.RabbitMQ.Exchange)
	a.onClose(publisher.Close)
	return rabbitmq.NewLoggingPublisher(publisher, a.logger)
}

func (a *App) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("Failed to release resource", logger.Error(err))
		}
	}
	a.closers = nil
}

func (a *App) PingDB(ctx context.Context) error {
	sqlDB, err := a.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (a *App) PingRedis(ctx context.Context) error {
	return a.Redis.Ping(ctx).Err()
}

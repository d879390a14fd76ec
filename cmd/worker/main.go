package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/feichai0017/legal-rag/config"
	"github.com/feichai0017/legal-rag/internal/app"
	"github.com/feichai0017/legal-rag/pkg/logger"
	"github.com/feichai0017/legal-rag/pkg/worker"
)

func main() {
	cfg, err := config.Get()
	if err != nil {
		panic(err)
	}

	log, err := logger.NewLogger(
		logger.WithLevel(cfg.Log.Level),
		logger.WithEncoding(cfg.Log.Encoding),
		logger.WithOutputPaths([]string{"stdout", "logs/worker.log"}),
		logger.WithErrorPaths(cfg.Log.ErrorPaths),
		logger.WithInitialFields(map[string]interface{}{"service": cfg.App.Name + "-worker"}),
	)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Error("Failed to initialize application", logger.Error(err))
		os.Exit(1)
	}
	defer a.Close()

	documentWorker, err := worker.NewDocumentWorker(worker.Config{
		Redis:        a.Queue.RedisOpt(),
		Concurrency:  cfg.Worker.Concurrency,
		CleanupSpec:  cfg.Worker.CleanupSpec,
		CleanupAfter: cfg.CleanupAfter(),
	}, a.Documents, a.Queue, log)
	if err != nil {
		log.Error("Failed to create document worker", logger.Error(err))
		os.Exit(1)
	}

	if err := documentWorker.Start(ctx); err != nil {
		log.Error("Failed to start worker", logger.Error(err))
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info("Shutting down worker...")
	_ = documentWorker.Stop()
	log.Info("Worker stopped")
}

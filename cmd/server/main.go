package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/feichai0017/legal-rag/api/handlers"
	"github.com/feichai0017/legal-rag/api/middleware"
	"github.com/feichai0017/legal-rag/api/routes"
	"github.com/feichai0017/legal-rag/config"
	"github.com/feichai0017/legal-rag/internal/app"
	"github.com/feichai0017/legal-rag/internal/utils/validator"
	"github.com/feichai0017/legal-rag/pkg/logger"
)

func main() {
	cfg, err := config.Get()
	if err != nil {
		panic(err)
	}

	// init logger
	log, err := logger.NewLogger(
		logger.WithLevel(cfg.Log.Level),
		logger.WithEncoding(cfg.Log.Encoding),
		logger.WithOutputPaths(cfg.Log.OutputPaths),
		logger.WithErrorPaths(cfg.Log.ErrorPaths),
		logger.WithInitialFields(map[string]interface{}{"service": cfg.App.Name}),
	)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx := context.Background()
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize application", logger.Error(err))
	}
	defer a.Close()

	h := handlers.NewHandlers(handlers.Deps{
		Documents: a.Documents,
		Tasks:     a.Queue,
		Chat:      a.Chat,
		Config:    a.AdminConfig,
		Validator: validator.NewDocumentValidator(log, validator.DefaultConfig(cfg.MaxFileSize())),
		Checks: map[string]handlers.HealthCheck{
			"database": a.PingDB,
			"redis":    a.PingRedis,
		},
	}, log)

	gin.SetMode(cfg.App.GinMode)
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger(log), middleware.CORS(cfg.App.CORSOrigins))
	r.MaxMultipartMemory = cfg.MaxFileSize()
	auth := middleware.NewAuthMiddleware(cfg.Auth.JWTSecret, a.Users, log)
	routes.SetupRoutes(r, h, auth.RequireAuth())

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("Server starting", logger.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server error", logger.Error(err))
		}
	}()

	// wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", logger.Error(err))
	}
}

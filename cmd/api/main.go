package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/timmy/visitscribe/internal/api"
	"github.com/timmy/visitscribe/internal/api/handler"
	"github.com/timmy/visitscribe/internal/api/middleware"
	"github.com/timmy/visitscribe/internal/app"
	"github.com/timmy/visitscribe/internal/config"
	"github.com/timmy/visitscribe/internal/logger"
)

func main() {
	appLogger := logger.NewFromEnv(logger.LoadFromEnv("visitscribe-api"))
	logger.SetDefaultLogger(appLogger)
	defer logger.Sync()

	// Support CONFIG_PATH environment variable for production deployments
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}

	ctx := appLogger.WithContext(context.Background())
	ctx = logger.SetComponent(ctx, "api")

	a, err := app.Build(ctx, cfg)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize application")
	}
	defer a.Close()

	// Process-one requests run inline on the request goroutine.
	worker := a.NewWorker(app.Options{})

	router := api.SetupRouter(api.Handlers{
		Health:      handler.NewHealthHandler(a.Ping),
		Jobs:        handler.NewJobHandler(a.Jobs, worker),
		Notes:       handler.NewNoteHandler(a.Notes),
		Transcripts: handler.NewTranscriptHandler(a.TranscriptList),
		Admin:       handler.NewAdminHandler(a.Reconciler, a.Jobs),
	}, cfg.Server.Mode, middleware.CORSConfig{
		AllowedOrigins:  cfg.Server.CORS.AllowedOrigins,
		AllowAllOrigins: cfg.Server.CORS.AllowAllOrigins,
	}, appLogger)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		appLogger.WithFields(logger.Fields{
			"port":   cfg.Server.Port,
			"mode":   cfg.Server.Mode,
			"driver": cfg.Database.Driver,
		}).Info("Starting API server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.WithError(err).Fatal("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.WithError(err).Error("Server forced to shutdown")
	}

	appLogger.Info("Server exited")
}

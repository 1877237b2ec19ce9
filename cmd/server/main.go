package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lingoreach/exam-session-service/internal/ai"
	"github.com/lingoreach/exam-session-service/internal/cache"
	"github.com/lingoreach/exam-session-service/internal/config"
	"github.com/lingoreach/exam-session-service/internal/events"
	"github.com/lingoreach/exam-session-service/internal/handlers"
	postgresrepo "github.com/lingoreach/exam-session-service/internal/repositories/postgres"
	"github.com/lingoreach/exam-session-service/internal/services"
	"github.com/lingoreach/exam-session-service/internal/utils"
	"github.com/lingoreach/exam-session-service/internal/validator"
	"github.com/lingoreach/exam-session-service/pkg"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	var logger utils.Logger
	if cfg.Environment == "production" {
		logger = utils.NewDefaultLogger()
		gin.SetMode(gin.ReleaseMode)
	} else {
		logger = utils.NewDevelopmentLogger()
	}

	slogLogger := logger.(*utils.SlogLogger).GetSlogLogger()

	db, err := pkg.InitDatabase(cfg)
	if err != nil {
		logger.LogError(err, "Failed to initialize database")
		os.Exit(1)
	}

	redisClient, err := pkg.NewRedisClient(cfg)
	if err != nil {
		logger.LogError(err, "Failed to connect to Redis")
		os.Exit(1)
	}
	defer redisClient.Close()

	cacheService := cache.NewRedisCache(redisClient, slogLogger)
	repo := postgresrepo.NewRepository(db)

	ctx := context.Background()
	aiProvider, err := ai.NewGeminiProvider(ctx, slogLogger)
	if err != nil {
		logger.LogError(err, "Failed to create AI provider")
		os.Exit(1)
	}

	eventPublisher, err := cfg.Events.CreateEventPublisher(slogLogger)
	if err != nil {
		logger.LogError(err, "Failed to create event publisher, falling back to mock")
		eventPublisher = events.NewMockEventPublisher(slogLogger)
	}
	defer func() {
		if err := eventPublisher.Close(); err != nil {
			logger.LogError(err, "Failed to close event publisher")
		}
	}()

	v := validator.New()
	sessionService := services.NewSessionService(repo, cacheService, aiProvider, aiProvider, eventPublisher, slogLogger, v)
	exportService := services.NewExportService(repo, slogLogger)

	handlers.InitAuth(cfg)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(utils.LoggerMiddleware(logger))
	router.Use(utils.ContextLogger(logger))

	handlerManager := handlers.NewHandlerManager(sessionService, exportService, logger)
	handlerManager.SetupRoutes(router)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logger.Info("Starting server", "port", cfg.Port, "environment", cfg.Environment)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.LogError(err, "Server failed")
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.LogError(err, "Forced shutdown")
	}

	logger.Info("Server stopped")
}

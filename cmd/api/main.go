package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SergeiKhy/deeplink-service/internal/config"
	"github.com/SergeiKhy/deeplink-service/internal/handler"
	"github.com/SergeiKhy/deeplink-service/internal/middleware"
	"github.com/SergeiKhy/deeplink-service/internal/repository"
	"github.com/SergeiKhy/deeplink-service/internal/service"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	// Загрузка конфига
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Инициализация логгера
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	ctx := context.Background()

	// Хранилище выбирается конфигом
	storage, err := openStorage(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to open storage", zap.String("backend", cfg.Storage.Backend), zap.Error(err))
	}
	defer storage.Close()

	// Фоновая очистка нужна бэкендам без собственного TTL
	if purger, ok := storage.(repository.ExpiredPurger); ok {
		sweeper := service.NewExpirySweeper(purger, cfg.Storage.SweepInterval, logger)
		sweeper.Start()
		defer sweeper.Stop()
	}

	// Инициализация процессора кликов (Worker Pool)
	clickProcessor := service.NewClickProcessor(storage, logger)
	clickProcessor.Start()
	defer clickProcessor.Stop()

	// Инициализация сервисов
	deepLinkService := service.NewDeepLinkService(storage, clickProcessor, cfg.DeepLink.PendingLinkTTL, logger)
	referralService := service.NewReferralService(storage, logger)

	// Инициализация middleware
	rateLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		BurstSize:         cfg.RateLimit.BurstSize,
		CleanupInterval:   time.Minute,
	})
	defer rateLimiter.Stop()

	var apiKeyMiddleware gin.HandlerFunc
	apiKey := middleware.NewAPIKey(middleware.APIKeyConfig{ValidKeys: cfg.Auth.APIKeys, Logger: logger})
	if apiKey.Enabled() {
		apiKeyMiddleware = apiKey.Middleware()
		logger.Info("API key authentication enabled", zap.Int("keys_count", len(cfg.Auth.APIKeys)))
	} else {
		logger.Warn("API_KEYS not set, referral and stats endpoints are public")
	}

	// Настройка роутера
	router := handler.NewRouter(
		deepLinkService,
		referralService,
		clickProcessor,
		cfg.DeepLink,
		rateLimiter,
		apiKeyMiddleware,
		logger,
	)

	// Запуск сервера
	srv := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("Server starting",
			zap.String("port", cfg.App.Port),
			zap.String("base_url", cfg.App.BaseURL),
			zap.String("storage", cfg.Storage.Backend),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Graceful Shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited")
}

// openStorage подключает выбранный бэкенд. Close хранилища закрывает и подключение.
func openStorage(ctx context.Context, cfg *config.Config, logger *zap.Logger) (repository.Storage, error) {
	switch cfg.Storage.Backend {
	case config.BackendRedis:
		redis, err := repository.NewRedisClient(cfg.Redis)
		if err != nil {
			return nil, err
		}
		logger.Info("Connected to Redis")
		return repository.NewRedisStorage(redis), nil

	case config.BackendPostgres:
		db, err := repository.NewPostgresDB(cfg.DB)
		if err != nil {
			return nil, err
		}
		logger.Info("Connected to PostgreSQL")

		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
		return repository.NewPostgresStorage(db), nil

	case config.BackendMemory:
		logger.Warn("Using in-memory storage, pending links and referrals are lost on restart")
		return repository.NewMemoryStorage(), nil

	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

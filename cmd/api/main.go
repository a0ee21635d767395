package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"portfolio/internal/accounts"
	"portfolio/internal/api"
	"portfolio/internal/auth"
	"portfolio/internal/captcha"
	"portfolio/internal/config"
	"portfolio/internal/database"
	"portfolio/internal/events"
	"portfolio/internal/forum"
	"portfolio/internal/resume"
	"portfolio/internal/storage"
)

const (
	blacklistCacheSize = 4096
	blacklistCacheTTL  = 30 * time.Second
	shutdownTimeout    = 15 * time.Second
)

func main() {
	config.LoadDotEnv()
	cfg := config.MustLoad()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)
	logger.Info("api bootstrapping",
		slog.String("db_driver", cfg.Database.Driver),
		slog.String("db_host", cfg.Database.Host),
		slog.String("db_name", cfg.Database.Name),
	)

	db, err := database.InitDatabase(cfg.Database)
	if err != nil {
		log.Fatalf("init database: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		log.Fatalf("auto migrate: %v", err)
	}
	logger.Info("database migrated")

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr()})
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error("close redis client failed", slog.Any("error", err))
		}
	}()

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.Redis.Addr()})
	defer func() {
		if err := asynqClient.Close(); err != nil {
			logger.Error("close asynq client failed", slog.Any("error", err))
		}
	}()

	storageClient, err := storage.NewClient(cfg.MinIO, logger)
	if err != nil {
		log.Fatalf("init storage client: %v", err)
	}

	authService, err := auth.NewAuthServiceFromFiles(
		cfg.Auth.PrivateKeyPath,
		cfg.Auth.PublicKeyPath,
		cfg.Auth.AccessTokenTTL,
		cfg.Auth.RefreshTokenTTL,
	)
	if err != nil {
		log.Fatalf("init auth service: %v", err)
	}

	blacklist, err := accounts.NewBlacklist(db, blacklistCacheSize, blacklistCacheTTL)
	if err != nil {
		log.Fatalf("init blacklist: %v", err)
	}

	publisher := events.NewPublisher(cfg.RabbitMQ.URL, cfg.RabbitMQ.Queue, logger)
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Error("close event publisher failed", slog.Any("error", err))
		}
	}()

	router, err := api.NewRouter(cfg, api.Dependencies{
		DB:          db,
		AuthService: authService,
		Accounts:    accounts.NewService(db, cfg.Accounts.AllowedEmailDomains, cfg.Accounts.VerificationTTL),
		Blacklist:   blacklist,
		Forum:       forum.NewService(db, cfg.Forum.PageSize),
		Resumes:     resume.NewService(db),
		Redis:       redisClient,
		Queue:       asynqClient,
		Storage:     storageClient,
		Scanner:     api.NewClamdScanner(cfg.Clamd.Addr),
		Captcha:     captcha.New(cfg.Captcha.Secret, cfg.Captcha.VerifyURL, cfg.Captcha.MinScore),
		Events:      publisher,
		Logger:      logger,
	})
	if err != nil {
		log.Fatalf("build router: %v", err)
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.API.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("api listening", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api server stopped", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down api")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.Any("error", err))
	}
}

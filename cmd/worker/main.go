package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"portfolio/internal/config"
	"portfolio/internal/database"
	"portfolio/internal/events"
	"portfolio/internal/mail"
	"portfolio/internal/pdf"
	"portfolio/internal/resume"
	"portfolio/internal/storage"
	"portfolio/internal/worker"
)

func main() {
	config.LoadDotEnv()
	cfg := config.MustLoad()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	db, err := database.InitDatabase(cfg.Database)
	if err != nil {
		log.Fatalf("init database: %v", err)
	}
	logger.Info("database connection ready for worker")

	storageClient, err := storage.NewClient(cfg.MinIO, logger)
	if err != nil {
		log.Fatalf("init storage client: %v", err)
	}
	logger.Info("storage client ready", slog.String("bucket", cfg.MinIO.Bucket))

	redisAddr := cfg.Redis.Addr()
	redisClient := redis.NewClient(&redis.Options{Addr: redisAddr})
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error("close redis client failed", slog.Any("error", err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Fatalf("ping redis: %v", err)
	}

	sender := mail.NewSMTPSender(cfg.Mail, logger)
	pdfHandler := worker.NewPDFTaskHandler(db, resume.NewService(db), storageClient, redisClient, pdf.GeneratePDFFromHTML, logger)
	emailHandler := worker.NewEmailTaskHandler(db, sender, cfg.Accounts.SiteURL, cfg.Accounts.VerificationTTL, cfg.Accounts.PasswordResetTTL, logger)
	mux := worker.NewServeMux(pdfHandler, emailHandler)

	if cfg.RabbitMQ.URL != "" {
		activity := worker.NewActivityHandler(sender, cfg.Mail.AdminEmail, cfg.Accounts.SiteURL, logger)
		consumer := events.NewConsumer(cfg.RabbitMQ.URL, cfg.RabbitMQ.Queue, activity.Handle, logger)
		go func() {
			if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("event consumer stopped", slog.Any("error", err))
			}
		}()
	} else {
		logger.Info("rabbitmq not configured, activity events disabled")
	}

	server := asynq.NewServer(asynq.RedisClientOpt{Addr: redisAddr}, asynq.Config{
		Concurrency: cfg.Worker.Concurrency,
		Logger:      newAsynqLogger(logger),
	})

	logger.Info("worker service started",
		slog.String("redis_addr", redisAddr),
		slog.Int("concurrency", cfg.Worker.Concurrency),
	)
	if err := server.Run(mux); err != nil {
		logger.Error("worker server stopped", slog.Any("error", err))
	}
}

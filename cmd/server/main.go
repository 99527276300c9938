// Package main is the entrypoint for the Kepler API server and detection worker.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/sqs"
	"github.com/projectkepler/kepler/internal/api"
	"github.com/projectkepler/kepler/internal/api/handler"
	mw "github.com/projectkepler/kepler/internal/api/middleware"
	"github.com/projectkepler/kepler/internal/apikey"
	"github.com/projectkepler/kepler/internal/auth"
	"github.com/projectkepler/kepler/internal/cache"
	"github.com/projectkepler/kepler/internal/config"
	"github.com/projectkepler/kepler/internal/detection"
	"github.com/projectkepler/kepler/internal/detector"
	"github.com/projectkepler/kepler/internal/metrics"
	"github.com/projectkepler/kepler/internal/objectstore"
	"github.com/projectkepler/kepler/internal/profile"
	"github.com/projectkepler/kepler/internal/queue"
	"github.com/projectkepler/kepler/internal/store"
	"github.com/projectkepler/kepler/internal/upload"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

const (
	shutdownTimeout = 30 * time.Second
	sqsWaitTime     = 20 * time.Second
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config, failing fast on invalid values
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded",
		"env", cfg.Server.Env,
		"detector", cfg.Detector.Backend,
		"queue", cfg.Queue.Backend,
		"worker_enabled", cfg.Queue.WorkerEnabled,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database and apply migrations
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	if err := store.RunMigrations(cfg.Database.URL, cfg.Database.MigrationsDir); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	// 3. Redis: job cache, rate limits and (by default) the work queue
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 4. AWS: object storage and optionally SQS
	sess, err := session.NewSession(&aws.Config{Region: aws.String(cfg.Storage.Region)})
	if err != nil {
		return fmt.Errorf("create aws session: %w", err)
	}
	objects := objectstore.NewS3Store(newS3Client(sess, cfg.Storage), cfg.Storage.Bucket, cfg.Storage.Region, cfg.Storage.PublicBaseURL)

	workQueue, err := newQueue(ctx, cfg.Queue, redisCache.Client(), sess)
	if err != nil {
		return fmt.Errorf("create work queue: %w", err)
	}
	slog.Info("work queue ready", "backend", cfg.Queue.Backend)

	// 5. Detection backend
	det, err := detector.NewDetector(cfg.Detector)
	if err != nil {
		return fmt.Errorf("create detector: %w", err)
	}
	slog.Info("detector initialized", "backend", det.Name())

	verifier, err := auth.NewJWTVerifier(cfg.Auth)
	if err != nil {
		return fmt.Errorf("create token verifier: %w", err)
	}

	// 6. Services
	m := metrics.New()
	pgStore := store.NewPostgresStore(pool)
	jobs := detection.NewService(pgStore, redisCache, workQueue, det, objects, m, cfg.Detector.InferenceTimeout)
	keys := apikey.NewService(pgStore, m)
	uploads := upload.NewService(objects, cfg.Storage.MaxUploadBytes)
	profiles := profile.NewService(pgStore)

	// 7. Build router with dependencies
	authMW := mw.NewAuth(keys, verifier)
	deps := api.Dependencies{
		Auth:      authMW,
		RateLimit: mw.NewRateLimit(redisCache, cfg.RateLimit.RequestsPerMinute),
		Metrics:   m,

		HealthHandler: handler.NewHealthHandler(map[string]handler.Check{
			"database":  pgStore.Ping,
			"cache":     redisCache.Ping,
			"detection": det.Ready,
			"storage":   objects.Ping,
		}),

		SubmitJobHandler: handler.NewSubmitJobHandler(jobs),
		GetJobHandler:    handler.NewGetJobHandler(jobs),
		ListJobsHandler:  handler.NewListJobsHandler(jobs),
		PredictHandler:   handler.NewPredictHandler(jobs),

		UploadHandler:       handler.NewUploadHandler(uploads),
		DeleteUploadHandler: handler.NewDeleteUploadHandler(uploads),

		CreateKeyHandler: handler.NewCreateKeyHandler(keys),
		ListKeysHandler:  handler.NewListKeysHandler(keys),
		RevokeKeyHandler: handler.NewRevokeKeyHandler(keys),
		DeleteKeyHandler: handler.NewDeleteKeyHandler(keys),

		GetProfileHandler:        handler.NewGetProfileHandler(profiles),
		UpdateProfileHandler:     handler.NewUpdateProfileHandler(profiles),
		UsernameAvailableHandler: handler.NewUsernameAvailableHandler(profiles),
	}

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      api.NewRouter(deps),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// 8. Serve, consume and wait for shutdown
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	if cfg.Queue.WorkerEnabled {
		worker := detection.NewWorker(workQueue, jobs, cfg.Queue.WorkerConcurrency)
		g.Go(func() error {
			return worker.Run(gctx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutdown signal received, draining connections...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("server stopped gracefully")
	return nil
}

// newS3Client points S3 at a custom endpoint (MinIO, LocalStack) when one is
// configured; those need path-style addressing.
func newS3Client(sess *session.Session, cfg config.StorageConfig) *s3.S3 {
	if cfg.Endpoint == "" {
		return s3.New(sess)
	}
	return s3.New(sess, &aws.Config{
		Endpoint:         aws.String(cfg.Endpoint),
		S3ForcePathStyle: aws.Bool(true),
	})
}

func newQueue(ctx context.Context, cfg config.QueueConfig, client *redis.Client, sess *session.Session) (queue.Queue, error) {
	switch cfg.Backend {
	case "sqs":
		return queue.NewSQSQueue(sqs.New(sess), cfg.SQSQueueURL, cfg.VisibilityTimeout, sqsWaitTime, int64(cfg.BatchSize)), nil
	case "redis":
		return queue.NewRedisStreamQueue(ctx, client, queue.RedisStreamOptions{
			Stream:     cfg.Stream,
			Group:      cfg.Group,
			Consumer:   consumerName(),
			Visibility: cfg.VisibilityTimeout,
			Batch:      int64(cfg.BatchSize),
		})
	default:
		return nil, fmt.Errorf("unknown queue backend %q", cfg.Backend)
	}
}

// consumerName identifies this process within the Redis consumer group.
func consumerName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "kepler"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}

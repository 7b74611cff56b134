package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/JonMunkholm/product-importer/internal/config"
	"github.com/JonMunkholm/product-importer/internal/core"
	"github.com/JonMunkholm/product-importer/internal/database"
	"github.com/JonMunkholm/product-importer/internal/events"
	"github.com/JonMunkholm/product-importer/internal/importer"
	"github.com/JonMunkholm/product-importer/internal/logging"
	"github.com/JonMunkholm/product-importer/internal/progress"
	"github.com/JonMunkholm/product-importer/internal/queue"
	"github.com/JonMunkholm/product-importer/internal/web"
	"github.com/JonMunkholm/product-importer/internal/webhook"
)

// abortGrace is how long aborted tasks get to record their outcome.
const abortGrace = 15 * time.Second

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// A .env file is optional; real environment variables win.
	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("configuration loaded", "config", cfg.String())

	ctx := context.Background()

	pool, err := connectDatabase(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer pool.Close()

	if cfg.Database.AutoMigrate {
		if err := database.Migrate(ctx, pool); err != nil {
			return err
		}
		slog.Info("database schema applied")
	}
	repo := core.NewRepository(database.NewStore(pool))

	// Queue and progress channel: Redis when configured, in-process otherwise.
	var (
		q         queue.Queue
		pub       progress.Publisher
		stopQueue func()
	)
	bgCtx, cancelBackground := context.WithCancel(context.Background())
	defer cancelBackground()

	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return err
		}
		client := redis.NewClient(opts)
		defer client.Close()
		if err := client.Ping(ctx).Err(); err != nil {
			return err
		}

		rq := queue.NewRedisQueue(client, cfg.Redis.QueuePrefix, cfg.Redis.PollTimeout)
		go rq.RunPromoter(bgCtx, cfg.Redis.PromoteInterval, queue.CSVImport, queue.Webhooks)
		q, pub, stopQueue = rq, progress.NewRedisPublisher(client, cfg.Import.ProgressTTL), func() {}
		slog.Info("using redis queue and progress", "prefix", cfg.Redis.QueuePrefix)
	} else {
		mq := queue.NewMemoryQueue()
		q, pub, stopQueue = mq, progress.NewMemoryPublisher(cfg.Import.ProgressTTL), func() { mq.Close() }
		slog.Warn("REDIS_URL not set, using in-process queue; queued tasks do not survive a restart")
	}

	// Events: webhook fan-out plus an optional Kafka mirror.
	fanOut := webhook.NewFanOut(repo, q, cfg.Webhook.MaxAttempts)
	var bus *events.Bus
	if len(cfg.Kafka.Brokers) > 0 {
		producer, err := events.NewKafkaProducer(cfg.Kafka.Brokers)
		if err != nil {
			return err
		}
		mirror := events.NewKafkaMirror(producer, cfg.Kafka.Topic)
		defer mirror.Close()
		bus = events.NewBus(fanOut, mirror)
		slog.Info("kafka event mirror enabled", "topic", cfg.Kafka.Topic)
	} else {
		bus = events.NewBus(fanOut, nil)
	}

	dispatcher := webhook.NewDispatcher(repo, cfg.Webhook.Timeout,
		webhook.WithRetryBaseDelay(cfg.Webhook.RetryBaseDelay))

	orchestrator := importer.NewOrchestrator(
		repo,
		importer.NewEngine(repo, cfg.Import.ChunkSize),
		pub,
		bus,
		importer.Config{
			ChunkSize:        cfg.Import.ChunkSize,
			ProgressInterval: cfg.Import.ProgressInterval,
			MaxErrorSamples:  cfg.Import.MaxErrorSamples,
		},
	)

	// One import at a time per process; webhooks get their own pool.
	importWorker := queue.NewWorker(q, queue.CSVImport, 1)
	importWorker.Handle(importer.TaskKind, orchestrator.HandleTask)

	webhookWorker := queue.NewWorker(q, queue.Webhooks, cfg.Webhook.Workers)
	webhookWorker.SetRetryDelay(cfg.Webhook.RetryBaseDelay)
	webhookWorker.Handle(webhook.DeliveryKind, dispatcher.HandleDeliveryTask)
	webhookWorker.Handle(webhook.FanOutKind, fanOut.HandleFanOutTask)

	service, err := core.NewService(core.Deps{
		Store:    repo,
		Queue:    q,
		Progress: pub,
		Events:   bus,
		Tester:   dispatcher,
		Limiter:  core.NewUploadLimiter(cfg.Upload.MaxConcurrent, cfg.Upload.MaxWaitTime),
	}, core.ServiceConfig{
		UploadDir:          cfg.Upload.Dir,
		MaxFileSize:        cfg.Upload.MaxFileSize,
		ImportMaxAttempts:  cfg.Import.MaxAttempts,
		StreamPollInterval: cfg.Import.StreamPollInterval,
		StreamMaxDuration:  cfg.Import.StreamMaxDuration,
	})
	if err != nil {
		return err
	}

	importWorker.Start(bgCtx)
	webhookWorker.Start(bgCtx)
	if cfg.Sweeper.Enabled {
		go service.StartUploadSweeper(bgCtx, core.SweeperConfig{
			Interval: cfg.Sweeper.Interval,
			MaxAge:   cfg.Sweeper.MaxAge,
		})
	}

	server := web.NewServer(service, cfg)
	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start(cfg.Server.Addr())
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutting down", "signal", sig.String())
	case err := <-serverErr:
		if !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if active := service.Limiter().ActiveCount(); active > 0 {
		slog.Info("waiting for uploads to complete", "active", active)
		if err := service.Limiter().WaitForDrain(shutdownCtx); err != nil {
			slog.Warn("uploads did not complete in time", "error", err)
		}
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}

	// Workers finish the task in hand, then stop taking new ones.
	cancelBackground()
	done := make(chan struct{})
	go func() {
		importWorker.Wait()
		webhookWorker.Wait()
		close(done)
	}()
	select {
	case <-done:
		slog.Info("workers stopped")
	case <-shutdownCtx.Done():
		// Cancel running tasks so an import records itself as failed and
		// removes its file instead of being cut off by the exit.
		slog.Warn("workers still busy at shutdown deadline, aborting running tasks")
		importWorker.Abort()
		webhookWorker.Abort()
		select {
		case <-done:
			slog.Info("workers stopped after abort")
		case <-time.After(abortGrace):
			slog.Error("workers did not stop after abort", "grace", abortGrace.String())
		}
	}
	stopQueue()
	return nil
}

func connectDatabase(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, err
	}
	poolConfig.MaxConns = int32(cfg.MaxConns)
	poolConfig.MinConns = int32(cfg.MinConns)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	if u, err := url.Parse(cfg.URL); err == nil {
		slog.Info("connected to database", "name", strings.TrimPrefix(u.Path, "/"))
	}
	return pool, nil
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/cuongbtq/media-queue/internal/config"
	"github.com/cuongbtq/media-queue/internal/executor"
	"github.com/cuongbtq/media-queue/internal/queue"
	"github.com/cuongbtq/media-queue/internal/reporter"
	"github.com/cuongbtq/media-queue/internal/sweeper"
	"github.com/cuongbtq/media-queue/internal/worker"
	"github.com/cuongbtq/media-queue/shared/logger"
	"github.com/cuongbtq/media-queue/shared/postgresql"
	"github.com/cuongbtq/media-queue/shared/rabbitmq"
	"github.com/cuongbtq/media-queue/shared/redis"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := initLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	// The worker cannot do anything without its broker
	broker, err := initRedis(&cfg.Redis, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize redis: %w", err)
	}

	jobQueue := queue.New(&queue.Config{
		Broker: broker,
		Prefix: cfg.Queue.Prefix,
	})

	statusReporter, closeReporters, err := initReporters(cfg, appLogger.Logger)
	if err != nil {
		broker.Close()
		return err
	}

	backoff, err := worker.NewBackoff(cfg.Retry.Strategy, cfg.Retry.Unit, cfg.Retry.MaxDelay)
	if err != nil {
		closeReporters()
		broker.Close()
		return fmt.Errorf("invalid retry config: %w", err)
	}

	workerInstance := worker.NewWorker(&worker.Config{
		Logger:            appLogger.Logger,
		Queue:             jobQueue,
		Reporter:          statusReporter,
		JobTypes:          cfg.Queue.JobTypes,
		Concurrency:       cfg.Worker.Concurrency,
		PollInterval:      cfg.Worker.PollInterval,
		ErrorBackoff:      cfg.Worker.ErrorBackoff,
		JobTimeout:        cfg.Worker.JobTimeout,
		HeartbeatInterval: cfg.Worker.HeartbeatInterval,
		Backoff:           backoff,
	})

	jobExecutor := executor.New(&executor.Config{
		Endpoints: cfg.Worker.Endpoints,
		APIKey:    cfg.Worker.APIKey,
	}, appLogger.Logger)
	for _, jobType := range jobExecutor.JobTypes() {
		workerInstance.Register(jobType, jobExecutor.Execute)
	}

	var sw *sweeper.Sweeper
	if cfg.Sweeper.Enabled {
		sw, err = sweeper.New(&sweeper.Config{
			Logger:     appLogger.Logger,
			Queue:      jobQueue,
			JobTypes:   cfg.Queue.JobTypes,
			Schedule:   cfg.Sweeper.Schedule,
			StaleAfter: cfg.Sweeper.StaleAfter,
			BatchSize:  cfg.Sweeper.BatchSize,
		})
		if err != nil {
			closeReporters()
			broker.Close()
			return fmt.Errorf("failed to initialize sweeper: %w", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return workerInstance.Start(gctx)
	})
	if sw != nil {
		g.Go(func() error {
			return sw.Run(gctx)
		})
	}

	appLogger.Info("Worker service started successfully")

	done := make(chan error, 1)
	go func() {
		done <- g.Wait()
	}()

	var runErr error
	select {
	case runErr = <-done:
		if runErr != nil {
			appLogger.Error("Worker error", slog.Any("error", runErr))
		}
	case <-ctx.Done():
		appLogger.Info("Received signal, shutting down gracefully")
		stop()

		select {
		case runErr = <-done:
			appLogger.Info("Worker stopped gracefully")
		case <-time.After(cfg.Worker.ShutdownTimeout):
			appLogger.Warn("Worker shutdown timeout exceeded, forcing exit",
				slog.Duration("timeout", cfg.Worker.ShutdownTimeout),
			)
		}
	}

	closeReporters()
	if err := broker.Close(); err != nil {
		runErr = errors.Join(runErr, err)
	}

	appLogger.Info("Worker service shutdown complete")
	return runErr
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.Config) (*logger.Logger, error) {
	return logger.New(&logger.Config{
		Level:        cfg.Logging.Level,
		Format:       cfg.Logging.Format,
		Output:       cfg.Logging.Output,
		EnableSource: cfg.Logging.EnableCaller,
		TimeFormat:   cfg.Logging.TimeFormat,
		NoColor:      cfg.App.Environment == "production",
	})
}

// initRedis connects to the broker and fails fast when it is down
func initRedis(cfg *config.RedisConfig, logger *slog.Logger) (*redis.Client, error) {
	return redis.NewClient(&redis.Config{
		URL:         cfg.URL,
		PingTimeout: cfg.PingTimeout,
		PopStep:     cfg.PopStep,
	}, logger)
}

// initReporters builds every configured status sink. The returned func
// closes the connections the sinks hold.
func initReporters(cfg *config.Config, logger *slog.Logger) (reporter.Reporter, func(), error) {
	var (
		sinks   reporter.Multi
		closers []func() error
	)
	closeAll := func() {
		for _, c := range closers {
			if err := c(); err != nil {
				logger.Error("Failed to close reporter connection", slog.Any("error", err))
			}
		}
	}

	if cfg.Reporter.HTTP.Enabled {
		sinks = append(sinks, reporter.NewHTTPReporter(&reporter.HTTPConfig{
			BaseURL:   cfg.Reporter.HTTP.BaseURL,
			APIKey:    cfg.Reporter.HTTP.APIKey,
			Timeout:   cfg.Reporter.HTTP.Timeout,
			RateLimit: cfg.Reporter.HTTP.RateLimit,
		}, logger))
	}

	if cfg.Database.Enabled() {
		dbClient, err := initPostgreSQL(&cfg.Database, logger)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		closers = append(closers, dbClient.Close)
		sinks = append(sinks, reporter.NewStorageReporter(dbClient.GetDB(), logger))
	}

	if cfg.RabbitMQ.Enabled() {
		rabbitClient, err := initRabbitMQ(&cfg.RabbitMQ, logger)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("failed to initialize RabbitMQ: %w", err)
		}
		closers = append(closers, rabbitClient.Close)
		sinks = append(sinks, reporter.NewEventReporter(rabbitClient))
	}

	logger.Info("Status reporters configured", slog.Int("sinks", len(sinks)))

	switch len(sinks) {
	case 0:
		return nil, closeAll, nil
	case 1:
		return sinks[0], closeAll, nil
	default:
		return sinks, closeAll, nil
	}
}

// initPostgreSQL initializes the PostgreSQL database client
func initPostgreSQL(cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	return postgresql.NewClient(&postgresql.Config{
		URL:             cfg.URL,
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}, logger)
}

// initRabbitMQ initializes the RabbitMQ status event publisher
func initRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	return rabbitmq.NewClient(&rabbitmq.Config{
		URL:                cfg.URL,
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		RoutingKey:         cfg.RoutingKey,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}, logger)
}

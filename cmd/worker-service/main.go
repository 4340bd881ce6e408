package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/cuongbtq/product-video/internal/billing"
	"github.com/cuongbtq/product-video/internal/config"
	"github.com/cuongbtq/product-video/internal/dispatch"
	"github.com/cuongbtq/product-video/internal/events"
	"github.com/cuongbtq/product-video/internal/generation"
	"github.com/cuongbtq/product-video/internal/playback"
	"github.com/cuongbtq/product-video/internal/processor"
	"github.com/cuongbtq/product-video/internal/storage"
	"github.com/cuongbtq/product-video/internal/worker"
	"github.com/cuongbtq/product-video/shared/logger"
	"github.com/cuongbtq/product-video/shared/postgresql"
	"github.com/cuongbtq/product-video/shared/rabbitmq"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
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

	hostname, _ := os.Hostname()
	workerID := fmt.Sprintf("%s-%s", hostname, uuid.NewString()[:8])
	workerLogger := appLogger.WithAttrs(slog.String("worker_id", workerID))

	workerLogger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dbClient, err := initPostgreSQL(ctx, &cfg.Database, workerLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	rabbitClient, err := initRabbitMQ(&cfg.RabbitMQ, workerLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	defer rabbitClient.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	promSink, err := events.NewPrometheusSink(registry, cfg.App.Name)
	if err != nil {
		return fmt.Errorf("failed to register job metrics: %w", err)
	}
	sink := events.Multi{events.NewLogSink(workerLogger.Logger), promSink}

	generator, err := initGenerator(&cfg.Generation, workerLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize generation client: %w", err)
	}

	presignClient, err := playback.NewPresignClient(ctx, playback.ClientConfig{
		Region:          cfg.Storage.Region,
		Endpoint:        cfg.Storage.Endpoint,
		AccessKeyID:     cfg.Storage.AccessKeyID,
		SecretAccessKey: cfg.Storage.SecretAccessKey,
		UsePathStyle:    cfg.Storage.UsePathStyle,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize storage client: %w", err)
	}
	resolver := playback.NewS3Resolver(playback.S3Config{
		Presigner: playback.SDKPresigner{Client: presignClient},
		Expiry:    cfg.Storage.URLExpiry,
		Logger:    workerLogger.Logger,
	})

	store := storage.NewStorage(dbClient.GetDB(), workerLogger.Logger)
	publisher := dispatch.NewRabbitPublisher(rabbitClient, dispatch.RetryPolicy{
		MaxAttempts: cfg.RabbitMQ.Retry.MaxAttempts,
		BaseDelay:   cfg.RabbitMQ.Retry.BaseDelay,
	}, workerLogger.Logger)
	workerLogger.Info("Delivery retry policy",
		slog.Int("max_attempts", publisher.Policy().MaxAttempts),
		slog.Duration("base_delay", publisher.Policy().BaseDelay),
	)

	proc, err := processor.New(processor.Dependencies{
		Store:     store,
		Generator: generator,
		Resolver:  resolver,
		Sink:      sink,
		Logger:    workerLogger.Logger,
	}, processor.Config{
		WorkerID:         workerID,
		PollInterval:     cfg.Worker.PollInterval,
		MaxPollAttempts:  cfg.Worker.MaxPollAttempts,
		LeaseDuration:    cfg.Worker.LeaseDuration,
		ProgressLogEvery: cfg.Worker.ProgressLogEvery,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize processor: %w", err)
	}

	reconciler := worker.NewReconciler(store, publisher, sink, worker.ReconcilerConfig{
		Interval:        cfg.Worker.ReconcileInterval,
		LeaseDuration:   cfg.Worker.LeaseDuration,
		MaxPollAttempts: proc.MaxPollAttempts(),
		MaxDeliveries:   cfg.Worker.MaxDeliveries,
		BatchSize:       cfg.Worker.ReconcileBatch,
	}, workerLogger.Logger)

	workerCfg := &worker.Config{
		Logger:        workerLogger.Logger,
		Consumer:      rabbitClient,
		Processor:     proc,
		Retrier:       publisher,
		Reconciler:    reconciler,
		WorkerID:      workerID,
		QueueName:     cfg.RabbitMQ.Queue.Name,
		Concurrency:   cfg.Worker.Concurrency,
		PrefetchCount: cfg.RabbitMQ.Consumer.PrefetchCount,
	}

	if cfg.Billing.ResetInterval > 0 {
		workerCfg.Sweeper = initBilling(cfg, store, workerLogger.Logger)
		workerCfg.SweepInterval = cfg.Billing.ResetInterval
	}

	workerInstance := worker.NewWorker(workerCfg)

	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		metricsServer = startMetricsServer(cfg, registry, dbClient, workerLogger.Logger)
	}

	errChan := make(chan error, 1)
	go func() {
		if err := workerInstance.Start(ctx); err != nil {
			errChan <- err
		}
	}()

	workerLogger.Info("Worker service started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-quit:
		workerLogger.Info("Received signal, shutting down gracefully",
			slog.String("signal", sig.String()),
		)
	case err := <-errChan:
		workerLogger.Error("Worker error",
			slog.Any("error", err),
		)
		runErr = err
	}

	// In-flight jobs stay processing and are resumed from their checkpoint
	// by whichever worker reclaims them.
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		workerInstance.Stop()
		close(done)
	}()

	select {
	case <-done:
		workerLogger.Info("Worker stopped gracefully")
	case <-shutdownCtx.Done():
		workerLogger.Warn("Worker shutdown timeout exceeded, forcing exit")
	}

	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			workerLogger.Warn("Metrics server shutdown failed", slog.Any("error", err))
		}
	}

	workerLogger.Info("Worker service shutdown complete")
	return runErr
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.Config) (*logger.Logger, error) {
	return logger.New(&logger.Config{
		Level:        cfg.Logging.Level,
		Format:       cfg.Logging.Format,
		Output:       cfg.Logging.Output,
		EnableSource: cfg.Logging.EnableCaller,
		TimeFormat:   time.RFC3339,
		NoColor:      cfg.Logging.NoColor,
		Service:      cfg.App.Name,
	})
}

// initPostgreSQL initializes the PostgreSQL database client
func initPostgreSQL(ctx context.Context, cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	return postgresql.NewClient(ctx, &postgresql.Config{
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
		ConnectTimeout:  cfg.ConnectTimeout,
	}, logger)
}

// initRabbitMQ initializes the RabbitMQ client
func initRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	return rabbitmq.NewClient(&rabbitmq.Config{
		Host:                cfg.Host,
		Port:                cfg.Port,
		User:                cfg.User,
		Password:            cfg.Password,
		VHost:               cfg.VHost,
		ExchangeName:        cfg.Exchange.Name,
		ExchangeType:        cfg.Exchange.Type,
		ExchangeDurable:     cfg.Exchange.Durable,
		ExchangeAutoDelete:  cfg.Exchange.AutoDelete,
		QueueName:           cfg.Queue.Name,
		QueueDurable:        cfg.Queue.Durable,
		QueueAutoDelete:     cfg.Queue.AutoDelete,
		QueueExclusive:      cfg.Queue.Exclusive,
		RoutingKey:          cfg.RoutingKey,
		RetryQueueName:      cfg.Retry.QueueName,
		DeadLetterQueueName: cfg.DeadLetter.QueueName,
		RetryAttempts:       cfg.Connection.RetryAttempts,
		RetryInterval:       cfg.Connection.RetryInterval,
		Heartbeat:           cfg.Connection.Heartbeat,
		ConnectionTimeout:   cfg.Connection.ConnectionTimeout,
		PublishRetries:      cfg.Publish.RetryAttempts,
		PublishRetryDelay:   cfg.Publish.RetryInterval,
		PublishBackoffMult:  cfg.Publish.BackoffMultiplier,
	}, logger)
}

// initGenerator initializes the video generation client
func initGenerator(cfg *config.GenerationConfig, logger *slog.Logger) (*generation.VeoClient, error) {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	var tokens generation.TokenSource
	if cfg.AccessToken != "" {
		logger.Warn("Using static generation access token, it will not be refreshed")
		tokens = generation.StaticTokens(cfg.AccessToken)
	} else {
		adc, err := generation.DefaultCredentials(context.Background())
		if err != nil {
			return nil, err
		}
		tokens = adc
	}

	return generation.NewVeoClient(generation.VeoConfig{
		Project:    cfg.Project,
		Location:   cfg.Location,
		Model:      cfg.Model,
		BaseURL:    cfg.BaseURL,
		OutputURI:  cfg.OutputURI,
		Tokens:     tokens,
		HTTPClient: &http.Client{Timeout: timeout},
		Logger:     logger,
	})
}

// initBilling wires the periodic billing sweep. Without redis the sweep
// runs unguarded, so only one worker should enable it.
func initBilling(cfg *config.Config, store *storage.Storage, logger *slog.Logger) *billing.Service {
	var locker billing.Locker
	if cfg.Redis.Addr != "" {
		locker = billing.NewRedisLocker(redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}))
	}
	return billing.NewService(store, locker, billing.Config{
		PeriodDays: cfg.Billing.PeriodDays,
		LockKey:    cfg.Billing.LockKey,
		LockTTL:    cfg.Billing.LockTTL,
	}, logger)
}

// startMetricsServer exposes /metrics and /health for the worker
func startMetricsServer(cfg *config.Config, registry *prometheus.Registry, dbClient *postgresql.Client, logger *slog.Logger) *http.Server {
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})))
	r.GET("/health", func(c *gin.Context) {
		if err := dbClient.HealthCheck(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "service": cfg.App.Name})
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", slog.Any("error", err))
		}
	}()

	logger.Info("Metrics server listening", slog.Int("port", cfg.Metrics.Port))
	return srv
}

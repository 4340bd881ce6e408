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
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/cuongbtq/product-video/internal/api/handler"
	"github.com/cuongbtq/product-video/internal/api/router"
	"github.com/cuongbtq/product-video/internal/billing"
	"github.com/cuongbtq/product-video/internal/config"
	"github.com/cuongbtq/product-video/internal/dispatch"
	"github.com/cuongbtq/product-video/internal/events"
	"github.com/cuongbtq/product-video/internal/migration"
	"github.com/cuongbtq/product-video/internal/storage"
	"github.com/cuongbtq/product-video/internal/submission"
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

	defaultConfigPath := os.Getenv("API_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/api-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateAPIConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	appLogger, err := initLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting API service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	ctx := context.Background()

	dbClient, err := initPostgreSQL(ctx, &cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	if cfg.Database.RunMigrations {
		if err := migration.RunMigrations(dbClient.GetDB().DB); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		appLogger.Info("Database migrations applied")
	}

	rabbitClient, err := initRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	defer rabbitClient.Close()

	var locker billing.Locker
	if cfg.Redis.Addr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		locker = billing.NewRedisLocker(redisClient)
	} else {
		appLogger.Warn("Redis not configured, billing sweeps run without a lock")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	promSink, err := events.NewPrometheusSink(registry, cfg.App.Name)
	if err != nil {
		return fmt.Errorf("failed to register job metrics: %w", err)
	}
	sink := events.Multi{events.NewLogSink(appLogger.Logger), promSink}

	metricsMiddleware, err := router.MetricsMiddleware(registry, cfg.App.Name)
	if err != nil {
		return fmt.Errorf("failed to register http metrics: %w", err)
	}

	store := storage.NewStorage(dbClient.GetDB(), appLogger.Logger)
	publisher := dispatch.NewRabbitPublisher(rabbitClient, dispatch.RetryPolicy{
		MaxAttempts: cfg.RabbitMQ.Retry.MaxAttempts,
		BaseDelay:   cfg.RabbitMQ.Retry.BaseDelay,
	}, appLogger.Logger)

	deps := &handler.Dependencies{
		Logger:      appLogger.Logger,
		Jobs:        submission.NewService(store, publisher, sink, appLogger.Logger),
		Accounts:    initBilling(cfg, store, locker, appLogger.Logger),
		Deliveries:  publisher,
		Metrics:     promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}),
		ServiceName: cfg.App.Name,
		Ready: func(ctx context.Context) error {
			if !rabbitClient.IsConnected() {
				return errors.New("rabbitmq connection lost")
			}
			return dbClient.HealthCheck(ctx)
		},
		CronSecret: cfg.Billing.CronSecret,
	}

	if cfg.Delivery.SkipVerification {
		appLogger.Warn("Delivery signature verification disabled")
		deps.SkipSignatureVerification = true
	} else {
		verifier, err := dispatch.NewVerifier(cfg.Delivery.CurrentSigningKey, cfg.Delivery.NextSigningKey, cfg.Delivery.Issuer)
		if err != nil {
			return fmt.Errorf("failed to initialize delivery verifier: %w", err)
		}
		deps.Verifier = verifier
	}

	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := router.SetupRouter(deps, metricsMiddleware)

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errChan := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	appLogger.Info("API service is running",
		slog.String("address", addr),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Shutting down server...", slog.String("signal", sig.String()))
	case err := <-errChan:
		return fmt.Errorf("server failed: %w", err)
	}

	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("Server forced to shutdown",
			slog.Any("error", err),
		)
		return err
	}

	appLogger.Info("Server shutdown complete")
	return nil
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

// initBilling wires the account service
func initBilling(cfg *config.Config, store *storage.Storage, locker billing.Locker, logger *slog.Logger) *billing.Service {
	return billing.NewService(store, locker, billing.Config{
		PeriodDays: cfg.Billing.PeriodDays,
		LockKey:    cfg.Billing.LockKey,
		LockTTL:    cfg.Billing.LockTTL,
	}, logger)
}

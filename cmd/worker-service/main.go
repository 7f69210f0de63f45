package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/occamlabs/docgateway/internal/config"
	"github.com/occamlabs/docgateway/internal/connector"
	"github.com/occamlabs/docgateway/internal/job"
	"github.com/occamlabs/docgateway/internal/orchestrator"
	"github.com/occamlabs/docgateway/internal/queue"
	"github.com/occamlabs/docgateway/internal/result"
	"github.com/occamlabs/docgateway/internal/stage"
	"github.com/occamlabs/docgateway/internal/store"
	"github.com/occamlabs/docgateway/internal/worker"
	"github.com/occamlabs/docgateway/shared/logger"
	"github.com/occamlabs/docgateway/shared/postgresql"
	"github.com/occamlabs/docgateway/shared/rabbitmq"
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

	// Parse command-line flags
	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appLogger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	// Initialize PostgreSQL client
	dbClient, err := initPostgreSQL(&cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	appLogger.Info("Database connection established")

	// Initialize RabbitMQ client
	rabbitClient, err := initRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}

	appLogger.Info("RabbitMQ connection established")

	// Initialize Redis artifact store
	artifacts, err := result.NewRedis(&result.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		TTL:      cfg.Redis.ArtifactTTL,
	}, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize redis: %w", err)
	}

	appLogger.Info("Redis connection established")

	jobStore := store.NewPostgres(dbClient, appLogger.Logger)
	transport := queue.NewRabbitMQ(rabbitClient, appLogger.Logger)

	orch, err := orchestrator.New(&orchestrator.Config{
		Store:     jobStore,
		Results:   artifacts,
		Transport: transport,
		Logger:    appLogger.Logger,
		Policies:  stagePolicies(&cfg.Pipeline),
	})
	if err != nil {
		return fmt.Errorf("failed to initialize orchestrator: %w", err)
	}

	processors, err := buildProcessors(&cfg.Connectors)
	if err != nil {
		return fmt.Errorf("failed to build stage processors: %w", err)
	}

	// Create worker instance
	workerInstance := worker.NewWorker(&worker.Config{
		Logger:       appLogger.Logger,
		Transport:    transport,
		Orchestrator: orch,
		Results:      artifacts,
		Processors:   processors,
		Lanes:        laneConfigs(&cfg.Pipeline),
	})

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start worker in a goroutine
	errChan := make(chan error, 1)
	go func() {
		if err := workerInstance.Start(ctx); err != nil {
			errChan <- err
		}
	}()

	appLogger.Info("Worker service started successfully")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down gracefully",
			slog.String("signal", sig.String()),
		)
	case err := <-errChan:
		appLogger.Error("Worker error",
			slog.Any("error", err),
		)
		return err
	}

	// Cancel context to stop worker
	cancel()

	// Give worker time to shutdown gracefully
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout)
	defer shutdownCancel()

	// Stop worker
	done := make(chan struct{})
	go func() {
		workerInstance.Stop()
		close(done)
	}()

	select {
	case <-done:
		appLogger.Info("Worker stopped gracefully")
	case <-shutdownCtx.Done():
		appLogger.Warn("Worker shutdown timeout exceeded, forcing exit")
	}

	// Cleanup function to close all resources
	cleanup := func() {
		if dbClient != nil {
			dbClient.Close()
		}
		if rabbitClient != nil {
			rabbitClient.Close()
		}
		if artifacts != nil {
			artifacts.Close()
		}
	}
	cleanup()

	appLogger.Info("Worker service shutdown complete")
	return nil
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
	}

	return logger.New(loggerCfg)
}

// initPostgreSQL initializes the PostgreSQL database client
func initPostgreSQL(cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	dbConfig := &postgresql.Config{
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
	}

	return postgresql.NewClient(dbConfig, logger)
}

// initRabbitMQ initializes the RabbitMQ client with one queue per lane
func initRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	lanes := make(map[string]rabbitmq.LaneConfig, len(cfg.Lanes))
	for lane, lc := range cfg.Lanes {
		lanes[lane] = rabbitmq.LaneConfig{
			Queue:      lc.Queue,
			RoutingKey: lc.RoutingKey,
		}
	}

	rabbitConfig := &rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		Lanes:              lanes,
		QueueDurable:       cfg.Queue.Durable,
		QueueAutoDelete:    cfg.Queue.AutoDelete,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
		PrefetchCount:      cfg.Consumer.PrefetchCount,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
	}

	return rabbitmq.NewClient(rabbitConfig, logger)
}

// stagePolicies maps the pipeline config onto orchestration policies
func stagePolicies(cfg *config.PipelineConfig) map[job.Stage]orchestrator.StagePolicy {
	policies := make(map[job.Stage]orchestrator.StagePolicy, len(cfg.Stages))
	for lane, sc := range cfg.Stages {
		s, err := orchestrator.StageFor(lane)
		if err != nil {
			continue
		}
		policies[s] = orchestrator.StagePolicy{
			MaxRetries:  sc.MaxRetries,
			BackoffBase: sc.BackoffBase,
			BackoffMax:  sc.BackoffMax,
			Timeout:     sc.Timeout,
		}
	}
	return policies
}

// laneConfigs sizes one executor pool per configured stage
func laneConfigs(cfg *config.PipelineConfig) []worker.LaneConfig {
	lanes := make([]worker.LaneConfig, 0, len(cfg.Stages))
	for lane, sc := range cfg.Stages {
		lanes = append(lanes, worker.LaneConfig{
			Lane:        lane,
			Concurrency: sc.Concurrency,
		})
	}
	return lanes
}

// buildProcessors wires the stage registry from the connector config
func buildProcessors(cfg *config.ConnectorsConfig) (stage.Registry, error) {
	var ocr stage.Processor
	if cfg.OCR.Local {
		local, err := connector.NewLocalOCR(cfg.OCR.Languages)
		if err != nil {
			return nil, err
		}
		ocr = local
	} else {
		ocr = connector.NewOCRConnector(&connector.OCRConfig{
			BaseURL: cfg.OCR.URL,
			Engine:  cfg.OCR.Engine,
			Timeout: cfg.OCR.Timeout,
		})
	}

	translation := connector.NewTranslationConnector(&connector.TranslationConfig{
		BaseURL:    cfg.Translation.URL,
		SourceLang: cfg.Translation.SourceLang,
		TargetLang: cfg.Translation.TargetLang,
		Timeout:    cfg.Translation.Timeout,
	})

	return stage.Registry{
		job.StageOCR:         ocr,
		job.StageTranslation: translation,
	}, nil
}

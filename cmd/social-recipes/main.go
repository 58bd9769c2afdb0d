package main

import (
	"context"
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

	"github.com/opickel/social-recipes/internal/api/handler"
	"github.com/opickel/social-recipes/internal/api/router"
	"github.com/opickel/social-recipes/internal/config"
	"github.com/opickel/social-recipes/internal/events"
	"github.com/opickel/social-recipes/internal/export"
	"github.com/opickel/social-recipes/internal/llm"
	"github.com/opickel/social-recipes/internal/manager"
	"github.com/opickel/social-recipes/internal/media"
	"github.com/opickel/social-recipes/internal/pipeline"
	"github.com/opickel/social-recipes/internal/progress"
	"github.com/opickel/social-recipes/internal/store"
	"github.com/opickel/social-recipes/internal/transcribe"
	"github.com/opickel/social-recipes/internal/vision"
	"github.com/opickel/social-recipes/shared/logger"
	"github.com/opickel/social-recipes/shared/postgresql"
	"github.com/opickel/social-recipes/shared/rabbitmq"
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
	defaultConfigPath := os.Getenv("SOCIAL_RECIPES_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	appLogger.Info("Starting social-recipes",
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

	jobStore := store.New(dbClient, appLogger.Logger)

	schemaCtx, cancelSchema := context.WithTimeout(context.Background(), 30*time.Second)
	err = jobStore.InitSchema(schemaCtx)
	cancelSchema()
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	// Initialize the optional RabbitMQ lifecycle event feed
	publisher, rabbitClient, err := initEvents(&cfg.Events, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize event feed: %w", err)
	}
	if rabbitClient != nil {
		appLogger.Info("RabbitMQ connection established")
	}

	// Build the extraction pipeline
	pipe, exporters, err := initPipeline(cfg, appLogger.Logger)
	if err != nil {
		return err
	}

	hub := progress.NewHub(appLogger.Logger)
	jobManager := manager.New(jobStore, pipe, hub, publisher, manager.Config{
		MaxConcurrent:  cfg.Jobs.MaxConcurrent,
		ConfirmTimeout: cfg.Jobs.ConfirmTimeout,
	}, appLogger.Logger)
	pipe.SetGate(jobManager)

	// Settle jobs left behind by an unclean shutdown
	restoreCtx, cancelRestore := context.WithTimeout(context.Background(), 30*time.Second)
	err = jobManager.Restore(restoreCtx)
	cancelRestore()
	if err != nil {
		return fmt.Errorf("failed startup recovery: %w", err)
	}

	// Initialize router
	r := initRouter(cfg, appLogger.Logger, jobManager, jobStore, dbClient, hub, exporters)

	// Create HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	appLogger.Info("Starting HTTP server",
		slog.String("address", addr),
		slog.Int("max_concurrent_jobs", cfg.Jobs.MaxConcurrent),
	)

	// Start server in goroutine
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Error("Server failed to start",
				slog.Any("error", err),
			)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)

	// Cleanup function to close all resources
	cleanup := func() {
		cancel()
		if dbClient != nil {
			dbClient.Close()
		}
		if rabbitClient != nil {
			rabbitClient.Close()
		}
	}
	defer cleanup()

	if err := jobManager.Shutdown(ctx); err != nil {
		appLogger.Error("Jobs did not stop in time",
			slog.Any("error", err),
		)
	}

	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error("Server forced to shutdown",
			slog.Any("error", err),
		)
		return err
	}

	appLogger.Info("Server shutdown complete")
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

// initEvents initializes the lifecycle event publisher. Disabled events
// fall back to the no-op publisher.
func initEvents(cfg *config.EventsConfig, logger *slog.Logger) (events.Publisher, *rabbitmq.Client, error) {
	if !cfg.Enabled {
		return events.NopPublisher{}, nil, nil
	}

	rabbitConfig := &rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}

	client, err := rabbitmq.NewClient(rabbitConfig, logger)
	if err != nil {
		return nil, nil, err
	}
	return events.NewAMQPPublisher(client, logger), client, nil
}

// initPipeline wires the collaborators into a Pipeline and verifies the
// external binaries exist. The exporter list is also returned so the
// history re-export endpoint can reuse the same clients.
func initPipeline(cfg *config.Config, logger *slog.Logger) (*pipeline.Pipeline, []pipeline.Exporter, error) {
	downloader := media.NewClient(media.Config{
		BinPath: cfg.Downloader.BinPath,
		TmpDir:  cfg.Jobs.TmpDir,
		Timeout: cfg.Downloader.Timeout,
	}, logger)
	if err := downloader.CheckBinary(); err != nil {
		return nil, nil, err
	}

	transcriber := transcribe.NewClient(transcribe.Config{
		FFmpegPath:  cfg.Transcriber.FFmpegPath,
		FFprobePath: cfg.Transcriber.FFprobePath,
		WhisperPath: cfg.Transcriber.WhisperPath,
		Model:       cfg.Transcriber.Model,
		Timeout:     cfg.Transcriber.Timeout,
	}, logger)
	if err := transcriber.CheckBinaries(); err != nil {
		return nil, nil, err
	}

	model := llm.NewClient(llm.Config{
		APIKey:         cfg.LLM.APIKey,
		BaseURL:        cfg.LLM.BaseURL,
		Model:          cfg.LLM.Model,
		VisionModel:    cfg.LLM.VisionModel,
		TargetLanguage: cfg.LLM.TargetLanguage,
		Timeout:        cfg.LLM.Timeout,
	}, logger)

	visual := vision.NewExtractor(vision.Config{
		FFmpegPath:  cfg.Transcriber.FFmpegPath,
		FFprobePath: cfg.Transcriber.FFprobePath,
		Timeout:     cfg.Transcriber.Timeout,
	}, model, logger)

	var exporters []pipeline.Exporter
	if cfg.Export.Mealie.Enabled {
		exporters = append(exporters, export.NewMealie(export.Config{
			Host:    cfg.Export.Mealie.Host,
			APIKey:  cfg.Export.Mealie.APIKey,
			Timeout: cfg.Export.Mealie.Timeout,
		}, logger))
	}
	if cfg.Export.Tandoor.Enabled {
		exporters = append(exporters, export.NewTandoor(export.Config{
			Host:    cfg.Export.Tandoor.Host,
			APIKey:  cfg.Export.Tandoor.APIKey,
			Timeout: cfg.Export.Tandoor.Timeout,
		}, logger))
	}

	pipe := pipeline.New(pipeline.Deps{
		Downloader:  downloader,
		Transcriber: transcriber,
		Visual:      visual,
		Synthesizer: model,
		Exporters:   exporters,
		Config: pipeline.Config{
			TargetLanguage:      cfg.LLM.TargetLanguage,
			ConfirmBeforeUpload: cfg.Jobs.ConfirmBeforeUpload,
		},
		Cleanup: downloader.Cleanup,
		Logger:  logger,
	})

	return pipe, exporters, nil
}

// initRouter initializes the Gin router with all routes and middleware
func initRouter(cfg *config.Config, logger *slog.Logger, jobs *manager.Manager, jobStore *store.Store, db *postgresql.Client, hub *progress.Hub, exporters []pipeline.Exporter) *gin.Engine {
	// Set Gin mode based on environment
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	deps := &handler.Dependencies{
		Logger:      logger,
		Jobs:        jobs,
		History:     jobStore,
		Hub:         hub,
		Exporters:   exporters,
		HealthCheck: db.HealthCheck,
	}

	return router.SetupRouter(deps)
}

package main

import (
	"context"
	"errors"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"fintrack/internal/amqp"
	"fintrack/internal/backend"
	"fintrack/internal/cli"
	applog "fintrack/internal/log"
	"fintrack/internal/telemetry"
	"fintrack/internal/worker"
)

func main() {
	cli.LoadEnvFile()

	cfg := cli.LoadAndValidateConfig(cli.SetupLogger(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT")))
	logger := cli.SetupLogger(cfg.LogLevel, cfg.LogFormat).WithComponent(applog.ComponentWorker)
	logger.Info("Starting fintrack-worker")

	if cfg.AMQPURL == "" {
		logger.Error("AMQP_URL is required by the sync worker")
		os.Exit(1)
	}
	if cfg.GoogleSpreadsheetID != "" {
		if err := cfg.ValidateSheets(); err != nil {
			logger.Error("Configuration validation failed", applog.FieldError, err)
			os.Exit(1)
		}
	}

	provider, err := telemetry.Init(telemetry.Config{ServiceName: "fintrack-worker", Enabled: cfg.MetricsEnabled})
	if err != nil {
		logger.Error("Failed to initialize telemetry", applog.FieldError, err)
		os.Exit(1)
	}
	metrics, err := telemetry.NewLedgerMetrics(provider.Meter("fintrack-worker"))
	if err != nil {
		logger.Error("Failed to create ledger metrics", applog.FieldError, err)
		os.Exit(1)
	}

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", applog.FieldError, err)
		os.Exit(1)
	}
	// The worker consumes on its own client; the backend needs no publisher.
	backendCfg.AMQPURL = ""

	ctx := context.Background()
	factory := backend.NewFactory(logger.With(applog.FieldComponent, applog.ComponentBackend).Logger)
	result, err := factory.CreateBackend(ctx, backendCfg)
	if err != nil {
		logger.Error("Failed to initialize backend", applog.FieldError, err)
		os.Exit(1)
	}
	defer result.Cleanup()
	if result.Repository == nil {
		logger.Error("The sync worker needs a sqlite or postgres backend", "backend", cfg.DataBackend)
		os.Exit(1)
	}

	mirror, err := factory.CreateMirror(ctx, backendCfg)
	if err != nil {
		logger.Error("Failed to initialize mirror", applog.FieldError, err)
		os.Exit(1)
	}

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", applog.FieldError, err)
		os.Exit(1)
	}
	defer amqpClient.Close()

	syncWorker := worker.NewSyncWorker(result.Repository, mirror, metrics, cfg.SyncBatchSize)

	runCtx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := provider.Shutdown(ctx); err != nil {
			logger.Error("Telemetry shutdown error", applog.FieldError, err)
		}
	})

	logger.Info("Performing startup sync check...")
	if err := syncWorker.StartupSyncCheck(runCtx); err != nil {
		// Not fatal: the periodic pass retries.
		logger.Error("Failed startup sync check", applog.FieldError, err)
	}

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		err := amqpClient.Consume(gctx, syncWorker.HandleLedgerEvent)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		return syncWorker.Run(gctx, cfg.SyncInterval)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Worker stopped with error", applog.FieldError, err)
		os.Exit(1)
	}
	cli.WaitForShutdown(runCtx, done)
	logger.Info("Worker shutdown complete")
}

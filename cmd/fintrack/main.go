package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/http"
	"os"
	"time"

	"fintrack/internal/auth"
	"fintrack/internal/backend"
	"fintrack/internal/cache"
	"fintrack/internal/cli"
	"fintrack/internal/dashboard"
	apphttp "fintrack/internal/http"
	applog "fintrack/internal/log"
	"fintrack/internal/middleware/ratelimit"
	"fintrack/internal/services"
	"fintrack/internal/telemetry"
)

func main() {
	cli.LoadEnvFile()

	cfg := cli.LoadAndValidateConfig(cli.SetupLogger(os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT")))
	logger := cli.SetupLogger(cfg.LogLevel, cfg.LogFormat)

	provider, err := telemetry.Init(telemetry.Config{ServiceName: "fintrack", Enabled: cfg.MetricsEnabled})
	if err != nil {
		logger.Error("Failed to initialize telemetry", applog.FieldError, err)
		os.Exit(1)
	}
	metrics, err := telemetry.NewLedgerMetrics(provider.Meter("fintrack"))
	if err != nil {
		logger.Error("Failed to create ledger metrics", applog.FieldError, err)
		os.Exit(1)
	}

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", applog.FieldError, err)
		os.Exit(1)
	}
	result, err := backend.NewFactory(logger.With(applog.FieldComponent, applog.ComponentBackend).Logger).
		CreateBackend(context.Background(), backendCfg)
	if err != nil {
		logger.Error("Failed to initialize backend", applog.FieldError, err, "backend", cfg.DataBackend)
		os.Exit(1)
	}

	views := cache.NewLRUCache[dashboard.View](cfg.CacheSize, cfg.CacheTTL)
	cacheManager := cache.NewManager()
	cacheManager.Register(views)
	cacheManager.StartCleanup(10 * time.Minute)

	ledgerService := services.NewLedgerService(services.LedgerDeps{
		Store:     result.Store,
		Clock:     dashboard.SystemClock{Location: cfg.Location()},
		Publisher: result.Publisher,
		Views:     views,
		Metrics:   metrics,
		Logger:    logger.WithComponent(applog.ComponentLedger),
	})

	deps := apphttp.Deps{
		Ledger:         ledgerService,
		Accounts:       services.NewAccountService(result.Accounts),
		Sessions:       auth.NewSessions(sessionSecret(cfg.SessionSecret, logger), cfg.SessionTTL),
		Pinger:         result.Pinger,
		Logger:         logger,
		MeterProvider:  provider.MeterProvider(),
		RateLimit:      ratelimit.Config{RequestsPerMinute: cfg.RateLimitPerMinute},
		TrustedProxies: cfg.TrustedProxies,
		SecureCookies:  cfg.SecureCookies,
	}
	if cfg.MetricsEnabled {
		deps.Metrics = provider.Handler()
	}
	srv := apphttp.NewServer(":"+cfg.Port, deps)

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(ctx context.Context) {
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("Server shutdown error", applog.FieldError, err)
		}
		cacheManager.Stop()
		if err := result.Cleanup(); err != nil {
			logger.Error("Backend cleanup error", applog.FieldError, err)
		}
		if err := provider.Shutdown(ctx); err != nil {
			logger.Error("Telemetry shutdown error", applog.FieldError, err)
		}
	})

	logger.Info("Starting fintrack server",
		"port", cfg.Port,
		"backend", cfg.DataBackend,
		"events", result.Publisher != nil,
		"metrics", cfg.MetricsEnabled)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", applog.FieldError, err, "port", cfg.Port)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}

// sessionSecret returns the configured secret, or a random one for the
// memory backend where sessions need not survive a restart.
func sessionSecret(configured string, logger *applog.Logger) string {
	if configured != "" {
		return configured
	}
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		logger.Error("Failed to generate session secret", applog.FieldError, err)
		os.Exit(1)
	}
	logger.Warn("SESSION_SECRET not set, using a random secret; sessions end on restart")
	return hex.EncodeToString(buf)
}

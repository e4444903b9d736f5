package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/tallyhq/gitlab-tally/internal/app"
	"github.com/tallyhq/gitlab-tally/internal/collect"
	"github.com/tallyhq/gitlab-tally/internal/config"
	"github.com/tallyhq/gitlab-tally/internal/gitlabapi"
	"github.com/tallyhq/gitlab-tally/internal/rostercache"
	"github.com/tallyhq/gitlab-tally/internal/sheetsink"
	"github.com/tallyhq/gitlab-tally/internal/telemetry"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	if err := run(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "gitlab-tally: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath string
	var serve bool
	flag.StringVar(&configPath, "config", "config/local.yaml", "path to YAML config file")
	flag.BoolVar(&serve, "serve", false, "run as an HTTP service instead of a one-shot collection")
	flag.Parse()

	configFile, err := os.Open(configPath)
	if err != nil {
		return fmt.Errorf("open config file: %w", err)
	}
	defer func() {
		_ = configFile.Close()
	}()

	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	loggerConfig := zap.NewProductionConfig()
	loggerConfig.Level = zap.NewAtomicLevelAt(logLevel(cfg.Server.LogLevel))
	logger, err := loggerConfig.Build()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	telemetryRuntime, err := telemetry.Setup(telemetry.Config{
		Enabled:          cfg.Telemetry.OTELEnabled,
		ServiceName:      "gitlab-tally",
		TraceMode:        cfg.Telemetry.OTELTraceMode,
		TraceSampleRatio: cfg.Telemetry.OTELTraceSampleRatio,
	})
	if err != nil {
		return fmt.Errorf("setup telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = telemetryRuntime.Shutdown(shutdownCtx)
	}()

	runtime, cache, err := buildRuntime(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		_ = cache.Close()
	}()

	rootCtx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if !serve {
		return runOnce(rootCtx, runtime)
	}
	return serveHTTP(rootCtx, cfg, runtime, logger)
}

func buildRuntime(cfg *config.Config, logger *zap.Logger) (*app.Runtime, rostercache.Store, error) {
	httpClient := &http.Client{Timeout: cfg.GitLab.RequestTimeout}
	requestClient := gitlabapi.NewClient(httpClient,
		gitlabapi.RetryConfig{
			MaxAttempts:    cfg.Retry.MaxAttempts,
			InitialBackoff: cfg.Retry.InitialBackoff,
			MaxBackoff:     cfg.Retry.MaxBackoff,
		},
		gitlabapi.RateLimitPolicy{
			MinRemainingThreshold: cfg.RateLimit.MinRemainingThreshold,
			MinResetBuffer:        cfg.RateLimit.MinResetBuffer,
			ThrottleBackoff:       cfg.RateLimit.ThrottleBackoff,
		},
	)

	token, err := resolveToken(cfg)
	if err != nil {
		return nil, nil, err
	}
	dataClient, err := gitlabapi.NewDataClient(cfg.GitLab.APIBaseURL, cfg.GitLab.Domain, token, cfg.GitLab.PageSize, requestClient)
	if err != nil {
		return nil, nil, fmt.Errorf("build gitlab client: %w", err)
	}

	sheetClient, err := sheetsink.NewClient(sheetsink.Config{
		WebhookURL:      cfg.Sheet.WebhookURL,
		SpreadsheetID:   cfg.Sheet.SpreadsheetID,
		SheetName:       cfg.Sheet.SheetName,
		RosterSheetName: cfg.Sheet.RosterSheetName,
		HeaderRow:       cfg.Sheet.HeaderRow,
		NameCol:         cfg.Sheet.NameCol,
		HeaderSpec: sheetsink.HeaderSpec{
			MonthRow:     cfg.Sheet.HeaderSpec.MonthRow,
			DayRow:       cfg.Sheet.HeaderSpec.DayRow,
			WeekdayRow:   cfg.Sheet.HeaderSpec.WeekdayRow,
			StartDateCol: cfg.Sheet.HeaderSpec.StartDateCol,
		},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("build sheet client: %w", err)
	}

	cache := buildRosterCache(cfg)
	collector := collect.NewCollector(dataClient, logger)
	runtime := app.NewRuntime(cfg, collector, sheetClient, cache, app.NewMetrics(), logger)
	return runtime, cache, nil
}

// resolveToken prefers the inline token; token_file is for deployments that
// mount the secret on disk.
func resolveToken(cfg *config.Config) (string, error) {
	if cfg.GitLab.Token != "" {
		return cfg.GitLab.Token, nil
	}
	raw, err := os.ReadFile(cfg.GitLab.TokenFile)
	if err != nil {
		return "", fmt.Errorf("read gitlab token file: %w", err)
	}
	token := strings.TrimSpace(string(raw))
	if token == "" {
		return "", fmt.Errorf("gitlab token file %s is empty", cfg.GitLab.TokenFile)
	}
	return token, nil
}

func buildRosterCache(cfg *config.Config) rostercache.Store {
	if cfg.RosterCache.Backend != "redis" {
		return rostercache.NewMemoryStore(cfg.RosterCache.TTL)
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RosterCache.RedisAddr,
		Password: cfg.RosterCache.RedisPassword,
		DB:       cfg.RosterCache.RedisDB,
	})
	return rostercache.NewRedisStore(client, rostercache.RedisStoreConfig{
		Namespace: cfg.RosterCache.Namespace,
		TTL:       cfg.RosterCache.TTL,
	})
}

func runOnce(ctx context.Context, runtime *app.Runtime) error {
	result, runErr := runtime.Run(ctx)
	if result != nil {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(result); err != nil {
			return fmt.Errorf("print run result: %w", err)
		}
	}
	return runErr
}

func serveHTTP(ctx context.Context, cfg *config.Config, runtime *app.Runtime, logger *zap.Logger) error {
	server := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           runtime.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrCh := make(chan error, 1)
	go func() {
		logger.Info("http server starting", zap.String("addr", cfg.Server.ListenAddr))
		if serveErr := server.ListenAndServe(); serveErr != nil && serveErr != http.ErrServerClosed {
			serverErrCh <- serveErr
		}
		close(serverErrCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case serveErr := <-serverErrCh:
		if serveErr != nil {
			return fmt.Errorf("http server failed: %w", serveErr)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}

	logger.Info("shutdown complete")
	return nil
}

func logLevel(raw string) zapcore.Level {
	switch strings.ToLower(raw) {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

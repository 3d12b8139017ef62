package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/hanko-field/commerce/internal/di"
	"github.com/hanko-field/commerce/internal/platform/config"
	"github.com/hanko-field/commerce/internal/platform/observability"
	"github.com/hanko-field/commerce/internal/platform/secrets"
	"github.com/hanko-field/commerce/internal/services"
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()
	logger := baseLogger.Named("api")

	fetcher, err := newSecretFetcher(ctx, logger)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx, config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)))
	if err != nil {
		var invalid *config.ValidationError
		if errors.As(err, &invalid) {
			logger.Fatal("invalid configuration", zap.Strings("fields", invalid.Fields()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	container, err := di.NewContainer(ctx, cfg, logger, di.WithBuildInfo(buildInfo(startedAt)))
	if err != nil {
		logger.Fatal("failed to initialise dependencies", zap.Error(err))
	}

	schedulerCtx, schedulerCancel := context.WithCancel(context.Background())
	var schedulerWG sync.WaitGroup
	if container.Scheduler != nil {
		schedulerWG.Add(1)
		go func() {
			defer schedulerWG.Done()
			container.Scheduler.Run(schedulerCtx)
		}()
		logger.Info("retention sweep scheduled", zap.String("runAt", cfg.Retention.RunAt))
	}

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      container.Handler(baseLogger),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("commerce api listening", zap.String("basePath", cfg.Server.BasePath))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}

	schedulerCancel()
	schedulerWG.Wait()

	if err := container.Close(shutdownCtx); err != nil {
		logger.Warn("dependency close error", zap.Error(err))
	}
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		value, _, err := config.Lookup(key)
		if err != nil {
			return ""
		}
		return strings.TrimSpace(value)
	}

	fallbackPath := lookup("API_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}
	project := lookup("API_SECRET_PROJECT_ID")
	if project == "" {
		project = lookup("API_FIRESTORE_PROJECT_ID")
	}

	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
		secrets.WithMeter(otel.Meter("github.com/hanko-field/commerce/secrets")),
	}
	if project != "" {
		opts = append(opts, secrets.WithProject(project))
	}
	return secrets.NewFetcher(ctx, opts...)
}

func buildInfo(started time.Time) services.BuildInfo {
	value := func(key, fallback string) string {
		raw, ok, err := config.Lookup(key)
		if err != nil || !ok || strings.TrimSpace(raw) == "" {
			return fallback
		}
		return strings.TrimSpace(raw)
	}
	return services.BuildInfo{
		Version:     value("API_BUILD_VERSION", "dev"),
		CommitSHA:   value("API_BUILD_COMMIT_SHA", "unknown"),
		Environment: value("API_ENVIRONMENT", "local"),
		StartedAt:   started,
	}
}

// Package main wires together the catalog harvester service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/mwolters/catalog-harvester/internal/api"
	"github.com/mwolters/catalog-harvester/internal/app"
	"github.com/mwolters/catalog-harvester/internal/clock/system"
	"github.com/mwolters/catalog-harvester/internal/config"
	"github.com/mwolters/catalog-harvester/internal/id/uuid"
	"github.com/mwolters/catalog-harvester/internal/logging"
	"github.com/mwolters/catalog-harvester/internal/notify"
	"github.com/mwolters/catalog-harvester/internal/registry"
	"github.com/mwolters/catalog-harvester/internal/source/httpapi"
	"github.com/mwolters/catalog-harvester/internal/supervisor"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("service failed", zap.Error(err))
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	clock := system.New()

	source, err := httpapi.New(httpapi.Config{
		BaseURL:        cfg.Source.BaseURL,
		AuthPath:       cfg.Source.AuthPath,
		CategoriesPath: cfg.Source.CategoriesPath,
		SearchPath:     cfg.Source.SearchPath,
		ClientID:       cfg.Source.ClientID,
		UserAgent:      cfg.Source.UserAgent,
		IDField:        cfg.Source.IDField,
		Timeout:        cfg.HTTP.Timeout(),
		ConnectTimeout: cfg.HTTP.ConnectTimeout(),
	}, logger)
	if err != nil {
		return fmt.Errorf("build source client: %w", err)
	}

	factory, err := app.NewFactory(ctx, cfg, source, clock, logger)
	if err != nil {
		return fmt.Errorf("build job factory: %w", err)
	}
	defer factory.Close()

	reg := registry.New(clock)
	super := supervisor.New(supervisor.Config{
		Scraper:           cfg.Source.Name,
		MaxConcurrentJobs: cfg.Harvest.MaxConcurrentJobs,
		GracePeriod:       cfg.Harvest.GracePeriod(),
	}, reg, factory, notify.NewWebhook(cfg.HTTP.WebhookTimeout(), clock, logger), clock, uuid.NewUUIDGenerator(), logger)

	server := api.NewServer(super, api.Config{
		ServiceName:            cfg.Application.ServiceName,
		Version:                cfg.Application.Version,
		Scraper:                cfg.Source.Name,
		AuthEnabled:            cfg.Auth.Enabled,
		APIKey:                 cfg.Auth.APIKey,
		RequestTimeout:         time.Duration(cfg.Server.TimeoutSeconds) * time.Second,
		DefaultConcurrency:     cfg.Harvest.Concurrency,
		DefaultPageSize:        cfg.Harvest.PageSize,
		DefaultRequestInterval: cfg.Harvest.RequestInterval(),
	}, logger)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.Int("port", cfg.Server.Port))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

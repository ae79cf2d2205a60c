package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"vaxdash/internal/amqp"
	"vaxdash/internal/backend"
	"vaxdash/internal/cache"
	"vaxdash/internal/cli"
	apphttp "vaxdash/internal/http"
	"vaxdash/internal/log"
	"vaxdash/internal/metrics"
	"vaxdash/internal/services"
)

func main() {
	cfg, logger, err := cli.Bootstrap(log.ComponentApp, true)
	if err != nil {
		cli.Fatal(logger, "Configuration validation failed", err, log.FieldOperation, log.OpValidate)
	}

	ctx, cancel := cli.ShutdownContext(logger)
	defer cancel()

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		cli.Fatal(logger, "Invalid backend configuration", err)
	}
	res, err := backend.NewFactory(logger.WithComponent(log.ComponentBackend).Logger).CreateBackend(ctx, backendCfg)
	if err != nil {
		cli.Fatal(logger, "Failed to initialize backend", err, "backend", cfg.DataBackend)
	}
	defer func() {
		if err := res.Close(); err != nil {
			logger.Error("Backend cleanup failed", log.FieldError, err)
		}
	}()

	registry := metrics.NewRegistry()
	reports := services.NewReportService(res.Backend, services.ReportOptions{
		Source:    res.Type.String(),
		CacheSize: cfg.CacheSize,
		CacheTTL:  cfg.CacheTTL,
		Latency:   registry.Recorder(apphttp.MetricReportBuild),
	})

	caches := cache.NewManager(logger)
	caches.Register(reports)
	caches.StartCleanup(time.Minute)
	defer caches.Stop()

	opts := apphttp.Options{
		Addr:    ":" + cfg.Port,
		Reports: reports,
		Logger:  logger,
		Metrics: registry,
		Ready:   apphttp.ReadyFunc(res.Ready),

		TrustedProxies: cfg.TrustedProxies,
	}
	if runs, ok := res.Backend.(apphttp.RunLister); ok {
		opts.Runs = runs
	}

	if cfg.AMQPURL != "" {
		amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			// Refreshes fall back to inline rebuilds.
			logger.Warn("AMQP unavailable, refreshes will rebuild inline", log.FieldError, err)
		} else {
			defer amqpClient.Close()
			opts.Publisher = amqpClient
			logger.Info("AMQP publisher ready", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
		}
	}

	srv := apphttp.NewServer(opts)
	srv.ReadTimeout = 10 * time.Second
	srv.WriteTimeout = 30 * time.Second
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16

	// Warm the cache; a bad feed is logged here and reported by /readyz.
	if _, err := reports.Build(ctx); err != nil {
		logger.Error("Initial report build failed", log.FieldError, err, log.FieldOperation, log.OpStartup)
	}

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		<-ctx.Done()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", log.FieldError, err)
		}
	}()

	logger.Info("Starting vaxdash server", "port", cfg.Port, "backend", res.Type.String())
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		cli.Fatal(logger, "Server error", err, "port", cfg.Port)
	}

	<-stopped
	logger.Info("Server stopped gracefully")
}

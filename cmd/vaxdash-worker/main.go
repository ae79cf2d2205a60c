package main

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"vaxdash/internal/amqp"
	"vaxdash/internal/backend"
	"vaxdash/internal/cli"
	"vaxdash/internal/config"
	"vaxdash/internal/log"
	"vaxdash/internal/services"
	"vaxdash/internal/storage"
	"vaxdash/internal/worker"
)

// keepRuns bounds the report history kept in SQLite.
const keepRuns = 50

func main() {
	cfg, logger, err := cli.Bootstrap(log.ComponentWorker, true)
	if err != nil {
		cli.Fatal(logger, "Configuration validation failed", err, log.FieldOperation, log.OpValidate)
	}
	logger.Info("Starting vaxdash-worker")

	ctx, cancel := cli.ShutdownContext(logger)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		cli.Fatal(logger, "Worker stopped with error", err)
	}
	logger.Info("Worker shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, logger *log.Logger) error {
	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		return err
	}
	res, err := backend.NewFactory(logger.WithComponent(log.ComponentBackend).Logger).CreateBackend(ctx, backendCfg)
	if err != nil {
		return err
	}
	defer res.Close()

	// Reports are always kept in SQLite; reuse the backend's repository when
	// it already is one.
	repo, ok := res.Backend.(*storage.SQLiteRepository)
	if !ok {
		repo, err = storage.NewSQLiteRepository(cfg.SQLiteDBPath)
		if err != nil {
			return err
		}
		defer repo.Close()
	}

	sinks := []worker.Sink{{Name: "sqlite", Writer: repo}}
	if cfg.SheetsEnabled() {
		sheetsClient, err := backend.NewSheetsClient(ctx, backendCfg.Google)
		if err != nil {
			return err
		}
		sinks = append(sinks, worker.Sink{Name: "sheets", Writer: sheetsClient, Remote: true})
		logger.Info("Google Sheets export enabled", "spreadsheet_id", cfg.GoogleSpreadsheetID)
	} else {
		logger.Info("Google Sheets export disabled - no GOOGLE_SPREADSHEET_ID provided")
	}

	reports := services.NewReportService(res.Backend, services.ReportOptions{
		Source:    res.Type.String(),
		CacheSize: cfg.CacheSize,
		CacheTTL:  cfg.CacheTTL,
	})
	w := worker.NewRefreshWorker(reports, sinks, worker.Options{
		Interval: cfg.RefreshInterval,
		Pruner:   repo,
		KeepRuns: keepRuns,
		Latest:   repo,
	})

	logger.Info("Performing startup report check...")
	if err := w.StartupCheck(ctx); err != nil {
		// Not fatal: the ticker and the queue retry.
		logger.Error("Startup report check failed", log.FieldError, err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return w.Run(ctx) })

	if cfg.AMQPURL != "" {
		amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			return err
		}
		defer amqpClient.Close()
		g.Go(func() error { return amqpClient.ConsumeRefresh(ctx, w.HandleRefresh) })
		logger.Info("Consuming refresh requests", "queue", cfg.AMQPQueue)
	} else {
		logger.Info("No AMQP_URL configured, running scheduled refreshes only")
	}

	err = g.Wait()
	if last := w.LastBuilt(); !last.IsZero() {
		logger.Info("Worker stopping", "last_built", last.Format(time.RFC3339))
	}
	return err
}

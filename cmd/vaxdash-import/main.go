// Command vaxdash-import loads a vaccination feed into SQLite and asks the
// worker to rebuild the report.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"vaxdash/internal/amqp"
	"vaxdash/internal/backend"
	"vaxdash/internal/cli"
	"vaxdash/internal/config"
	"vaxdash/internal/core"
	"vaxdash/internal/dataset"
	"vaxdash/internal/log"
	"vaxdash/internal/storage"
)

func main() {
	cfg, logger, err := cli.Bootstrap(log.ComponentImport, false)
	if err != nil {
		cli.Fatal(logger, "Failed to load configuration", err)
	}

	fromSheet := flag.Bool("sheet", false, "read the feed from the configured Google spreadsheet instead of a CSV file")
	csvPath := flag.String("file", cfg.VaccinationsPath(), "CSV feed to import")
	notify := flag.Bool("notify", true, "publish a refresh request when AMQP_URL is set")
	flag.Parse()

	ctx, cancel := cli.ShutdownContext(logger)
	defer cancel()

	start := time.Now()
	n, err := run(ctx, cfg, logger, *fromSheet, *csvPath, *notify)
	if err != nil {
		var missing *dataset.MissingColumnsError
		if errors.As(err, &missing) {
			logger.Error("Feed is missing required columns", "missing", missing.Missing, "required", dataset.RequiredColumns)
			os.Exit(1)
		}
		cli.Fatal(logger, "Import failed", err, log.FieldOperation, log.OpImport)
	}
	logger.Info("Import finished", log.FieldRecords, n, log.FieldDuration, time.Since(start).Milliseconds())
}

func run(ctx context.Context, cfg *config.Config, logger *log.Logger, fromSheet bool, csvPath string, notify bool) (int, error) {
	var (
		records []core.VaccinationRecord
		repo    *storage.SQLiteRepository
	)

	// Reading the feed and opening (migrating) the database are independent.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		records, err = loadFeed(gctx, cfg, logger, fromSheet, csvPath)
		return err
	})
	g.Go(func() error {
		var err error
		repo, err = storage.NewSQLiteRepository(cfg.SQLiteDBPath)
		return err
	})
	if err := g.Wait(); err != nil {
		if repo != nil {
			_ = repo.Close()
		}
		return 0, err
	}
	defer repo.Close()

	n, err := repo.ImportRecords(ctx, records)
	if err != nil {
		return 0, err
	}
	logger.Info("Records imported", log.FieldOperation, log.OpImport, log.FieldRecords, n, "db_path", cfg.SQLiteDBPath)

	if notify && cfg.AMQPURL != "" {
		client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			return n, fmt.Errorf("connect to AMQP: %w", err)
		}
		defer client.Close()
		msg := amqp.NewReportRefreshMessage(amqp.ReasonImport)
		if err := client.PublishRefresh(ctx, msg); err != nil {
			return n, err
		}
		logger.Info("Refresh requested", log.FieldRunID, msg.RunID)
	}
	return n, nil
}

func loadFeed(ctx context.Context, cfg *config.Config, logger *log.Logger, fromSheet bool, csvPath string) ([]core.VaccinationRecord, error) {
	if fromSheet {
		if !cfg.SheetsEnabled() {
			return nil, errors.New("-sheet requires GOOGLE_SPREADSHEET_ID")
		}
		backendCfg, err := backend.FromAppConfig(cfg)
		if err != nil {
			return nil, err
		}
		sheetsClient, err := backend.NewSheetsClient(ctx, backendCfg.Google)
		if err != nil {
			return nil, err
		}
		return sheetsClient.ListVaccinations(ctx)
	}

	records, stats, err := dataset.LoadFile(csvPath)
	if err != nil {
		return nil, err
	}
	logger.Info("Feed loaded", "path", csvPath,
		log.FieldRecords, len(records),
		log.FieldSkippedDates, stats.MissingDates)
	return records, nil
}

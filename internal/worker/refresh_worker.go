package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"vaxdash/internal/amqp"
	"vaxdash/internal/core"
	"vaxdash/internal/log"
	"vaxdash/internal/sheets"
)

// Rebuilder recomputes the report, bypassing any cache.
type Rebuilder interface {
	Rebuild(ctx context.Context) (core.Report, error)
}

// Pruner drops old persisted runs.
type Pruner interface {
	PruneRuns(ctx context.Context, keep int) (int64, error)
}

// Sink is a named report destination.
type Sink struct {
	Name   string
	Writer sheets.ReportWriter
	// Remote marks sinks outside the worker's own database.
	Remote bool
}

func (s Sink) operation() string {
	if s.Remote {
		return log.OpExport
	}
	return log.OpPersist
}

// RefreshWorker rebuilds the report on request and persists it to every sink.
type RefreshWorker struct {
	reports  Rebuilder
	sinks    []Sink
	interval time.Duration

	pruner   Pruner
	keepRuns int
	latest   sheets.ReportReader

	mu        sync.Mutex
	lastBuilt time.Time
}

type Options struct {
	// Interval between scheduled rebuilds in Run. Zero disables the ticker.
	Interval time.Duration
	// Pruner and KeepRuns bound the number of stored runs. Optional.
	Pruner   Pruner
	KeepRuns int
	// Latest is consulted by StartupCheck. Optional.
	Latest sheets.ReportReader
}

func NewRefreshWorker(reports Rebuilder, sinks []Sink, opts Options) *RefreshWorker {
	return &RefreshWorker{
		reports:  reports,
		sinks:    sinks,
		interval: opts.Interval,
		pruner:   opts.Pruner,
		keepRuns: opts.KeepRuns,
		latest:   opts.Latest,
	}
}

// HandleRefresh rebuilds the report and writes it to every sink. A failing
// sink does not stop the others; all failures are returned joined so the
// message is requeued.
func (w *RefreshWorker) HandleRefresh(ctx context.Context, msg *amqp.ReportRefreshMessage) error {
	slog.InfoContext(ctx, "Processing refresh request",
		log.FieldComponent, log.ComponentWorker,
		log.FieldOperation, log.OpRefresh,
		log.FieldRequestID, msg.RunID,
		"reason", msg.Reason,
		"requested_at", msg.Timestamp)

	report, err := w.reports.Rebuild(ctx)
	if err != nil {
		return fmt.Errorf("rebuild report: %w", err)
	}
	w.mu.Lock()
	w.lastBuilt = report.GeneratedAt
	w.mu.Unlock()

	var errs []error
	for _, s := range w.sinks {
		ref, err := s.Writer.WriteReport(ctx, report)
		if err != nil {
			slog.ErrorContext(ctx, "Failed to persist report",
				"sink", s.Name,
				log.FieldOperation, s.operation(),
				log.FieldRunID, report.RunID,
				log.FieldError, err)
			errs = append(errs, fmt.Errorf("%s: %w", s.Name, err))
			continue
		}
		slog.InfoContext(ctx, "Report persisted",
			"sink", s.Name,
			log.FieldOperation, s.operation(),
			log.FieldRunID, report.RunID,
			log.FieldLocations, len(report.Locations),
			log.FieldContinents, len(report.Continents),
			"ref", ref)
	}

	if w.pruner != nil && w.keepRuns > 0 {
		if _, err := w.pruner.PruneRuns(ctx, w.keepRuns); err != nil {
			slog.WarnContext(ctx, "Failed to prune old runs", log.FieldError, err)
		}
	}

	return errors.Join(errs...)
}

// StartupCheck builds and persists a report when none has been stored yet,
// covering refresh requests missed while the worker was down.
func (w *RefreshWorker) StartupCheck(ctx context.Context) error {
	if w.latest != nil {
		r, err := w.latest.LatestReport(ctx)
		switch {
		case err == nil:
			slog.InfoContext(ctx, "Stored report found on startup",
				log.FieldRunID, r.RunID,
				"generated_at", r.GeneratedAt.Format(time.RFC3339))
			return nil
		case !errors.Is(err, sheets.ErrNoReport):
			return fmt.Errorf("check latest report: %w", err)
		}
	}

	slog.InfoContext(ctx, "No stored report found on startup, building one")
	return w.HandleRefresh(ctx, amqp.NewReportRefreshMessage(amqp.ReasonScheduled))
}

// Run rebuilds on every interval tick until ctx is cancelled. Errors are
// logged and the next tick retries.
func (w *RefreshWorker) Run(ctx context.Context) error {
	if w.interval <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	slog.InfoContext(ctx, "Scheduled refresh started", "interval", w.interval)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := w.HandleRefresh(ctx, amqp.NewReportRefreshMessage(amqp.ReasonScheduled)); err != nil {
				slog.ErrorContext(ctx, "Scheduled refresh failed", log.FieldError, err)
			}
		}
	}
}

// LastBuilt returns when the worker last produced a report.
func (w *RefreshWorker) LastBuilt() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastBuilt
}

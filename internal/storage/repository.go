package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"vaxdash/internal/core"
	ports "vaxdash/internal/sheets"

	_ "modernc.org/sqlite"
)

// generatedAtLayout is fixed width so report_runs.generated_at sorts as text.
const generatedAtLayout = "2006-01-02T15:04:05.000000000Z"

var (
	_ ports.VaccinationReader = (*SQLiteRepository)(nil)
	_ ports.ReportWriter      = (*SQLiteRepository)(nil)
	_ ports.ReportReader      = (*SQLiteRepository)(nil)
)

type SQLiteRepository struct {
	db      *sql.DB
	queries *Queries
	path    string
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// SQLite allows a single writer; one connection avoids SQLITE_BUSY between
	// the server and its own transactions.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &SQLiteRepository{db: db, queries: New(db), path: dbPath}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Ping reports whether the database is reachable.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *SQLiteRepository) withTx(ctx context.Context, fn func(q *Queries) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(r.queries.WithTx(tx)); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			slog.ErrorContext(ctx, "Rollback failed", "error", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// ImportRecords replaces every stored record with records in one transaction.
func (r *SQLiteRepository) ImportRecords(ctx context.Context, records []core.VaccinationRecord) (int, error) {
	err := r.withTx(ctx, func(q *Queries) error {
		if err := q.DeleteVaccinationRecords(ctx); err != nil {
			return fmt.Errorf("clear records: %w", err)
		}
		stmt, err := q.PrepareInsertVaccinationRecord(ctx)
		if err != nil {
			return fmt.Errorf("prepare insert: %w", err)
		}
		defer stmt.Close()

		for i, rec := range records {
			if err := InsertVaccinationRecord(ctx, stmt, recordParams(rec)); err != nil {
				return fmt.Errorf("insert record %d (%s): %w", i, rec, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	slog.InfoContext(ctx, "Vaccination records imported", "records", len(records), "path", r.path)
	return len(records), nil
}

func recordParams(rec core.VaccinationRecord) InsertVaccinationRecordParams {
	p := InsertVaccinationRecordParams{Location: rec.Location, IsoCode: rec.ISOCode}
	if !rec.Date.IsMissing() {
		p.Date = sql.NullString{String: rec.Date.String(), Valid: true}
	}
	if rec.TotalVaccinations.Valid {
		p.TotalVaccinations = sql.NullInt64{Int64: rec.TotalVaccinations.Value, Valid: true}
	}
	return p
}

// ListVaccinations implements sheets.VaccinationReader in import order.
func (r *SQLiteRepository) ListVaccinations(ctx context.Context) ([]core.VaccinationRecord, error) {
	rows, err := r.queries.ListVaccinationRecords(ctx)
	if err != nil {
		return nil, fmt.Errorf("list vaccination records: %w", err)
	}
	out := make([]core.VaccinationRecord, 0, len(rows))
	for _, row := range rows {
		rec := core.VaccinationRecord{Location: row.Location, ISOCode: row.IsoCode}
		if row.Date.Valid {
			rec.Date = core.ParseDate(row.Date.String)
		}
		if row.TotalVaccinations.Valid {
			rec.TotalVaccinations = core.NewCount(row.TotalVaccinations.Int64)
		}
		out = append(out, rec)
	}
	return out, nil
}

func (r *SQLiteRepository) CountRecords(ctx context.Context) (int64, error) {
	n, err := r.queries.CountVaccinationRecords(ctx)
	if err != nil {
		return 0, fmt.Errorf("count vaccination records: %w", err)
	}
	return n, nil
}

// WriteReport implements sheets.ReportWriter.
func (r *SQLiteRepository) WriteReport(ctx context.Context, rep core.Report) (string, error) {
	if err := r.SaveReport(ctx, rep); err != nil {
		return "", err
	}
	return "sqlite:" + rep.RunID, nil
}

// SaveReport stores a run and both result sets in a single transaction.
func (r *SQLiteRepository) SaveReport(ctx context.Context, rep core.Report) error {
	if rep.RunID == "" {
		return errors.New("report has no run id")
	}
	err := r.withTx(ctx, func(q *Queries) error {
		run := ReportRun{
			RunID:        rep.RunID,
			GeneratedAt:  rep.GeneratedAt.UTC().Format(generatedAtLayout),
			Source:       rep.Source,
			RecordCount:  int64(rep.RecordCount),
			SkippedDates: int64(rep.SkippedDates),
		}
		if err := q.InsertReportRun(ctx, run); err != nil {
			return fmt.Errorf("insert report run: %w", err)
		}

		locStmt, err := q.PrepareInsertLocationMonthTotal(ctx)
		if err != nil {
			return fmt.Errorf("prepare location insert: %w", err)
		}
		defer locStmt.Close()
		for i, row := range rep.Locations {
			_, err := locStmt.ExecContext(ctx, rep.RunID, i, row.Location, row.ISOCode, row.Month.String(),
				row.TotalVaccinations, row.CumTotalVaccinations)
			if err != nil {
				return fmt.Errorf("insert location total %s %s: %w", row.Location, row.Month, err)
			}
		}

		contStmt, err := q.PrepareInsertContinentMonthTotal(ctx)
		if err != nil {
			return fmt.Errorf("prepare continent insert: %w", err)
		}
		defer contStmt.Close()
		for _, row := range rep.Continents {
			if _, err := contStmt.ExecContext(ctx, rep.RunID, row.ContinentName, row.Month.String(), row.CumTotalVaccinations); err != nil {
				return fmt.Errorf("insert continent total %s %s: %w", row.ContinentName, row.Month, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("save report %s: %w", rep.RunID, err)
	}

	slog.InfoContext(ctx, "Report saved to SQLite",
		"run_id", rep.RunID,
		"location_rows", len(rep.Locations),
		"continent_rows", len(rep.Continents))
	return nil
}

// LatestReport returns the most recently generated run, or sheets.ErrNoReport.
func (r *SQLiteRepository) LatestReport(ctx context.Context) (core.Report, error) {
	run, err := r.queries.GetLatestReportRun(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Report{}, ports.ErrNoReport
	}
	if err != nil {
		return core.Report{}, fmt.Errorf("get latest report run: %w", err)
	}
	return r.loadReport(ctx, run)
}

// ReportByID loads one run, or sheets.ErrNoReport when it does not exist.
func (r *SQLiteRepository) ReportByID(ctx context.Context, runID string) (core.Report, error) {
	run, err := r.queries.GetReportRun(ctx, runID)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Report{}, ports.ErrNoReport
	}
	if err != nil {
		return core.Report{}, fmt.Errorf("get report run %s: %w", runID, err)
	}
	return r.loadReport(ctx, run)
}

func (r *SQLiteRepository) loadReport(ctx context.Context, run ReportRun) (core.Report, error) {
	rep, err := reportFromRun(run)
	if err != nil {
		return core.Report{}, err
	}

	locs, err := r.queries.ListLocationMonthTotals(ctx, run.RunID)
	if err != nil {
		return core.Report{}, fmt.Errorf("list location totals: %w", err)
	}
	for _, l := range locs {
		month, err := core.ParseMonthKey(l.Month)
		if err != nil {
			return core.Report{}, fmt.Errorf("run %s: %w", run.RunID, err)
		}
		rep.Locations = append(rep.Locations, core.CumulativeLocationMonthTotal{
			LocationMonthTotal: core.LocationMonthTotal{
				Location:          l.Location,
				ISOCode:           l.IsoCode,
				Month:             month,
				TotalVaccinations: l.TotalVaccinations,
			},
			CumTotalVaccinations: l.CumTotalVaccinations,
		})
	}

	conts, err := r.queries.ListContinentMonthTotals(ctx, run.RunID)
	if err != nil {
		return core.Report{}, fmt.Errorf("list continent totals: %w", err)
	}
	for _, c := range conts {
		month, err := core.ParseMonthKey(c.Month)
		if err != nil {
			return core.Report{}, fmt.Errorf("run %s: %w", run.RunID, err)
		}
		rep.Continents = append(rep.Continents, core.ContinentMonthTotal{
			ContinentName:        c.ContinentName,
			Month:                month,
			CumTotalVaccinations: c.CumTotalVaccinations,
		})
	}
	return rep, nil
}

func reportFromRun(run ReportRun) (core.Report, error) {
	generated, err := time.Parse(generatedAtLayout, run.GeneratedAt)
	if err != nil {
		return core.Report{}, fmt.Errorf("parse generated_at of run %s: %w", run.RunID, err)
	}
	return core.Report{
		RunID:        run.RunID,
		GeneratedAt:  generated,
		Source:       run.Source,
		RecordCount:  int(run.RecordCount),
		SkippedDates: int(run.SkippedDates),
	}, nil
}

// ListRuns returns up to limit runs, newest first.
func (r *SQLiteRepository) ListRuns(ctx context.Context, limit int) ([]core.RunSummary, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.queries.ListReportRuns(ctx, int64(limit))
	if err != nil {
		return nil, fmt.Errorf("list report runs: %w", err)
	}
	out := make([]core.RunSummary, 0, len(rows))
	for _, row := range rows {
		rep, err := reportFromRun(row.ReportRun)
		if err != nil {
			return nil, err
		}
		s := rep.Summary()
		s.LocationRows = int(row.LocationRows)
		s.ContinentRows = int(row.ContinentRows)
		out = append(out, s)
	}
	return out, nil
}

// PruneRuns keeps the newest keep runs and deletes the rest with their rows.
func (r *SQLiteRepository) PruneRuns(ctx context.Context, keep int) (int64, error) {
	if keep < 1 {
		return 0, fmt.Errorf("keep must be positive, got %d", keep)
	}
	var removed int64
	err := r.withTx(ctx, func(q *Queries) error {
		n, err := q.PruneReportRuns(ctx, int64(keep))
		if err != nil {
			return fmt.Errorf("prune report runs: %w", err)
		}
		removed = n
		return q.DeleteOrphanTotals(ctx)
	})
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		slog.InfoContext(ctx, "Old report runs pruned", "removed", removed, "kept", keep)
	}
	return removed, nil
}

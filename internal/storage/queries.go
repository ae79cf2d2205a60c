package storage

import (
	"context"
	"database/sql"
)

// DBTX is satisfied by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
	PrepareContext(context.Context, string) (*sql.Stmt, error)
	QueryContext(context.Context, string, ...any) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...any) *sql.Row
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

type Queries struct {
	db DBTX
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

// Row types mirror the table columns.

type VaccinationRecord struct {
	ID                int64
	Location          string
	IsoCode           string
	Date              sql.NullString
	TotalVaccinations sql.NullInt64
}

type ReportRun struct {
	RunID        string
	GeneratedAt  string
	Source       string
	RecordCount  int64
	SkippedDates int64
}

type LocationMonthTotal struct {
	Location             string
	IsoCode              string
	Month                string
	TotalVaccinations    int64
	CumTotalVaccinations int64
}

type ContinentMonthTotal struct {
	ContinentName        string
	Month                string
	CumTotalVaccinations int64
}

type RunSummary struct {
	ReportRun
	LocationRows  int64
	ContinentRows int64
}

const deleteVaccinationRecords = `DELETE FROM vaccination_records`

func (q *Queries) DeleteVaccinationRecords(ctx context.Context) error {
	_, err := q.db.ExecContext(ctx, deleteVaccinationRecords)
	return err
}

const insertVaccinationRecord = `INSERT INTO vaccination_records (location, iso_code, date, total_vaccinations)
VALUES (?, ?, ?, ?)`

type InsertVaccinationRecordParams struct {
	Location          string
	IsoCode           string
	Date              sql.NullString
	TotalVaccinations sql.NullInt64
}

// PrepareInsertVaccinationRecord returns a statement for bulk inserts inside a
// transaction. The caller closes it.
func (q *Queries) PrepareInsertVaccinationRecord(ctx context.Context) (*sql.Stmt, error) {
	return q.db.PrepareContext(ctx, insertVaccinationRecord)
}

func InsertVaccinationRecord(ctx context.Context, stmt *sql.Stmt, arg InsertVaccinationRecordParams) error {
	_, err := stmt.ExecContext(ctx, arg.Location, arg.IsoCode, arg.Date, arg.TotalVaccinations)
	return err
}

const listVaccinationRecords = `SELECT id, location, iso_code, date, total_vaccinations
FROM vaccination_records
ORDER BY id`

func (q *Queries) ListVaccinationRecords(ctx context.Context) ([]VaccinationRecord, error) {
	rows, err := q.db.QueryContext(ctx, listVaccinationRecords)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []VaccinationRecord
	for rows.Next() {
		var i VaccinationRecord
		if err := rows.Scan(&i.ID, &i.Location, &i.IsoCode, &i.Date, &i.TotalVaccinations); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const countVaccinationRecords = `SELECT COUNT(*) FROM vaccination_records`

func (q *Queries) CountVaccinationRecords(ctx context.Context) (int64, error) {
	row := q.db.QueryRowContext(ctx, countVaccinationRecords)
	var count int64
	err := row.Scan(&count)
	return count, err
}

const insertReportRun = `INSERT INTO report_runs (run_id, generated_at, source, record_count, skipped_dates)
VALUES (?, ?, ?, ?, ?)`

func (q *Queries) InsertReportRun(ctx context.Context, arg ReportRun) error {
	_, err := q.db.ExecContext(ctx, insertReportRun, arg.RunID, arg.GeneratedAt, arg.Source, arg.RecordCount, arg.SkippedDates)
	return err
}

const insertLocationMonthTotal = `INSERT INTO location_month_totals
    (run_id, seq, location, iso_code, month, total_vaccinations, cum_total_vaccinations)
VALUES (?, ?, ?, ?, ?, ?, ?)`

func (q *Queries) PrepareInsertLocationMonthTotal(ctx context.Context) (*sql.Stmt, error) {
	return q.db.PrepareContext(ctx, insertLocationMonthTotal)
}

const insertContinentMonthTotal = `INSERT INTO continent_month_totals (run_id, continent_name, month, cum_total_vaccinations)
VALUES (?, ?, ?, ?)`

func (q *Queries) PrepareInsertContinentMonthTotal(ctx context.Context) (*sql.Stmt, error) {
	return q.db.PrepareContext(ctx, insertContinentMonthTotal)
}

const getLatestReportRun = `SELECT run_id, generated_at, source, record_count, skipped_dates
FROM report_runs
ORDER BY generated_at DESC, rowid DESC
LIMIT 1`

func (q *Queries) GetLatestReportRun(ctx context.Context) (ReportRun, error) {
	row := q.db.QueryRowContext(ctx, getLatestReportRun)
	var i ReportRun
	err := row.Scan(&i.RunID, &i.GeneratedAt, &i.Source, &i.RecordCount, &i.SkippedDates)
	return i, err
}

const getReportRun = `SELECT run_id, generated_at, source, record_count, skipped_dates
FROM report_runs
WHERE run_id = ?`

func (q *Queries) GetReportRun(ctx context.Context, runID string) (ReportRun, error) {
	row := q.db.QueryRowContext(ctx, getReportRun, runID)
	var i ReportRun
	err := row.Scan(&i.RunID, &i.GeneratedAt, &i.Source, &i.RecordCount, &i.SkippedDates)
	return i, err
}

const listLocationMonthTotals = `SELECT location, iso_code, month, total_vaccinations, cum_total_vaccinations
FROM location_month_totals
WHERE run_id = ?
ORDER BY seq`

func (q *Queries) ListLocationMonthTotals(ctx context.Context, runID string) ([]LocationMonthTotal, error) {
	rows, err := q.db.QueryContext(ctx, listLocationMonthTotals, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []LocationMonthTotal
	for rows.Next() {
		var i LocationMonthTotal
		if err := rows.Scan(&i.Location, &i.IsoCode, &i.Month, &i.TotalVaccinations, &i.CumTotalVaccinations); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

const listContinentMonthTotals = `SELECT continent_name, month, cum_total_vaccinations
FROM continent_month_totals
WHERE run_id = ?
ORDER BY continent_name, month`

func (q *Queries) ListContinentMonthTotals(ctx context.Context, runID string) ([]ContinentMonthTotal, error) {
	rows, err := q.db.QueryContext(ctx, listContinentMonthTotals, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []ContinentMonthTotal
	for rows.Next() {
		var i ContinentMonthTotal
		if err := rows.Scan(&i.ContinentName, &i.Month, &i.CumTotalVaccinations); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

const listReportRuns = `SELECT r.run_id, r.generated_at, r.source, r.record_count, r.skipped_dates,
    (SELECT COUNT(*) FROM location_month_totals l WHERE l.run_id = r.run_id) AS location_rows,
    (SELECT COUNT(*) FROM continent_month_totals c WHERE c.run_id = r.run_id) AS continent_rows
FROM report_runs r
ORDER BY r.generated_at DESC, r.rowid DESC
LIMIT ?`

func (q *Queries) ListReportRuns(ctx context.Context, limit int64) ([]RunSummary, error) {
	rows, err := q.db.QueryContext(ctx, listReportRuns, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []RunSummary
	for rows.Next() {
		var i RunSummary
		if err := rows.Scan(&i.RunID, &i.GeneratedAt, &i.Source, &i.RecordCount, &i.SkippedDates, &i.LocationRows, &i.ContinentRows); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	return items, rows.Err()
}

const deleteReportRunsBefore = `DELETE FROM report_runs
WHERE run_id NOT IN (
    SELECT run_id FROM report_runs ORDER BY generated_at DESC, rowid DESC LIMIT ?
)`

// PruneReportRuns keeps the newest keep runs. Totals cascade.
func (q *Queries) PruneReportRuns(ctx context.Context, keep int64) (int64, error) {
	res, err := q.db.ExecContext(ctx, deleteReportRunsBefore, keep)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const deleteOrphanLocationTotals = `DELETE FROM location_month_totals
WHERE run_id NOT IN (SELECT run_id FROM report_runs)`

const deleteOrphanContinentTotals = `DELETE FROM continent_month_totals
WHERE run_id NOT IN (SELECT run_id FROM report_runs)`

// DeleteOrphanTotals removes totals left behind when foreign keys are off.
func (q *Queries) DeleteOrphanTotals(ctx context.Context) error {
	if _, err := q.db.ExecContext(ctx, deleteOrphanLocationTotals); err != nil {
		return err
	}
	_, err := q.db.ExecContext(ctx, deleteOrphanContinentTotals)
	return err
}

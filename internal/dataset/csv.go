// Package dataset reads the vaccination feed from tabular files.
package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"vaxdash/internal/core"
)

// Required column names, matched case-insensitively.
const (
	ColumnLocation          = "location"
	ColumnISOCode           = "iso_code"
	ColumnDate              = "date"
	ColumnTotalVaccinations = "total_vaccinations"
)

// RequiredColumns lists the columns every input table must carry.
var RequiredColumns = []string{ColumnLocation, ColumnISOCode, ColumnDate, ColumnTotalVaccinations}

var (
	ErrMissingColumns = errors.New("missing required columns")
	ErrEmptyInput     = errors.New("input has no header row")
)

// MissingColumnsError reports which required columns a header lacks.
type MissingColumnsError struct {
	Missing []string
	Header  []string
}

func (e *MissingColumnsError) Error() string {
	return fmt.Sprintf("%s: %s; got headers=%v", ErrMissingColumns, strings.Join(e.Missing, ","), e.Header)
}

func (e *MissingColumnsError) Unwrap() error {
	return ErrMissingColumns
}

// Stats describes rows that loaded with degraded values.
type Stats struct {
	Rows          int
	MissingDates  int
	AbsentCounts  int
	InvalidCounts int
}

// Columns holds the index of each required column within a header row.
type Columns struct {
	Location          int
	ISOCode           int
	Date              int
	TotalVaccinations int
}

// LocateColumns finds the required columns in header. Extra columns are
// ignored and order does not matter.
func LocateColumns(header []string) (Columns, error) {
	idx := map[string]int{}
	for i, h := range header {
		name := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
		if _, dup := idx[name]; !dup {
			idx[name] = i
		}
	}
	var missing []string
	lookup := func(name string) int {
		i, ok := idx[name]
		if !ok {
			missing = append(missing, name)
			return -1
		}
		return i
	}
	cols := Columns{
		Location:          lookup(ColumnLocation),
		ISOCode:           lookup(ColumnISOCode),
		Date:              lookup(ColumnDate),
		TotalVaccinations: lookup(ColumnTotalVaccinations),
	}
	if len(missing) > 0 {
		return Columns{}, &MissingColumnsError{Missing: missing, Header: header}
	}
	return cols, nil
}

// Record converts one data row. Short rows yield empty cells.
func (c Columns) Record(row []string, stats *Stats) core.VaccinationRecord {
	r := core.VaccinationRecord{
		Location: strings.TrimSpace(safeGet(row, c.Location)),
		ISOCode:  strings.TrimSpace(safeGet(row, c.ISOCode)),
		Date:     core.ParseDate(safeGet(row, c.Date)),
	}
	raw := safeGet(row, c.TotalVaccinations)
	count, err := core.ParseCount(raw)
	if err != nil {
		slog.Debug("Invalid vaccination count treated as absent", "location", r.Location, "date", r.Date, "value", raw, "error", err)
	}
	r.TotalVaccinations = count

	if stats != nil {
		stats.Rows++
		if r.Date.IsMissing() {
			stats.MissingDates++
		}
		switch {
		case err != nil:
			stats.InvalidCounts++
		case !count.Valid:
			stats.AbsentCounts++
		}
	}
	return r
}

// ReadVaccinations parses a CSV stream whose first row is a header.
//
// Rows with unparseable dates or counts are kept with a missing date or an
// absent count. A header lacking a required column is a fatal error.
func ReadVaccinations(r io.Reader) ([]core.VaccinationRecord, Stats, error) {
	var stats Stats
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, stats, ErrEmptyInput
	}
	if err != nil {
		return nil, stats, fmt.Errorf("read header: %w", err)
	}
	cols, err := LocateColumns(append([]string(nil), header...))
	if err != nil {
		return nil, stats, err
	}

	var records []core.VaccinationRecord
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, stats, fmt.Errorf("read row %d: %w", stats.Rows+2, err)
		}
		if isBlank(row) {
			continue
		}
		records = append(records, cols.Record(row, &stats))
	}
	return records, stats, nil
}

// ParseRows applies the same rules as ReadVaccinations to an in-memory table,
// such as the values matrix returned by a spreadsheet API.
func ParseRows(rows [][]string) ([]core.VaccinationRecord, Stats, error) {
	var stats Stats
	if len(rows) == 0 {
		return nil, stats, ErrEmptyInput
	}
	cols, err := LocateColumns(rows[0])
	if err != nil {
		return nil, stats, err
	}
	records := make([]core.VaccinationRecord, 0, len(rows)-1)
	for _, row := range rows[1:] {
		if isBlank(row) {
			continue
		}
		records = append(records, cols.Record(row, &stats))
	}
	return records, stats, nil
}

// LoadFile reads a vaccination CSV from disk.
func LoadFile(path string) ([]core.VaccinationRecord, Stats, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, Stats{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	records, stats, err := ReadVaccinations(f)
	if err != nil {
		return nil, stats, fmt.Errorf("load %s: %w", path, err)
	}
	return records, stats, nil
}

func safeGet(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return row[i]
}

func isBlank(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

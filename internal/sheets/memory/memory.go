package memory

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"time"

	"vaxdash/internal/core"
	"vaxdash/internal/dataset"
	ports "vaxdash/internal/sheets"
)

var (
	_ ports.VaccinationReader = (*Store)(nil)
	_ ports.ReportWriter      = (*Store)(nil)
	_ ports.ReportReader      = (*Store)(nil)
)

// Store serves records from a CSV file and keeps the last written report in
// memory. The file is re-read when its modification time changes.
type Store struct {
	mu      sync.Mutex
	path    string
	modTime time.Time
	records []core.VaccinationRecord
	stats   dataset.Stats
	report  *core.Report
	writes  int
}

// New returns a store over a fixed set of records.
func New(records []core.VaccinationRecord) *Store {
	return &Store{records: append([]core.VaccinationRecord(nil), records...)}
}

// NewFromFile loads path. A missing file yields an empty store and a warning;
// any other read or header problem is returned.
func NewFromFile(path string) (*Store, error) {
	s := &Store{path: path}
	if err := s.reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// reload must be called with mu held or before the store is shared.
func (s *Store) reload() error {
	info, err := os.Stat(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		if s.modTime.IsZero() {
			slog.Warn("Vaccinations file not found, starting with no records", "path", s.path)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat %s: %w", s.path, err)
	}
	if info.ModTime().Equal(s.modTime) {
		return nil
	}

	records, stats, err := dataset.LoadFile(s.path)
	if err != nil {
		return err
	}
	s.records, s.stats, s.modTime = records, stats, info.ModTime()
	slog.Info("Vaccinations loaded", "path", s.path, "records", len(records), "missing_dates", stats.MissingDates, "invalid_counts", stats.InvalidCounts)
	return nil
}

// ListVaccinations returns a copy of the current records.
func (s *Store) ListVaccinations(_ context.Context) ([]core.VaccinationRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path != "" {
		if err := s.reload(); err != nil {
			return nil, err
		}
	}
	return append([]core.VaccinationRecord(nil), s.records...), nil
}

// Stats returns the load statistics of the last file read.
func (s *Store) Stats() dataset.Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// WriteReport retains r and returns a synthetic reference.
func (s *Store) WriteReport(_ context.Context, r core.Report) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.report = &r
	s.writes++
	return fmt.Sprintf("mem:%d", s.writes), nil
}

func (s *Store) LatestReport(_ context.Context) (core.Report, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.report == nil {
		return core.Report{}, ports.ErrNoReport
	}
	return *s.report, nil
}

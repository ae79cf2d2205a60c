package services

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"vaxdash/internal/core"
	"vaxdash/internal/log"
)

type fakeReader struct {
	records []core.VaccinationRecord
	err     error
	calls   atomic.Int32
	// gate, when set, blocks ListVaccinations until closed.
	gate chan struct{}
}

func (f *fakeReader) ListVaccinations(ctx context.Context) ([]core.VaccinationRecord, error) {
	f.calls.Add(1)
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.records, f.err
}

func rec(location, iso string, y, m, d int, total int64) core.VaccinationRecord {
	return core.VaccinationRecord{Location: location, ISOCode: iso, Date: core.NewDate(y, m, d), TotalVaccinations: core.NewCount(total)}
}

func testRecords() []core.VaccinationRecord {
	return []core.VaccinationRecord{
		rec("United States", "USA", 2021, 1, 10, 100),
		rec("United States", "USA", 2021, 2, 3, 50),
		rec("Italy", "ITA", 2021, 1, 4, 30),
		rec("Italy", "ITA", 2021, 3, 1, 20),
		rec("World", "OWID_WRL", 2021, 1, 1, 1000),
		{Location: "Italy", ISOCode: "ITA", TotalVaccinations: core.NewCount(999)},
	}
}

func newTestService(reader *fakeReader, ttl time.Duration) *ReportService {
	s := NewReportService(reader, ReportOptions{Source: "memory", CacheTTL: ttl})
	var n atomic.Int32
	s.newID = func() string {
		return "run-" + string(rune('0'+n.Add(1)))
	}
	s.now = func() time.Time { return time.Date(2021, 4, 1, 0, 0, 0, 0, time.UTC) }
	return s
}

func TestBuildReport(t *testing.T) {
	r := BuildReport(testRecords())
	if r.RecordCount != 6 || r.SkippedDates != 1 {
		t.Fatalf("unexpected counts %+v", r.Summary())
	}

	jan := core.MonthKey{Year: 2021, Month: 1}
	feb := core.MonthKey{Year: 2021, Month: 2}
	mar := core.MonthKey{Year: 2021, Month: 3}
	want := []core.ContinentMonthTotal{
		{ContinentName: "Europe", Month: jan, CumTotalVaccinations: 30},
		{ContinentName: "Europe", Month: mar, CumTotalVaccinations: 50},
		{ContinentName: "North America", Month: jan, CumTotalVaccinations: 100},
		{ContinentName: "North America", Month: feb, CumTotalVaccinations: 150},
	}
	if diff := cmp.Diff(want, r.Continents); diff != "" {
		t.Fatalf("continents mismatch (-want +got):\n%s", diff)
	}
	if len(r.Locations) != 5 {
		t.Fatalf("expected 5 location rows including OWID_WRL, got %d", len(r.Locations))
	}
}

func TestReportService_BuildCachesUntilInvalidated(t *testing.T) {
	reader := &fakeReader{records: testRecords()}
	s := newTestService(reader, time.Minute)
	ctx := context.Background()

	first, err := s.Build(ctx)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if first.RunID != "run-1" || first.Source != "memory" || first.GeneratedAt.IsZero() {
		t.Fatalf("unexpected run metadata %+v", first.Summary())
	}

	second, _ := s.Build(ctx)
	if second.RunID != first.RunID || reader.calls.Load() != 1 {
		t.Fatalf("expected cached report, calls=%d run=%s", reader.calls.Load(), second.RunID)
	}
	if _, ok := s.Cached(); !ok {
		t.Fatal("Cached() should report a hit")
	}

	s.Invalidate()
	if _, ok := s.Cached(); ok {
		t.Fatal("Cached() should miss after Invalidate")
	}
	third, _ := s.Rebuild(ctx)
	if third.RunID != "run-2" || reader.calls.Load() != 2 || s.Builds() != 2 {
		t.Fatalf("expected recompute, calls=%d builds=%d run=%s", reader.calls.Load(), s.Builds(), third.RunID)
	}
	if s.Latency().Count != 2 {
		t.Fatalf("expected two latency observations, got %d", s.Latency().Count)
	}
}

func TestReportService_BuildExpires(t *testing.T) {
	reader := &fakeReader{records: testRecords()}
	s := newTestService(reader, time.Millisecond)

	if _, err := s.Build(context.Background()); err != nil {
		t.Fatalf("Build: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if _, err := s.Build(context.Background()); err != nil {
		t.Fatalf("Build: %v", err)
	}
	if reader.calls.Load() != 2 {
		t.Fatalf("expected expired entry to trigger a rebuild, calls=%d", reader.calls.Load())
	}
}

func TestReportService_ConcurrentBuildsCoalesce(t *testing.T) {
	reader := &fakeReader{records: testRecords(), gate: make(chan struct{})}
	s := newTestService(reader, time.Minute)

	const callers = 10
	var wg sync.WaitGroup
	ids := make([]string, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := s.Build(context.Background())
			if err != nil {
				t.Errorf("Build: %v", err)
				return
			}
			ids[i] = r.RunID
		}(i)
	}

	time.Sleep(20 * time.Millisecond)
	close(reader.gate)
	wg.Wait()

	if reader.calls.Load() != 1 {
		t.Fatalf("expected a single load, got %d", reader.calls.Load())
	}
	for _, id := range ids {
		if id != "run-1" {
			t.Fatalf("all callers should share run-1, got %v", ids)
		}
	}
}

func waitForCalls(t *testing.T, reader *fakeReader, n int32) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for reader.calls.Load() < n {
		if time.Now().After(deadline) {
			t.Fatalf("reader called %d times, want %d", reader.calls.Load(), n)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestReportService_BuildSurvivesCallerCancel(t *testing.T) {
	reader := &fakeReader{records: testRecords(), gate: make(chan struct{})}
	s := newTestService(reader, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := s.Build(ctx)
		first <- err
	}()
	waitForCalls(t, reader, 1)

	second := make(chan error, 1)
	go func() {
		_, err := s.Build(context.Background())
		second <- err
	}()
	cancel()
	time.Sleep(10 * time.Millisecond)
	close(reader.gate)

	if err := <-first; err != nil {
		t.Fatalf("first caller: %v", err)
	}
	if err := <-second; err != nil {
		t.Fatalf("second caller must not see the first caller's cancellation: %v", err)
	}
	if _, ok := s.Cached(); !ok {
		t.Fatal("report should be cached")
	}
	if reader.calls.Load() != 1 {
		t.Fatalf("expected a single load, got %d", reader.calls.Load())
	}
}

func TestReportService_InvalidateDuringBuild(t *testing.T) {
	reader := &fakeReader{records: testRecords(), gate: make(chan struct{})}
	s := newTestService(reader, time.Minute)

	type result struct {
		r   core.Report
		err error
	}
	stale := make(chan result, 1)
	go func() {
		r, err := s.Build(context.Background())
		stale <- result{r, err}
	}()
	waitForCalls(t, reader, 1)

	s.Invalidate()
	fresh := make(chan result, 1)
	go func() {
		r, err := s.Build(context.Background())
		fresh <- result{r, err}
	}()
	// The post-invalidation build must start its own load.
	waitForCalls(t, reader, 2)
	close(reader.gate)

	old, cur := <-stale, <-fresh
	if old.err != nil || cur.err != nil {
		t.Fatalf("Build errors: %v, %v", old.err, cur.err)
	}
	if old.r.RunID == cur.r.RunID {
		t.Fatalf("refresh joined the stale build %s", old.r.RunID)
	}
	cached, ok := s.Cached()
	if !ok || cached.RunID != cur.r.RunID {
		t.Fatalf("cached run = %q (%v), want %q", cached.RunID, ok, cur.r.RunID)
	}
}

func TestReportService_BuildError(t *testing.T) {
	boom := errors.New("boom")
	s := newTestService(&fakeReader{err: boom}, time.Minute)

	if _, err := s.Build(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped reader error, got %v", err)
	}
	if _, ok := s.Cached(); ok {
		t.Fatal("failed build must not be cached")
	}
}

func TestReportService_Filters(t *testing.T) {
	s := newTestService(&fakeReader{records: testRecords()}, time.Minute)
	ctx := context.Background()

	tests := []struct {
		name    string
		filter  LocationFilter
		wantLen int
	}{
		{"all", LocationFilter{}, 5},
		{"by name", LocationFilter{Location: "italy"}, 2},
		{"by iso", LocationFilter{Location: "USA"}, 2},
		{"by range", LocationFilter{Months: MonthRange{From: core.MonthKey{Year: 2021, Month: 2}}}, 2},
		{"unknown", LocationFilter{Location: "Atlantis"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rows, err := s.Locations(ctx, tt.filter)
			if err != nil {
				t.Fatalf("Locations: %v", err)
			}
			if len(rows) != tt.wantLen {
				t.Fatalf("got %d rows, want %d: %+v", len(rows), tt.wantLen, rows)
			}
		})
	}

	rows, err := s.Continents(ctx, ContinentFilter{Continent: "europe"})
	if err != nil || len(rows) != 2 || rows[0].ContinentName != "Europe" {
		t.Fatalf("unexpected continent rows %+v %v", rows, err)
	}

	if _, err := s.Continents(ctx, ContinentFilter{Continent: "Atlantis"}); !errors.Is(err, ErrUnknownContinent) || !IsInputError(err) {
		t.Fatalf("expected ErrUnknownContinent, got %v", err)
	}

	// Filtering must not mutate the cached report.
	full, _ := s.Build(ctx)
	if len(full.Locations) != 5 || len(full.Continents) != 4 {
		t.Fatalf("cached report was mutated: %+v", full.Summary())
	}
}

func TestParseMonthRange(t *testing.T) {
	r, err := ParseMonthRange("2021-01", "2021-03")
	if err != nil || !r.Contains(core.MonthKey{Year: 2021, Month: 2}) || r.Contains(core.MonthKey{Year: 2021, Month: 4}) {
		t.Fatalf("unexpected range %+v %v", r, err)
	}
	if _, err := ParseMonthRange("2021-05", "2021-01"); !errors.Is(err, ErrInvalidRange) {
		t.Fatalf("expected ErrInvalidRange, got %v", err)
	}
	if _, err := ParseMonthRange("January", ""); !IsInputError(err) {
		t.Fatalf("expected input error, got %v", err)
	}
	if _, err := ParseMonthRange("", "2021-13"); !IsInputError(err) {
		t.Fatalf("expected input error for month 13, got %v", err)
	}
	if r, err := ParseMonthRange("", ""); err != nil || !r.Contains(core.MonthKey{Year: 1999, Month: 1}) {
		t.Fatalf("open range should contain everything: %v", err)
	}
}

func TestCanonicalContinent(t *testing.T) {
	cases := map[string]string{
		"Europe":        "Europe",
		"north america": "North America",
		"OCEANIA":       "Oceania",
		"Antarctica":    "",
		"":              "",
	}
	for in, want := range cases {
		if got := canonicalContinent(in); got != want {
			t.Errorf("canonicalContinent(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestReportService_BuildLogsThroughContextLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := log.New(log.Config{Level: slog.LevelInfo, Component: log.ComponentHTTP, Output: &buf})
	ctx := log.NewContext(context.Background(), logger)

	s := newTestService(&fakeReader{records: testRecords()}, time.Minute)
	if _, err := s.Build(ctx); err != nil {
		t.Fatalf("Build: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"run_id=run-1", "source=memory", "records=6", "location_rows=5", "continent_rows=4", "skipped_dates=1"} {
		if !strings.Contains(out, want) {
			t.Errorf("log output missing %q:\n%s", want, out)
		}
	}
}

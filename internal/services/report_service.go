package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"vaxdash/internal/cache"
	"vaxdash/internal/core"
	"vaxdash/internal/metrics"
	"vaxdash/internal/pipeline"
	"vaxdash/internal/log"
	ports "vaxdash/internal/sheets"
)

// ReportService builds the location and continent series from a record source
// and keeps the latest result in a TTL cache.
type ReportService struct {
	reader  ports.VaccinationReader
	source  string
	cache   cache.Cache[core.Report]
	group   singleflight.Group
	latency *metrics.LatencyRecorder

	now   func() time.Time
	newID func() string

	builds atomic.Int64
	// generation is bumped by Invalidate. Builds started under an older
	// generation neither share a flight with newer ones nor fill the cache.
	generation atomic.Uint64
}

type ReportOptions struct {
	// Source labels reports with the backend they were built from.
	Source    string
	CacheSize int
	CacheTTL  time.Duration
	// Latency receives one observation per computed build. Optional.
	Latency *metrics.LatencyRecorder
}

func NewReportService(reader ports.VaccinationReader, opts ReportOptions) *ReportService {
	if opts.CacheSize <= 0 {
		opts.CacheSize = 16
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 10 * time.Minute
	}
	if opts.Latency == nil {
		opts.Latency = metrics.NewLatencyRecorder()
	}
	return &ReportService{
		reader:  reader,
		source:  opts.Source,
		cache:   cache.NewLRUCache[core.Report](opts.CacheSize, opts.CacheTTL),
		latency: opts.Latency,
		now:     time.Now,
		newID:   func() string { return uuid.NewString() },
	}
}

func (s *ReportService) cacheKey() string {
	return "report:" + s.source
}

// Build returns the cached report when it is still fresh. Otherwise it loads
// the records and runs the pipeline; concurrent callers share that work.
// The shared build is not cancelled when the caller that started it goes away.
func (s *ReportService) Build(ctx context.Context) (core.Report, error) {
	if r, ok := s.cache.Get(s.cacheKey()); ok {
		return r, nil
	}

	gen := s.generation.Load()
	flight := s.cacheKey() + "#" + strconv.FormatUint(gen, 10)
	buildCtx := context.WithoutCancel(ctx)
	v, err, shared := s.group.Do(flight, func() (any, error) {
		if r, ok := s.cache.Get(s.cacheKey()); ok {
			return r, nil
		}
		r, err := s.compute(buildCtx)
		if err != nil {
			return core.Report{}, err
		}
		if s.generation.Load() == gen {
			s.cache.Set(s.cacheKey(), r)
		} else {
			slog.DebugContext(buildCtx, "Report invalidated during build, not cached", log.FieldRunID, r.RunID)
		}
		return r, nil
	})
	if err != nil {
		return core.Report{}, err
	}
	if shared {
		slog.DebugContext(ctx, "Report build shared with concurrent caller", log.FieldSource, s.source)
	}
	return v.(core.Report), nil
}

// Rebuild drops the cached report and computes a new one.
func (s *ReportService) Rebuild(ctx context.Context) (core.Report, error) {
	s.Invalidate()
	return s.Build(ctx)
}

// Invalidate drops the cached report so the next Build recomputes it from
// fresh records, even while an older build is still running.
func (s *ReportService) Invalidate() {
	s.generation.Add(1)
	s.cache.Delete(s.cacheKey())
}

// Cached returns the cached report without triggering a build.
func (s *ReportService) Cached() (core.Report, bool) {
	return s.cache.Get(s.cacheKey())
}

func (s *ReportService) compute(ctx context.Context) (core.Report, error) {
	start := time.Now()
	records, err := s.reader.ListVaccinations(ctx)
	if err != nil {
		return core.Report{}, fmt.Errorf("load vaccinations: %w", err)
	}

	r := BuildReport(records)
	r.RunID = s.newID()
	r.GeneratedAt = s.now().UTC()
	r.Source = s.source

	elapsed := time.Since(start)
	s.latency.Record(elapsed)
	s.builds.Add(1)

	log.NewStructuredLogger(log.FromContext(ctx)).LogReportBuilt(ctx,
		r.RunID, r.Source, r.RecordCount, len(r.Locations), len(r.Continents), r.SkippedDates,
		elapsed.Milliseconds())
	return r, nil
}

// BuildReport runs the aggregation and continent rollup over records. The
// returned report carries no run metadata.
func BuildReport(records []core.VaccinationRecord) core.Report {
	skipped := 0
	for _, rec := range records {
		if rec.Date.IsMissing() {
			skipped++
		}
	}
	locations := pipeline.Aggregate(records)
	return core.Report{
		RecordCount:  len(records),
		SkippedDates: skipped,
		Locations:    locations,
		Continents:   pipeline.Rollup(locations),
	}
}

// Builds returns how many reports were computed, excluding cache hits.
func (s *ReportService) Builds() int64 {
	return s.builds.Load()
}

// CleanExpired drops the cached report once its TTL has passed.
func (s *ReportService) CleanExpired() int {
	if c, ok := s.cache.(cache.Cleaner); ok {
		return c.CleanExpired()
	}
	return 0
}

func (s *ReportService) CacheStats() cache.Stats {
	return s.cache.Stats()
}

func (s *ReportService) Latency() metrics.Snapshot {
	return s.latency.Snapshot()
}

func (s *ReportService) Source() string {
	return s.source
}

// Locations returns the cumulative location rows matching f.
func (s *ReportService) Locations(ctx context.Context, f LocationFilter) ([]core.CumulativeLocationMonthTotal, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	r, err := s.Build(ctx)
	if err != nil {
		return nil, err
	}
	return f.Apply(r.Locations), nil
}

// Continents returns the continent rows matching f.
func (s *ReportService) Continents(ctx context.Context, f ContinentFilter) ([]core.ContinentMonthTotal, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	r, err := s.Build(ctx)
	if err != nil {
		return nil, err
	}
	return f.Apply(r.Continents), nil
}

// IsInputError reports whether err comes from invalid filter input.
func IsInputError(err error) bool {
	return errors.Is(err, ErrInvalidRange) || errors.Is(err, ErrUnknownContinent) || errors.Is(err, core.ErrInvalidMonthKey) || errors.Is(err, core.ErrInvalidMonth)
}

package core

import (
	"slices"
	"time"
)

// LocationMonthTotal is the sum of a location's daily counts for one month.
type LocationMonthTotal struct {
	Location          string   `json:"location"`
	ISOCode           string   `json:"iso_code"`
	Month             MonthKey `json:"month"`
	TotalVaccinations int64    `json:"total_vaccinations"`
}

// CumulativeLocationMonthTotal carries the running total of a location up to
// and including Month.
type CumulativeLocationMonthTotal struct {
	LocationMonthTotal
	CumTotalVaccinations int64 `json:"cum_total_vaccinations"`
}

// ContinentMonthTotal sums cumulative location totals per continent and month.
type ContinentMonthTotal struct {
	ContinentName        string   `json:"continent_name"`
	Month                MonthKey `json:"month"`
	CumTotalVaccinations int64    `json:"cum_total_vaccinations"`
}

// Report is one computed snapshot of both result sets.
type Report struct {
	RunID        string                         `json:"run_id"`
	GeneratedAt  time.Time                      `json:"generated_at"`
	Source       string                         `json:"source"`
	RecordCount  int                            `json:"record_count"`
	SkippedDates int                            `json:"skipped_dates"`
	Locations    []CumulativeLocationMonthTotal `json:"locations"`
	Continents   []ContinentMonthTotal          `json:"continents"`
}

// Months returns the distinct months present in the continent series, in order.
func (r Report) Months() []MonthKey {
	seen := map[MonthKey]struct{}{}
	var out []MonthKey
	for _, c := range r.Continents {
		if _, ok := seen[c.Month]; ok {
			continue
		}
		seen[c.Month] = struct{}{}
		out = append(out, c.Month)
	}
	slices.SortFunc(out, MonthKey.Compare)
	return out
}

// IsEmpty reports whether the report has no rows at all.
func (r Report) IsEmpty() bool {
	return len(r.Locations) == 0 && len(r.Continents) == 0
}

// RunSummary describes a persisted report run without its rows.
type RunSummary struct {
	RunID         string    `json:"run_id"`
	GeneratedAt   time.Time `json:"generated_at"`
	Source        string    `json:"source"`
	RecordCount   int       `json:"record_count"`
	SkippedDates  int       `json:"skipped_dates"`
	LocationRows  int       `json:"location_rows"`
	ContinentRows int       `json:"continent_rows"`
}

// Summary returns the run metadata of r.
func (r Report) Summary() RunSummary {
	return RunSummary{
		RunID:         r.RunID,
		GeneratedAt:   r.GeneratedAt,
		Source:        r.Source,
		RecordCount:   r.RecordCount,
		SkippedDates:  r.SkippedDates,
		LocationRows:  len(r.Locations),
		ContinentRows: len(r.Continents),
	}
}

// Package pipeline turns the raw vaccination feed into the two series the
// dashboard serves: cumulative totals per location and month, and the same
// totals rolled up by continent.
//
// All functions are pure: they never mutate their input and keep no state
// between calls.
package pipeline

import (
	"cmp"
	"slices"

	"vaxdash/internal/core"
)

type locationMonth struct {
	location string
	isoCode  string
	month    core.MonthKey
}

// Aggregate groups records by location, ISO code and month, sums the daily
// counts (absent counts are zero) and attaches a running total per location.
//
// Records with a missing date are skipped. The output is ordered by location
// then month; cumulative totals reset at every location boundary.
func Aggregate(records []core.VaccinationRecord) []core.CumulativeLocationMonthTotal {
	sums := make(map[locationMonth]int64)
	for _, r := range records {
		month, ok := r.Date.MonthKey()
		if !ok {
			continue
		}
		sums[locationMonth{r.Location, r.ISOCode, month}] += r.TotalVaccinations.OrZero()
	}

	rows := make([]core.LocationMonthTotal, 0, len(sums))
	for k, total := range sums {
		rows = append(rows, core.LocationMonthTotal{
			Location:          k.location,
			ISOCode:           k.isoCode,
			Month:             k.month,
			TotalVaccinations: total,
		})
	}
	SortLocationMonths(rows)

	return Accumulate(rows)
}

// SortLocationMonths orders rows by location, then month, then ISO code.
// Accumulate relies on this order.
func SortLocationMonths(rows []core.LocationMonthTotal) {
	slices.SortFunc(rows, func(a, b core.LocationMonthTotal) int {
		if c := cmp.Compare(a.Location, b.Location); c != 0 {
			return c
		}
		if c := a.Month.Compare(b.Month); c != 0 {
			return c
		}
		return cmp.Compare(a.ISOCode, b.ISOCode)
	})
}

// Accumulate walks rows already sorted by SortLocationMonths and emits the
// running total for each, resetting whenever the location changes.
func Accumulate(rows []core.LocationMonthTotal) []core.CumulativeLocationMonthTotal {
	out := make([]core.CumulativeLocationMonthTotal, 0, len(rows))
	var running int64
	for i, row := range rows {
		if i == 0 || row.Location != rows[i-1].Location {
			running = row.TotalVaccinations
		} else {
			running += row.TotalVaccinations
		}
		out = append(out, core.CumulativeLocationMonthTotal{
			LocationMonthTotal:   row,
			CumTotalVaccinations: running,
		})
	}
	return out
}

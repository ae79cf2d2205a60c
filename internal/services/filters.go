package services

import (
	"errors"
	"fmt"
	"strings"

	"vaxdash/internal/core"
	"vaxdash/internal/pipeline"
)

var (
	ErrInvalidRange     = errors.New("invalid month range")
	ErrUnknownContinent = errors.New("unknown continent")
)

// MonthRange is an inclusive range of months. A zero bound is open.
type MonthRange struct {
	From core.MonthKey
	To   core.MonthKey
}

// ParseMonthRange parses optional YYYY-MM bounds.
func ParseMonthRange(from, to string) (MonthRange, error) {
	var r MonthRange
	if strings.TrimSpace(from) != "" {
		k, err := core.ParseMonthKey(from)
		if err != nil {
			return MonthRange{}, fmt.Errorf("from: %w", err)
		}
		r.From = k
	}
	if strings.TrimSpace(to) != "" {
		k, err := core.ParseMonthKey(to)
		if err != nil {
			return MonthRange{}, fmt.Errorf("to: %w", err)
		}
		r.To = k
	}
	return r, r.Validate()
}

func (r MonthRange) Validate() error {
	if !r.From.IsZero() && !r.To.IsZero() && r.To.Before(r.From) {
		return fmt.Errorf("%w: %s is after %s", ErrInvalidRange, r.From, r.To)
	}
	return nil
}

func (r MonthRange) Contains(k core.MonthKey) bool {
	if !r.From.IsZero() && k.Before(r.From) {
		return false
	}
	if !r.To.IsZero() && r.To.Before(k) {
		return false
	}
	return true
}

// LocationFilter selects cumulative rows. Location matches the location name
// or its ISO code, case-insensitively; empty matches all.
type LocationFilter struct {
	Location string
	Months   MonthRange
}

func (f LocationFilter) Validate() error {
	return f.Months.Validate()
}

// Apply returns the matching rows in a new slice.
func (f LocationFilter) Apply(rows []core.CumulativeLocationMonthTotal) []core.CumulativeLocationMonthTotal {
	want := strings.TrimSpace(f.Location)
	out := make([]core.CumulativeLocationMonthTotal, 0, len(rows))
	for _, r := range rows {
		if want != "" && !strings.EqualFold(r.Location, want) && !strings.EqualFold(r.ISOCode, want) {
			continue
		}
		if !f.Months.Contains(r.Month) {
			continue
		}
		out = append(out, r)
	}
	return out
}

// ContinentFilter selects continent rows. Continent must be one of the known
// display names, matched case-insensitively, or empty.
type ContinentFilter struct {
	Continent string
	Months    MonthRange
}

func (f ContinentFilter) Validate() error {
	if name := strings.TrimSpace(f.Continent); name != "" && canonicalContinent(name) == "" {
		return fmt.Errorf("%w: %q", ErrUnknownContinent, name)
	}
	return f.Months.Validate()
}

func (f ContinentFilter) Apply(rows []core.ContinentMonthTotal) []core.ContinentMonthTotal {
	want := canonicalContinent(strings.TrimSpace(f.Continent))
	out := make([]core.ContinentMonthTotal, 0, len(rows))
	for _, r := range rows {
		if want != "" && r.ContinentName != want {
			continue
		}
		if !f.Months.Contains(r.Month) {
			continue
		}
		out = append(out, r)
	}
	return out
}

func canonicalContinent(name string) string {
	if pipeline.IsContinentName(name) {
		return name
	}
	for _, n := range pipeline.ContinentNames() {
		if strings.EqualFold(n, name) {
			return n
		}
	}
	return ""
}

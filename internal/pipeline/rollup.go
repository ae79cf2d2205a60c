package pipeline

import (
	"cmp"
	"slices"
	"strings"

	"vaxdash/internal/core"
)

// Continent codes with a display name. AN (Antarctica) has none.
var continentNames = map[string]string{
	"AS": "Asia",
	"SA": "South America",
	"OC": "Oceania",
	"AF": "Africa",
	"EU": "Europe",
	"NA": "North America",
}

// ISOToContinent returns the two-letter continent code for an ISO 3166-1
// alpha-3 country code.
//
// ok is false for codes that are not countries: unknown or malformed codes
// and the aggregate region codes the feed carries (OWID_WRL, OWID_EUR, ...).
// Those are expected input, not errors. Antarctic territories resolve to AN,
// which has no continent name, so they report ok == false as well.
func ISOToContinent(iso3 string) (code string, ok bool) {
	iso3 = strings.ToUpper(strings.TrimSpace(iso3))
	if len(iso3) != 3 {
		return "", false
	}
	alpha2, ok := alpha3ToAlpha2[iso3]
	if !ok {
		return "", false
	}
	code, ok = alpha2ToContinent[alpha2]
	if !ok {
		return "", false
	}
	if _, named := continentNames[code]; !named {
		return "", false
	}
	return code, true
}

// ContinentName maps a continent code to its display name.
func ContinentName(code string) (string, bool) {
	name, ok := continentNames[code]
	return name, ok
}

// ContinentNames lists the names Rollup can emit, sorted.
func ContinentNames() []string {
	names := make([]string, 0, len(continentNames))
	for _, n := range continentNames {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// IsContinentName reports whether name is one of ContinentNames.
func IsContinentName(name string) bool {
	for _, n := range continentNames {
		if n == name {
			return true
		}
	}
	return false
}

// LocationContinent resolves the continent name for an ISO code in one step.
func LocationContinent(iso3 string) (string, bool) {
	code, ok := ISOToContinent(iso3)
	if !ok {
		return "", false
	}
	return ContinentName(code)
}

type continentMonth struct {
	name  string
	month core.MonthKey
}

// Rollup sums cumulative location totals by continent and month.
//
// Rows whose ISO code does not resolve to one of the six named continents are
// dropped before grouping. Output is ordered by continent name, then month.
func Rollup(rows []core.CumulativeLocationMonthTotal) []core.ContinentMonthTotal {
	sums := make(map[continentMonth]int64)
	for _, row := range rows {
		name, ok := LocationContinent(row.ISOCode)
		if !ok {
			continue
		}
		sums[continentMonth{name, row.Month}] += row.CumTotalVaccinations
	}

	out := make([]core.ContinentMonthTotal, 0, len(sums))
	for k, total := range sums {
		out = append(out, core.ContinentMonthTotal{
			ContinentName:        k.name,
			Month:                k.month,
			CumTotalVaccinations: total,
		})
	}
	slices.SortFunc(out, func(a, b core.ContinentMonthTotal) int {
		if c := cmp.Compare(a.ContinentName, b.ContinentName); c != 0 {
			return c
		}
		return a.Month.Compare(b.Month)
	})
	return out
}

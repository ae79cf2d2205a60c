package google

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"vaxdash/internal/core"
)

var (
	locationHeader  = []any{"location", "iso_code", "month", "total_vaccinations", "cum_total_vaccinations"}
	continentHeader = []any{"continent_name", "month", "cum_total_vaccinations"}
)

// locationRows renders the cumulative location series as a values matrix.
func locationRows(r core.Report) [][]any {
	out := make([][]any, 0, len(r.Locations)+1)
	out = append(out, locationHeader)
	for _, row := range r.Locations {
		out = append(out, []any{
			row.Location,
			row.ISOCode,
			row.Month.String(),
			row.TotalVaccinations,
			row.CumTotalVaccinations,
		})
	}
	return out
}

func continentRows(r core.Report) [][]any {
	out := make([][]any, 0, len(r.Continents)+1)
	out = append(out, continentHeader)
	for _, row := range r.Continents {
		out = append(out, []any{row.ContinentName, row.Month.String(), row.CumTotalVaccinations})
	}
	return out
}

// toStrings normalizes a sheet row. Numbers come back from the API as float64
// and are rendered without exponent so counts survive the round trip.
func toStrings(in []any) []string {
	out := make([]string, len(in))
	for i, v := range in {
		switch n := v.(type) {
		case float64:
			if n == math.Trunc(n) {
				out[i] = strconv.FormatFloat(n, 'f', 0, 64)
			} else {
				out[i] = strconv.FormatFloat(n, 'f', -1, 64)
			}
		default:
			out[i] = strings.TrimSpace(fmt.Sprint(v))
		}
	}
	return out
}

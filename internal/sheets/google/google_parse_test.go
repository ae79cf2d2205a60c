package google

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"vaxdash/internal/core"
)

func TestParseVaccinations(t *testing.T) {
	values := [][]any{
		{"location", "iso_code", "date", "total_vaccinations", "people_vaccinated"},
		{"Italy", "ITA", "2021-01-04", 1000.0, 900.0},
		{"Italy", "ITA", "2021-01-05", 2.5e6},
		{"World", "OWID_WRL", "", ""},
		{},
	}
	records, stats, err := parseVaccinations(values)
	if err != nil {
		t.Fatalf("parse err: %v", err)
	}
	want := []core.VaccinationRecord{
		{Location: "Italy", ISOCode: "ITA", Date: core.NewDate(2021, 1, 4), TotalVaccinations: core.NewCount(1000)},
		{Location: "Italy", ISOCode: "ITA", Date: core.NewDate(2021, 1, 5), TotalVaccinations: core.NewCount(2500000)},
		{Location: "World", ISOCode: "OWID_WRL"},
	}
	if diff := cmp.Diff(want, records); diff != "" {
		t.Fatalf("records mismatch (-want +got):\n%s", diff)
	}
	if stats.MissingDates != 1 || stats.AbsentCounts != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestParseVaccinations_MissingHeader(t *testing.T) {
	if _, _, err := parseVaccinations([][]any{{"location", "date"}}); err == nil {
		t.Fatal("expected error for missing columns")
	}
}

func TestToStrings(t *testing.T) {
	got := toStrings([]any{" Italy ", 1000.0, 1.5, 12345678901.0})
	want := []string{"Italy", "1000", "1.5", "12345678901"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("toStrings mismatch (-want +got):\n%s", diff)
	}
}

func TestReportRows(t *testing.T) {
	jan := core.MonthKey{Year: 2021, Month: 1}
	r := core.Report{
		Locations: []core.CumulativeLocationMonthTotal{{
			LocationMonthTotal:   core.LocationMonthTotal{Location: "Italy", ISOCode: "ITA", Month: jan, TotalVaccinations: 10},
			CumTotalVaccinations: 10,
		}},
		Continents: []core.ContinentMonthTotal{{ContinentName: "Europe", Month: jan, CumTotalVaccinations: 10}},
	}

	loc := locationRows(r)
	if len(loc) != 2 || loc[1][0] != "Italy" || loc[1][2] != "2021-01" {
		t.Fatalf("unexpected location rows %v", loc)
	}
	cont := continentRows(r)
	if len(cont) != 2 || cont[0][0] != "continent_name" || cont[1][2] != int64(10) {
		t.Fatalf("unexpected continent rows %v", cont)
	}
}

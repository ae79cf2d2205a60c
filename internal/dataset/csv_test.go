package dataset

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"vaxdash/internal/core"
)

const sampleCSV = `location,iso_code,date,total_vaccinations,people_vaccinated
Albania,ALB,2021-01-10,0,0
Albania,ALB,2021-01-11,,
Albania,ALB,2021/01/12,128,128
World,OWID_WRL,2021-01-10,1000.0,900

Albania,ALB,2021-02-01,-3,
`

func TestReadVaccinations(t *testing.T) {
	records, stats, err := ReadVaccinations(strings.NewReader(sampleCSV))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []core.VaccinationRecord{
		{Location: "Albania", ISOCode: "ALB", Date: core.NewDate(2021, 1, 10), TotalVaccinations: core.NewCount(0)},
		{Location: "Albania", ISOCode: "ALB", Date: core.NewDate(2021, 1, 11)},
		{Location: "Albania", ISOCode: "ALB", Date: core.Date{}, TotalVaccinations: core.NewCount(128)},
		{Location: "World", ISOCode: "OWID_WRL", Date: core.NewDate(2021, 1, 10), TotalVaccinations: core.NewCount(1000)},
		{Location: "Albania", ISOCode: "ALB", Date: core.NewDate(2021, 2, 1)},
	}
	if diff := cmp.Diff(want, records); diff != "" {
		t.Fatalf("records mismatch (-want +got):\n%s", diff)
	}
	wantStats := Stats{Rows: 5, MissingDates: 1, AbsentCounts: 1, InvalidCounts: 1}
	if stats != wantStats {
		t.Fatalf("stats = %+v, want %+v", stats, wantStats)
	}
}

func TestReadVaccinationsColumnOrderAndCase(t *testing.T) {
	in := "\ufeffTotal_Vaccinations, DATE ,ISO_CODE,Location\n5,2021-03-01,PER,Peru\n"
	records, _, err := ReadVaccinations(strings.NewReader(in))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 1 || records[0].Location != "Peru" || records[0].TotalVaccinations.Value != 5 {
		t.Fatalf("unexpected records %+v", records)
	}
}

func TestReadVaccinationsMissingColumns(t *testing.T) {
	_, _, err := ReadVaccinations(strings.NewReader("location,date\nPeru,2021-01-01\n"))
	if !errors.Is(err, ErrMissingColumns) {
		t.Fatalf("expected ErrMissingColumns, got %v", err)
	}
	var mce *MissingColumnsError
	if !errors.As(err, &mce) {
		t.Fatalf("expected *MissingColumnsError, got %T", err)
	}
	if diff := cmp.Diff([]string{"iso_code", "total_vaccinations"}, mce.Missing); diff != "" {
		t.Fatalf("missing columns mismatch (-want +got):\n%s", diff)
	}
}

func TestReadVaccinationsEmpty(t *testing.T) {
	if _, _, err := ReadVaccinations(strings.NewReader("")); !errors.Is(err, ErrEmptyInput) {
		t.Fatalf("expected ErrEmptyInput, got %v", err)
	}
}

func TestReadVaccinationsShortRows(t *testing.T) {
	records, stats, err := ReadVaccinations(strings.NewReader("location,iso_code,date,total_vaccinations\nChad,TCD\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 1 || !records[0].Date.IsMissing() || records[0].TotalVaccinations.Valid {
		t.Fatalf("short row should load with missing date and absent count: %+v", records)
	}
	if stats.MissingDates != 1 || stats.AbsentCounts != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vaccinations.csv")
	if err := os.WriteFile(path, []byte(sampleCSV), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	records, _, err := LoadFile(path)
	if err != nil || len(records) != 5 {
		t.Fatalf("LoadFile: %d records, err=%v", len(records), err)
	}

	if _, _, err := LoadFile(filepath.Join(dir, "nope.csv")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestParseRows(t *testing.T) {
	rows := [][]string{
		{"Date", "Location", "ISO_Code", "Total_Vaccinations"},
		{"2021-01-04", "Italy", "ITA", "1000"},
		{"", "", "", ""},
		{"bad", "Italy", "ITA", "x"},
	}
	records, stats, err := ParseRows(rows)
	if err != nil {
		t.Fatalf("ParseRows: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected blank row skipped, got %d records", len(records))
	}
	if records[0].TotalVaccinations.OrZero() != 1000 || records[0].ISOCode != "ITA" {
		t.Fatalf("unexpected first record %+v", records[0])
	}
	if stats.MissingDates != 1 || stats.InvalidCounts != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	if _, _, err := ParseRows(nil); !errors.Is(err, ErrEmptyInput) {
		t.Fatalf("expected ErrEmptyInput, got %v", err)
	}
	if _, _, err := ParseRows([][]string{{"location"}}); !errors.Is(err, ErrMissingColumns) {
		t.Fatalf("expected ErrMissingColumns, got %v", err)
	}
}

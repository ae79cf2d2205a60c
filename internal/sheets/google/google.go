package google

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"vaxdash/internal/core"
	"vaxdash/internal/dataset"
	ports "vaxdash/internal/sheets"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"
)

type Client struct {
	svc               *gsheet.Service
	spreadsheetID     string
	vaccinationsSheet string
	// Report sheets are named "<prefix> Locations" and "<prefix> Continents".
	reportPrefix string
}

var (
	_ ports.VaccinationReader = (*Client)(nil)
	_ ports.ReportWriter      = (*Client)(nil)
)

// Options configures a Client. Credentials are taken from CredentialsJSON,
// then CredentialsFile, then GOOGLE_APPLICATION_CREDENTIALS.
type Options struct {
	SpreadsheetID     string
	VaccinationsSheet string
	ReportPrefix      string
	CredentialsJSON   string
	CredentialsFile   string

	// ClientOptions are appended after the credential options.
	ClientOptions []goption.ClientOption
}

// New creates a Sheets client authenticated with a service account.
func New(ctx context.Context, opts Options) (*Client, error) {
	if strings.TrimSpace(opts.SpreadsheetID) == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}
	creds, err := credentialsJSON(opts)
	if err != nil {
		return nil, err
	}

	clientOpts := []goption.ClientOption{
		goption.WithCredentialsJSON(creds),
		goption.WithScopes(gsheet.SpreadsheetsScope),
	}
	svc, err := gsheet.NewService(ctx, append(clientOpts, opts.ClientOptions...)...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	slog.InfoContext(ctx, "Google Sheets service created", "spreadsheet_id", opts.SpreadsheetID)
	return newWithService(svc, opts), nil
}

func newWithService(svc *gsheet.Service, opts Options) *Client {
	sheet := strings.TrimSpace(opts.VaccinationsSheet)
	if sheet == "" {
		sheet = "Vaccinations"
	}
	prefix := strings.TrimSpace(opts.ReportPrefix)
	if prefix == "" {
		prefix = "Report"
	}
	return &Client{
		svc:               svc,
		spreadsheetID:     strings.TrimSpace(opts.SpreadsheetID),
		vaccinationsSheet: sheet,
		reportPrefix:      prefix,
	}
}

func credentialsJSON(opts Options) ([]byte, error) {
	inline := strings.TrimSpace(opts.CredentialsJSON)
	file := strings.TrimSpace(opts.CredentialsFile)
	if inline == "" && file == "" {
		file = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}

	switch {
	case inline != "":
		return []byte(inline), nil
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		return data, nil
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON, GOOGLE_SERVICE_ACCOUNT_FILE, or GOOGLE_APPLICATION_CREDENTIALS)")
	}
}

// LocationsSheet is the sheet receiving cumulative location rows.
func (c *Client) LocationsSheet() string { return c.reportPrefix + " Locations" }

// ContinentsSheet is the sheet receiving continent rows.
func (c *Client) ContinentsSheet() string { return c.reportPrefix + " Continents" }

// ListVaccinations reads the whole vaccinations sheet. The first row must be
// a header carrying the required columns.
func (c *Client) ListVaccinations(ctx context.Context) ([]core.VaccinationRecord, error) {
	if c.svc == nil {
		return nil, errors.New("sheets service not initialized")
	}
	rng := fmt.Sprintf("%s!A:Z", c.vaccinationsSheet)
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rng, err)
	}

	records, stats, err := parseVaccinations(resp.Values)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", c.vaccinationsSheet, err)
	}
	slog.InfoContext(ctx, "Vaccinations read from sheet",
		"sheet", c.vaccinationsSheet,
		"records", len(records),
		"missing_dates", stats.MissingDates,
		"invalid_counts", stats.InvalidCounts)
	return records, nil
}

// WriteReport replaces the contents of both report sheets with r.
func (c *Client) WriteReport(ctx context.Context, r core.Report) (string, error) {
	if c.svc == nil {
		return "", errors.New("sheets service not initialized")
	}
	if err := c.replaceSheet(ctx, c.LocationsSheet(), locationRows(r)); err != nil {
		return "", err
	}
	if err := c.replaceSheet(ctx, c.ContinentsSheet(), continentRows(r)); err != nil {
		return "", err
	}
	ref := fmt.Sprintf("%s#%s", c.spreadsheetID, r.RunID)
	slog.InfoContext(ctx, "Report exported to sheets",
		"run_id", r.RunID,
		"location_rows", len(r.Locations),
		"continent_rows", len(r.Continents))
	return ref, nil
}

func (c *Client) replaceSheet(ctx context.Context, sheet string, rows [][]any) error {
	all := fmt.Sprintf("%s!A:Z", sheet)
	if _, err := c.svc.Spreadsheets.Values.Clear(c.spreadsheetID, all, &gsheet.ClearValuesRequest{}).Context(ctx).Do(); err != nil {
		return fmt.Errorf("clear %s: %w", sheet, err)
	}

	rng := fmt.Sprintf("%s!A1", sheet)
	vr := &gsheet.ValueRange{Values: rows}
	_, err := c.svc.Spreadsheets.Values.Update(c.spreadsheetID, rng, vr).
		ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("update %s: %w", sheet, err)
	}
	return nil
}

func parseVaccinations(values [][]any) ([]core.VaccinationRecord, dataset.Stats, error) {
	rows := make([][]string, len(values))
	for i, v := range values {
		rows[i] = toStrings(v)
	}
	return dataset.ParseRows(rows)
}

package backend

import (
	"context"

	"vaxdash/internal/sheets"
)

// Backend is a record source that can also store computed reports.
type Backend interface {
	sheets.VaccinationReader
	sheets.ReportWriter
}

// CleanupFunc releases backend resources.
type CleanupFunc func() error

// ReadyFunc reports whether the backend can serve requests.
type ReadyFunc func(ctx context.Context) error

// BackendResult contains the backend and its optional hooks.
type BackendResult struct {
	Backend Backend
	Type    BackendType
	// Latest is set when the backend can return stored reports.
	Latest  sheets.ReportReader
	Ready   ReadyFunc
	Cleanup CleanupFunc
}

// Close runs Cleanup when present.
func (r *BackendResult) Close() error {
	if r == nil || r.Cleanup == nil {
		return nil
	}
	return r.Cleanup()
}

// Factory creates backends based on configuration
type Factory interface {
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
}

type GoogleConfig struct {
	SpreadsheetID     string
	VaccinationsSheet string
	ReportPrefix      string
	CredentialsJSON   string
	CredentialsFile   string
}

// Config holds configuration for backend creation
type Config struct {
	Type BackendType

	// Memory backend
	VaccinationsPath string

	// SQLite backend
	SQLiteDBPath string

	// Google Sheets backend, also used for report export
	Google GoogleConfig
}

// BackendType represents the type of backend
type BackendType string

const (
	SQLiteBackend BackendType = "sqlite"
	SheetsBackend BackendType = "sheets"
	MemoryBackend BackendType = "memory"
)

func (bt BackendType) String() string {
	return string(bt)
}

func (bt BackendType) IsValid() bool {
	switch bt {
	case SQLiteBackend, SheetsBackend, MemoryBackend:
		return true
	default:
		return false
	}
}

package backend

import (
	"context"
	"fmt"
	"log/slog"

	"vaxdash/internal/log"
	gsheet "vaxdash/internal/sheets/google"
	"vaxdash/internal/sheets/memory"
	"vaxdash/internal/storage"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *slog.Logger
}

func NewFactory(logger *slog.Logger) Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &DefaultFactory{logger: logger}
}

// CreateBackend implements Factory.CreateBackend
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	switch config.Type {
	case SQLiteBackend:
		return f.createSQLiteBackend(ctx, config)
	case SheetsBackend:
		return f.createSheetsBackend(ctx, config)
	case MemoryBackend:
		return f.createMemoryBackend(config)
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
}

func (f *DefaultFactory) createSQLiteBackend(ctx context.Context, config Config) (*BackendResult, error) {
	repo, err := storage.NewSQLiteRepository(config.SQLiteDBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize SQLite repository: %w", err)
	}

	n, err := repo.CountRecords(ctx)
	if err != nil {
		_ = repo.Close()
		return nil, fmt.Errorf("failed to inspect SQLite repository: %w", err)
	}
	if n == 0 {
		f.logger.Warn("SQLite backend holds no vaccination records; run vaxdash-import", "db_path", config.SQLiteDBPath)
	}
	version, _, err := storage.SchemaVersion(config.SQLiteDBPath)
	if err != nil {
		f.logger.Warn("Could not read SQLite schema version", log.FieldError, err)
	}
	f.logger.Info("Initialized SQLite backend",
		log.FieldComponent, log.ComponentStorage,
		"db_path", config.SQLiteDBPath,
		"schema_version", version,
		log.FieldRecords, n)

	return &BackendResult{
		Backend: repo,
		Type:    SQLiteBackend,
		Latest:  repo,
		Ready:   repo.Ping,
		Cleanup: repo.Close,
	}, nil
}

func (f *DefaultFactory) createSheetsBackend(ctx context.Context, config Config) (*BackendResult, error) {
	cli, err := NewSheetsClient(ctx, config.Google)
	if err != nil {
		return nil, err
	}

	f.logger.Info("Initialized Google Sheets backend",
		log.FieldComponent, log.ComponentSheets,
		"spreadsheet_id", config.Google.SpreadsheetID,
		"sheet", config.Google.VaccinationsSheet)

	return &BackendResult{Backend: cli, Type: SheetsBackend}, nil
}

func (f *DefaultFactory) createMemoryBackend(config Config) (*BackendResult, error) {
	store, err := memory.NewFromFile(config.VaccinationsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize memory backend: %w", err)
	}

	f.logger.Info("Initialized memory backend", "path", config.VaccinationsPath)

	return &BackendResult{Backend: store, Type: MemoryBackend, Latest: store}, nil
}

// NewSheetsClient builds a Google Sheets client for reading the feed or
// exporting reports.
func NewSheetsClient(ctx context.Context, cfg GoogleConfig) (*gsheet.Client, error) {
	cli, err := gsheet.New(ctx, gsheet.Options{
		SpreadsheetID:     cfg.SpreadsheetID,
		VaccinationsSheet: cfg.VaccinationsSheet,
		ReportPrefix:      cfg.ReportPrefix,
		CredentialsJSON:   cfg.CredentialsJSON,
		CredentialsFile:   cfg.CredentialsFile,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Google Sheets client: %w", err)
	}
	return cli, nil
}

package backend

import (
	"errors"
	"fmt"

	"vaxdash/internal/config"
)

// FromAppConfig converts the application config to backend config
func FromAppConfig(appConfig *config.Config) (Config, error) {
	if appConfig == nil {
		return Config{}, errors.New("app config is nil")
	}

	backendType := BackendType(appConfig.DataBackend)
	if !backendType.IsValid() {
		return Config{}, fmt.Errorf("invalid backend type in config: %s (want one of %v)", appConfig.DataBackend, GetBackendTypeStrings())
	}

	return Config{
		Type:             backendType,
		VaccinationsPath: appConfig.VaccinationsPath(),
		SQLiteDBPath:     appConfig.SQLiteDBPath,
		Google: GoogleConfig{
			SpreadsheetID:     appConfig.GoogleSpreadsheetID,
			VaccinationsSheet: appConfig.GoogleVaccinationsSheet,
			ReportPrefix:      appConfig.GoogleReportSheetPrefix,
			CredentialsJSON:   appConfig.GoogleServiceAccountJSON,
			CredentialsFile:   appConfig.GoogleServiceAccountFile,
		},
	}, nil
}

// Validate validates the backend configuration
func (c Config) Validate() error {
	if !c.Type.IsValid() {
		return fmt.Errorf("invalid backend type: %s (want one of %v)", c.Type, GetBackendTypeStrings())
	}

	switch c.Type {
	case SQLiteBackend:
		if c.SQLiteDBPath == "" {
			return errors.New("SQLite database path is required for sqlite backend")
		}
	case SheetsBackend:
		if c.Google.SpreadsheetID == "" {
			return errors.New("Google Spreadsheet ID is required for sheets backend")
		}
		if c.Google.VaccinationsSheet == "" {
			return errors.New("Google vaccinations sheet name is required for sheets backend")
		}
	case MemoryBackend:
		if c.VaccinationsPath == "" {
			return errors.New("vaccinations file path is required for memory backend")
		}
	}
	return nil
}

// GetBackendTypes returns all valid backend types
func GetBackendTypes() []BackendType {
	return []BackendType{SQLiteBackend, SheetsBackend, MemoryBackend}
}

func GetBackendTypeStrings() []string {
	types := GetBackendTypes()
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = t.String()
	}
	return out
}

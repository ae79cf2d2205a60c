package sheets

import (
	"context"
	"errors"

	"vaxdash/internal/core"
)

// ErrNoReport is returned by report readers before any report was written.
var ErrNoReport = errors.New("no report available")

// Ports for record sources and report sinks.
type (
	// VaccinationReader supplies the raw daily feed.
	VaccinationReader interface {
		ListVaccinations(ctx context.Context) ([]core.VaccinationRecord, error)
	}

	// ReportWriter persists or exports a computed report and returns a
	// backend-specific reference to what was written.
	ReportWriter interface {
		WriteReport(ctx context.Context, r core.Report) (ref string, err error)
	}

	ReportReader interface {
		LatestReport(ctx context.Context) (core.Report, error)
	}
)

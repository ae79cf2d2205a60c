// Package cli holds the start-up steps shared by the vaxdash commands.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"vaxdash/internal/config"
	"vaxdash/internal/log"
)

// LoadEnvFile loads .env for local development. A missing file is ignored.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// Bootstrap loads .env and the configuration, installs a logger for
// component as the slog default and validates the configuration. The logger
// is returned even when validation fails so the caller can report it.
func Bootstrap(component string, validate bool) (*config.Config, *log.Logger, error) {
	LoadEnvFile()

	cfg, err := config.Load()
	if err != nil {
		logger := log.New(log.Config{Component: component, Output: os.Stdout})
		return nil, logger, fmt.Errorf("load configuration: %w", err)
	}

	logger := log.New(log.Config{
		Level:     log.ParseLevel(cfg.LogLevel),
		Component: component,
		Output:    os.Stdout,
	})
	log.SetDefault(logger)

	if validate {
		if err := cfg.Validate(); err != nil {
			return cfg, logger, err
		}
	}
	return cfg, logger, nil
}

// Fatal logs err and exits with status 1.
func Fatal(logger *log.Logger, msg string, err error, args ...any) {
	logger.Error(msg, append([]any{log.FieldError, err}, args...)...)
	os.Exit(1)
}

// ShutdownContext returns a context cancelled on SIGINT or SIGTERM. The
// received signal is logged.
func ShutdownContext(logger *log.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			logger.Info("Shutdown signal received", "signal", sig.String(), log.FieldOperation, log.OpShutdown)
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}

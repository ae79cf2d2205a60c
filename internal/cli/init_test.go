package cli

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestBootstrap(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("PORT", "9090")

	cfg, logger, err := Bootstrap("import", true)
	if err != nil {
		t.Fatalf("Bootstrap() error = %v", err)
	}
	if cfg.Port != "9090" {
		t.Errorf("Port = %s", cfg.Port)
	}
	if logger.Component() != "import" {
		t.Errorf("Component = %s", logger.Component())
	}
}

func TestBootstrapValidation(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	t.Setenv("PORT", "not-a-port")

	cfg, logger, err := Bootstrap("app", true)
	if err == nil || !strings.Contains(err.Error(), "invalid port") {
		t.Fatalf("expected validation error, got %v", err)
	}
	if cfg == nil || logger == nil {
		t.Fatal("config and logger should be returned with a validation error")
	}

	if _, _, err := Bootstrap("app", false); err != nil {
		t.Fatalf("validation disabled, got %v", err)
	}
}

func TestBootstrapBadConfigFile(t *testing.T) {
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))

	if _, logger, err := Bootstrap("app", true); err == nil || logger == nil {
		t.Fatalf("expected load error with a fallback logger, got err=%v", err)
	}
}

func TestShutdownContextCancel(t *testing.T) {
	_, logger, _ := Bootstrap("app", false)
	ctx, cancel := ShutdownContext(logger)
	cancel()
	<-ctx.Done()
}

package main

import (
	"testing"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/babyfood/internal/app"
)

func TestReadConfigFromEnv_Defaults(t *testing.T) {
	cfg, warnings := readConfigFromEnv(mapLookup(nil))

	if len(warnings) != 0 {
		t.Fatalf("expected no warnings, got %d", len(warnings))
	}
	if cfg != app.DefaultConfig() {
		t.Fatalf("expected default config, got %#v", cfg)
	}
}

func TestReadConfigFromEnv_Overrides(t *testing.T) {
	cfg, warnings := readConfigFromEnv(mapLookup(map[string]string{
		app.EnvHTTPAddr:      ":18080",
		app.EnvStorageDriver: "postgres",
		app.EnvSweepInterval: "bad",
	}))

	if len(warnings) != 1 {
		t.Fatalf("expected 1 warning, got %v", warnings)
	}
	if cfg.HTTPAddr != ":18080" || cfg.StorageDriver != app.StorageDriverPostgres {
		t.Fatalf("unexpected config: %#v", cfg)
	}
	if cfg.SweepInterval != app.DefaultConfig().SweepInterval {
		t.Fatalf("invalid sweep interval must keep default, got %s", cfg.SweepInterval)
	}
}

func TestSetupLogger(t *testing.T) {
	defer log.SetLevel(log.InfoLevel)

	if err := setupLogger("debug"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if log.GetLevel() != log.DebugLevel {
		t.Fatalf("expected debug level, got %s", log.GetLevel())
	}

	if err := setupLogger("verbose"); err == nil {
		t.Fatal("expected error for unknown level")
	}
	if log.GetLevel() != log.InfoLevel {
		t.Fatalf("unknown level must fall back to info, got %s", log.GetLevel())
	}
}

func mapLookup(values map[string]string) app.EnvLookup {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}

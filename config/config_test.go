package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/wippyai/microwasm/config"
	"github.com/wippyai/microwasm/engine"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}
	if got := cfg.Limits.EngineLimits(); got != engine.DefaultLimits() {
		t.Errorf("default limits = %+v, want %+v", got, engine.DefaultLimits())
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte(`
log_level: debug
limits:
  value_stack: 256
  memory_pages: 2
  budget: 100000
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}
	limits := cfg.Limits.EngineLimits()
	if limits.ValueStack != 256 {
		t.Errorf("ValueStack = %d", limits.ValueStack)
	}
	if limits.MemoryPages != 2 {
		t.Errorf("MemoryPages = %d", limits.MemoryPages)
	}
	if limits.Budget != 100_000 {
		t.Errorf("Budget = %d", limits.Budget)
	}

	// Settings absent from the file keep their defaults.
	if limits.CallDepth != engine.DefaultCallDepth {
		t.Errorf("CallDepth = %d", limits.CallDepth)
	}
	if limits.TableEntries != engine.DefaultTableEntries {
		t.Errorf("TableEntries = %d", limits.TableEntries)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestEnvironmentOverride(t *testing.T) {
	t.Setenv("MICROWASM_LOG_LEVEL", "warn")
	t.Setenv("MICROWASM_LIMITS_CALL_DEPTH", "32")

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}
	if cfg.Limits.CallDepth != 32 {
		t.Errorf("CallDepth = %d", cfg.Limits.CallDepth)
	}
}

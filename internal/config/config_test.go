package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Storage.Type != "memory" {
		t.Fatalf("expected default storage type memory, got %q", cfg.Storage.Type)
	}
	if cfg.Turn.MaxToolIterations != 25 {
		t.Fatalf("expected default max tool iterations 25, got %d", cfg.Turn.MaxToolIterations)
	}
	if cfg.Turn.ApprovalTimeout != 5*time.Minute {
		t.Fatalf("unexpected default approval timeout: %v", cfg.Turn.ApprovalTimeout)
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "turn:\n  max_tool_iterations: 5\n  streaming: true\nstorage:\n  type: sqlite\n  dsn: sqlite://test.db\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Turn.MaxToolIterations != 5 || !cfg.Turn.Streaming {
		t.Fatalf("unexpected turn config: %+v", cfg.Turn)
	}
	if cfg.Storage.Type != "sqlite" || cfg.Storage.DSN != "sqlite://test.db" {
		t.Fatalf("unexpected storage config: %+v", cfg.Storage)
	}
}

func TestLoadRejectsUnknownStorageType(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("storage:\n  type: carrier-pigeon\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for unknown storage type")
	}
}

func TestEnvOverridesStorageType(t *testing.T) {
	t.Setenv("AGENT_WORLD_STORAGE_TYPE", "sqlite")
	t.Setenv("AGENT_WORLD_STORAGE_DSN", "sqlite://env.db")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Storage.Type != "sqlite" || cfg.Storage.DSN != "sqlite://env.db" {
		t.Fatalf("env override not applied: %+v", cfg.Storage)
	}
}

package skills

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeSkillIn(t *testing.T, baseDir, id, description string) {
	t.Helper()
	skillDir := filepath.Join(baseDir, id)
	if err := os.MkdirAll(skillDir, 0o755); err != nil {
		t.Fatal(err)
	}
	content := "---\nname: " + id + "\ndescription: " + description + "\n---\nbody for " + id
	if err := os.WriteFile(filepath.Join(skillDir, SkillFilename), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestManagerProjectOverridesGlobal(t *testing.T) {
	projectDir := t.TempDir()
	agentsDir := filepath.Join(projectDir, ".agents", "skills")
	writeSkillIn(t, agentsDir, "shared", "project version")

	m := &Manager{
		logger:          discardLogger(),
		global:          map[string]*Entry{"shared": {ID: "shared", Description: "global version"}, "only-global": {ID: "only-global"}},
		projectByDir:    make(map[string]map[string]*Entry),
		enableProject:   true,
		disabledProject: map[string]bool{},
	}

	if err := m.syncProject(projectDir); err != nil {
		t.Fatalf("syncProject: %v", err)
	}

	merged := m.resolve(projectDir)
	if merged["shared"].Description != "project version" {
		t.Fatalf("expected project skill to override global, got %+v", merged["shared"])
	}
	if _, ok := merged["only-global"]; !ok {
		t.Fatal("expected global-only skill to remain visible")
	}
}

func TestManagerLoadNotFound(t *testing.T) {
	m := &Manager{
		logger:       discardLogger(),
		global:       map[string]*Entry{},
		projectByDir: make(map[string]map[string]*Entry),
	}
	if _, _, err := m.Load(context.Background(), "", "missing"); err == nil {
		t.Fatal("expected error for unknown skill")
	}
}

func TestManagerDisabledProjectSkillExcluded(t *testing.T) {
	projectDir := t.TempDir()
	agentsDir := filepath.Join(projectDir, ".agents", "skills")
	writeSkillIn(t, agentsDir, "blocked", "should be filtered")

	m := &Manager{
		logger:          discardLogger(),
		global:          map[string]*Entry{},
		projectByDir:    make(map[string]map[string]*Entry),
		enableProject:   true,
		disabledProject: map[string]bool{"blocked": true},
	}
	if err := m.syncProject(projectDir); err != nil {
		t.Fatalf("syncProject: %v", err)
	}
	if _, ok := m.resolve(projectDir)["blocked"]; ok {
		t.Fatal("expected disabled project skill to be excluded")
	}
}

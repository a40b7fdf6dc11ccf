package skills

import (
	"os"
	"path/filepath"
	"testing"
)

func writeSkill(t *testing.T, dir, front, body string) string {
	t.Helper()
	skillDir := filepath.Join(dir, "demo")
	if err := os.MkdirAll(skillDir, 0o755); err != nil {
		t.Fatal(err)
	}
	content := "---\n" + front + "---\n" + body
	path := filepath.Join(skillDir, SkillFilename)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestParseFileValid(t *testing.T) {
	dir := t.TempDir()
	path := writeSkill(t, dir, "name: demo\ndescription: demo skill\nexecutionDirective: run it\n", "Instructions body.\n")

	entry, err := ParseFile(path, ScopeGlobal)
	if err != nil {
		t.Fatalf("ParseFile: %v", err)
	}
	if entry.ID != "demo" || entry.Description != "demo skill" {
		t.Fatalf("unexpected entry: %+v", entry)
	}
	if entry.ExecutionDirective != "run it" {
		t.Fatalf("expected execution directive, got %q", entry.ExecutionDirective)
	}
	if entry.Instructions != "Instructions body." {
		t.Fatalf("unexpected instructions: %q", entry.Instructions)
	}
	if entry.Hash == "" {
		t.Fatal("expected non-empty hash")
	}
}

func TestParseFileMissingName(t *testing.T) {
	dir := t.TempDir()
	path := writeSkill(t, dir, "description: demo skill\n", "body\n")

	if _, err := ParseFile(path, ScopeGlobal); err == nil {
		t.Fatal("expected error for missing name")
	}
}

func TestParseFileMissingDelimiter(t *testing.T) {
	dir := t.TempDir()
	skillDir := filepath.Join(dir, "demo")
	if err := os.MkdirAll(skillDir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(skillDir, SkillFilename)
	if err := os.WriteFile(path, []byte("no frontmatter here"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := ParseFile(path, ScopeGlobal); err == nil {
		t.Fatal("expected error for missing frontmatter delimiter")
	}
}

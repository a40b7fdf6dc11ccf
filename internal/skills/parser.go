package skills

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// SkillFilename is the expected filename for a skill bundle.
const SkillFilename = "SKILL.md"

const frontmatterDelimiter = "---"

type frontmatter struct {
	Name               string `yaml:"name"`
	Description        string `yaml:"description"`
	ExecutionDirective string `yaml:"executionDirective"`
}

// ParseFile reads and parses a SKILL.md file.
//
// Splits front-matter from body with a bufio.Scanner, keeping only the
// three fields the load_skill envelope needs (name, description,
// executionDirective).
func ParseFile(path string, scope Scope) (*Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("skills: read %s: %w", path, err)
	}
	return Parse(data, filepath.Dir(path), scope)
}

// Parse parses SKILL.md content rooted at dir.
func Parse(data []byte, dir string, scope Scope) (*Entry, error) {
	fm, body, err := splitFrontmatter(data)
	if err != nil {
		return nil, fmt.Errorf("skills: split frontmatter: %w", err)
	}

	var meta frontmatter
	if err := yaml.Unmarshal(fm, &meta); err != nil {
		return nil, fmt.Errorf("skills: parse frontmatter: %w", err)
	}
	if meta.Name == "" {
		return nil, fmt.Errorf("skills: %s: name is required", dir)
	}
	if meta.Description == "" {
		return nil, fmt.Errorf("skills: %s: description is required", dir)
	}

	sum := sha256.Sum256(data)
	return &Entry{
		ID:                 meta.Name,
		Description:        meta.Description,
		Instructions:       strings.TrimSpace(string(body)),
		ExecutionDirective: meta.ExecutionDirective,
		Path:               dir,
		Scope:              scope,
		Hash:               hex.EncodeToString(sum[:]),
	}, nil
}

func splitFrontmatter(data []byte) (front []byte, body []byte, err error) {
	scanner := bufio.NewScanner(bytes.NewReader(data))

	if !scanner.Scan() {
		return nil, nil, fmt.Errorf("empty file")
	}
	if strings.TrimSpace(scanner.Text()) != frontmatterDelimiter {
		return nil, nil, fmt.Errorf("missing opening frontmatter delimiter")
	}

	var frontLines []string
	closed := false
	for scanner.Scan() {
		if strings.TrimSpace(scanner.Text()) == frontmatterDelimiter {
			closed = true
			break
		}
		frontLines = append(frontLines, scanner.Text())
	}
	if !closed {
		return nil, nil, fmt.Errorf("missing closing frontmatter delimiter")
	}

	var bodyLines []string
	for scanner.Scan() {
		bodyLines = append(bodyLines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("scan: %w", err)
	}

	return []byte(strings.Join(frontLines, "\n")), []byte(strings.Join(bodyLines, "\n")), nil
}

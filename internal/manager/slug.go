package manager

import (
	"fmt"
	"strings"
)

// slugify lowercases name and replaces every run of non-alphanumeric
// characters with a single hyphen, trimming leading/trailing hyphens.
// Agent/world IDs are derived this way so a human-chosen name stays
// legible in logs and URLs instead of becoming a bare uuid.
func slugify(name string) string {
	var b strings.Builder
	prevHyphen := true // suppresses a leading hyphen
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
			prevHyphen = false
		case !prevHyphen:
			b.WriteByte('-')
			prevHyphen = true
		}
	}
	slug := strings.TrimSuffix(b.String(), "-")
	if slug == "" {
		slug = "agent"
	}
	return slug
}

// uniqueSlug returns a slug for name that isn't already present in taken,
// appending "-2", "-3", ... until one is free.
func (m *Manager) uniqueSlug(taken map[string]bool, name string) string {
	base := slugify(name)
	if !taken[base] {
		return base
	}
	for n := 2; ; n++ {
		candidate := fmt.Sprintf("%s-%d", base, n)
		if !taken[candidate] {
			return candidate
		}
	}
}

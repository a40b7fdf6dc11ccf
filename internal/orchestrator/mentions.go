package orchestrator

import (
	"strings"
	"unicode"

	"github.com/agentworld/runtime/pkg/models"
)

// ExtractMentions returns the lowercased @-mention tokens in content. A
// mention is the "@" character followed by one or more identifier
// characters, itself bounded by whitespace or punctuation on both
// sides, so "email@host" is not a mention but "@a1 hi" and "(@a1)" are.
func ExtractMentions(content string) []string {
	var mentions []string
	runes := []rune(content)
	for i := 0; i < len(runes); i++ {
		if runes[i] != '@' {
			continue
		}
		if i > 0 && !isMentionBoundary(runes[i-1]) {
			continue
		}
		j := i + 1
		for j < len(runes) && isMentionChar(runes[j]) {
			j++
		}
		if j == i+1 {
			continue
		}
		mentions = append(mentions, strings.ToLower(string(runes[i+1:j])))
		i = j - 1
	}
	return mentions
}

func isMentionChar(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '-' || r == '.'
}

func isMentionBoundary(r rune) bool {
	return unicode.IsSpace(r) || unicode.IsPunct(r)
}

// IsMentioned reports whether content mentions agent by id or name,
// case-insensitive.
func IsMentioned(agent *models.Agent, content string) bool {
	for _, m := range ExtractMentions(content) {
		if m == strings.ToLower(agent.ID) || m == strings.ToLower(agent.Name) {
			return true
		}
	}
	return false
}

// MentionTarget returns the single agent id/name mentioned in content, or
// "" if zero or more than one distinct mention is present. Used to set
// Metadata.RecipientAgentID for a directed message.
func MentionTarget(content string, agents []*models.Agent) string {
	mentions := ExtractMentions(content)
	if len(mentions) == 0 {
		return ""
	}
	seen := make(map[string]bool)
	var targets []string
	for _, m := range mentions {
		for _, a := range agents {
			if m == strings.ToLower(a.ID) || m == strings.ToLower(a.Name) {
				if !seen[a.ID] {
					seen[a.ID] = true
					targets = append(targets, a.ID)
				}
			}
		}
	}
	if len(targets) == 1 {
		return targets[0]
	}
	return ""
}

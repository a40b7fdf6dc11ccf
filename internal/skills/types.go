// Package skills implements the skill registry: discovery of SKILL.md
// bundles from global and project-scoped directories, front-matter
// parsing, scope/disable-list gating, and hot-reload, exposed to
// internal/tools as a SkillProvider.
package skills

// Scope distinguishes where a skill was discovered, used for id-collision
// precedence (project overrides global) and for the
// AGENT_WORLD_ENABLE_*_SKILLS toggles.
type Scope string

const (
	ScopeGlobal  Scope = "global"
	ScopeProject Scope = "project"
)

// Entry is one discovered skill.
type Entry struct {
	// ID is the skill identifier from SKILL.md front-matter.
	ID string

	// Description is the short front-matter summary shown in
	// <available_skills> listings.
	Description string

	// Instructions is the markdown body, returned verbatim inside the
	// load_skill <instructions> envelope.
	Instructions string

	// ExecutionDirective is an optional front-matter field telling the
	// agent how to act on the skill (e.g. "run the referenced script via
	// shell_cmd"); empty when the skill is advisory-only.
	ExecutionDirective string

	// Path is the directory the skill was discovered in.
	Path string

	// Scope is global or project.
	Scope Scope

	// Hash is the SHA-256 of the whole SKILL.md file. Nothing compares it:
	// each sync replaces the registry's entries wholesale.
	Hash string
}

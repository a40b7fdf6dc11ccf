package orchestrator

import (
	"strings"
	"testing"

	"github.com/agentworld/runtime/internal/skills"
	"github.com/agentworld/runtime/pkg/models"
)

type fakeSkillLister struct {
	entries []*skills.Entry
}

func (f *fakeSkillLister) List(workingDirectory string) []*skills.Entry { return f.entries }

func TestBuildSystemPrompt_IncludesWorkingDirectory(t *testing.T) {
	agent := &models.Agent{ID: "a1", SystemPrompt: "You are a researcher."}

	got := BuildSystemPrompt(agent, nil, "/srv/project")
	if !strings.HasPrefix(got, "You are a researcher.") {
		t.Errorf("prompt should start with the agent's own prompt, got %q", got)
	}
	if !strings.Contains(got, "working directory: /srv/project") {
		t.Errorf("prompt should carry the working-directory line, got %q", got)
	}
	if strings.Contains(got, "available_skills") {
		t.Errorf("no skills, no skills block; got %q", got)
	}
}

func TestBuildSystemPrompt_ListsSkillsSortedByID(t *testing.T) {
	agent := &models.Agent{ID: "a1", SystemPrompt: "base"}
	lister := &fakeSkillLister{entries: []*skills.Entry{
		{ID: "zeta", Description: "last"},
		{ID: "alpha", Description: "first"},
	}}

	got := BuildSystemPrompt(agent, lister, "./")
	if !strings.Contains(got, "## Agent Skills") {
		t.Fatalf("expected skills header, got %q", got)
	}
	alpha := strings.Index(got, "- alpha: first")
	zeta := strings.Index(got, "- zeta: last")
	if alpha == -1 || zeta == -1 || alpha > zeta {
		t.Errorf("expected skills sorted by id inside <available_skills>, got %q", got)
	}
}

package skills

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// EnvEnableGlobal / EnvEnableProject / EnvDisabledGlobal / EnvDisabledProject
// are the scope-toggle environment variables.
const (
	EnvEnableGlobal    = "AGENT_WORLD_ENABLE_GLOBAL_SKILLS"
	EnvEnableProject   = "AGENT_WORLD_ENABLE_PROJECT_SKILLS"
	EnvDisabledGlobal  = "AGENT_WORLD_DISABLED_GLOBAL_SKILLS"
	EnvDisabledProject = "AGENT_WORLD_DISABLED_PROJECT_SKILLS"
)

// Manager is the process-wide skill registry: it syncs the global skill
// directories on construction and discovers project-scoped skills for a
// working directory when Sync is called with it. Watch re-syncs only the
// global scope; project directories are not watched.
// Layering is two-scope (global/project) plus a disable-list and
// env-toggle, backed by a mutex-guarded skills map and an fsnotify
// watch loop.
type Manager struct {
	logger *slog.Logger

	mu            sync.RWMutex
	global        map[string]*Entry            // id -> entry
	projectByDir  map[string]map[string]*Entry  // workingDir -> id -> entry
	enableGlobal  bool
	enableProject bool
	disabledGlobal  map[string]bool
	disabledProject map[string]bool

	watcher     *fsnotify.Watcher
	watchCancel context.CancelFunc
	watchedDirs map[string]bool
}

// NewManager constructs a Manager and performs the initial global
// discovery pass. Call Watch to keep it in sync with directory changes.
func NewManager() (*Manager, error) {
	m := &Manager{
		logger:          slog.Default().With("component", "skills"),
		global:          make(map[string]*Entry),
		projectByDir:    make(map[string]map[string]*Entry),
		enableGlobal:    envBoolDefault(EnvEnableGlobal, true),
		enableProject:   envBoolDefault(EnvEnableProject, true),
		disabledGlobal:  envSet(EnvDisabledGlobal),
		disabledProject: envSet(EnvDisabledProject),
		watchedDirs:     make(map[string]bool),
	}
	if err := m.syncGlobal(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Manager) syncGlobal() error {
	found := make(map[string]*Entry)
	if m.enableGlobal {
		for _, dir := range defaultGlobalDirs() {
			entries, err := newSource(dir, ScopeGlobal, m.logger).discover()
			if err != nil {
				return err
			}
			for _, e := range entries {
				if m.disabledGlobal[e.ID] {
					continue
				}
				found[e.ID] = e
			}
		}
	}
	m.mu.Lock()
	m.global = found
	m.mu.Unlock()
	return nil
}

// syncProject discovers (or re-discovers) the project-scoped skills for
// one world's working directory.
func (m *Manager) syncProject(workingDirectory string) error {
	dir := defaultProjectDir(workingDirectory)
	found := make(map[string]*Entry)
	if m.enableProject && dir != "" {
		entries, err := newSource(dir, ScopeProject, m.logger).discover()
		if err != nil {
			return err
		}
		for _, e := range entries {
			if m.disabledProject[e.ID] {
				continue
			}
			found[e.ID] = e
		}
	}
	m.mu.Lock()
	m.projectByDir[workingDirectory] = found
	m.mu.Unlock()
	return nil
}

// resolve returns the effective skill set for workingDirectory: global
// entries with project entries layered on top, so a project skill with
// the same id overrides its global counterpart.
func (m *Manager) resolve(workingDirectory string) map[string]*Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	merged := make(map[string]*Entry, len(m.global))
	for id, e := range m.global {
		merged[id] = e
	}
	for id, e := range m.projectByDir[workingDirectory] {
		merged[id] = e
	}
	return merged
}

// Sync refreshes both the global registry and the project registry for
// workingDirectory. The watch loop does not call it; a watch event
// refreshes only the global registry.
func (m *Manager) Sync(workingDirectory string) error {
	if err := m.syncGlobal(); err != nil {
		return err
	}
	return m.syncProject(workingDirectory)
}

// List returns the eligible skills visible to workingDirectory, sorted
// by id, for rendering the <available_skills> system-prompt block
func (m *Manager) List(workingDirectory string) []*Entry {
	merged := m.resolve(workingDirectory)
	out := make([]*Entry, 0, len(merged))
	for _, e := range merged {
		out = append(out, e)
	}
	sortEntries(out)
	return out
}

// Load implements internal/tools.SkillProvider: it returns the
// instructions body and execution directive for skillID, scoped to
// workingDirectory's project skills layered over the global registry.
func (m *Manager) Load(ctx context.Context, workingDirectory, skillID string) (string, string, error) {
	merged := m.resolve(workingDirectory)
	entry, ok := merged[skillID]
	if !ok {
		return "", "", fmt.Errorf("skills: unknown skill %q", skillID)
	}
	return entry.Instructions, entry.ExecutionDirective, nil
}

// Watch starts an fsnotify watch over the global skill directories that
// exist when it is called and re-runs the global sync on every create,
// write, remove or rename event in them, without debouncing. The watches
// are not recursive, so an edit to a SKILL.md inside a skill's own
// subdirectory does not trigger a sync; project directories are never
// watched.
func (m *Manager) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("skills: create watcher: %w", err)
	}
	m.watcher = watcher

	for _, dir := range defaultGlobalDirs() {
		m.addWatch(dir)
	}

	watchCtx, cancel := context.WithCancel(ctx)
	m.watchCancel = cancel
	go m.watchLoop(watchCtx)
	return nil
}

func (m *Manager) addWatch(dir string) {
	if m.watcher == nil || m.watchedDirs[dir] {
		return
	}
	if _, err := os.Stat(dir); err != nil {
		return
	}
	if err := m.watcher.Add(dir); err != nil {
		m.logger.Warn("skills: watch add failed", "dir", dir, "error", err)
		return
	}
	m.watchedDirs[dir] = true
}

func (m *Manager) watchLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if err := m.syncGlobal(); err != nil {
				m.logger.Warn("skills: resync after watch event failed", "error", err)
			}
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.logger.Warn("skills: watcher error", "error", err)
		}
	}
}

// Close stops the watch loop, if running.
func (m *Manager) Close() error {
	if m.watchCancel != nil {
		m.watchCancel()
	}
	if m.watcher != nil {
		return m.watcher.Close()
	}
	return nil
}

func sortEntries(entries []*Entry) {
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && entries[j-1].ID > entries[j].ID; j-- {
			entries[j-1], entries[j] = entries[j], entries[j-1]
		}
	}
}

func envBoolDefault(name string, def bool) bool {
	v, ok := os.LookupEnv(name)
	if !ok {
		return def
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "0", "false", "no", "off":
		return false
	case "1", "true", "yes", "on":
		return true
	default:
		return def
	}
}

func envSet(name string) map[string]bool {
	out := make(map[string]bool)
	raw := os.Getenv(name)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out[part] = true
		}
	}
	return out
}

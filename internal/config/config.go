// Package config loads Agent-World's runtime settings from a layered
// YAML file plus AGENT_WORLD_* environment overrides, via an
// ExpandEnv + strict yaml.Decoder + applyEnvOverrides + applyDefaults
// pipeline.
package config

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level runtime configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Turn     TurnConfig     `yaml:"turn"`
	Storage  StorageConfig  `yaml:"storage"`
	Skills   SkillsConfig   `yaml:"skills"`
	Provider ProviderConfig `yaml:"provider"`
}

// ServerConfig binds the HTTP/SSE/websocket listener cmd/agentworld
// starts in serve mode.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Addr formats the host:port pair for net.Listen.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// TurnConfig controls the orchestrator's per-turn limits and streaming
// mode.
type TurnConfig struct {
	// MaxToolIterations caps the tool-execution loop within one turn
	// before the orchestrator force-ends it.
	MaxToolIterations int `yaml:"max_tool_iterations"`

	// Streaming is decoded from YAML but not read by any package; the
	// serve command's --streaming flag alone sets the streaming mode.
	Streaming bool `yaml:"streaming"`

	// ApprovalTimeout bounds how long a gated tool call waits for a
	// human decision; a request still pending after it resolves as a
	// denial.
	ApprovalTimeout time.Duration `yaml:"approval_timeout"`

	// IdleTimeout is decoded (default 30s) but not read by any package;
	// internal/streaming does not take its idle threshold from config.
	IdleTimeout time.Duration `yaml:"idle_timeout"`
}

// StorageConfig selects and configures the event store backend.
type StorageConfig struct {
	// Type is "memory", "sqlite", "postgres", or "file" (DSN-qualified Postgres/
	// sqlite path interpreted by internal/store.Open).
	Type string `yaml:"type"`

	// DSN is the connection string for non-memory backends.
	DSN string `yaml:"dsn"`
}

// SkillsConfig mirrors the scope toggles and disable lists internal/
// skills.Manager reads directly from the environment. The section is
// decoded from YAML and environment, but cmd/agentworld does not pass it
// to skills.Manager, so values set only in a YAML file have no effect.
type SkillsConfig struct {
	EnableGlobal    *bool    `yaml:"enable_global"`
	EnableProject   *bool    `yaml:"enable_project"`
	DisabledGlobal  []string `yaml:"disabled_global"`
	DisabledProject []string `yaml:"disabled_project"`
}

// ProviderConfig holds per-provider credentials and default models,
// opaque to the orchestrator itself.
type ProviderConfig struct {
	Anthropic ProviderCredentials `yaml:"anthropic"`
	OpenAI    ProviderCredentials `yaml:"openai"`
	Bedrock   BedrockCredentials  `yaml:"bedrock"`
}

// ProviderCredentials configures one API-key-based LLM provider.
type ProviderCredentials struct {
	APIKey       string `yaml:"api_key"`
	BaseURL      string `yaml:"base_url"`
	DefaultModel string `yaml:"default_model"`
}

// BedrockCredentials configures the AWS Bedrock provider.
type BedrockCredentials struct {
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	SessionToken    string `yaml:"session_token"`
	DefaultModel    string `yaml:"default_model"`
}

// Load reads path (if non-empty and present), applies AGENT_WORLD_*
// environment overrides, then fills in defaults. A missing path is not
// an error: env vars and defaults alone are sufficient for the
// memory-storage/no-provider dev configuration.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("config: read %s: %w", path, err)
			}
		} else {
			expanded := os.ExpandEnv(string(data))
			decoder := yaml.NewDecoder(strings.NewReader(expanded))
			decoder.KnownFields(true)
			if err := decoder.Decode(&cfg); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", path, err)
			}
			if err := decoder.Decode(new(struct{})); err != io.EOF {
				return nil, fmt.Errorf("config: %s: expected a single YAML document", path)
			}
		}
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("AGENT_WORLD_STORAGE_TYPE")); v != "" {
		cfg.Storage.Type = v
	}
	if v := strings.TrimSpace(os.Getenv("AGENT_WORLD_STORAGE_DSN")); v != "" {
		cfg.Storage.DSN = v
	}
	if v := strings.TrimSpace(os.Getenv("AGENT_WORLD_MAX_TOOL_ITERATIONS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Turn.MaxToolIterations = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("AGENT_WORLD_APPROVAL_TIMEOUT")); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Turn.ApprovalTimeout = d
		}
	}
	if b, ok := parseEnvBool("AGENT_WORLD_ENABLE_GLOBAL_SKILLS"); ok {
		cfg.Skills.EnableGlobal = &b
	}
	if b, ok := parseEnvBool("AGENT_WORLD_ENABLE_PROJECT_SKILLS"); ok {
		cfg.Skills.EnableProject = &b
	}
	if v := strings.TrimSpace(os.Getenv("AGENT_WORLD_DISABLED_GLOBAL_SKILLS")); v != "" {
		cfg.Skills.DisabledGlobal = splitCSV(v)
	}
	if v := strings.TrimSpace(os.Getenv("AGENT_WORLD_DISABLED_PROJECT_SKILLS")); v != "" {
		cfg.Skills.DisabledProject = splitCSV(v)
	}
	if v := strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY")); v != "" {
		cfg.Provider.Anthropic.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("OPENAI_API_KEY")); v != "" {
		cfg.Provider.OpenAI.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("AWS_REGION")); v != "" {
		cfg.Provider.Bedrock.Region = v
	}
	if v := strings.TrimSpace(os.Getenv("AGENT_WORLD_HTTP_HOST")); v != "" {
		cfg.Server.Host = v
	}
	if v := strings.TrimSpace(os.Getenv("AGENT_WORLD_HTTP_PORT")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = n
		}
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Turn.MaxToolIterations == 0 {
		cfg.Turn.MaxToolIterations = 25
	}
	if cfg.Turn.ApprovalTimeout == 0 {
		cfg.Turn.ApprovalTimeout = 5 * time.Minute
	}
	if cfg.Turn.IdleTimeout == 0 {
		cfg.Turn.IdleTimeout = 30 * time.Second
	}
	if cfg.Storage.Type == "" {
		cfg.Storage.Type = "memory"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
}

func validate(cfg *Config) error {
	switch cfg.Storage.Type {
	case "memory", "sqlite", "file", "postgres":
	default:
		return fmt.Errorf("config: unknown storage.type %q", cfg.Storage.Type)
	}
	if cfg.Storage.Type != "memory" && cfg.Storage.DSN == "" {
		return fmt.Errorf("config: storage.dsn is required for storage.type %q", cfg.Storage.Type)
	}
	if cfg.Turn.MaxToolIterations <= 0 {
		return fmt.Errorf("config: turn.max_tool_iterations must be positive")
	}
	return nil
}

func parseEnvBool(name string) (bool, bool) {
	v, ok := os.LookupEnv(name)
	if !ok {
		return false, false
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true, true
	case "0", "false", "no", "off":
		return false, true
	default:
		return false, false
	}
}

func splitCSV(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

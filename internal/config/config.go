package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the process-wide configuration, built once at startup and passed
// explicitly into constructors. Nothing below cmd/ reads the environment.
type Config struct {
	Workspace string            `yaml:"workspace"`
	JWTSecret string            `yaml:"jwt_secret"`
	OpenAI    OpenAIConfig      `yaml:"openai"`
	Broadcast []BroadcastTarget `yaml:"broadcast"`
	Routing   RoutingConfig     `yaml:"routing"`
}

type OpenAIConfig struct {
	APIKey  string        `yaml:"api_key"`
	Model   string        `yaml:"model"`
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

type BroadcastTarget struct {
	URL            string `yaml:"url"`
	Secret         string `yaml:"secret"`
	Enabled        *bool  `yaml:"enabled"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// RoutingConfig overrides the task-table schema variant per project. The DB
// project row is the source of truth; entries here win when present.
type RoutingConfig struct {
	Variants map[string]string `yaml:"variants"`
}

const fileName = "sitepilot.yml"

// Default returns a usable configuration for a local workspace.
func Default(workspace string) *Config {
	return &Config{
		Workspace: workspace,
		OpenAI: OpenAIConfig{
			Model: "gpt-4o",
		},
	}
}

// Path returns the config file location for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, fileName)
}

// Load reads sitepilot.yml if present, then applies environment overrides.
// A missing file is not an error; the environment alone is enough to run.
func Load(workspace string) (*Config, error) {
	cfg := Default(workspace)
	data, err := os.ReadFile(Path(workspace))
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", fileName, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}
	cfg.Workspace = workspace
	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("SITEPILOT_JWT_SECRET")); v != "" {
		cfg.JWTSecret = v
	}
	if v := strings.TrimSpace(os.Getenv("SITEPILOT_OPENAI_API_KEY")); v != "" {
		cfg.OpenAI.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("SITEPILOT_OPENAI_MODEL")); v != "" {
		cfg.OpenAI.Model = v
	}
	if v := strings.TrimSpace(os.Getenv("SITEPILOT_OPENAI_BASE_URL")); v != "" {
		cfg.OpenAI.BaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("SITEPILOT_OPENAI_TIMEOUT")); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.OpenAI.Timeout = d
		}
	}
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	for project, variant := range c.Routing.Variants {
		if project == "" {
			return fmt.Errorf("config.routing.variants contains empty project id")
		}
		if variant != "standard" && variant != "legacy" {
			return fmt.Errorf("config.routing.variants[%s]: unknown variant %q", project, variant)
		}
	}
	for i, target := range c.Broadcast {
		if strings.TrimSpace(target.URL) == "" {
			return fmt.Errorf("config.broadcast[%d].url is required", i)
		}
	}
	return nil
}

// FromYAML parses a config document without touching the filesystem.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

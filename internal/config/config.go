package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const FileName = "actionboard.yml"

// Config models actionboard.yml.
type Config struct {
	Selection struct {
		Mandatory []MandatoryRule `yaml:"mandatory" json:"mandatory"`
	} `yaml:"selection" json:"selection"`
	Flows       map[string][]string `yaml:"flows" json:"flows"`
	DefaultFlow string              `yaml:"default_flow" json:"default_flow"`
	Teams       struct {
		RequireMembers bool `yaml:"require_members" json:"require_members"`
	} `yaml:"teams" json:"teams"`
	Catalog struct {
		Path string `yaml:"path" json:"path"`
	} `yaml:"catalog" json:"catalog"`
	Favorites struct {
		Backend   string `yaml:"backend" json:"backend"`
		RedisURL  string `yaml:"redis_url" json:"redis_url,omitempty"`
		KeyPrefix string `yaml:"key_prefix" json:"key_prefix,omitempty"`
	} `yaml:"favorites" json:"favorites"`
	Persistence struct {
		Driver          string        `yaml:"driver" json:"driver"`
		PostgresDSN     string        `yaml:"postgres_dsn" json:"-"`
		RetryMaxElapsed time.Duration `yaml:"retry_max_elapsed" json:"retry_max_elapsed"`
	} `yaml:"persistence" json:"persistence"`
	Server struct {
		Addr     string `yaml:"addr" json:"addr"`
		BasePath string `yaml:"base_path" json:"base_path"`
	} `yaml:"server" json:"server"`
	Webhooks []WebhookConfig `yaml:"webhooks" json:"webhooks,omitempty"`
}

// WebhookConfig posts committed events to an external endpoint.
type WebhookConfig struct {
	URL            string   `yaml:"url" json:"url"`
	Events         []string `yaml:"events" json:"events,omitempty"`
	Secret         string   `yaml:"secret" json:"-"`
	TimeoutSeconds int      `yaml:"timeout_seconds" json:"timeout_seconds,omitempty"`
	Enabled        *bool    `yaml:"enabled" json:"enabled,omitempty"`
}

// MandatoryRule flags a catalog category, by name, as mandatory.
type MandatoryRule struct {
	Category    string `yaml:"category" json:"category"`
	MinRequired int    `yaml:"min_required" json:"min_required"`
}

var knownSteps = map[string]bool{
	"organization":     true,
	"actions":          true,
	"global-actions":   true,
	"function-actions": true,
	"members":          true,
	"team":             true,
	"teams":            true,
	"summary":          true,
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with ab config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	seen := map[string]bool{}
	for _, rule := range c.Selection.Mandatory {
		name := strings.TrimSpace(rule.Category)
		if name == "" {
			return fmt.Errorf("config.selection.mandatory has empty category name")
		}
		if rule.MinRequired < 1 {
			return fmt.Errorf("mandatory category %s must require at least 1 action", name)
		}
		if seen[name] {
			return fmt.Errorf("mandatory category %s listed twice", name)
		}
		seen[name] = true
	}
	if len(c.Flows) == 0 {
		return fmt.Errorf("config.flows is required")
	}
	for name, steps := range c.Flows {
		if len(steps) == 0 {
			return fmt.Errorf("flow %s has no steps", name)
		}
		for _, step := range steps {
			if !knownSteps[step] {
				return fmt.Errorf("flow %s references unknown step %s", name, step)
			}
		}
	}
	if c.DefaultFlow == "" {
		return fmt.Errorf("config.default_flow is required")
	}
	if _, ok := c.Flows[c.DefaultFlow]; !ok {
		return fmt.Errorf("default flow %s not defined", c.DefaultFlow)
	}
	switch c.Favorites.Backend {
	case "memory":
	case "redis":
		if c.Favorites.RedisURL == "" {
			return fmt.Errorf("config.favorites.redis_url is required for the redis backend")
		}
	default:
		return fmt.Errorf("config.favorites.backend must be memory or redis")
	}
	switch c.Persistence.Driver {
	case "sqlite":
	case "postgres":
		if c.Persistence.PostgresDSN == "" {
			return fmt.Errorf("config.persistence.postgres_dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("config.persistence.driver must be sqlite or postgres")
	}
	if c.Persistence.RetryMaxElapsed < 0 {
		return fmt.Errorf("config.persistence.retry_max_elapsed must not be negative")
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("config.webhooks[%d].timeout_seconds must not be negative", i)
		}
	}
	return nil
}

// MinRequired returns the configured minimum for a category name, or 0 when
// the category is not mandatory.
func (c *Config) MinRequired(categoryName string) int {
	for _, rule := range c.Selection.Mandatory {
		if strings.EqualFold(strings.TrimSpace(rule.Category), strings.TrimSpace(categoryName)) {
			return rule.MinRequired
		}
	}
	return 0
}

// Flow returns the step list for the named flow, falling back to the default flow.
func (c *Config) Flow(name string) (string, []string, error) {
	if name == "" {
		name = c.DefaultFlow
	}
	steps, ok := c.Flows[name]
	if !ok {
		return "", nil, fmt.Errorf("flow %s not defined", name)
	}
	return name, append([]string(nil), steps...), nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, FileName)
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `selection:
  mandatory:
    - category: Teamwork
      min_required: 3
    - category: Communication
      min_required: 3
    - category: Reliability
      min_required: 3

flows:
  legacy: [organization, actions, team, summary]
  current: [organization, global-actions, function-actions, members, teams, summary]

default_flow: current

teams:
  require_members: true

catalog:
  path: catalog.yml

favorites:
  backend: memory
  key_prefix: "actionboard:favorites:"

persistence:
  driver: sqlite
  retry_max_elapsed: 30s

server:
  addr: 127.0.0.1:8080
  base_path: /v0
`

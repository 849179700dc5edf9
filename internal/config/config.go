package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"checkorder/internal/logging"
	"checkorder/internal/position"
)

const (
	yamlName = "checkorder.yml"
	tomlName = "checkorder.toml"
)

// Config models checkorder.yml (or checkorder.toml).
type Config struct {
	Server struct {
		Addr      string `yaml:"addr" toml:"addr"`
		BasePath  string `yaml:"base_path" toml:"base_path"`
		JWTSecret string `yaml:"jwt_secret" toml:"jwt_secret"`
	} `yaml:"server" toml:"server"`
	Ordering struct {
		// Lists and Items are the sort directions of lists of lists and of
		// the items inside one list: "ascending" or "descending".
		Lists        string `yaml:"lists" toml:"lists"`
		Items        string `yaml:"items" toml:"items"`
		RootParentID string `yaml:"root_parent_id" toml:"root_parent_id"`
	} `yaml:"ordering" toml:"ordering"`
	Logging struct {
		Level  string `yaml:"level" toml:"level"`
		Format string `yaml:"format" toml:"format"`
	} `yaml:"logging" toml:"logging"`
	Webhooks struct {
		Enabled bool     `yaml:"enabled" toml:"enabled"`
		URL     string   `yaml:"url" toml:"url"`
		Events  []string `yaml:"events" toml:"events"`
	} `yaml:"webhooks" toml:"webhooks"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	cfg, err := LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, fmt.Errorf("config %s not found; create one with checkorder init", Path(workspace))
	}
	return cfg, nil
}

// LoadOptional returns nil,nil if no config file exists.
func LoadOptional(workspace string) (*Config, error) {
	for _, path := range []string{Path(workspace), filepath.Join(dir(workspace), tomlName)} {
		if _, err := os.Stat(path); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		return FromFile(path)
	}
	return nil, nil
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	if _, err := position.ParseDirection(c.Ordering.Lists); err != nil {
		return fmt.Errorf("config.ordering.lists: %w", err)
	}
	if _, err := position.ParseDirection(c.Ordering.Items); err != nil {
		return fmt.Errorf("config.ordering.items: %w", err)
	}
	if strings.TrimSpace(c.Ordering.RootParentID) == "" {
		return fmt.Errorf("config.ordering.root_parent_id is required")
	}
	if c.Logging.Level != "" {
		if _, ok := logging.ParseLevel(c.Logging.Level); !ok {
			return fmt.Errorf("config.logging.level %q is not a known level", c.Logging.Level)
		}
	}
	switch c.Logging.Format {
	case "", logging.FormatConsole, logging.FormatJSON:
	default:
		return fmt.Errorf("config.logging.format must be console or json")
	}
	if c.Webhooks.Enabled && c.Webhooks.URL == "" {
		return fmt.Errorf("config.webhooks.url is required when webhooks are enabled")
	}
	for _, ev := range c.Webhooks.Events {
		if ev == "" {
			return fmt.Errorf("config.webhooks.events contains an empty event type")
		}
	}
	return nil
}

// ListsDirection is the sort direction of the root sequence.
func (c *Config) ListsDirection() position.Direction {
	d, _ := position.ParseDirection(c.Ordering.Lists)
	return d
}

// ItemsDirection is the sort direction inside every list.
func (c *Config) ItemsDirection() position.Direction {
	d, _ := position.ParseDirection(c.Ordering.Items)
	return d
}

// DirectionFor returns the direction of the sequence owned by parentID.
func (c *Config) DirectionFor(parentID string) position.Direction {
	if parentID == c.Ordering.RootParentID {
		return c.ListsDirection()
	}
	return c.ItemsDirection()
}

// Path returns the YAML config file path for a workspace.
func Path(workspace string) string {
	return filepath.Join(dir(workspace), yamlName)
}

func dir(workspace string) string {
	if workspace == "" {
		return "."
	}
	return workspace
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// GenerateDefaultTOML returns the default config as TOML.
func GenerateDefaultTOML() string {
	var buf bytes.Buffer
	_ = toml.NewEncoder(&buf).Encode(Default())
	return buf.String()
}

// Default returns the default Config.
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

// FromTOML parses and validates config from raw TOML bytes.
func FromTOML(data []byte) (*Config, error) {
	cfg := Default()
	if _, err := toml.Decode(string(data), cfg); err != nil {
		return nil, fmt.Errorf("invalid config toml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads config from path, picking the format by extension.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return FromTOML(data)
	}
	return FromYAML(data)
}

const defaultTemplate = `server:
  addr: 127.0.0.1:8080
  base_path: /v0

ordering:
  lists: ascending
  items: ascending
  root_parent_id: root

logging:
  level: info
  format: console

webhooks:
  enabled: false
  events: [item.created, item.updated, item.moved, item.deleted, parent.compacted]
`

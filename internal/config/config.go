package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models gigline.yml.
type Config struct {
	Marketplace struct {
		ID string `yaml:"id"`
	} `yaml:"marketplace"`
	Payments struct {
		Methods []string `yaml:"methods"`
	} `yaml:"payments"`
	Stream struct {
		Buffer              int `yaml:"buffer"`
		WatchdogIntervalSec int `yaml:"watchdog_interval_sec"`
		MatchWindowSec      int `yaml:"match_window_sec"`
	} `yaml:"stream"`
	Server struct {
		BasePath               string `yaml:"base_path"`
		JWTSecret              string `yaml:"jwt_secret"`
		AllowLegacyActorHeader bool   `yaml:"allow_legacy_actor_header"`
	} `yaml:"server"`
	Blobs struct {
		Dir           string `yaml:"dir"`
		PublicBaseURL string `yaml:"public_base_url"`
	} `yaml:"blobs"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

type WebhookConfig struct {
	URL    string   `yaml:"url"`
	Events []string `yaml:"events"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; generate one with gl init", path)
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
			return Default("local"), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Marketplace.ID == "" {
		return fmt.Errorf("config.marketplace.id is required")
	}
	if len(c.Payments.Methods) == 0 {
		return fmt.Errorf("config.payments.methods must list at least one method")
	}
	for _, m := range c.Payments.Methods {
		if m == "" {
			return fmt.Errorf("config.payments.methods contains empty method")
		}
	}
	if c.Stream.Buffer < 0 {
		return fmt.Errorf("config.stream.buffer must be >= 0")
	}
	if c.Stream.WatchdogIntervalSec < 0 {
		return fmt.Errorf("config.stream.watchdog_interval_sec must be >= 0")
	}
	if c.Stream.MatchWindowSec < 0 {
		return fmt.Errorf("config.stream.match_window_sec must be >= 0")
	}
	for i, wh := range c.Webhooks {
		if wh.URL == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
	}
	return nil
}

// AllowsPaymentMethod reports whether the method is in the catalog.
func (c *Config) AllowsPaymentMethod(method string) bool {
	for _, m := range c.Payments.Methods {
		if m == method {
			return true
		}
	}
	return false
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "gigline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(marketplaceID string) string {
	return fmt.Sprintf(defaultTemplate, marketplaceID)
}

// Default returns the default Config struct for a marketplace.
func Default(marketplaceID string) *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, marketplaceID))).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `marketplace:
  id: %s

payments:
  methods:
    - bank_transfer
    - mobile_wallet
    - cash

stream:
  buffer: 64
  watchdog_interval_sec: 15
  match_window_sec: 10

server:
  base_path: /v0
  jwt_secret: ""
  allow_legacy_actor_header: true

blobs:
  dir: ""
  public_base_url: ""
`

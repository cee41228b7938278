// Package config handles morph daemon configuration from YAML files.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level morph configuration.
type Config struct {
	Browser    BrowserConfig    `yaml:"browser"`
	Pages      []PageConfig     `yaml:"pages"`
	Storage    StorageConfig    `yaml:"storage"`
	Server     ServerConfig     `yaml:"server"`
	Sinks      []SinkConfig     `yaml:"sinks"`
	Background BackgroundConfig `yaml:"background"`
	Notifier   NotifierConfig   `yaml:"notifier"`
}

// BrowserConfig controls Chrome lifecycle.
type BrowserConfig struct {
	Remote           string   `yaml:"remote"`
	ResourceBlocking []string `yaml:"resource_blocking"`
	Stealth          string   `yaml:"stealth"` // headless | headful
	XvfbDisplay      string   `yaml:"xvfb_display"`
}

// PageConfig defines a page whose inputs are watched.
type PageConfig struct {
	ID           string `yaml:"id"`
	URL          string `yaml:"url"`
	StealthLevel string `yaml:"stealth_level"` // 1 | 2
}

// StorageConfig locates the settings database.
type StorageConfig struct {
	Path         string        `yaml:"path"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// ServerConfig controls the background HTTP surface.
type ServerConfig struct {
	Addr string `yaml:"addr"` // empty disables HTTP
	MCP  bool   `yaml:"mcp"`
}

// SinkConfig defines where detections go.
type SinkConfig struct {
	Type string `yaml:"type"` // stdout | webhook | background
	URL  string `yaml:"url"`  // for webhook
}

// BackgroundConfig tunes the background service.
type BackgroundConfig struct {
	ModelsURL string `yaml:"models_url"`
	// PassphraseEnv names the environment variable holding the passphrase
	// that seals the API key at rest. Empty stores it in clear.
	PassphraseEnv string `yaml:"passphrase_env"`
}

// NotifierConfig tunes delivery from watchers to sinks.
type NotifierConfig struct {
	QueueSize int           `yaml:"queue_size"`
	Timeout   time.Duration `yaml:"timeout"`
}

// LoadFile reads a YAML configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML and applies defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration of an empty file.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (c *Config) applyDefaults() {
	if c.Browser.XvfbDisplay == "" {
		c.Browser.XvfbDisplay = ":99"
	}
	if c.Browser.Stealth == "" {
		c.Browser.Stealth = "headless"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "morph.db"
	}
	if c.Storage.PollInterval <= 0 {
		c.Storage.PollInterval = 200 * time.Millisecond
	}
	if c.Background.ModelsURL == "" {
		c.Background.ModelsURL = "https://api.openai.com/v1/models"
	}
	if c.Notifier.QueueSize <= 0 {
		c.Notifier.QueueSize = 64
	}
	if c.Notifier.Timeout <= 0 {
		c.Notifier.Timeout = 10 * time.Second
	}
	if len(c.Sinks) == 0 {
		c.Sinks = []SinkConfig{{Type: "background"}}
	}
	for i := range c.Pages {
		if c.Pages[i].StealthLevel == "" {
			c.Pages[i].StealthLevel = "1"
		}
		if c.Pages[i].ID == "" {
			c.Pages[i].ID = fmt.Sprintf("page-%d", i+1)
		}
	}
}

func (c *Config) validate() error {
	switch c.Browser.Stealth {
	case "headless", "headful":
	default:
		return fmt.Errorf("config: browser.stealth %q: want headless or headful", c.Browser.Stealth)
	}
	for _, s := range c.Sinks {
		switch s.Type {
		case "stdout", "background":
		case "webhook":
			if s.URL == "" {
				return fmt.Errorf("config: webhook sink without url")
			}
		default:
			return fmt.Errorf("config: unknown sink type %q", s.Type)
		}
	}
	for _, p := range c.Pages {
		if p.URL == "" {
			return fmt.Errorf("config: page %q without url", p.ID)
		}
	}
	return nil
}

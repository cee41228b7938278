package inputwatch

import (
	"github.com/hazyhaar/morph/internal/config"
)

// Config is the top-level morph configuration. Re-exported from internal.
type Config = config.Config

// BrowserConfig controls Chrome lifecycle.
type BrowserConfig = config.BrowserConfig

// PageConfig defines a page whose inputs are watched.
type PageConfig = config.PageConfig

// SinkConfig defines where detections go.
type SinkConfig = config.SinkConfig

// LoadConfigFile reads a YAML configuration file.
func LoadConfigFile(path string) (*Config, error) {
	return config.LoadFile(path)
}

// DefaultConfig is the configuration of an empty file.
func DefaultConfig() *Config {
	return config.Default()
}

package duplex

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the on-disk configuration for a duplex-based service or
// demo tool: logging verbosity and the size guards Options/DecodeOptions
// expose as deployment knobs.
type Config struct {
	LogLevel                string `yaml:"logLevel"`
	MaxFrameBytes           int    `yaml:"maxFrameBytes"`
	MaxPendingPerController int    `yaml:"maxPendingPerController"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() Config {
	return Config{LogLevel: "info"}
}

// LoadConfig reads and parses a YAML config file at path.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("duplex: reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("duplex: parsing config %s: %w", path, err)
	}
	return cfg, nil
}

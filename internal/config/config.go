package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Servers  []ServerRef    `yaml:"servers"`
}

// DatabaseConfig holds SQLite settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// ServerRef represents a racing server whose snapshot files are imported
type ServerRef struct {
	Identifier   string `yaml:"identifier"`
	Name         string `yaml:"name"`
	SnapshotPath string `yaml:"snapshot_path"`
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Set defaults
	if cfg.Database.Path == "" {
		cfg.Database.Path = "/var/lib/raceledger/raceledger.db"
	}

	return &cfg, nil
}

// FindServer returns the configured server with the given identifier
func (c *Config) FindServer(identifier string) (*ServerRef, bool) {
	for i := range c.Servers {
		if c.Servers[i].Identifier == identifier {
			return &c.Servers[i], true
		}
	}
	return nil, false
}

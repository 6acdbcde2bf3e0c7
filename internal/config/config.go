// Package config loads the YAML run configuration: store location, analyzer
// address, and the package set to index and analyze.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultServiceAddr is the analyzer's loopback address when none is given.
const DefaultServiceAddr = "127.0.0.1:8765"

// PackageSpec describes one unpacked package tree.
type PackageSpec struct {
	Name       string `yaml:"name"`
	ClassesDir string `yaml:"classesDir"`
	SourcesDir string `yaml:"sourcesDir,omitempty"`

	// Local marks packages that belong to the project under analysis;
	// their symbol URIs are rewritten from the cache root to
	// ProjectSourceRoot.
	Local             bool   `yaml:"local,omitempty"`
	ProjectSourceRoot string `yaml:"projectSourceRoot,omitempty"`
}

// Config is the orchestrator's run configuration.
type Config struct {
	DBPath      string        `yaml:"dbPath"`
	ServiceAddr string        `yaml:"serviceAddr,omitempty"`
	CacheRoot   string        `yaml:"cacheRoot,omitempty"`
	Init        bool          `yaml:"init,omitempty"`
	Limit       int           `yaml:"limit,omitempty"`
	Domains     []string      `yaml:"domains,omitempty"`
	Packages    []PackageSpec `yaml:"packages"`
}

// Load reads and validates a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.ServiceAddr == "" {
		cfg.ServiceAddr = DefaultServiceAddr
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration's internal consistency.
func (c *Config) Validate() error {
	if c.DBPath == "" {
		return fmt.Errorf("config: dbPath is required")
	}
	if c.Limit > 0 && !c.Init {
		return fmt.Errorf("config: limit requires init")
	}
	if len(c.Packages) == 0 {
		return fmt.Errorf("config: at least one package is required")
	}
	seen := make(map[string]bool, len(c.Packages))
	for i, p := range c.Packages {
		if p.Name == "" {
			return fmt.Errorf("config: package %d has no name", i)
		}
		if p.ClassesDir == "" {
			return fmt.Errorf("config: package %s has no classesDir", p.Name)
		}
		if seen[p.Name] {
			return fmt.Errorf("config: duplicate package %s", p.Name)
		}
		seen[p.Name] = true
		if p.Local && p.ProjectSourceRoot == "" {
			return fmt.Errorf("config: local package %s has no projectSourceRoot", p.Name)
		}
	}
	return nil
}

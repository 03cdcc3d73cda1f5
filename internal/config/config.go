// Package config loads the addongw configuration file and the environment
// controls that override it.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete addongw configuration.
type Config struct {
	Service    ServiceConfig  `yaml:"service"`
	API        APIConfig      `yaml:"api"`
	Auth       AuthConfig     `yaml:"auth"`
	Cache      CacheConfig    `yaml:"cache"`
	Recorder   RecorderConfig `yaml:"recorder,omitempty"`
	AddonsDir  string         `yaml:"addons_dir,omitempty"`
	Repository RepositoryRef  `yaml:"repository,omitempty"`
	ReplayMode bool           `yaml:"replay_mode,omitempty"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name      string `yaml:"name"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// APIConfig defines HTTP transport settings.
type APIConfig struct {
	Listen      string   `yaml:"listen"`
	CORSOrigins []string `yaml:"cors_origins,omitempty"`
}

// AuthConfig defines signature verification settings.
type AuthConfig struct {
	// Secret signs and verifies request signatures (HS256).
	Secret string `yaml:"secret"`
}

// CacheConfig selects and tunes the cache engine.
type CacheConfig struct {
	Engine   string        `yaml:"engine"`
	Path     string        `yaml:"path,omitempty"`
	TTL      time.Duration `yaml:"ttl,omitempty"`
	ErrorTTL time.Duration `yaml:"error_ttl,omitempty"`
}

// RecorderConfig enables request recording. An empty path disables it.
type RecorderConfig struct {
	Path string `yaml:"path,omitempty"`
}

// RepositoryRef names the root repository addon assembled from discovered
// manifests.
type RepositoryRef struct {
	ID   string `yaml:"id,omitempty"`
	Name string `yaml:"name,omitempty"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:      "addongw",
			LogLevel:  "INFO",
			LogFormat: "json",
		},
		API: APIConfig{
			Listen: ":3211",
		},
		Cache: CacheConfig{
			Engine: "memory",
		},
		Repository: RepositoryRef{
			ID:   "root",
			Name: "addongw repository",
		},
	}
}

// Load reads and parses configuration from a YAML file, layering it over
// Defaults.
func Load(path string) (*Config, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path %q: %w", path, err)
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s", absPath)
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", absPath, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if c.Service.Name == "" {
		return fmt.Errorf("config: service.name is required")
	}
	if c.API.Listen == "" {
		return fmt.Errorf("config: api.listen is required")
	}
	switch c.Cache.Engine {
	case "", "memory":
	case "sqlite":
		if c.Cache.Path == "" {
			return fmt.Errorf("config: cache.path is required for the sqlite engine")
		}
	default:
		return fmt.Errorf("config: unknown cache engine %q", c.Cache.Engine)
	}
	if c.Cache.TTL < 0 || c.Cache.ErrorTTL < 0 {
		return fmt.Errorf("config: cache TTLs must not be negative")
	}
	return nil
}

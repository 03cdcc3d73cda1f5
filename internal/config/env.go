package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Env holds the environment controls. Production disables request
// recording; SkipAuth bypasses signature checks and is intended for trusted
// internal deployments only.
type Env struct {
	Production  bool   `env:"ADDONGW_PRODUCTION"`
	SkipAuth    bool   `env:"ADDONGW_SKIP_AUTH"`
	CacheEngine string `env:"ADDONGW_CACHE"`
	LogLevel    string `env:"ADDONGW_LOG_LEVEL"`
	AuthSecret  string `env:"ADDONGW_AUTH_SECRET"`
}

// LoadEnv parses the process environment.
func LoadEnv() (Env, error) {
	var e Env
	if err := env.Parse(&e); err != nil {
		return Env{}, fmt.Errorf("parse environment: %w", err)
	}
	return e, nil
}

// Apply layers environment overrides onto cfg.
func (e Env) Apply(cfg *Config) {
	if e.CacheEngine != "" {
		cfg.Cache.Engine = e.CacheEngine
	}
	if e.LogLevel != "" {
		cfg.Service.LogLevel = e.LogLevel
	}
	if e.AuthSecret != "" {
		cfg.Auth.Secret = e.AuthSecret
	}
}

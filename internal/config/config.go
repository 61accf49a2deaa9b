// Package config loads the Mediary configuration from YAML.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/open-mediary/mediary/internal/domain"
)

// Load reads a YAML configuration file on top of the defaults. An empty
// path returns the defaults unchanged.
func Load(path string) (*domain.Config, error) {
	cfg := domain.DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the process cannot start with.
func Validate(cfg *domain.Config) error {
	switch cfg.SQL.Driver {
	case "", "sqlite", "postgres":
	default:
		return fmt.Errorf("unknown sql driver %q", cfg.SQL.Driver)
	}
	switch cfg.Cache.Type {
	case "", "memory", "redis":
	default:
		return fmt.Errorf("unknown cache type %q", cfg.Cache.Type)
	}
	switch cfg.EventBus.Type {
	case "", "channel", "nats":
	default:
		return fmt.Errorf("unknown event bus type %q", cfg.EventBus.Type)
	}
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", cfg.Server.Port)
	}
	return nil
}

// Package config loads the harness configuration file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/banksia-harness/banksia/pkg/types"
)

// DefaultPath is where the configuration file is looked up when no explicit
// path is given.
const DefaultPath = "banksia.yaml"

// Defaults applied to optional settings.
const (
	DefaultAddr           = ":8080"
	DefaultMaxRequestBody = 1 << 20
	DefaultQueryTimeout   = 5 * time.Second
	DefaultTickInterval   = time.Second
)

// Load reads, decodes and validates the configuration at path.
func Load(path string) (*types.ProjectConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	var cfg types.ProjectConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	applyDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

func applyDefaults(cfg *types.ProjectConfig) {
	if cfg.Server == nil {
		cfg.Server = &types.ServerConfig{}
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = DefaultAddr
	}
	if cfg.Server.MaxRequestBody == 0 {
		cfg.Server.MaxRequestBody = DefaultMaxRequestBody
	}
	if cfg.Engine == nil {
		cfg.Engine = &types.EngineConfig{}
	}
	if cfg.Engine.TickInterval == "" {
		cfg.Engine.TickInterval = DefaultTickInterval.String()
	}
	if cfg.Database != nil && cfg.Database.QueryTimeout == "" {
		cfg.Database.QueryTimeout = DefaultQueryTimeout.String()
	}
}

// Validate checks the configuration is complete enough to start.
func Validate(cfg *types.ProjectConfig) error {
	if cfg.ReferenceServer == nil || cfg.ReferenceServer.URL == "" {
		return fmt.Errorf("referenceServer.url is required")
	}
	if cfg.ReferenceServer.AdminURL == "" {
		return fmt.Errorf("referenceServer.adminUrl is required")
	}
	if cfg.Database == nil || cfg.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}
	if len(cfg.ProcedureDirs) == 0 {
		return fmt.Errorf("at least one procedure directory is required")
	}
	if _, err := TickInterval(cfg); err != nil {
		return err
	}
	if _, err := QueryTimeout(cfg); err != nil {
		return err
	}
	return nil
}

// TickInterval parses the engine tick interval.
func TickInterval(cfg *types.ProjectConfig) (time.Duration, error) {
	d, err := time.ParseDuration(cfg.Engine.TickInterval)
	if err != nil {
		return 0, fmt.Errorf("engine.tickInterval: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("engine.tickInterval must be positive")
	}
	return d, nil
}

// QueryTimeout parses the database query timeout.
func QueryTimeout(cfg *types.ProjectConfig) (time.Duration, error) {
	if cfg.Database == nil || cfg.Database.QueryTimeout == "" {
		return DefaultQueryTimeout, nil
	}
	d, err := time.ParseDuration(cfg.Database.QueryTimeout)
	if err != nil {
		return 0, fmt.Errorf("database.queryTimeout: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("database.queryTimeout must be positive")
	}
	return d, nil
}

// Package config loads the gateway's YAML configuration. String values may
// reference environment variables with the "os.environ/VAR_NAME" syntax.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/pulselabs/pulse/internal/metering"
)

// Config is the top-level pulse.yaml structure.
type Config struct {
	Server   ServerConfig  `yaml:"server"`
	Gateway  GatewayConfig `yaml:"gateway"`
	Database string        `yaml:"database_url,omitempty"`
	Redis    string        `yaml:"redis_url,omitempty"`

	// MasterKey derives the vault encryption key. Required.
	MasterKey string `yaml:"master_key"`

	// AdminKey authorizes the management endpoints. Required.
	AdminKey string `yaml:"admin_key"`

	// PricingPath overrides the embedded pricing table.
	PricingPath string `yaml:"pricing_path,omitempty"`

	// EnvironmentVariables are exported into the process before the rest of
	// the config is resolved.
	EnvironmentVariables map[string]string `yaml:"environment_variables,omitempty"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type GatewayConfig struct {
	// MeterFailuresAt selects how failed-after-routing calls are priced:
	// "partial" (default) bills reported usage, "zero_cost" does not.
	MeterFailuresAt metering.FailurePolicy `yaml:"meter_failures_at,omitempty"`

	// RequireAttribution rejects calls with no resolved attribution.
	RequireAttribution bool `yaml:"require_attribution"`
}

func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Load reads and resolves a config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	for k, v := range cfg.EnvironmentVariables {
		os.Setenv(k, ResolveEnvVar(v))
	}
	resolve(&cfg)
	setDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func resolve(cfg *Config) {
	cfg.Database = ResolveEnvVar(cfg.Database)
	cfg.Redis = ResolveEnvVar(cfg.Redis)
	cfg.MasterKey = ResolveEnvVar(cfg.MasterKey)
	cfg.AdminKey = ResolveEnvVar(cfg.AdminKey)
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 4000
	}
	if cfg.Gateway.MeterFailuresAt == "" {
		cfg.Gateway.MeterFailuresAt = metering.FailurePartial
	}
}

func validate(cfg *Config) error {
	if cfg.MasterKey == "" {
		return fmt.Errorf("config: master_key is required")
	}
	if cfg.AdminKey == "" {
		return fmt.Errorf("config: admin_key is required")
	}
	switch cfg.Gateway.MeterFailuresAt {
	case metering.FailurePartial, metering.FailureZeroCost:
	default:
		return fmt.Errorf("config: meter_failures_at must be %q or %q",
			metering.FailurePartial, metering.FailureZeroCost)
	}
	return nil
}

// ResolveEnvVar resolves a value that may use the "os.environ/VAR_NAME"
// reference syntax. Unset references resolve to the empty string.
func ResolveEnvVar(value string) string {
	if envKey, ok := strings.CutPrefix(value, "os.environ/"); ok {
		return os.Getenv(envKey)
	}
	return value
}

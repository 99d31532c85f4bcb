// Package config assembles the Config struct (§6a) from environment
// variables plus an optional YAML file, following the teacher's
// Default*Config()+sanitize() pattern: defaults first, then overridden
// field-by-field by whatever the file/environment supplies, then
// validated.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is the root configuration for starkbot.
type Config struct {
	Gateway       GatewayConfig       `yaml:"gateway"`
	Database      DatabaseConfig      `yaml:"database"`
	Auth          AuthConfig          `yaml:"auth"`
	Session       SessionConfig       `yaml:"session"`
	Workspace     WorkspaceConfig     `yaml:"workspace"`
	Identity      IdentityConfig      `yaml:"identity"`
	Channels      ChannelsConfig      `yaml:"channels"`
	Providers     ProvidersConfig     `yaml:"providers"`
	Tools         ToolsConfig         `yaml:"tools"`
	Tx            TxConfig            `yaml:"tx"`
	Memory        MemoryConfig        `yaml:"memory"`
	Cron          CronConfig          `yaml:"cron"`
	Logging       LoggingConfig       `yaml:"logging"`
	Observability ObservabilityConfig `yaml:"observability"`

	// DisableModuleServices turns off out-of-process module RPC tool
	// providers (§9 Design Notes, DISABLE_MODULE_SERVICES).
	DisableModuleServices bool `yaml:"disable_module_services"`
}

// DefaultConfig returns a Config populated with every sub-config's
// defaults, ready for file/environment overrides.
func DefaultConfig() *Config {
	return &Config{
		Gateway:   DefaultGatewayConfig(),
		Database:  DatabaseConfig{MaxConnections: 10},
		Auth:      AuthConfig{TokenExpiry: 24 * time.Hour},
		Session:   DefaultSessionConfig(),
		Workspace: DefaultWorkspaceConfig(),
		Providers: DefaultProvidersConfig(),
		Tools:     DefaultToolsConfig(),
		Tx:        DefaultTxConfig(),
		Memory:    MemoryConfig{Backend: "sqlite", Path: "starkbot.db"},
		Cron:      CronConfig{Enabled: true},
		Logging:   LoggingConfig{Level: "info", Format: "text"},
	}
}

// Load reads an optional YAML config file, merges it over the defaults,
// applies environment overrides, sanitizes, and validates the result.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if strings.TrimSpace(path) != "" {
		if _, err := os.Stat(path); err == nil {
			raw, err := LoadRaw(path)
			if err != nil {
				return nil, fmt.Errorf("config: load %s: %w", path, err)
			}
			decoded, err := decodeRawConfig(raw)
			if err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", path, err)
			}
			cfg = mergeConfig(cfg, decoded)
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: stat %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)
	sanitize(cfg)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// sanitize fills in any zero-valued fields the environment/file left
// unset with the same defaults DefaultConfig would have produced.
func sanitize(cfg *Config) {
	if cfg.Gateway.Port == 0 {
		cfg.Gateway.Port = 8080
	}
	if cfg.Session.HistoryMessages <= 0 {
		cfg.Session.HistoryMessages = 40
	}
	if cfg.Session.MemorySnippets <= 0 {
		cfg.Session.MemorySnippets = 6
	}
	if cfg.Workspace.Dir == "" {
		cfg.Workspace.Dir = "."
	}
	if cfg.Tx.ConfirmPollInterval <= 0 {
		cfg.Tx.ConfirmPollInterval = defaultConfirmPollInterval
	}
	if cfg.Tx.ConfirmDeadline <= 0 {
		cfg.Tx.ConfirmDeadline = defaultConfirmDeadline
	}
	if cfg.Memory.Backend == "" {
		cfg.Memory.Backend = "sqlite"
	}
	sanitizeTools(&cfg.Tools)
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Gateway.Port = port
		}
	}
	if v := os.Getenv("GATEWAY_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Gateway.Port = port
		}
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
		cfg.Memory.Backend = "postgres"
		cfg.Memory.DSN = v
	}
	if v := os.Getenv("LOGIN_ADMIN_PUBLIC_ADDRESS"); v != "" {
		cfg.Identity.AdminPublicAddress = v
	}
	if v := os.Getenv("STARK_MEMORY_ENABLE_AUTO_CONSOLIDATION"); v != "" {
		cfg.Memory.EnableAutoConsolidation = truthy(v)
	}
	if v := os.Getenv("STARK_MEMORY_ENABLE_CROSS_SESSION"); v != "" {
		cfg.Memory.EnableCrossSession = truthy(v)
	}
	if v := os.Getenv("STARK_WORKSPACE_DIR"); v != "" {
		cfg.Workspace.Dir = v
	}
	if v := os.Getenv("STARK_SKILLS_DIR"); v != "" {
		cfg.Workspace.SkillsDir = v
	}
	if v := os.Getenv("DISABLE_MODULE_SERVICES"); v != "" {
		cfg.DisableModuleServices = truthy(v)
	}
	if v := os.Getenv("STARKBOT_GATEWAY_AUTH_SECRET"); v != "" {
		cfg.Gateway.AuthSecret = v
	}
	if v := os.Getenv("STARKBOT_JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
}

func truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func mergeConfig(base *Config, override *Config) *Config {
	if override == nil {
		return base
	}
	merged := *base
	if override.Gateway.Port != 0 {
		merged.Gateway.Port = override.Gateway.Port
	}
	if len(override.Gateway.CORSOrigins) > 0 {
		merged.Gateway.CORSOrigins = override.Gateway.CORSOrigins
	}
	if override.Gateway.AuthSecret != "" {
		merged.Gateway.AuthSecret = override.Gateway.AuthSecret
	}
	if override.Database.URL != "" {
		merged.Database = override.Database
	}
	if override.Auth.JWTSecret != "" || len(override.Auth.APIKeys) > 0 {
		merged.Auth = override.Auth
	}
	if override.Session.HistoryMessages != 0 {
		merged.Session = override.Session
	}
	if override.Workspace.Dir != "" {
		merged.Workspace = override.Workspace
	}
	if override.Identity.AdminPublicAddress != "" {
		merged.Identity = override.Identity
	}
	merged.Channels = mergeChannels(base.Channels, override.Channels)
	if len(override.Providers.Credentials) > 0 || len(override.Providers.Fallback) > 0 {
		merged.Providers = override.Providers
	}
	merged.Tools = mergeTools(base.Tools, override.Tools)
	if override.Tx.BroadcastMode != "" {
		merged.Tx = override.Tx
	}
	if override.Memory.Backend != "" {
		merged.Memory = override.Memory
	}
	if len(override.Cron.Jobs) > 0 {
		merged.Cron = override.Cron
	}
	if override.Logging.Level != "" {
		merged.Logging = override.Logging
	}
	merged.Observability = override.Observability
	merged.DisableModuleServices = merged.DisableModuleServices || override.DisableModuleServices
	return &merged
}

// ConfigValidationError reports config fields that failed validation.
type ConfigValidationError struct {
	Issues []string
}

func (e *ConfigValidationError) Error() string {
	return fmt.Sprintf("config: %s", strings.Join(e.Issues, "; "))
}

func validate(cfg *Config) error {
	var issues []string
	if cfg.Gateway.Port <= 0 || cfg.Gateway.Port > 65535 {
		issues = append(issues, fmt.Sprintf("gateway.port %d out of range", cfg.Gateway.Port))
	}
	if cfg.Memory.Backend != "sqlite" && cfg.Memory.Backend != "postgres" {
		issues = append(issues, fmt.Sprintf("memory.backend %q must be sqlite or postgres", cfg.Memory.Backend))
	}
	if cfg.Tx.BroadcastMode != "" && cfg.Tx.BroadcastMode != "rogue" && cfg.Tx.BroadcastMode != "partner" {
		issues = append(issues, fmt.Sprintf("tx.broadcast_mode %q must be rogue or partner", cfg.Tx.BroadcastMode))
	}
	if len(issues) > 0 {
		return &ConfigValidationError{Issues: issues}
	}
	return nil
}

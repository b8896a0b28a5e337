// Package config loads the CoverDesk assistant configuration from YAML with
// environment variable expansion. Each subsystem gets its own Config struct
// with defaults applied when fields are zero.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the main configuration structure for the assistant service.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Assistant AssistantConfig `yaml:"assistant"`
	LLM       LLMConfig       `yaml:"llm"`
	Audit     AuditConfig     `yaml:"audit"`
	Logging   LoggingConfig   `yaml:"logging"`
	Tracing   TracingConfig   `yaml:"tracing"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	MetricsPort     int           `yaml:"metrics_port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// RateLimitConfig configures turn admission. The reference deployment
// allows 10 admissions per rolling 15 second window per caller.
type RateLimitConfig struct {
	Enabled bool          `yaml:"enabled"`
	Limit   int           `yaml:"limit"`
	Window  time.Duration `yaml:"window"`

	// FailOpen controls behavior when the counter store is unreachable:
	// true admits the turn, false denies it. See DESIGN.md.
	FailOpen bool `yaml:"fail_open"`
}

// AssistantConfig configures the streaming turn lifecycle.
type AssistantConfig struct {
	// HardTimeout aborts a turn that has not reached a terminal state.
	HardTimeout time.Duration `yaml:"hard_timeout"`

	// SoftFallbackDelay is how long to wait for a first real signal
	// before emitting the synthetic "analyzing" notification.
	SoftFallbackDelay time.Duration `yaml:"soft_fallback_delay"`

	// KeepAliveInterval is how often comment frames are written to an
	// idle outbound stream.
	KeepAliveInterval time.Duration `yaml:"keep_alive_interval"`

	// MaxRequestBody bounds the chat request body in bytes.
	MaxRequestBody int64 `yaml:"max_request_body"`
}

// LLMConfig selects and configures the upstream completion provider.
type LLMConfig struct {
	Provider  string                       `yaml:"provider"`
	Providers map[string]LLMProviderConfig `yaml:"providers"`
}

// LLMProviderConfig holds per-provider connection settings.
type LLMProviderConfig struct {
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
}

// AuditConfig configures the tool-invocation audit trail.
type AuditConfig struct {
	Enabled bool `yaml:"enabled"`

	// Sink selects where records go: "log" or "sqlite".
	Sink string `yaml:"sink"`

	// Path is the sqlite database path when Sink is "sqlite".
	Path string `yaml:"path"`

	// IncludeSnapshots controls whether before/after entity state is
	// written to the log sink (the sqlite sink always stores it).
	IncludeSnapshots bool `yaml:"include_snapshots"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TracingConfig configures OpenTelemetry trace export.
type TracingConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// Default returns the configuration used when no file is provided.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			MetricsPort:     9090,
			ShutdownTimeout: 15 * time.Second,
		},
		RateLimit: RateLimitConfig{
			Enabled:  true,
			Limit:    10,
			Window:   15 * time.Second,
			FailOpen: true,
		},
		Assistant: AssistantConfig{
			HardTimeout:       30 * time.Second,
			SoftFallbackDelay: 2 * time.Second,
			KeepAliveInterval: 10 * time.Second,
			MaxRequestBody:    1 << 20,
		},
		LLM: LLMConfig{
			Provider: "openai",
		},
		Audit: AuditConfig{
			Enabled: true,
			Sink:    "log",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads a YAML config file, expands ${ENV} references, and applies
// defaults for zero-valued fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills zero-valued fields after unmarshaling, since YAML
// overwrites whole structs that are present but partially specified.
func (c *Config) applyDefaults() {
	d := Default()
	if c.Server.Port == 0 {
		c.Server.Port = d.Server.Port
	}
	if c.Server.MetricsPort == 0 {
		c.Server.MetricsPort = d.Server.MetricsPort
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = d.Server.ShutdownTimeout
	}
	if c.RateLimit.Limit == 0 {
		c.RateLimit.Limit = d.RateLimit.Limit
	}
	if c.RateLimit.Window == 0 {
		c.RateLimit.Window = d.RateLimit.Window
	}
	if c.Assistant.HardTimeout == 0 {
		c.Assistant.HardTimeout = d.Assistant.HardTimeout
	}
	if c.Assistant.SoftFallbackDelay == 0 {
		c.Assistant.SoftFallbackDelay = d.Assistant.SoftFallbackDelay
	}
	if c.Assistant.KeepAliveInterval == 0 {
		c.Assistant.KeepAliveInterval = d.Assistant.KeepAliveInterval
	}
	if c.Assistant.MaxRequestBody == 0 {
		c.Assistant.MaxRequestBody = d.Assistant.MaxRequestBody
	}
	if c.LLM.Provider == "" {
		c.LLM.Provider = d.LLM.Provider
	}
	if c.Audit.Sink == "" {
		c.Audit.Sink = d.Audit.Sink
	}
	if c.Logging.Level == "" {
		c.Logging.Level = d.Logging.Level
	}
	if c.Logging.Format == "" {
		c.Logging.Format = d.Logging.Format
	}
}

// Validate checks invariants that cannot be defaulted away.
func (c *Config) Validate() error {
	if c.RateLimit.Limit < 0 {
		return fmt.Errorf("rate_limit.limit must be non-negative, got %d", c.RateLimit.Limit)
	}
	if c.Assistant.SoftFallbackDelay >= c.Assistant.HardTimeout {
		return fmt.Errorf("assistant.soft_fallback_delay (%s) must be below hard_timeout (%s)",
			c.Assistant.SoftFallbackDelay, c.Assistant.HardTimeout)
	}
	switch c.Audit.Sink {
	case "log", "sqlite":
	default:
		return fmt.Errorf("audit.sink must be %q or %q, got %q", "log", "sqlite", c.Audit.Sink)
	}
	if c.Audit.Sink == "sqlite" && c.Audit.Path == "" {
		return fmt.Errorf("audit.path is required when audit.sink is %q", "sqlite")
	}
	return nil
}

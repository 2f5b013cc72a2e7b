// ABOUTME: Configuration loading and parsing for the chat relay gateway
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Defaults applied to zero-valued fields
const (
	DefaultHTTPAddr          = ":3000"
	DefaultCookieName        = "relay_session"
	DefaultSessionTTL        = 30 * 24 * time.Hour
	DefaultHeartbeatInterval = 25 * time.Second
	DefaultStreamBuffer      = 64
	DefaultMaxTextLength     = 4000
	DefaultMaxBodyBytes      = 5 << 20
	DefaultMessagesPerSecond = 2
	DefaultBurst             = 10
	DefaultDedupeTTL         = 10 * time.Minute
	DefaultDedupeEntries     = 10000
	DefaultShutdownTimeout   = 10 * time.Second
	DefaultMetricsPath       = "/metrics"
)

// Config represents the complete relay gateway configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale" toml:"tailscale"`
	Database  DatabaseConfig  `yaml:"database" toml:"database"`
	Operator  OperatorConfig  `yaml:"operator" toml:"operator"`
	Session   SessionConfig   `yaml:"session" toml:"session"`
	Stream    StreamConfig    `yaml:"stream" toml:"stream"`
	Limits    LimitsConfig    `yaml:"limits" toml:"limits"`
	Dedupe    DedupeConfig    `yaml:"dedupe" toml:"dedupe"`
	Render    RenderConfig    `yaml:"render" toml:"render"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics" toml:"metrics"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
	GRPCAddr string `yaml:"grpc_addr" toml:"grpc_addr"` // optional health service

	ShutdownTimeout    time.Duration `yaml:"-" toml:"-"`
	ShutdownTimeoutRaw string        `yaml:"shutdown_timeout" toml:"shutdown_timeout"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
	HTTPS     bool   `yaml:"https" toml:"https"`   // TLS with tailnet certificates on :443
	Funnel    bool   `yaml:"funnel" toml:"funnel"` // public HTTPS via Funnel
}

// DatabaseConfig holds database configuration.
// An empty path keeps conversations in memory only.
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// OperatorConfig holds the shared operator credential
type OperatorConfig struct {
	Token     string `yaml:"token" toml:"token"`
	TokenHash string `yaml:"token_hash" toml:"token_hash"` // bcrypt, wins over token
}

// SessionConfig holds end-user session cookie configuration
type SessionConfig struct {
	Secret     string `yaml:"secret" toml:"secret"` // empty: random per process
	CookieName string `yaml:"cookie_name" toml:"cookie_name"`

	TTL    time.Duration `yaml:"-" toml:"-"`
	TTLRaw string        `yaml:"ttl" toml:"ttl"`
}

// StreamConfig holds SSE stream configuration
type StreamConfig struct {
	BufferSize int `yaml:"buffer_size" toml:"buffer_size"`

	HeartbeatInterval    time.Duration `yaml:"-" toml:"-"`
	HeartbeatIntervalRaw string        `yaml:"heartbeat_interval" toml:"heartbeat_interval"`
}

// LimitsConfig holds inbound message limits
type LimitsConfig struct {
	MessagesPerSecond  float64 `yaml:"messages_per_second" toml:"messages_per_second"` // negative disables
	Burst              int     `yaml:"burst" toml:"burst"`
	MaxTextLength      int     `yaml:"max_text_length" toml:"max_text_length"`
	MaxBodyBytes       int64   `yaml:"max_body_bytes" toml:"max_body_bytes"`
	AllowEmptyMessages bool    `yaml:"allow_empty_messages" toml:"allow_empty_messages"`
}

// DedupeConfig holds idempotency cache configuration
type DedupeConfig struct {
	MaxEntries int `yaml:"max_entries" toml:"max_entries"`

	TTL    time.Duration `yaml:"-" toml:"-"`
	TTLRaw string        `yaml:"ttl" toml:"ttl"`
}

// RenderConfig controls markdown rendering of message text
type RenderConfig struct {
	Markdown bool `yaml:"markdown" toml:"markdown"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"`
}

// Default returns a configuration with every default applied
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in ".toml" are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded, then the
// RELAY_DB_PATH, OPERATOR_TOKEN and PORT overrides are applied.
// An empty path yields the defaults plus environment overrides.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		// Expand environment variables in the raw content
		expandedData := expandEnvVars(string(data))

		if strings.EqualFold(filepath.Ext(path), ".toml") {
			if _, err := toml.Decode(expandedData, &cfg); err != nil {
				return nil, fmt.Errorf("parsing config file: %w", err)
			}
		} else if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyEnvOverrides lets a bare deployment run from environment variables alone
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("RELAY_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("OPERATOR_TOKEN"); v != "" {
		cfg.Operator.Token = v
	}
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.HTTPAddr = ":" + v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Server.HTTPAddr == "" && !cfg.Tailscale.Enabled {
		cfg.Server.HTTPAddr = DefaultHTTPAddr
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Session.CookieName == "" {
		cfg.Session.CookieName = DefaultCookieName
	}
	if cfg.Session.TTL == 0 {
		cfg.Session.TTL = DefaultSessionTTL
	}
	if cfg.Stream.HeartbeatInterval == 0 {
		cfg.Stream.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.Stream.BufferSize == 0 {
		cfg.Stream.BufferSize = DefaultStreamBuffer
	}
	if cfg.Limits.MessagesPerSecond == 0 {
		cfg.Limits.MessagesPerSecond = DefaultMessagesPerSecond
	}
	if cfg.Limits.Burst == 0 {
		cfg.Limits.Burst = DefaultBurst
	}
	if cfg.Limits.MaxTextLength == 0 {
		cfg.Limits.MaxTextLength = DefaultMaxTextLength
	}
	if cfg.Limits.MaxBodyBytes == 0 {
		cfg.Limits.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.Dedupe.TTL == 0 {
		cfg.Dedupe.TTL = DefaultDedupeTTL
	}
	if cfg.Dedupe.MaxEntries == 0 {
		cfg.Dedupe.MaxEntries = DefaultDedupeEntries
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = DefaultMetricsPath
	}
	if cfg.Tailscale.Enabled && cfg.Tailscale.Hostname == "" {
		cfg.Tailscale.Hostname = "human-ai-chat"
	}
}

// Validate checks that all configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}

	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Stream.HeartbeatInterval < 0 {
		return fmt.Errorf("stream.heartbeat_interval must be positive")
	}
	if c.Stream.BufferSize < 1 {
		return fmt.Errorf("stream.buffer_size must be at least 1")
	}

	if c.Limits.MaxTextLength < 1 {
		return fmt.Errorf("limits.max_text_length must be at least 1")
	}
	if c.Limits.Burst < 1 {
		return fmt.Errorf("limits.burst must be at least 1")
	}

	if c.Session.TTL < 0 {
		return fmt.Errorf("session.ttl must be positive")
	}

	if c.Dedupe.TTL < 0 {
		return fmt.Errorf("dedupe.ttl must be positive")
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /")
	}

	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"server.shutdown_timeout", cfg.Server.ShutdownTimeoutRaw, &cfg.Server.ShutdownTimeout},
		{"session.ttl", cfg.Session.TTLRaw, &cfg.Session.TTL},
		{"stream.heartbeat_interval", cfg.Stream.HeartbeatIntervalRaw, &cfg.Stream.HeartbeatInterval},
		{"dedupe.ttl", cfg.Dedupe.TTLRaw, &cfg.Dedupe.TTL},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}

// Package config loads and validates the gateway configuration.
//
// DESIGN: All configuration comes from a YAML file read once at startup.
// Values support ${VAR} and ${VAR:-default} environment expansion so vendor
// secrets stay out of the file itself.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the tool gateway.
type Config struct {
	Server  ServerConfig            `yaml:"server"`  // HTTP server settings
	MCP     MCPConfig               `yaml:"mcp"`     // MCP transport settings
	Audit   AuditConfig             `yaml:"audit"`   // call-audit store
	Logging LoggingConfig           `yaml:"logging"` // zerolog settings
	Vendors map[string]VendorConfig `yaml:"vendors"` // per-vendor adapters
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port          int           `yaml:"port"`            // port to listen on
	ReadTimeout   time.Duration `yaml:"read_timeout"`    // max time to read request
	WriteTimeout  time.Duration `yaml:"write_timeout"`   // max time to write response
	RatePerSecond int           `yaml:"rate_per_second"` // per-IP inbound limit
}

// MCPConfig selects the MCP transports to expose alongside the REST surface.
type MCPConfig struct {
	Stdio    bool   `yaml:"stdio"`     // serve MCP over stdin/stdout
	HTTPAddr string `yaml:"http_addr"` // Streamable HTTP addr, empty to disable
}

// AuditConfig selects the call-audit store backend.
type AuditConfig struct {
	Type     string `yaml:"type"`     // "memory" or "sqlite"
	Path     string `yaml:"path"`     // sqlite file path
	Capacity int    `yaml:"capacity"` // memory ring size
}

// LoggingConfig contains zerolog settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // trace..panic, default info
	Format string `yaml:"format"` // "console" or "json"
}

// VendorConfig configures one vendor adapter. Credentials configured here
// are the fallback for callers (MCP stdio) that cannot send per-request
// auth headers.
type VendorConfig struct {
	Enabled     bool              `yaml:"enabled"`
	BaseURL     string            `yaml:"base_url"`
	Credentials map[string]string `yaml:"credentials"`
	RateLimit   *RateLimitConfig  `yaml:"rate_limit,omitempty"`
	Options     map[string]string `yaml:"options,omitempty"`
}

// RateLimitConfig is a self-imposed sliding-window quota for one vendor.
type RateLimitConfig struct {
	MaxCalls int           `yaml:"max_calls"`
	Window   time.Duration `yaml:"window"`
}

// envPattern matches ${VAR} and ${VAR:-default}.
var envPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandEnvWithDefaults expands environment variables with support for
// default values.
func expandEnvWithDefaults(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := envPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		if len(parts) > 2 {
			return parts[2]
		}
		return ""
	})
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, fmt.Errorf("config file path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file %q: %w", path, err)
	}
	return LoadFromBytes(data)
}

// LoadFromBytes parses configuration from raw YAML bytes, expands
// environment variables, applies defaults and validates.
func LoadFromBytes(data []byte) (*Config, error) {
	expanded := expandEnvWithDefaults(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8480
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 30 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 120 * time.Second
	}
	if c.Server.RatePerSecond == 0 {
		c.Server.RatePerSecond = 50
	}
	if c.Audit.Type == "" {
		c.Audit.Type = "memory"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "console"
	}
}

// Validate checks the configuration for contradictions.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	switch c.Audit.Type {
	case "memory":
	case "sqlite":
		if c.Audit.Path == "" {
			return fmt.Errorf("audit.path is required for audit.type sqlite")
		}
	default:
		return fmt.Errorf("audit.type %q is not one of memory, sqlite", c.Audit.Type)
	}
	for name, v := range c.Vendors {
		if !v.Enabled {
			continue
		}
		if v.BaseURL == "" {
			return fmt.Errorf("vendors.%s.base_url is required when enabled", name)
		}
		if v.RateLimit != nil && (v.RateLimit.MaxCalls < 1 || v.RateLimit.Window <= 0) {
			return fmt.Errorf("vendors.%s.rate_limit needs max_calls >= 1 and a positive window", name)
		}
	}
	return nil
}

// Vendor returns the config for a named vendor and whether it is enabled.
func (c *Config) Vendor(name string) (VendorConfig, bool) {
	v, ok := c.Vendors[name]
	return v, ok && v.Enabled
}

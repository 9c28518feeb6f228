// Package config provides configuration parsing and validation for the echoip daemon.
package config

import (
	"fmt"
	"net"
	"net/netip"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mjochimsen/echoip/internal/health"
	"github.com/mjochimsen/echoip/internal/logging"
	"github.com/mjochimsen/echoip/internal/protocol"
	"github.com/mjochimsen/echoip/internal/server"
)

// Config represents the complete daemon configuration.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Log    LogConfig    `yaml:"log"`
	Health HealthConfig `yaml:"health"`
}

// ServerConfig contains the UDP responder settings.
type ServerConfig struct {
	Address   string  `yaml:"address"`    // IPv4 address to bind
	Port      uint16  `yaml:"port"`       // UDP port, 0 picks a free one
	ReusePort bool    `yaml:"reuse_port"` // SO_REUSEPORT
	RateLimit float64 `yaml:"rate_limit"` // responses per second, 0 = unlimited
	RateBurst int     `yaml:"rate_burst"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// HealthConfig contains the HTTP health endpoint settings.
type HealthConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Address      string        `yaml:"address"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// Default returns a configuration with sensible defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Address: "0.0.0.0",
			Port:    protocol.DefaultPort,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Health: HealthConfig{
			Enabled:      false,
			Address:      "127.0.0.1:9530",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}
}

// Load reads and parses a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse parses configuration from YAML bytes. Missing keys keep their defaults.
func Parse(data []byte) (*Config, error) {
	expanded := expandEnvVars(string(data))

	cfg := Default()

	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// envVarRegex matches ${VAR}, ${VAR:-default} and $VAR.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// expandEnvVars replaces environment variable references with their values.
// Unset variables without a default are left as written.
func expandEnvVars(s string) string {
	return envVarRegex.ReplaceAllStringFunc(s, func(match string) string {
		var name string
		if strings.HasPrefix(match, "${") {
			name = match[2 : len(match)-1]
		} else {
			name = match[1:]
		}

		if idx := strings.Index(name, ":-"); idx != -1 {
			if val, ok := os.LookupEnv(name[:idx]); ok {
				return val
			}
			return name[idx+2:]
		}

		if val, ok := os.LookupEnv(name); ok {
			return val
		}
		return match
	})
}

// Validate checks the configuration and reports every problem found.
func (c *Config) Validate() error {
	var errs []string

	if _, err := protocol.ParseIPv4(c.Server.Address); err != nil {
		errs = append(errs, fmt.Sprintf("invalid server.address: %q (must be an IPv4 address)", c.Server.Address))
	}
	if c.Server.RateLimit < 0 {
		errs = append(errs, "server.rate_limit must not be negative")
	}
	if c.Server.RateBurst < 0 {
		errs = append(errs, "server.rate_burst must not be negative")
	}

	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Sprintf("invalid log.level: %v", err))
	}
	if _, err := logging.ParseFormat(c.Log.Format); err != nil {
		errs = append(errs, fmt.Sprintf("invalid log.format: %v", err))
	}

	if c.Health.Enabled {
		if _, _, err := net.SplitHostPort(c.Health.Address); err != nil {
			errs = append(errs, fmt.Sprintf("invalid health.address: %q", c.Health.Address))
		}
		if c.Health.ReadTimeout <= 0 {
			errs = append(errs, "health.read_timeout must be positive")
		}
		if c.Health.WriteTimeout <= 0 {
			errs = append(errs, "health.write_timeout must be positive")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// ServerConfig converts the server section into a server.Config.
// Call it on a validated configuration.
func (c *Config) ServerConfig() server.Config {
	addr, err := netip.ParseAddr(c.Server.Address)
	if err != nil {
		addr = netip.IPv4Unspecified()
	}

	return server.Config{
		Address:   netip.AddrPortFrom(addr.Unmap(), c.Server.Port),
		RateLimit: c.Server.RateLimit,
		RateBurst: c.Server.RateBurst,
		ReusePort: c.Server.ReusePort,
	}
}

// HealthServerConfig converts the health section into a health.ServerConfig.
func (c *Config) HealthServerConfig() health.ServerConfig {
	return health.ServerConfig{
		Address:      c.Health.Address,
		ReadTimeout:  c.Health.ReadTimeout,
		WriteTimeout: c.Health.WriteTimeout,
	}
}

// String returns the configuration as YAML.
func (c *Config) String() string {
	data, _ := yaml.Marshal(c)
	return string(data)
}

// Package config provides unified configuration loading for deskhive.
// Precedence: defaults -> YAML file -> environment variables.
//
// Usage:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("DESKHIVE").
//	    Load()
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the complete deskhive configuration.
type Config struct {
	// Server HTTP server settings
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Database relational store settings
	Database DatabaseConfig `yaml:"database" env:"DATABASE"`

	// Redis hot-thread store settings
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Memory conversational-memory policy
	Memory MemoryConfig `yaml:"memory" env:"MEMORY"`

	// Auth token lifecycle policy
	Auth AuthConfig `yaml:"auth" env:"AUTH"`

	// MCP tool transport settings
	MCP MCPConfig `yaml:"mcp" env:"MCP"`

	// Log logging settings
	Log LogConfig `yaml:"log" env:"LOG"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	HTTPPort        int           `yaml:"http_port" env:"HTTP_PORT"`
	MetricsPort     int           `yaml:"metrics_port" env:"METRICS_PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// DatabaseConfig configures the relational message store.
type DatabaseConfig struct {
	Driver   string `yaml:"driver" env:"DRIVER"` // postgres | mysql | sqlite
	Host     string `yaml:"host" env:"HOST"`
	Port     int    `yaml:"port" env:"PORT"`
	User     string `yaml:"user" env:"USER"`
	Password string `yaml:"password" env:"PASSWORD"`
	Name     string `yaml:"name" env:"NAME"`
	SSLMode  string `yaml:"ssl_mode" env:"SSL_MODE"`
}

// RedisConfig configures the redis message store.
type RedisConfig struct {
	Enabled   bool   `yaml:"enabled" env:"ENABLED"`
	Addr      string `yaml:"addr" env:"ADDR"`
	Password  string `yaml:"password" env:"PASSWORD"`
	DB        int    `yaml:"db" env:"DB"`
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
	PoolSize  int    `yaml:"pool_size" env:"POOL_SIZE"`
}

// MemoryConfig holds the conversational-memory policy knobs.
type MemoryConfig struct {
	// MaxLoadMessages is the safety cap on messages loaded per thread.
	MaxLoadMessages int `yaml:"max_load_messages" env:"MAX_LOAD_MESSAGES"`

	// SmallThreadLimit is the message count at or below which budget
	// filtering is skipped entirely.
	SmallThreadLimit int `yaml:"small_thread_limit" env:"SMALL_THREAD_LIMIT"`

	// Model selects the tokenizer used for budgeting.
	Model string `yaml:"model" env:"MODEL"`
}

// AuthConfig holds the token lifecycle policy knobs.
type AuthConfig struct {
	// RefreshLookahead triggers proactive refresh when the token expires
	// within this window.
	RefreshLookahead time.Duration `yaml:"refresh_lookahead" env:"REFRESH_LOOKAHEAD"`

	// MaxRetries bounds reactive refresh attempts on 401/403.
	MaxRetries int `yaml:"max_retries" env:"MAX_RETRIES"`

	// BaseDelay is the initial backoff between refresh retries.
	BaseDelay time.Duration `yaml:"base_delay" env:"BASE_DELAY"`

	// MaxDelay caps the backoff between refresh retries.
	MaxDelay time.Duration `yaml:"max_delay" env:"MAX_DELAY"`

	// OpaqueExtension is how far a revalidated opaque token's expiry is
	// pushed out.
	OpaqueExtension time.Duration `yaml:"opaque_extension" env:"OPAQUE_EXTENSION"`

	// LocalMintTTL is the lifetime of locally minted fallback access tokens.
	LocalMintTTL time.Duration `yaml:"local_mint_ttl" env:"LOCAL_MINT_TTL"`

	// JWTSigningKey signs locally minted fallback tokens.
	JWTSigningKey string `yaml:"jwt_signing_key" env:"JWT_SIGNING_KEY"`

	// IdentityURL is the base URL of the identity provider used for
	// token verification and refresh-token exchange. Empty disables
	// token refresh.
	IdentityURL string `yaml:"identity_url" env:"IDENTITY_URL"`
}

// MCPConfig configures the tool-calling transport.
type MCPConfig struct {
	ServerURL         string        `yaml:"server_url" env:"SERVER_URL"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" env:"HEARTBEAT_INTERVAL"`
	CallTimeout       time.Duration `yaml:"call_timeout" env:"CALL_TIMEOUT"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level        string `yaml:"level" env:"LEVEL"`
	Format       string `yaml:"format" env:"FORMAT"` // json | console
	EnableCaller bool   `yaml:"enable_caller" env:"ENABLE_CALLER"`
}

// DefaultConfig returns the configuration defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:        8080,
			MetricsPort:     9090,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Database: DatabaseConfig{
			Driver:  "sqlite",
			Name:    "deskhive.db",
			SSLMode: "disable",
		},
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			KeyPrefix: "deskhive:",
			PoolSize:  10,
		},
		Memory: MemoryConfig{
			MaxLoadMessages:  1000,
			SmallThreadLimit: 10,
			Model:            "gpt-4o",
		},
		Auth: AuthConfig{
			RefreshLookahead: 5 * time.Minute,
			MaxRetries:       2,
			BaseDelay:        time.Second,
			MaxDelay:         10 * time.Second,
			OpaqueExtension:  24 * time.Hour,
			LocalMintTTL:     time.Hour,
		},
		MCP: MCPConfig{
			HeartbeatInterval: 30 * time.Second,
			CallTimeout:       60 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}
	switch c.Database.Driver {
	case "postgres", "mysql", "sqlite":
	default:
		errs = append(errs, fmt.Sprintf("unsupported database driver: %s", c.Database.Driver))
	}
	if c.Memory.MaxLoadMessages <= 0 {
		errs = append(errs, "memory.max_load_messages must be positive")
	}
	if c.Memory.SmallThreadLimit < 0 {
		errs = append(errs, "memory.small_thread_limit must not be negative")
	}
	if c.Auth.MaxRetries < 0 {
		errs = append(errs, "auth.max_retries must not be negative")
	}
	if c.Auth.BaseDelay <= 0 || c.Auth.MaxDelay < c.Auth.BaseDelay {
		errs = append(errs, "auth backoff delays are inconsistent")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// DSN returns the database connection string for the configured driver.
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "mysql":
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true",
			d.User, d.Password, d.Host, d.Port, d.Name,
		)
	case "sqlite":
		return d.Name
	default:
		return ""
	}
}

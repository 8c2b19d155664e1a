// Package config loads the licensing service configuration from environment
// variables (prefix SIGNCAST_) with an optional YAML file underneath.
// Environment always wins over the file, and the file wins over defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v2"
)

// Config represents the complete service configuration
type Config struct {
	Server      ServerConfig      `yaml:"server" envconfig:"SERVER"`
	Database    DatabaseConfig    `yaml:"database" envconfig:"DATABASE"`
	Signing     SigningConfig     `yaml:"signing" envconfig:"SIGNING"`
	Entitlement EntitlementConfig `yaml:"entitlement" envconfig:"ENTITLEMENT"`
	Admin       AdminConfig       `yaml:"admin" envconfig:"ADMIN"`
	Logging     LoggingConfig     `yaml:"logging" envconfig:"LOGGING"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Port            int             `yaml:"port" envconfig:"PORT"`
	ReadTimeout     time.Duration   `yaml:"read_timeout" envconfig:"READ_TIMEOUT"`
	WriteTimeout    time.Duration   `yaml:"write_timeout" envconfig:"WRITE_TIMEOUT"`
	IdleTimeout     time.Duration   `yaml:"idle_timeout" envconfig:"IDLE_TIMEOUT"`
	ShutdownTimeout time.Duration   `yaml:"shutdown_timeout" envconfig:"SHUTDOWN_TIMEOUT"`
	RateLimit       RateLimitConfig `yaml:"rate_limit" envconfig:"RATE_LIMIT"`
}

// RateLimitConfig throttles activation attempts per source address
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled" envconfig:"ENABLED"`
	RPS     float64 `yaml:"rps" envconfig:"RPS"`
	Burst   int     `yaml:"burst" envconfig:"BURST"`
}

// DatabaseConfig selects the persistence backend.
// Driver is "sqlite" for single-node deployments and tests, "postgres"
// for production.
type DatabaseConfig struct {
	Driver string `yaml:"driver" envconfig:"DRIVER"`
	DSN    string `yaml:"dsn" envconfig:"DSN"`
}

// SigningConfig locates the RSA key pair used for capability tokens.
// When both paths are empty an ephemeral pair is generated at startup,
// which is only suitable for development.
type SigningConfig struct {
	PrivateKeyPath string `yaml:"private_key_path" envconfig:"PRIVATE_KEY_PATH"`
	PublicKeyPath  string `yaml:"public_key_path" envconfig:"PUBLIC_KEY_PATH"`
}

// EntitlementConfig holds the token and offline-grace tuning knobs
type EntitlementConfig struct {
	TokenTTL         time.Duration `yaml:"token_ttl" envconfig:"TOKEN_TTL"`
	OfflineGrace     time.Duration `yaml:"offline_grace" envconfig:"OFFLINE_GRACE"`
	ValidateTimeout  time.Duration `yaml:"validate_timeout" envconfig:"VALIDATE_TIMEOUT"`
	RefreshThreshold time.Duration `yaml:"refresh_threshold" envconfig:"REFRESH_THRESHOLD"`
	RefreshInterval  time.Duration `yaml:"refresh_interval" envconfig:"REFRESH_INTERVAL"`
}

// AdminConfig secures the administrative surface
type AdminConfig struct {
	APIKey string `yaml:"api_key" envconfig:"API_KEY"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level    string `yaml:"level" envconfig:"LEVEL"`
	Output   string `yaml:"output" envconfig:"OUTPUT"`
	FilePath string `yaml:"file_path" envconfig:"FILE_PATH"`
}

// defaultConfig returns the built-in defaults. They are applied in code
// rather than through envconfig default tags so that file values survive
// when the corresponding environment variable is unset.
func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			Port:            8090,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			RateLimit: RateLimitConfig{
				Enabled: true,
				RPS:     5,
				Burst:   10,
			},
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			DSN:    "signcast.db",
		},
		Entitlement: EntitlementConfig{
			TokenTTL:         24 * time.Hour,
			OfflineGrace:     168 * time.Hour,
			ValidateTimeout:  5 * time.Second,
			RefreshThreshold: 24 * time.Hour,
			RefreshInterval:  time.Hour,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Output:   "stdout",
			FilePath: "logs/licensed.log",
		},
	}
}

// Load loads configuration from an optional YAML file and the environment
func Load() (*Config, error) {
	return LoadFrom(os.Getenv("SIGNCAST_CONFIG_FILE"))
}

// LoadFrom loads configuration, reading the YAML file at path if it exists
func LoadFrom(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	// Environment variables override file values
	if err := envconfig.Process("SIGNCAST", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported database driver: %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database dsn must not be empty")
	}
	if c.Entitlement.TokenTTL <= 0 {
		return fmt.Errorf("token ttl must be positive, got %s", c.Entitlement.TokenTTL)
	}
	if c.Entitlement.OfflineGrace <= 0 {
		return fmt.Errorf("offline grace must be positive, got %s", c.Entitlement.OfflineGrace)
	}
	if c.Entitlement.ValidateTimeout <= 0 {
		return fmt.Errorf("validate timeout must be positive, got %s", c.Entitlement.ValidateTimeout)
	}
	if (c.Signing.PrivateKeyPath == "") != (c.Signing.PublicKeyPath == "") {
		return fmt.Errorf("signing key paths must be set together")
	}
	return nil
}

// Addr returns the listen address for the HTTP server
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

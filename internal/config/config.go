// Package config loads server configuration from a YAML file, a .env file
// and the environment, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/matthewbaird/protestdesk/internal/documents"
)

// Config holds all server configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Data      DataConfig      `yaml:"data"`
	Sessions  SessionsConfig  `yaml:"sessions"`
	Storage   StorageConfig   `yaml:"storage"`
	Functions FunctionsConfig `yaml:"functions"`
	Auth      AuthConfig      `yaml:"auth"`
	Concierge ConciergeConfig `yaml:"concierge"`
	Support   SupportConfig   `yaml:"support"`
	Documents DocumentsConfig `yaml:"documents"`
	Logging   LoggingConfig   `yaml:"logging"`
	// Seed loads demo customers on startup when the data service is empty.
	Seed bool `yaml:"seed"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// AllowedOrigins are the WebSocket origin patterns accepted besides the
	// server's own host.
	AllowedOrigins []string `yaml:"allowed_origins,omitempty"`
}

// DataConfig selects the data service.
type DataConfig struct {
	Backend     string        `yaml:"backend"` // "memory", "sql" or "stub"
	DatabaseURL string        `yaml:"database_url"`
	Latency     time.Duration `yaml:"latency"` // memory backend only
}

// SessionsConfig selects where wizard drafts live.
type SessionsConfig struct {
	Backend       string        `yaml:"backend"` // "memory" or "redis"
	RedisAddr     string        `yaml:"redis_addr"`
	RedisPassword string        `yaml:"redis_password"`
	RedisDB       int           `yaml:"redis_db"`
	IntakeTTL     time.Duration `yaml:"intake_ttl"`
	ConciergeTTL  time.Duration `yaml:"concierge_ttl"`
}

// StorageConfig selects the object store backing the buckets.
type StorageConfig struct {
	Backend        string `yaml:"backend"` // "fs" or "memory"
	Root           string `yaml:"root"`
	MaxUploadBytes int64  `yaml:"max_upload_bytes"`
}

// FunctionsConfig selects how document generation is invoked.
type FunctionsConfig struct {
	Mode    string        `yaml:"mode"` // "local" or "remote"
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

// AuthConfig configures portal tokens.
type AuthConfig struct {
	Secret     string        `yaml:"secret"`
	AccessTTL  time.Duration `yaml:"access_ttl"`
	RefreshTTL time.Duration `yaml:"refresh_ttl"`
	PortalTTL  time.Duration `yaml:"portal_ttl"`
}

// ConciergeConfig tunes the live concierge wizard.
type ConciergeConfig struct {
	ExitDelay  time.Duration `yaml:"exit_delay"`
	EnterDelay time.Duration `yaml:"enter_delay"`
}

// SupportConfig is the contact shown when an address cannot be verified.
type SupportConfig struct {
	Email string `yaml:"email"`
	Phone string `yaml:"phone"`
	URL   string `yaml:"url"`
}

// DocumentsConfig fills in the generated forms.
type DocumentsConfig struct {
	Agent      documents.Agent `yaml:"agent"`
	FeePercent int             `yaml:"fee_percent"`
}

// LoggingConfig configures zap.
type LoggingConfig struct {
	Level       string `yaml:"level"` // "debug", "info", "warn", "error"
	Development bool   `yaml:"development"`
}

// DefaultConfig returns the configuration used when no file is present.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ShutdownTimeout: 10 * time.Second,
		},
		Data: DataConfig{
			Backend:     "memory",
			DatabaseURL: "file:protestdesk.db?_pragma=foreign_keys(1)",
		},
		Sessions: SessionsConfig{
			Backend:      "memory",
			RedisAddr:    "localhost:6379",
			IntakeTTL:    24 * time.Hour,
			ConciergeTTL: 8 * time.Hour,
		},
		Storage: StorageConfig{
			Backend:        "fs",
			Root:           "data/buckets",
			MaxUploadBytes: 25 << 20,
		},
		Functions: FunctionsConfig{
			Mode:    "local",
			Timeout: 30 * time.Second,
		},
		Auth: AuthConfig{
			AccessTTL:  time.Hour,
			RefreshTTL: 30 * 24 * time.Hour,
			PortalTTL:  7 * 24 * time.Hour,
		},
		Concierge: ConciergeConfig{
			ExitDelay:  250 * time.Millisecond,
			EnterDelay: 250 * time.Millisecond,
		},
		Support: SupportConfig{
			Email: "support@protestdesk.example",
			Phone: "+1 800 555 0199",
		},
		Documents: DocumentsConfig{
			Agent: documents.Agent{
				Name:  "ProtestDesk Property Tax Consultants",
				Phone: "+1 800 555 0199",
				Email: "filings@protestdesk.example",
			},
			FeePercent: 30,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads path over the defaults, then applies .env and environment
// overrides. A missing file or .env is not an error.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	// godotenv never overrides variables already set in the environment.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	return cfg, cfg.Validate()
}

// Save writes c as YAML.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() error {
	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PORT %q: %w", v, err)
		}
		c.Server.Port = port
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		c.Data.DatabaseURL = v
		if os.Getenv("PROTEST_DATA_SERVICE") == "" {
			c.Data.Backend = "sql"
		}
	}
	if v := os.Getenv("PROTEST_DATA_SERVICE"); v != "" {
		c.Data.Backend = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Sessions.Backend = "redis"
		c.Sessions.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Sessions.RedisPassword = v
	}
	if v := os.Getenv("AUTH_SECRET"); v != "" {
		c.Auth.Secret = v
	}
	if v := os.Getenv("FUNCTIONS_URL"); v != "" {
		c.Functions.Mode = "remote"
		c.Functions.BaseURL = v
	}
	if v := os.Getenv("FUNCTIONS_KEY"); v != "" {
		c.Functions.APIKey = v
	}
	if v := os.Getenv("STORAGE_ROOT"); v != "" {
		c.Storage.Root = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	return nil
}

// Validate reports settings the server cannot start with.
func (c *Config) Validate() error {
	switch c.Sessions.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("config: unknown sessions backend %q", c.Sessions.Backend)
	}
	switch c.Storage.Backend {
	case "fs", "memory":
	default:
		return fmt.Errorf("config: unknown storage backend %q", c.Storage.Backend)
	}
	switch c.Functions.Mode {
	case "local":
	case "remote":
		if c.Functions.BaseURL == "" {
			return errors.New("config: remote functions need a base_url")
		}
	default:
		return fmt.Errorf("config: unknown functions mode %q", c.Functions.Mode)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: invalid port %d", c.Server.Port)
	}
	return nil
}

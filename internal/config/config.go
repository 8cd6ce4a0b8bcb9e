package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Database    DatabaseConfig    `yaml:"database"`
	Session     SessionConfig     `yaml:"session"`
	Security    SecurityConfig    `yaml:"security"`
	Logging     LoggingConfig     `yaml:"logging"`
	Catalog     CatalogConfig     `yaml:"catalog"`
	DefaultUser DefaultUserConfig `yaml:"default_user"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	Mode string `yaml:"mode"`
	// LandingPath is where users go after login and after a forbidden redirect
	// without a usable Referer.
	LandingPath string `yaml:"landing_path"`
	LoginPath   string `yaml:"login_path"`
	// TrustedProxies lists the IPs or CIDRs whose X-Forwarded-For header is
	// believed. Empty trusts no proxy and uses the peer address.
	TrustedProxies []string `yaml:"trusted_proxies"`
}

type DatabaseConfig struct {
	Type   string       `yaml:"type"`
	SQLite SQLiteConfig `yaml:"sqlite"`
	MySQL  MySQLConfig  `yaml:"mysql"`
}

type SQLiteConfig struct {
	Path string `yaml:"path"`
}

type MySQLConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	Charset  string `yaml:"charset"`
}

type SessionConfig struct {
	Secret       string `yaml:"secret"`
	ExpiresIn    string `yaml:"expires_in"`
	Issuer       string `yaml:"issuer"`
	CookieName   string `yaml:"cookie_name"`
	SecureCookie bool   `yaml:"secure_cookie"`
}

type SecurityConfig struct {
	BcryptCost int             `yaml:"bcrypt_cost"`
	RateLimit  RateLimitConfig `yaml:"rate_limit"`
	APIKey     string          `yaml:"api_key"`
}

type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
	Burst             int  `yaml:"burst"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type CatalogConfig struct {
	// Path to a YAML policy catalog. Empty means the built-in catalog.
	Path string `yaml:"path"`
	// SeedOnStart reconciles the catalog before serving.
	SeedOnStart bool `yaml:"seed_on_start"`
}

type DefaultUserConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Role     string `yaml:"role"`
}

// SessionTTL returns the parsed session lifetime, falling back to 30 days.
func (c *Config) SessionTTL() time.Duration {
	d, err := time.ParseDuration(c.Session.ExpiresIn)
	if err != nil || d <= 0 {
		return 720 * time.Hour
	}
	return d
}

// Load reads the configuration file and environment variables
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyEnv(&cfg)
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Ensure data directory exists for SQLite
	if cfg.Database.Type == "sqlite" {
		dataDir := filepath.Dir(cfg.Database.SQLite.Path)
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	return &cfg, nil
}

func applyEnv(cfg *Config) {
	overrides := []struct {
		env    string
		target *string
	}{
		{"ORGREG_SESSION_SECRET", &cfg.Session.Secret},
		{"ORGREG_DB_TYPE", &cfg.Database.Type},
		{"ORGREG_DB_PATH", &cfg.Database.SQLite.Path},
		{"ORGREG_MYSQL_HOST", &cfg.Database.MySQL.Host},
		{"ORGREG_MYSQL_USER", &cfg.Database.MySQL.Username},
		{"ORGREG_MYSQL_PASSWORD", &cfg.Database.MySQL.Password},
		{"ORGREG_MYSQL_DATABASE", &cfg.Database.MySQL.Database},
		{"ORGREG_LOG_LEVEL", &cfg.Logging.Level},
		{"ORGREG_API_KEY", &cfg.Security.APIKey},
		{"ORGREG_CATALOG_PATH", &cfg.Catalog.Path},
	}
	for _, o := range overrides {
		if v := os.Getenv(o.env); v != "" {
			*o.target = v
		}
	}
}

// ApplyDefaults fills empty fields with working values.
func (c *Config) ApplyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.LandingPath == "" {
		c.Server.LandingPath = "/"
	}
	if c.Server.LoginPath == "" {
		c.Server.LoginPath = "/auth/login"
	}
	if c.Database.Type == "" {
		c.Database.Type = "sqlite"
	}
	if c.Database.Type == "sqlite" && c.Database.SQLite.Path == "" {
		c.Database.SQLite.Path = "data/orgregistry.db"
	}
	if c.Database.MySQL.Port == 0 {
		c.Database.MySQL.Port = 3306
	}
	if c.Database.MySQL.Charset == "" {
		c.Database.MySQL.Charset = "utf8mb4"
	}
	if c.Session.ExpiresIn == "" {
		c.Session.ExpiresIn = "720h"
	}
	if c.Session.Issuer == "" {
		c.Session.Issuer = "orgregistry"
	}
	if c.Session.CookieName == "" {
		c.Session.CookieName = "orgreg_session"
	}
	if c.Security.BcryptCost == 0 {
		c.Security.BcryptCost = 10
	}
	if c.Security.RateLimit.RequestsPerMinute == 0 {
		c.Security.RateLimit.RequestsPerMinute = 10
	}
	if c.Security.RateLimit.Burst == 0 {
		c.Security.RateLimit.Burst = 5
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.DefaultUser.Role == "" {
		c.DefaultUser.Role = "admin"
	}
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	switch c.Database.Type {
	case "sqlite":
	case "mysql":
		if c.Database.MySQL.Username == "" {
			return fmt.Errorf("MySQL username is required")
		}
		if c.Database.MySQL.Database == "" {
			return fmt.Errorf("MySQL database name is required")
		}
	default:
		return fmt.Errorf("unsupported database type: %s", c.Database.Type)
	}

	for _, p := range c.Server.TrustedProxies {
		if net.ParseIP(p) == nil {
			if _, _, err := net.ParseCIDR(p); err != nil {
				return fmt.Errorf("invalid server.trusted_proxies entry %q", p)
			}
		}
	}

	if c.Session.Secret == "" {
		return fmt.Errorf("session secret is required (set session.secret or ORGREG_SESSION_SECRET)")
	}
	if _, err := time.ParseDuration(c.Session.ExpiresIn); err != nil {
		return fmt.Errorf("invalid session.expires_in %q: %w", c.Session.ExpiresIn, err)
	}
	return nil
}

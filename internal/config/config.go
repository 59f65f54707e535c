// Package config loads service configuration from YAML with environment overrides.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
)

const envPrefix = "TAXPILOT_"

type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	GRPC     GRPCConfig     `yaml:"grpc"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Cookie   CookieConfig   `yaml:"cookie"`
	Sweeper  SweeperConfig  `yaml:"sweeper"`
	Audit    AuditConfig    `yaml:"audit"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
	RateLimit       RateConfig    `yaml:"rate_limit"`
	// TrustedProxies are addresses or CIDR prefixes whose X-Forwarded-For
	// header is honoured. Empty means the peer address is the client.
	TrustedProxies []string `yaml:"trusted_proxies"`
}

// RateConfig limits credential endpoints per client IP.
type RateConfig struct {
	PerSecond float64 `yaml:"per_second"`
	Burst     int     `yaml:"burst"`
}

type GRPCConfig struct {
	Addr string `yaml:"addr"`
}

type DatabaseConfig struct {
	// Driver is "pg" or "memory".
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type AuthConfig struct {
	AccessSecret  string        `yaml:"access_secret"`
	RefreshSecret string        `yaml:"refresh_secret"`
	AccessTTL     time.Duration `yaml:"access_ttl"`
	RefreshTTL    time.Duration `yaml:"refresh_ttl"`
	Issuer        string        `yaml:"issuer"`
	BcryptCost    int           `yaml:"bcrypt_cost"`
	DefaultRole   string        `yaml:"default_role"`
	RoleCacheSize int           `yaml:"role_cache_size"`
	RoleCacheTTL  time.Duration `yaml:"role_cache_ttl"`
}

type CookieConfig struct {
	Name   string `yaml:"name"`
	Path   string `yaml:"path"`
	Domain string `yaml:"domain"`
	Secure bool   `yaml:"secure"`
}

type SweeperConfig struct {
	Schedule string `yaml:"schedule"`
}

type AuditConfig struct {
	QueueSize int `yaml:"queue_size"`
	Retries   int `yaml:"retries"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the built-in configuration. Secrets are empty and must be supplied.
func Default() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			MaxBodyBytes:    1 << 20,
			RateLimit:       RateConfig{PerSecond: 5, Burst: 10},
		},
		GRPC:     GRPCConfig{Addr: ":9090"},
		Database: DatabaseConfig{Driver: "pg"},
		Auth: AuthConfig{
			AccessTTL:     15 * time.Minute,
			RefreshTTL:    7 * 24 * time.Hour,
			Issuer:        "taxpilot",
			BcryptCost:    10,
			DefaultRole:   "USER",
			RoleCacheSize: 64,
			RoleCacheTTL:  5 * time.Minute,
		},
		Cookie:  CookieConfig{Name: "refresh_token", Path: "/", Secure: true},
		Sweeper: SweeperConfig{Schedule: "@every 1h"},
		Audit:   AuditConfig{QueueSize: 1024, Retries: 3},
		Logging: LoggingConfig{Level: "info", Format: "json"},
	}
}

// Override adjusts a loaded config before validation, e.g. from CLI flags.
type Override func(*Config)

// WithDriver forces database.driver when driver is non-empty.
func WithDriver(driver string) Override {
	return func(c *Config) {
		if driver != "" {
			c.Database.Driver = driver
		}
	}
}

// Load reads path (optional) over the defaults, then applies environment
// overrides and overrides, and validates the result.
func Load(path string, overrides ...Override) (*Config, error) {
	cfg := Default()
	if path == "" {
		path = os.Getenv(envPrefix + "CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	for _, o := range overrides {
		o(cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) error {
	str := map[string]*string{
		"HTTP_ADDR":      &cfg.HTTP.Addr,
		"GRPC_ADDR":      &cfg.GRPC.Addr,
		"DB_DRIVER":      &cfg.Database.Driver,
		"PG_DSN":         &cfg.Database.DSN,
		"ACCESS_SECRET":  &cfg.Auth.AccessSecret,
		"REFRESH_SECRET": &cfg.Auth.RefreshSecret,
		"ISSUER":         &cfg.Auth.Issuer,
		"DEFAULT_ROLE":   &cfg.Auth.DefaultRole,
		"COOKIE_DOMAIN":  &cfg.Cookie.Domain,
		"SWEEP_SCHEDULE": &cfg.Sweeper.Schedule,
		"LOG_LEVEL":      &cfg.Logging.Level,
		"LOG_FORMAT":     &cfg.Logging.Format,
	}
	for key, dst := range str {
		if v, ok := os.LookupEnv(envPrefix + key); ok && v != "" {
			*dst = v
		}
	}
	durations := map[string]*time.Duration{
		"ACCESS_TTL":  &cfg.Auth.AccessTTL,
		"REFRESH_TTL": &cfg.Auth.RefreshTTL,
	}
	for key, dst := range durations {
		if v, ok := os.LookupEnv(envPrefix + key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("%s%s: %w", envPrefix, key, err)
			}
			*dst = d
		}
	}
	if v := os.Getenv(envPrefix + "BCRYPT_COST"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sBCRYPT_COST: %w", envPrefix, err)
		}
		cfg.Auth.BcryptCost = n
	}
	if v := os.Getenv(envPrefix + "COOKIE_SECURE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%sCOOKIE_SECURE: %w", envPrefix, err)
		}
		cfg.Cookie.Secure = b
	}
	if v := os.Getenv(envPrefix + "ALLOWED_ORIGINS"); v != "" {
		cfg.HTTP.AllowedOrigins = strings.Split(v, ",")
	}
	if v := os.Getenv(envPrefix + "TRUSTED_PROXIES"); v != "" {
		cfg.HTTP.TrustedProxies = strings.Split(v, ",")
	}
	return nil
}

// Validate checks the invariants the auth service depends on.
func (c *Config) Validate() error {
	var errs []error
	if len(c.Auth.AccessSecret) < 32 {
		errs = append(errs, errors.New("auth.access_secret must be at least 32 bytes"))
	}
	if len(c.Auth.RefreshSecret) < 32 {
		errs = append(errs, errors.New("auth.refresh_secret must be at least 32 bytes"))
	}
	if c.Auth.AccessSecret != "" && c.Auth.AccessSecret == c.Auth.RefreshSecret {
		errs = append(errs, errors.New("auth.access_secret and auth.refresh_secret must differ"))
	}
	if c.Auth.AccessTTL <= 0 || c.Auth.RefreshTTL <= 0 {
		errs = append(errs, errors.New("auth ttls must be positive"))
	} else if c.Auth.AccessTTL >= c.Auth.RefreshTTL {
		errs = append(errs, fmt.Errorf("auth.access_ttl %s must be shorter than auth.refresh_ttl %s", c.Auth.AccessTTL, c.Auth.RefreshTTL))
	}
	if c.Auth.BcryptCost < bcrypt.MinCost || c.Auth.BcryptCost > bcrypt.MaxCost {
		errs = append(errs, fmt.Errorf("auth.bcrypt_cost must be within [%d,%d]", bcrypt.MinCost, bcrypt.MaxCost))
	}
	switch c.Database.Driver {
	case "memory":
	case "pg":
		if c.Database.DSN == "" {
			errs = append(errs, errors.New("database.dsn is required for the pg driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("database.driver %q is not supported", c.Database.Driver))
	}
	if c.Cookie.Name == "" {
		errs = append(errs, errors.New("cookie.name is required"))
	}
	if c.HTTP.RateLimit.PerSecond <= 0 || c.HTTP.RateLimit.Burst <= 0 {
		errs = append(errs, errors.New("http.rate_limit values must be positive"))
	}
	for _, p := range c.HTTP.TrustedProxies {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, err := netip.ParsePrefix(p); err == nil {
			continue
		}
		if _, err := netip.ParseAddr(p); err != nil {
			errs = append(errs, fmt.Errorf("http.trusted_proxies: %q is not an address or prefix", p))
		}
	}
	return errors.Join(errs...)
}

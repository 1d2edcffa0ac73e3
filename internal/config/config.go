// ABOUTME: Configuration loading and parsing for aiquan-gateway
// ABOUTME: Supports YAML or TOML files with .env loading, env var expansion, defaults, and duration parsing

package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment names
const (
	EnvDevelopment = "development"
	EnvTest        = "test"
	EnvProduction  = "production"
)

// Database drivers
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// MinJWTSecretLength mirrors the admin token verifier's requirement.
const MinJWTSecretLength = 32

// Config represents the complete aiquan-gateway configuration
type Config struct {
	Environment string            `yaml:"environment" toml:"environment"`
	Server      ServerConfig      `yaml:"server" toml:"server"`
	Database    DatabaseConfig    `yaml:"database" toml:"database"`
	Credentials CredentialsConfig `yaml:"credentials" toml:"credentials"`
	Claims      ClaimsConfig      `yaml:"claims" toml:"claims"`
	Auth        AuthConfig        `yaml:"auth" toml:"auth"`
	Audit       AuditConfig       `yaml:"audit" toml:"audit"`
	RateLimit   RateLimitConfig   `yaml:"rate_limit" toml:"rate_limit"`
	CORS        CORSConfig        `yaml:"cors" toml:"cors"`
	Logging     LoggingConfig     `yaml:"logging" toml:"logging"`
	Metrics     MetricsConfig     `yaml:"metrics" toml:"metrics"`
}

// ServerConfig holds listener addresses and public URL configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
	GRPCAddr string `yaml:"grpc_addr" toml:"grpc_addr"` // optional, serves gRPC health only

	// BaseURL is the public origin claim URLs are built on
	BaseURL string `yaml:"base_url" toml:"base_url"`

	ShutdownTimeout    time.Duration `yaml:"-" toml:"-"`
	ShutdownTimeoutRaw string        `yaml:"shutdown_timeout" toml:"shutdown_timeout"`

	// TrustedProxies lists peers (IPs or CIDRs) whose X-Forwarded-For is
	// believed when keying rate limits
	TrustedProxies   []string       `yaml:"trusted_proxies" toml:"trusted_proxies"`
	TrustedProxyNets []netip.Prefix `yaml:"-" toml:"-"`
}

// DatabaseConfig selects and configures the store backend
type DatabaseConfig struct {
	Driver       string `yaml:"driver" toml:"driver"` // sqlite (default) or postgres
	Path         string `yaml:"path" toml:"path"`     // sqlite file
	DSN          string `yaml:"dsn" toml:"dsn"`       // postgres connection string
	MaxOpenConns int    `yaml:"max_open_conns" toml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns" toml:"max_idle_conns"`

	ConnMaxLifetime    time.Duration `yaml:"-" toml:"-"`
	ConnMaxLifetimeRaw string        `yaml:"conn_max_lifetime" toml:"conn_max_lifetime"`
}

// CredentialsConfig holds the secret material for the credential codec
type CredentialsConfig struct {
	EncryptionKey string `yaml:"encryption_key" toml:"encryption_key"`
	HashSalt      string `yaml:"hash_salt" toml:"hash_salt"`
}

// ClaimsConfig holds claim handshake timing
type ClaimsConfig struct {
	TokenTTL    time.Duration `yaml:"-" toml:"-"`
	TokenTTLRaw string        `yaml:"token_ttl" toml:"token_ttl"`
}

// AuthConfig holds admin authentication configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" toml:"jwt_secret"` // empty disables admin routes
}

// AuditConfig tunes the asynchronous audit sink
type AuditConfig struct {
	Disabled  bool `yaml:"disabled" toml:"disabled"`
	QueueSize int  `yaml:"queue_size" toml:"queue_size"`

	WriteTimeout    time.Duration `yaml:"-" toml:"-"`
	WriteTimeoutRaw string        `yaml:"write_timeout" toml:"write_timeout"`
}

// RateLimitConfig holds per-IP request budgets
type RateLimitConfig struct {
	Disabled bool   `yaml:"disabled" toml:"disabled"`
	RedisURL string `yaml:"redis_url" toml:"redis_url"` // empty uses the in-memory backend
	MaxKeys  int    `yaml:"max_keys" toml:"max_keys"`

	// TrustForwardedFor keys limits on X-Forwarded-For from any peer. Only
	// safe when every request arrives through a proxy that overwrites it.
	TrustForwardedFor bool `yaml:"trust_forwarded_for" toml:"trust_forwarded_for"`

	RegisterLimit     int           `yaml:"register_limit" toml:"register_limit"`
	RegisterWindow    time.Duration `yaml:"-" toml:"-"`
	RegisterWindowRaw string        `yaml:"register_window" toml:"register_window"`

	APILimit     int           `yaml:"api_limit" toml:"api_limit"`
	APIWindow    time.Duration `yaml:"-" toml:"-"`
	APIWindowRaw string        `yaml:"api_window" toml:"api_window"`
}

// CORSConfig holds cross-origin settings for the claim page frontend
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" toml:"allowed_origins"`
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

// IsProduction reports whether the gateway runs with production safeguards.
func (c *Config) IsProduction() bool {
	return c.Environment == EnvProduction
}

// Load reads a configuration file from the given path and returns a parsed Config.
// A .env file next to the config is loaded first without overriding variables
// already set. Environment variables in the format ${VAR_NAME} are expanded.
// Files ending in .toml are decoded as TOML, everything else as YAML.
func Load(path string) (*Config, error) {
	if err := loadDotEnv(filepath.Join(filepath.Dir(path), ".env")); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return Parse(expandEnvVars(string(data)), formatFor(path))
}

// Parse decodes already-expanded config content, then applies defaults,
// parses durations, and validates.
func Parse(content, format string) (*Config, error) {
	var cfg Config
	switch format {
	case "toml":
		if _, err := toml.Decode(content, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	default:
		if err := yaml.Unmarshal([]byte(content), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyDefaults(&cfg)

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	nets, err := ParseTrustedProxies(cfg.Server.TrustedProxies)
	if err != nil {
		return nil, fmt.Errorf("parsing server.trusted_proxies: %w", err)
	}
	cfg.Server.TrustedProxyNets = nets

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

func formatFor(path string) string {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return "toml"
	}
	return "yaml"
}

func loadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills every unset field with its default.
func applyDefaults(c *Config) {
	setDefault(&c.Environment, EnvDevelopment)
	setDefault(&c.Server.HTTPAddr, "0.0.0.0:3000")
	setDefault(&c.Server.BaseURL, "http://localhost:3000")
	setDefault(&c.Server.ShutdownTimeoutRaw, "10s")

	setDefault(&c.Database.Driver, DriverSQLite)
	if c.Database.Driver == DriverSQLite {
		setDefault(&c.Database.Path, "./data/aiquan.db")
	}

	setDefault(&c.Claims.TokenTTLRaw, "24h")
	setDefault(&c.Audit.WriteTimeoutRaw, "5s")
	if c.Audit.QueueSize == 0 {
		c.Audit.QueueSize = 1024
	}

	if c.RateLimit.RegisterLimit == 0 {
		c.RateLimit.RegisterLimit = 5
	}
	setDefault(&c.RateLimit.RegisterWindowRaw, "15m")
	if c.RateLimit.APILimit == 0 {
		c.RateLimit.APILimit = 100
	}
	setDefault(&c.RateLimit.APIWindowRaw, "1m")

	setDefault(&c.Logging.Level, "info")
	setDefault(&c.Logging.Format, "text")
	setDefault(&c.Metrics.Path, "/metrics")
}

func setDefault(field *string, value string) {
	if *field == "" {
		*field = value
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	switch c.Environment {
	case EnvDevelopment, EnvTest, EnvProduction:
	default:
		return fmt.Errorf("environment must be one of development, test, production (got %q)", c.Environment)
	}

	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}
	if c.Server.BaseURL == "" {
		return fmt.Errorf("server.base_url is required")
	}

	switch c.Database.Driver {
	case DriverSQLite:
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for the sqlite driver")
		}
	case DriverPostgres:
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("database.driver must be sqlite or postgres (got %q)", c.Database.Driver)
	}

	if c.IsProduction() {
		if c.Credentials.EncryptionKey == "" {
			return fmt.Errorf("credentials.encryption_key is required in production")
		}
		if c.Credentials.HashSalt == "" {
			return fmt.Errorf("credentials.hash_salt is required in production")
		}
	}

	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < MinJWTSecretLength {
		return fmt.Errorf("auth.jwt_secret must be at least %d bytes", MinJWTSecretLength)
	}

	if c.RateLimit.RegisterLimit < 0 || c.RateLimit.APILimit < 0 {
		return fmt.Errorf("rate_limit limits must be positive")
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json (got %q)", c.Logging.Format)
	}

	if !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /")
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
		{"database.conn_max_lifetime", cfg.Database.ConnMaxLifetimeRaw, &cfg.Database.ConnMaxLifetime},
		{"claims.token_ttl", cfg.Claims.TokenTTLRaw, &cfg.Claims.TokenTTL},
		{"audit.write_timeout", cfg.Audit.WriteTimeoutRaw, &cfg.Audit.WriteTimeout},
		{"rate_limit.register_window", cfg.RateLimit.RegisterWindowRaw, &cfg.RateLimit.RegisterWindow},
		{"rate_limit.api_window", cfg.RateLimit.APIWindowRaw, &cfg.RateLimit.APIWindow},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %q", f.name, f.raw)
		}
		*f.dst = d
	}

	return nil
}

// ParseTrustedProxies accepts bare addresses and CIDR prefixes. A bare
// address becomes a single-host prefix.
func ParseTrustedProxies(entries []string) ([]netip.Prefix, error) {
	nets := make([]netip.Prefix, 0, len(entries))
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if strings.Contains(e, "/") {
			p, err := netip.ParsePrefix(e)
			if err != nil {
				return nil, fmt.Errorf("invalid prefix %q: %w", e, err)
			}
			nets = append(nets, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(e)
		if err != nil {
			return nil, fmt.Errorf("invalid address %q: %w", e, err)
		}
		addr = addr.Unmap()
		nets = append(nets, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return nets, nil
}

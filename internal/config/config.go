// ABOUTME: Configuration loading and parsing for atlas-gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete atlas-gateway configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Issuer    IssuerConfig    `yaml:"issuer"`
	Store     StoreConfig     `yaml:"store"`
	Bootstrap BootstrapConfig `yaml:"bootstrap"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// IssuerConfig holds the external identity provider (Keycloak-compatible)
// connection settings. All endpoint URLs are derived from URL + Realm.
type IssuerConfig struct {
	URL          string `yaml:"url"`
	Realm        string `yaml:"realm"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`

	// RequestTimeout bounds every outbound call to the issuer.
	RequestTimeout    time.Duration `yaml:"-"`
	RequestTimeoutRaw string        `yaml:"request_timeout"`
}

// StoreConfig selects and configures the shared persistence backend.
// Backend is "redis" or "sqlite".
type StoreConfig struct {
	Backend string `yaml:"backend"`

	// Redis connection URL, e.g. redis://localhost:6379/0
	RedisURL string `yaml:"redis_url"`

	// SQLite database path, used when backend is "sqlite"
	SQLitePath string `yaml:"sqlite_path"`
}

// BootstrapConfig holds startup readiness and admin-seed configuration.
// AdminUser/AdminPassword are optional; when empty the admin-seed step
// is skipped entirely.
type BootstrapConfig struct {
	AdminUser     string `yaml:"admin_user"`
	AdminPassword string `yaml:"admin_password"`

	MaxWait    time.Duration `yaml:"-"`
	RetryDelay time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	MaxWaitRaw    string `yaml:"max_wait"`
	RetryDelayRaw string `yaml:"retry_delay"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

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

// applyDefaults fills in values that have a sensible default when omitted.
func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = "0.0.0.0:3001"
	}
	if c.Store.Backend == "" {
		c.Store.Backend = "redis"
	}
	if c.Issuer.RequestTimeoutRaw == "" {
		c.Issuer.RequestTimeoutRaw = "10s"
	}
	if c.Bootstrap.MaxWaitRaw == "" {
		c.Bootstrap.MaxWaitRaw = "120s"
	}
	if c.Bootstrap.RetryDelayRaw == "" {
		c.Bootstrap.RetryDelayRaw = "2s"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Issuer.URL == "" {
		return fmt.Errorf("issuer.url is required")
	}
	if c.Issuer.Realm == "" {
		return fmt.Errorf("issuer.realm is required")
	}
	if c.Issuer.ClientID == "" {
		return fmt.Errorf("issuer.client_id is required")
	}

	switch c.Store.Backend {
	case "redis":
		if c.Store.RedisURL == "" {
			return fmt.Errorf("store.redis_url is required when store.backend is redis")
		}
	case "sqlite":
		if c.Store.SQLitePath == "" {
			return fmt.Errorf("store.sqlite_path is required when store.backend is sqlite")
		}
	default:
		return fmt.Errorf("store.backend must be redis or sqlite, got %q", c.Store.Backend)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	cfg.Issuer.RequestTimeout, err = time.ParseDuration(cfg.Issuer.RequestTimeoutRaw)
	if err != nil {
		return fmt.Errorf("parsing issuer.request_timeout %q: %w", cfg.Issuer.RequestTimeoutRaw, err)
	}

	cfg.Bootstrap.MaxWait, err = time.ParseDuration(cfg.Bootstrap.MaxWaitRaw)
	if err != nil {
		return fmt.Errorf("parsing bootstrap.max_wait %q: %w", cfg.Bootstrap.MaxWaitRaw, err)
	}

	cfg.Bootstrap.RetryDelay, err = time.ParseDuration(cfg.Bootstrap.RetryDelayRaw)
	if err != nil {
		return fmt.Errorf("parsing bootstrap.retry_delay %q: %w", cfg.Bootstrap.RetryDelayRaw, err)
	}

	return nil
}

// RealmURL returns the issuer's realm base URL, which doubles as the
// expected "iss" claim value on access tokens.
func (c *IssuerConfig) RealmURL() string {
	return fmt.Sprintf("%s/realms/%s", c.URL, c.Realm)
}

// JWKSURL returns the issuer's published signing-key endpoint.
func (c *IssuerConfig) JWKSURL() string {
	return fmt.Sprintf("%s/realms/%s/protocol/openid-connect/certs", c.URL, c.Realm)
}

// TokenURL returns the OAuth token endpoint for the configured realm.
func (c *IssuerConfig) TokenURL() string {
	return fmt.Sprintf("%s/realms/%s/protocol/openid-connect/token", c.URL, c.Realm)
}

// UserInfoURL returns the user-info endpoint used for remote token introspection.
func (c *IssuerConfig) UserInfoURL() string {
	return fmt.Sprintf("%s/realms/%s/protocol/openid-connect/userinfo", c.URL, c.Realm)
}

// LogoutURL returns the logout endpoint for the configured realm.
func (c *IssuerConfig) LogoutURL() string {
	return fmt.Sprintf("%s/realms/%s/protocol/openid-connect/logout", c.URL, c.Realm)
}

// WellKnownURL returns the OpenID discovery document URL, used as a readiness probe.
func (c *IssuerConfig) WellKnownURL() string {
	return fmt.Sprintf("%s/realms/%s/.well-known/openid-configuration", c.URL, c.Realm)
}

// AdminURL returns the issuer's admin API base for the configured realm.
func (c *IssuerConfig) AdminURL() string {
	return fmt.Sprintf("%s/admin/realms/%s", c.URL, c.Realm)
}

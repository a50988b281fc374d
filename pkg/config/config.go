package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// DefaultPath is read when SQLREST_CONFIG is not set.
const DefaultPath = "config.yaml"

// Config holds all configuration for ekaya-sqlrest.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords, keys) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"8080"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	Version  string `yaml:"-"` // Set at load time, not from config

	// ServiceName identifies the deployment. Replicas of one service must
	// share it so their poll jobs coordinate.
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME" env-default:"ekaya-sqlrest"`

	// TLS configuration (optional - if both provided, server uses HTTPS)
	TLSCertPath string `yaml:"tls_cert_path" env:"TLS_CERT_PATH" env-default:""`
	TLSKeyPath  string `yaml:"tls_key_path" env:"TLS_KEY_PATH" env-default:""`

	// Database the resources run against
	Database DatabaseConfig `yaml:"database"`

	// Redis enables poll-job leader election across replicas (optional)
	Redis RedisConfig `yaml:"redis"`

	Push     PushConfig     `yaml:"push"`
	Security SecurityConfig `yaml:"security"`

	// Resources declared by the operator
	Resources []ResourceConfig `yaml:"resources"`
}

// DatabaseConfig selects the adapter and holds its connection settings.
// Fields that do not apply to the selected type are ignored.
type DatabaseConfig struct {
	Type           string `yaml:"type" env:"DB_TYPE" env-default:"postgres"` // postgres, mssql, sqlite
	Host           string `yaml:"host" env:"DB_HOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"DB_PORT" env-default:"0"` // 0 = adapter default
	User           string `yaml:"user" env:"DB_USER" env-default:""`
	Password       string `yaml:"-" env:"DB_PASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"DB_NAME" env-default:""`
	SSLMode        string `yaml:"ssl_mode" env:"DB_SSL_MODE" env-default:""`
	MaxConnections int    `yaml:"max_connections" env:"DB_MAX_CONNECTIONS" env-default:"10"`

	// SQLite database file
	Path    string   `yaml:"path" env:"DB_PATH" env-default:""`
	Pragmas []string `yaml:"pragmas"`

	// SQL Server options
	AuthMethod             string `yaml:"auth_method" env:"DB_AUTH_METHOD" env-default:""`
	TenantID               string `yaml:"tenant_id" env:"DB_TENANT_ID" env-default:""`
	ClientID               string `yaml:"client_id" env:"DB_CLIENT_ID" env-default:""`
	ClientSecret           string `yaml:"-" env:"DB_CLIENT_SECRET"` // Secret - not in YAML
	Encrypt                string `yaml:"encrypt" env:"DB_ENCRYPT" env-default:""`
	TrustServerCertificate bool   `yaml:"trust_server_certificate" env:"DB_TRUST_SERVER_CERTIFICATE" env-default:"false"`
}

// RedisConfig holds Redis connection settings. An empty host disables
// clustering and every poll job polls on its own.
type RedisConfig struct {
	Host      string        `yaml:"host" env:"REDIS_HOST" env-default:""`
	Port      int           `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password  string        `yaml:"-" env:"REDIS_PASSWORD"` // Secret - not in YAML
	DB        int           `yaml:"db" env:"REDIS_DB" env-default:"0"`
	KeyPrefix string        `yaml:"key_prefix" env:"REDIS_KEY_PREFIX" env-default:"sqlrest:"`
	LockTTL   time.Duration `yaml:"lock_ttl" env:"REDIS_LOCK_TTL" env-default:"30s"`
}

// Enabled reports whether Redis is configured.
func (r *RedisConfig) Enabled() bool {
	return r.Host != ""
}

// PushConfig holds live push defaults.
type PushConfig struct {
	// DefaultPollInterval applies to push-enabled resources without their own
	// poll_interval. Format: base[:max:stepPercent].
	DefaultPollInterval string `yaml:"default_poll_interval" env:"PUSH_DEFAULT_POLL_INTERVAL" env-default:"5s:60s:50"`
}

// SecurityConfig holds request screening options.
type SecurityConfig struct {
	// RejectInjection rejects requests whose text values look like SQL injection.
	RejectInjection bool `yaml:"reject_injection" env:"SECURITY_REJECT_INJECTION" env-default:"false"`
}

// ResourceConfig declares one HTTP resource. Each verb carries the SQL
// templates that can serve it; the resolver picks one per request.
type ResourceConfig struct {
	Name         string   `yaml:"name"`
	Path         string   `yaml:"path"`
	Get          []string `yaml:"get"`
	Post         []string `yaml:"post"`
	Put          []string `yaml:"put"`
	Delete       []string `yaml:"delete"`
	Push         bool     `yaml:"push"`
	PollInterval string   `yaml:"poll_interval"`
	PrimaryKey   string   `yaml:"primary_key"`
}

// Statements returns the templates for an HTTP method.
func (r *ResourceConfig) Statements(method string) []string {
	switch strings.ToUpper(method) {
	case "GET":
		return r.Get
	case "POST":
		return r.Post
	case "PUT":
		return r.Put
	case "DELETE":
		return r.Delete
	}
	return nil
}

// Load reads configuration from config.yaml (or the file named by
// SQLREST_CONFIG) with environment variable overrides.
// The version parameter is injected at build time and set on the returned Config.
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	path := os.Getenv("SQLREST_CONFIG")
	if path == "" {
		path = DefaultPath
	}

	// Load config from YAML file with environment variable overrides
	if err := cleanenv.ReadConfig(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	// Validate TLS configuration
	if err := cfg.validateTLS(); err != nil {
		return nil, fmt.Errorf("invalid TLS configuration: %w", err)
	}

	if err := cfg.validateResources(); err != nil {
		return nil, fmt.Errorf("invalid resources: %w", err)
	}

	return cfg, nil
}

// TLSEnabled reports whether the server should serve HTTPS.
func (c *Config) TLSEnabled() bool {
	return c.TLSCertPath != "" && c.TLSKeyPath != ""
}

// validateTLS ensures TLS configuration is valid if provided.
// Both cert and key must be provided together, and files must exist and be readable.
func (c *Config) validateTLS() error {
	certSet := c.TLSCertPath != ""
	keySet := c.TLSKeyPath != ""

	// Both must be provided together or both empty
	if certSet != keySet {
		return fmt.Errorf("both tls_cert_path and tls_key_path must be provided together")
	}

	// If both provided, verify files exist (actual readability checked by tls.LoadX509KeyPair at startup)
	if certSet {
		if _, err := os.Stat(c.TLSCertPath); err != nil {
			return fmt.Errorf("TLS cert file does not exist: %w", err)
		}
		if _, err := os.Stat(c.TLSKeyPath); err != nil {
			return fmt.Errorf("TLS key file does not exist: %w", err)
		}
	}

	return nil
}

// validateResources checks names and paths only. Statement errors are
// reported per resource when the registry is built.
func (c *Config) validateResources() error {
	names := make(map[string]bool, len(c.Resources))
	paths := make(map[string]bool, len(c.Resources))
	for i := range c.Resources {
		r := &c.Resources[i]
		if r.Name == "" {
			return fmt.Errorf("resource #%d has no name", i+1)
		}
		if r.Path == "" {
			r.Path = "/" + r.Name
		}
		if !strings.HasPrefix(r.Path, "/") {
			r.Path = "/" + r.Path
		}
		if isReservedPath(r.Path) {
			return fmt.Errorf("resource %q: path %q is reserved", r.Name, r.Path)
		}
		if names[r.Name] {
			return fmt.Errorf("duplicate resource name %q", r.Name)
		}
		if paths[r.Path] {
			return fmt.Errorf("duplicate resource path %q", r.Path)
		}
		names[r.Name] = true
		paths[r.Path] = true
	}
	return nil
}

// reservedPaths are served by the runtime itself.
var reservedPaths = []string{"/health", "/ping", "/ws", "/admin"}

func isReservedPath(path string) bool {
	for _, p := range reservedPaths {
		if path == p || strings.HasPrefix(path, p+"/") {
			return true
		}
	}
	return false
}

// AdapterConfig converts the database settings into the generic map the
// datasource adapters read.
func (d *DatabaseConfig) AdapterConfig() map[string]any {
	m := map[string]any{}
	set := func(key, value string) {
		if value != "" {
			m[key] = value
		}
	}

	switch d.Type {
	case "sqlite":
		set("path", d.Path)
		if len(d.Pragmas) > 0 {
			m["pragmas"] = d.Pragmas
		}
	default:
		set("host", d.Host)
		set("user", d.User)
		set("password", d.Password)
		set("database", d.Database)
		set("ssl_mode", d.SSLMode)
		set("auth_method", d.AuthMethod)
		set("tenant_id", d.TenantID)
		set("client_id", d.ClientID)
		set("client_secret", d.ClientSecret)
		set("encrypt", d.Encrypt)
		if d.Port > 0 {
			m["port"] = d.Port
		}
		if d.TrustServerCertificate {
			m["trust_server_certificate"] = true
		}
	}
	if d.MaxConnections > 0 {
		m["max_connections"] = d.MaxConnections
	}
	return m
}

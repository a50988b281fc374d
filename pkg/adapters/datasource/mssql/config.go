package mssql

import (
	"fmt"
)

// Config contains SQL Server-specific connection options.
type Config struct {
	Host     string
	Port     int
	Database string

	// AuthMethod determines which authentication to use.
	// Options: "sql", "service_principal"
	AuthMethod string

	// SQL Authentication fields
	Username string
	Password string

	// Service Principal (Azure AD) fields
	TenantID     string
	ClientID     string
	ClientSecret string

	// Connection options
	Encrypt                bool
	TrustServerCertificate bool
	ConnectionTimeout      int
	MaxConnections         int
}

// DefaultPort returns the default SQL Server port.
func DefaultPort() int {
	return 1433
}

// DefaultConnectionTimeout returns the default connection timeout in seconds.
func DefaultConnectionTimeout() int {
	return 30
}

// FromMap creates a Config from a generic config map and auto-detects the auth method.
func FromMap(m map[string]any) (*Config, error) {
	cfg := &Config{
		Port:              DefaultPort(),
		Encrypt:           true,
		ConnectionTimeout: DefaultConnectionTimeout(),
	}

	if host, ok := m["host"].(string); ok && host != "" {
		cfg.Host = host
	} else {
		return nil, fmt.Errorf("host is required")
	}

	if port, ok := intValue(m["port"]); ok && port > 0 {
		cfg.Port = port
	}

	if database, ok := m["database"].(string); ok && database != "" {
		cfg.Database = database
	} else {
		return nil, fmt.Errorf("database is required")
	}

	if encrypt, ok := m["encrypt"].(bool); ok {
		cfg.Encrypt = encrypt
	} else if encryptStr, ok := m["encrypt"].(string); ok {
		// "true", "false", "strict"
		cfg.Encrypt = encryptStr == "true" || encryptStr == "strict"
	}

	if trust, ok := m["trust_server_certificate"].(bool); ok {
		cfg.TrustServerCertificate = trust
	}

	if timeout, ok := intValue(m["connection_timeout"]); ok {
		cfg.ConnectionTimeout = timeout
	}

	if maxConns, ok := intValue(m["max_connections"]); ok {
		cfg.MaxConnections = maxConns
	}

	// Priority: explicit auth_method > client_id > user
	if authMethod, ok := m["auth_method"].(string); ok && authMethod != "" {
		cfg.AuthMethod = authMethod
	} else if clientID, ok := m["client_id"].(string); ok && clientID != "" {
		cfg.AuthMethod = "service_principal"
	} else if user, ok := m["user"].(string); ok && user != "" {
		cfg.AuthMethod = "sql"
	} else {
		return nil, fmt.Errorf("could not auto-detect auth method; no credentials provided")
	}

	switch cfg.AuthMethod {
	case "sql":
		cfg.Username, _ = m["user"].(string)
		cfg.Password, _ = m["password"].(string)
	case "service_principal":
		cfg.TenantID, _ = m["tenant_id"].(string)
		cfg.ClientID, _ = m["client_id"].(string)
		cfg.ClientSecret, _ = m["client_secret"].(string)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks if the config has all required fields for the selected auth method.
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.Database == "" {
		return fmt.Errorf("database is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}

	switch c.AuthMethod {
	case "sql":
		if c.Username == "" {
			return fmt.Errorf("user is required for SQL authentication")
		}
	case "service_principal":
		if c.TenantID == "" {
			return fmt.Errorf("tenant_id is required for service principal")
		}
		if c.ClientID == "" {
			return fmt.Errorf("client_id is required for service principal")
		}
		if c.ClientSecret == "" {
			return fmt.Errorf("client_secret is required for service principal")
		}
	default:
		return fmt.Errorf("invalid auth method: %s (must be sql or service_principal)", c.AuthMethod)
	}
	return nil
}

// Target identifies the database without credentials.
func (c *Config) Target() string {
	return fmt.Sprintf("sqlserver://%s:%d/%s", c.Host, c.Port, c.Database)
}

func intValue(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float64: // JSON numbers are float64
		return int(n), true
	}
	return 0, false
}

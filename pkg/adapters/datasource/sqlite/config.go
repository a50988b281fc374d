package sqlite

import (
	"fmt"
	"strings"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// Config contains SQLite-specific connection options.
type Config struct {
	// Path is a database file path, a file: URI or ":memory:".
	Path string

	// Pragmas are applied with _pragma URI parameters, e.g. "busy_timeout(5000)".
	Pragmas []string

	MaxConnections int
}

// FromMap creates a Config from a generic config map.
func FromMap(m map[string]any) (*Config, error) {
	cfg := &Config{}

	path, ok := m["path"].(string)
	if !ok || path == "" {
		return nil, fmt.Errorf("path is required")
	}
	cfg.Path = path

	switch p := m["pragmas"].(type) {
	case []string:
		cfg.Pragmas = p
	case []any:
		for _, v := range p {
			s, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("pragmas must be strings, got %T", v)
			}
			cfg.Pragmas = append(cfg.Pragmas, s)
		}
	}

	switch n := m["max_connections"].(type) {
	case int:
		cfg.MaxConnections = n
	case int64:
		cfg.MaxConnections = int(n)
	case float64:
		cfg.MaxConnections = int(n)
	}
	return cfg, nil
}

// IsMemory reports whether every connection would see its own empty database.
func (c *Config) IsMemory() bool {
	return c.Path == MemoryPath || strings.Contains(c.Path, "mode=memory")
}

// DSN returns the data source name for the modernc.org/sqlite driver.
func (c *Config) DSN() string {
	if len(c.Pragmas) == 0 {
		return c.Path
	}
	var b strings.Builder
	b.WriteString(c.Path)
	sep := "?"
	if strings.Contains(c.Path, "?") {
		sep = "&"
	}
	for _, p := range c.Pragmas {
		b.WriteString(sep)
		b.WriteString("_pragma=")
		b.WriteString(p)
		sep = "&"
	}
	return b.String()
}

// Target identifies the database file.
func (c *Config) Target() string {
	return "sqlite://" + c.Path
}

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	t.Setenv("SQLREST_CONFIG", path)
	return path
}

func TestLoad_EnvOverridesYAML(t *testing.T) {
	writeConfig(t, `
port: "8081"
env: "test"
service_name: "cars-api"
database:
  type: "postgres"
  host: "db.example.com"
  user: "cars"
  database: "cars"
redis:
  host: "redis.example.com"
  lock_ttl: 45s
resources:
  - name: cars
    get:
      - "select * from car"
      - "select * from car where make = `+"`varchar:make`"+`"
    push: true
    poll_interval: "10s:40s:100"
`)

	// Clear env vars that might interfere with test
	os.Unsetenv("DB_HOST")
	os.Unsetenv("REDIS_HOST")

	t.Setenv("PORT", "9090")
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("DB_PASSWORD", "secret")

	cfg, err := Load("test-version")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Port != "9090" {
		t.Errorf("expected Port=9090 (from env), got %s", cfg.Port)
	}
	if cfg.Env != "production" {
		t.Errorf("expected Env=production (from env), got %s", cfg.Env)
	}
	if cfg.Version != "test-version" {
		t.Errorf("expected Version=test-version, got %s", cfg.Version)
	}
	if cfg.ServiceName != "cars-api" {
		t.Errorf("expected ServiceName=cars-api, got %s", cfg.ServiceName)
	}
	if cfg.Database.Host != "db.example.com" {
		t.Errorf("expected Database.Host=db.example.com (from yaml), got %s", cfg.Database.Host)
	}
	if cfg.Database.Password != "secret" {
		t.Errorf("expected Database.Password from env, got %q", cfg.Database.Password)
	}
	if !cfg.Redis.Enabled() || cfg.Redis.LockTTL != 45*time.Second {
		t.Errorf("expected redis enabled with 45s TTL, got %+v", cfg.Redis)
	}

	if len(cfg.Resources) != 1 {
		t.Fatalf("expected 1 resource, got %d", len(cfg.Resources))
	}
	r := cfg.Resources[0]
	if r.Path != "/cars" {
		t.Errorf("expected path derived from name, got %q", r.Path)
	}
	if len(r.Statements("get")) != 2 || !r.Push || r.PollInterval != "10s:40s:100" {
		t.Errorf("unexpected resource: %+v", r)
	}
}

func TestLoad_Defaults(t *testing.T) {
	writeConfig(t, "env: test\n")

	for _, key := range []string{"PORT", "DB_TYPE", "REDIS_HOST", "PUSH_DEFAULT_POLL_INTERVAL", "SECURITY_REJECT_INJECTION", "SERVICE_NAME"} {
		os.Unsetenv(key)
	}

	cfg, err := Load("dev")
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Port)
	}
	if cfg.Database.Type != "postgres" {
		t.Errorf("expected default database type postgres, got %s", cfg.Database.Type)
	}
	if cfg.Redis.Enabled() {
		t.Error("redis should be disabled without a host")
	}
	if cfg.Push.DefaultPollInterval != "5s:60s:50" {
		t.Errorf("unexpected default poll interval %q", cfg.Push.DefaultPollInterval)
	}
	if cfg.Security.RejectInjection {
		t.Error("injection screening should be off by default")
	}
	if cfg.ServiceName != "ekaya-sqlrest" {
		t.Errorf("unexpected service name %q", cfg.ServiceName)
	}
}

func TestLoad_MissingConfigFile(t *testing.T) {
	t.Setenv("SQLREST_CONFIG", filepath.Join(t.TempDir(), "absent.yaml"))

	_, err := Load("test")
	if err == nil {
		t.Fatal("expected error for missing config file")
	}
	if !strings.Contains(err.Error(), "absent.yaml") {
		t.Errorf("error should name the file, got: %v", err)
	}
}

func TestLoad_InvalidResources(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "missing name",
			yaml:    "resources:\n  - path: /cars\n",
			wantErr: "has no name",
		},
		{
			name:    "duplicate name",
			yaml:    "resources:\n  - name: cars\n  - name: cars\n    path: /other\n",
			wantErr: "duplicate resource name",
		},
		{
			name:    "duplicate path",
			yaml:    "resources:\n  - name: cars\n  - name: autos\n    path: cars\n",
			wantErr: "duplicate resource path",
		},
		{
			name:    "reserved path",
			yaml:    "resources:\n  - name: jobs\n    path: /admin/jobs\n",
			wantErr: "is reserved",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			writeConfig(t, tt.yaml)
			_, err := Load("test")
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestLoad_TLSRequiresBothFiles(t *testing.T) {
	writeConfig(t, "tls_cert_path: /tmp/cert.pem\n")
	os.Unsetenv("TLS_KEY_PATH")

	_, err := Load("test")
	if err == nil || !strings.Contains(err.Error(), "must be provided together") {
		t.Errorf("expected TLS pairing error, got %v", err)
	}
}

func TestDatabaseConfig_AdapterConfig(t *testing.T) {
	pg := DatabaseConfig{Type: "postgres", Host: "h", Port: 5433, User: "u", Password: "p", Database: "d", MaxConnections: 4}
	m := pg.AdapterConfig()
	if m["host"] != "h" || m["port"] != 5433 || m["password"] != "p" || m["max_connections"] != 4 {
		t.Errorf("unexpected postgres adapter config: %v", m)
	}
	if _, ok := m["path"]; ok {
		t.Error("postgres config must not carry a sqlite path")
	}

	lite := DatabaseConfig{Type: "sqlite", Host: "ignored", Path: "cars.db", Pragmas: []string{"busy_timeout(5000)"}}
	m = lite.AdapterConfig()
	if m["path"] != "cars.db" {
		t.Errorf("expected sqlite path, got %v", m)
	}
	if _, ok := m["host"]; ok {
		t.Error("sqlite config must not carry a host")
	}
}

func TestConfig_TLSEnabled(t *testing.T) {
	if (&Config{TLSCertPath: "cert.pem"}).TLSEnabled() {
		t.Error("TLS must not be enabled with only a certificate")
	}
	if !(&Config{TLSCertPath: "cert.pem", TLSKeyPath: "key.pem"}).TLSEnabled() {
		t.Error("expected TLS to be enabled")
	}
}

func TestLoad_TemplatesSurviveYAMLQuoting(t *testing.T) {
	want := []ResourceConfig{{
		Name: "cars",
		Path: "/cars",
		Get: []string{
			"select * from car where make = `varchar:make` and model like 'V%'",
			"call car_report(`varchar:make`, `integer:total:out`, `cursor:cars`)",
		},
		Post:       []string{"insert into car (make) values (`varchar:make`) -- \"quoted\": yes"},
		PrimaryKey: "id",
	}}
	doc, err := yaml.Marshal(map[string]any{"resources": want})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	writeConfig(t, string(doc))

	cfg, err := Load("test")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(cfg.Resources) != 1 {
		t.Fatalf("expected 1 resource, got %d", len(cfg.Resources))
	}
	got := cfg.Resources[0]
	for i, text := range want[0].Get {
		if got.Get[i] != text {
			t.Errorf("get[%d] = %q, want %q", i, got.Get[i], text)
		}
	}
	if got.Post[0] != want[0].Post[0] {
		t.Errorf("post[0] = %q, want %q", got.Post[0], want[0].Post[0])
	}
}

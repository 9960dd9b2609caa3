package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/devilmonastery/authgate/internal/identity"
	"github.com/devilmonastery/authgate/internal/storage"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "web.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_FileWithEnvExpansion(t *testing.T) {
	t.Setenv("TEST_AUTHGATE_KEY", "expanded-key")
	t.Setenv("AUTHGATE_API_KEY", "")
	t.Setenv("AUTHGATE_PROVIDER_URL", "")

	path := writeConfig(t, `
server:
  host: 127.0.0.1
  port: 9000
provider:
  base_url: http://127.0.0.1:9099/v1
  api_key: ${TEST_AUTHGATE_KEY}
  timeout: 3s
storage:
  backend: sqlite
  path: /tmp/authgate-web.db
session:
  min_lifetime: 2m
logging:
  level: debug
  format: text
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Addr() != "127.0.0.1:9000" {
		t.Errorf("unexpected addr %q", cfg.Server.Addr())
	}
	if cfg.Provider.APIKey != "expanded-key" {
		t.Errorf("expected expanded api key, got %q", cfg.Provider.APIKey)
	}
	if cfg.Storage.Backend != storage.BackendSQLite || cfg.Storage.Path != "/tmp/authgate-web.db" {
		t.Errorf("unexpected storage %+v", cfg.Storage)
	}
	if cfg.Session.Context != "web" {
		t.Errorf("expected default session context to survive, got %q", cfg.Session.Context)
	}

	idCfg := cfg.IdentityConfig()
	if idCfg.Timeout != 3*time.Second || idCfg.BaseURL != "http://127.0.0.1:9099/v1" {
		t.Errorf("unexpected identity config %+v", idCfg)
	}
	if cfg.MinLifetime() != 2*time.Minute {
		t.Errorf("expected min lifetime 2m, got %v", cfg.MinLifetime())
	}
}

func TestLoad_EnvironmentTakesPrecedence(t *testing.T) {
	t.Setenv("AUTHGATE_API_KEY", "env-key")
	t.Setenv("AUTHGATE_PROVIDER_URL", "http://env-provider/v1")

	path := writeConfig(t, "provider:\n  api_key: file-key\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Provider.APIKey != "env-key" {
		t.Errorf("expected env api key, got %q", cfg.Provider.APIKey)
	}
	if cfg.Provider.BaseURL != "http://env-provider/v1" {
		t.Errorf("expected env provider url, got %q", cfg.Provider.BaseURL)
	}
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("AUTHGATE_API_KEY", "k")
	t.Setenv("AUTHGATE_PROVIDER_URL", "")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Server.Port != 8080 || cfg.Server.Host != "localhost" {
		t.Errorf("unexpected server defaults %+v", cfg.Server)
	}
	if cfg.Provider.BaseURL != identity.DefaultBaseURL {
		t.Errorf("unexpected provider default %q", cfg.Provider.BaseURL)
	}
	if cfg.Storage.Backend != storage.BackendFile {
		t.Errorf("unexpected storage default %q", cfg.Storage.Backend)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*WebServerConfig)
		wantErr bool
	}{
		{name: "valid", mutate: func(c *WebServerConfig) {}},
		{name: "missing api key", mutate: func(c *WebServerConfig) { c.Provider.APIKey = "" }, wantErr: true},
		{name: "bad port", mutate: func(c *WebServerConfig) { c.Server.Port = 0 }, wantErr: true},
		{name: "bad timeout", mutate: func(c *WebServerConfig) { c.Provider.Timeout = "later" }, wantErr: true},
		{name: "negative min lifetime", mutate: func(c *WebServerConfig) { c.Session.MinLifetime = "-1s" }, wantErr: true},
		{name: "unknown backend", mutate: func(c *WebServerConfig) { c.Storage.Backend = "etcd" }, wantErr: true},
		{name: "redis without addr", mutate: func(c *WebServerConfig) { c.Storage.Backend = storage.BackendRedis }, wantErr: true},
		{name: "redis with addr", mutate: func(c *WebServerConfig) {
			c.Storage.Backend = storage.BackendRedis
			c.Storage.RedisAddr = "localhost:6379"
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.Provider.APIKey = "k"
			tt.mutate(cfg)

			err := validate(cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

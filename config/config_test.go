package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/wudi/labelkit/schema"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load without config file: %v", err)
	}
	if cfg.Engine != "mistral" {
		t.Errorf("engine = %q, want mistral", cfg.Engine)
	}
	if cfg.SchemaVersion != "v2" || cfg.Version() != schema.V2 {
		t.Errorf("schema version = %q (%v), want v2", cfg.SchemaVersion, cfg.Version())
	}
	if cfg.Concurrency != 4 {
		t.Errorf("concurrency = %d, want 4", cfg.Concurrency)
	}
	if cfg.Server.Addr != ":8080" || cfg.Server.MaxUploadMB != 16 {
		t.Errorf("server defaults = %q/%d", cfg.Server.Addr, cfg.Server.MaxUploadMB)
	}
	if cfg.Overlay.Enabled {
		t.Error("overlay should default to disabled")
	}
	if cfg.Store.DSN != "" || cfg.Storage.Dir != "" {
		t.Errorf("store/storage should default empty, got %q/%q", cfg.Store.DSN, cfg.Storage.Dir)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "labelkit.yaml")
	yaml := `
engine: tesseract
model: custom-model
schema_version: v1
concurrency: 2
rules:
  - rules/sku.js
  - rules/lot.js
overlay:
  enabled: true
storage:
  dir: /var/lib/labelkit/blobs
store:
  dsn: cache.db
server:
  addr: 127.0.0.1:9999
  max_upload_mb: 4
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Engine != "tesseract" || cfg.Model != "custom-model" {
		t.Errorf("engine/model = %q/%q", cfg.Engine, cfg.Model)
	}
	if cfg.Version() != schema.V1 {
		t.Errorf("version = %v, want V1", cfg.Version())
	}
	if cfg.Concurrency != 2 {
		t.Errorf("concurrency = %d, want 2", cfg.Concurrency)
	}
	if len(cfg.Rules) != 2 || cfg.Rules[0] != "rules/sku.js" {
		t.Errorf("rules = %v", cfg.Rules)
	}
	if !cfg.Overlay.Enabled {
		t.Error("overlay should be enabled")
	}
	if cfg.Storage.Dir != "/var/lib/labelkit/blobs" || cfg.Store.DSN != "cache.db" {
		t.Errorf("storage/store = %q/%q", cfg.Storage.Dir, cfg.Store.DSN)
	}
	if cfg.Server.Addr != "127.0.0.1:9999" || cfg.Server.MaxUploadMB != 4 {
		t.Errorf("server = %q/%d", cfg.Server.Addr, cfg.Server.MaxUploadMB)
	}
}

func TestLoadMissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil {
		t.Fatal("explicit missing config file should fail")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("LABELKIT_ENGINE", "gemini")
	t.Setenv("LABELKIT_SERVER_ADDR", ":9090")
	t.Setenv("LABELKIT_CONCURRENCY", "8")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Engine != "gemini" {
		t.Errorf("engine = %q, want gemini", cfg.Engine)
	}
	if cfg.Server.Addr != ":9090" {
		t.Errorf("server.addr = %q, want :9090", cfg.Server.Addr)
	}
	if cfg.Concurrency != 8 {
		t.Errorf("concurrency = %d, want 8", cfg.Concurrency)
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Engine:        "mistral",
			SchemaVersion: "v2",
			Concurrency:   4,
			Server:        ServerConfig{Addr: ":8080", MaxUploadMB: 16},
		}
	}
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantKey string
	}{
		{"empty engine", func(c *Config) { c.Engine = "" }, "engine"},
		{"bad schema version", func(c *Config) { c.SchemaVersion = "v9" }, "schema_version"},
		{"zero concurrency", func(c *Config) { c.Concurrency = 0 }, "concurrency"},
		{"zero upload cap", func(c *Config) { c.Server.MaxUploadMB = 0 }, "max_upload_mb"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("want validation error")
			}
			if !strings.Contains(err.Error(), tt.wantKey) {
				t.Errorf("error %q should name key %q", err, tt.wantKey)
			}
		})
	}
	cfg := valid()
	if err := cfg.Validate(); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}
}

func TestResolveAPIKey(t *testing.T) {
	cfg := Config{Engine: "mistral", APIKey: "from-config"}
	if got := cfg.ResolveAPIKey(); got != "from-config" {
		t.Errorf("configured key should win, got %q", got)
	}

	t.Setenv("MISTRAL_API_KEY", "from-env")
	cfg = Config{Engine: "mistral"}
	if got := cfg.ResolveAPIKey(); got != "from-env" {
		t.Errorf("mistral fallback = %q, want from-env", got)
	}

	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("GOOGLE_API_KEY", "google-key")
	cfg = Config{Engine: "gemini"}
	if got := cfg.ResolveAPIKey(); got != "google-key" {
		t.Errorf("gemini fallback = %q, want google-key", got)
	}

	cfg = Config{Engine: "tesseract"}
	if got := cfg.ResolveAPIKey(); got != "" {
		t.Errorf("tesseract needs no key, got %q", got)
	}
}

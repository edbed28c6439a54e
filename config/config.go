// Package config loads pipeline settings from labelkit.yaml, environment
// variables prefixed LABELKIT_, and defaults, in that order of increasing
// precedence for the environment. Every knob the CLI exposes as a flag has
// a config key, so fleets can run flagless.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"

	"github.com/wudi/labelkit/schema"
)

// Config is the resolved pipeline configuration.
type Config struct {
	// Engine names the OCR engine (mistral, gemini, tesseract).
	Engine string `mapstructure:"engine"`
	// Model overrides the engine's default model identifier.
	Model string `mapstructure:"model"`
	// APIKey authenticates hosted engines. When empty, the engine's
	// conventional environment variable is consulted.
	APIKey string `mapstructure:"api_key"`
	// SchemaVersion selects the record layout: v1 or v2.
	SchemaVersion string `mapstructure:"schema_version"`
	// Concurrency bounds in-flight image analyses.
	Concurrency int `mapstructure:"concurrency"`
	// Rules lists JavaScript extraction rule files loaded at startup.
	Rules []string `mapstructure:"rules"`

	Overlay OverlayConfig `mapstructure:"overlay"`
	Storage StorageConfig `mapstructure:"storage"`
	Store   StoreConfig   `mapstructure:"store"`
	Server  ServerConfig  `mapstructure:"server"`
}

// OverlayConfig controls bounding-box rendering.
type OverlayConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// StorageConfig controls the local blob store for uploaded images.
type StorageConfig struct {
	// Dir is the blob directory. Empty disables upload persistence.
	Dir string `mapstructure:"dir"`
}

// StoreConfig controls the annotation cache.
type StoreConfig struct {
	// DSN is a SQLite path or postgres:// URL. Empty disables caching.
	DSN string `mapstructure:"dsn"`
}

// ServerConfig controls the HTTP analysis service.
type ServerConfig struct {
	Addr        string `mapstructure:"addr"`
	MaxUploadMB int64  `mapstructure:"max_upload_mb"`
}

// Load reads the configuration. With an explicit path the file must exist;
// otherwise labelkit.yaml is searched in the working directory and
// $HOME/.config/labelkit, and running without one is fine. Environment
// variables prefixed LABELKIT_ override file values (dots become
// underscores: LABELKIT_SERVER_ADDR sets server.addr).
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("LABELKIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("engine", "mistral")
	v.SetDefault("model", "")
	v.SetDefault("api_key", "")
	v.SetDefault("schema_version", "v2")
	v.SetDefault("concurrency", 4)
	v.SetDefault("rules", []string{})
	v.SetDefault("overlay.enabled", false)
	v.SetDefault("storage.dir", "")
	v.SetDefault("store.dsn", "")
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.max_upload_mb", 16)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("labelkit")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home + "/.config/labelkit")
		}
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the values that later stages would otherwise fail on
// obscurely, naming the offending key.
func (c *Config) Validate() error {
	if c.Engine == "" {
		return fmt.Errorf("config: engine must not be empty")
	}
	if _, err := schema.ParseVersion(c.SchemaVersion); err != nil {
		return fmt.Errorf("config: schema_version: %w", err)
	}
	if c.Concurrency < 1 {
		return fmt.Errorf("config: concurrency must be at least 1, got %d", c.Concurrency)
	}
	if c.Server.MaxUploadMB < 1 {
		return fmt.Errorf("config: server.max_upload_mb must be at least 1, got %d", c.Server.MaxUploadMB)
	}
	return nil
}

// Version returns the parsed schema version. Call Validate first.
func (c *Config) Version() schema.Version {
	v, err := schema.ParseVersion(c.SchemaVersion)
	if err != nil {
		return schema.V2
	}
	return v
}

// ResolveAPIKey returns the configured key, falling back to the engine's
// conventional environment variable. Tesseract needs no key.
func (c *Config) ResolveAPIKey() string {
	if c.APIKey != "" {
		return c.APIKey
	}
	switch c.Engine {
	case "mistral":
		return os.Getenv("MISTRAL_API_KEY")
	case "gemini":
		if key := os.Getenv("GEMINI_API_KEY"); key != "" {
			return key
		}
		return os.Getenv("GOOGLE_API_KEY")
	}
	return ""
}

// Package config provides configuration loading for taskflow.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/text/language"
	"gopkg.in/yaml.v3"
)

// Config represents the complete client configuration
type Config struct {
	API     APIConfig     `yaml:"api"`
	Storage StorageConfig `yaml:"storage"`
	Server  ServerConfig  `yaml:"server"`
	Display DisplayConfig `yaml:"display"`
	Log     LogConfig     `yaml:"log"`
}

// APIConfig configures the remote task service
type APIConfig struct {
	// BaseURL is the API root, including the /api prefix
	BaseURL string `yaml:"base_url"`
	// Timeout bounds each request to the remote
	Timeout time.Duration `yaml:"timeout"`
}

// StorageConfig configures local persistence
type StorageConfig struct {
	// DBPath is the SQLite file holding the credential and view selections
	DBPath string `yaml:"db_path"`
	// CookieTTL is the lifetime of the credential mirror cookie
	CookieTTL time.Duration `yaml:"cookie_ttl"`
}

// ServerConfig configures the local web client
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// DisplayConfig configures how views are derived
type DisplayConfig struct {
	// Locale selects the collation rules for title sorting (BCP 47)
	Locale string `yaml:"locale"`
	// TimeZone interprets due dates without an offset and defines "today"
	TimeZone string `yaml:"time_zone"`
}

// LogConfig configures the structured logger
type LogConfig struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		API: APIConfig{
			BaseURL: "http://localhost:8000/api",
			Timeout: 30 * time.Second,
		},
		Storage: StorageConfig{
			DBPath:    "./data/taskflow.db",
			CookieTTL: 24 * time.Hour,
		},
		Server: ServerConfig{
			Addr: ":8080",
		},
		Display: DisplayConfig{
			Locale:   "en",
			TimeZone: "UTC",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file and
// environment overrides, in that order.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		var err error
		cfg, err = LoadFromFile(path)
		if err != nil {
			return nil, err
		}
	}
	cfg.ApplyEnv()
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a YAML file
func (c *Config) SaveToFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ApplyEnv overrides fields from TASKFLOW_* environment variables.
func (c *Config) ApplyEnv() {
	c.API.BaseURL = getEnv("TASKFLOW_API_URL", c.API.BaseURL)
	c.Storage.DBPath = getEnv("TASKFLOW_DB_PATH", c.Storage.DBPath)
	c.Server.Addr = getEnv("TASKFLOW_ADDR", c.Server.Addr)
	c.Display.Locale = getEnv("TASKFLOW_LOCALE", c.Display.Locale)
	c.Display.TimeZone = getEnv("TASKFLOW_TZ", c.Display.TimeZone)
	c.Log.Level = getEnv("TASKFLOW_LOG_LEVEL", c.Log.Level)
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	u, err := url.Parse(c.API.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("api.base_url must be an http(s) URL, got %q", c.API.BaseURL))
	}
	if c.API.Timeout <= 0 {
		errs = append(errs, errors.New("api.timeout must be positive"))
	}
	if c.Storage.DBPath == "" {
		errs = append(errs, errors.New("storage.db_path is required"))
	}
	if c.Storage.CookieTTL <= 0 {
		errs = append(errs, errors.New("storage.cookie_ttl must be positive"))
	}
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if _, err := c.Language(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// Language returns the collation language.
func (c *Config) Language() (language.Tag, error) {
	tag, err := language.Parse(c.Display.Locale)
	if err != nil {
		return language.Und, fmt.Errorf("display.locale %q: %w", c.Display.Locale, err)
	}
	return tag, nil
}

// Location returns the display time zone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Display.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("display.time_zone %q: %w", c.Display.TimeZone, err)
	}
	return loc, nil
}

// Level returns the slog level named by log.level.
func (c *Config) Level() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(c.Log.Level))); err != nil {
		return slog.LevelInfo, fmt.Errorf("log.level %q: %w", c.Log.Level, err)
	}
	return level, nil
}

// NewLogger builds the text logger for the configured level.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	level, err := c.Level()
	if err != nil {
		level = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// Package config loads runtime configuration in layers: built-in defaults,
// then ~/.mcpforge/config.json, then MCPFORGE_* environment variables.
// Command-line flags apply last, in the CLI layer.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config holds every tunable the runtime reads.
type Config struct {
	CacheDir           string        `json:"cache_dir"`
	RegistryURL        string        `json:"registry_url"`
	InstallTimeout     time.Duration `json:"install_timeout"`
	HandshakeTimeout   time.Duration `json:"handshake_timeout"`
	SessionIdleTimeout time.Duration `json:"session_idle_timeout"`
	SessionMaxLifetime time.Duration `json:"session_max_lifetime"`
	Debug              bool          `json:"debug"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return Config{
		CacheDir:           filepath.Join(home, ".mcpforge", "cache"),
		RegistryURL:        "https://registry.mcpforge.dev",
		InstallTimeout:     5 * time.Minute,
		HandshakeTimeout:   30 * time.Second,
		SessionIdleTimeout: 10 * time.Minute,
		SessionMaxLifetime: 2 * time.Hour,
		Debug:              false,
	}
}

// DefaultPath returns where the config file is expected.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".mcpforge", "config.json")
}

// Load builds the effective configuration from defaults, the config file at
// path (missing file is fine), and the environment.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	if path == "" {
		path = DefaultPath()
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(data, &fileForm{&cfg}); err != nil {
			return Config{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the runtime cannot operate with.
func (c Config) Validate() error {
	if c.CacheDir == "" {
		return fmt.Errorf("cache_dir cannot be empty")
	}
	if c.RegistryURL == "" {
		return fmt.Errorf("registry_url cannot be empty")
	}
	for name, d := range map[string]time.Duration{
		"install_timeout":      c.InstallTimeout,
		"handshake_timeout":    c.HandshakeTimeout,
		"session_idle_timeout": c.SessionIdleTimeout,
		"session_max_lifetime": c.SessionMaxLifetime,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	return nil
}

// Save writes the configuration to path, creating parent directories.
func (c Config) Save(path string) error {
	if path == "" {
		path = DefaultPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := json.MarshalIndent(fileForm{&c}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// fileForm maps the on-disk JSON, where durations are strings like "30s",
// onto a Config.
type fileForm struct {
	cfg *Config
}

type fileFields struct {
	CacheDir           string `json:"cache_dir,omitempty"`
	RegistryURL        string `json:"registry_url,omitempty"`
	InstallTimeout     string `json:"install_timeout,omitempty"`
	HandshakeTimeout   string `json:"handshake_timeout,omitempty"`
	SessionIdleTimeout string `json:"session_idle_timeout,omitempty"`
	SessionMaxLifetime string `json:"session_max_lifetime,omitempty"`
	Debug              *bool  `json:"debug,omitempty"`
}

func (f fileForm) MarshalJSON() ([]byte, error) {
	debug := f.cfg.Debug
	return json.Marshal(fileFields{
		CacheDir:           f.cfg.CacheDir,
		RegistryURL:        f.cfg.RegistryURL,
		InstallTimeout:     f.cfg.InstallTimeout.String(),
		HandshakeTimeout:   f.cfg.HandshakeTimeout.String(),
		SessionIdleTimeout: f.cfg.SessionIdleTimeout.String(),
		SessionMaxLifetime: f.cfg.SessionMaxLifetime.String(),
		Debug:              &debug,
	})
}

func (f fileForm) UnmarshalJSON(data []byte) error {
	var fields fileFields
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	if fields.CacheDir != "" {
		f.cfg.CacheDir = fields.CacheDir
	}
	if fields.RegistryURL != "" {
		f.cfg.RegistryURL = fields.RegistryURL
	}
	if fields.Debug != nil {
		f.cfg.Debug = *fields.Debug
	}
	parse := func(raw string, dst *time.Duration) error {
		if raw == "" {
			return nil
		}
		d, err := time.ParseDuration(raw)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", raw, err)
		}
		*dst = d
		return nil
	}
	if err := parse(fields.InstallTimeout, &f.cfg.InstallTimeout); err != nil {
		return err
	}
	if err := parse(fields.HandshakeTimeout, &f.cfg.HandshakeTimeout); err != nil {
		return err
	}
	if err := parse(fields.SessionIdleTimeout, &f.cfg.SessionIdleTimeout); err != nil {
		return err
	}
	return parse(fields.SessionMaxLifetime, &f.cfg.SessionMaxLifetime)
}

// applyEnv overlays MCPFORGE_* environment variables.
func applyEnv(cfg *Config) {
	if v := os.Getenv("MCPFORGE_CACHE_DIR"); v != "" {
		cfg.CacheDir = v
	}
	if v := os.Getenv("MCPFORGE_REGISTRY_URL"); v != "" {
		cfg.RegistryURL = v
	}
	if v := os.Getenv("MCPFORGE_DEBUG"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Debug = b
		}
	}
	for key, dst := range map[string]*time.Duration{
		"MCPFORGE_INSTALL_TIMEOUT":      &cfg.InstallTimeout,
		"MCPFORGE_HANDSHAKE_TIMEOUT":    &cfg.HandshakeTimeout,
		"MCPFORGE_SESSION_IDLE_TIMEOUT": &cfg.SessionIdleTimeout,
		"MCPFORGE_SESSION_MAX_LIFETIME": &cfg.SessionMaxLifetime,
	} {
		if v := os.Getenv(key); v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				*dst = d
			}
		}
	}
}

package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/nimbusvpn/provision/internal/authorize"
)

// Loader handles configuration loading from multiple sources.
type Loader struct {
	v *viper.Viper
}

// NewLoader creates a new configuration loader.
func NewLoader() *Loader {
	return &Loader{
		v: viper.New(),
	}
}

// Load loads configuration from files and environment variables.
func (l *Loader) Load() (*Config, error) {
	l.setDefaults()
	l.setupConfigPaths()
	l.setupEnvVars()

	// The config file is optional.
	if err := l.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := l.validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	cfg.SQLitePath = expandPath(cfg.SQLitePath)
	cfg.TunnelDir = expandPath(cfg.TunnelDir)

	return &cfg, nil
}

// LoadWithPath loads configuration from a specific file path.
func LoadWithPath(path string) (*Config, error) {
	loader := NewLoader()
	loader.setDefaults()
	loader.setupEnvVars()

	loader.v.SetConfigFile(path)

	if err := loader.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", path, err)
	}

	var cfg Config
	if err := loader.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := loader.validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	cfg.SQLitePath = expandPath(cfg.SQLitePath)
	cfg.TunnelDir = expandPath(cfg.TunnelDir)

	return &cfg, nil
}

// setDefaults sets default configuration values.
func (l *Loader) setDefaults() {
	l.v.SetDefault("client_id", authorize.DefaultClientID)
	l.v.SetDefault("redirect_uri", authorize.DefaultRedirectURI)
	l.v.SetDefault("scope", authorize.DefaultScope)
	l.v.SetDefault("store_backend", StoreKeyring)
	l.v.SetDefault("sqlite_path", "~/.nimbusvpn/credentials.db")
	l.v.SetDefault("tunnel_dir", "~/.nimbusvpn/tunnels")
	l.v.SetDefault("log_level", "info")
	l.v.SetDefault("log_format", "text")
}

// setupConfigPaths configures where to search for config files.
func (l *Loader) setupConfigPaths() {
	l.v.SetConfigName(".nimbusvpn")
	l.v.SetConfigType("yaml")

	// Search paths in priority order
	l.v.AddConfigPath("/etc/nimbusvpn")
	if home, err := os.UserHomeDir(); err == nil {
		l.v.AddConfigPath(home)
	}
	l.v.AddConfigPath(".")
}

// setupEnvVars configures environment variable handling.
func (l *Loader) setupEnvVars() {
	l.v.SetEnvPrefix("NIMBUSVPN")
	l.v.AutomaticEnv()
}

// validate validates the configuration.
func (l *Loader) validate(cfg *Config) error {
	if cfg.ClientID == "" {
		return fmt.Errorf("client_id is required")
	}

	if cfg.RedirectURI == "" {
		return fmt.Errorf("redirect_uri is required")
	}

	switch cfg.StoreBackend {
	case StoreMemory, StoreKeyring, StoreSQLite:
	default:
		return fmt.Errorf("invalid store_backend: %s (must be memory, keyring, or sqlite)", cfg.StoreBackend)
	}

	if cfg.StoreBackend == StoreSQLite && cfg.SQLitePath == "" {
		return fmt.Errorf("sqlite_path is required when store_backend is sqlite")
	}

	if cfg.TunnelDir == "" {
		return fmt.Errorf("tunnel_dir is required")
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[cfg.LogLevel] {
		return fmt.Errorf("invalid log_level: %s (must be debug, info, warn, or error)", cfg.LogLevel)
	}

	if cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		return fmt.Errorf("invalid log_format: %s (must be text or json)", cfg.LogFormat)
	}

	return nil
}

// expandPath expands ~ to home directory in file paths.
func expandPath(path string) string {
	if len(path) == 0 || path[0] != '~' {
		return path
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}

	if len(path) == 1 {
		return home
	}

	return filepath.Join(home, path[1:])
}

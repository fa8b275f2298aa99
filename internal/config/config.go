// Package config loads the provisioning client's configuration from a
// config file and environment variables.
package config

// Store backend names accepted in store_backend.
const (
	StoreMemory  = "memory"
	StoreKeyring = "keyring"
	StoreSQLite  = "sqlite"
)

// Config holds the provisioning client configuration.
type Config struct {
	ClientID    string `mapstructure:"client_id"`
	RedirectURI string `mapstructure:"redirect_uri"`
	Scope       string `mapstructure:"scope"`

	StoreBackend string `mapstructure:"store_backend"`
	SQLitePath   string `mapstructure:"sqlite_path"`
	TunnelDir    string `mapstructure:"tunnel_dir"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
}

package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nimbusvpn/provision/internal/authorize"
	"github.com/nimbusvpn/provision/internal/config"
	"github.com/nimbusvpn/provision/internal/store"
)

var cfgFile string

// rootCmd represents the base command when called without subcommands
var rootCmd = &cobra.Command{
	Use:   "provision",
	Short: "Provision VPN connections against compatible servers",
	Long: `provision discovers a VPN server's API, authorizes against it,
manages the client key pair, and negotiates a ready-to-use VPN
configuration that is handed to the local tunnel component.`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default searches /etc/nimbusvpn, $HOME, .)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "", "log format (text, json)")
}

// loadConfig loads configuration honoring the --config flag and any
// persistent flag overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	var cfg *config.Config
	var err error

	if cfgFile != "" {
		cfg, err = config.LoadWithPath(cfgFile)
	} else {
		cfg, err = config.NewLoader().Load()
	}
	if err != nil {
		return nil, err
	}

	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.LogLevel = level
	}
	if format, _ := cmd.Flags().GetString("log-format"); format != "" {
		cfg.LogFormat = format
	}

	return cfg, nil
}

// openStore creates the credential store selected in the configuration.
func openStore(cfg *config.Config) (store.Store, error) {
	switch cfg.StoreBackend {
	case config.StoreMemory:
		return store.NewMemory(), nil
	case config.StoreKeyring:
		return store.NewKeyring()
	case config.StoreSQLite:
		return store.OpenSQLite(cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

func oauthConfig(cfg *config.Config) authorize.Config {
	return authorize.Config{
		ClientID:    cfg.ClientID,
		RedirectURI: cfg.RedirectURI,
		Scope:       cfg.Scope,
	}
}

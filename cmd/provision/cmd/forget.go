package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nimbusvpn/provision/internal/store"
	"github.com/nimbusvpn/provision/pkg/api"
)

// forgetCmd removes every stored credential for a server
var forgetCmd = &cobra.Command{
	Use:   "forget <server>",
	Short: "Remove stored credentials for a server",
	Long: `Forget removes the persisted authorization state, key pair, and
profile selection for a server. The next connect starts from scratch.`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig(cmd)
		if err != nil {
			fmt.Printf("Error loading config: %v\n", err)
			os.Exit(1)
		}

		st, err := openStore(cfg)
		if err != nil {
			fmt.Printf("Error opening credential store: %v\n", err)
			os.Exit(1)
		}

		server, err := api.NewServerIdentity(args[0])
		if err != nil {
			fmt.Printf("Invalid server: %v\n", err)
			os.Exit(1)
		}

		if err := store.Forget(st, server); err != nil {
			fmt.Printf("Failed to forget %s: %v\n", server, err)
			os.Exit(1)
		}

		fmt.Printf("Forgot all credentials for %s\n", server)
	},
}

func init() {
	rootCmd.AddCommand(forgetCmd)
}

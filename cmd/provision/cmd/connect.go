package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nimbusvpn/provision/internal/flow"
	"github.com/nimbusvpn/provision/internal/shared/logger"
	"github.com/nimbusvpn/provision/internal/tunnel"
	"github.com/nimbusvpn/provision/pkg/api"
)

// connectCmd negotiates a configuration for a server and hands it to
// the tunnel component
var connectCmd = &cobra.Command{
	Use:   "connect <server>",
	Short: "Negotiate a VPN configuration and hand it to the tunnel",
	Long: `Connect discovers the server's API, authorizes in an external
browser if needed, lets you pick a profile, ensures a valid key pair,
and writes the merged configuration for the tunnel component.

Examples:
  # Connect to a server
  provision connect vpn.example.org

  # Connect and pick a profile without prompting
  provision connect vpn.example.org --profile employees`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig(cmd)
		if err != nil {
			fmt.Printf("Error loading config: %v\n", err)
			os.Exit(1)
		}

		log := logger.New(cfg.LogLevel, cfg.LogFormat)

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

		session, err := flow.NewSession(server, flow.Options{
			Store:  st,
			Tunnel: tunnel.NewFileTunnel(cfg.TunnelDir, log),
			OAuth:  oauthConfig(cfg),
			Logger: log,
		})
		if err != nil {
			fmt.Printf("Error creating session: %v\n", err)
			os.Exit(1)
		}
		defer session.Close()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			sig := <-sigChan
			log.Info("received shutdown signal", "signal", sig)
			cancel()
		}()

		preselected, _ := cmd.Flags().GetString("profile")

		next, err := session.Start(ctx)
		if err != nil {
			fmt.Printf("Connection failed: %v\n", err)
			os.Exit(1)
		}

		reader := bufio.NewReader(os.Stdin)
		for {
			switch step := next.(type) {
			case *flow.Configured:
				fmt.Printf("Connected successfully!\n")
				fmt.Printf("   Server:  %s\n", step.Config.Server)
				fmt.Printf("   Profile: %s\n", step.Config.ProfileID)
				return

			case *flow.AuthorizationPending:
				fmt.Printf("Open this URL in your browser to authorize:\n\n  %s\n\n", step.AuthorizeURL)
				fmt.Printf("Paste the redirect URL here: ")
				line, err := reader.ReadString('\n')
				if err != nil {
					session.CancelAuthorization(step.Cookie)
					fmt.Printf("Authorization aborted: %v\n", err)
					os.Exit(1)
				}
				next, err = session.CompleteAuthorization(ctx, step.Cookie, strings.TrimSpace(line))
				if err != nil {
					fmt.Printf("Authorization failed: %v\n", err)
					os.Exit(1)
				}

			case *flow.ProfileChoicePending:
				choice := preselected
				if choice == "" {
					fmt.Printf("Available profiles:\n")
					for i, p := range step.Profiles {
						fmt.Printf("  %d) %s (%s)\n", i+1, p.DisplayName, p.ID)
					}
					fmt.Printf("Profile id: ")
					line, err := reader.ReadString('\n')
					if err != nil {
						fmt.Printf("Profile selection aborted: %v\n", err)
						os.Exit(1)
					}
					choice = strings.TrimSpace(line)
				}
				next, err = session.SelectProfile(ctx, step.Cookie, choice)
				if err != nil {
					fmt.Printf("Profile selection failed: %v\n", err)
					os.Exit(1)
				}
				preselected = ""

			default:
				fmt.Printf("Connection failed: unexpected flow result %T\n", next)
				os.Exit(1)
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(connectCmd)

	connectCmd.Flags().String("profile", "", "Profile id to select without prompting")
}

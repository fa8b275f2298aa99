package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nimbusvpn/provision/internal/authorize"
	"github.com/nimbusvpn/provision/internal/discovery"
	apperrors "github.com/nimbusvpn/provision/internal/shared/errors"
	"github.com/nimbusvpn/provision/internal/shared/logger"
	"github.com/nimbusvpn/provision/internal/transport"
	"github.com/nimbusvpn/provision/pkg/api"
)

// profilesCmd lists the profiles a server offers to this client
var profilesCmd = &cobra.Command{
	Use:   "profiles <server>",
	Short: "List the profiles a server offers",
	Long: `Profiles lists the VPN profiles the server offers to the stored
authorization. Requires a prior connect; run 'provision connect' first
if no authorization is stored.`,
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

		ctx := context.Background()
		tc := transport.New(log)

		server, err := api.NewServerIdentity(args[0])
		if err != nil {
			fmt.Printf("Invalid server: %v\n", err)
			os.Exit(1)
		}

		doc, err := discovery.NewResolver(tc, log).Discover(ctx, server)
		if err != nil {
			fmt.Printf("Discovery failed: %v\n", err)
			os.Exit(1)
		}

		coordinator, err := authorize.NewCoordinator(server, st, tc, oauthConfig(cfg), log)
		if err != nil {
			fmt.Printf("Error restoring authorization: %v\n", err)
			os.Exit(1)
		}

		token, err := coordinator.FreshAccessToken(ctx)
		if err != nil {
			if errors.Is(err, apperrors.ErrReauthorizationRequired) {
				fmt.Printf("No valid authorization for %s; run 'provision connect %s' first\n", server, server)
				os.Exit(1)
			}
			fmt.Printf("Failed to obtain access token: %v\n", err)
			os.Exit(1)
		}

		body, _, err := tc.Get(ctx, doc.ProfileListEndpoint, token)
		if err != nil {
			fmt.Printf("Failed to fetch profile list: %v\n", err)
			os.Exit(1)
		}

		var resp api.ProfileListResponse
		if err := json.Unmarshal(body, &resp); err != nil || !resp.ProfileList.OK {
			fmt.Printf("Server returned an unusable profile list\n")
			os.Exit(1)
		}

		for _, p := range resp.ProfileList.Data {
			gateway := ""
			if p.DefaultGateway {
				gateway = "  [default gateway]"
			}
			fmt.Printf("%-24s %s%s\n", p.ID, p.DisplayName, gateway)
		}
	},
}

func init() {
	rootCmd.AddCommand(profilesCmd)
}

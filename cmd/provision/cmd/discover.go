package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nimbusvpn/provision/internal/discovery"
	"github.com/nimbusvpn/provision/internal/shared/logger"
	"github.com/nimbusvpn/provision/internal/transport"
	"github.com/nimbusvpn/provision/pkg/api"
)

// discoverCmd fetches and prints a server's endpoint document
var discoverCmd = &cobra.Command{
	Use:   "discover <server>",
	Short: "Show a server's discovered API endpoints",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig(cmd)
		if err != nil {
			fmt.Printf("Error loading config: %v\n", err)
			os.Exit(1)
		}

		log := logger.New(cfg.LogLevel, cfg.LogFormat)
		resolver := discovery.NewResolver(transport.New(log), log)

		server, err := api.NewServerIdentity(args[0])
		if err != nil {
			fmt.Printf("Invalid server: %v\n", err)
			os.Exit(1)
		}

		doc, err := resolver.Discover(context.Background(), server)
		if err != nil {
			fmt.Printf("Discovery failed: %v\n", err)
			os.Exit(1)
		}

		fmt.Print(formatDiscovery(doc))
	},
}

// formatDiscovery renders a capability document for terminal output.
func formatDiscovery(doc *api.DiscoveryDocument) string {
	var b strings.Builder
	fmt.Fprintf(&b, "API version:        %d\n", doc.APIVersion)
	fmt.Fprintf(&b, "Authorization:      %s\n", doc.AuthorizationEndpoint)
	fmt.Fprintf(&b, "Token:              %s\n", doc.TokenEndpoint)
	fmt.Fprintf(&b, "Profile list:       %s\n", doc.ProfileListEndpoint)
	fmt.Fprintf(&b, "Create key pair:    %s\n", doc.CreateKeyPairEndpoint)
	fmt.Fprintf(&b, "Profile config:     %s\n", doc.ProfileConfigEndpoint)
	fmt.Fprintf(&b, "Check certificate:  %s\n", doc.CheckCertificateEndpoint)
	return b.String()
}

func init() {
	rootCmd.AddCommand(discoverCmd)
}

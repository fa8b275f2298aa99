// Package tunnel is the handoff boundary to the platform tunneling
// component. The negotiation flow produces a fully merged VPN
// configuration (profile config plus private key and certificate) and
// delivers it here for activation.
package tunnel

import (
	"context"
	"fmt"
	"strings"

	"github.com/nimbusvpn/provision/pkg/api"
)

// Config is a ready-to-activate VPN configuration.
type Config struct {
	Server    api.ServerIdentity
	ProfileID string
	// LocalID names this configuration on the local machine, for
	// later deactivation and fast reconnect.
	LocalID string
	// Body is the merged configuration document, including private
	// key and certificate.
	Body string
}

// Tunnel activates merged configurations. Implementations are
// platform-specific; the flow only depends on this contract.
type Tunnel interface {
	Activate(ctx context.Context, cfg *Config) error
	Deactivate(ctx context.Context, localID string) error
}

// MergeKeyPair merges the key pair's certificate and private key into
// a profile configuration body. The server's config response
// deliberately omits both.
func MergeKeyPair(body string, kp *api.KeyPair) (string, error) {
	if strings.TrimSpace(body) == "" {
		return "", fmt.Errorf("profile configuration is empty")
	}
	if kp.Certificate == "" || kp.PrivateKey == "" {
		return "", fmt.Errorf("key pair is missing certificate or private key")
	}

	var b strings.Builder
	b.WriteString(strings.TrimRight(body, "\n"))
	b.WriteString("\n\n<cert>\n")
	b.WriteString(strings.TrimSpace(kp.Certificate))
	b.WriteString("\n</cert>\n\n<key>\n")
	b.WriteString(strings.TrimSpace(kp.PrivateKey))
	b.WriteString("\n</key>\n")
	return b.String(), nil
}

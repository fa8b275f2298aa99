// Package store persists per-server credentials: OAuth2 tokens, key
// pairs, and last-selected profile pointers. The store is a passive
// backing map keyed by server identity; the authorization coordinator
// and key-pair manager are its single writers.
package store

import (
	"fmt"
	"time"

	"github.com/nimbusvpn/provision/pkg/api"
)

// expirySkew is subtracted from a token's expiry when judging
// freshness, so a token about to expire mid-request counts as stale.
const expirySkew = 10 * time.Second

// Token is the durable form of an authorization state. Both endpoints
// are recorded so a refresh can run without re-discovering the server,
// and so distributed tokens can be matched across server identities
// belonging to the same federation.
type Token struct {
	AccessToken           string    `json:"access_token"`
	RefreshToken          string    `json:"refresh_token,omitempty"`
	Expiry                time.Time `json:"expiry"`
	AuthorizationEndpoint string    `json:"authorization_endpoint"`
	TokenEndpoint         string    `json:"token_endpoint"`
}

// Valid reports whether the access token can still be presented
// without a refresh round-trip.
func (t *Token) Valid() bool {
	if t == nil || t.AccessToken == "" {
		return false
	}
	if t.Expiry.IsZero() {
		return true
	}
	return time.Now().Before(t.Expiry.Add(-expirySkew))
}

// ProfilePointer records the last selected profile and the local
// identifier of the configuration handed to the tunnel, for fast
// reconnect.
type ProfilePointer struct {
	ProfileID  string    `json:"profile_id"`
	LocalID    string    `json:"local_id"`
	SelectedAt time.Time `json:"selected_at"`
}

// Store is the credential store consumed by the provisioning flow.
// Passing nil to a setter deletes the record. Getters return (nil, nil)
// when no record exists. Implementations must be safe for concurrent
// use by flows working on different servers.
type Store interface {
	Token(server api.ServerIdentity) (*Token, error)
	SetToken(server api.ServerIdentity, t *Token) error

	KeyPair(server api.ServerIdentity) (*api.KeyPair, error)
	SetKeyPair(server api.ServerIdentity, kp *api.KeyPair) error

	Profile(server api.ServerIdentity) (*ProfilePointer, error)
	SetProfile(server api.ServerIdentity, p *ProfilePointer) error

	// Servers lists every server identity with at least one record.
	Servers() ([]api.ServerIdentity, error)
}

// Forget removes every record held for a server.
func Forget(s Store, server api.ServerIdentity) error {
	if err := s.SetToken(server, nil); err != nil {
		return fmt.Errorf("failed to remove token: %w", err)
	}
	if err := s.SetKeyPair(server, nil); err != nil {
		return fmt.Errorf("failed to remove key pair: %w", err)
	}
	if err := s.SetProfile(server, nil); err != nil {
		return fmt.Errorf("failed to remove profile pointer: %w", err)
	}
	return nil
}

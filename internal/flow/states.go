package flow

import (
	"github.com/nimbusvpn/provision/internal/tunnel"
	"github.com/nimbusvpn/provision/pkg/api"
)

// State is the negotiation flow's position in its lifecycle.
type State int

const (
	StateReady State = iota
	StateDiscovering
	StateAuthorizing
	StateFetchingProfiles
	StateProfileSelection
	StateDownloadingKeyPair
	StateCheckingCertificate
	StateDownloadingConfig
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateDiscovering:
		return "discovering_api"
	case StateAuthorizing:
		return "authorizing"
	case StateFetchingProfiles:
		return "fetching_profiles"
	case StateProfileSelection:
		return "profile_selection"
	case StateDownloadingKeyPair:
		return "downloading_keypair"
	case StateCheckingCertificate:
		return "checking_certificate"
	case StateDownloadingConfig:
		return "downloading_config"
	default:
		return "unknown"
	}
}

// PendingCookie correlates a suspension of the flow with the external
// event that resolves it. Each cookie is consumed exactly once; a
// canceled cookie is discarded without effect.
type PendingCookie string

// Next is the tagged result of driving the flow one step: either the
// negotiation finished, or it suspended waiting for an external event.
type Next interface {
	next()
}

// Configured is the terminal success: the merged configuration has
// been handed to the tunnel component.
type Configured struct {
	Config *tunnel.Config
}

// AuthorizationPending suspends the flow until the user completes
// authorization in an external browser. The redirect is delivered via
// CompleteAuthorization with the same cookie.
type AuthorizationPending struct {
	Cookie       PendingCookie
	AuthorizeURL string
}

// ProfileChoicePending suspends the flow until the user picks one of
// the offered profiles. The choice is delivered via SelectProfile with
// the same cookie.
type ProfileChoicePending struct {
	Cookie   PendingCookie
	Profiles []api.Profile
}

func (*Configured) next()           {}
func (*AuthorizationPending) next() {}
func (*ProfileChoicePending) next() {}

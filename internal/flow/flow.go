// Package flow orchestrates the end-to-end profile negotiation for one
// server: discover endpoints, authorize, list profiles, select one,
// ensure a valid key pair, fetch the profile configuration, and hand
// the merged result to the tunnel component.
//
// A Session is an explicitly owned handle: it is created per server,
// driven by Start and the resume operations, and closed when no longer
// needed. The flow is never re-entered while a step is outstanding;
// overlapping connection requests are rejected.
package flow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nimbusvpn/provision/internal/authorize"
	"github.com/nimbusvpn/provision/internal/discovery"
	"github.com/nimbusvpn/provision/internal/events"
	"github.com/nimbusvpn/provision/internal/keypair"
	apperrors "github.com/nimbusvpn/provision/internal/shared/errors"
	"github.com/nimbusvpn/provision/internal/shared/logger"
	"github.com/nimbusvpn/provision/internal/store"
	"github.com/nimbusvpn/provision/internal/transport"
	"github.com/nimbusvpn/provision/internal/tunnel"
	"github.com/nimbusvpn/provision/pkg/api"
)

// Options carries the collaborators of a Session.
type Options struct {
	Store     store.Store
	Transport *transport.Client
	Resolver  *discovery.Resolver
	Tunnel    tunnel.Tunnel
	// Bus receives state-change events. When nil the session owns a
	// private bus, closed together with the session.
	Bus    *events.Bus
	OAuth  authorize.Config
	Logger *logger.Logger
}

// Session drives the negotiation flow for a single server.
type Session struct {
	mu     sync.Mutex
	server api.ServerIdentity

	st        store.Store
	transport *transport.Client
	resolver  *discovery.Resolver
	tun       tunnel.Tunnel
	bus       *events.Bus
	ownsBus   bool
	logger    *logger.Logger

	coordinator *authorize.Coordinator
	keypairs    *keypair.Manager

	state  State
	busy   bool
	closed bool

	// queued accumulates state-change events while the lock is held;
	// they are published once the operation releases it.
	queued []events.Event

	// Per-session negotiation context, valid while busy.
	endpoints     *api.DiscoveryDocument
	pendingAuth   PendingCookie
	pendingChoice PendingCookie
	profiles      []api.Profile
	selected      *api.Profile
}

// NewSession creates a session handle for the given server.
func NewSession(server api.ServerIdentity, opts Options) (*Session, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("a credential store is required")
	}
	if opts.Tunnel == nil {
		return nil, fmt.Errorf("a tunnel component is required")
	}

	log := opts.Logger
	if log == nil {
		log = logger.NewDevelopment("flow")
	}
	log = log.WithServer(server.String())

	tc := opts.Transport
	if tc == nil {
		tc = transport.New(log)
	}
	resolver := opts.Resolver
	if resolver == nil {
		resolver = discovery.NewResolver(tc, log)
	}

	bus := opts.Bus
	ownsBus := false
	if bus == nil {
		bus = events.NewBus(log)
		ownsBus = true
	}

	coordinator, err := authorize.NewCoordinator(server, opts.Store, tc, opts.OAuth, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create authorization coordinator: %w", err)
	}

	return &Session{
		server:      server,
		st:          opts.Store,
		transport:   tc,
		resolver:    resolver,
		tun:         opts.Tunnel,
		bus:         bus,
		ownsBus:     ownsBus,
		logger:      log,
		coordinator: coordinator,
		keypairs:    keypair.NewManager(opts.Store, tc, log),
		state:       StateReady,
	}, nil
}

// State returns the flow's current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Events returns the bus carrying this session's state-change events.
// Events are delivered after the operation that produced them has
// released the session lock, so handlers may call back into the
// session.
func (s *Session) Events() *events.Bus {
	return s.bus
}

// Close cancels any pending suspension and releases the handle.
// Closing twice is a no-op.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true

	s.pendingAuth = ""
	s.pendingChoice = ""
	s.coordinator.Cancel()
	s.resetLocked()

	queued := s.takeQueued()
	owns := s.ownsBus
	s.mu.Unlock()

	s.publishQueued(context.Background(), queued)
	if owns {
		return s.bus.Close()
	}
	return nil
}

// Start begins a negotiation for the session's server. It either runs
// to completion, suspends waiting for an external event (authorization
// redirect or profile choice), or fails and returns the flow to Ready.
// A Start while a prior negotiation is in flight is rejected.
func (s *Session) Start(ctx context.Context) (Next, error) {
	s.mu.Lock()
	next, err := s.startLocked(ctx)
	queued := s.takeQueued()
	s.mu.Unlock()

	s.publishQueued(ctx, queued)
	return next, err
}

func (s *Session) startLocked(ctx context.Context) (Next, error) {
	if s.closed {
		return nil, apperrors.ErrSessionClosed
	}
	if s.busy {
		return nil, apperrors.ErrFlowBusy
	}
	s.busy = true

	s.setState(StateDiscovering)
	doc, err := s.resolver.Discover(ctx, s.server)
	if err != nil {
		return s.fail(fmt.Errorf("discovery failed: %w", err))
	}
	s.endpoints = doc

	if s.coordinator.CurrentToken() == nil {
		if adopted := s.findDistributedToken(); adopted != nil {
			if err := s.coordinator.Adopt(adopted); err != nil {
				return s.fail(err)
			}
		}
	}
	if s.coordinator.CurrentToken() == nil {
		return s.beginAuthorization()
	}
	return s.fetchProfiles(ctx)
}

// CompleteAuthorization resumes a flow suspended in Authorizing with
// the redirect URI received from the external browser. The cookie is
// consumed whether or not the authorization succeeds.
func (s *Session) CompleteAuthorization(ctx context.Context, cookie PendingCookie, redirectURI string) (Next, error) {
	s.mu.Lock()
	next, err := s.completeAuthorizationLocked(ctx, cookie, redirectURI)
	queued := s.takeQueued()
	s.mu.Unlock()

	s.publishQueued(ctx, queued)
	return next, err
}

func (s *Session) completeAuthorizationLocked(ctx context.Context, cookie PendingCookie, redirectURI string) (Next, error) {
	if s.closed {
		return nil, apperrors.ErrSessionClosed
	}
	if s.pendingAuth == "" || cookie != s.pendingAuth {
		return nil, apperrors.ErrUnknownCookie
	}
	s.pendingAuth = ""

	if _, err := s.coordinator.Complete(ctx, redirectURI); err != nil {
		return s.fail(err)
	}
	return s.fetchProfiles(ctx)
}

// CancelAuthorization discards a pending authorization suspension with
// no network effect and returns the flow to Ready. Canceling an
// unknown or already consumed cookie is a no-op.
func (s *Session) CancelAuthorization(cookie PendingCookie) {
	s.mu.Lock()
	s.cancelAuthorizationLocked(cookie)
	queued := s.takeQueued()
	s.mu.Unlock()

	s.publishQueued(context.Background(), queued)
}

func (s *Session) cancelAuthorizationLocked(cookie PendingCookie) {
	if s.closed || s.pendingAuth == "" || cookie != s.pendingAuth {
		return
	}
	s.pendingAuth = ""
	s.coordinator.Cancel()
	s.resetLocked()
	s.logger.Info("authorization canceled by caller")
}

// SelectProfile resumes a flow suspended in ProfileSelection with the
// chosen profile. A choice outside the offered list leaves the
// suspension pending.
func (s *Session) SelectProfile(ctx context.Context, cookie PendingCookie, profileID string) (Next, error) {
	s.mu.Lock()
	next, err := s.selectProfileLocked(ctx, cookie, profileID)
	queued := s.takeQueued()
	s.mu.Unlock()

	s.publishQueued(ctx, queued)
	return next, err
}

func (s *Session) selectProfileLocked(ctx context.Context, cookie PendingCookie, profileID string) (Next, error) {
	if s.closed {
		return nil, apperrors.ErrSessionClosed
	}
	if s.pendingChoice == "" || cookie != s.pendingChoice {
		return nil, apperrors.ErrUnknownCookie
	}

	var chosen *api.Profile
	for i := range s.profiles {
		if s.profiles[i].ID == profileID {
			chosen = &s.profiles[i]
			break
		}
	}
	if chosen == nil {
		return nil, fmt.Errorf("profile %q is not among the offered profiles", profileID)
	}

	s.pendingChoice = ""
	s.selected = chosen
	return s.provisionKeyPair(ctx)
}

// beginAuthorization starts (or restarts) the authorization branch and
// suspends the flow. Caller holds the lock.
func (s *Session) beginAuthorization() (Next, error) {
	req, err := s.coordinator.Begin(s.endpoints)
	if err != nil {
		return s.fail(fmt.Errorf("failed to begin authorization: %w", err))
	}

	cookie := PendingCookie(uuid.NewString())
	s.pendingAuth = cookie
	s.setState(StateAuthorizing)

	return &AuthorizationPending{Cookie: cookie, AuthorizeURL: req.URL}, nil
}

// fetchProfiles runs the profile-list step. A 401 here means the
// stored credential is no longer honored; it is discarded silently and
// the flow restarts at the authorization branch, never surfacing an
// error to the user. Caller holds the lock.
func (s *Session) fetchProfiles(ctx context.Context) (Next, error) {
	s.setState(StateFetchingProfiles)

	token, err := s.coordinator.FreshAccessToken(ctx)
	if err != nil {
		if errors.Is(err, apperrors.ErrReauthorizationRequired) {
			return s.beginAuthorization()
		}
		return s.fail(fmt.Errorf("failed to obtain access token: %w", err))
	}

	body, _, err := s.transport.Get(ctx, s.endpoints.ProfileListEndpoint, token)
	if err != nil {
		var unauthorized *apperrors.UnauthorizedError
		if errors.As(err, &unauthorized) {
			s.logger.Info("stored token rejected while listing profiles, restarting authorization")
			if err := s.coordinator.Invalidate(); err != nil {
				return s.fail(err)
			}
			return s.beginAuthorization()
		}
		return s.fail(fmt.Errorf("failed to fetch profile list: %w", err))
	}

	var resp api.ProfileListResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return s.fail(apperrors.NewMalformedResponseError(s.endpoints.ProfileListEndpoint, "failed to decode profile list", err))
	}
	if !resp.ProfileList.OK {
		return s.fail(apperrors.NewMalformedResponseError(s.endpoints.ProfileListEndpoint, "server reported profile list failure", nil))
	}
	if len(resp.ProfileList.Data) == 0 {
		return s.fail(apperrors.NewMalformedResponseError(s.endpoints.ProfileListEndpoint, "server offered no profiles", nil))
	}
	s.profiles = resp.ProfileList.Data

	if len(s.profiles) > 1 {
		cookie := PendingCookie(uuid.NewString())
		s.pendingChoice = cookie
		s.setState(StateProfileSelection)
		return &ProfileChoicePending{Cookie: cookie, Profiles: s.profiles}, nil
	}

	s.selected = &s.profiles[0]
	s.logger.Debug("auto-selected sole profile", "profile", s.selected.ID)
	return s.provisionKeyPair(ctx)
}

// provisionKeyPair ensures a valid key pair for the server. A cached
// key pair is validated before reuse; an invalid one is evicted and
// regenerated transparently. Caller holds the lock.
func (s *Session) provisionKeyPair(ctx context.Context) (Next, error) {
	s.setState(StateDownloadingKeyPair)

	token, err := s.coordinator.FreshAccessToken(ctx)
	if err != nil {
		if errors.Is(err, apperrors.ErrReauthorizationRequired) {
			return s.beginAuthorization()
		}
		return s.fail(fmt.Errorf("failed to obtain access token: %w", err))
	}

	kp, cached, err := s.keypairs.Ensure(ctx, s.server, s.endpoints, token)
	if err != nil {
		return s.failOrReauthorize(err, "failed to ensure key pair")
	}

	if cached {
		s.setState(StateCheckingCertificate)
		validity, err := s.keypairs.CheckValidity(ctx, s.server, kp, s.endpoints, token)
		if err != nil {
			var certErr *apperrors.CertificateInvalidError
			if errors.As(err, &certErr) {
				// Terminal server-side verdict; no automatic recovery.
				return s.fail(certErr)
			}
			return s.failOrReauthorize(err, "certificate check failed")
		}

		if !validity.Valid {
			s.logger.Info("cached key pair invalid, regenerating", "reason", validity.Reason)
			kp, _, err = s.keypairs.Ensure(ctx, s.server, s.endpoints, token)
			if err != nil {
				return s.failOrReauthorize(err, "failed to regenerate key pair")
			}
		}
	}

	return s.downloadConfig(ctx, kp, token)
}

// downloadConfig fetches the profile configuration, merges in the key
// pair, and hands the result to the tunnel. Caller holds the lock.
func (s *Session) downloadConfig(ctx context.Context, kp *api.KeyPair, token string) (Next, error) {
	s.setState(StateDownloadingConfig)

	cfgURL := s.endpoints.ProfileConfigEndpoint + "?profile_id=" + url.QueryEscape(s.selected.ID)
	body, _, err := s.transport.Get(ctx, cfgURL, token)
	if err != nil {
		return s.fail(fmt.Errorf("failed to fetch profile configuration: %w", err))
	}

	merged, err := tunnel.MergeKeyPair(string(body), kp)
	if err != nil {
		return s.fail(fmt.Errorf("failed to merge configuration: %w", err))
	}

	cfg := &tunnel.Config{
		Server:    s.server,
		ProfileID: s.selected.ID,
		LocalID:   uuid.NewString(),
		Body:      merged,
	}
	if err := s.tun.Activate(ctx, cfg); err != nil {
		return s.fail(fmt.Errorf("tunnel activation failed: %w", err))
	}

	// Remember the selection for fast reconnect. The handoff already
	// happened, so a store failure is only logged.
	pointer := &store.ProfilePointer{
		ProfileID:  cfg.ProfileID,
		LocalID:    cfg.LocalID,
		SelectedAt: time.Now(),
	}
	if err := s.st.SetProfile(s.server, pointer); err != nil {
		s.logger.Warn("failed to record profile selection", "error", err)
	}

	s.logger.Info("configuration handed to tunnel", "profile", cfg.ProfileID, "local_id", cfg.LocalID)
	s.resetLocked()
	return &Configured{Config: cfg}, nil
}

// failOrReauthorize routes a step error either into the authorization
// branch (401) or into a terminal failure. Caller holds the lock.
func (s *Session) failOrReauthorize(err error, msg string) (Next, error) {
	var unauthorized *apperrors.UnauthorizedError
	if errors.As(err, &unauthorized) {
		s.logger.Info("access token rejected mid-flow, restarting authorization")
		if invErr := s.coordinator.Invalidate(); invErr != nil {
			return s.fail(invErr)
		}
		return s.beginAuthorization()
	}
	return s.fail(fmt.Errorf("%s: %w", msg, err))
}

// fail surfaces an error and returns the flow to Ready for a
// subsequent attempt. Caller holds the lock.
func (s *Session) fail(err error) (Next, error) {
	s.logger.Warn("negotiation failed", "state", s.state.String(), "error", err)
	s.resetLocked()
	return nil, err
}

// resetLocked drops the per-session negotiation context and returns to
// Ready. Caller holds the lock.
func (s *Session) resetLocked() {
	s.pendingAuth = ""
	s.pendingChoice = ""
	s.profiles = nil
	s.selected = nil
	s.endpoints = nil
	s.busy = false
	if s.state != StateReady {
		s.setState(StateReady)
	}
}

// setState transitions the flow and queues the change for publication.
// Caller holds the lock.
func (s *Session) setState(next State) {
	prev := s.state
	s.state = next
	s.logger.Debug("state transition", "from", prev.String(), "to", next.String())
	s.queued = append(s.queued, events.NewStateChanged(s.server, prev.String(), next.String()))
}

// takeQueued drains the queued events. Caller holds the lock.
func (s *Session) takeQueued() []events.Event {
	queued := s.queued
	s.queued = nil
	return queued
}

// publishQueued delivers state-change events outside the session lock
// so subscribers may call back into the session.
func (s *Session) publishQueued(ctx context.Context, queued []events.Event) {
	for _, ev := range queued {
		if err := s.bus.Publish(ctx, ev); err != nil {
			s.logger.Warn("failed to publish state change", "error", err)
		}
	}
}

// findDistributedToken looks for a still-valid token persisted under a
// different server identity that belongs to the same federation, i.e.
// shares this server's authorization endpoint. Caller holds the lock.
func (s *Session) findDistributedToken() *store.Token {
	servers, err := s.st.Servers()
	if err != nil {
		s.logger.Warn("failed to enumerate stored servers", "error", err)
		return nil
	}
	for _, other := range servers {
		if other == s.server {
			continue
		}
		tok, err := s.st.Token(other)
		if err != nil || tok == nil {
			continue
		}
		if tok.Valid() && tok.AuthorizationEndpoint == s.endpoints.AuthorizationEndpoint {
			s.logger.Info("reusing distributed token", "issued_for", other.String())
			return tok
		}
	}
	return nil
}

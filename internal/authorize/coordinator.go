// Package authorize manages the OAuth2 authorization-code-with-PKCE
// flow against a discovered server: building authorization requests,
// validating the redirect, exchanging the code, and keeping the access
// token fresh. The coordinator is the single writer of a server's
// authorization state; the credential store is its durable mirror.
package authorize

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"

	"golang.org/x/oauth2"

	apperrors "github.com/nimbusvpn/provision/internal/shared/errors"
	"github.com/nimbusvpn/provision/internal/shared/logger"
	"github.com/nimbusvpn/provision/internal/store"
	"github.com/nimbusvpn/provision/internal/transport"
	"github.com/nimbusvpn/provision/pkg/api"
)

// State is the coordinator's position in its lifecycle.
type State int

const (
	StateUnauthorized State = iota
	StateAuthorizing
	StateAuthorized
)

func (s State) String() string {
	switch s {
	case StateUnauthorized:
		return "unauthorized"
	case StateAuthorizing:
		return "authorizing"
	case StateAuthorized:
		return "authorized"
	default:
		return "unknown"
	}
}

// Config carries the OAuth2 client registration shared by all servers.
type Config struct {
	ClientID    string
	RedirectURI string
	Scope       string
}

// Registration defaults for this client.
const (
	DefaultClientID    = "org.nimbusvpn.app"
	DefaultRedirectURI = "org.nimbusvpn.app:/api/callback"
	DefaultScope       = "config"
)

func (c Config) withDefaults() Config {
	if c.ClientID == "" {
		c.ClientID = DefaultClientID
	}
	if c.RedirectURI == "" {
		c.RedirectURI = DefaultRedirectURI
	}
	if c.Scope == "" {
		c.Scope = DefaultScope
	}
	return c
}

// Request is a prepared authorization request. The caller opens URL in
// an external browser; the eventual redirect is fed to Complete.
type Request struct {
	URL   string
	State string
}

// pendingAuthorization is the context persisted between Begin and
// Complete. Discarded without effect on Cancel.
type pendingAuthorization struct {
	state     string
	verifier  string
	endpoints *api.DiscoveryDocument
}

// Coordinator owns the authorization state for a single server.
type Coordinator struct {
	mu        sync.Mutex
	server    api.ServerIdentity
	store     store.Store
	transport *transport.Client
	logger    *logger.Logger
	cfg       Config

	state   State
	token   *store.Token
	pending *pendingAuthorization
}

// NewCoordinator creates a coordinator for the given server, restoring
// any authorization state persisted by a previous run.
func NewCoordinator(server api.ServerIdentity, st store.Store, tc *transport.Client, cfg Config, log *logger.Logger) (*Coordinator, error) {
	if log == nil {
		log = logger.NewDevelopment("authorize")
	}

	c := &Coordinator{
		server:    server,
		store:     st,
		transport: tc,
		logger:    log.WithServer(server.String()),
		cfg:       cfg.withDefaults(),
		state:     StateUnauthorized,
	}

	token, err := st.Token(server)
	if err != nil {
		return nil, fmt.Errorf("failed to restore authorization state: %w", err)
	}
	if token != nil {
		c.token = token
		c.state = StateAuthorized
		c.logger.Debug("restored persisted authorization state", "valid", token.Valid())
	}

	return c, nil
}

// State returns the coordinator's current state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// CurrentToken returns a copy of the current authorization state, or
// nil when unauthorized.
func (c *Coordinator) CurrentToken() *store.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token == nil {
		return nil
	}
	t := *c.token
	return &t
}

// Begin generates a fresh state parameter and PKCE code verifier,
// builds an authorization request for the server's authorization
// endpoint, and transitions to Authorizing. The caller suspends until
// the external redirect arrives at Complete, or cancels.
func (c *Coordinator) Begin(endpoints *api.DiscoveryDocument) (*Request, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	state, err := GenerateState()
	if err != nil {
		return nil, fmt.Errorf("failed to generate state parameter: %w", err)
	}
	verifier := oauth2.GenerateVerifier()

	conf := c.oauthConfig(endpoints.AuthorizationEndpoint, endpoints.TokenEndpoint)
	authURL := conf.AuthCodeURL(state, oauth2.S256ChallengeOption(verifier))

	c.pending = &pendingAuthorization{
		state:     state,
		verifier:  verifier,
		endpoints: endpoints,
	}
	c.state = StateAuthorizing

	c.logger.Info("authorization started", "authorization_endpoint", endpoints.AuthorizationEndpoint)
	return &Request{URL: authURL, State: state}, nil
}

// Complete consumes the redirect callback. It validates the state
// parameter against the pending request, exchanges the authorization
// code for tokens, persists the result, and transitions to Authorized.
// A state mismatch or an error parameter is fatal and never retried
// silently; the pending request is discarded either way.
func (c *Coordinator) Complete(ctx context.Context, redirectURI string) (*store.Token, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pending == nil {
		return nil, apperrors.ErrNoPendingAuthorization
	}
	pending := c.pending

	u, err := url.Parse(redirectURI)
	if err != nil {
		c.discardPending()
		return nil, apperrors.NewAuthorizationRejectedError(fmt.Sprintf("unparseable redirect: %v", err))
	}
	q := u.Query()

	if errCode := q.Get("error"); errCode != "" {
		c.discardPending()
		c.logger.Warn("authorization server returned an error", "error", errCode)
		if desc := q.Get("error_description"); desc != "" {
			return nil, apperrors.NewAuthorizationRejectedError(fmt.Sprintf("%s: %s", errCode, desc))
		}
		return nil, apperrors.NewAuthorizationRejectedError(errCode)
	}

	if q.Get("state") != pending.state {
		c.discardPending()
		c.logger.Warn("state parameter mismatch on redirect")
		return nil, apperrors.NewAuthorizationRejectedError("state parameter mismatch")
	}

	code := q.Get("code")
	if code == "" {
		c.discardPending()
		return nil, apperrors.NewAuthorizationRejectedError("redirect carried no authorization code")
	}

	conf := c.oauthConfig(pending.endpoints.AuthorizationEndpoint, pending.endpoints.TokenEndpoint)
	tok, err := conf.Exchange(c.httpContext(ctx), code, oauth2.VerifierOption(pending.verifier))
	if err != nil {
		c.discardPending()
		return nil, apperrors.NewTokenExchangeError("code exchange request failed", err)
	}
	if tok.AccessToken == "" {
		c.discardPending()
		return nil, apperrors.NewTokenExchangeError("exchange response contained no access token", nil)
	}

	persisted := &store.Token{
		AccessToken:           tok.AccessToken,
		RefreshToken:          tok.RefreshToken,
		Expiry:                tok.Expiry,
		AuthorizationEndpoint: pending.endpoints.AuthorizationEndpoint,
		TokenEndpoint:         pending.endpoints.TokenEndpoint,
	}
	if err := c.store.SetToken(c.server, persisted); err != nil {
		c.discardPending()
		return nil, fmt.Errorf("failed to persist authorization state: %w", err)
	}

	c.token = persisted
	c.pending = nil
	c.state = StateAuthorized

	c.logger.Info("authorization completed", "has_refresh_token", tok.RefreshToken != "")
	result := *persisted
	return &result, nil
}

// Cancel discards a pending authorization with no network effect.
// Canceling twice, or with nothing pending, is a no-op.
func (c *Coordinator) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pending == nil {
		return
	}
	c.logger.Info("pending authorization canceled")
	c.discardPending()
}

// FreshAccessToken returns an access token ready for use. A cached
// non-expired token is returned with no network call. Otherwise a
// refresh-token exchange runs; the refreshed state is persisted before
// the token is returned. When the refresh token itself is rejected the
// coordinator transitions to Unauthorized and the caller must restart
// from Begin.
func (c *Coordinator) FreshAccessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token.Valid() {
		return c.token.AccessToken, nil
	}

	if c.token == nil || c.token.RefreshToken == "" {
		c.token = nil
		c.state = StateUnauthorized
		if storeErr := c.store.SetToken(c.server, nil); storeErr != nil {
			c.logger.Warn("failed to clear expired token from store", "error", storeErr)
		}
		return "", apperrors.ErrReauthorizationRequired
	}

	conf := c.oauthConfig(c.token.AuthorizationEndpoint, c.token.TokenEndpoint)
	src := conf.TokenSource(c.httpContext(ctx), &oauth2.Token{
		AccessToken:  c.token.AccessToken,
		RefreshToken: c.token.RefreshToken,
		Expiry:       c.token.Expiry,
	})

	c.logger.Debug("refreshing expired access token")
	fresh, err := src.Token()
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			// The server rejected the refresh token itself.
			c.token = nil
			c.state = StateUnauthorized
			if storeErr := c.store.SetToken(c.server, nil); storeErr != nil {
				c.logger.Warn("failed to clear rejected token from store", "error", storeErr)
			}
			c.logger.Info("refresh token rejected, reauthorization required")
			return "", fmt.Errorf("refresh rejected by server: %w", apperrors.ErrReauthorizationRequired)
		}
		return "", fmt.Errorf("token refresh failed: %w", err)
	}

	// Access and refresh token are replaced together; the oauth2
	// package carries the previous refresh token forward when the
	// server does not rotate it.
	refreshed := &store.Token{
		AccessToken:           fresh.AccessToken,
		RefreshToken:          fresh.RefreshToken,
		Expiry:                fresh.Expiry,
		AuthorizationEndpoint: c.token.AuthorizationEndpoint,
		TokenEndpoint:         c.token.TokenEndpoint,
	}

	// The store write must land before the token is handed out, so a
	// crash cannot leave a caller holding a token the store never saw.
	if err := c.store.SetToken(c.server, refreshed); err != nil {
		return "", fmt.Errorf("failed to persist refreshed token: %w", err)
	}
	c.token = refreshed

	c.logger.Debug("access token refreshed")
	return refreshed.AccessToken, nil
}

// Adopt takes over an authorization state issued for another server in
// the same federation (a distributed token) and persists it under this
// server's identity.
func (c *Coordinator) Adopt(t *store.Token) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	adopted := *t
	if err := c.store.SetToken(c.server, &adopted); err != nil {
		return fmt.Errorf("failed to persist adopted token: %w", err)
	}
	c.token = &adopted
	c.state = StateAuthorized

	c.logger.Info("adopted distributed token", "authorization_endpoint", t.AuthorizationEndpoint)
	return nil
}

// Invalidate silently discards the current authorization state, both
// cached and persisted. Used when an authenticated call is rejected
// and the flow restarts authorization from the beginning.
func (c *Coordinator) Invalidate() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.token = nil
	c.state = StateUnauthorized
	if err := c.store.SetToken(c.server, nil); err != nil {
		return fmt.Errorf("failed to clear persisted token: %w", err)
	}
	return nil
}

func (c *Coordinator) discardPending() {
	c.pending = nil
	if c.token != nil {
		c.state = StateAuthorized
	} else {
		c.state = StateUnauthorized
	}
}

func (c *Coordinator) oauthConfig(authURL, tokenURL string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:    c.cfg.ClientID,
		RedirectURL: c.cfg.RedirectURI,
		Scopes:      []string{c.cfg.Scope},
		Endpoint: oauth2.Endpoint{
			AuthURL:  authURL,
			TokenURL: tokenURL,
		},
	}
}

// httpContext routes oauth2 round-trips through the shared transport
// client so they observe the same timeout policy.
func (c *Coordinator) httpContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.transport.HTTPClient())
}

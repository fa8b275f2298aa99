// Package keypair obtains, caches, and revalidates the per-server
// client key pair (private key + CA-signed certificate). At most one
// key pair is current per server; every eviction is mirrored to the
// credential store immediately so a crash mid-flow cannot resurrect a
// stale key pair.
package keypair

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"

	apperrors "github.com/nimbusvpn/provision/internal/shared/errors"
	"github.com/nimbusvpn/provision/internal/shared/logger"
	"github.com/nimbusvpn/provision/internal/store"
	"github.com/nimbusvpn/provision/internal/transport"
	"github.com/nimbusvpn/provision/pkg/api"
)

// displayName identifies this client in the server's certificate
// listing when a key pair is created.
const displayName = "nimbusvpn-provision"

// Validity is the outcome of a certificate check.
type Validity struct {
	Valid  bool
	Reason string
}

// Manager owns the key-pair lifecycle for all servers of a session.
type Manager struct {
	mu        sync.Mutex
	store     store.Store
	transport *transport.Client
	logger    *logger.Logger
	cache     map[api.ServerIdentity]*api.KeyPair
}

// NewManager creates a key-pair manager backed by the given store.
func NewManager(st store.Store, tc *transport.Client, log *logger.Logger) *Manager {
	if log == nil {
		log = logger.NewDevelopment("keypair")
	}

	return &Manager{
		store:     st,
		transport: tc,
		logger:    log,
		cache:     make(map[api.ServerIdentity]*api.KeyPair),
	}
}

// Ensure returns the current key pair for a server. A cached key pair
// is returned without a network call and without a validity check;
// validity is the caller's concern. Otherwise a create request is
// issued and the new key pair replaces any prior cached value. The
// second return value reports whether the key pair came from cache.
func (m *Manager) Ensure(ctx context.Context, server api.ServerIdentity, endpoints *api.DiscoveryDocument, accessToken string) (*api.KeyPair, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if kp := m.cached(server); kp != nil {
		m.logger.Debug("reusing cached key pair", "server", server.String(), "common_name", kp.CommonName)
		copied := *kp
		return &copied, true, nil
	}

	form := url.Values{}
	form.Set("display_name", displayName)

	m.logger.Info("requesting new key pair", "server", server.String())
	body, err := m.transport.PostForm(ctx, endpoints.CreateKeyPairEndpoint, form, accessToken)
	if err != nil {
		return nil, false, fmt.Errorf("create key pair call failed: %w", err)
	}

	var resp api.CreateKeyPairResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, false, apperrors.NewMalformedResponseError(endpoints.CreateKeyPairEndpoint, "failed to decode create_keypair response", err)
	}
	if !resp.CreateKeyPair.OK {
		return nil, false, apperrors.NewKeyPairError("create", serverMessage(resp.CreateKeyPair.Error), nil)
	}

	kp := resp.CreateKeyPair.Data
	kp.Valid = true
	kp.ResolveCommonName()

	if err := m.store.SetKeyPair(server, &kp); err != nil {
		return nil, false, apperrors.NewKeyPairError("persist", "failed to store key pair", err)
	}
	m.cache[server] = &kp

	m.logger.Info("key pair created", "server", server.String(), "common_name", kp.CommonName)
	copied := kp
	return &copied, false, nil
}

// CheckValidity asks the server whether the key pair's certificate is
// still accepted. A key pair without a common name is invalid without
// a network call. Terminal reasons are surfaced as a
// CertificateInvalidError and leave the cache untouched; any other
// invalid reason evicts the key pair so the caller can regenerate it.
func (m *Manager) CheckValidity(ctx context.Context, server api.ServerIdentity, kp *api.KeyPair, endpoints *api.DiscoveryDocument, accessToken string) (Validity, error) {
	if kp.CommonName == "" {
		m.logger.Warn("key pair has no common name, treating as invalid", "server", server.String())
		if err := m.Invalidate(server); err != nil {
			return Validity{}, err
		}
		return Validity{Valid: false, Reason: api.ReasonUnknown}, nil
	}

	checkURL := endpoints.CheckCertificateEndpoint + "?common_name=" + url.QueryEscape(kp.CommonName)
	body, _, err := m.transport.Get(ctx, checkURL, accessToken)
	if err != nil {
		return Validity{}, fmt.Errorf("certificate check call failed: %w", err)
	}

	var resp api.CheckCertificateResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return Validity{}, apperrors.NewMalformedResponseError(checkURL, "failed to decode check_certificate response", err)
	}
	if !resp.CheckCertificate.OK {
		return Validity{}, apperrors.NewMalformedResponseError(checkURL, serverMessage(resp.CheckCertificate.Error), nil)
	}

	info := resp.CheckCertificate.Data
	if info.IsValid {
		m.logger.Debug("certificate confirmed valid", "server", server.String(), "common_name", kp.CommonName)
		return Validity{Valid: true}, nil
	}

	reason := info.Reason
	if reason == "" {
		reason = api.ReasonUnknown
	}

	certErr := apperrors.NewCertificateInvalidError(reason)
	if certErr.Terminal() {
		m.logger.Warn("certificate disabled server-side, no automatic recovery",
			"server", server.String(), "reason", reason)
		return Validity{}, certErr
	}

	m.logger.Info("certificate no longer valid, evicting key pair",
		"server", server.String(), "reason", reason)
	if err := m.Invalidate(server); err != nil {
		return Validity{}, err
	}
	return Validity{Valid: false, Reason: reason}, nil
}

// Invalidate evicts the key pair for a server from the in-memory cache
// and the durable store.
func (m *Manager) Invalidate(server api.ServerIdentity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.invalidateLocked(server)
}

func (m *Manager) invalidateLocked(server api.ServerIdentity) error {
	delete(m.cache, server)
	if err := m.store.SetKeyPair(server, nil); err != nil {
		return fmt.Errorf("failed to evict persisted key pair: %w", err)
	}
	return nil
}

// cached returns the current key pair from memory, falling back to the
// durable store. Caller holds the lock.
func (m *Manager) cached(server api.ServerIdentity) *api.KeyPair {
	if kp, ok := m.cache[server]; ok {
		return kp
	}
	kp, err := m.store.KeyPair(server)
	if err != nil {
		m.logger.Warn("failed to read persisted key pair", "server", server.String(), "error", err)
		return nil
	}
	if kp == nil {
		return nil
	}
	m.cache[server] = kp
	return kp
}

func serverMessage(msg string) string {
	if msg == "" {
		return "server reported failure without details"
	}
	return msg
}

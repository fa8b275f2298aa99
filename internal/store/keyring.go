package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	keyring "github.com/zalando/go-keyring"

	"github.com/nimbusvpn/provision/pkg/api"
)

// serviceName is the identifier used in the system keyring.
const serviceName = "nimbusvpn-provision"

// indexKey holds the JSON list of known server identities, since the
// keyring API has no enumeration.
const indexKey = "servers"

const (
	kindToken   = "token"
	kindKeyPair = "keypair"
	kindProfile = "profile"
)

// Keyring is a Store backed by the system keyring (Secret Service,
// Keychain, or Credential Manager depending on the platform).
type Keyring struct {
	mu sync.Mutex
}

// NewKeyring creates a keyring-backed store. It fails when no keyring
// service is reachable so callers can fall back to another backend.
func NewKeyring() (*Keyring, error) {
	probe := serviceName + "-probe"
	if err := keyring.Set(serviceName, probe, "ok"); err != nil {
		return nil, fmt.Errorf("system keyring unavailable: %w", err)
	}
	_ = keyring.Delete(serviceName, probe)
	return &Keyring{}, nil
}

func recordKey(kind string, server api.ServerIdentity) string {
	return kind + "|" + server.String()
}

func (k *Keyring) get(kind string, server api.ServerIdentity, out any) (bool, error) {
	payload, err := keyring.Get(serviceName, recordKey(kind, server))
	if errors.Is(err, keyring.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("keyring read failed: %w", err)
	}
	if err := json.Unmarshal([]byte(payload), out); err != nil {
		return false, fmt.Errorf("corrupt keyring record %s: %w", kind, err)
	}
	return true, nil
}

func (k *Keyring) set(kind string, server api.ServerIdentity, v any) error {
	if v == nil {
		err := keyring.Delete(serviceName, recordKey(kind, server))
		if err != nil && !errors.Is(err, keyring.ErrNotFound) {
			return fmt.Errorf("keyring delete failed: %w", err)
		}
		return k.pruneIndex(server)
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s record: %w", kind, err)
	}
	if err := keyring.Set(serviceName, recordKey(kind, server), string(payload)); err != nil {
		return fmt.Errorf("keyring write failed: %w", err)
	}
	return k.addToIndex(server)
}

func (k *Keyring) addToIndex(server api.ServerIdentity) error {
	servers, err := k.readIndex()
	if err != nil {
		return err
	}
	for _, s := range servers {
		if s == server {
			return nil
		}
	}
	servers = append(servers, server)
	return k.writeIndex(servers)
}

// pruneIndex drops the server from the index once none of its records
// remain, so enumeration does not report forgotten servers.
func (k *Keyring) pruneIndex(server api.ServerIdentity) error {
	for _, kind := range []string{kindToken, kindKeyPair, kindProfile} {
		_, err := keyring.Get(serviceName, recordKey(kind, server))
		if err == nil {
			return nil
		}
		if !errors.Is(err, keyring.ErrNotFound) {
			return fmt.Errorf("keyring read failed: %w", err)
		}
	}

	servers, err := k.readIndex()
	if err != nil {
		return err
	}
	kept := servers[:0]
	for _, s := range servers {
		if s != server {
			kept = append(kept, s)
		}
	}
	if len(kept) == len(servers) {
		return nil
	}
	return k.writeIndex(kept)
}

func (k *Keyring) readIndex() ([]api.ServerIdentity, error) {
	payload, err := keyring.Get(serviceName, indexKey)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("keyring index read failed: %w", err)
	}
	var servers []api.ServerIdentity
	if err := json.Unmarshal([]byte(payload), &servers); err != nil {
		return nil, fmt.Errorf("corrupt keyring index: %w", err)
	}
	return servers, nil
}

func (k *Keyring) writeIndex(servers []api.ServerIdentity) error {
	sort.Slice(servers, func(i, j int) bool { return servers[i] < servers[j] })
	payload, err := json.Marshal(servers)
	if err != nil {
		return fmt.Errorf("failed to encode keyring index: %w", err)
	}
	if err := keyring.Set(serviceName, indexKey, string(payload)); err != nil {
		return fmt.Errorf("keyring index write failed: %w", err)
	}
	return nil
}

func (k *Keyring) Token(server api.ServerIdentity) (*Token, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	var t Token
	ok, err := k.get(kindToken, server, &t)
	if err != nil || !ok {
		return nil, err
	}
	return &t, nil
}

func (k *Keyring) SetToken(server api.ServerIdentity, t *Token) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if t == nil {
		return k.set(kindToken, server, nil)
	}
	return k.set(kindToken, server, t)
}

func (k *Keyring) KeyPair(server api.ServerIdentity) (*api.KeyPair, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	var kp api.KeyPair
	ok, err := k.get(kindKeyPair, server, &kp)
	if err != nil || !ok {
		return nil, err
	}
	return &kp, nil
}

func (k *Keyring) SetKeyPair(server api.ServerIdentity, kp *api.KeyPair) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if kp == nil {
		return k.set(kindKeyPair, server, nil)
	}
	return k.set(kindKeyPair, server, kp)
}

func (k *Keyring) Profile(server api.ServerIdentity) (*ProfilePointer, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	var p ProfilePointer
	ok, err := k.get(kindProfile, server, &p)
	if err != nil || !ok {
		return nil, err
	}
	return &p, nil
}

func (k *Keyring) SetProfile(server api.ServerIdentity, p *ProfilePointer) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if p == nil {
		return k.set(kindProfile, server, nil)
	}
	return k.set(kindProfile, server, p)
}

func (k *Keyring) Servers() ([]api.ServerIdentity, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.readIndex()
}

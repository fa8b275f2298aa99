package store

import (
	"sync"

	"github.com/nimbusvpn/provision/pkg/api"
)

// Memory is an in-process Store. Used by tests and by callers that
// explicitly opt out of durable credential storage.
type Memory struct {
	mu       sync.RWMutex
	tokens   map[api.ServerIdentity]Token
	keyPairs map[api.ServerIdentity]api.KeyPair
	profiles map[api.ServerIdentity]ProfilePointer
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		tokens:   make(map[api.ServerIdentity]Token),
		keyPairs: make(map[api.ServerIdentity]api.KeyPair),
		profiles: make(map[api.ServerIdentity]ProfilePointer),
	}
}

func (m *Memory) Token(server api.ServerIdentity) (*Token, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tokens[server]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (m *Memory) SetToken(server api.ServerIdentity, t *Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t == nil {
		delete(m.tokens, server)
		return nil
	}
	m.tokens[server] = *t
	return nil
}

func (m *Memory) KeyPair(server api.ServerIdentity) (*api.KeyPair, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	kp, ok := m.keyPairs[server]
	if !ok {
		return nil, nil
	}
	return &kp, nil
}

func (m *Memory) SetKeyPair(server api.ServerIdentity, kp *api.KeyPair) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if kp == nil {
		delete(m.keyPairs, server)
		return nil
	}
	m.keyPairs[server] = *kp
	return nil
}

func (m *Memory) Profile(server api.ServerIdentity) (*ProfilePointer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[server]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *Memory) SetProfile(server api.ServerIdentity, p *ProfilePointer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p == nil {
		delete(m.profiles, server)
		return nil
	}
	m.profiles[server] = *p
	return nil
}

func (m *Memory) Servers() ([]api.ServerIdentity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[api.ServerIdentity]struct{})
	for s := range m.tokens {
		seen[s] = struct{}{}
	}
	for s := range m.keyPairs {
		seen[s] = struct{}{}
	}
	for s := range m.profiles {
		seen[s] = struct{}{}
	}
	servers := make([]api.ServerIdentity, 0, len(seen))
	for s := range seen {
		servers = append(servers, s)
	}
	return servers, nil
}

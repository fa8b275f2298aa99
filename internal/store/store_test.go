package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	keyring "github.com/zalando/go-keyring"

	"github.com/nimbusvpn/provision/pkg/api"
)

func TestToken_Valid(t *testing.T) {
	t.Run("nil token", func(t *testing.T) {
		var tok *Token
		assert.False(t, tok.Valid())
	})

	t.Run("empty access token", func(t *testing.T) {
		assert.False(t, (&Token{}).Valid())
	})

	t.Run("no expiry means valid", func(t *testing.T) {
		assert.True(t, (&Token{AccessToken: "tok"}).Valid())
	})

	t.Run("future expiry", func(t *testing.T) {
		tok := &Token{AccessToken: "tok", Expiry: time.Now().Add(time.Hour)}
		assert.True(t, tok.Valid())
	})

	t.Run("expired", func(t *testing.T) {
		tok := &Token{AccessToken: "tok", Expiry: time.Now().Add(-time.Minute)}
		assert.False(t, tok.Valid())
	})

	t.Run("about to expire counts as stale", func(t *testing.T) {
		tok := &Token{AccessToken: "tok", Expiry: time.Now().Add(expirySkew / 2)}
		assert.False(t, tok.Valid())
	})
}

// runStoreSuite exercises the Store contract against a backend.
func runStoreSuite(t *testing.T, s Store) {
	server := api.ServerIdentity("https://vpn.example.org")

	t.Run("absent records return nil", func(t *testing.T) {
		tok, err := s.Token(server)
		require.NoError(t, err)
		assert.Nil(t, tok)

		kp, err := s.KeyPair(server)
		require.NoError(t, err)
		assert.Nil(t, kp)

		p, err := s.Profile(server)
		require.NoError(t, err)
		assert.Nil(t, p)
	})

	t.Run("token round trip", func(t *testing.T) {
		want := &Token{
			AccessToken:           "at",
			RefreshToken:          "rt",
			Expiry:                time.Now().Add(time.Hour).Truncate(time.Second),
			AuthorizationEndpoint: "https://vpn.example.org/authorize",
			TokenEndpoint:         "https://vpn.example.org/token",
		}
		require.NoError(t, s.SetToken(server, want))

		got, err := s.Token(server)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, want.AccessToken, got.AccessToken)
		assert.Equal(t, want.RefreshToken, got.RefreshToken)
		assert.Equal(t, want.AuthorizationEndpoint, got.AuthorizationEndpoint)
	})

	t.Run("key pair round trip", func(t *testing.T) {
		want := &api.KeyPair{Certificate: "CERT", PrivateKey: "KEY", CommonName: "cn-1", Valid: true}
		require.NoError(t, s.SetKeyPair(server, want))

		got, err := s.KeyPair(server)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, want.CommonName, got.CommonName)
		assert.True(t, got.Valid)
	})

	t.Run("profile pointer round trip", func(t *testing.T) {
		want := &ProfilePointer{ProfileID: "internet", LocalID: "local-1", SelectedAt: time.Now()}
		require.NoError(t, s.SetProfile(server, want))

		got, err := s.Profile(server)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, "internet", got.ProfileID)
		assert.Equal(t, "local-1", got.LocalID)
	})

	t.Run("servers enumeration", func(t *testing.T) {
		servers, err := s.Servers()
		require.NoError(t, err)
		assert.Contains(t, servers, server)
	})

	t.Run("nil setter deletes", func(t *testing.T) {
		require.NoError(t, s.SetKeyPair(server, nil))

		got, err := s.KeyPair(server)
		require.NoError(t, err)
		assert.Nil(t, got)

		// Deleting an absent record is fine.
		require.NoError(t, s.SetKeyPair(server, nil))
	})

	t.Run("forget removes everything", func(t *testing.T) {
		require.NoError(t, Forget(s, server))

		tok, err := s.Token(server)
		require.NoError(t, err)
		assert.Nil(t, tok)

		p, err := s.Profile(server)
		require.NoError(t, err)
		assert.Nil(t, p)

		// A forgotten server is no longer enumerated.
		servers, err := s.Servers()
		require.NoError(t, err)
		assert.NotContains(t, servers, server)
	})
}

func TestMemory(t *testing.T) {
	runStoreSuite(t, NewMemory())
}

func TestMemory_CopySemantics(t *testing.T) {
	s := NewMemory()
	server := api.ServerIdentity("https://vpn.example.org")

	original := &Token{AccessToken: "at"}
	require.NoError(t, s.SetToken(server, original))
	original.AccessToken = "mutated"

	got, err := s.Token(server)
	require.NoError(t, err)
	assert.Equal(t, "at", got.AccessToken)
}

func TestSQLite(t *testing.T) {
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "credentials.db"))
	require.NoError(t, err)
	defer s.Close()

	runStoreSuite(t, s)
}

func TestSQLite_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.db")
	server := api.ServerIdentity("https://vpn.example.org")

	s, err := OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, s.SetToken(server, &Token{AccessToken: "at"}))
	require.NoError(t, s.Close())

	reopened, err := OpenSQLite(path)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Token(server)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "at", got.AccessToken)
}

func TestKeyring(t *testing.T) {
	keyring.MockInit()

	s, err := NewKeyring()
	require.NoError(t, err)

	runStoreSuite(t, s)
}

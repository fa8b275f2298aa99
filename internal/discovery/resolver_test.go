package discovery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/nimbusvpn/provision/internal/shared/errors"
	"github.com/nimbusvpn/provision/internal/shared/logger"
	"github.com/nimbusvpn/provision/internal/transport"
	"github.com/nimbusvpn/provision/pkg/api"
)

func capabilityDoc(base string) string {
	return fmt.Sprintf(`{
		"api_version": 2,
		"authorization_endpoint": "%[1]s/authorize",
		"token_endpoint": "%[1]s/token",
		"profile_list_endpoint": "%[1]s/profile_list",
		"create_keypair_endpoint": "%[1]s/create_keypair",
		"profile_config_endpoint": "%[1]s/profile_config",
		"check_certificate_endpoint": "%[1]s/check_certificate"
	}`, base)
}

func newResolver(t *testing.T) *Resolver {
	t.Helper()
	log := logger.NewDevelopment("discovery_test")
	return NewResolver(transport.New(log), log)
}

func TestResolver_Discover(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		var requestedPath string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requestedPath = r.URL.Path
			if r.Header.Get("Authorization") != "" {
				t.Error("discovery must be unauthenticated")
			}
			fmt.Fprint(w, capabilityDoc("https://vpn.example.org"))
		}))
		defer server.Close()

		identity, err := api.NewServerIdentity(server.URL)
		require.NoError(t, err)

		doc, err := newResolver(t).Discover(context.Background(), identity)
		require.NoError(t, err)
		assert.Equal(t, api.WellKnownPath, requestedPath)
		assert.Equal(t, 2, doc.APIVersion)
		assert.Equal(t, "https://vpn.example.org/profile_list", doc.ProfileListEndpoint)
	})

	t.Run("malformed document", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"api_version": `)
		}))
		defer server.Close()

		identity, err := api.NewServerIdentity(server.URL)
		require.NoError(t, err)

		_, err = newResolver(t).Discover(context.Background(), identity)
		var malformed *apperrors.MalformedResponseError
		require.True(t, errors.As(err, &malformed))
	})

	t.Run("document missing endpoints", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"api_version": 2, "authorization_endpoint": "https://vpn.example.org/authorize"}`)
		}))
		defer server.Close()

		identity, err := api.NewServerIdentity(server.URL)
		require.NoError(t, err)

		_, err = newResolver(t).Discover(context.Background(), identity)
		var malformed *apperrors.MalformedResponseError
		require.True(t, errors.As(err, &malformed))
		assert.Contains(t, malformed.Message, "token_endpoint")
	})

	t.Run("http failure", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		defer server.Close()

		identity, err := api.NewServerIdentity(server.URL)
		require.NoError(t, err)

		_, err = newResolver(t).Discover(context.Background(), identity)
		var statusErr *apperrors.StatusError
		require.True(t, errors.As(err, &statusErr))
		assert.Equal(t, http.StatusNotFound, statusErr.Code)
	})
}

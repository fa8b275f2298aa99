package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/nimbusvpn/provision/internal/shared/errors"
	"github.com/nimbusvpn/provision/internal/shared/logger"
)

func TestClient_Get(t *testing.T) {
	log := logger.NewDevelopment("transport_test")

	t.Run("success with bearer token", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer tok-123" {
				t.Errorf("expected bearer credential, got %q", r.Header.Get("Authorization"))
			}
			w.Write([]byte(`{"hello":"world"}`))
		}))
		defer server.Close()

		body, _, err := New(log).Get(context.Background(), server.URL, "tok-123")
		require.NoError(t, err)
		assert.JSONEq(t, `{"hello":"world"}`, string(body))
	})

	t.Run("unauthenticated request carries no credential", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "" {
				t.Errorf("expected no Authorization header, got %q", r.Header.Get("Authorization"))
			}
			w.WriteHeader(http.StatusOK)
		}))
		defer server.Close()

		_, _, err := New(log).Get(context.Background(), server.URL, "")
		require.NoError(t, err)
	})

	t.Run("401 surfaces as UnauthorizedError", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer server.Close()

		_, _, err := New(log).Get(context.Background(), server.URL, "stale")
		var unauthorized *apperrors.UnauthorizedError
		require.True(t, errors.As(err, &unauthorized))
	})

	t.Run("503 carries status and retry hint", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Retry-After", "30")
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("maintenance window"))
		}))
		defer server.Close()

		_, _, err := New(log).Get(context.Background(), server.URL, "")
		var statusErr *apperrors.StatusError
		require.True(t, errors.As(err, &statusErr))
		assert.Equal(t, http.StatusServiceUnavailable, statusErr.Code)
		assert.Equal(t, 30, statusErr.RetryAfter)
		assert.Equal(t, "maintenance window", statusErr.Body)
	})
}

func TestClient_PostForm(t *testing.T) {
	log := logger.NewDevelopment("transport_test")

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("failed to parse form: %v", err)
		}
		if r.PostForm.Get("display_name") != "test-client" {
			t.Errorf("expected form value, got %q", r.PostForm.Get("display_name"))
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	form := url.Values{}
	form.Set("display_name", "test-client")

	body, err := New(log).PostForm(context.Background(), server.URL, form, "tok")
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(body))
}

// Package discovery retrieves and parses a server's capability
// document: the well-known JSON file advertising its authorization,
// token, and provisioning endpoints.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"

	apperrors "github.com/nimbusvpn/provision/internal/shared/errors"
	"github.com/nimbusvpn/provision/internal/shared/logger"
	"github.com/nimbusvpn/provision/internal/transport"
	"github.com/nimbusvpn/provision/pkg/api"
)

// Resolver fetches capability documents. It is read-only and keeps no
// cache; callers hold the result for the duration of a session.
type Resolver struct {
	transport *transport.Client
	logger    *logger.Logger
}

// NewResolver creates a new discovery resolver.
func NewResolver(tc *transport.Client, log *logger.Logger) *Resolver {
	if log == nil {
		log = logger.NewDevelopment("discovery")
	}

	return &Resolver{
		transport: tc,
		logger:    log,
	}
}

// Discover fetches the capability document for the given server,
// unauthenticated, and parses it into a DiscoveryDocument. A malformed
// or incomplete document is fatal for the current session and is not
// retried here.
func (r *Resolver) Discover(ctx context.Context, server api.ServerIdentity) (*api.DiscoveryDocument, error) {
	docURL := server.String() + api.WellKnownPath
	r.logger.Debug("fetching capability document", "url", docURL)

	body, _, err := r.transport.Get(ctx, docURL, "")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch capability document: %w", err)
	}

	var doc api.DiscoveryDocument
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, apperrors.NewMalformedResponseError(docURL, "failed to decode capability document", err)
	}

	if err := doc.Validate(); err != nil {
		return nil, apperrors.NewMalformedResponseError(docURL, err.Error(), nil)
	}

	r.logger.Info("discovered server endpoints",
		"server", server.String(),
		"api_version", doc.APIVersion)
	return &doc, nil
}

package api

import (
	"fmt"
	"net/url"
	"strings"
)

// ServerIdentity is the canonical base URL of a VPN provider endpoint.
// It is the join key for every persisted record (tokens, key pairs,
// profile pointers) and is immutable once created.
type ServerIdentity string

// NewServerIdentity normalizes a raw base URL into a ServerIdentity.
// Trailing slashes are stripped so that equal servers compare equal.
func NewServerIdentity(rawURL string) (ServerIdentity, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid server URL %q: %w", rawURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("server URL %q must use http or https", rawURL)
	}
	if u.Host == "" {
		return "", fmt.Errorf("server URL %q has no host", rawURL)
	}
	u.Fragment = ""
	u.RawQuery = ""
	return ServerIdentity(strings.TrimRight(u.String(), "/")), nil
}

// String returns the canonical base URL.
func (s ServerIdentity) String() string { return string(s) }

// Envelope is the standard wrapper the server places around every
// JSON call result.
type Envelope[T any] struct {
	OK    bool   `json:"ok"`
	Data  T      `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

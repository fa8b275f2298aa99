package errors

import (
	"errors"
	"fmt"

	"github.com/nimbusvpn/provision/pkg/api"
)

// Sentinel errors for common cases
var (
	// ErrReauthorizationRequired signals that the stored credential for a
	// server can no longer be refreshed and the caller must restart the
	// authorization flow from the beginning.
	ErrReauthorizationRequired = errors.New("reauthorization required")

	// ErrFlowBusy is returned when a connection request arrives while a
	// prior negotiation for the same session is still in flight.
	ErrFlowBusy = errors.New("a negotiation is already in progress")

	// ErrSessionClosed is returned by operations on a closed session handle.
	ErrSessionClosed = errors.New("session is closed")

	// ErrUnknownCookie is returned when an external event carries a
	// correlation cookie that was never issued, was already consumed,
	// or was canceled.
	ErrUnknownCookie = errors.New("unknown or already consumed correlation cookie")

	// ErrNoPendingAuthorization is returned when an authorization result
	// arrives but no authorization is pending.
	ErrNoPendingAuthorization = errors.New("no pending authorization")
)

// StatusError represents a transport-level failure: a non-2xx response
// other than 401, or the body of one. Carries the status code and body
// text for diagnostics.
type StatusError struct {
	URL        string
	Code       int
	Body       string
	RetryAfter int // seconds, from the Retry-After header when present
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server returned status %d for %s", e.Code, e.URL)
}

// NewStatusError creates a new status error.
func NewStatusError(url string, code int, body string, retryAfter int) *StatusError {
	return &StatusError{URL: url, Code: code, Body: body, RetryAfter: retryAfter}
}

// UnauthorizedError represents a 401 response. Distinguished from
// StatusError because it drives re-authorization rather than generic
// failure reporting.
type UnauthorizedError struct {
	URL string
}

func (e *UnauthorizedError) Error() string {
	return fmt.Sprintf("server rejected the access token for %s", e.URL)
}

// NewUnauthorizedError creates a new unauthorized error.
func NewUnauthorizedError(url string) *UnauthorizedError {
	return &UnauthorizedError{URL: url}
}

// MalformedResponseError represents a parse or schema failure on an
// otherwise successful response.
type MalformedResponseError struct {
	URL     string
	Message string
	Err     error
}

func (e *MalformedResponseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed response from %s: %s: %v", e.URL, e.Message, e.Err)
	}
	return fmt.Sprintf("malformed response from %s: %s", e.URL, e.Message)
}

func (e *MalformedResponseError) Unwrap() error { return e.Err }

// NewMalformedResponseError creates a new malformed response error.
func NewMalformedResponseError(url, message string, err error) *MalformedResponseError {
	return &MalformedResponseError{URL: url, Message: message, Err: err}
}

// AuthorizationRejectedError represents a failed authorization attempt:
// a state-parameter mismatch on the redirect, a user-denied consent, or
// an explicit error from the authorization server. Fatal for the
// attempt; never retried silently.
type AuthorizationRejectedError struct {
	Reason string
}

func (e *AuthorizationRejectedError) Error() string {
	return fmt.Sprintf("authorization rejected: %s", e.Reason)
}

// NewAuthorizationRejectedError creates a new authorization rejected error.
func NewAuthorizationRejectedError(reason string) *AuthorizationRejectedError {
	return &AuthorizationRejectedError{Reason: reason}
}

// TokenExchangeError represents a failure to exchange an authorization
// code for tokens, including an exchange response with a missing or
// empty access token.
type TokenExchangeError struct {
	Message string
	Err     error
}

func (e *TokenExchangeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("token exchange failed: %s: %v", e.Message, e.Err)
	}
	return fmt.Sprintf("token exchange failed: %s", e.Message)
}

func (e *TokenExchangeError) Unwrap() error { return e.Err }

// NewTokenExchangeError creates a new token exchange error.
func NewTokenExchangeError(message string, err error) *TokenExchangeError {
	return &TokenExchangeError{Message: message, Err: err}
}

// KeyPairError represents a failure to create or persist a key pair.
// Fatal for the attempt; the caller may retry by invoking again, for
// example after re-authorization.
type KeyPairError struct {
	Stage   string // e.g. "create", "persist"
	Message string
	Err     error
}

func (e *KeyPairError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("key pair %s failed: %s: %v", e.Stage, e.Message, e.Err)
	}
	return fmt.Sprintf("key pair %s failed: %s", e.Stage, e.Message)
}

func (e *KeyPairError) Unwrap() error { return e.Err }

// NewKeyPairError creates a new key pair error.
func NewKeyPairError(stage, message string, err error) *KeyPairError {
	return &KeyPairError{Stage: stage, Message: message, Err: err}
}

// CertificateInvalidError represents a server-reported invalid client
// certificate. Terminal reasons require external intervention; all
// other reasons are recovered by evicting and regenerating the key pair.
type CertificateInvalidError struct {
	Reason string
}

func (e *CertificateInvalidError) Error() string {
	return fmt.Sprintf("certificate invalid: %s", e.Reason)
}

// Terminal reports whether the reason is terminal for the session,
// meaning no automatic regeneration is attempted.
func (e *CertificateInvalidError) Terminal() bool {
	return e.Reason == api.ReasonUserDisabled || e.Reason == api.ReasonCertificateDisabled
}

// NewCertificateInvalidError creates a new certificate invalid error.
func NewCertificateInvalidError(reason string) *CertificateInvalidError {
	return &CertificateInvalidError{Reason: reason}
}

// Package ssoerr defines the error taxonomy shared by the Alien SSO clients.
// Every failure surfaced by the SDK is one of these types (possibly wrapped), so callers
// can branch with errors.As or the Is* helpers instead of matching strings.
package ssoerr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ValidationError reports a malformed request or response shape. It is never retried.
type ValidationError struct {
	// Op names the operation that produced the payload, e.g. "authorize" or "poll".
	Op string
	// Field optionally names the offending field.
	Field string
	// Message is a human readable description of the failure.
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	if e == nil {
		return "alien sso: validation failed"
	}
	var b strings.Builder
	b.WriteString("alien sso: ")
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString("invalid ")
	if e.Field != "" {
		b.WriteString(e.Field)
	} else {
		b.WriteString("payload")
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ValidationError) Unwrap() error { return e.Err }

// AuthenticationError reports that the provider rejected credentials or a signature.
type AuthenticationError struct {
	Op         string
	Message    string
	HTTPStatus int
}

func (e *AuthenticationError) Error() string {
	if e == nil {
		return "alien sso: authentication failed"
	}
	msg := "alien sso: " + e.Op + ": authentication failed"
	if e.HTTPStatus != 0 {
		msg = fmt.Sprintf("%s (status %d)", msg, e.HTTPStatus)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

// StatusCode returns the HTTP status that triggered the error, or 0.
func (e *AuthenticationError) StatusCode() int {
	if e == nil {
		return 0
	}
	return e.HTTPStatus
}

// ProviderError reports a non-2xx answer from the identity provider.
type ProviderError struct {
	Op         string
	HTTPStatus int
	// Message is the provider supplied error description when one could be extracted.
	Message string
	Body    []byte
}

func (e *ProviderError) Error() string {
	if e == nil {
		return "alien sso: provider error"
	}
	msg := fmt.Sprintf("alien sso: %s failed with status %d", e.Op, e.HTTPStatus)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

// StatusCode returns the HTTP status returned by the provider.
func (e *ProviderError) StatusCode() int {
	if e == nil {
		return 0
	}
	return e.HTTPStatus
}

// NetworkError wraps a transport level failure (DNS, TLS, connection reset, timeout).
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	if e == nil {
		return "alien sso: network error"
	}
	return fmt.Sprintf("alien sso: %s request failed: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// MissingVerifierError is returned when a code exchange is attempted without a stored
// PKCE verifier, either because authorize never ran or because the verifier was consumed.
type MissingVerifierError struct{}

func (e *MissingVerifierError) Error() string {
	return "alien sso: missing code verifier, call Authorize first"
}

// statusCoder is implemented by errors carrying an HTTP status.
type statusCoder interface {
	StatusCode() int
}

// StatusCode extracts the HTTP status carried anywhere in the error chain.
func StatusCode(err error) int {
	var sc statusCoder
	if errors.As(err, &sc) {
		return sc.StatusCode()
	}
	return 0
}

// IsUnauthorized reports whether err signals an HTTP 401 or an explicit "Unauthorized" reply.
func IsUnauthorized(err error) bool {
	if err == nil {
		return false
	}
	if StatusCode(err) == http.StatusUnauthorized {
		return true
	}
	return strings.Contains(err.Error(), "Unauthorized")
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsMissingVerifier reports whether err is a MissingVerifierError.
func IsMissingVerifier(err error) bool {
	var v *MissingVerifierError
	return errors.As(err, &v)
}

// IsNetwork reports whether err is a transport level failure.
func IsNetwork(err error) bool {
	var v *NetworkError
	return errors.As(err, &v)
}

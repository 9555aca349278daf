package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
)

// Kind classifies provider failures.
type Kind string

const (
	KindUnauthorized      Kind = "unauthorized"
	KindRateLimited       Kind = "rate-limited"
	KindServerUnavailable Kind = "server-unavailable"
	KindMalformedResponse Kind = "malformed-response"
	KindNetworkFailure    Kind = "network-failure"
)

// ErrNoCredential is returned before any network activity when the config
// carries no credential.
var ErrNoCredential = errors.New("provider credential is not set")

// Error is the typed failure returned by the gateway.
type Error struct {
	Provider   ID
	Kind       Kind
	StatusCode int
	Detail     string
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("provider %s: %s (status %d): %s", e.Provider, e.Kind, e.StatusCode, e.Detail)
	}
	if e.Detail != "" {
		return fmt.Sprintf("provider %s: %s: %s", e.Provider, e.Kind, e.Detail)
	}
	return fmt.Sprintf("provider %s: %s", e.Provider, e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// KindForStatus maps a non-success HTTP status to a failure kind.
func KindForStatus(code int) Kind {
	switch {
	case code == http.StatusUnauthorized:
		return KindUnauthorized
	case code == http.StatusTooManyRequests:
		return KindRateLimited
	case code >= 500 && code <= 599:
		return KindServerUnavailable
	default:
		return KindMalformedResponse
	}
}

// KindOf extracts the failure kind from err, defaulting to malformed-response
// for errors that did not come from the gateway.
func KindOf(err error) Kind {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind
	}
	if isNetworkError(err) {
		return KindNetworkFailure
	}
	return KindMalformedResponse
}

func isNetworkError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Common error types for the parcel-delivery API client
var (
	// Token custody errors
	ErrNoToken        = errors.New("no access token available")
	ErrNoRefreshToken = errors.New("no refresh token available")
	ErrRefreshFailed  = errors.New("token refresh failed")

	// Session errors
	ErrUnauthorized   = errors.New("unauthorized")
	ErrSessionExpired = errors.New("session expired")
	ErrLoginFailed    = errors.New("login failed")
	ErrNotLoggedIn    = errors.New("not logged in")

	// Infrastructure errors
	ErrTransport = errors.New("transport error")
	ErrStorage   = errors.New("storage backend error")

	// General errors
	ErrNotFound    = errors.New("not found")
	ErrInternal    = errors.New("internal error")
	ErrUnsupported = errors.New("unsupported operation")
)

// APIError carries the HTTP status and the server's human-readable message
// for a failed API call. Message may be empty when the server returned no
// usable payload.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api error: status %d", e.Status)
	}
	return fmt.Sprintf("api error: status %d: %s", e.Status, e.Message)
}

// IsAuthorizationError reports whether err represents a 401/403 from the
// server, the class of failure that invalidates the session.
func IsAuthorizationError(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status == http.StatusUnauthorized || apiErr.Status == http.StatusForbidden
	}
	return errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrSessionExpired)
}

// IsTransportError reports whether err represents a failure where no HTTP
// response was reached. Transport errors are transient: cached session state
// is preserved and no forced logout occurs.
func IsTransportError(err error) bool {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return false
	}
	return errors.Is(err, ErrTransport)
}

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

// New returns an error that formats as the given text
func New(text string) error {
	return errors.New(text)
}

// Is reports whether any error in err's chain matches target
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

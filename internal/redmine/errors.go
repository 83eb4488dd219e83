package redmine

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotConfigured indicates that the tracker URL or API key is missing.
// There is no sensible fallback for an unconfigured account, so this is
// surfaced to the caller instead of being absorbed like other read errors.
var ErrNotConfigured = errors.New("issue tracker connection is not configured")

// AuthError indicates that authentication has failed for an account.
// It is returned when the tracker responds with 401.
type AuthError struct {
	AccountID string
	Message   string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth error (%s): %s", e.AccountID, e.Message)
}

// IsAuthError reports whether err (or any error in its chain) is an AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}

// ValidationError carries the tracker's field validation messages from a
// 422 response. The transport round-trip succeeded; the payload was
// rejected. It propagates to the caller so the messages can be displayed.
type ValidationError struct {
	Messages []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Messages, "; ")
}

// IsValidationError reports whether err wraps a ValidationError.
func IsValidationError(err error) bool {
	var valErr *ValidationError
	return errors.As(err, &valErr)
}

// Package identity wraps the Google OAuth flow: interactive token grants,
// profile lookups, freshness validation and best-effort revocation.
package identity

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthRequired is returned when no usable credential exists and the
	// caller asked for a non-interactive acquisition.
	ErrAuthRequired = errors.New("authentication required")
	// ErrAuthCancelled is returned when the user dismisses or denies the
	// interactive consent prompt.
	ErrAuthCancelled = errors.New("authentication cancelled")
	// ErrTokenExpired is returned when a cached credential failed
	// revalidation and was purged.
	ErrTokenExpired = errors.New("token expired")
)

// ProfileFetchError reports a non-2xx response from the profile endpoint.
type ProfileFetchError struct {
	Status int
}

func (e *ProfileFetchError) Error() string {
	return fmt.Sprintf("profile fetch failed: status %d", e.Status)
}

// Profile is the cached copy of the identity provider's userinfo payload.
type Profile struct {
	Email   string `json:"email"`
	Name    string `json:"name"`
	Picture string `json:"picture"`
}

// Scope sets. Mail sending needs elevated Gmail scopes and therefore a
// distinct credential from the general-purpose one.
var (
	GeneralScopes = []string{
		"https://www.googleapis.com/auth/userinfo.email",
		"https://www.googleapis.com/auth/userinfo.profile",
	}
	MailScopes = []string{
		"https://www.googleapis.com/auth/gmail.compose",
		"https://www.googleapis.com/auth/gmail.send",
		"https://www.googleapis.com/auth/gmail.modify",
		"https://www.googleapis.com/auth/userinfo.email",
		"https://www.googleapis.com/auth/userinfo.profile",
	}
)

// Endpoints holds the provider URLs. Overridable so tests can point the
// manager at local servers.
type Endpoints struct {
	Auth    string
	Token   string
	Profile string
	Revoke  string
}

func GoogleEndpoints() Endpoints {
	return Endpoints{
		Auth:    "https://accounts.google.com/o/oauth2/auth",
		Token:   "https://oauth2.googleapis.com/token",
		Profile: "https://www.googleapis.com/oauth2/v2/userinfo",
		Revoke:  "https://oauth2.googleapis.com/revoke",
	}
}

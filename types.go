package goSession

import (
	"context"

	"github.com/MrEthical07/goSession/session"
)

// User types recognized by the login response.
const (
	UserTypeSystem  = "System User"
	UserTypeWebsite = "Website User"
)

// Login response messages.
const (
	MessageLoggedIn      = "Logged In"
	MessageNoApp         = "No App"
	MessagePasswordReset = "Password Reset"
)

// Identity is a verified account returned by a [CredentialVerifier].
type Identity struct {
	User     string
	TenantID string
	FullName string
	UserType string
	Enabled  bool

	// LoginAfter and LoginBefore restrict logins to an hour range of the
	// server clock. Zero disables each bound.
	LoginAfter  int
	LoginBefore int

	// SecondFactor requires a code checked by the [SecondFactorVerifier].
	SecondFactor bool
	TOTPSecret   string

	// SimultaneousSessions overrides the server's concurrent-session limit
	// when positive.
	SimultaneousSessions int

	Language              string
	UserImage             string
	HomePage              string
	PasswordResetRequired bool
}

// CredentialVerifier checks a username and secret. Rejections must wrap
// [ErrInvalidCredentials]; any other error is treated as an infrastructure
// failure.
type CredentialVerifier interface {
	Verify(ctx context.Context, tenantID, user, secret string) (Identity, error)
}

// CredentialVerifierFunc adapts a function to [CredentialVerifier].
type CredentialVerifierFunc func(ctx context.Context, tenantID, user, secret string) (Identity, error)

func (f CredentialVerifierFunc) Verify(ctx context.Context, tenantID, user, secret string) (Identity, error) {
	return f(ctx, tenantID, user, secret)
}

// SecondFactorVerifier validates the one-time code of an identity that
// requires a second factor.
type SecondFactorVerifier interface {
	VerifyCode(ctx context.Context, id Identity, code string) (bool, error)
}

// GeoResolver maps client addresses to a country code for new sessions.
type GeoResolver = session.GeoResolver

// LoginRequest carries the submitted login form.
type LoginRequest struct {
	User     string
	Password string
	// OTP is the optional second-factor code.
	OTP    string
	Device session.Device
}

// LoginResult is returned by a successful [Engine.Login].
type LoginResult struct {
	Message    string
	RedirectTo string
	HomePage   string
	FullName   string
	Session    *session.Record
	// Evicted lists sessions closed by the concurrent-session policy.
	Evicted []string
}

// BootInfo is the payload served to clients on page load.
type BootInfo struct {
	User           string `json:"user"`
	FullName       string `json:"full_name,omitempty"`
	Language       string `json:"lang"`
	CSRFToken      string `json:"csrf_token,omitempty"`
	SessionExpired bool   `json:"session_expired"`
	Device         string `json:"device"`
}

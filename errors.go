package goSession

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/MrEthical07/goSession/csrf"
	"github.com/MrEthical07/goSession/internal/audit"
	"github.com/MrEthical07/goSession/internal/limiters"
	"github.com/MrEthical07/goSession/internal/rate"
	"github.com/MrEthical07/goSession/session"
)

var (
	// ErrIncompleteCredentials is returned when the identity or secret is missing.
	ErrIncompleteCredentials = errors.New("incomplete login details")
	// ErrInvalidCredentials is returned when the verifier rejects the secret.
	ErrInvalidCredentials = errors.New("invalid login credentials")
	// ErrSecurityLockout is matched by every [*LockoutError].
	ErrSecurityLockout = errors.New("too many failed login attempts")
	// ErrAuthenticationDenied covers disabled accounts and restricted login hours.
	ErrAuthenticationDenied = errors.New("authentication denied")
	// ErrCSRFToken is returned when the anti-forgery token does not match.
	ErrCSRFToken = errors.New("invalid request")
	// ErrSessionExpired marks a resume that degraded to Guest. It never aborts a request.
	ErrSessionExpired = errors.New("session expired")
	// ErrInfrastructure wraps cache and durable store failures. Callers may retry.
	ErrInfrastructure = errors.New("session backend unavailable")

	// ErrSecondFactorRequired is returned when the identity needs a code that was not sent.
	ErrSecondFactorRequired = errors.New("verification code required")
	// ErrSecondFactorInvalid is returned for a wrong second factor code.
	ErrSecondFactorInvalid = errors.New("invalid verification code")
	// ErrAccountDisabled is wrapped by ErrAuthenticationDenied.
	ErrAccountDisabled = errors.New("user disabled")
	// ErrRestrictedHours is wrapped by ErrAuthenticationDenied.
	ErrRestrictedHours = errors.New("login not allowed at this time")
	ErrEngineNotReady  = errors.New("engine not initialized")
	ErrHookAborted     = errors.New("login hook aborted")
)

// Kind classifies errors returned by the engine.
type Kind int

const (
	KindNone Kind = iota
	KindIncompleteCredentials
	KindInvalidCredentials
	KindSecurityLockout
	KindAuthenticationDenied
	KindCSRFTokenError
	KindSessionExpired
	KindInfrastructureError
)

var kindNames = map[Kind]string{
	KindNone:                  "none",
	KindIncompleteCredentials: "incomplete_credentials",
	KindInvalidCredentials:    "invalid_credentials",
	KindSecurityLockout:       "security_lockout",
	KindAuthenticationDenied:  "authentication_denied",
	KindCSRFTokenError:        "csrf_token_error",
	KindSessionExpired:        "session_expired",
	KindInfrastructureError:   "infrastructure_error",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// LockoutError reports a rejected login together with the time left before the
// identity may try again.
type LockoutError struct {
	RetryAfter time.Duration
}

func (e *LockoutError) Error() string {
	return fmt.Sprintf("%s, please try again in %s", ErrSecurityLockout, HumanDuration(e.RetryAfter))
}

func (e *LockoutError) Is(target error) bool {
	return target == ErrSecurityLockout
}

// KindOf maps err to a [Kind]. Unknown non-nil errors are infrastructure errors.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrIncompleteCredentials), errors.Is(err, ErrSecondFactorRequired):
		return KindIncompleteCredentials
	case errors.Is(err, ErrInvalidCredentials), errors.Is(err, ErrSecondFactorInvalid):
		return KindInvalidCredentials
	case errors.Is(err, ErrSecurityLockout), errors.Is(err, rate.ErrRateLimited):
		return KindSecurityLockout
	case errors.Is(err, ErrAuthenticationDenied), errors.Is(err, ErrAccountDisabled),
		errors.Is(err, ErrRestrictedHours), errors.Is(err, ErrHookAborted):
		return KindAuthenticationDenied
	case errors.Is(err, ErrCSRFToken), errors.Is(err, csrf.ErrTokenMismatch):
		return KindCSRFTokenError
	case errors.Is(err, ErrSessionExpired), errors.Is(err, session.ErrSessionGone):
		return KindSessionExpired
	default:
		return KindInfrastructureError
	}
}

// HTTPStatus returns the response status for err.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindNone, KindSessionExpired:
		return http.StatusOK
	case KindIncompleteCredentials, KindInvalidCredentials:
		return http.StatusUnauthorized
	case KindSecurityLockout:
		return http.StatusTooManyRequests
	case KindAuthenticationDenied:
		return http.StatusForbidden
	case KindCSRFTokenError:
		return http.StatusBadRequest
	default:
		return http.StatusServiceUnavailable
	}
}

// IsInfrastructure reports whether err came from an unreachable backend.
func IsInfrastructure(err error) bool {
	return errors.Is(err, ErrInfrastructure) ||
		errors.Is(err, session.ErrCacheUnavailable) ||
		errors.Is(err, session.ErrDurableUnavailable) ||
		errors.Is(err, limiters.ErrAttemptsUnavailable) ||
		errors.Is(err, limiters.ErrSecondFactorUnavailable) ||
		errors.Is(err, rate.ErrRedisUnavailable) ||
		errors.Is(err, audit.ErrAuditUnavailable)
}

// infraError tags err with ErrInfrastructure while keeping the original chain.
func infraError(err error) error {
	if err == nil || errors.Is(err, ErrInfrastructure) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrInfrastructure, err)
}

// HumanDuration renders d the way lockout messages show it, e.g. "4 minutes 5 seconds".
func HumanDuration(d time.Duration) string {
	d = d.Round(time.Second)
	if d < time.Second {
		d = time.Second
	}

	h := int(d / time.Hour)
	m := int(d % time.Hour / time.Minute)
	s := int(d % time.Minute / time.Second)

	var out string
	add := func(n int, unit string) {
		if n == 0 {
			return
		}
		if out != "" {
			out += " "
		}
		if n == 1 {
			out += fmt.Sprintf("1 %s", unit)
			return
		}
		out += fmt.Sprintf("%d %ss", n, unit)
	}
	add(h, "hour")
	add(m, "minute")
	add(s, "second")
	return out
}

package goSession

import (
	"context"

	"github.com/MrEthical07/goSession/cookie"
	"github.com/MrEthical07/goSession/session"
)

// RequestContext is the per-request authentication state. It is created by
// the request bootstrap and passed explicitly to the engine.
type RequestContext struct {
	TenantID string
	Language string
	ClientIP string
	Scheme   string
	Device   session.Device

	Session *session.Record
	Cookies *cookie.Jar

	// SessionExpired is set when the client presented a session that could
	// not be resumed.
	SessionExpired bool
	// SuppressTraceback asks the error writer to omit diagnostic detail.
	SuppressTraceback bool
	// ForceTouch makes the end-of-request touch write the durable row.
	ForceTouch bool
}

// IsGuest reports whether the request runs as Guest.
func (rc *RequestContext) IsGuest() bool {
	return rc == nil || rc.Session.IsGuest()
}

// User returns the session user, or "Guest".
func (rc *RequestContext) User() string {
	if rc.IsGuest() {
		return session.GuestID
	}
	return rc.Session.User
}

type requestContextKey struct{}

// WithRequestContext attaches rc to ctx.
func WithRequestContext(ctx context.Context, rc *RequestContext) context.Context {
	return context.WithValue(ctx, requestContextKey{}, rc)
}

// FromContext returns the [RequestContext] attached by [WithRequestContext].
func FromContext(ctx context.Context) (*RequestContext, bool) {
	if ctx == nil {
		return nil, false
	}
	rc, ok := ctx.Value(requestContextKey{}).(*RequestContext)
	return rc, ok && rc != nil
}

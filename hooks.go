package goSession

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/MrEthical07/goSession/session"
)

// LoginHook runs after credentials are verified and before a session is started.
type LoginHook func(ctx context.Context, id Identity) error

// SessionHook runs after a login session has been created. The record is a copy.
type SessionHook func(ctx context.Context, rec *session.Record, id Identity) error

// LogoutHook runs before a session is expired by [Engine.Logout]. The record
// is a copy.
type LogoutHook func(ctx context.Context, rec *session.Record) error

// HookOption configures a registered hook.
type HookOption func(*hookOptions)

type hookOptions struct {
	critical bool
}

// Critical makes a failing hook abort the operation. Failures of other hooks
// are logged and the remaining hooks still run.
func Critical() HookOption {
	return func(o *hookOptions) { o.critical = true }
}

type hook[F any] struct {
	name     string
	fn       F
	critical bool
}

func newHook[F any](name string, fn F, opts []HookOption) hook[F] {
	var o hookOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return hook[F]{name: name, fn: fn, critical: o.critical}
}

type hooks struct {
	login    []hook[LoginHook]
	sessions []hook[SessionHook]
	logout   []hook[LogoutHook]
}

func (h hooks) clone() hooks {
	return hooks{
		login:    append([]hook[LoginHook](nil), h.login...),
		sessions: append([]hook[SessionHook](nil), h.sessions...),
		logout:   append([]hook[LogoutHook](nil), h.logout...),
	}
}

// runHooks calls every hook in registration order. The first critical failure
// stops the run and is returned.
func runHooks[F any](ctx context.Context, event string, list []hook[F], call func(F) error) error {
	for _, h := range list {
		err := callHook(h, call)
		if err == nil {
			continue
		}

		zerolog.Ctx(ctx).Error().
			Err(err).
			Str("hook", h.name).
			Str("hook_event", event).
			Bool("critical", h.critical).
			Msg("hook failed")

		if h.critical {
			return fmt.Errorf("%s hook %q: %w", event, h.name, err)
		}
	}
	return nil
}

func callHook[F any](h hook[F], call func(F) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return call(h.fn)
}

func (h hooks) onLogin(ctx context.Context, id Identity) error {
	return runHooks(ctx, "on_login", h.login, func(fn LoginHook) error {
		return fn(ctx, id)
	})
}

func (h hooks) onSessionCreation(ctx context.Context, rec *session.Record, id Identity) error {
	return runHooks(ctx, "on_session_creation", h.sessions, func(fn SessionHook) error {
		return fn(ctx, rec.Clone(), id)
	})
}

func (h hooks) onLogout(ctx context.Context, rec *session.Record) error {
	return runHooks(ctx, "on_logout", h.logout, func(fn LogoutHook) error {
		return fn(ctx, rec.Clone())
	})
}

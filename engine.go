package goSession

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/MrEthical07/goSession/cookie"
	"github.com/MrEthical07/goSession/csrf"
	"github.com/MrEthical07/goSession/internal"
	"github.com/MrEthical07/goSession/internal/audit"
	"github.com/MrEthical07/goSession/internal/flows"
	"github.com/MrEthical07/goSession/internal/limiters"
	"github.com/MrEthical07/goSession/internal/rate"
	"github.com/MrEthical07/goSession/session"
)

// Display cookies set on login. They carry no trust weight.
const (
	CookieUserID     = "user_id"
	CookieFullName   = "full_name"
	CookieSystemUser = "system_user"
	CookieUserImage  = "user_image"
)

var displayCookies = []string{CookieUserID, CookieFullName, CookieSystemUser, CookieUserImage}

// Engine runs logins and the per-request session lifecycle.
//
// Engine instances are created by [Builder.Build] and are safe for concurrent use.
type Engine struct {
	config   Config
	store    *session.Store
	tracker  *limiters.AttemptTracker
	ipLimit  *rate.Limiter
	otpLimit *limiters.SecondFactorLimiter
	audit    *audit.Dispatcher
	auditDB  *audit.SQLSink
	metrics  *Metrics
	verifier CredentialVerifier
	second   SecondFactorVerifier
	hooks    hooks
	csrf     csrf.Gate
	now      func() time.Time
}

// Config returns a copy of the engine configuration.
func (e *Engine) Config() Config {
	return cloneConfig(e.config)
}

// Metrics returns the engine counters. Register it with a Prometheus
// registry to export them.
func (e *Engine) Metrics() *Metrics {
	return e.metrics
}

// AuditDropped returns the number of audit events dropped under backpressure.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

// Close drains the audit dispatcher.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.audit.Close()
}

// Ping checks the session cache and durable store.
func (e *Engine) Ping(ctx context.Context) error {
	if _, err := e.store.Ping(ctx); err != nil {
		return infraError(err)
	}
	return nil
}

func (e *Engine) metricInc(id MetricID) {
	e.metrics.Inc(id)
}

func (e *Engine) emit(ctx context.Context, ev audit.Event) {
	e.audit.Emit(ctx, ev)
}

/*
====================================
LOGIN
====================================
*/

// Login authenticates req and, on success, replaces rc.Session with the new
// session and stages the session and display cookies in rc.Cookies.
//
// Rejections return one of the package sentinels; lockouts return a
// [*LockoutError]. Every attempt is audited before Login returns.
func (e *Engine) Login(ctx context.Context, rc *RequestContext, req LoginRequest) (*LoginResult, error) {
	if e == nil || rc == nil {
		return nil, ErrEngineNotReady
	}

	device := req.Device
	if device == "" {
		device = rc.Device
	}
	if device == "" {
		device = session.DeviceDesktop
	}

	in := flows.LoginInput{
		TenantID: rc.TenantID,
		User:     req.User,
		Password: req.Password,
		OTP:      req.OTP,
		ClientIP: rc.ClientIP,
		Device:   device,
	}

	out, err := flows.RunLogin(ctx, in, e.loginDeps(rc))
	if err != nil {
		return nil, err
	}

	id, _ := out.Identity.Ext.(Identity)
	rc.Session = out.Session
	rc.Device = out.Session.Device
	rc.SessionExpired = false
	if id.Language != "" {
		rc.Language = id.Language
	}

	res := &LoginResult{
		FullName: id.FullName,
		Session:  out.Session,
		Evicted:  out.Evicted,
	}
	switch {
	case id.PasswordResetRequired:
		res.Message = MessagePasswordReset
		res.RedirectTo = e.config.Login.PasswordResetPath
	case id.UserType == UserTypeWebsite:
		res.Message = MessageNoApp
		res.HomePage = firstNonEmpty(id.HomePage, e.config.Login.WebsiteHome)
	default:
		res.Message = MessageLoggedIn
		res.HomePage = firstNonEmpty(id.HomePage, e.config.Login.DeskHome)
	}

	return res, nil
}

func (e *Engine) loginDeps(rc *RequestContext) flows.LoginDeps {
	deps := flows.LoginDeps{
		LockoutEnabled: e.config.Lockout.Enabled,
		Now:            e.now,

		IsAllowed: e.tracker.IsAllowed,
		RecordFailure: func(ctx context.Context, tenantID, user string) (bool, error) {
			st, err := e.tracker.RecordFailure(ctx, tenantID, user)
			if err != nil {
				return false, err
			}
			return e.tracker.Locks(st), nil
		},
		RecordSuccess: e.tracker.RecordSuccess,

		IPLimited: rate.ErrRateLimited,

		Verify: func(ctx context.Context, tenantID, user, secret string) (flows.LoginIdentity, error) {
			id, err := e.verifier.Verify(ctx, tenantID, user, secret)
			if err != nil {
				return flows.LoginIdentity{}, err
			}
			if id.TenantID == "" {
				id.TenantID = tenantID
			}
			if id.User == "" {
				id.User = user
			}
			return toFlowIdentity(id), nil
		},
		VerifySecondFactor: func(ctx context.Context, id flows.LoginIdentity, code string) (bool, error) {
			return e.second.VerifyCode(ctx, fromFlowIdentity(id), code)
		},
		CheckSecondFactor:         e.otpLimit.Check,
		RecordSecondFactorFailure: e.otpLimit.RecordFailure,
		ResetSecondFactor:         e.otpLimit.Reset,
		SecondFactorLimited:       limiters.ErrSecondFactorLimited,

		OnLogin: func(ctx context.Context, id flows.LoginIdentity) error {
			return e.hooks.onLogin(ctx, fromFlowIdentity(id))
		},
		StartSession: func(ctx context.Context, in flows.LoginInput, id flows.LoginIdentity) (*session.Record, error) {
			data := map[string]any{
				session.DataFullName: id.FullName,
				session.DataUserType: id.UserType,
			}
			if id.Language != "" {
				data[session.DataLanguage] = id.Language
			}
			return e.store.Start(ctx, session.StartInput{
				TenantID: in.TenantID,
				User:     id.User,
				Device:   in.Device,
				ClientIP: in.ClientIP,
				Data:     data,
			})
		},
		SessionLimit: e.sessionLimit,
		EvictSessions: func(ctx context.Context, tenantID, user string, opts session.EvictOptions) ([]string, error) {
			evicted, err := e.store.EvictAll(ctx, tenantID, user, opts)
			for _, sid := range evicted {
				e.emit(ctx, audit.Event{
					EventType: audit.EventSessionEvicted,
					Identity:  user,
					TenantID:  tenantID,
					SessionID: internal.MaskSecret(sid),
					IP:        rc.ClientIP,
					Success:   true,
					Reason:    "concurrent_session_limit",
				})
			}
			return evicted, err
		},
		OnSessionCreation: func(ctx context.Context, rec *session.Record, id flows.LoginIdentity) error {
			return e.hooks.onSessionCreation(ctx, rec, fromFlowIdentity(id))
		},
		ExpireSession: e.store.Expire,
		StageCookies: func(_ context.Context, rec *session.Record, id flows.LoginIdentity) {
			e.stageLoginCookies(rc, rec, fromFlowIdentity(id))
		},

		RecordAudit: e.recordLogin,
		MetricInc:   func(id int) { e.metricInc(MetricID(id)) },

		Metrics: flows.LoginMetrics{
			Success:             int(MetricLoginSuccess),
			InvalidCredentials:  int(MetricLoginInvalidCredentials),
			Incomplete:          int(MetricLoginIncomplete),
			LockedOut:           int(MetricLoginLockedOut),
			Denied:              int(MetricLoginDenied),
			SecondFactorFailure: int(MetricLoginSecondFactorFailure),
			Infrastructure:      int(MetricLoginInfrastructureError),
			SessionCreated:      int(MetricSessionCreated),
			SessionEvicted:      int(MetricSessionEvicted),
			LockoutTriggered:    int(MetricLockoutTriggered),
		},
		Errors: flows.LoginErrors{
			EngineNotReady:        ErrEngineNotReady,
			IncompleteCredentials: ErrIncompleteCredentials,
			InvalidCredentials:    ErrInvalidCredentials,
			SecondFactorRequired:  ErrSecondFactorRequired,
			SecondFactorInvalid:   ErrSecondFactorInvalid,
			AuthenticationDenied:  ErrAuthenticationDenied,
			AccountDisabled:       ErrAccountDisabled,
			RestrictedHours:       ErrRestrictedHours,
			HookAborted:           ErrHookAborted,
			Infrastructure:        infraError,
			Lockout: func(retryAfter time.Duration) error {
				return &LockoutError{RetryAfter: retryAfter}
			},
		},
	}

	if e.config.IPThrottle.Enabled {
		deps.CheckIP = e.ipLimit.Check
		deps.IncrementIP = e.ipLimit.Increment
	}

	return deps
}

// sessionLimit resolves how many concurrent sessions id may keep. A positive
// per-identity value only applies while the server enforces a limit.
func (e *Engine) sessionLimit(id flows.LoginIdentity) flows.SessionLimit {
	cfg := e.config.Session

	allowed := 0
	switch {
	case id.SimultaneousSessions > 0 && (cfg.DenyMultipleSessions || cfg.AllowedConcurrentSessions > 0):
		allowed = id.SimultaneousSessions
	case cfg.DenyMultipleSessions:
		allowed = 1
	case cfg.AllowedConcurrentSessions > 0:
		allowed = cfg.AllowedConcurrentSessions
	}

	return flows.SessionLimit{Enforce: allowed > 0, Allowed: allowed, PerDevice: cfg.LimitPerDevice}
}

// recordLogin writes a login outcome to the durable audit table before the
// flow returns and forwards it to the configured sink.
func (e *Engine) recordLogin(ctx context.Context, entry flows.LoginAuditEntry) error {
	ev := audit.Event{
		EventType: audit.EventLoginFailure,
		Identity:  entry.Identity,
		TenantID:  entry.TenantID,
		SessionID: internal.MaskSecret(entry.SessionID),
		IP:        entry.IP,
		Success:   entry.Success,
		Reason:    entry.Reason,
		Metadata:  map[string]string{"state": entry.State.String()},
	}
	if entry.Success {
		ev.EventType = audit.EventLoginSuccess
	}
	ev.Normalize(e.now())

	e.emit(ctx, ev)

	if !e.config.Audit.Durable {
		return nil
	}
	return e.auditDB.Record(ctx, ev)
}

/*
====================================
COOKIES
====================================
*/

func (e *Engine) cookieOptions(expires time.Time, httpOnly bool) cookie.Options {
	opts := cookie.Options{
		Expires:  expires,
		HTTPOnly: httpOnly,
		Domain:   e.config.Cookie.Domain,
	}
	if e.config.Cookie.ForceSecure {
		secure := true
		opts.Secure = &secure
	}
	return opts
}

func (e *Engine) stageLoginCookies(rc *RequestContext, rec *session.Record, id Identity) {
	jar := rc.Cookies
	if jar == nil {
		return
	}
	jar.SetMobile(rec.Device == session.DeviceMobile)

	expires := rec.LastUpdated.Add(e.store.Window(rec))
	jar.Set(e.config.Cookie.SessionName, rec.SessionID, e.cookieOptions(expires, true))

	if !e.config.Cookie.DisplayCookies {
		return
	}
	systemUser := "no"
	if id.UserType == UserTypeSystem || id.UserType == "" {
		systemUser = "yes"
	}
	display := e.cookieOptions(expires, false)
	jar.Set(CookieSystemUser, systemUser, display)
	jar.Set(CookieFullName, id.FullName, display)
	jar.Set(CookieUserID, id.User, display)
	jar.Set(CookieUserImage, id.UserImage, display)
}

// stageGuestCookies resets sid to Guest and removes the display cookies.
func (e *Engine) stageGuestCookies(rc *RequestContext) {
	if rc.Cookies == nil {
		return
	}
	rc.Cookies.Set(e.config.Cookie.SessionName, session.GuestID, e.cookieOptions(time.Time{}, true))
	rc.Cookies.Delete(e.cookieOptions(time.Time{}, false), displayCookies...)
}

/*
====================================
REQUEST LIFECYCLE
====================================
*/

// Resume loads sid into rc. A missing, malformed or expired session leaves
// rc running as Guest with SessionExpired set; only backend failures are
// returned.
func (e *Engine) Resume(ctx context.Context, rc *RequestContext, sid string) error {
	res, err := e.store.Resume(ctx, rc.TenantID, sid)
	if err != nil {
		return infraError(err)
	}

	rc.Session = res.Record
	rc.SessionExpired = res.Expired

	if res.Expired {
		e.metricInc(MetricSessionExpired)
		e.emit(ctx, audit.Event{
			EventType: audit.EventSessionExpired,
			TenantID:  rc.TenantID,
			SessionID: internal.MaskSecret(sid),
			IP:        rc.ClientIP,
		})
		e.stageGuestCookies(rc)
		return nil
	}
	if res.Record.IsGuest() {
		return nil
	}

	e.metricInc(MetricSessionResumed)
	rc.Device = res.Record.Device
	if rc.Cookies != nil {
		rc.Cookies.SetMobile(rc.Device == session.DeviceMobile)
	}
	return nil
}

// Touch refreshes the current session at the end of a request. It reports
// whether the durable row was written. A session that disappeared in the
// meantime degrades rc to Guest.
func (e *Engine) Touch(ctx context.Context, rc *RequestContext) (bool, error) {
	if rc.IsGuest() {
		return false, nil
	}

	wrote, err := e.store.Touch(ctx, rc.Session, rc.ForceTouch)
	if errors.Is(err, session.ErrSessionGone) {
		zerolog.Ctx(ctx).Info().
			Str(internal.LogUserName, rc.Session.User).
			Str(internal.LogSessionID, internal.MaskSecret(rc.Session.SessionID)).
			Msg("session removed during request")

		rc.Session = session.Guest(rc.TenantID, e.now())
		rc.SessionExpired = true
		e.stageGuestCookies(rc)
		return false, nil
	}
	if wrote {
		e.metricInc(MetricDurableWrite)
	}
	if err != nil {
		return wrote, infraError(err)
	}

	rc.ForceTouch = false
	return wrote, nil
}

// ValidateCSRF runs the anti-forgery gate for r. On mismatch rc is flagged to
// suppress diagnostic detail and an error matching [ErrCSRFToken] is returned.
func (e *Engine) ValidateCSRF(ctx context.Context, rc *RequestContext, r *http.Request) error {
	if err := e.csrf.Validate(rc.Session, r); err != nil {
		rc.SuppressTraceback = true
		e.metricInc(MetricCSRFRejected)
		e.emit(ctx, audit.Event{
			EventType: audit.EventCSRFRejected,
			Identity:  rc.User(),
			TenantID:  rc.TenantID,
			IP:        rc.ClientIP,
			Metadata:  map[string]string{"method": r.Method, "path": r.URL.Path},
		})
		zerolog.Ctx(ctx).Warn().
			Str(internal.LogUserName, rc.User()).
			Str("path", r.URL.Path).
			Msg("csrf token rejected")

		return fmt.Errorf("%w: %w", ErrCSRFToken, err)
	}
	return nil
}

// Boot returns the payload clients fetch on page load. The session's CSRF
// token is generated on first use, which forces a durable touch.
func (e *Engine) Boot(ctx context.Context, rc *RequestContext) (BootInfo, error) {
	info := BootInfo{
		User:           rc.User(),
		Language:       rc.Language,
		SessionExpired: rc.SessionExpired,
		Device:         string(session.DeviceDesktop),
	}
	if rc.Device != "" {
		info.Device = string(rc.Device)
	}
	if rc.IsGuest() {
		return info, nil
	}

	info.FullName = rc.Session.String(session.DataFullName)

	tok, created, err := csrf.EnsureToken(rc.Session)
	if err != nil {
		return BootInfo{}, fmt.Errorf("generate csrf token: %w", err)
	}
	if created {
		rc.ForceTouch = true
	}
	info.CSRFToken = tok

	return info, nil
}

/*
====================================
LOGOUT
====================================
*/

// Logout ends the current session. on_logout hooks run first; a critical hook
// failure leaves the session in place.
func (e *Engine) Logout(ctx context.Context, rc *RequestContext) error {
	if rc.IsGuest() {
		e.stageGuestCookies(rc)
		return nil
	}
	rec := rc.Session

	if err := e.hooks.onLogout(ctx, rec); err != nil {
		return fmt.Errorf("%w: %w", ErrHookAborted, err)
	}
	if err := e.store.Expire(ctx, rec.TenantID, rec.SessionID); err != nil {
		return infraError(err)
	}

	e.metricInc(MetricLogout)
	e.emit(ctx, audit.Event{
		EventType: audit.EventLogout,
		Identity:  rec.User,
		TenantID:  rec.TenantID,
		SessionID: internal.MaskSecret(rec.SessionID),
		IP:        rc.ClientIP,
		Success:   true,
	})
	zerolog.Ctx(ctx).Info().Str(internal.LogUserName, rec.User).Msg("logged out")

	rc.Session = session.Guest(rc.TenantID, e.now())
	rc.ForceTouch = false
	e.stageGuestCookies(rc)
	return nil
}

// LogoutAll expires every session of user in tenantID and returns the
// expired ids.
func (e *Engine) LogoutAll(ctx context.Context, tenantID, user string) ([]string, error) {
	evicted, err := e.store.EvictAll(ctx, tenantID, user, session.EvictOptions{})
	if err != nil {
		return nil, infraError(err)
	}

	for range evicted {
		e.metricInc(MetricLogout)
	}
	e.emit(ctx, audit.Event{
		EventType: audit.EventLogoutAll,
		Identity:  user,
		TenantID:  tenantID,
		Success:   true,
		Metadata:  map[string]string{"sessions": fmt.Sprint(len(evicted))},
	})

	return evicted, nil
}

/*
====================================
MAINTENANCE
====================================
*/

// SweepExpired deletes durable session rows past their expiry window.
func (e *Engine) SweepExpired(ctx context.Context) (int64, error) {
	n, err := e.store.DeleteExpired(ctx)
	if err != nil {
		return 0, infraError(err)
	}
	if n > 0 {
		zerolog.Ctx(ctx).Info().Int64("deleted", n).Msg("expired sessions swept")
	}
	return n, nil
}

// RecentLogins returns the newest audited events for identity.
func (e *Engine) RecentLogins(ctx context.Context, tenantID, identity string, limit int) ([]AuditRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := e.auditDB.Recent(ctx, normalizeTenant(tenantID), identity, limit)
	if err != nil {
		return nil, infraError(err)
	}
	return rows, nil
}

/*
====================================
HELPERS
====================================
*/

func toFlowIdentity(id Identity) flows.LoginIdentity {
	return flows.LoginIdentity{
		User:                  id.User,
		FullName:              id.FullName,
		UserType:              id.UserType,
		Enabled:               id.Enabled,
		LoginAfter:            id.LoginAfter,
		LoginBefore:           id.LoginBefore,
		SecondFactor:          id.SecondFactor,
		SimultaneousSessions:  id.SimultaneousSessions,
		Language:              id.Language,
		UserImage:             id.UserImage,
		HomePage:              id.HomePage,
		PasswordResetRequired: id.PasswordResetRequired,
		Ext:                   id,
	}
}

// fromFlowIdentity returns the host identity carried through the flow.
func fromFlowIdentity(id flows.LoginIdentity) Identity {
	if v, ok := id.Ext.(Identity); ok {
		return v
	}
	return Identity{
		User:     id.User,
		FullName: id.FullName,
		UserType: id.UserType,
		Enabled:  id.Enabled,
	}
}

func normalizeTenant(tenantID string) string {
	if tenantID == "" {
		return "default"
	}
	return tenantID
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

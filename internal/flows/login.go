package flows

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/MrEthical07/goSession/internal"
	"github.com/MrEthical07/goSession/session"
)

// LoginState is a step of the login state machine.
type LoginState int

const (
	StateStart LoginState = iota
	StateCheckingLockout
	StateVerifyingCredentials
	StateSecondFactor
	StateEstablishingSession
	StateDone
	StateRejected
)

func (s LoginState) String() string {
	switch s {
	case StateStart:
		return "START"
	case StateCheckingLockout:
		return "CHECKING_LOCKOUT"
	case StateVerifyingCredentials:
		return "VERIFYING_CREDENTIALS"
	case StateSecondFactor:
		return "SECOND_FACTOR"
	case StateEstablishingSession:
		return "ESTABLISHING_SESSION"
	case StateDone:
		return "DONE"
	case StateRejected:
		return "REJECTED"
	default:
		return fmt.Sprintf("LoginState(%d)", int(s))
	}
}

// Audit reasons recorded for login outcomes.
const (
	ReasonIncomplete          = "incomplete_credentials"
	ReasonLockout             = "security_lockout"
	ReasonIPThrottled         = "ip_throttled"
	ReasonInvalidCredentials  = "invalid_credentials"
	ReasonSecondFactorMissing = "second_factor_required"
	ReasonSecondFactorInvalid = "second_factor_invalid"
	ReasonSecondFactorLimited = "second_factor_limited"
	ReasonAccountDisabled     = "account_disabled"
	ReasonRestrictedHours     = "restricted_hours"
	ReasonHookAborted         = "hook_aborted"
	ReasonInfrastructure      = "infrastructure_error"
)

// LoginIdentity is the flow-local view of a verified account.
type LoginIdentity struct {
	User                  string
	FullName              string
	UserType              string
	Enabled               bool
	LoginAfter            int
	LoginBefore           int
	SecondFactor          bool
	SimultaneousSessions  int
	Language              string
	UserImage             string
	HomePage              string
	PasswordResetRequired bool
	// Ext carries the host's own identity value through the flow untouched.
	Ext any
}

// LoginInput is one submitted login.
type LoginInput struct {
	TenantID string
	User     string
	Password string
	OTP      string
	ClientIP string
	Device   session.Device
}

// LoginAuditEntry is written before the flow returns.
type LoginAuditEntry struct {
	TenantID  string
	Identity  string
	IP        string
	SessionID string
	Success   bool
	Reason    string
	State     LoginState
}

// LoginOutcome describes how the flow ended.
type LoginOutcome struct {
	State      LoginState
	Trace      []LoginState
	Identity   LoginIdentity
	Session    *session.Record
	Evicted    []string
	RetryAfter time.Duration
	Reason     string
}

// LoginMetrics carries metric IDs needed by the login flow.
type LoginMetrics struct {
	Success             int
	InvalidCredentials  int
	Incomplete          int
	LockedOut           int
	Denied              int
	SecondFactorFailure int
	Infrastructure      int
	SessionCreated      int
	SessionEvicted      int
	LockoutTriggered    int
}

// LoginErrors carries host-level sentinel errors used by the login flow.
type LoginErrors struct {
	EngineNotReady        error
	IncompleteCredentials error
	InvalidCredentials    error
	SecondFactorRequired  error
	SecondFactorInvalid   error
	AuthenticationDenied  error
	AccountDisabled       error
	RestrictedHours       error
	HookAborted           error
	Infrastructure        func(error) error
	Lockout               func(retryAfter time.Duration) error
}

// SessionLimit is the concurrent-session policy for one identity.
type SessionLimit struct {
	Enforce bool
	Allowed int
	// Device restricts counting to the new session's device class.
	PerDevice bool
}

// LoginDeps captures login dependencies.
type LoginDeps struct {
	LockoutEnabled bool
	Now            func() time.Time

	IsAllowed     func(ctx context.Context, tenantID, user string) (bool, time.Duration, error)
	RecordFailure func(ctx context.Context, tenantID, user string) (bool, error)
	RecordSuccess func(ctx context.Context, tenantID, user string) error

	CheckIP     func(ctx context.Context, tenantID, ip string) (time.Duration, error)
	IncrementIP func(ctx context.Context, tenantID, ip string) error
	IPLimited   error

	Verify             func(ctx context.Context, tenantID, user, secret string) (LoginIdentity, error)
	VerifySecondFactor func(ctx context.Context, id LoginIdentity, code string) (bool, error)

	// Second-factor guessing limit, kept apart from the attempt tracker.
	CheckSecondFactor         func(ctx context.Context, tenantID, user string) (time.Duration, error)
	RecordSecondFactorFailure func(ctx context.Context, tenantID, user string) (bool, error)
	ResetSecondFactor         func(ctx context.Context, tenantID, user string) error
	SecondFactorLimited       error

	OnLogin           func(ctx context.Context, id LoginIdentity) error
	StartSession      func(ctx context.Context, in LoginInput, id LoginIdentity) (*session.Record, error)
	SessionLimit      func(id LoginIdentity) SessionLimit
	EvictSessions     func(ctx context.Context, tenantID, user string, opts session.EvictOptions) ([]string, error)
	OnSessionCreation func(ctx context.Context, rec *session.Record, id LoginIdentity) error
	ExpireSession     func(ctx context.Context, tenantID, sessionID string) error
	StageCookies      func(ctx context.Context, rec *session.Record, id LoginIdentity)

	RecordAudit func(ctx context.Context, entry LoginAuditEntry) error
	MetricInc   func(int)

	Metrics LoginMetrics
	Errors  LoginErrors
}

type loginRun struct {
	deps    LoginDeps
	in      LoginInput
	out     LoginOutcome
	logger  *zerolog.Logger
	started time.Time
}

func (r *loginRun) enter(s LoginState) {
	r.out.State = s
	r.out.Trace = append(r.out.Trace, s)
}

func (r *loginRun) audit(ctx context.Context, success bool, reason string) {
	if r.deps.RecordAudit == nil {
		return
	}
	entry := LoginAuditEntry{
		TenantID: r.in.TenantID,
		Identity: r.in.User,
		IP:       r.in.ClientIP,
		Success:  success,
		Reason:   reason,
		State:    r.out.State,
	}
	if r.out.Session != nil {
		entry.SessionID = r.out.Session.SessionID
	}
	if err := r.deps.RecordAudit(ctx, entry); err != nil {
		r.logger.Error().Err(err).Str(internal.LogUserName, r.in.User).Msg("login audit write failed")
	}
}

// reject moves the run to REJECTED, writes the audit row and returns err.
func (r *loginRun) reject(ctx context.Context, reason string, metric int, err error) (*LoginOutcome, error) {
	failedIn := r.out.State
	r.enter(StateRejected)
	r.out.Reason = reason
	r.deps.MetricInc(metric)
	r.audit(ctx, false, reason)

	r.logger.Info().
		Str(internal.LogUserName, r.in.User).
		Str(internal.LogAuthResult, reason).
		Stringer("state", failedIn).
		Msg("login rejected")

	return &r.out, err
}

func (r *loginRun) infra(ctx context.Context, err error) (*LoginOutcome, error) {
	if r.deps.Errors.Infrastructure != nil {
		err = r.deps.Errors.Infrastructure(err)
	}
	return r.reject(ctx, ReasonInfrastructure, r.deps.Metrics.Infrastructure, err)
}

// RunLogin drives START through DONE or REJECTED. The returned outcome is
// non-nil whenever the flow ran, including rejections.
func RunLogin(ctx context.Context, in LoginInput, deps LoginDeps) (*LoginOutcome, error) {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.MetricInc == nil {
		deps.MetricInc = func(int) {}
	}
	if deps.Verify == nil || deps.StartSession == nil {
		return nil, deps.Errors.EngineNotReady
	}

	r := &loginRun{deps: deps, in: in, logger: zerolog.Ctx(ctx), started: deps.Now()}
	r.in.User = strings.TrimSpace(in.User)

	// START
	r.enter(StateStart)
	if r.in.User == "" || in.Password == "" {
		return r.reject(ctx, ReasonIncomplete, deps.Metrics.Incomplete, deps.Errors.IncompleteCredentials)
	}
	if r.in.User == session.GuestID {
		return r.reject(ctx, ReasonInvalidCredentials, deps.Metrics.InvalidCredentials, deps.Errors.InvalidCredentials)
	}

	// CHECKING_LOCKOUT
	r.enter(StateCheckingLockout)
	if deps.LockoutEnabled && deps.IsAllowed != nil {
		ok, retryAfter, err := deps.IsAllowed(ctx, in.TenantID, r.in.User)
		if err != nil {
			return r.infra(ctx, err)
		}
		if !ok {
			r.out.RetryAfter = retryAfter
			return r.reject(ctx, ReasonLockout, deps.Metrics.LockedOut, deps.Errors.Lockout(retryAfter))
		}
	}
	if deps.CheckIP != nil {
		retryAfter, err := deps.CheckIP(ctx, in.TenantID, in.ClientIP)
		switch {
		case err != nil && deps.IPLimited != nil && errors.Is(err, deps.IPLimited):
			r.out.RetryAfter = retryAfter
			return r.reject(ctx, ReasonIPThrottled, deps.Metrics.LockedOut, deps.Errors.Lockout(retryAfter))
		case err != nil:
			return r.infra(ctx, err)
		}
	}

	// VERIFYING_CREDENTIALS
	r.enter(StateVerifyingCredentials)
	id, err := deps.Verify(ctx, in.TenantID, r.in.User, in.Password)
	if err != nil {
		if !errors.Is(err, deps.Errors.InvalidCredentials) {
			return r.infra(ctx, err)
		}
		if deps.LockoutEnabled && deps.RecordFailure != nil {
			locked, ferr := deps.RecordFailure(ctx, in.TenantID, r.in.User)
			if ferr != nil {
				r.logger.Error().Err(ferr).Str(internal.LogUserName, r.in.User).Msg("record login failure")
			} else if locked {
				deps.MetricInc(deps.Metrics.LockoutTriggered)
			}
		}
		if deps.IncrementIP != nil {
			if ierr := deps.IncrementIP(ctx, in.TenantID, in.ClientIP); ierr != nil {
				r.logger.Error().Err(ierr).Msg("record ip failure")
			}
		}
		return r.reject(ctx, ReasonInvalidCredentials, deps.Metrics.InvalidCredentials, deps.Errors.InvalidCredentials)
	}
	if id.User == "" {
		id.User = r.in.User
	}
	r.out.Identity = id
	if deps.LockoutEnabled && deps.RecordSuccess != nil {
		if err := deps.RecordSuccess(ctx, in.TenantID, r.in.User); err != nil {
			return r.infra(ctx, err)
		}
	}

	// SECOND_FACTOR
	if id.SecondFactor {
		r.enter(StateSecondFactor)
		if strings.TrimSpace(in.OTP) == "" {
			return r.reject(ctx, ReasonSecondFactorMissing, deps.Metrics.SecondFactorFailure, deps.Errors.SecondFactorRequired)
		}
		if deps.VerifySecondFactor == nil {
			return r.infra(ctx, deps.Errors.EngineNotReady)
		}
		if deps.CheckSecondFactor != nil {
			retryAfter, err := deps.CheckSecondFactor(ctx, in.TenantID, id.User)
			switch {
			case err != nil && deps.SecondFactorLimited != nil && errors.Is(err, deps.SecondFactorLimited):
				r.out.RetryAfter = retryAfter
				return r.reject(ctx, ReasonSecondFactorLimited, deps.Metrics.LockedOut, deps.Errors.Lockout(retryAfter))
			case err != nil:
				return r.infra(ctx, err)
			}
		}
		ok, err := deps.VerifySecondFactor(ctx, id, strings.TrimSpace(in.OTP))
		if err != nil {
			return r.infra(ctx, err)
		}
		if !ok {
			if deps.RecordSecondFactorFailure != nil {
				limited, ferr := deps.RecordSecondFactorFailure(ctx, in.TenantID, id.User)
				if ferr != nil {
					r.logger.Error().Err(ferr).Str(internal.LogUserName, id.User).Msg("record second factor failure")
				} else if limited {
					deps.MetricInc(deps.Metrics.LockoutTriggered)
				}
			}
			return r.reject(ctx, ReasonSecondFactorInvalid, deps.Metrics.SecondFactorFailure, deps.Errors.SecondFactorInvalid)
		}
		if deps.ResetSecondFactor != nil {
			if err := deps.ResetSecondFactor(ctx, in.TenantID, id.User); err != nil {
				return r.infra(ctx, err)
			}
		}
	}

	// ESTABLISHING_SESSION
	r.enter(StateEstablishingSession)
	if !id.Enabled {
		return r.reject(ctx, ReasonAccountDisabled, deps.Metrics.Denied,
			fmt.Errorf("%w: %w", deps.Errors.AuthenticationDenied, deps.Errors.AccountDisabled))
	}
	if outsideLoginHours(id, r.started) {
		return r.reject(ctx, ReasonRestrictedHours, deps.Metrics.Denied,
			fmt.Errorf("%w: %w", deps.Errors.AuthenticationDenied, deps.Errors.RestrictedHours))
	}
	if deps.OnLogin != nil {
		if err := deps.OnLogin(ctx, id); err != nil {
			return r.reject(ctx, ReasonHookAborted, deps.Metrics.Denied,
				fmt.Errorf("%w: %w", deps.Errors.HookAborted, err))
		}
	}

	r.in.User = id.User
	rec, err := deps.StartSession(ctx, r.in, id)
	if err != nil {
		return r.infra(ctx, err)
	}
	r.out.Session = rec
	deps.MetricInc(deps.Metrics.SessionCreated)

	// Eviction waits for the session hooks: a rejected login keeps the
	// user's other sessions.
	if deps.OnSessionCreation != nil {
		if err := deps.OnSessionCreation(ctx, rec, id); err != nil {
			if deps.ExpireSession != nil {
				if xerr := deps.ExpireSession(ctx, in.TenantID, rec.SessionID); xerr != nil {
					r.logger.Error().Err(xerr).Msg("expire session after aborted hook")
				}
			}
			r.out.Session = nil
			return r.reject(ctx, ReasonHookAborted, deps.Metrics.Denied,
				fmt.Errorf("%w: %w", deps.Errors.HookAborted, err))
		}
	}

	if deps.SessionLimit != nil && deps.EvictSessions != nil {
		limit := deps.SessionLimit(id)
		if limit.Enforce && limit.Allowed > 0 {
			opts := session.EvictOptions{KeepSessionID: rec.SessionID, Keep: limit.Allowed - 1}
			if limit.PerDevice {
				opts.Device = rec.Device
			}
			evicted, err := deps.EvictSessions(ctx, in.TenantID, id.User, opts)
			if err != nil {
				return r.infra(ctx, err)
			}
			for range evicted {
				deps.MetricInc(deps.Metrics.SessionEvicted)
			}
			r.out.Evicted = evicted
		}
	}

	// DONE
	if deps.StageCookies != nil {
		deps.StageCookies(ctx, rec, id)
	}
	r.enter(StateDone)
	deps.MetricInc(deps.Metrics.Success)
	r.audit(ctx, true, "")

	r.logger.Info().
		Str(internal.LogUserName, id.User).
		Str(internal.LogAuthResult, "success").
		Int("evicted", len(r.out.Evicted)).
		Msg("login succeeded")

	return &r.out, nil
}

// outsideLoginHours applies the identity's hour range to now.
func outsideLoginHours(id LoginIdentity, now time.Time) bool {
	hour := now.Hour()
	if id.LoginBefore > 0 && hour > id.LoginBefore {
		return true
	}
	if id.LoginAfter > 0 && hour < id.LoginAfter {
		return true
	}
	return false
}

package goSession

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jmoiron/sqlx"
	"github.com/pquerna/otp/totp"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/goSession/cookie"
	"github.com/MrEthical07/goSession/internal/db/dbtest"
	"github.com/MrEthical07/goSession/session"
)

type testClock struct {
	now time.Time
}

func (c *testClock) Now() time.Time { return c.now }

func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type testUser struct {
	password string
	id       Identity
}

type testDirectory map[string]testUser

func (d testDirectory) Verify(_ context.Context, tenantID, user, secret string) (Identity, error) {
	u, ok := d[user]
	if !ok || u.password != secret {
		return Identity{}, ErrInvalidCredentials
	}
	id := u.id
	id.User = user
	id.TenantID = tenantID
	return id, nil
}

type engineHarness struct {
	engine *Engine
	mr     *miniredis.Miniredis
	db     *sqlx.DB
	clock  *testClock
	users  testDirectory
}

func newEngineHarness(t *testing.T, mutate func(*Config), configure ...func(*Builder)) *engineHarness {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	conn := dbtest.Open(t)
	clock := &testClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	users := testDirectory{
		"u1":  {password: "pw1", id: Identity{FullName: "User One", UserType: UserTypeSystem, Enabled: true, UserImage: "/files/u1.png"}},
		"web": {password: "pw2", id: Identity{FullName: "Web User", UserType: UserTypeWebsite, Enabled: true}},
	}

	cfg := DefaultConfig()
	cfg.Lockout.MaxConsecutiveLoginAttempts = 3
	cfg.Lockout.AllowLoginAfterFail = 300
	if mutate != nil {
		mutate(&cfg)
	}

	b := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithDB(conn).
		WithVerifier(users).
		WithClock(clock.Now)
	for _, fn := range configure {
		fn(b)
	}

	e, err := b.Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	t.Cleanup(e.Close)

	return &engineHarness{engine: e, mr: mr, db: conn, clock: clock, users: users}
}

func newRequestContext() *RequestContext {
	return &RequestContext{
		TenantID: "acme",
		Language: "en",
		ClientIP: "10.0.0.1",
		Device:   session.DeviceDesktop,
		Session:  session.Guest("acme", time.Time{}),
		Cookies:  cookie.New(false),
	}
}

func (h *engineHarness) login(t *testing.T, user, password string) (*RequestContext, *LoginResult) {
	t.Helper()
	rc := newRequestContext()
	res, err := h.engine.Login(context.Background(), rc, LoginRequest{User: user, Password: password})
	if err != nil {
		t.Fatalf("login %s: %v", user, err)
	}
	return rc, res
}

func (h *engineHarness) resume(t *testing.T, sid string) *RequestContext {
	t.Helper()
	rc := newRequestContext()
	if err := h.engine.Resume(context.Background(), rc, sid); err != nil {
		t.Fatalf("resume: %v", err)
	}
	return rc
}

func TestEngineLoginSuccess(t *testing.T) {
	h := newEngineHarness(t, nil)
	rc, res := h.login(t, "u1", "pw1")

	if res.Message != MessageLoggedIn || res.HomePage != "/app" || res.FullName != "User One" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if rc.IsGuest() || rc.User() != "u1" {
		t.Fatalf("request context must carry the new session, got %q", rc.User())
	}

	sid, ok := rc.Cookies.Get("sid")
	if !ok || sid != rc.Session.SessionID {
		t.Fatalf("sid cookie = %q, want %q", sid, rc.Session.SessionID)
	}
	for name, want := range map[string]string{
		CookieUserID:     "u1",
		CookieFullName:   "User One",
		CookieSystemUser: "yes",
		CookieUserImage:  "/files/u1.png",
	} {
		if got, _ := rc.Cookies.Get(name); got != want {
			t.Fatalf("cookie %s = %q, want %q", name, got, want)
		}
	}

	rows, err := h.engine.RecentLogins(context.Background(), "acme", "u1", 10)
	if err != nil {
		t.Fatalf("recent logins: %v", err)
	}
	if len(rows) != 1 || rows[0].EventType != AuditLoginSuccess || !rows[0].Success {
		t.Fatalf("unexpected audit rows: %+v", rows)
	}
	if h.engine.Metrics().Value(MetricLoginSuccess) != 1 || h.engine.Metrics().Value(MetricSessionCreated) != 1 {
		t.Fatal("success metrics not recorded")
	}
}

func TestEngineLoginMessages(t *testing.T) {
	h := newEngineHarness(t, nil)
	h.users["reset"] = testUser{password: "pw", id: Identity{UserType: UserTypeSystem, Enabled: true, PasswordResetRequired: true}}

	_, res := h.login(t, "web", "pw2")
	if res.Message != MessageNoApp || res.HomePage != "/me" {
		t.Fatalf("website user: %+v", res)
	}

	rc, res := h.login(t, "reset", "pw")
	if res.Message != MessagePasswordReset || res.RedirectTo != "/update-password" {
		t.Fatalf("password reset: %+v", res)
	}
	if v, _ := rc.Cookies.Get(CookieSystemUser); v != "yes" {
		t.Fatalf("system_user cookie = %q", v)
	}
}

func TestEngineLoginRejections(t *testing.T) {
	h := newEngineHarness(t, nil)
	h.users["off"] = testUser{password: "pw", id: Identity{Enabled: false}}
	h.users["night"] = testUser{password: "pw", id: Identity{Enabled: true, LoginAfter: 20}}

	tests := []struct {
		name   string
		user   string
		pass   string
		want   error
		kind   Kind
		status int
	}{
		{name: "missing password", user: "u1", want: ErrIncompleteCredentials, kind: KindIncompleteCredentials, status: http.StatusUnauthorized},
		{name: "wrong password", user: "u1", pass: "nope", want: ErrInvalidCredentials, kind: KindInvalidCredentials, status: http.StatusUnauthorized},
		{name: "guest", user: "Guest", pass: "x", want: ErrInvalidCredentials, kind: KindInvalidCredentials, status: http.StatusUnauthorized},
		{name: "disabled", user: "off", pass: "pw", want: ErrAccountDisabled, kind: KindAuthenticationDenied, status: http.StatusForbidden},
		{name: "restricted hours", user: "night", pass: "pw", want: ErrRestrictedHours, kind: KindAuthenticationDenied, status: http.StatusForbidden},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rc := newRequestContext()
			res, err := h.engine.Login(context.Background(), rc, LoginRequest{User: tc.user, Password: tc.pass})
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if res != nil || !rc.IsGuest() {
				t.Fatal("rejected login must not produce a session")
			}
			if KindOf(err) != tc.kind || HTTPStatus(err) != tc.status {
				t.Fatalf("kind=%v status=%d", KindOf(err), HTTPStatus(err))
			}
			if _, ok := rc.Cookies.Get("sid"); ok {
				t.Fatal("rejected login must not stage cookies")
			}
		})
	}

	rows, err := h.engine.RecentLogins(context.Background(), "acme", "off", 10)
	if err != nil {
		t.Fatalf("recent logins: %v", err)
	}
	if len(rows) != 1 || rows[0].Success || rows[0].Reason != "account_disabled" {
		t.Fatalf("denied login must be audited: %+v", rows)
	}
}

func TestEngineLockout(t *testing.T) {
	h := newEngineHarness(t, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := h.engine.Login(ctx, newRequestContext(), LoginRequest{User: "u1", Password: "bad"})
		if !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: %v", i, err)
		}
	}

	_, err := h.engine.Login(ctx, newRequestContext(), LoginRequest{User: "u1", Password: "pw1"})
	var lockout *LockoutError
	if !errors.As(err, &lockout) || !errors.Is(err, ErrSecurityLockout) {
		t.Fatalf("expected lockout, got %v", err)
	}
	if lockout.RetryAfter != 300*time.Second {
		t.Fatalf("retry after = %v", lockout.RetryAfter)
	}
	if HTTPStatus(err) != http.StatusTooManyRequests {
		t.Fatalf("status = %d", HTTPStatus(err))
	}
	if !strings.Contains(err.Error(), "5 minutes") {
		t.Fatalf("message must carry a readable duration: %q", err.Error())
	}
	if got := h.engine.Metrics().Value(MetricLockoutTriggered); got != 1 {
		t.Fatalf("lockouts = %d", got)
	}

	h.clock.Advance(301 * time.Second)
	if _, err := h.engine.Login(ctx, newRequestContext(), LoginRequest{User: "u1", Password: "pw1"}); err != nil {
		t.Fatalf("login after window: %v", err)
	}
}

func TestEngineLockoutDisabled(t *testing.T) {
	h := newEngineHarness(t, func(c *Config) { c.Lockout.Enabled = false })
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, _ = h.engine.Login(ctx, newRequestContext(), LoginRequest{User: "u1", Password: "bad"})
	}
	if _, err := h.engine.Login(ctx, newRequestContext(), LoginRequest{User: "u1", Password: "pw1"}); err != nil {
		t.Fatalf("login: %v", err)
	}
}

func TestEngineIPThrottle(t *testing.T) {
	h := newEngineHarness(t, func(c *Config) {
		c.IPThrottle.Enabled = true
		c.IPThrottle.MaxAttempts = 2
	})
	ctx := context.Background()

	_, _ = h.engine.Login(ctx, newRequestContext(), LoginRequest{User: "u1", Password: "bad"})
	_, _ = h.engine.Login(ctx, newRequestContext(), LoginRequest{User: "web", Password: "bad"})

	_, err := h.engine.Login(ctx, newRequestContext(), LoginRequest{User: "web", Password: "pw2"})
	if !errors.Is(err, ErrSecurityLockout) {
		t.Fatalf("expected ip throttle, got %v", err)
	}
}

func TestEngineSecondFactor(t *testing.T) {
	h := newEngineHarness(t, nil)
	secret, _, err := GenerateTOTPSecret("goSession", "mfa")
	if err != nil {
		t.Fatalf("secret: %v", err)
	}
	h.users["mfa"] = testUser{password: "pw", id: Identity{Enabled: true, SecondFactor: true, TOTPSecret: secret}}
	ctx := context.Background()

	_, err = h.engine.Login(ctx, newRequestContext(), LoginRequest{User: "mfa", Password: "pw"})
	if !errors.Is(err, ErrSecondFactorRequired) {
		t.Fatalf("expected second factor required, got %v", err)
	}

	_, err = h.engine.Login(ctx, newRequestContext(), LoginRequest{User: "mfa", Password: "pw", OTP: "000000"})
	if !errors.Is(err, ErrSecondFactorInvalid) && !errors.Is(err, ErrSecondFactorRequired) {
		t.Fatalf("expected second factor failure, got %v", err)
	}

	code, err := totp.GenerateCode(secret, h.clock.Now())
	if err != nil {
		t.Fatalf("code: %v", err)
	}
	if code == "000000" {
		t.Skip("generated code collides with the wrong code")
	}
	if _, err := h.engine.Login(ctx, newRequestContext(), LoginRequest{User: "mfa", Password: "pw", OTP: code}); err != nil {
		t.Fatalf("login with code: %v", err)
	}
}

func TestEngineSecondFactorGuessingLocks(t *testing.T) {
	h := newEngineHarness(t, func(c *Config) {
		c.SecondFactor.MaxAttempts = 3
		c.SecondFactor.Cooldown = time.Minute
	})
	secret, _, err := GenerateTOTPSecret("goSession", "mfa")
	if err != nil {
		t.Fatalf("secret: %v", err)
	}
	h.users["mfa"] = testUser{password: "pw", id: Identity{Enabled: true, SecondFactor: true, TOTPSecret: secret}}
	ctx := context.Background()

	code, err := totp.GenerateCode(secret, h.clock.Now())
	if err != nil {
		t.Fatalf("code: %v", err)
	}
	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}

	for i := 0; i < 3; i++ {
		_, err := h.engine.Login(ctx, newRequestContext(), LoginRequest{User: "mfa", Password: "pw", OTP: wrong})
		if !errors.Is(err, ErrSecondFactorInvalid) {
			t.Fatalf("attempt %d: expected invalid code, got %v", i, err)
		}
	}

	_, err = h.engine.Login(ctx, newRequestContext(), LoginRequest{User: "mfa", Password: "pw", OTP: code})
	var lockout *LockoutError
	if !errors.As(err, &lockout) || KindOf(err) != KindSecurityLockout {
		t.Fatalf("expected lockout after exhausted codes, got %v", err)
	}
	if lockout.RetryAfter <= 0 || lockout.RetryAfter > time.Minute {
		t.Fatalf("retry after = %v", lockout.RetryAfter)
	}

	if ok, _, err := h.engine.tracker.IsAllowed(ctx, "acme", "mfa"); err != nil || !ok {
		t.Fatalf("code guessing must not lock the password step: %v %v", ok, err)
	}

	h.mr.FastForward(time.Minute + time.Second)
	if _, err := h.engine.Login(ctx, newRequestContext(), LoginRequest{User: "mfa", Password: "pw", OTP: code}); err != nil {
		t.Fatalf("login after cooldown: %v", err)
	}
}

func TestEngineLoginFillsMissingUser(t *testing.T) {
	h := newEngineHarness(t, nil, func(b *Builder) {
		b.WithVerifier(CredentialVerifierFunc(func(context.Context, string, string, string) (Identity, error) {
			return Identity{Enabled: true, FullName: "No Name"}, nil
		}))
	})

	rc, _ := h.login(t, "u9", "any")
	if v, _ := rc.Cookies.Get(CookieUserID); v != "u9" {
		t.Fatalf("user_id cookie = %q", v)
	}
	if rc.Session.User != "u9" {
		t.Fatalf("session user = %q", rc.Session.User)
	}
}

func TestEngineDenyMultipleSessions(t *testing.T) {
	h := newEngineHarness(t, func(c *Config) { c.Session.DenyMultipleSessions = true })

	first, _ := h.login(t, "u1", "pw1")
	h.clock.Advance(time.Minute)
	second, res := h.login(t, "u1", "pw1")

	if len(res.Evicted) != 1 || res.Evicted[0] != first.Session.SessionID {
		t.Fatalf("evicted = %v", res.Evicted)
	}
	if rc := h.resume(t, first.Session.SessionID); !rc.IsGuest() || !rc.SessionExpired {
		t.Fatal("evicted session must not resume")
	}
	if rc := h.resume(t, second.Session.SessionID); rc.User() != "u1" {
		t.Fatal("new session must resume")
	}
}

func TestEngineIdentitySessionLimit(t *testing.T) {
	h := newEngineHarness(t, func(c *Config) { c.Session.AllowedConcurrentSessions = 1 })
	h.users["multi"] = testUser{password: "pw", id: Identity{Enabled: true, SimultaneousSessions: 2}}

	a, _ := h.login(t, "multi", "pw")
	h.clock.Advance(time.Minute)
	_, res := h.login(t, "multi", "pw")
	if len(res.Evicted) != 0 {
		t.Fatalf("second session within the identity limit evicted %v", res.Evicted)
	}
	h.clock.Advance(time.Minute)
	_, res = h.login(t, "multi", "pw")
	if len(res.Evicted) != 1 || res.Evicted[0] != a.Session.SessionID {
		t.Fatalf("oldest session must be evicted, got %v", res.Evicted)
	}
}

func TestEngineResumeTouchBoot(t *testing.T) {
	h := newEngineHarness(t, nil)
	login, _ := h.login(t, "u1", "pw1")
	sid := login.Session.SessionID
	ctx := context.Background()

	rc := h.resume(t, sid)
	if rc.User() != "u1" || rc.SessionExpired {
		t.Fatalf("resume: user=%q expired=%v", rc.User(), rc.SessionExpired)
	}

	info, err := h.engine.Boot(ctx, rc)
	if err != nil {
		t.Fatalf("boot: %v", err)
	}
	if info.User != "u1" || info.FullName != "User One" || info.CSRFToken == "" || info.Device != "desktop" {
		t.Fatalf("unexpected boot info: %+v", info)
	}
	if !rc.ForceTouch {
		t.Fatal("a new csrf token must force a durable touch")
	}

	h.clock.Advance(time.Minute)
	wrote, err := h.engine.Touch(ctx, rc)
	if err != nil || !wrote {
		t.Fatalf("forced touch: wrote=%v err=%v", wrote, err)
	}
	if h.engine.Metrics().Value(MetricDurableWrite) != 1 {
		t.Fatal("durable write metric not recorded")
	}

	again := h.resume(t, sid)
	info2, err := h.engine.Boot(ctx, again)
	if err != nil {
		t.Fatalf("boot: %v", err)
	}
	if info2.CSRFToken != info.CSRFToken {
		t.Fatal("csrf token must be stable for the session")
	}
	if again.ForceTouch {
		t.Fatal("existing token must not force a touch")
	}
}

func TestEngineResumeExpired(t *testing.T) {
	h := newEngineHarness(t, nil)
	login, _ := h.login(t, "u1", "pw1")

	h.clock.Advance(7 * time.Hour)
	rc := h.resume(t, login.Session.SessionID)

	if !rc.IsGuest() || !rc.SessionExpired {
		t.Fatal("expired session must degrade to guest")
	}
	if sid, _ := rc.Cookies.Get("sid"); sid != session.GuestID {
		t.Fatalf("sid cookie = %q, want Guest", sid)
	}
	if !rc.Cookies.Deleted(CookieUserID) {
		t.Fatal("display cookies must be removed")
	}

	info, err := h.engine.Boot(context.Background(), rc)
	if err != nil || !info.SessionExpired || info.User != session.GuestID || info.CSRFToken != "" {
		t.Fatalf("boot for expired session: %+v %v", info, err)
	}
}

func TestEngineResumeWithoutCookieIsGuest(t *testing.T) {
	h := newEngineHarness(t, nil)
	rc := h.resume(t, "")
	if !rc.IsGuest() || rc.SessionExpired {
		t.Fatal("no cookie must resume as a plain guest")
	}
}

func TestEngineValidateCSRF(t *testing.T) {
	h := newEngineHarness(t, nil)
	login, _ := h.login(t, "u1", "pw1")
	rc := h.resume(t, login.Session.SessionID)
	info, err := h.engine.Boot(context.Background(), rc)
	if err != nil {
		t.Fatalf("boot: %v", err)
	}

	bad := httptest.NewRequest(http.MethodPost, "/api/thing", nil)
	bad.Header.Set("X-CSRF-Token", info.CSRFToken+"x")
	err = h.engine.ValidateCSRF(context.Background(), rc, bad)
	if !errors.Is(err, ErrCSRFToken) || HTTPStatus(err) != http.StatusBadRequest {
		t.Fatalf("expected csrf rejection, got %v", err)
	}
	if !rc.SuppressTraceback {
		t.Fatal("csrf rejection must suppress tracebacks")
	}
	if h.engine.Metrics().Value(MetricCSRFRejected) != 1 {
		t.Fatal("csrf metric not recorded")
	}

	good := httptest.NewRequest(http.MethodPost, "/api/thing", nil)
	good.Header.Set("X-CSRF-Token", info.CSRFToken)
	if err := h.engine.ValidateCSRF(context.Background(), rc, good); err != nil {
		t.Fatalf("valid token rejected: %v", err)
	}

	get := httptest.NewRequest(http.MethodGet, "/api/thing", nil)
	if err := h.engine.ValidateCSRF(context.Background(), rc, get); err != nil {
		t.Fatalf("GET must not be checked: %v", err)
	}
}

func TestEngineLogout(t *testing.T) {
	var logouts atomic.Int32
	h := newEngineHarness(t, nil, func(b *Builder) {
		b.OnLogout("count", func(context.Context, *session.Record) error {
			logouts.Add(1)
			return nil
		})
	})
	login, _ := h.login(t, "u1", "pw1")
	sid := login.Session.SessionID
	rc := h.resume(t, sid)

	if err := h.engine.Logout(context.Background(), rc); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if !rc.IsGuest() {
		t.Fatal("logout must leave the request as guest")
	}
	if logouts.Load() != 1 {
		t.Fatal("on_logout hook must run once")
	}
	if v, _ := rc.Cookies.Get("sid"); v != session.GuestID {
		t.Fatalf("sid cookie = %q", v)
	}
	for _, name := range []string{CookieUserID, CookieFullName, CookieSystemUser, CookieUserImage} {
		if !rc.Cookies.Deleted(name) {
			t.Fatalf("cookie %s must be deleted", name)
		}
	}
	if again := h.resume(t, sid); !again.IsGuest() {
		t.Fatal("logged out session must not resume")
	}
}

func TestEngineLogoutDeletesDisplayCookiesInDomain(t *testing.T) {
	h := newEngineHarness(t, func(c *Config) { c.Cookie.Domain = "example.com" })
	login, _ := h.login(t, "u1", "pw1")
	rc := h.resume(t, login.Session.SessionID)

	if err := h.engine.Logout(context.Background(), rc); err != nil {
		t.Fatalf("logout: %v", err)
	}

	w := httptest.NewRecorder()
	if !rc.Cookies.Flush(context.Background(), w) {
		t.Fatal("flush returned false")
	}
	deleted := map[string]bool{}
	for _, c := range w.Result().Cookies() {
		if c.Domain != "example.com" {
			t.Fatalf("cookie %s written without the configured domain: %q", c.Name, c.Domain)
		}
		if c.Name != h.engine.Config().Cookie.SessionName {
			deleted[c.Name] = true
		}
	}
	for _, name := range []string{CookieUserID, CookieFullName, CookieSystemUser, CookieUserImage} {
		if !deleted[name] {
			t.Fatalf("cookie %s not deleted", name)
		}
	}
}

func TestEngineLogoutCriticalHookKeepsSession(t *testing.T) {
	h := newEngineHarness(t, nil, func(b *Builder) {
		b.OnLogout("veto", func(context.Context, *session.Record) error {
			return errors.New("busy")
		}, Critical())
	})
	login, _ := h.login(t, "u1", "pw1")
	rc := h.resume(t, login.Session.SessionID)

	if err := h.engine.Logout(context.Background(), rc); !errors.Is(err, ErrHookAborted) {
		t.Fatalf("expected hook abort, got %v", err)
	}
	if again := h.resume(t, login.Session.SessionID); again.IsGuest() {
		t.Fatal("session must survive a vetoed logout")
	}
}

func TestEngineLogoutAll(t *testing.T) {
	h := newEngineHarness(t, nil)
	a, _ := h.login(t, "u1", "pw1")
	b, _ := h.login(t, "u1", "pw1")

	evicted, err := h.engine.LogoutAll(context.Background(), "acme", "u1")
	if err != nil {
		t.Fatalf("logout all: %v", err)
	}
	if len(evicted) != 2 {
		t.Fatalf("evicted = %v", evicted)
	}
	for _, sid := range []string{a.Session.SessionID, b.Session.SessionID} {
		if rc := h.resume(t, sid); !rc.IsGuest() {
			t.Fatal("session survived logout all")
		}
	}
}

func TestEngineHooks(t *testing.T) {
	var order []string
	h := newEngineHarness(t, nil, func(b *Builder) {
		b.OnLogin("first", func(context.Context, Identity) error {
			order = append(order, "first")
			return errors.New("ignored")
		})
		b.OnLogin("second", func(_ context.Context, id Identity) error {
			order = append(order, "second:"+id.User)
			return nil
		})
		b.OnSessionCreation("panics", func(context.Context, *session.Record, Identity) error {
			panic("boom")
		})
	})

	h.login(t, "u1", "pw1")
	if strings.Join(order, ",") != "first,second:u1" {
		t.Fatalf("hooks ran as %v", order)
	}
}

func TestEngineCriticalSessionHookAbortsLogin(t *testing.T) {
	h := newEngineHarness(t, nil, func(b *Builder) {
		b.OnSessionCreation("quota", func(context.Context, *session.Record, Identity) error {
			return errors.New("seat limit")
		}, Critical())
	})

	rc := newRequestContext()
	_, err := h.engine.Login(context.Background(), rc, LoginRequest{User: "u1", Password: "pw1"})
	if !errors.Is(err, ErrHookAborted) || KindOf(err) != KindAuthenticationDenied {
		t.Fatalf("expected hook abort, got %v", err)
	}

	var n int
	if err := h.db.Get(&n, "SELECT COUNT(*) FROM sessions"); err != nil {
		t.Fatalf("count sessions: %v", err)
	}
	if n != 0 {
		t.Fatalf("aborted login left %d sessions", n)
	}
}

func TestEngineAbortedLoginKeepsExistingSession(t *testing.T) {
	var calls atomic.Int32
	h := newEngineHarness(t, func(c *Config) { c.Session.DenyMultipleSessions = true }, func(b *Builder) {
		b.OnSessionCreation("second-fails", func(context.Context, *session.Record, Identity) error {
			if calls.Add(1) > 1 {
				return errors.New("seat limit")
			}
			return nil
		}, Critical())
	})

	first, _ := h.login(t, "u1", "pw1")
	h.clock.Advance(time.Minute)

	_, err := h.engine.Login(context.Background(), newRequestContext(), LoginRequest{User: "u1", Password: "pw1"})
	if !errors.Is(err, ErrHookAborted) {
		t.Fatalf("expected hook abort, got %v", err)
	}
	if rc := h.resume(t, first.Session.SessionID); rc.IsGuest() {
		t.Fatal("rejected login evicted the existing session")
	}
}

func TestEngineSweepExpired(t *testing.T) {
	h := newEngineHarness(t, nil)
	h.login(t, "u1", "pw1")

	h.clock.Advance(7 * time.Hour)
	n, err := h.engine.SweepExpired(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("swept %d rows, want 1", n)
	}
}

func TestEngineInfrastructureFailure(t *testing.T) {
	h := newEngineHarness(t, nil)
	h.mr.Close()

	_, err := h.engine.Login(context.Background(), newRequestContext(), LoginRequest{User: "u1", Password: "pw1"})
	if err == nil || !IsInfrastructure(err) || KindOf(err) != KindInfrastructureError {
		t.Fatalf("expected infrastructure error, got %v", err)
	}
	if HTTPStatus(err) != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", HTTPStatus(err))
	}
	if err := h.engine.Ping(context.Background()); !IsInfrastructure(err) {
		t.Fatalf("ping: %v", err)
	}
}

func TestBuilderRequiresDependencies(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	conn := dbtest.Open(t)
	verifier := testDirectory{}

	if _, err := New().WithDB(conn).WithVerifier(verifier).Build(); err == nil {
		t.Fatal("missing redis must fail")
	}
	if _, err := New().WithRedis(rdb).WithVerifier(verifier).Build(); err == nil {
		t.Fatal("missing database must fail")
	}
	if _, err := New().WithRedis(rdb).WithDB(conn).Build(); err == nil {
		t.Fatal("missing verifier must fail")
	}

	b := New().WithRedis(rdb).WithDB(conn).WithVerifier(verifier)
	e, err := b.Build()
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	e.Close()
	if _, err := b.Build(); err == nil {
		t.Fatal("builder must be single use")
	}
}

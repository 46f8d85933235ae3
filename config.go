package goSession

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/MrEthical07/goSession/session"
)

// Config holds every engine setting. It is decoded from TOML by the reference
// server; library users start from [DefaultConfig] and override fields.
//
// Config instances are intended to be configured during initialization and then treated as immutable.
type Config struct {
	Lockout    LockoutConfig    `toml:"lockout"`
	IPThrottle IPThrottleConfig `toml:"ip_throttle"`
	// SecondFactor limits one-time code guesses after a valid password.
	SecondFactor SecondFactorConfig `toml:"second_factor"`
	Session    SessionConfig    `toml:"session"`
	Cookie     CookieConfig     `toml:"cookie"`
	CSRF       CSRFConfig       `toml:"csrf"`
	Login      LoginConfig      `toml:"login"`
	Audit      AuditConfig      `toml:"audit"`
	Metrics    MetricsConfig    `toml:"metrics"`
	Language   LanguageConfig   `toml:"language"`
	Tenant     TenantConfig     `toml:"tenant"`
	// Debug exposes infrastructure error text in responses.
	Debug bool `toml:"debug"`
}

/*
====================================
LOCKOUT CONFIG
====================================
*/

// LockoutConfig is the per-identity brute-force policy.
type LockoutConfig struct {
	Enabled                     bool `toml:"enabled"`
	MaxConsecutiveLoginAttempts int  `toml:"max_consecutive_login_attempts"`
	// AllowLoginAfterFail is the lock window in seconds, anchored at the
	// first failure.
	AllowLoginAfterFail int `toml:"allow_login_after_fail"`
	// LegacyExtraAttempt locks only after MaxConsecutiveLoginAttempts+1
	// failures.
	LegacyExtraAttempt bool `toml:"legacy_extra_attempt"`
}

// LockInterval returns AllowLoginAfterFail as a duration.
func (c LockoutConfig) LockInterval() time.Duration {
	return time.Duration(c.AllowLoginAfterFail) * time.Second
}

// IPThrottleConfig limits failed logins per client address.
type IPThrottleConfig struct {
	Enabled     bool          `toml:"enabled"`
	MaxAttempts int           `toml:"max_attempts"`
	Window      time.Duration `toml:"window"`
}

// SecondFactorConfig limits invalid one-time codes per identity. The counter
// is separate from the lockout tracker. MaxAttempts 0 disables it.
type SecondFactorConfig struct {
	MaxAttempts int           `toml:"max_attempts"`
	Cooldown    time.Duration `toml:"cooldown"`
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig controls expiry windows and the concurrent-session policy.
type SessionConfig struct {
	RedisPrefix string `toml:"redis_prefix"`
	// ExpiryDesktop and ExpiryMobile are HH:MM:SS; hours may exceed 24.
	ExpiryDesktop string `toml:"expiry_desktop"`
	ExpiryMobile  string `toml:"expiry_mobile"`

	DenyMultipleSessions bool `toml:"deny_multiple_sessions"`
	// AllowedConcurrentSessions is the server default; 0 with
	// DenyMultipleSessions unset means unlimited.
	AllowedConcurrentSessions int `toml:"allowed_concurrent_sessions"`
	// LimitPerDevice counts desktop and mobile sessions separately.
	LimitPerDevice bool `toml:"limit_per_device"`

	DurableWriteInterval time.Duration `toml:"durable_write_interval"`
	SweepInterval        time.Duration `toml:"sweep_interval"`
}

// ExpiryPolicy parses the configured windows.
func (c SessionConfig) ExpiryPolicy() (session.ExpiryPolicy, error) {
	desktop, err := session.ParseExpiry(c.ExpiryDesktop)
	if err != nil {
		return session.ExpiryPolicy{}, fmt.Errorf("Session ExpiryDesktop: %w", err)
	}
	mobile, err := session.ParseExpiry(c.ExpiryMobile)
	if err != nil {
		return session.ExpiryPolicy{}, fmt.Errorf("Session ExpiryMobile: %w", err)
	}
	return session.ExpiryPolicy{Desktop: desktop, Mobile: mobile}, nil
}

/*
====================================
HTTP CONFIG
====================================
*/

// CookieConfig controls the session cookie.
type CookieConfig struct {
	SessionName string `toml:"session_name"`
	Domain      string `toml:"domain"`
	// ForceSecure sets Secure on every cookie regardless of scheme.
	ForceSecure bool `toml:"force_secure"`
	// DisplayCookies enables the user_id, full_name, system_user and
	// user_image cookies.
	DisplayCookies bool `toml:"display_cookies"`
}

// CSRFConfig controls the anti-forgery gate.
type CSRFConfig struct {
	// Disabled skips validation for every request.
	Disabled bool `toml:"disabled"`
}

// LoginConfig shapes login responses.
type LoginConfig struct {
	DeskHome          string `toml:"desk_home"`
	WebsiteHome       string `toml:"website_home"`
	PasswordResetPath string `toml:"password_reset_path"`
	TOTPIssuer        string `toml:"totp_issuer"`
}

/*
====================================
OBSERVABILITY CONFIG
====================================
*/

// AuditConfig controls audit delivery.
type AuditConfig struct {
	Enabled    bool `toml:"enabled"`
	BufferSize int  `toml:"buffer_size"`
	DropIfFull bool `toml:"drop_if_full"`
	// Durable writes every login outcome to login_audit before responding.
	Durable bool `toml:"durable"`
}

// MetricsConfig controls Prometheus collectors.
type MetricsConfig struct {
	Enabled   bool   `toml:"enabled"`
	Namespace string `toml:"namespace"`
}

/*
====================================
REQUEST CONFIG
====================================
*/

// LanguageConfig lists the languages offered to clients.
type LanguageConfig struct {
	Default   string   `toml:"default"`
	Supported []string `toml:"supported"`
}

// TenantConfig controls tenant resolution.
type TenantConfig struct {
	Header   string `toml:"header"`
	FromHost bool   `toml:"from_host"`
	Default  string `toml:"default"`
}

// DefaultConfig returns the defaults used by [New].
func DefaultConfig() Config {
	return defaultConfig()
}

func cloneConfig(c Config) Config {
	c.Language.Supported = slices.Clone(c.Language.Supported)
	return c
}

func defaultConfig() Config {
	return Config{
		Lockout: LockoutConfig{
			Enabled:                     true,
			MaxConsecutiveLoginAttempts: 10,
			AllowLoginAfterFail:         60,
		},
		IPThrottle: IPThrottleConfig{
			Enabled:     false,
			MaxAttempts: 100,
			Window:      10 * time.Minute,
		},
		SecondFactor: SecondFactorConfig{
			MaxAttempts: 5,
			Cooldown:    5 * time.Minute,
		},
		Session: SessionConfig{
			RedisPrefix:          "gs",
			ExpiryDesktop:        "06:00:00",
			ExpiryMobile:         "720:00:00",
			DurableWriteInterval: session.DefaultDurableWriteInterval,
			SweepInterval:        15 * time.Minute,
		},
		Cookie: CookieConfig{
			SessionName:    "sid",
			DisplayCookies: true,
		},
		Login: LoginConfig{
			DeskHome:          "/app",
			WebsiteHome:       "/me",
			PasswordResetPath: "/update-password",
			TOTPIssuer:        "goSession",
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 1024,
			DropIfFull: true,
			Durable:    true,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "gosession",
		},
		Language: LanguageConfig{
			Default:   "en",
			Supported: []string{"en"},
		},
		Tenant: TenantConfig{
			Header:   "X-Tenant-ID",
			FromHost: false,
			Default:  "default",
		},
	}
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	// Lockout
	if c.Lockout.Enabled {
		if c.Lockout.MaxConsecutiveLoginAttempts <= 0 {
			return errors.New("Lockout MaxConsecutiveLoginAttempts must be > 0")
		}
		if c.Lockout.AllowLoginAfterFail <= 0 {
			return errors.New("Lockout AllowLoginAfterFail must be > 0")
		}
	}
	if c.IPThrottle.Enabled && (c.IPThrottle.MaxAttempts <= 0 || c.IPThrottle.Window <= 0) {
		return errors.New("IPThrottle requires MaxAttempts > 0 and Window > 0")
	}
	if c.SecondFactor.MaxAttempts < 0 || (c.SecondFactor.MaxAttempts > 0 && c.SecondFactor.Cooldown <= 0) {
		return errors.New("SecondFactor requires MaxAttempts >= 0 and Cooldown > 0 when limited")
	}

	// Session
	if strings.TrimSpace(c.Session.RedisPrefix) == "" || strings.Contains(c.Session.RedisPrefix, ":") {
		return errors.New("Session RedisPrefix must be non-empty and must not contain ':'")
	}
	if _, err := c.Session.ExpiryPolicy(); err != nil {
		return err
	}
	if c.Session.AllowedConcurrentSessions < 0 {
		return errors.New("Session AllowedConcurrentSessions must be >= 0")
	}
	if c.Session.DurableWriteInterval <= 0 {
		return errors.New("Session DurableWriteInterval must be > 0")
	}
	if c.Session.SweepInterval < 0 {
		return errors.New("Session SweepInterval must be >= 0")
	}

	// HTTP
	if strings.TrimSpace(c.Cookie.SessionName) == "" {
		return errors.New("Cookie SessionName must not be empty")
	}
	if c.Login.DeskHome == "" || c.Login.PasswordResetPath == "" {
		return errors.New("Login DeskHome and PasswordResetPath must not be empty")
	}

	// Observability
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when Enabled")
	}
	if c.Metrics.Enabled && strings.TrimSpace(c.Metrics.Namespace) == "" {
		return errors.New("Metrics Namespace must not be empty when Enabled")
	}

	// Request
	if c.Language.Default == "" {
		return errors.New("Language Default must not be empty")
	}
	if !slices.Contains(c.Language.Supported, c.Language.Default) {
		return errors.New("Language Default must be listed in Supported")
	}
	if strings.TrimSpace(c.Tenant.Header) == "" || c.Tenant.Default == "" {
		return errors.New("Tenant Header and Default must not be empty")
	}

	return nil
}

// LintWarning is a setting that is valid but weakens security.
type LintWarning struct {
	Code    string
	Message string
}

// LintWarnings is the result of [Config.Lint].
type LintWarnings []LintWarning

// Codes returns the warning codes in order.
func (ws LintWarnings) Codes() []string {
	out := make([]string, 0, len(ws))
	for _, w := range ws {
		out = append(out, w.Code)
	}
	return out
}

// Lint returns warnings for valid but risky settings.
func (c *Config) Lint() LintWarnings {
	var ws LintWarnings
	add := func(code, msg string) {
		ws = append(ws, LintWarning{Code: code, Message: msg})
	}

	if !c.Lockout.Enabled {
		add("lockout_disabled", "login lockout is disabled; brute-force attempts are only limited by the IP throttle")
	}
	if c.Lockout.Enabled && c.Lockout.LegacyExtraAttempt {
		add("lockout_extra_attempt", "lockout grants one attempt beyond MaxConsecutiveLoginAttempts")
	}
	if c.SecondFactor.MaxAttempts == 0 {
		add("second_factor_unlimited", "one-time codes may be guessed without limit")
	}
	if c.CSRF.Disabled {
		add("csrf_disabled", "CSRF validation is disabled for every request")
	}
	if c.Debug {
		add("debug_enabled", "infrastructure errors are exposed in responses")
	}
	if c.Audit.Enabled && !c.Audit.Durable {
		add("audit_not_durable", "login outcomes are not written to login_audit")
	}
	if !c.Audit.Enabled && !c.Audit.Durable {
		add("audit_disabled", "no login audit trail is kept")
	}
	if c.Session.DenyMultipleSessions && c.Session.AllowedConcurrentSessions > 1 {
		add("session_policy_conflict", "DenyMultipleSessions ignores AllowedConcurrentSessions > 1")
	}

	return ws
}

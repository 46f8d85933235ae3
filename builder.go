package goSession

import (
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/MrEthical07/goSession/csrf"
	"github.com/MrEthical07/goSession/internal/audit"
	"github.com/MrEthical07/goSession/internal/limiters"
	"github.com/MrEthical07/goSession/internal/rate"
	"github.com/MrEthical07/goSession/session"
)

// Builder assembles an [Engine].
//
// Builder instances are intended to be configured during initialization and
// then discarded; Build may be called once.
type Builder struct {
	config Config
	redis  redis.UniversalClient
	db     *sqlx.DB

	verifier CredentialVerifier
	second   SecondFactorVerifier
	geo      GeoResolver

	auditSink AuditSink
	logger    zerolog.Logger
	now       func() time.Time

	hooks hooks
	built bool
}

// New returns a builder holding [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
		logger: zerolog.Nop(),
	}
}

// WithConfig replaces the configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the cache used for session mirrors, attempt counters and
// the IP throttle.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithDB sets the durable store. The schema must be migrated with
// internal/db.Migrate (or `gosession migrate`).
func (b *Builder) WithDB(db *sqlx.DB) *Builder {
	b.db = db
	return b
}

func (b *Builder) WithVerifier(v CredentialVerifier) *Builder {
	b.verifier = v
	return b
}

// WithSecondFactor replaces the default [TOTPVerifier].
func (b *Builder) WithSecondFactor(v SecondFactorVerifier) *Builder {
	b.second = v
	return b
}

func (b *Builder) WithGeo(g GeoResolver) *Builder {
	b.geo = g
	return b
}

// WithAuditSink adds a sink receiving every audit event asynchronously.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithLogger sets the logger used by background work. Request paths log
// through zerolog.Ctx.
func (b *Builder) WithLogger(logger zerolog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock overrides time.Now; used by tests.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// OnLogin registers a hook run after credentials are verified.
func (b *Builder) OnLogin(name string, fn LoginHook, opts ...HookOption) *Builder {
	if fn != nil {
		b.hooks.login = append(b.hooks.login, newHook(name, fn, opts))
	}
	return b
}

// OnSessionCreation registers a hook run after a login session is started.
// A critical failure expires the new session and rejects the login.
func (b *Builder) OnSessionCreation(name string, fn SessionHook, opts ...HookOption) *Builder {
	if fn != nil {
		b.hooks.sessions = append(b.hooks.sessions, newHook(name, fn, opts))
	}
	return b
}

// OnLogout registers a hook run before a session is expired by logout.
func (b *Builder) OnLogout(name string, fn LogoutHook, opts ...HookOption) *Builder {
	if fn != nil {
		b.hooks.logout = append(b.hooks.logout, newHook(name, fn, opts))
	}
	return b
}

// Build validates the configuration and wires the engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.db == nil {
		return nil, errors.New("database required")
	}
	if b.verifier == nil {
		return nil, errors.New("credential verifier required")
	}

	now := b.now
	if now == nil {
		now = time.Now
	}

	expiry, err := cfg.Session.ExpiryPolicy()
	if err != nil {
		return nil, err
	}

	// -------- SESSION STORE --------
	store := session.NewStore(b.redis, b.db, session.Options{
		Prefix:               cfg.Session.RedisPrefix,
		Expiry:               expiry,
		DurableWriteInterval: cfg.Session.DurableWriteInterval,
		Geo:                  b.geo,
		Now:                  now,
	})

	// -------- LIMITERS --------
	var tracker *limiters.AttemptTracker
	if cfg.Lockout.Enabled {
		tracker = limiters.NewAttemptTracker(b.redis, limiters.AttemptConfig{
			MaxAttempts:        cfg.Lockout.MaxConsecutiveLoginAttempts,
			LockInterval:       cfg.Lockout.LockInterval(),
			LegacyExtraAttempt: cfg.Lockout.LegacyExtraAttempt,
		}, now)
	}
	otpLimit := limiters.NewSecondFactorLimiter(b.redis, limiters.SecondFactorConfig{
		MaxAttempts: cfg.SecondFactor.MaxAttempts,
		Cooldown:    cfg.SecondFactor.Cooldown,
	})
	ipLimit := rate.New(b.redis, rate.Config{
		Enabled:     cfg.IPThrottle.Enabled,
		MaxAttempts: cfg.IPThrottle.MaxAttempts,
		Window:      cfg.IPThrottle.Window,
	})

	// -------- AUDIT --------
	// Login outcomes reach the durable table synchronously; everything
	// else goes through the dispatcher.
	auditDB := audit.NewSQLSink(b.db)
	var sinks audit.MultiSink
	if b.auditSink != nil {
		sinks = append(sinks, b.auditSink)
	}
	if cfg.Audit.Durable {
		sinks = append(sinks, audit.Skip(auditDB, audit.EventLoginSuccess, audit.EventLoginFailure))
	}
	dispatcher := audit.NewDispatcher(audit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}, sinks, b.logger)

	metrics := NewMetrics(cfg.Metrics)
	metrics.dropped = dispatcher.Dropped

	second := b.second
	if second == nil {
		second = NewTOTPVerifier(b.redis, now)
	}

	b.built = true

	return &Engine{
		config:   cfg,
		store:    store,
		tracker:  tracker,
		ipLimit:  ipLimit,
		otpLimit: otpLimit,
		audit:    dispatcher,
		auditDB:  auditDB,
		metrics:  metrics,
		verifier: b.verifier,
		second:   second,
		hooks:    b.hooks.clone(),
		csrf:     csrf.Gate{Disabled: cfg.CSRF.Disabled},
		now:      now,
	}, nil
}

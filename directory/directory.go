// Package directory is the SQL-backed credential verifier used by the
// reference server. Accounts live in the users table created by the
// embedded migrations; secrets are argon2id hashes from package password.
package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"

	goSession "github.com/MrEthical07/goSession"
	"github.com/MrEthical07/goSession/internal"
	"github.com/MrEthical07/goSession/password"
	"github.com/MrEthical07/goSession/session"
)

var (
	// ErrUserExists is returned by Add for a name already taken in the tenant.
	ErrUserExists = errors.New("user already exists")
	// ErrUnknownUser is returned by SetPassword for a missing account.
	ErrUnknownUser = errors.New("unknown user")
	// ErrUnavailable wraps database failures.
	ErrUnavailable = errors.New("user directory unavailable")
)

const defaultTenant = "default"

// User is one account row.
type User struct {
	TenantID              string `db:"tenant_id"`
	Name                  string `db:"name"`
	FullName              string `db:"full_name"`
	UserType              string `db:"user_type"`
	UserImage             string `db:"user_image"`
	PasswordHash          string `db:"password_hash"`
	Enabled               bool   `db:"enabled"`
	LoginAfter            int    `db:"login_after"`
	LoginBefore           int    `db:"login_before"`
	TOTPSecret            string `db:"totp_secret"`
	SimultaneousSessions  int    `db:"simultaneous_sessions"`
	Language              string `db:"language"`
	HomePage              string `db:"home_page"`
	PasswordResetRequired bool   `db:"password_reset_required"`
}

// Identity converts the row to what the engine consumes.
func (u *User) Identity() goSession.Identity {
	return goSession.Identity{
		User:                  u.Name,
		TenantID:              u.TenantID,
		FullName:              u.FullName,
		UserType:              u.UserType,
		Enabled:               u.Enabled,
		LoginAfter:            u.LoginAfter,
		LoginBefore:           u.LoginBefore,
		SecondFactor:          u.TOTPSecret != "",
		TOTPSecret:            u.TOTPSecret,
		SimultaneousSessions:  u.SimultaneousSessions,
		Language:              u.Language,
		UserImage:             u.UserImage,
		HomePage:              u.HomePage,
		PasswordResetRequired: u.PasswordResetRequired,
	}
}

// Directory implements goSession.CredentialVerifier.
type Directory struct {
	db     *sqlx.DB
	hasher *password.Argon2
	// dummy is verified for unknown users so both paths cost one argon2 run.
	dummy string
}

// New returns a directory over db.
func New(db *sqlx.DB, hasher *password.Argon2) (*Directory, error) {
	dummy, err := hasher.Hash("unknown-user-placeholder")
	if err != nil {
		return nil, fmt.Errorf("prepare placeholder hash: %w", err)
	}
	return &Directory{db: db, hasher: hasher, dummy: dummy}, nil
}

// Verify checks secret against the stored hash. Unknown users and wrong
// secrets both return goSession.ErrInvalidCredentials.
func (d *Directory) Verify(ctx context.Context, tenantID, user, secret string) (goSession.Identity, error) {
	logger := zerolog.Ctx(ctx)
	tenantID = normalizeTenant(tenantID)

	u, err := d.get(ctx, tenantID, user)
	if errors.Is(err, ErrUnknownUser) {
		_, _ = d.hasher.Verify(secret, d.dummy)
		return goSession.Identity{}, goSession.ErrInvalidCredentials
	} else if err != nil {
		return goSession.Identity{}, err
	}

	ok, err := d.hasher.Verify(secret, u.PasswordHash)
	switch {
	case errors.Is(err, password.ErrMalformedHash):
		logger.Warn().Err(err).Str(internal.LogUserName, user).Msg("stored password hash unusable")
		return goSession.Identity{}, goSession.ErrInvalidCredentials
	case err != nil:
		return goSession.Identity{}, fmt.Errorf("%w: %v", goSession.ErrInvalidCredentials, err)
	case !ok:
		return goSession.Identity{}, goSession.ErrInvalidCredentials
	}

	if upgrade, _ := d.hasher.NeedsUpgrade(u.PasswordHash); upgrade {
		if err := d.SetPassword(ctx, tenantID, user, secret, u.PasswordResetRequired); err != nil {
			logger.Warn().Err(err).Str(internal.LogUserName, user).Msg("rehash password failed")
		} else {
			logger.Info().Str(internal.LogUserName, user).Msg("password hash upgraded")
		}
	}

	return u.Identity(), nil
}

// Get returns the account row.
func (d *Directory) Get(ctx context.Context, tenantID, user string) (*User, error) {
	return d.get(ctx, normalizeTenant(tenantID), user)
}

func (d *Directory) get(ctx context.Context, tenantID, user string) (*User, error) {
	var u User

	q := d.db.Rebind(`SELECT tenant_id, name, full_name, user_type, user_image, password_hash, enabled,
			login_after, login_before, totp_secret, simultaneous_sessions, language, home_page,
			password_reset_required
		FROM users WHERE tenant_id = ? AND name = ?`)
	err := d.db.GetContext(ctx, &u, q, tenantID, user)
	switch {
	case err == nil:
		return &u, nil
	case errors.Is(err, sql.ErrNoRows):
		return nil, ErrUnknownUser
	default:
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
}

// NewUser is the input of Add.
type NewUser struct {
	TenantID              string
	Name                  string
	Password              string
	FullName              string
	UserType              string
	TOTPSecret            string
	SimultaneousSessions  int
	Language              string
	PasswordResetRequired bool
}

// Add hashes nu.Password and inserts the account.
func (d *Directory) Add(ctx context.Context, nu NewUser) error {
	name := strings.TrimSpace(nu.Name)
	if name == "" || name == session.GuestID {
		return fmt.Errorf("invalid user name %q", nu.Name)
	}
	userType := nu.UserType
	if userType == "" {
		userType = goSession.UserTypeSystem
	}

	hash, err := d.hasher.Hash(nu.Password)
	if err != nil {
		return err
	}

	tx, err := d.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer tx.Rollback() //nolint:errcheck

	var count int
	if err := tx.GetContext(ctx, &count, tx.Rebind("SELECT COUNT(*) FROM users WHERE tenant_id = ? AND name = ?"),
		normalizeTenant(nu.TenantID), name); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if count > 0 {
		return fmt.Errorf("%w: %s", ErrUserExists, name)
	}

	_, err = tx.ExecContext(ctx, tx.Rebind(`INSERT INTO users
			(tenant_id, name, full_name, user_type, password_hash, enabled, totp_secret,
			simultaneous_sessions, language, password_reset_required)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		normalizeTenant(nu.TenantID), name, nu.FullName, userType, hash, true, nu.TOTPSecret,
		nu.SimultaneousSessions, nu.Language, nu.PasswordResetRequired)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// SetPassword replaces the stored hash and sets the reset flag.
func (d *Directory) SetPassword(ctx context.Context, tenantID, user, secret string, resetRequired bool) error {
	hash, err := d.hasher.Hash(secret)
	if err != nil {
		return err
	}

	q := d.db.Rebind("UPDATE users SET password_hash = ?, password_reset_required = ? WHERE tenant_id = ? AND name = ?")
	res, err := d.db.ExecContext(ctx, q, hash, resetRequired, normalizeTenant(tenantID), user)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrUnknownUser
	}
	return nil
}

// SetEnabled enables or disables an account.
func (d *Directory) SetEnabled(ctx context.Context, tenantID, user string, enabled bool) error {
	q := d.db.Rebind("UPDATE users SET enabled = ? WHERE tenant_id = ? AND name = ?")
	res, err := d.db.ExecContext(ctx, q, enabled, normalizeTenant(tenantID), user)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrUnknownUser
	}
	return nil
}

func normalizeTenant(tenantID string) string {
	if tenantID == "" {
		return defaultTenant
	}
	return tenantID
}

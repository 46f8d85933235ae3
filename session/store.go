package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/MrEthical07/goSession/internal"
)

// ErrCacheUnavailable wraps fast-cache failures.
var ErrCacheUnavailable = errors.New("session cache unavailable")

// ErrDurableUnavailable wraps relational store failures.
var ErrDurableUnavailable = errors.New("session durable store unavailable")

// ErrSessionGone is returned by Touch when the session was expired or evicted
// by another request after it was resumed.
var ErrSessionGone = errors.New("session no longer exists")

// DefaultDurableWriteInterval bounds how often Touch writes the durable row.
const DefaultDurableWriteInterval = 10 * time.Minute

// GeoResolver maps a client address to a country code. Lookups are best effort.
type GeoResolver interface {
	Country(ctx context.Context, ip string) string
}

// Options configures a [Store].
type Options struct {
	Prefix               string
	Expiry               ExpiryPolicy
	DurableWriteInterval time.Duration
	Geo                  GeoResolver
	Now                  func() time.Time
}

// Store keeps the authoritative session rows in SQL and a mirror of each live
// session in Redis. Reads hit the mirror first; durable writes are throttled.
type Store struct {
	redis      redis.UniversalClient
	db         *sqlx.DB
	prefix     string
	expiry     ExpiryPolicy
	writeEvery time.Duration
	geo        GeoResolver
	now        func() time.Time
}

// NewStore creates a session [Store].
func NewStore(rdb redis.UniversalClient, db *sqlx.DB, opts Options) *Store {
	if opts.Prefix == "" {
		opts.Prefix = "gs"
	}
	if opts.DurableWriteInterval <= 0 {
		opts.DurableWriteInterval = DefaultDurableWriteInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Store{
		redis:      rdb,
		db:         db,
		prefix:     opts.Prefix,
		expiry:     opts.Expiry,
		writeEvery: opts.DurableWriteInterval,
		geo:        opts.Geo,
		now:        opts.Now,
	}
}

// StartInput describes a session to create.
type StartInput struct {
	TenantID string
	User     string
	Device   Device
	ClientIP string
	// Data is merged into the new record's payload.
	Data map[string]any
}

// ResumeResult is returned by [Store.Resume].
type ResumeResult struct {
	Record *Record
	// Expired is set when the client presented a non-guest sid that could not
	// be resumed.
	Expired bool
}

// EvictOptions narrows [Store.EvictAll].
type EvictOptions struct {
	// KeepSessionID is never evicted.
	KeepSessionID string
	// Device limits eviction to one device class when set.
	Device Device
	// Keep is the number of most recent sessions, other than KeepSessionID,
	// left untouched.
	Keep int
}

type sessionRow struct {
	SID         string `db:"sid"`
	TenantID    string `db:"tenant_id"`
	User        string `db:"user_name"`
	Device      string `db:"device"`
	Data        string `db:"data"`
	CreatedAt   int64  `db:"created_at"`
	LastUpdated int64  `db:"last_updated"`
}

func (s *Store) key(tenantID, sessionID string) string {
	return s.prefix + ":" + normalizeTenantID(tenantID) + ":" + sessionID
}

func normalizeTenantID(tenantID string) string {
	if tenantID == "" {
		return "default"
	}
	return tenantID
}

// Window returns the expiry window that applies to r.
func (s *Store) Window(r *Record) time.Duration {
	if v := r.String(DataSessionExpiry); v != "" {
		if d, err := ParseExpiry(v); err == nil {
			return d
		}
	}
	return s.expiry.For(r.Device)
}

// Start creates a session for in.User. Guest starts return the in-memory
// sentinel without any write.
func (s *Store) Start(ctx context.Context, in StartInput) (*Record, error) {
	now := s.now()
	tenantID := normalizeTenantID(in.TenantID)
	if in.User == "" || in.User == GuestID {
		return Guest(tenantID, now), nil
	}

	sid, err := internal.NewSessionID()
	if err != nil {
		return nil, fmt.Errorf("generate session id: %w", err)
	}

	device := in.Device
	if device == "" {
		device = DeviceDesktop
	}

	data := maps.Clone(in.Data)
	if data == nil {
		data = map[string]any{}
	}
	delete(data, DataCSRFToken)
	data[DataSessionExpiry] = FormatExpiry(s.expiry.For(device))
	data[DataLastUpdated] = now.UTC().Format(time.RFC3339)
	data[DataDevice] = string(device)
	if s.geo != nil && in.ClientIP != "" {
		if country := s.geo.Country(ctx, in.ClientIP); country != "" {
			data[DataCountry] = country
		}
	}

	rec := &Record{
		SessionID:   sid,
		TenantID:    tenantID,
		User:        in.User,
		Device:      device,
		Data:        data,
		CreatedAt:   now,
		LastUpdated: now,
		PersistedAt: now,
	}

	if err := s.insertDurable(ctx, rec); err != nil {
		return nil, err
	}
	if err := s.cacheSet(ctx, rec); err != nil {
		return nil, err
	}

	zerolog.Ctx(ctx).Debug().
		Str(internal.LogUserName, rec.User).
		Str(internal.LogTenantID, rec.TenantID).
		Str("device", string(device)).
		Msg("session started")

	return rec, nil
}

// Resume loads sid, checking the cache mirror before the durable row. Sessions
// past their window are expired and a guest record is returned instead.
func (s *Store) Resume(ctx context.Context, tenantID, sid string) (ResumeResult, error) {
	now := s.now()
	tenantID = normalizeTenantID(tenantID)

	if sid == "" || sid == GuestID {
		return ResumeResult{Record: Guest(tenantID, now)}, nil
	}
	if !internal.ValidSessionID(sid) {
		return ResumeResult{Record: Guest(tenantID, now), Expired: true}, nil
	}

	rec, err := s.cacheGet(ctx, tenantID, sid)
	if err != nil && !errors.Is(err, ErrCorruptRecord) {
		return ResumeResult{}, err
	}

	fromCache := rec != nil
	if rec == nil {
		rec, err = s.loadDurable(ctx, tenantID, sid)
		if err != nil {
			return ResumeResult{}, err
		}
	}

	if rec == nil {
		return ResumeResult{Record: Guest(tenantID, now), Expired: true}, nil
	}

	if rec.LastUpdated.Add(s.Window(rec)).Before(now) {
		zerolog.Ctx(ctx).Info().
			Str(internal.LogUserName, rec.User).
			Str(internal.LogSessionID, internal.MaskSecret(sid)).
			Msg("session expired on resume")

		if err := s.Expire(ctx, tenantID, sid); err != nil {
			return ResumeResult{}, err
		}
		return ResumeResult{Record: Guest(tenantID, now), Expired: true}, nil
	}

	if !fromCache {
		if err := s.cacheSet(ctx, rec); err != nil {
			return ResumeResult{}, err
		}
	}

	return ResumeResult{Record: rec}, nil
}

// Touch refreshes last_updated. The cache mirror is written on every call; the
// durable row only when forced or when DurableWriteInterval has passed since
// the previous durable write. It reports whether a durable write happened.
func (s *Store) Touch(ctx context.Context, rec *Record, force bool) (bool, error) {
	if rec.IsGuest() {
		return false, nil
	}

	now := s.now()
	rec.LastUpdated = now
	rec.Set(DataLastUpdated, now.UTC().Format(time.RFC3339))

	durable := force || rec.PersistedAt.IsZero() || now.Sub(rec.PersistedAt) >= s.writeEvery
	if !durable {
		ok, err := s.cacheReplace(ctx, rec)
		if err != nil {
			return false, err
		}
		if ok {
			return false, nil
		}
		// Mirror is gone; fall through so the durable row decides.
	}

	updated, err := s.updateDurable(ctx, rec)
	if err != nil {
		return false, err
	}
	if !updated {
		_ = s.cacheDelete(ctx, rec.TenantID, rec.SessionID)
		return false, ErrSessionGone
	}

	rec.PersistedAt = now
	if err := s.cacheSet(ctx, rec); err != nil {
		return true, err
	}

	return true, nil
}

// Expire deletes the session from both stores. Missing sessions are not an error.
func (s *Store) Expire(ctx context.Context, tenantID, sid string) error {
	if sid == "" || sid == GuestID {
		return nil
	}
	tenantID = normalizeTenantID(tenantID)

	if err := s.cacheDelete(ctx, tenantID, sid); err != nil {
		return err
	}

	q := s.db.Rebind("DELETE FROM sessions WHERE sid = ? AND tenant_id = ?")
	if _, err := s.db.ExecContext(ctx, q, sid, tenantID); err != nil {
		return fmt.Errorf("%w: %v", ErrDurableUnavailable, err)
	}

	return nil
}

// EvictAll expires the sessions of user beyond the newest opts.Keep, never
// touching opts.KeepSessionID. It returns the evicted ids.
//
// The candidate list is read before deletion, so a session touched in between
// may be evicted anyway and one created in between survives until the next call.
func (s *Store) EvictAll(ctx context.Context, tenantID, user string, opts EvictOptions) ([]string, error) {
	tenantID = normalizeTenantID(tenantID)
	if user == "" || user == GuestID {
		return nil, nil
	}

	query := "SELECT sid FROM sessions WHERE tenant_id = ? AND user_name = ?"
	args := []any{tenantID, user}
	if opts.KeepSessionID != "" {
		query += " AND sid <> ?"
		args = append(args, opts.KeepSessionID)
	}
	if opts.Device != "" {
		query += " AND device = ?"
		args = append(args, string(opts.Device))
	}
	query += " ORDER BY last_updated DESC"

	var sids []string
	if err := s.db.SelectContext(ctx, &sids, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDurableUnavailable, err)
	}

	keep := max(opts.Keep, 0)
	if keep >= len(sids) {
		return nil, nil
	}

	evicted := sids[keep:]
	for _, sid := range evicted {
		if err := s.Expire(ctx, tenantID, sid); err != nil {
			return nil, err
		}
	}

	return evicted, nil
}

// DeleteExpired removes durable rows whose device window has passed. The
// durable last_updated may trail the cache by up to one write interval, so
// rows get that much grace. Cache entries age out through their own TTL.
func (s *Store) DeleteExpired(ctx context.Context) (int64, error) {
	cutoff := s.now().Add(-s.writeEvery)
	desktopCutoff := cutoff.Add(-s.expiry.Desktop).UnixMilli()
	mobileCutoff := cutoff.Add(-s.expiry.Mobile).UnixMilli()

	q := s.db.Rebind(`DELETE FROM sessions
		WHERE (device = ? AND last_updated < ?) OR (device <> ? AND last_updated < ?)`)
	res, err := s.db.ExecContext(ctx, q,
		string(DeviceMobile), mobileCutoff,
		string(DeviceMobile), desktopCutoff)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrDurableUnavailable, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrDurableUnavailable, err)
	}

	return n, nil
}

// Ping checks both backends and returns the combined latency.
func (s *Store) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := s.redis.Ping(ctx).Err(); err != nil {
		return time.Since(start), fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	if err := s.db.PingContext(ctx); err != nil {
		return time.Since(start), fmt.Errorf("%w: %v", ErrDurableUnavailable, err)
	}
	return time.Since(start), nil
}

func (s *Store) cacheGet(ctx context.Context, tenantID, sid string) (*Record, error) {
	data, err := s.redis.Get(ctx, s.key(tenantID, sid)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}

	rec, err := decodeRecord(data)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("dropping corrupt cached session")
		_ = s.cacheDelete(ctx, tenantID, sid)
		return nil, err
	}

	return rec, nil
}

func (s *Store) cacheSet(ctx context.Context, rec *Record) error {
	data, err := encodeRecord(rec)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(rec.TenantID, rec.SessionID), data, s.Window(rec)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return nil
}

// cacheReplace writes the mirror only if it still exists, so a touch racing an
// eviction cannot resurrect the cache entry.
func (s *Store) cacheReplace(ctx context.Context, rec *Record) (bool, error) {
	data, err := encodeRecord(rec)
	if err != nil {
		return false, err
	}
	ok, err := s.redis.SetXX(ctx, s.key(rec.TenantID, rec.SessionID), data, s.Window(rec)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return ok, nil
}

func (s *Store) cacheDelete(ctx context.Context, tenantID, sid string) error {
	if err := s.redis.Del(ctx, s.key(tenantID, sid)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return nil
}

func (s *Store) insertDurable(ctx context.Context, rec *Record) error {
	data, err := encodeData(rec.Data)
	if err != nil {
		return err
	}

	q := s.db.Rebind(`INSERT INTO sessions (sid, tenant_id, user_name, device, data, created_at, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	_, err = s.db.ExecContext(ctx, q,
		rec.SessionID, rec.TenantID, rec.User, string(rec.Device), data,
		rec.CreatedAt.UnixMilli(), rec.LastUpdated.UnixMilli())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDurableUnavailable, err)
	}

	return nil
}

func (s *Store) updateDurable(ctx context.Context, rec *Record) (bool, error) {
	data, err := encodeData(rec.Data)
	if err != nil {
		return false, err
	}

	q := s.db.Rebind("UPDATE sessions SET data = ?, last_updated = ? WHERE sid = ? AND tenant_id = ?")
	res, err := s.db.ExecContext(ctx, q, data, rec.LastUpdated.UnixMilli(), rec.SessionID, rec.TenantID)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrDurableUnavailable, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrDurableUnavailable, err)
	}

	return n > 0, nil
}

func (s *Store) loadDurable(ctx context.Context, tenantID, sid string) (*Record, error) {
	var row sessionRow

	q := s.db.Rebind(`SELECT sid, tenant_id, user_name, device, data, created_at, last_updated
		FROM sessions WHERE sid = ? AND tenant_id = ?`)
	err := s.db.GetContext(ctx, &row, q, sid, tenantID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, fmt.Errorf("%w: %v", ErrDurableUnavailable, err)
	}

	data, err := decodeData(row.Data)
	if err != nil {
		return nil, err
	}

	lastUpdated := time.UnixMilli(row.LastUpdated)

	return &Record{
		SessionID:   row.SID,
		TenantID:    row.TenantID,
		User:        row.User,
		Device:      ParseDevice(row.Device),
		Data:        data,
		CreatedAt:   time.UnixMilli(row.CreatedAt),
		LastUpdated: lastUpdated,
		PersistedAt: lastUpdated,
	}, nil
}

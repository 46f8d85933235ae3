package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
)

// ErrAuditUnavailable wraps durable audit write failures.
var ErrAuditUnavailable = errors.New("audit store unavailable")

// SQLSink writes events into the login_audit table.
type SQLSink struct {
	db *sqlx.DB
}

func NewSQLSink(db *sqlx.DB) *SQLSink {
	return &SQLSink{db: db}
}

// Record writes event and returns once the row is stored.
func (s *SQLSink) Record(ctx context.Context, event Event) error {
	if s == nil || s.db == nil {
		return nil
	}
	event.Normalize(time.Now())

	q := s.db.Rebind(`INSERT INTO login_audit
		(id, occurred_at, tenant_id, identity, event_type, success, reason, ip, session_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := s.db.ExecContext(ctx, q,
		event.ID, event.Timestamp.UnixMilli(), event.TenantID, event.Identity,
		event.EventType, event.Success, event.Reason, event.IP, event.SessionID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAuditUnavailable, err)
	}

	return nil
}

// Emit implements [Sink]; write errors are logged.
func (s *SQLSink) Emit(ctx context.Context, event Event) {
	if err := s.Record(ctx, event); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("event_type", event.EventType).Msg("audit write failed")
	}
}

// Row is one stored audit record.
type Row struct {
	ID         string `db:"id"`
	OccurredAt int64  `db:"occurred_at"`
	TenantID   string `db:"tenant_id"`
	Identity   string `db:"identity"`
	EventType  string `db:"event_type"`
	Success    bool   `db:"success"`
	Reason     string `db:"reason"`
	IP         string `db:"ip"`
	SessionID  string `db:"session_id"`
}

// Recent returns the newest limit events for identity.
func (s *SQLSink) Recent(ctx context.Context, tenantID, identity string, limit int) ([]Row, error) {
	var rows []Row

	q := s.db.Rebind(`SELECT id, occurred_at, tenant_id, identity, event_type, success, reason, ip, session_id
		FROM login_audit WHERE tenant_id = ? AND identity = ?
		ORDER BY occurred_at DESC LIMIT ?`)
	if err := s.db.SelectContext(ctx, &rows, q, tenantID, identity, limit); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuditUnavailable, err)
	}

	return rows, nil
}

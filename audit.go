package goSession

import (
	"io"

	"github.com/MrEthical07/goSession/internal/audit"
)

// Audit event types.
const (
	AuditLoginSuccess   = audit.EventLoginSuccess
	AuditLoginFailure   = audit.EventLoginFailure
	AuditLogout         = audit.EventLogout
	AuditLogoutAll      = audit.EventLogoutAll
	AuditSessionEvicted = audit.EventSessionEvicted
	AuditSessionExpired = audit.EventSessionExpired
	AuditCSRFRejected   = audit.EventCSRFRejected
)

type (
	// AuditEvent is one security-relevant event.
	AuditEvent = audit.Event
	// AuditSink receives events from the async dispatcher. Emit must not block
	// for long; it runs on the dispatcher goroutine.
	AuditSink = audit.Sink
	// AuditRecord is one row of the durable login_audit table.
	AuditRecord = audit.Row
)

// NewChannelSink returns a sink that buffers events on a channel.
func NewChannelSink(buffer int) *audit.ChannelSink {
	return audit.NewChannelSink(buffer)
}

// NewJSONWriterSink returns a sink writing one JSON object per line to w.
func NewJSONWriterSink(w io.Writer) *audit.JSONWriterSink {
	return audit.NewJSONWriterSink(w)
}

package session

import (
	"maps"
	"time"
)

// GuestID is the reserved sid and user shared by every unauthenticated client.
const GuestID = "Guest"

// Well-known keys inside [Record.Data].
const (
	DataCSRFToken     = "csrf_token"
	DataLastUpdated   = "last_updated"
	DataSessionExpiry = "session_expiry"
	DataFullName      = "full_name"
	DataUserType      = "user_type"
	DataCountry       = "session_country"
	DataLanguage      = "lang"
	DataDevice        = "device"
)

// Device selects the expiry policy and cookie SameSite behavior of a session.
type Device string

const (
	// DeviceDesktop is used for browser clients.
	DeviceDesktop Device = "desktop"
	// DeviceMobile is used for native apps and embedded web views.
	DeviceMobile Device = "mobile"
)

// ParseDevice maps free-form client input to a known device, defaulting to desktop.
func ParseDevice(v string) Device {
	if Device(v) == DeviceMobile {
		return DeviceMobile
	}
	return DeviceDesktop
}

// Record is one server-side session. Guest records are never persisted.
type Record struct {
	SessionID string         `json:"sid"`
	TenantID  string         `json:"tenant_id"`
	User      string         `json:"user"`
	Device    Device         `json:"device"`
	Data      map[string]any `json:"data"`

	CreatedAt   time.Time `json:"created_at"`
	LastUpdated time.Time `json:"last_updated"`

	// PersistedAt is the last time the durable row was written. It only lives in
	// the cache mirror and throttles durable writes.
	PersistedAt time.Time `json:"persisted_at"`
}

// Guest returns a fresh in-memory guest record.
func Guest(tenantID string, now time.Time) *Record {
	return &Record{
		SessionID:   GuestID,
		TenantID:    tenantID,
		User:        GuestID,
		Device:      DeviceDesktop,
		Data:        map[string]any{},
		CreatedAt:   now,
		LastUpdated: now,
	}
}

// IsGuest reports whether r is the unauthenticated sentinel.
func (r *Record) IsGuest() bool {
	return r == nil || r.User == GuestID || r.SessionID == GuestID
}

// String returns the string stored under key, or "".
func (r *Record) String(key string) string {
	if r == nil || r.Data == nil {
		return ""
	}
	v, _ := r.Data[key].(string)
	return v
}

// Set stores a payload value.
func (r *Record) Set(key string, value any) {
	if r.Data == nil {
		r.Data = map[string]any{}
	}
	r.Data[key] = value
}

// Delete removes a payload value.
func (r *Record) Delete(key string) {
	delete(r.Data, key)
}

// Clone returns a deep-enough copy for handing to observers.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.Data = maps.Clone(r.Data)
	return &c
}

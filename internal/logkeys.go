package internal

// Structured log field names shared by every package.
const (
	LogUserName   = "user_name"
	LogSessionID  = "session_id"
	LogTenantID   = "tenant_id"
	LogAuthResult = "auth_result"
)

// Package goSession authenticates users of a multi-tenant server and manages
// their server-side sessions.
//
// An [Engine] is assembled with [Builder] from a Redis client (session
// mirrors, attempt counters, IP throttle), a migrated SQL database (durable
// sessions, login audit) and a [CredentialVerifier]. Engine methods are safe
// to call from multiple goroutines.
//
// # Request lifecycle
//
// Every request carries a [RequestContext]. The middleware package builds it:
// [Engine.Resume] loads the session named by the sid cookie,
// [Engine.ValidateCSRF] guards state-changing requests and [Engine.Touch]
// refreshes the session before the response is written. Cookie changes are
// staged in RequestContext.Cookies and written once.
//
// # Login
//
// [Engine.Login] runs the login state machine: lockout check, credential
// verification, optional second factor, account checks, session creation and
// eviction of sessions beyond the concurrent-session policy. Every attempt is
// written to the login audit table before Login returns. Rejections map to a
// [Kind] through [KindOf] and to a status code through [HTTPStatus].
//
// # What this package must NOT do
//
//   - Expose Redis keys, SQL rows or encoding details in its public API.
//   - Perform I/O in [Builder]; connections are used from Engine methods only.
//   - Import middleware, directory or cmd packages.
package goSession

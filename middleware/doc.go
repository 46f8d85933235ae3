// Package middleware adapts goSession.Engine to net/http.
//
// # Request bootstrap
//
// [Bootstrap] runs before every handler. It resolves the tenant and client
// address, resumes the session named by the sid cookie, negotiates the
// response language and applies the CSRF gate to mutating requests. The
// resulting goSession.RequestContext is attached to the request context.
// Before the first byte of the response is written the session is touched and
// the request's cookie jar is flushed.
//
// # Handlers
//
//   - [Login]: form login (usr, pwd, otp, device).
//   - [Logout]: ends the current session.
//   - [Boot]: the page-load payload with the CSRF token.
//
// [Routes] mounts all three behind [Bootstrap] on a chi router.
//
// # What this package must NOT do
//
//   - Make authentication decisions; every decision is delegated to Engine.
//   - Access Redis or SQL directly.
package middleware

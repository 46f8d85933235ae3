// Package limiters provides the per-identity login attempt tracker.
//
// [AttemptTracker] keeps (first_failure_at, failure_count) per tenant and
// identity in Redis. The window is anchored at the first failure: a failure
// after the window restarts it at one, a success deletes it. Both fields are
// read and updated by one Lua script so concurrent failures are counted
// exactly once.
//
// A nil tracker allows every attempt.
//
// # What this package must NOT do
//
//   - Import goSession or any sibling internal package.
//   - Decide what a lockout means for the caller; the login flow does.
package limiters

// Package flows contains the login state machine.
//
// [RunLogin] takes a [LoginDeps] struct of functions and drives a login from
// START to DONE or REJECTED. It owns no resources: the session store, attempt
// tracker, audit sink and metrics are supplied by the engine, which keeps the
// machine testable with plain function stubs.
//
// # What this package must NOT do
//
//   - Hold mutable state between calls.
//   - Import goSession (to avoid import cycles).
//   - Perform I/O directly; all I/O is mediated through LoginDeps.
package flows

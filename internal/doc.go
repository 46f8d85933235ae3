// Package internal contains helper utilities that are intentionally private to goSession,
// such as session id and anti-forgery token generation.
//
// # Sub-packages
//
//   - audit: async event dispatch (Dispatcher + Sink implementations) and the durable SQL sink
//   - db: sqlx connection setup and embedded goose migrations
//   - flows: the login state machine
//   - limiters: the per-identity attempt tracker
//   - rate: per-IP fixed-window login throttle
//
// # What this package must NOT do
//
//   - Export types that appear in the public goSession API.
//   - Be imported by any package outside the goSession module.
package internal

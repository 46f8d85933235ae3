// Package audit records security-relevant events.
//
// # Components
//
//   - [Sink]: interface for event consumers (channel, JSON writer, SQL, no-op).
//   - [Dispatcher]: buffered async relay with drop-if-full / block-if-full semantics.
//   - [SQLSink]: login_audit table writer. Login outcomes go through
//     [SQLSink.Record] synchronously so the row exists before the response.
//   - [Event]: structured audit record with id, timestamp, type, identity, tenant, IP, metadata.
//
// # What this package must NOT do
//
//   - Filter or suppress events based on business logic.
//   - Import goSession or any sibling internal package.
package audit

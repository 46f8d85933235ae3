// Package session owns server-side session records: the [Record] model, the
// per-device expiry windows and the [Store] that persists records.
//
// # Storage
//
// The SQL sessions table is authoritative. Every live session is mirrored in
// Redis under prefix:tenant:sid with a TTL equal to its expiry window. Reads
// try the mirror first and fall back to SQL, re-warming the mirror on a hit.
// Touch writes the mirror on every call and the SQL row at most once per
// DurableWriteInterval unless forced.
//
// # Guests
//
// Unauthenticated clients share the "Guest" sid. Guest records are built in
// memory and never written.
//
// # What this package must NOT do
//
//   - Import goSession or middleware (no upward imports).
//   - Verify credentials or decide lockouts.
//   - Touch cookies or HTTP state.
package session

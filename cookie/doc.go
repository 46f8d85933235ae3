// Package cookie stages outgoing cookie mutations for one request and writes
// them onto the response exactly once.
//
// Staged sets are written in insertion order, followed by staged deletions,
// so a cookie that is both set and deleted during a request ends up deleted.
// A jar whose request context is already done is never flushed.
package cookie

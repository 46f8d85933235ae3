// Package rate provides the per-address login throttle that sits next to the
// per-identity attempt tracker.
//
// # Window semantics
//
// Fixed-window counters: INCR + conditional EXPIRE on first hit. Keys are
// gsip:<tenant>:<ip>.
//
// # What this package must NOT do
//
//   - Implement identity lockout (that lives in internal/limiters).
//   - Be imported outside the goSession module.
package rate

// Package rate throttles verification code issuance with Redis fixed-window
// counters, so resend and forgot-password cannot be used to flood a mailbox.
//
// # Window semantics
//
// Fixed-window counters: INCR + conditional EXPIRE on first hit. Key prefixes:
//   - ac:  per (kind, email)
//   - aci: per client IP, when enabled
//
// # What this package must NOT do
//
//   - Decide what a rejection means to the caller; the engine maps it.
//   - Be imported outside the agencyauth module.
package rate

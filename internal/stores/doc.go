// Package stores holds the Redis-backed verification code ledger.
//
// # Design
//
// Each code is a Redis hash holding the SHA-256 of the code, never the code
// itself. Codes for one (kind, email) pair are indexed in a sorted set scored by
// creation time, and every key for the pair shares one hash tag so the Lua
// scripts that consume and force-expire codes touch a single slot. Records live
// for a retention window well past their expiry; the expiry field, not the
// Redis TTL, decides validity.
//
// # Architecture boundaries
//
// This package owns persistence and atomicity for codes and reset grant
// claims. It does NOT generate codes, throttle issuance or make authentication
// decisions.
//
// # What this package must NOT do
//
//   - Import the agencyauth root package or any sibling internal package.
//   - Log or persist plaintext codes.
package stores

// Package session provides the Redis-backed session ledger.
//
// # Layout
//
// Each session is a Redis hash. A per-account pointer names the account's
// active session and a sorted set of live session ids, scored by last activity,
// lets the reconciler find idle sessions without scanning. Create, close and
// touch run as Lua scripts so the single-active-session check and the insert
// cannot interleave with a concurrent login.
//
// # Architecture boundaries
//
// This package owns persistence of [store.Session] records. It does NOT parse
// session claims or decide when a session should end; the engine and the
// reconciler do.
//
// # What this package must NOT do
//
//   - Import the agencyauth root package, jwt, or middleware.
//   - Store secrets in session records.
package session

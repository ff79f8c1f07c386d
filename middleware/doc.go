// Package middleware adapts agencyauth sessions to net/http.
//
// # Guards
//
//   - [SessionGuard] reads the session claim from the cookie or bearer header,
//     checks it against the session ledger and injects an [Identity].
//   - [RequireSession] turns anonymous requests away.
//
// [KeepAliveHandler] and [CheckSessionHandler] back the browser's activity
// polling.
//
// # What this package must NOT do
//
//   - Parse or create JWTs directly (delegates to the validator).
//   - Access Redis or SQL.
package middleware

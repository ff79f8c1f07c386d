// Package store defines the durable record shapes and the storage contracts the
// authentication engine depends on: credentials, verification codes, sessions and
// the audit log.
//
// # Architecture boundaries
//
// This package is a leaf. It owns [Account], [VerificationCode], [Session] and
// [AuditEntry] plus the [CredentialStore], [CodeLedger], [SessionLedger] and
// [AuditLog] interfaces. Concrete backends live in sub-packages (store/postgres,
// store/memory) or next to the engine (session for Redis sessions, internal/stores
// for Redis codes).
//
// # What this package must NOT do
//
//   - Import agencyauth or any backend package.
//   - Make policy decisions (lockout thresholds, code TTLs). Callers pass the
//     computed values in.
//   - Hold plaintext verification codes in persisted form. Ledgers match on
//     [VerificationCode.CodeHash].
package store

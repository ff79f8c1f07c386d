// Package agencyauth is the credential and session lifecycle engine of the
// agency portal: registration with email verification, password login gated
// by an emailed second factor, password change and reset with history, lockout
// after repeated failures, and one active session per account.
//
// Engine methods are safe to call from multiple goroutines after
// initialization through [Builder.Build].
//
// # Architecture boundaries
//
// agencyauth is the public surface. It exposes [Engine], [Builder], [Config],
// [Reconciler] and value types. Persistence is behind the contracts in package
// store; Redis ledgers live in session and internal/stores, Postgres in
// store/postgres. Email, bot checks and field encryption are injected through
// [Mailer], [BotVerifier] and [Protector].
//
// # Login flow
//
// Login checks the password and sends a code; VerifyCode with CodeLogin2FA
// consumes it and opens the session. Sessions are closed by Logout or by the
// [Reconciler] once they have been idle past Policy.SessionIdle. Clients keep a
// session alive with KeepAlive.
//
// # Errors
//
// Rejections are package sentinels matched with errors.Is. Login wraps them in
// [*LoginError] and ChangePassword's age gate in [*PasswordAgeError].
// Infrastructure failures wrap [ErrUnavailable].
package agencyauth

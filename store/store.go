package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrDuplicateEmail is returned when an account with the same normalized email exists.
	ErrDuplicateEmail = errors.New("store: duplicate email")
	// ErrSessionConflict is returned when the account already holds an active session.
	ErrSessionConflict = errors.New("store: active session exists")
	// ErrCodeExpired is returned when the newest matching unused code is past its expiry.
	ErrCodeExpired = errors.New("store: code expired")
	// ErrGrantClaimed is returned when a reset grant was already consumed.
	ErrGrantClaimed = errors.New("store: grant already claimed")
	// ErrConflict is returned when a compare-and-swap write lost a race.
	ErrConflict = errors.New("store: concurrent update")
)

// CredentialStore persists accounts and their security counters.
type CredentialStore interface {
	CreateAccount(ctx context.Context, account *Account) error
	AccountByEmail(ctx context.Context, email string) (*Account, error)
	AccountByID(ctx context.Context, id string) (*Account, error)

	// RecordLoginFailure increments the failure counter and sets LockoutEnd to
	// lockoutEnd once the counter reaches maxAttempts, in one atomic step.
	RecordLoginFailure(ctx context.Context, accountID string, maxAttempts int, lockoutEnd time.Time) (LoginFailure, error)
	// ResetLoginFailures zeroes the counter and clears any lockout.
	ResetLoginFailures(ctx context.Context, accountID string) error

	MarkEmailVerified(ctx context.Context, accountID string, at time.Time) error
	UpdatePassword(ctx context.Context, accountID string, change PasswordChange) error

	// UnlockExpired clears lockouts whose end is at or before now and returns
	// the accounts it released.
	UnlockExpired(ctx context.Context, now time.Time) ([]Account, error)
}

// CodeLedger persists issued verification codes.
type CodeLedger interface {
	IssueCode(ctx context.Context, code *VerificationCode) error

	// ConsumeCode selects the newest unused code matching (email, codeHash, kind)
	// and marks it used. It returns ErrNotFound when nothing matches and
	// ErrCodeExpired when the match is past its expiry; an expired match is
	// left unused.
	ConsumeCode(ctx context.Context, email, codeHash string, kind CodeKind, now time.Time) (*VerificationCode, error)

	// ExpireUnused force-expires every unused, unexpired code for (email, kind).
	ExpireUnused(ctx context.Context, email string, kind CodeKind, now time.Time) (int, error)

	// ClaimResetGrant records a reset grant as consumed. A second claim of the
	// same id returns ErrGrantClaimed.
	ClaimResetGrant(ctx context.Context, grantID, email string, expiresAt, now time.Time) error
}

// SessionLedger persists sessions and enforces one active session per account.
type SessionLedger interface {
	// CreateSession inserts an active session, failing with ErrSessionConflict
	// if the account already has one. The check and insert are atomic.
	CreateSession(ctx context.Context, sess *Session) error
	Session(ctx context.Context, sessionID string) (*Session, error)
	ActiveSession(ctx context.Context, accountID string) (*Session, error)
	// TouchSession refreshes LastSeen on an active session.
	TouchSession(ctx context.Context, sessionID string, now time.Time) error
	// CloseSession deactivates a session. It reports false when the session was
	// missing or already closed.
	CloseSession(ctx context.Context, sessionID string, now time.Time) (bool, error)
	// CloseStale closes active sessions whose LastSeen is before cutoff.
	CloseStale(ctx context.Context, cutoff, now time.Time) ([]Session, error)
}

// AuditLog is an append-only audit sink.
type AuditLog interface {
	Append(ctx context.Context, entry AuditEntry) error
}

// Purger is implemented by ledgers that can drop records older than a retention bound.
type Purger interface {
	Purge(ctx context.Context, before time.Time) (int, error)
}

package agencyauth

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrValidationFailed is returned when request fields fail format, length or
	// complexity checks.
	ErrValidationFailed = errors.New("validation failed")
	// ErrInvalidCredentials covers both an unknown email and a wrong password.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountLocked is returned while the lockout window is open.
	ErrAccountLocked = errors.New("account locked")
	// ErrSessionConflict is returned when the account already holds an active session.
	ErrSessionConflict = errors.New("active session exists")
	// ErrCodeInvalid is returned when no unused code matches.
	ErrCodeInvalid = errors.New("verification code invalid")
	// ErrCodeExpired is returned when the newest matching code is past its expiry.
	ErrCodeExpired = errors.New("verification code expired")
	// ErrPasswordReuse is returned when the new password matches the current one
	// or one kept in history.
	ErrPasswordReuse = errors.New("password reuse")
	// ErrNotFound is returned when a referenced account does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAccountExists is returned by Register for an email already on file.
	ErrAccountExists = errors.New("account already exists")
	// ErrAccountUnverified is returned by Login before the email is verified.
	ErrAccountUnverified = errors.New("account unverified")
	// ErrAlreadyVerified marks a registration code request for a verified
	// account. ResendCode audits it and answers with the generic result.
	ErrAlreadyVerified = errors.New("account already verified")
	// ErrPasswordTooRecent is returned when the minimum change interval has not elapsed.
	ErrPasswordTooRecent = errors.New("password changed too recently")
	// ErrResetGrantInvalid is returned for a missing, forged, expired, mismatched
	// or already claimed reset grant.
	ErrResetGrantInvalid = errors.New("reset grant invalid")
	// ErrBotRejected is returned when bot verification fails.
	ErrBotRejected = errors.New("bot verification failed")
	// ErrRateLimited is returned when code issuance is throttled.
	ErrRateLimited = errors.New("rate limited")
	// ErrSessionInvalid is returned when a session id or claim does not name a live session.
	ErrSessionInvalid = errors.New("session invalid")
	// ErrConcurrentUpdate is returned when a password write lost a race with another writer.
	ErrConcurrentUpdate = errors.New("concurrent update")
	// ErrEngineNotReady is returned when the engine was not built through Builder.
	ErrEngineNotReady = errors.New("engine not initialized")
	// ErrUnavailable wraps storage, ledger and other infrastructure failures.
	ErrUnavailable = errors.New("backend unavailable")
)

// LoginError decorates a Login rejection with the counters a caller may show.
type LoginError struct {
	Err               error
	RemainingAttempts int
	LockoutRemaining  time.Duration
}

func (e *LoginError) Error() string {
	switch {
	case e.LockoutRemaining > 0:
		return fmt.Sprintf("%v: retry in %s", e.Err, e.LockoutRemaining.Round(time.Second))
	case e.RemainingAttempts > 0:
		return fmt.Sprintf("%v: %d attempts remaining", e.Err, e.RemainingAttempts)
	}
	return e.Err.Error()
}

func (e *LoginError) Unwrap() error { return e.Err }

// PasswordAgeError reports how long until the password may change again.
type PasswordAgeError struct {
	Remaining time.Duration
}

func (e *PasswordAgeError) Error() string {
	return fmt.Sprintf("%v: retry in %s", ErrPasswordTooRecent, e.Remaining.Round(time.Second))
}

func (e *PasswordAgeError) Unwrap() error { return ErrPasswordTooRecent }

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

package agencyauth

import (
	"context"
	"time"

	"github.com/MrEthical07/agencyauth/dataprotect"
	"github.com/MrEthical07/agencyauth/password"
	"github.com/MrEthical07/agencyauth/store"
)

// CodeKind identifies what a verification code authorizes.
type CodeKind = store.CodeKind

const (
	CodeRegistration  = store.CodeRegistration
	CodeLogin2FA      = store.CodeLogin2FA
	CodePasswordReset = store.CodePasswordReset
)

// Purpose selects the email template a code is delivered with.
type Purpose string

const (
	PurposeRegistration  Purpose = "registration"
	PurposeLogin         Purpose = "login"
	PurposePasswordReset Purpose = "passwordreset"
)

func purposeFor(kind CodeKind) Purpose {
	switch kind {
	case CodeLogin2FA:
		return PurposeLogin
	case CodePasswordReset:
		return PurposePasswordReset
	}
	return PurposeRegistration
}

// Mailer delivers verification codes. A returned error puts the calling
// operation into degraded mode: the code is handed back to the caller instead.
type Mailer interface {
	SendVerificationCode(ctx context.Context, to, code string, purpose Purpose) error
}

// BotVerdict is the outcome of a bot check.
type BotVerdict struct {
	Success bool
	Score   float64
}

// BotVerifier checks a client-supplied bot token.
type BotVerifier interface {
	Verify(ctx context.Context, token string) (BotVerdict, error)
}

// Protector encrypts sensitive profile fields at rest.
type Protector interface {
	Protect(plaintext string) (string, error)
	Unprotect(ciphertext string) (string, error)
}

// UnavailableMarker replaces a protected field that could not be decrypted.
const UnavailableMarker = dataprotect.Marker

// ProfileInput is the registration profile with the national id in plaintext.
type ProfileInput struct {
	FirstName   string
	LastName    string
	Gender      string
	NRIC        string
	DateOfBirth time.Time
	ResumePath  string
	WhoAmI      string
}

// RegisterRequest carries the registration form.
type RegisterRequest struct {
	Email           string
	Password        string
	ConfirmPassword string
	BotToken        string
	Profile         ProfileInput
}

// RegisterResult is returned on successful registration. FallbackCode is set
// only when the email could not be sent.
type RegisterResult struct {
	AccountID    string
	Email        string
	CodeSent     bool
	FallbackCode string
	Strength     password.Strength
}

// LoginRequest carries the login form.
type LoginRequest struct {
	Email    string
	Password string
	BotToken string
}

// LoginResult is returned when the password step passes. A session only
// exists after the 2FA code is verified.
type LoginResult struct {
	Pending2FA      bool
	Email           string
	CodeSent        bool
	FallbackCode    string
	PasswordExpired bool
}

// IssueResult is returned by code resend and reset requests. Both are
// deliberately generic: Issued is false for an unknown email.
type IssueResult struct {
	Issued       bool
	CodeSent     bool
	FallbackCode string
}

// SessionGrant describes a session created by a successful 2FA verification.
type SessionGrant struct {
	SessionID string
	Token     string
	ExpiresAt time.Time
}

// VerifyResult is returned by VerifyCode. Session is set for Login2FA and
// ResetGrant for PasswordReset.
type VerifyResult struct {
	Kind       CodeKind
	AccountID  string
	Session    *SessionGrant
	ResetGrant string
	ExpiresAt  time.Time
}

// ChangePasswordResult carries a refreshed session claim when the caller named
// its session through WithSessionID.
type ChangePasswordResult struct {
	SessionToken     string
	SessionExpiresAt time.Time
	PasswordExpires  time.Time
	Strength         password.Strength
}

// ProfileView is the read model of an account. NRIC is the decrypted value or
// UnavailableMarker.
type ProfileView struct {
	AccountID       string
	Email           string
	EmailVerified   bool
	PasswordExpires time.Time
	FirstName       string
	LastName        string
	Gender          string
	NRIC            string
	DateOfBirth     time.Time
	ResumePath      string
	WhoAmI          string
	CreatedAt       time.Time
}

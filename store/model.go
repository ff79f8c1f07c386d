package store

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Account is the durable credential record for one user.
type Account struct {
	ID    string
	Email string

	PasswordHash    string
	PasswordHistory []string

	PasswordLastChanged   time.Time
	PasswordExpiryDate    time.Time
	PasswordMinChangeDate time.Time

	EmailVerified   bool
	EmailVerifiedAt *time.Time

	FailedAccessCount int
	LockoutEnd        *time.Time

	CreatedAt time.Time
	Profile   Profile
}

// Locked reports whether the lockout window is still open at now.
func (a *Account) Locked(now time.Time) bool {
	return a != nil && a.LockoutEnd != nil && now.Before(*a.LockoutEnd)
}

// Profile carries the registration fields kept alongside the credential.
// NRIC holds ciphertext, never the plaintext national id.
type Profile struct {
	FirstName   string
	LastName    string
	Gender      string
	NRIC        string
	DateOfBirth time.Time
	ResumePath  string
	WhoAmI      string
}

// PasswordChange is the full set of fields rewritten when a password changes.
// PreviousHash must match the stored hash for the write to apply.
type PasswordChange struct {
	PreviousHash string
	Hash         string
	History      []string
	ChangedAt    time.Time
	ExpiresAt    time.Time
	MinChangeAt  time.Time
}

// LoginFailure is the counter state after a failed password check.
type LoginFailure struct {
	FailedAccessCount int
	LockoutEnd        *time.Time
}

// CodeKind identifies what a verification code authorizes.
type CodeKind string

const (
	CodeRegistration  CodeKind = "registration"
	CodeLogin2FA      CodeKind = "login_2fa"
	CodePasswordReset CodeKind = "password_reset"
)

// Valid reports whether k is one of the known kinds.
func (k CodeKind) Valid() bool {
	switch k {
	case CodeRegistration, CodeLogin2FA, CodePasswordReset:
		return true
	}
	return false
}

// ParseCodeKind accepts the canonical names and the display names used by
// older clients ("Registration", "Login2FA", "PasswordReset").
func ParseCodeKind(s string) (CodeKind, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "registration":
		return CodeRegistration, true
	case "login_2fa", "login2fa", "login":
		return CodeLogin2FA, true
	case "password_reset", "passwordreset":
		return CodePasswordReset, true
	}
	return "", false
}

// VerificationCode is a single-use, time-boxed code.
// Code is only populated on the value returned at issuance.
type VerificationCode struct {
	ID        string
	Email     string
	Code      string
	CodeHash  string
	Kind      CodeKind
	CreatedAt time.Time
	ExpiresAt time.Time
	Used      bool
	UsedAt    *time.Time
	IP        string
}

// Expired reports whether the code is past its expiry at now. The expiry
// instant itself counts as expired, which is what lets ExpireUnused retire a
// code by setting ExpiresAt to now.
func (c *VerificationCode) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// HashCode returns the hex SHA-256 digest ledgers persist and match on.
func HashCode(code string) string {
	sum := sha256.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

// NormalizeEmail lower-cases and trims an address. Emails are unique
// case-insensitively, so every store keys on this form.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Session is one authenticated browser context.
type Session struct {
	ID         string
	AccountID  string
	LoginTime  time.Time
	LastSeen   time.Time
	LogoutTime *time.Time
	IP         string
	UserAgent  string
	Active     bool
}

// AuditEntry is one append-only audit record.
type AuditEntry struct {
	ID        string            `json:"id,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Subject   string            `json:"subject,omitempty"`
	Action    string            `json:"action"`
	Detail    string            `json:"detail,omitempty"`
	IP        string            `json:"ip,omitempty"`
	UserAgent string            `json:"user_agent,omitempty"`
	Success   bool              `json:"success"`
	Error     string            `json:"error,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

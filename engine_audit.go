package agencyauth

import (
	"context"
	"errors"

	"github.com/MrEthical07/agencyauth/internal"
)

const (
	auditEventRegistrationSuccess          = "registration_success"
	auditEventRegistrationFailure          = "registration_failure"
	auditEventLoginFailure                 = "login_failure"
	auditEventLoginFailureLocked           = "login_failure_locked"
	auditEventLoginFailureMultipleSessions = "login_failure_multiple_sessions"
	auditEventAccountLockedOut             = "account_locked_out"
	auditEventLoginFailureUnverified       = "login_failure_unverified"
	auditEventLoginCodeSent                = "login_code_sent"
	auditEventCodeVerificationFailure      = "code_verification_failure"
	auditEventEmailVerified                = "email_verified"
	auditEventLoginSuccess                 = "login_success"
	auditEventPasswordResetCodeVerified    = "password_reset_code_verified"
	auditEventCodeResent                   = "code_resent"
	auditEventPasswordChangeSuccess        = "password_change_success"
	auditEventPasswordChangeFailure        = "password_change_failure"
	auditEventPasswordChangeReuse          = "password_change_reuse_attempt"
	auditEventPasswordResetRequest         = "password_reset_request"
	auditEventPasswordResetSuccess         = "password_reset_success"
	auditEventPasswordResetFailure         = "password_reset_failure"
	auditEventLogout                       = "logout"
	auditEventAccountAutoUnlocked          = "account_auto_unlocked"
	auditEventSessionReaped                = "session_reaped"
	auditEventBotVerificationFailure       = "bot_verification_failure"
	auditEventEmailDeliveryFailure         = "email_delivery_failure"
)

// criticalAuditEvent reports whether an event must reach the sink even when
// the async queue is full.
func criticalAuditEvent(event AuditEvent) bool {
	switch event.Action {
	case auditEventAccountLockedOut,
		auditEventLoginFailureLocked,
		auditEventLoginFailureMultipleSessions,
		auditEventBotVerificationFailure,
		auditEventPasswordChangeSuccess,
		auditEventPasswordResetSuccess:
		return true
	}
	return false
}

// AuditErrorCode is the stable error label written to audit entries.
type AuditErrorCode string

const (
	auditErrValidation         AuditErrorCode = "validation_failed"
	auditErrInvalidCredentials AuditErrorCode = "invalid_credentials"
	auditErrAccountLocked      AuditErrorCode = "account_locked"
	auditErrSessionConflict    AuditErrorCode = "session_conflict"
	auditErrCodeInvalid        AuditErrorCode = "code_invalid"
	auditErrCodeExpired        AuditErrorCode = "code_expired"
	auditErrPasswordReuse      AuditErrorCode = "password_reuse"
	auditErrNotFound           AuditErrorCode = "not_found"
	auditErrDuplicate          AuditErrorCode = "duplicate"
	auditErrAccountUnverified  AuditErrorCode = "account_unverified"
	auditErrAlreadyVerified    AuditErrorCode = "already_verified"
	auditErrPasswordTooRecent  AuditErrorCode = "password_too_recent"
	auditErrInvalidToken       AuditErrorCode = "invalid_token"
	auditErrBotRejected        AuditErrorCode = "bot_rejected"
	auditErrRateLimited        AuditErrorCode = "rate_limited"
	auditErrSessionInvalid     AuditErrorCode = "session_invalid"
	auditErrConcurrentUpdate   AuditErrorCode = "concurrent_update"
	auditErrUnavailable        AuditErrorCode = "backend_unavailable"
	auditErrInternal           AuditErrorCode = "internal_error"
)

// emitAudit writes one entry. subject is the account id when known and the
// email otherwise.
func (e *Engine) emitAudit(
	ctx context.Context,
	action string,
	success bool,
	subject string,
	detail string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	now := e.now()
	event := AuditEvent{
		ID:        internal.NewULID(now),
		Timestamp: now.UTC(),
		Subject:   subject,
		Action:    action,
		Detail:    detail,
		IP:        clientIPFromContext(ctx),
		UserAgent: userAgentFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = string(code)
	}

	e.audit.Emit(ctx, event)
}

func auditErrorCode(err error) AuditErrorCode {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrValidationFailed):
		return auditErrValidation
	case errors.Is(err, ErrInvalidCredentials):
		return auditErrInvalidCredentials
	case errors.Is(err, ErrAccountLocked):
		return auditErrAccountLocked
	case errors.Is(err, ErrSessionConflict):
		return auditErrSessionConflict
	case errors.Is(err, ErrCodeInvalid):
		return auditErrCodeInvalid
	case errors.Is(err, ErrCodeExpired):
		return auditErrCodeExpired
	case errors.Is(err, ErrPasswordReuse):
		return auditErrPasswordReuse
	case errors.Is(err, ErrNotFound):
		return auditErrNotFound
	case errors.Is(err, ErrAccountExists):
		return auditErrDuplicate
	case errors.Is(err, ErrAccountUnverified):
		return auditErrAccountUnverified
	case errors.Is(err, ErrAlreadyVerified):
		return auditErrAlreadyVerified
	case errors.Is(err, ErrPasswordTooRecent):
		return auditErrPasswordTooRecent
	case errors.Is(err, ErrResetGrantInvalid):
		return auditErrInvalidToken
	case errors.Is(err, ErrBotRejected):
		return auditErrBotRejected
	case errors.Is(err, ErrRateLimited):
		return auditErrRateLimited
	case errors.Is(err, ErrSessionInvalid):
		return auditErrSessionInvalid
	case errors.Is(err, ErrConcurrentUpdate):
		return auditErrConcurrentUpdate
	case errors.Is(err, ErrUnavailable):
		return auditErrUnavailable
	default:
		return auditErrInternal
	}
}

package agencyauth

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/MrEthical07/agencyauth/store"
	"go.uber.org/zap"
)

// Login runs the password step and, when every gate passes, sends a 2FA code.
// No session exists until VerifyCode consumes that code.
//
// Gates run in a fixed order and each one stops the attempt: unknown email,
// open lockout, existing active session, wrong password, unverified email.
// A lockout whose end has passed is cleared here rather than waiting for the
// reconciler.
func (e *Engine) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if e.metrics.LatencyEnabled() {
		start := time.Now()
		defer func() { e.metrics.Observe(MetricLoginLatency, time.Since(start)) }()
	}

	if err := e.verifyBot(ctx, req.BotToken, store.NormalizeEmail(req.Email)); err != nil {
		return nil, err
	}

	email, err := normalizeEmail(req.Email)
	if err != nil {
		return nil, ErrValidationFailed
	}

	// (a) unknown email
	account, err := e.lookupByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		_, _ = e.passwordHash.Verify(req.Password, e.dummyHash)
		e.metricInc(MetricLoginFailure)
		e.emitAudit(ctx, auditEventLoginFailure, false, email, "unknown_email", ErrInvalidCredentials, nil)
		return nil, &LoginError{Err: ErrInvalidCredentials}
	}
	if err != nil {
		return nil, err
	}

	// (b) lockout
	now := e.now()
	if account.LockoutEnd != nil {
		if account.Locked(now) {
			remaining := account.LockoutEnd.Sub(now)
			e.metricInc(MetricLoginLocked)
			e.emitAudit(ctx, auditEventLoginFailureLocked, false, account.ID, "", ErrAccountLocked, func() map[string]string {
				return map[string]string{"lockout_remaining": remaining.Round(time.Second).String()}
			})
			return nil, &LoginError{Err: ErrAccountLocked, LockoutRemaining: remaining}
		}
		if err := e.accounts.ResetLoginFailures(ctx, account.ID); err != nil {
			return nil, unavailable(err)
		}
		account.FailedAccessCount = 0
		account.LockoutEnd = nil
		e.metricInc(MetricAccountAutoUnlocked)
		e.emitAudit(ctx, auditEventAccountAutoUnlocked, true, account.ID, "login", nil, nil)
	}

	// (c) single session
	_, err = e.sessions.ActiveSession(ctx, account.ID)
	switch {
	case err == nil:
		e.metricInc(MetricLoginSessionConflict)
		e.emitAudit(ctx, auditEventLoginFailureMultipleSessions, false, account.ID, "", ErrSessionConflict, nil)
		return nil, &LoginError{Err: ErrSessionConflict}
	case !errors.Is(err, store.ErrNotFound):
		return nil, unavailable(err)
	}

	// (d) password
	ok, err := e.passwordHash.Verify(req.Password, account.PasswordHash)
	if err != nil {
		e.logger.Error("stored password hash unreadable", zap.String("account_id", account.ID), zap.Error(err))
		return nil, unavailable(err)
	}
	if !ok {
		return nil, e.recordLoginFailure(ctx, account, now)
	}

	// (e) verification
	if !account.EmailVerified {
		e.metricInc(MetricLoginUnverified)
		e.emitAudit(ctx, auditEventLoginFailureUnverified, false, account.ID, "", ErrAccountUnverified, nil)
		return nil, &LoginError{Err: ErrAccountUnverified}
	}

	// (f) second factor
	vc, err := e.issueCode(ctx, email, CodeLogin2FA)
	if err != nil {
		return nil, err
	}
	if account.FailedAccessCount > 0 {
		if err := e.accounts.ResetLoginFailures(ctx, account.ID); err != nil {
			return nil, unavailable(err)
		}
	}
	sent, fallback := e.deliver(ctx, account.ID, vc)

	e.metricInc(MetricLoginCodeSent)
	e.emitAudit(ctx, auditEventLoginCodeSent, true, account.ID, "", nil, func() map[string]string {
		return map[string]string{"code_sent": boolString(sent)}
	})

	return &LoginResult{
		Pending2FA:      true,
		Email:           email,
		CodeSent:        sent,
		FallbackCode:    fallback,
		PasswordExpired: !now.Before(account.PasswordExpiryDate),
	}, nil
}

func (e *Engine) recordLoginFailure(ctx context.Context, account *store.Account, now time.Time) error {
	maxAttempts := e.config.Policy.MaxFailedAttempts
	failure, err := e.accounts.RecordLoginFailure(ctx, account.ID, maxAttempts, now.Add(e.config.Policy.LockoutDuration))
	if err != nil {
		return unavailable(err)
	}

	e.metricInc(MetricLoginFailure)
	if failure.LockoutEnd != nil {
		remaining := failure.LockoutEnd.Sub(now)
		e.metricInc(MetricAccountLockedOut)
		e.emitAudit(ctx, auditEventAccountLockedOut, false, account.ID, "", ErrAccountLocked, func() map[string]string {
			return map[string]string{
				"failed_attempts": strconv.Itoa(failure.FailedAccessCount),
				"lockout_end":     failure.LockoutEnd.UTC().Format(time.RFC3339),
			}
		})
		return &LoginError{Err: ErrAccountLocked, LockoutRemaining: remaining}
	}

	remaining := maxAttempts - failure.FailedAccessCount
	e.emitAudit(ctx, auditEventLoginFailure, false, account.ID, "wrong_password", ErrInvalidCredentials, func() map[string]string {
		return map[string]string{"remaining_attempts": strconv.Itoa(remaining)}
	})
	return &LoginError{Err: ErrInvalidCredentials, RemainingAttempts: remaining}
}

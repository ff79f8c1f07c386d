package agencyauth

import (
	"context"
	"errors"

	"github.com/MrEthical07/agencyauth/internal"
	"github.com/MrEthical07/agencyauth/store"
	"go.uber.org/zap"
)

// VerifyCode consumes the newest unused code matching (email, code, kind) and
// acts on it by kind:
//
//   - Registration marks the email verified.
//   - Login2FA opens the session. This is the only place sessions are created.
//   - PasswordReset returns a single-use reset grant for ResetPassword.
//
// A code is consumed at most once; a replay returns ErrCodeInvalid.
func (e *Engine) VerifyCode(ctx context.Context, email, code string, kind CodeKind) (*VerifyResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	email, err := normalizeEmail(email)
	if err != nil || !kind.Valid() || !validCodeFormat(code) {
		return nil, ErrValidationFailed
	}

	vc, err := e.codes.ConsumeCode(ctx, email, store.HashCode(code), kind, e.now())
	switch {
	case err == nil:
	case errors.Is(err, store.ErrNotFound):
		e.metricInc(MetricCodeInvalid)
		e.emitAudit(ctx, auditEventCodeVerificationFailure, false, email, "invalid", ErrCodeInvalid, func() map[string]string {
			return map[string]string{"kind": string(kind)}
		})
		return nil, ErrCodeInvalid
	case errors.Is(err, store.ErrCodeExpired):
		e.metricInc(MetricCodeExpired)
		e.emitAudit(ctx, auditEventCodeVerificationFailure, false, email, "expired", ErrCodeExpired, func() map[string]string {
			return map[string]string{"kind": string(kind)}
		})
		return nil, ErrCodeExpired
	default:
		return nil, unavailable(err)
	}
	e.metricInc(MetricCodeVerified)

	account, err := e.lookupByEmail(ctx, email)
	if err != nil {
		return nil, err
	}

	switch kind {
	case CodeRegistration:
		return e.completeRegistration(ctx, account)
	case CodeLogin2FA:
		return e.completeLogin(ctx, account)
	default:
		return e.authorizeReset(ctx, account, vc)
	}
}

func (e *Engine) completeRegistration(ctx context.Context, account *store.Account) (*VerifyResult, error) {
	if err := e.accounts.MarkEmailVerified(ctx, account.ID, e.now()); err != nil {
		return nil, unavailable(err)
	}
	e.metricInc(MetricEmailVerified)
	e.emitAudit(ctx, auditEventEmailVerified, true, account.ID, "", nil, nil)
	return &VerifyResult{Kind: CodeRegistration, AccountID: account.ID}, nil
}

func (e *Engine) completeLogin(ctx context.Context, account *store.Account) (*VerifyResult, error) {
	now := e.now()

	// Login checked both before the code was issued; the account may have
	// changed since.
	if account.Locked(now) {
		remaining := account.LockoutEnd.Sub(now)
		e.metricInc(MetricLoginLocked)
		e.emitAudit(ctx, auditEventLoginFailureLocked, false, account.ID, "verify", ErrAccountLocked, nil)
		return nil, &LoginError{Err: ErrAccountLocked, LockoutRemaining: remaining}
	}
	if !account.EmailVerified {
		e.metricInc(MetricLoginUnverified)
		e.emitAudit(ctx, auditEventLoginFailureUnverified, false, account.ID, "verify", ErrAccountUnverified, nil)
		return nil, ErrAccountUnverified
	}

	sid, err := internal.NewSessionID()
	if err != nil {
		return nil, unavailable(err)
	}
	sess := &store.Session{
		ID:        sid.String(),
		AccountID: account.ID,
		LoginTime: now,
		LastSeen:  now,
		IP:        clientIPFromContext(ctx),
		UserAgent: userAgentFromContext(ctx),
		Active:    true,
	}

	// The ledger re-checks the single-session rule in the same step as the insert.
	err = e.sessions.CreateSession(ctx, sess)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrSessionConflict):
		e.metricInc(MetricLoginSessionConflict)
		e.emitAudit(ctx, auditEventLoginFailureMultipleSessions, false, account.ID, "verify", ErrSessionConflict, nil)
		return nil, ErrSessionConflict
	default:
		return nil, unavailable(err)
	}

	token, exp, err := e.tokens.CreateSession(account.ID, sess.ID, account.Email)
	if err != nil {
		if _, closeErr := e.sessions.CloseSession(ctx, sess.ID, now); closeErr != nil {
			e.logger.Error("close session after token failure", zap.String("session_id", sess.ID), zap.Error(closeErr))
		}
		return nil, unavailable(err)
	}

	e.metricInc(MetricSessionCreated)
	e.emitAudit(ctx, auditEventLoginSuccess, true, account.ID, "", nil, func() map[string]string {
		return map[string]string{"session_id": sess.ID}
	})

	return &VerifyResult{
		Kind:      CodeLogin2FA,
		AccountID: account.ID,
		Session: &SessionGrant{
			SessionID: sess.ID,
			Token:     token,
			ExpiresAt: exp,
		},
		ExpiresAt: exp,
	}, nil
}

func (e *Engine) authorizeReset(ctx context.Context, account *store.Account, vc *store.VerificationCode) (*VerifyResult, error) {
	grant, exp, err := e.tokens.CreateResetGrant(account.Email, internal.NewULID(e.now()))
	if err != nil {
		return nil, unavailable(err)
	}
	e.emitAudit(ctx, auditEventPasswordResetCodeVerified, true, account.ID, "", nil, func() map[string]string {
		return map[string]string{"code_id": vc.ID}
	})
	return &VerifyResult{
		Kind:       CodePasswordReset,
		AccountID:  account.ID,
		ResetGrant: grant,
		ExpiresAt:  exp,
	}, nil
}

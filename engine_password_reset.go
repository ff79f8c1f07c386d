package agencyauth

import (
	"context"
	"errors"

	"github.com/MrEthical07/agencyauth/store"
	"go.uber.org/zap"
)

// RequestPasswordReset sends a reset code when the email belongs to an account.
// The result is the same empty value for unknown emails and for internal
// failures, which are logged and audited instead of returned.
func (e *Engine) RequestPasswordReset(ctx context.Context, email, botToken string) (*IssueResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	if err := e.verifyBot(ctx, botToken, store.NormalizeEmail(email)); err != nil {
		return nil, err
	}

	email, err := normalizeEmail(email)
	if err != nil {
		return nil, ErrValidationFailed
	}

	e.metricInc(MetricPasswordResetRequest)
	account, err := e.lookupByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			e.logger.Error("reset request lookup failed", zap.Error(err))
		}
		e.emitAudit(ctx, auditEventPasswordResetRequest, false, email, "", err, nil)
		return &IssueResult{}, nil
	}

	if err := e.allowIssue(ctx, email, CodePasswordReset); err != nil {
		e.emitAudit(ctx, auditEventPasswordResetRequest, false, account.ID, "", err, nil)
		return &IssueResult{}, nil
	}

	if _, err := e.codes.ExpireUnused(ctx, email, CodePasswordReset, e.now()); err != nil {
		e.logger.Error("expire previous reset codes failed", zap.String("account_id", account.ID), zap.Error(err))
		e.emitAudit(ctx, auditEventPasswordResetRequest, false, account.ID, "", unavailable(err), nil)
		return &IssueResult{}, nil
	}
	vc, err := e.issueCode(ctx, email, CodePasswordReset)
	if err != nil {
		e.logger.Error("reset code not persisted", zap.String("account_id", account.ID), zap.Error(err))
		e.emitAudit(ctx, auditEventPasswordResetRequest, false, account.ID, "", err, nil)
		return &IssueResult{}, nil
	}
	sent, fallback := e.deliver(ctx, account.ID, vc)

	e.emitAudit(ctx, auditEventPasswordResetRequest, true, account.ID, "", nil, func() map[string]string {
		return map[string]string{"code_sent": boolString(sent)}
	})
	return &IssueResult{
		Issued:       true,
		CodeSent:     sent,
		FallbackCode: fallback,
	}, nil
}

// ResetPassword sets a new password using a grant from VerifyCode. The grant
// must be signed for the reset audience, unexpired, issued to this email and
// not claimed before. It is claimed only once the new password has passed the
// complexity and reuse checks, so a rejected password leaves it usable.
func (e *Engine) ResetPassword(ctx context.Context, email, newPassword, resetGrant string) error {
	if err := e.ready(); err != nil {
		return err
	}

	email, err := normalizeEmail(email)
	if err != nil {
		return ErrValidationFailed
	}

	claims, err := e.tokens.ParseResetGrant(resetGrant)
	if err != nil || claims.Email() != email || claims.ID == "" || claims.ExpiresAt == nil {
		e.metricInc(MetricPasswordResetFailure)
		e.emitAudit(ctx, auditEventPasswordResetFailure, false, email, "grant", ErrResetGrantInvalid, nil)
		return ErrResetGrantInvalid
	}

	account, err := e.lookupByEmail(ctx, email)
	if err != nil {
		return err
	}

	if err := e.checkNewPassword(account, newPassword); err != nil {
		e.metricInc(MetricPasswordResetFailure)
		detail := "complexity"
		if errors.Is(err, ErrPasswordReuse) {
			detail = "reuse"
		}
		e.emitAudit(ctx, auditEventPasswordResetFailure, false, account.ID, detail, err, nil)
		return err
	}

	err = e.codes.ClaimResetGrant(ctx, claims.ID, email, claims.ExpiresAt.Time, e.now())
	switch {
	case err == nil:
	case errors.Is(err, store.ErrGrantClaimed):
		e.metricInc(MetricPasswordResetFailure)
		e.emitAudit(ctx, auditEventPasswordResetFailure, false, account.ID, "grant_replay", ErrResetGrantInvalid, nil)
		return ErrResetGrantInvalid
	default:
		return unavailable(err)
	}

	if _, err := e.replacePassword(ctx, account, newPassword); err != nil {
		e.metricInc(MetricPasswordResetFailure)
		e.emitAudit(ctx, auditEventPasswordResetFailure, false, account.ID, "write", err, nil)
		return err
	}

	e.metricInc(MetricPasswordResetSuccess)
	e.emitAudit(ctx, auditEventPasswordResetSuccess, true, account.ID, "", nil, nil)
	return nil
}

package agencyauth

import (
	"context"
	"errors"
)

// ResendCode expires every unused code for (email, kind) and issues a new one.
//
// The throttle runs before the account lookup, and every case that issues
// nothing returns the same empty result: an unknown email, a Registration
// resend for a verified account, and a Login2FA or PasswordReset resend with
// no pending code. Login2FA and PasswordReset codes are only reissued while an
// earlier one is still pending, so a resend never starts a flow whose gates
// were not passed. A Login2FA code is never handed back as a fallback; the
// caller proves the password again through Login instead.
func (e *Engine) ResendCode(ctx context.Context, email string, kind CodeKind) (*IssueResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}

	email, err := normalizeEmail(email)
	if err != nil || !kind.Valid() {
		return nil, ErrValidationFailed
	}

	if err := e.allowIssue(ctx, email, kind); err != nil {
		e.emitAudit(ctx, auditEventCodeResent, false, email, string(kind), err, nil)
		return nil, err
	}

	account, err := e.lookupByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		e.emitAudit(ctx, auditEventCodeResent, false, email, string(kind), ErrNotFound, nil)
		return &IssueResult{}, nil
	}
	if err != nil {
		return nil, err
	}

	if kind == CodeRegistration && account.EmailVerified {
		e.emitAudit(ctx, auditEventCodeResent, false, account.ID, string(kind), ErrAlreadyVerified, nil)
		return &IssueResult{}, nil
	}

	pending, err := e.codes.ExpireUnused(ctx, email, kind, e.now())
	if err != nil {
		return nil, unavailable(err)
	}
	if pending == 0 && kind != CodeRegistration {
		e.emitAudit(ctx, auditEventCodeResent, false, account.ID, string(kind), ErrCodeInvalid, func() map[string]string {
			return map[string]string{"reason": "no_pending_code"}
		})
		return &IssueResult{}, nil
	}

	vc, err := e.issueCode(ctx, email, kind)
	if err != nil {
		return nil, err
	}
	sent, fallback := e.deliver(ctx, account.ID, vc)
	if kind == CodeLogin2FA {
		fallback = ""
	}

	e.metricInc(MetricCodeResent)
	e.emitAudit(ctx, auditEventCodeResent, true, account.ID, string(kind), nil, func() map[string]string {
		return map[string]string{"code_sent": boolString(sent)}
	})

	return &IssueResult{
		Issued:       true,
		CodeSent:     sent,
		FallbackCode: fallback,
	}, nil
}

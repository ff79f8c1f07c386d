package agencyauth

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/agencyauth/password"
	"github.com/MrEthical07/agencyauth/store"
	"go.uber.org/zap"
)

// ChangePassword replaces the password of an authenticated account.
//
// Checks run in order: minimum age, current password, complexity, reuse. On
// success the previous hash is pushed onto the history and, when ctx names the
// caller's session, a fresh session claim is returned so the caller stays
// signed in.
func (e *Engine) ChangePassword(ctx context.Context, accountID, currentPassword, newPassword string) (*ChangePasswordResult, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if accountID == "" {
		return nil, ErrValidationFailed
	}

	account, err := e.lookupByID(ctx, accountID)
	if err != nil {
		return nil, err
	}

	now := e.now()
	if now.Before(account.PasswordMinChangeDate) {
		ageErr := &PasswordAgeError{Remaining: account.PasswordMinChangeDate.Sub(now)}
		e.metricInc(MetricPasswordChangeFailure)
		e.emitAudit(ctx, auditEventPasswordChangeFailure, false, account.ID, "too_recent", ageErr, nil)
		return nil, ageErr
	}

	ok, err := e.passwordHash.Verify(currentPassword, account.PasswordHash)
	if err != nil {
		return nil, unavailable(err)
	}
	if !ok {
		e.metricInc(MetricPasswordChangeFailure)
		e.emitAudit(ctx, auditEventPasswordChangeFailure, false, account.ID, "invalid_current", ErrInvalidCredentials, nil)
		return nil, ErrInvalidCredentials
	}

	if err := e.checkNewPassword(account, newPassword); err != nil {
		if errors.Is(err, ErrPasswordReuse) {
			e.metricInc(MetricPasswordChangeReuseRejected)
			e.emitAudit(ctx, auditEventPasswordChangeReuse, false, account.ID, "", err, nil)
		} else {
			e.metricInc(MetricPasswordChangeFailure)
			e.emitAudit(ctx, auditEventPasswordChangeFailure, false, account.ID, "complexity", err, nil)
		}
		return nil, err
	}

	change, err := e.replacePassword(ctx, account, newPassword)
	if err != nil {
		e.metricInc(MetricPasswordChangeFailure)
		e.emitAudit(ctx, auditEventPasswordChangeFailure, false, account.ID, "write", err, nil)
		return nil, err
	}

	result := &ChangePasswordResult{
		PasswordExpires: change.ExpiresAt,
		Strength:        password.Estimate(newPassword, emailLocalPart(account.Email), account.Profile.FirstName, account.Profile.LastName),
	}
	if sid := sessionIDFromContext(ctx); sid != "" {
		token, exp, err := e.refreshSessionClaim(ctx, account, sid)
		if err != nil {
			e.logger.Warn("session claim not refreshed after password change",
				zap.String("account_id", account.ID),
				zap.Error(err),
			)
		} else {
			result.SessionToken = token
			result.SessionExpiresAt = exp
		}
	}

	e.metricInc(MetricPasswordChangeSuccess)
	e.emitAudit(ctx, auditEventPasswordChangeSuccess, true, account.ID, "", nil, nil)
	return result, nil
}

func (e *Engine) refreshSessionClaim(ctx context.Context, account *store.Account, sessionID string) (string, time.Time, error) {
	sess, err := e.liveSession(ctx, sessionID)
	if err != nil {
		return "", time.Time{}, err
	}
	if sess.AccountID != account.ID {
		return "", time.Time{}, ErrSessionInvalid
	}
	return e.tokens.CreateSession(account.ID, sess.ID, account.Email)
}

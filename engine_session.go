package agencyauth

import (
	"context"
	"errors"

	"github.com/MrEthical07/agencyauth/dataprotect"
	"github.com/MrEthical07/agencyauth/internal"
	"github.com/MrEthical07/agencyauth/jwt"
	"github.com/MrEthical07/agencyauth/store"
	"go.uber.org/zap"
)

// Logout closes the session. A session that is already closed or was never
// there counts as logged out and returns nil.
func (e *Engine) Logout(ctx context.Context, sessionID string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if !wellFormedSessionID(sessionID) {
		return nil
	}

	subject := ""
	sess, err := e.sessions.Session(ctx, sessionID)
	switch {
	case err == nil:
		subject = sess.AccountID
	case errors.Is(err, store.ErrNotFound):
		return nil
	default:
		return unavailable(err)
	}

	closed, err := e.sessions.CloseSession(ctx, sessionID, e.now())
	if err != nil {
		return unavailable(err)
	}
	if !closed {
		return nil
	}

	e.metricInc(MetricLogout)
	e.emitAudit(ctx, auditEventLogout, true, subject, "", nil, func() map[string]string {
		return map[string]string{"session_id": sessionID}
	})
	return nil
}

// Session returns the session if it is still active.
func (e *Engine) Session(ctx context.Context, sessionID string) (*store.Session, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	return e.liveSession(ctx, sessionID)
}

// KeepAlive refreshes the idle timer of an active session.
func (e *Engine) KeepAlive(ctx context.Context, sessionID string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if !wellFormedSessionID(sessionID) {
		return ErrSessionInvalid
	}
	err := e.sessions.TouchSession(ctx, sessionID, e.now())
	switch {
	case err == nil:
		e.metricInc(MetricKeepAlive)
		return nil
	case errors.Is(err, store.ErrNotFound):
		return ErrSessionInvalid
	default:
		return unavailable(err)
	}
}

// ParseSessionToken verifies a session claim's signature, audience and expiry.
// It does not consult the session ledger; use AuthenticateSession for that.
func (e *Engine) ParseSessionToken(token string) (*jwt.SessionClaims, error) {
	if e == nil || e.tokens == nil {
		return nil, ErrEngineNotReady
	}
	claims, err := e.tokens.ParseSession(token)
	if err != nil {
		return nil, ErrSessionInvalid
	}
	return claims, nil
}

// AuthenticateSession verifies a session claim and checks that the session it
// names is still active and belongs to the claimed account.
func (e *Engine) AuthenticateSession(ctx context.Context, token string) (*jwt.SessionClaims, error) {
	claims, err := e.ParseSessionToken(token)
	if err != nil {
		return nil, err
	}
	sess, err := e.liveSession(ctx, claims.SID)
	if err != nil {
		return nil, err
	}
	if sess.AccountID != claims.AccountID() {
		return nil, ErrSessionInvalid
	}
	return claims, nil
}

func (e *Engine) liveSession(ctx context.Context, sessionID string) (*store.Session, error) {
	if !wellFormedSessionID(sessionID) {
		return nil, ErrSessionInvalid
	}
	sess, err := e.sessions.Session(ctx, sessionID)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrNotFound):
		return nil, ErrSessionInvalid
	default:
		return nil, unavailable(err)
	}
	if !sess.Active {
		return nil, ErrSessionInvalid
	}
	return sess, nil
}

// wellFormedSessionID rejects ids that could not have come from
// internal.NewSessionID, so they never reach the ledger.
func wellFormedSessionID(sessionID string) bool {
	_, err := internal.ParseSessionID(sessionID)
	return err == nil
}

// AccountProfile returns the profile with the national id decrypted. A value
// that cannot be decrypted is shown as UnavailableMarker.
func (e *Engine) AccountProfile(ctx context.Context, accountID string) (*ProfileView, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	account, err := e.lookupByID(ctx, accountID)
	if err != nil {
		return nil, err
	}

	nric, err := dataprotect.UnprotectOrMarker(e.protector, account.Profile.NRIC)
	if err != nil {
		e.logger.Warn("national id unreadable", zap.String("account_id", account.ID), zap.Error(err))
	}

	p := account.Profile
	return &ProfileView{
		AccountID:       account.ID,
		Email:           account.Email,
		EmailVerified:   account.EmailVerified,
		PasswordExpires: account.PasswordExpiryDate,
		FirstName:       p.FirstName,
		LastName:        p.LastName,
		Gender:          p.Gender,
		NRIC:            nric,
		DateOfBirth:     p.DateOfBirth,
		ResumePath:      p.ResumePath,
		WhoAmI:          p.WhoAmI,
		CreatedAt:       account.CreatedAt,
	}, nil
}

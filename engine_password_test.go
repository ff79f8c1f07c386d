package agencyauth

import (
	"context"
	"errors"
	"testing"
	"time"
)

const changeGap = 5*time.Minute + time.Second

func TestChangePasswordMinimumAge(t *testing.T) {
	env := newTestEnv(t)
	id := env.registerVerified(t, "age@example.com", testPassword)
	ctx := context.Background()

	env.clock.Advance(2 * time.Minute)
	_, err := env.engine.ChangePassword(ctx, id, testPassword, testPassword2)
	var ageErr *PasswordAgeError
	if !errors.As(err, &ageErr) || !errors.Is(err, ErrPasswordTooRecent) {
		t.Fatalf("expected PasswordAgeError, got %v", err)
	}
	if ageErr.Remaining != 3*time.Minute {
		t.Fatalf("expected 3m remaining, got %s", ageErr.Remaining)
	}

	env.clock.Advance(3 * time.Minute)
	res, err := env.engine.ChangePassword(ctx, id, testPassword, testPassword2)
	if err != nil {
		t.Fatalf("ChangePassword at the boundary: %v", err)
	}
	if !res.PasswordExpires.Equal(env.clock.Now().Add(90 * 24 * time.Hour)) {
		t.Fatalf("unexpected expiry %v", res.PasswordExpires)
	}
	env.lastAudit(t, auditEventPasswordChangeSuccess)
}

func TestChangePasswordChecks(t *testing.T) {
	env := newTestEnv(t)
	id := env.registerVerified(t, "chk@example.com", testPassword)
	ctx := context.Background()
	env.clock.Advance(changeGap)

	if _, err := env.engine.ChangePassword(ctx, id, testPassword2, testPassword3); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong current password: expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := env.engine.ChangePassword(ctx, id, testPassword, "short1A!"); !errors.Is(err, ErrValidationFailed) {
		t.Fatalf("weak password: expected ErrValidationFailed, got %v", err)
	}
	if _, err := env.engine.ChangePassword(ctx, id, testPassword, testPassword); !errors.Is(err, ErrPasswordReuse) {
		t.Fatalf("same password: expected ErrPasswordReuse, got %v", err)
	}
	env.lastAudit(t, auditEventPasswordChangeReuse)
	if _, err := env.engine.ChangePassword(ctx, "missing", testPassword, testPassword2); !errors.Is(err, ErrNotFound) {
		t.Fatalf("unknown account: expected ErrNotFound, got %v", err)
	}
}

func TestChangePasswordHistory(t *testing.T) {
	env := newTestEnv(t)
	id := env.registerVerified(t, "hist@example.com", testPassword)
	ctx := context.Background()

	change := func(cur, next string) error {
		env.clock.Advance(changeGap)
		_, err := env.engine.ChangePassword(ctx, id, cur, next)
		return err
	}

	if err := change(testPassword, testPassword2); err != nil {
		t.Fatalf("P1 to P2: %v", err)
	}
	if err := change(testPassword2, testPassword3); err != nil {
		t.Fatalf("P2 to P3: %v", err)
	}
	for _, old := range []string{testPassword, testPassword2, testPassword3} {
		if err := change(testPassword3, old); !errors.Is(err, ErrPasswordReuse) {
			t.Fatalf("expected ErrPasswordReuse, got %v", err)
		}
	}
	if got := env.account(t, "hist@example.com").PasswordHistory; len(got) != 2 {
		t.Fatalf("expected two remembered hashes, got %d", len(got))
	}

	if err := change(testPassword3, testPassword4); err != nil {
		t.Fatalf("P3 to P4: %v", err)
	}
	// P1 has now fallen out of the history.
	if err := change(testPassword4, testPassword); err != nil {
		t.Fatalf("P4 to P1: %v", err)
	}
}

func TestChangePasswordRefreshesSessionClaim(t *testing.T) {
	env := newTestEnv(t)
	id := env.registerVerified(t, "claim@example.com", testPassword)
	grant := env.login(t, "claim@example.com", testPassword)
	env.clock.Advance(changeGap)

	ctx := WithSessionID(context.Background(), grant.SessionID)
	res, err := env.engine.ChangePassword(ctx, id, testPassword, testPassword2)
	if err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}
	if res.SessionToken == "" || res.SessionToken == grant.Token {
		t.Fatalf("expected a fresh session claim")
	}
	claims, err := env.engine.AuthenticateSession(context.Background(), res.SessionToken)
	if err != nil || claims.SID != grant.SessionID {
		t.Fatalf("refreshed claim must name the same session: %v", err)
	}

	// Without a session id nothing is refreshed.
	env.clock.Advance(changeGap)
	res, err = env.engine.ChangePassword(context.Background(), id, testPassword2, testPassword3)
	if err != nil {
		t.Fatalf("ChangePassword: %v", err)
	}
	if res.SessionToken != "" {
		t.Fatalf("unexpected session claim")
	}
}

func requestResetGrant(t *testing.T, env *testEnv, email string) string {
	t.Helper()
	ctx := context.Background()
	res, err := env.engine.RequestPasswordReset(ctx, email, "")
	if err != nil || !res.Issued {
		t.Fatalf("RequestPasswordReset: %+v %v", res, err)
	}
	code := env.mailer.last(t, email, PurposePasswordReset)
	vr, err := env.engine.VerifyCode(ctx, email, code, CodePasswordReset)
	if err != nil {
		t.Fatalf("VerifyCode: %v", err)
	}
	return vr.ResetGrant
}

func TestPasswordResetFlow(t *testing.T) {
	env := newTestEnv(t)
	env.registerVerified(t, "rs@example.com", testPassword)
	ctx := context.Background()
	grant := requestResetGrant(t, env, "rs@example.com")

	// Rejected passwords leave the grant usable.
	if err := env.engine.ResetPassword(ctx, "rs@example.com", "weak", grant); !errors.Is(err, ErrValidationFailed) {
		t.Fatalf("weak password: expected ErrValidationFailed, got %v", err)
	}
	if err := env.engine.ResetPassword(ctx, "rs@example.com", testPassword, grant); !errors.Is(err, ErrPasswordReuse) {
		t.Fatalf("current password: expected ErrPasswordReuse, got %v", err)
	}

	if err := env.engine.ResetPassword(ctx, "rs@example.com", testPassword2, grant); err != nil {
		t.Fatalf("ResetPassword: %v", err)
	}
	env.lastAudit(t, auditEventPasswordResetSuccess)

	if err := env.engine.ResetPassword(ctx, "rs@example.com", testPassword3, grant); !errors.Is(err, ErrResetGrantInvalid) {
		t.Fatalf("replay: expected ErrResetGrantInvalid, got %v", err)
	}
	if got := env.lastAudit(t, auditEventPasswordResetFailure).Detail; got != "grant_replay" {
		t.Fatalf("expected grant_replay detail, got %q", got)
	}

	if _, err := env.engine.Login(ctx, LoginRequest{Email: "rs@example.com", Password: testPassword}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("old password must fail, got %v", err)
	}
	if _, err := env.engine.Login(ctx, LoginRequest{Email: "rs@example.com", Password: testPassword2}); err != nil {
		t.Fatalf("new password: %v", err)
	}
}

func TestPasswordResetGrantBoundToEmail(t *testing.T) {
	env := newTestEnv(t)
	env.registerVerified(t, "owner@example.com", testPassword)
	env.registerVerified(t, "other@example.com", testPassword)
	grant := requestResetGrant(t, env, "owner@example.com")

	err := env.engine.ResetPassword(context.Background(), "other@example.com", testPassword2, grant)
	if !errors.Is(err, ErrResetGrantInvalid) {
		t.Fatalf("expected ErrResetGrantInvalid, got %v", err)
	}
	if err := env.engine.ResetPassword(context.Background(), "owner@example.com", testPassword2, "not-a-token"); !errors.Is(err, ErrResetGrantInvalid) {
		t.Fatalf("garbage grant: expected ErrResetGrantInvalid, got %v", err)
	}
}

func TestPasswordResetGrantExpires(t *testing.T) {
	env := newTestEnv(t)
	env.registerVerified(t, "exp@example.com", testPassword)
	grant := requestResetGrant(t, env, "exp@example.com")

	env.clock.Advance(11 * time.Minute)
	err := env.engine.ResetPassword(context.Background(), "exp@example.com", testPassword2, grant)
	if !errors.Is(err, ErrResetGrantInvalid) {
		t.Fatalf("expected ErrResetGrantInvalid, got %v", err)
	}
}

func TestRequestPasswordResetUnknownEmail(t *testing.T) {
	env := newTestEnv(t)
	res, err := env.engine.RequestPasswordReset(context.Background(), "ghost@example.com", "")
	if err != nil {
		t.Fatalf("RequestPasswordReset: %v", err)
	}
	if res.Issued || res.CodeSent || res.FallbackCode != "" {
		t.Fatalf("unknown email must get an empty result, got %+v", res)
	}
	if env.mailer.count() != 0 {
		t.Fatalf("no email may be sent")
	}
	env.lastAudit(t, auditEventPasswordResetRequest)
}

func TestRequestPasswordResetExpiresPreviousCodes(t *testing.T) {
	env := newTestEnv(t)
	env.registerVerified(t, "twice@example.com", testPassword)
	ctx := context.Background()

	if _, err := env.engine.RequestPasswordReset(ctx, "twice@example.com", ""); err != nil {
		t.Fatalf("RequestPasswordReset: %v", err)
	}
	first := env.mailer.last(t, "twice@example.com", PurposePasswordReset)
	if _, err := env.engine.RequestPasswordReset(ctx, "twice@example.com", ""); err != nil {
		t.Fatalf("RequestPasswordReset: %v", err)
	}
	second := env.mailer.last(t, "twice@example.com", PurposePasswordReset)
	if first == second {
		t.Skip("identical codes drawn")
	}
	if _, err := env.engine.VerifyCode(ctx, "twice@example.com", first, CodePasswordReset); !errors.Is(err, ErrCodeExpired) {
		t.Fatalf("first code: expected ErrCodeExpired, got %v", err)
	}
}

package agencyauth

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestVerifyCodeSingleUse(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	if _, err := env.engine.Register(ctx, registerRequest("once@example.com", testPassword)); err != nil {
		t.Fatalf("Register: %v", err)
	}
	code := env.mailer.last(t, "once@example.com", PurposeRegistration)

	if _, err := env.engine.VerifyCode(ctx, "once@example.com", code, CodeRegistration); err != nil {
		t.Fatalf("first VerifyCode: %v", err)
	}
	if _, err := env.engine.VerifyCode(ctx, "once@example.com", code, CodeRegistration); !errors.Is(err, ErrCodeInvalid) {
		t.Fatalf("replay: expected ErrCodeInvalid, got %v", err)
	}
}

func TestVerifyCodeKindMustMatch(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	if _, err := env.engine.Register(ctx, registerRequest("kind@example.com", testPassword)); err != nil {
		t.Fatalf("Register: %v", err)
	}
	code := env.mailer.last(t, "kind@example.com", PurposeRegistration)

	if _, err := env.engine.VerifyCode(ctx, "kind@example.com", code, CodePasswordReset); !errors.Is(err, ErrCodeInvalid) {
		t.Fatalf("expected ErrCodeInvalid for wrong kind, got %v", err)
	}
	// The mismatched attempt must not consume the registration code.
	if _, err := env.engine.VerifyCode(ctx, "kind@example.com", code, CodeRegistration); err != nil {
		t.Fatalf("VerifyCode: %v", err)
	}
}

func TestVerifyCodeRejectsMalformedInput(t *testing.T) {
	env := newTestEnv(t)
	tests := []struct {
		name  string
		email string
		code  string
		kind  CodeKind
	}{
		{"short code", "a@example.com", "12345", CodeRegistration},
		{"letters", "a@example.com", "12a456", CodeRegistration},
		{"unknown kind", "a@example.com", "123456", CodeKind("magic")},
		{"bad email", "a-example.com", "123456", CodeRegistration},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.engine.VerifyCode(context.Background(), tc.email, tc.code, tc.kind)
			if !errors.Is(err, ErrValidationFailed) {
				t.Fatalf("expected ErrValidationFailed, got %v", err)
			}
		})
	}
	if n := len(env.store.AuditEntries()); n != 0 {
		t.Fatalf("malformed input must not be audited, got %d entries", n)
	}
}

func TestVerifyCodeExpiryBoundary(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	if _, err := env.engine.Register(ctx, registerRequest("edge@example.com", testPassword)); err != nil {
		t.Fatalf("Register: %v", err)
	}
	code := env.mailer.last(t, "edge@example.com", PurposeRegistration)

	env.clock.Advance(10 * time.Minute)
	if _, err := env.engine.VerifyCode(ctx, "edge@example.com", code, CodeRegistration); !errors.Is(err, ErrCodeExpired) {
		t.Fatalf("code at its expiry instant: expected ErrCodeExpired, got %v", err)
	}

	// One nanosecond before expiry the code is still good.
	if _, err := env.engine.ResendCode(ctx, "edge@example.com", CodeRegistration); err != nil {
		t.Fatalf("ResendCode: %v", err)
	}
	fresh := env.mailer.last(t, "edge@example.com", PurposeRegistration)
	env.clock.Advance(10*time.Minute - time.Nanosecond)
	if _, err := env.engine.VerifyCode(ctx, "edge@example.com", fresh, CodeRegistration); err != nil {
		t.Fatalf("code just before expiry: %v", err)
	}
}

func TestResendCodeExpiresPrevious(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	if _, err := env.engine.Register(ctx, registerRequest("re@example.com", testPassword)); err != nil {
		t.Fatalf("Register: %v", err)
	}
	old := env.mailer.last(t, "re@example.com", PurposeRegistration)

	res, err := env.engine.ResendCode(ctx, "re@example.com", CodeRegistration)
	if err != nil {
		t.Fatalf("ResendCode: %v", err)
	}
	if !res.Issued || !res.CodeSent {
		t.Fatalf("unexpected result %+v", res)
	}
	fresh := env.mailer.last(t, "re@example.com", PurposeRegistration)
	if old != fresh {
		if _, err := env.engine.VerifyCode(ctx, "re@example.com", old, CodeRegistration); !errors.Is(err, ErrCodeExpired) {
			t.Fatalf("old code: expected ErrCodeExpired, got %v", err)
		}
	}
	if _, err := env.engine.VerifyCode(ctx, "re@example.com", fresh, CodeRegistration); err != nil {
		t.Fatalf("fresh code: %v", err)
	}
	env.lastAudit(t, auditEventCodeResent)
}

func TestResendCodeUnknownEmailIsSilent(t *testing.T) {
	env := newTestEnv(t)
	res, err := env.engine.ResendCode(context.Background(), "nobody@example.com", CodeLogin2FA)
	if err != nil {
		t.Fatalf("ResendCode: %v", err)
	}
	if res.Issued || res.FallbackCode != "" {
		t.Fatalf("unknown email must get an empty result, got %+v", res)
	}
	if env.mailer.count() != 0 {
		t.Fatalf("no email may be sent")
	}
}

func TestResendRegistrationCodeForVerifiedAccount(t *testing.T) {
	env := newTestEnv(t)
	env.registerVerified(t, "done@example.com", testPassword)
	ctx := context.Background()
	sentBefore := env.mailer.count()

	known, knownErr := env.engine.ResendCode(ctx, "done@example.com", CodeRegistration)
	unknown, unknownErr := env.engine.ResendCode(ctx, "nobody@example.com", CodeRegistration)
	if knownErr != nil || unknownErr != nil {
		t.Fatalf("expected no errors, got %v and %v", knownErr, unknownErr)
	}
	if *known != *unknown || known.Issued {
		t.Fatalf("verified and unknown emails must look the same: %+v vs %+v", known, unknown)
	}
	if env.mailer.count() != sentBefore {
		t.Fatalf("no email may be sent")
	}
	if got := env.lastAudit(t, auditEventCodeResent); got.Success || got.Subject == "" {
		t.Fatalf("unexpected audit entry %+v", got)
	}
}

func TestResendLoginCodeNeedsPendingCode(t *testing.T) {
	env := newTestEnv(t)
	env.registerVerified(t, "two@example.com", testPassword)
	ctx := context.Background()

	env.mailer.setFail(true)
	res, err := env.engine.ResendCode(ctx, "two@example.com", CodeLogin2FA)
	if err != nil {
		t.Fatalf("ResendCode: %v", err)
	}
	if res.Issued || res.FallbackCode != "" {
		t.Fatalf("no login is pending, got %+v", res)
	}
	env.mailer.setFail(false)

	if _, err := env.engine.Login(ctx, LoginRequest{Email: "two@example.com", Password: testPassword}); err != nil {
		t.Fatalf("Login: %v", err)
	}
	old := env.mailer.last(t, "two@example.com", PurposeLogin)

	res, err = env.engine.ResendCode(ctx, "two@example.com", CodeLogin2FA)
	if err != nil {
		t.Fatalf("ResendCode: %v", err)
	}
	if !res.Issued || !res.CodeSent {
		t.Fatalf("unexpected result %+v", res)
	}
	fresh := env.mailer.last(t, "two@example.com", PurposeLogin)
	if old != fresh {
		if _, err := env.engine.VerifyCode(ctx, "two@example.com", old, CodeLogin2FA); !errors.Is(err, ErrCodeExpired) {
			t.Fatalf("old code: expected ErrCodeExpired, got %v", err)
		}
	}

	// Mail down: the code is reissued but never returned to the caller.
	env.mailer.setFail(true)
	res, err = env.engine.ResendCode(ctx, "two@example.com", CodeLogin2FA)
	if err != nil {
		t.Fatalf("ResendCode: %v", err)
	}
	if !res.Issued || res.CodeSent || res.FallbackCode != "" {
		t.Fatalf("login code must not come back as a fallback, got %+v", res)
	}
	if n, err := env.store.ExpireUnused(ctx, "two@example.com", CodeLogin2FA, env.clock.Now()); err != nil || n != 1 {
		t.Fatalf("expected exactly one pending login code, got %d %v", n, err)
	}
}

func TestResendPasswordResetCode(t *testing.T) {
	env := newTestEnv(t)
	env.registerVerified(t, "rr@example.com", testPassword)
	ctx := context.Background()

	res, err := env.engine.ResendCode(ctx, "rr@example.com", CodePasswordReset)
	if err != nil {
		t.Fatalf("ResendCode: %v", err)
	}
	if res.Issued {
		t.Fatalf("no reset was requested, got %+v", res)
	}

	if _, err := env.engine.RequestPasswordReset(ctx, "rr@example.com", ""); err != nil {
		t.Fatalf("RequestPasswordReset: %v", err)
	}
	old := env.mailer.last(t, "rr@example.com", PurposePasswordReset)

	env.mailer.setFail(true)
	res, err = env.engine.ResendCode(ctx, "rr@example.com", CodePasswordReset)
	if err != nil {
		t.Fatalf("ResendCode: %v", err)
	}
	if !res.Issued || res.CodeSent || res.FallbackCode == "" {
		t.Fatalf("degraded resend must return the code, got %+v", res)
	}
	if old != res.FallbackCode {
		if _, err := env.engine.VerifyCode(ctx, "rr@example.com", old, CodePasswordReset); !errors.Is(err, ErrCodeExpired) {
			t.Fatalf("old code: expected ErrCodeExpired, got %v", err)
		}
	}
	verified, err := env.engine.VerifyCode(ctx, "rr@example.com", res.FallbackCode, CodePasswordReset)
	if err != nil || verified.ResetGrant == "" {
		t.Fatalf("fallback code: %+v %v", verified, err)
	}
}

func TestVerifyPasswordResetReturnsGrant(t *testing.T) {
	env := newTestEnv(t)
	env.registerVerified(t, "pr@example.com", testPassword)
	ctx := context.Background()

	if _, err := env.engine.RequestPasswordReset(ctx, "pr@example.com", ""); err != nil {
		t.Fatalf("RequestPasswordReset: %v", err)
	}
	code := env.mailer.last(t, "pr@example.com", PurposePasswordReset)
	res, err := env.engine.VerifyCode(ctx, "pr@example.com", code, CodePasswordReset)
	if err != nil {
		t.Fatalf("VerifyCode: %v", err)
	}
	if res.ResetGrant == "" || res.Session != nil || !res.ExpiresAt.Equal(testEpoch.Add(10*time.Minute)) {
		t.Fatalf("unexpected result %+v", res)
	}
	env.lastAudit(t, auditEventPasswordResetCodeVerified)
}

package agencyauth

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// newRedisEnv keeps accounts and audit in memory and puts codes, sessions and
// the issuance throttle on miniredis.
func newRedisEnv(t *testing.T, mutate ...func(*Config)) (*testEnv, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	env := newTestEnv(t, func(cfg *Config, b *Builder) {
		for _, m := range mutate {
			m(cfg)
		}
		b.WithCodeLedger(nil).WithSessionLedger(nil).WithRedis(rdb)
	})
	return env, mr
}

func TestRedisLedgersFullFlow(t *testing.T) {
	env, _ := newRedisEnv(t)
	ctx := context.Background()

	id := env.registerVerified(t, "r@example.com", testPassword)
	grant := env.login(t, "r@example.com", testPassword)

	if _, err := env.engine.Login(ctx, LoginRequest{Email: "r@example.com", Password: testPassword}); !errors.Is(err, ErrSessionConflict) {
		t.Fatalf("expected ErrSessionConflict, got %v", err)
	}
	claims, err := env.engine.AuthenticateSession(ctx, grant.Token)
	if err != nil || claims.AccountID() != id {
		t.Fatalf("AuthenticateSession: %v", err)
	}
	if err := env.engine.KeepAlive(ctx, grant.SessionID); err != nil {
		t.Fatalf("KeepAlive: %v", err)
	}
	if err := env.engine.Logout(ctx, grant.SessionID); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if err := env.engine.KeepAlive(ctx, grant.SessionID); !errors.Is(err, ErrSessionInvalid) {
		t.Fatalf("expected ErrSessionInvalid after logout, got %v", err)
	}
}

func TestRedisResendThrottle(t *testing.T) {
	env, _ := newRedisEnv(t, func(cfg *Config) {
		cfg.Throttle.MaxIssuances = 2
	})
	ctx := context.Background()
	if _, err := env.engine.Register(ctx, registerRequest("th@example.com", testPassword)); err != nil {
		t.Fatalf("Register: %v", err)
	}

	for i := 0; i < 2; i++ {
		if _, err := env.engine.ResendCode(ctx, "th@example.com", CodeRegistration); err != nil {
			t.Fatalf("resend #%d: %v", i+1, err)
		}
	}
	_, err := env.engine.ResendCode(ctx, "th@example.com", CodeRegistration)
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if got := env.engine.MetricsSnapshot().Counters[MetricCodeRateLimited]; got != 1 {
		t.Fatalf("expected one throttled issuance, got %d", got)
	}

	// The budget is per kind.
	if _, err := env.engine.RequestPasswordReset(ctx, "th@example.com", ""); err != nil {
		t.Fatalf("RequestPasswordReset: %v", err)
	}
}

func TestRedisResendThrottleIgnoresAccountExistence(t *testing.T) {
	env, _ := newRedisEnv(t, func(cfg *Config) {
		cfg.Throttle.MaxIssuances = 1
	})
	env.registerVerified(t, "have@example.com", testPassword)
	ctx := context.Background()

	for _, email := range []string{"have@example.com", "ghost@example.com"} {
		res, err := env.engine.ResendCode(ctx, email, CodeRegistration)
		if err != nil || res.Issued {
			t.Fatalf("%s first resend: %+v %v", email, res, err)
		}
		if _, err := env.engine.ResendCode(ctx, email, CodeRegistration); !errors.Is(err, ErrRateLimited) {
			t.Fatalf("%s second resend: expected ErrRateLimited, got %v", email, err)
		}
	}
}

func TestRedisThrottledResetIsGeneric(t *testing.T) {
	env, _ := newRedisEnv(t, func(cfg *Config) {
		cfg.Throttle.MaxIssuances = 1
	})
	env.registerVerified(t, "gen@example.com", testPassword)
	ctx := context.Background()

	first, err := env.engine.RequestPasswordReset(ctx, "gen@example.com", "")
	if err != nil || !first.Issued {
		t.Fatalf("first request: %+v %v", first, err)
	}
	second, err := env.engine.RequestPasswordReset(ctx, "gen@example.com", "")
	if err != nil {
		t.Fatalf("throttled request must not fail: %v", err)
	}
	if second.Issued {
		t.Fatalf("throttled request must not issue a code")
	}
	entry := env.lastAudit(t, auditEventPasswordResetRequest)
	if entry.Success || entry.Error != string(auditErrRateLimited) {
		t.Fatalf("unexpected audit entry %+v", entry)
	}
}

func TestRedisFailureIsUnavailable(t *testing.T) {
	env, mr := newRedisEnv(t)
	ctx := context.Background()
	if _, err := env.engine.Register(ctx, registerRequest("down@example.com", testPassword)); err != nil {
		t.Fatalf("Register: %v", err)
	}

	mr.SetError("LOADING")
	_, err := env.engine.ResendCode(ctx, "down@example.com", CodeRegistration)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if _, err := env.engine.VerifyCode(ctx, "down@example.com", "123456", CodeRegistration); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable from the code ledger, got %v", err)
	}
}

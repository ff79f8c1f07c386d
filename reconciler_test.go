package agencyauth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrEthical07/agencyauth/store"
	"go.uber.org/zap/zaptest"
)

func TestReconcilerReapsIdleSessions(t *testing.T) {
	env := newTestEnv(t)
	env.registerVerified(t, "idle@example.com", testPassword)
	env.registerVerified(t, "busy@example.com", testPassword)
	idle := env.login(t, "idle@example.com", testPassword)
	busy := env.login(t, "busy@example.com", testPassword)
	r := env.engine.NewReconciler()
	ctx := context.Background()

	env.clock.Advance(90 * time.Second)
	if err := env.engine.KeepAlive(ctx, busy.SessionID); err != nil {
		t.Fatalf("KeepAlive: %v", err)
	}
	if rep := r.Tick(ctx); rep.Reaped != 0 {
		t.Fatalf("nothing is idle yet, reaped %d", rep.Reaped)
	}

	env.clock.Advance(60 * time.Second)
	rep := r.Tick(ctx)
	if rep.Reaped != 1 || rep.Err() != nil {
		t.Fatalf("expected one reaped session, got %+v", rep)
	}
	if _, err := env.engine.Session(ctx, idle.SessionID); !errors.Is(err, ErrSessionInvalid) {
		t.Fatalf("idle session should be closed, got %v", err)
	}
	if _, err := env.engine.Session(ctx, busy.SessionID); err != nil {
		t.Fatalf("busy session should survive: %v", err)
	}

	entry := env.lastAudit(t, auditEventSessionReaped)
	if entry.Metadata["session_id"] != idle.SessionID {
		t.Fatalf("unexpected reap entry %+v", entry)
	}

	// A reaped account may sign in again.
	if _, err := env.engine.Login(ctx, LoginRequest{Email: "idle@example.com", Password: testPassword}); err != nil {
		t.Fatalf("login after reap: %v", err)
	}
}

func TestReconcilerReleasesLockouts(t *testing.T) {
	env := newTestEnv(t)
	env.registerVerified(t, "rl@example.com", testPassword)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, _ = env.engine.Login(ctx, LoginRequest{Email: "rl@example.com", Password: testPassword2})
	}
	if a := env.account(t, "rl@example.com"); a.LockoutEnd == nil {
		t.Fatalf("expected lockout")
	}
	r := env.engine.NewReconciler()

	if rep := r.Tick(ctx); rep.Unlocked != 0 {
		t.Fatalf("lockout still open, unlocked %d", rep.Unlocked)
	}
	env.clock.Advance(5 * time.Minute)
	if rep := r.Tick(ctx); rep.Unlocked != 1 {
		t.Fatalf("expected one release, got %+v", rep)
	}
	if a := env.account(t, "rl@example.com"); a.LockoutEnd != nil || a.FailedAccessCount != 0 {
		t.Fatalf("lockout not cleared: %+v", a)
	}
	if got := env.lastAudit(t, auditEventAccountAutoUnlocked).Detail; got != "reconciler" {
		t.Fatalf("expected reconciler detail, got %q", got)
	}
}

func TestReconcilerPurgesOldCodes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	if _, err := env.engine.Register(ctx, registerRequest("pg@example.com", testPassword)); err != nil {
		t.Fatalf("Register: %v", err)
	}
	r := env.engine.NewReconciler()

	if rep := r.Tick(ctx); rep.Purged != 0 {
		t.Fatalf("fresh code purged")
	}
	env.clock.Advance(25 * time.Hour)
	if rep := r.Tick(ctx); rep.Purged != 1 {
		t.Fatalf("expected one purged code, got %+v", rep)
	}
}

type failingSessions struct {
	store.SessionLedger
}

func (failingSessions) CloseStale(context.Context, time.Time, time.Time) ([]store.Session, error) {
	return nil, errors.New("redis down")
}

func TestReconcilerSweepsAreIndependent(t *testing.T) {
	env := newTestEnv(t)
	env.registerVerified(t, "ind@example.com", testPassword)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, _ = env.engine.Login(ctx, LoginRequest{Email: "ind@example.com", Password: testPassword2})
	}
	clock := env.clock
	clock.Advance(6 * time.Minute)

	r := NewReconciler(ReconcilerDeps{
		Accounts: env.store,
		Sessions: failingSessions{env.store},
		Now:      clock.Now,
	}, ReconcilerConfig{}, zaptest.NewLogger(t))

	rep := r.Tick(ctx)
	if rep.Unlocked != 1 {
		t.Fatalf("unlock sweep must run despite the reap failure, got %+v", rep)
	}
	if rep.Err() == nil || len(rep.Errors) != 1 {
		t.Fatalf("expected one sweep error, got %v", rep.Errors)
	}
}

func TestReconcilerRunStopsOnCancel(t *testing.T) {
	r := NewReconciler(ReconcilerDeps{}, ReconcilerConfig{Interval: time.Millisecond}, zaptest.NewLogger(t))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	time.Sleep(5 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("Run did not return after cancel")
	}
}

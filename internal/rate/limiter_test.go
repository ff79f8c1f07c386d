package rate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLimiter(t *testing.T, cfg Config) (*Limiter, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb, cfg), mr
}

func TestAllowIssueFixedWindow(t *testing.T) {
	l, mr := newTestLimiter(t, Config{MaxIssuances: 3, Window: 15 * time.Minute})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := l.AllowIssue(ctx, "login_2fa", "a@example.com", ""); err != nil {
			t.Fatalf("issue %d: %v", i, err)
		}
	}
	if err := l.AllowIssue(ctx, "login_2fa", "a@example.com", ""); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if err := l.AllowIssue(ctx, "registration", "a@example.com", ""); err != nil {
		t.Fatalf("expected other kind to have its own window: %v", err)
	}

	if ttl := mr.TTL("ac:login_2fa:a@example.com"); ttl <= 0 || ttl > 15*time.Minute {
		t.Fatalf("unexpected window ttl %v", ttl)
	}
	mr.FastForward(16 * time.Minute)
	if err := l.AllowIssue(ctx, "login_2fa", "a@example.com", ""); err != nil {
		t.Fatalf("expected window to reopen: %v", err)
	}
}

func TestAllowIssuePerIP(t *testing.T) {
	l, _ := newTestLimiter(t, Config{MaxIssuances: 10, Window: time.Minute, EnableIPLimit: true, MaxIPIssuances: 2})
	ctx := context.Background()

	_ = l.AllowIssue(ctx, "password_reset", "a@example.com", "10.0.0.1")
	_ = l.AllowIssue(ctx, "password_reset", "b@example.com", "10.0.0.1")
	if err := l.AllowIssue(ctx, "password_reset", "c@example.com", "10.0.0.1"); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected per-IP limit, got %v", err)
	}
	if err := l.AllowIssue(ctx, "password_reset", "c@example.com", "10.0.0.2"); err != nil {
		t.Fatalf("expected other IP to pass: %v", err)
	}
}

func TestIssuedAndReset(t *testing.T) {
	l, _ := newTestLimiter(t, Config{MaxIssuances: 5, Window: time.Minute})
	ctx := context.Background()

	if n, err := l.Issued(ctx, "registration", "a@example.com"); err != nil || n != 0 {
		t.Fatalf("expected zero, got %d %v", n, err)
	}
	_ = l.AllowIssue(ctx, "registration", "a@example.com", "")
	_ = l.AllowIssue(ctx, "registration", "a@example.com", "")
	if n, _ := l.Issued(ctx, "registration", "a@example.com"); n != 2 {
		t.Fatalf("expected 2, got %d", n)
	}
	if err := l.Reset(ctx, "registration", "a@example.com"); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if n, _ := l.Issued(ctx, "registration", "a@example.com"); n != 0 {
		t.Fatalf("expected reset counter, got %d", n)
	}
}

func TestRedisFailureWrapped(t *testing.T) {
	l, mr := newTestLimiter(t, Config{MaxIssuances: 5, Window: time.Minute})
	mr.Close()
	if err := l.AllowIssue(context.Background(), "registration", "a@example.com", ""); !errors.Is(err, ErrRedisUnavailable) {
		t.Fatalf("expected ErrRedisUnavailable, got %v", err)
	}
}

package stores

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/agencyauth/store"
)

var t0 = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

func newTestLedger(t *testing.T) (*CodeLedger, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewCodeLedger(rdb, "test", time.Hour), mr
}

func issue(t *testing.T, l *CodeLedger, id, email, code string, kind store.CodeKind, at time.Time) {
	t.Helper()
	err := l.IssueCode(context.Background(), &store.VerificationCode{
		ID:        id,
		Email:     email,
		CodeHash:  store.HashCode(code),
		Kind:      kind,
		CreatedAt: at,
		ExpiresAt: at.Add(10 * time.Minute),
		IP:        "10.0.0.1",
	})
	if err != nil {
		t.Fatalf("issue %s: %v", id, err)
	}
}

func TestConsumeMarksUsedOnce(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	issue(t, l, "01A", "User@Example.com", "123456", store.CodeLogin2FA, t0)

	rec, err := l.ConsumeCode(ctx, "user@example.com", store.HashCode("123456"), store.CodeLogin2FA, t0.Add(time.Minute))
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if !rec.Used || rec.UsedAt == nil || rec.Email != "user@example.com" || rec.IP != "10.0.0.1" {
		t.Fatalf("unexpected record %+v", rec)
	}
	if !rec.ExpiresAt.Equal(t0.Add(10 * time.Minute)) {
		t.Fatalf("unexpected expiry %v", rec.ExpiresAt)
	}

	if _, err := l.ConsumeCode(ctx, "user@example.com", store.HashCode("123456"), store.CodeLogin2FA, t0.Add(time.Minute)); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected second consume to miss, got %v", err)
	}
}

func TestConsumeKindAndCodeMustMatch(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	issue(t, l, "01A", "a@example.com", "111111", store.CodeRegistration, t0)

	if _, err := l.ConsumeCode(ctx, "a@example.com", store.HashCode("111111"), store.CodeLogin2FA, t0); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected kind mismatch to miss, got %v", err)
	}
	if _, err := l.ConsumeCode(ctx, "a@example.com", store.HashCode("222222"), store.CodeRegistration, t0); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected code mismatch to miss, got %v", err)
	}
}

func TestConsumeExpiredLeavesCodeUnused(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	issue(t, l, "01A", "a@example.com", "111111", store.CodeRegistration, t0)

	at := t0.Add(10 * time.Minute)
	rec, err := l.ConsumeCode(ctx, "a@example.com", store.HashCode("111111"), store.CodeRegistration, at)
	if !errors.Is(err, store.ErrCodeExpired) {
		t.Fatalf("expected ErrCodeExpired at the boundary, got %v", err)
	}
	if rec == nil || rec.Used {
		t.Fatalf("expected unused expired record, got %+v", rec)
	}
}

func TestConsumePicksNewest(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	issue(t, l, "01A", "a@example.com", "555555", store.CodeLogin2FA, t0)
	issue(t, l, "01B", "a@example.com", "555555", store.CodeLogin2FA, t0.Add(time.Minute))

	rec, err := l.ConsumeCode(ctx, "a@example.com", store.HashCode("555555"), store.CodeLogin2FA, t0.Add(2*time.Minute))
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if rec.ID != "01B" {
		t.Fatalf("expected newest code, got %s", rec.ID)
	}
}

func TestExpireUnusedAffectsOnlyPair(t *testing.T) {
	l, _ := newTestLedger(t)
	ctx := context.Background()
	issue(t, l, "01A", "a@example.com", "111111", store.CodeLogin2FA, t0)
	issue(t, l, "01B", "a@example.com", "222222", store.CodeLogin2FA, t0)
	issue(t, l, "01C", "a@example.com", "333333", store.CodeRegistration, t0)

	n, err := l.ExpireUnused(ctx, "a@example.com", store.CodeLogin2FA, t0.Add(time.Minute))
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 expired, got %d", n)
	}
	if _, err := l.ConsumeCode(ctx, "a@example.com", store.HashCode("111111"), store.CodeLogin2FA, t0.Add(time.Minute)); !errors.Is(err, store.ErrCodeExpired) {
		t.Fatalf("expected forced expiry, got %v", err)
	}
	if _, err := l.ConsumeCode(ctx, "a@example.com", store.HashCode("333333"), store.CodeRegistration, t0.Add(time.Minute)); err != nil {
		t.Fatalf("expected other kind untouched: %v", err)
	}
	if n, _ := l.ExpireUnused(ctx, "a@example.com", store.CodeLogin2FA, t0.Add(2*time.Minute)); n != 0 {
		t.Fatalf("expected nothing left to expire, got %d", n)
	}
}

func TestConcurrentConsumeSingleWinner(t *testing.T) {
	l, _ := newTestLedger(t)
	issue(t, l, "01A", "a@example.com", "777777", store.CodeLogin2FA, t0)

	var (
		wg   sync.WaitGroup
		wins atomic.Int32
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.ConsumeCode(context.Background(), "a@example.com", store.HashCode("777777"), store.CodeLogin2FA, t0)
			if err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	if wins.Load() != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins.Load())
	}
}

func TestClaimResetGrantOnce(t *testing.T) {
	l, mr := newTestLedger(t)
	ctx := context.Background()

	if err := l.ClaimResetGrant(ctx, "g1", "a@example.com", t0.Add(5*time.Minute), t0); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if err := l.ClaimResetGrant(ctx, "g1", "a@example.com", t0.Add(5*time.Minute), t0); !errors.Is(err, store.ErrGrantClaimed) {
		t.Fatalf("expected ErrGrantClaimed, got %v", err)
	}
	if ttl := mr.TTL("test:g:g1"); ttl != 5*time.Minute {
		t.Fatalf("unexpected claim ttl %v", ttl)
	}
}

func TestPurgeDropsOldRecords(t *testing.T) {
	l, mr := newTestLedger(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		issue(t, l, fmt.Sprintf("01A%d", i), "a@example.com", "111111", store.CodeLogin2FA, t0.Add(time.Duration(i)*time.Hour))
	}

	n, err := l.Purge(ctx, t0.Add(90*time.Minute))
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 purged, got %d", n)
	}
	if mr.Exists("test:{login_2fa:a@example.com}:c:01A0") {
		t.Fatal("expected purged record key to be deleted")
	}
	if !mr.Exists("test:{login_2fa:a@example.com}:c:01A2") {
		t.Fatal("expected recent record to survive")
	}
}

func TestRedisDownIsWrapped(t *testing.T) {
	l, mr := newTestLedger(t)
	mr.Close()
	_, err := l.ConsumeCode(context.Background(), "a@example.com", "x", store.CodeLogin2FA, t0)
	if !errors.Is(err, ErrRedisUnavailable) {
		t.Fatalf("expected ErrRedisUnavailable, got %v", err)
	}
}

package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds code issuance throttle parameters.
type Config struct {
	MaxIssuances   int
	Window         time.Duration
	EnableIPLimit  bool
	MaxIPIssuances int
}

// Limiter counts code issuances per (kind, email) and optionally per IP.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

// New creates a [Limiter] backed by the given Redis client.
func New(redisClient redis.UniversalClient, cfg Config) *Limiter {
	return &Limiter{
		redis:  redisClient,
		config: cfg,
	}
}

// AllowIssue records one issuance for (kind, email) and the caller IP and
// returns ErrRateLimited once the window budget is spent. The attempt is counted
// even when rejected, so hammering does not reopen the window early.
func (l *Limiter) AllowIssue(ctx context.Context, kind, email, ip string) error {
	count, err := l.incrementWithTTL(ctx, issueKey(kind, email), l.config.Window)
	if err != nil {
		return err
	}
	if count > int64(l.config.MaxIssuances) {
		return ErrRateLimited
	}

	if l.config.EnableIPLimit && ip != "" {
		count, err = l.incrementWithTTL(ctx, issueIPKey(ip), l.config.Window)
		if err != nil {
			return err
		}
		if count > int64(l.config.MaxIPIssuances) {
			return ErrRateLimited
		}
	}

	return nil
}

// Issued returns the current counter for (kind, email). Missing keys return zero.
func (l *Limiter) Issued(ctx context.Context, kind, email string) (int, error) {
	count, err := l.redis.Get(ctx, issueKey(kind, email)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count < 0 {
		return 0, nil
	}
	return int(count), nil
}

// Reset clears the counter for (kind, email). Called once a code of that kind
// is successfully consumed.
func (l *Limiter) Reset(ctx context.Context, kind, email string) error {
	if err := l.redis.Del(ctx, issueKey(kind, email)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func (l *Limiter) incrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	// Fixed-window semantics: set TTL only for the first hit in the window.
	if count == 1 {
		if err := l.redis.Expire(ctx, key, ttl).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	return count, nil
}

func issueKey(kind, email string) string {
	return "ac:" + kind + ":" + email
}

func issueIPKey(ip string) string {
	return "aci:" + ip
}

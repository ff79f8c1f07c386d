package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/agencyauth/store"
)

// ErrRedisUnavailable wraps Redis command failures.
var ErrRedisUnavailable = errors.New("redis unavailable")

const defaultRetention = 24 * time.Hour

const createSessionScript = `
local current = redis.call("GET", KEYS[1])
if current then
  if redis.call("HGET", ARGV[7] .. current, "active") == "1" then
    return 0
  end
end
redis.call("HSET", KEYS[2],
  "account", ARGV[2],
  "login", ARGV[3],
  "seen", ARGV[3],
  "ip", ARGV[4],
  "ua", ARGV[5],
  "active", "1")
redis.call("PEXPIRE", KEYS[2], ARGV[6])
redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[6])
redis.call("ZADD", KEYS[3], ARGV[3], ARGV[1])
return 1
`

var createSessionLua = redis.NewScript(createSessionScript)

// ARGV[5] is an optional idle cutoff; when set, a session seen at or after it
// is left open. This keeps a keep-alive that lands between the reaper's scan
// and its close from being undone.
const closeSessionScript = `
local f = redis.call("HMGET", KEYS[1], "active", "account", "seen")
if f[1] ~= "1" then
  redis.call("ZREM", KEYS[2], ARGV[1])
  return 0
end
if ARGV[5] ~= "" and tonumber(f[3]) >= tonumber(ARGV[5]) then
  return 0
end
redis.call("HSET", KEYS[1], "active", "0", "logout", ARGV[2])
redis.call("PEXPIRE", KEYS[1], ARGV[4])
redis.call("ZREM", KEYS[2], ARGV[1])
local pointer = ARGV[3] .. f[2]
if redis.call("GET", pointer) == ARGV[1] then
  redis.call("DEL", pointer)
end
return 1
`

var closeSessionLua = redis.NewScript(closeSessionScript)

const touchSessionScript = `
if redis.call("HGET", KEYS[1], "active") ~= "1" then
  return 0
end
redis.call("HSET", KEYS[1], "seen", ARGV[2])
redis.call("PEXPIRE", KEYS[1], ARGV[3])
redis.call("PEXPIRE", KEYS[3], ARGV[3])
redis.call("ZADD", KEYS[2], ARGV[2], ARGV[1])
return 1
`

var touchSessionLua = redis.NewScript(touchSessionScript)

// Ledger implements store.SessionLedger on Redis.
type Ledger struct {
	redis     redis.UniversalClient
	prefix    string
	retention time.Duration
}

var _ store.SessionLedger = (*Ledger)(nil)

// NewLedger creates a session [Ledger]. prefix sets the key namespace and
// retention how long records survive after their last activity.
func NewLedger(redisClient redis.UniversalClient, prefix string, retention time.Duration) *Ledger {
	if prefix == "" {
		prefix = "as"
	}
	if retention <= 0 {
		retention = defaultRetention
	}
	return &Ledger{
		redis:     redisClient,
		prefix:    prefix,
		retention: retention,
	}
}

func (l *Ledger) sessionKey(sessionID string) string {
	return l.prefix + ":s:" + sessionID
}

func (l *Ledger) sessionPrefix() string {
	return l.prefix + ":s:"
}

func (l *Ledger) accountKey(accountID string) string {
	return l.prefix + ":a:" + accountID
}

func (l *Ledger) accountPrefix() string {
	return l.prefix + ":a:"
}

func (l *Ledger) liveKey() string {
	return l.prefix + ":live"
}

// CreateSession implements store.SessionLedger.
func (l *Ledger) CreateSession(ctx context.Context, sess *store.Session) error {
	if sess == nil || sess.ID == "" || sess.AccountID == "" {
		return errors.New("session: incomplete session record")
	}
	created, err := createSessionLua.Run(ctx, l.redis,
		[]string{l.accountKey(sess.AccountID), l.sessionKey(sess.ID), l.liveKey()},
		sess.ID,
		sess.AccountID,
		sess.LoginTime.UnixMilli(),
		sess.IP,
		sess.UserAgent,
		l.retention.Milliseconds(),
		l.sessionPrefix(),
	).Int()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if created == 0 {
		return store.ErrSessionConflict
	}
	return nil
}

// Session implements store.SessionLedger.
func (l *Ledger) Session(ctx context.Context, sessionID string) (*store.Session, error) {
	fields, err := l.redis.HGetAll(ctx, l.sessionKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, store.ErrNotFound
	}
	return decodeSession(sessionID, fields)
}

// ActiveSession implements store.SessionLedger.
func (l *Ledger) ActiveSession(ctx context.Context, accountID string) (*store.Session, error) {
	sid, err := l.redis.Get(ctx, l.accountKey(accountID)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	sess, err := l.Session(ctx, sid)
	if err != nil {
		return nil, err
	}
	if !sess.Active {
		return nil, store.ErrNotFound
	}
	return sess, nil
}

// TouchSession implements store.SessionLedger.
func (l *Ledger) TouchSession(ctx context.Context, sessionID string, now time.Time) error {
	sess, err := l.Session(ctx, sessionID)
	if err != nil {
		return err
	}
	touched, err := touchSessionLua.Run(ctx, l.redis,
		[]string{l.sessionKey(sessionID), l.liveKey(), l.accountKey(sess.AccountID)},
		sessionID,
		now.UnixMilli(),
		l.retention.Milliseconds(),
	).Int()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if touched == 0 {
		return store.ErrNotFound
	}
	return nil
}

// CloseSession implements store.SessionLedger.
func (l *Ledger) CloseSession(ctx context.Context, sessionID string, now time.Time) (bool, error) {
	return l.close(ctx, sessionID, now, "")
}

func (l *Ledger) close(ctx context.Context, sessionID string, now time.Time, cutoff string) (bool, error) {
	closed, err := closeSessionLua.Run(ctx, l.redis,
		[]string{l.sessionKey(sessionID), l.liveKey()},
		sessionID,
		now.UnixMilli(),
		l.accountPrefix(),
		l.retention.Milliseconds(),
		cutoff,
	).Int()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return closed == 1, nil
}

// CloseStale implements store.SessionLedger. Each close re-checks the idle
// bound, so sessions refreshed after the scan survive.
func (l *Ledger) CloseStale(ctx context.Context, cutoff, now time.Time) ([]store.Session, error) {
	ids, err := l.redis.ZRangeByScore(ctx, l.liveKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(cutoff.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	bound := strconv.FormatInt(cutoff.UnixMilli(), 10)
	closed := make([]store.Session, 0, len(ids))
	for _, id := range ids {
		ok, err := l.close(ctx, id, now, bound)
		if err != nil {
			return closed, err
		}
		if !ok {
			continue
		}
		sess, err := l.Session(ctx, id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return closed, err
		}
		closed = append(closed, *sess)
	}
	return closed, nil
}

// Ping reports round-trip latency to Redis.
func (l *Ledger) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := l.redis.Ping(ctx).Err(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return time.Since(start), nil
}

func decodeSession(id string, f map[string]string) (*store.Session, error) {
	login, err := parseMillis(f["login"])
	if err != nil {
		return nil, fmt.Errorf("session: corrupt login field: %w", err)
	}
	seen, err := parseMillis(f["seen"])
	if err != nil {
		return nil, fmt.Errorf("session: corrupt seen field: %w", err)
	}
	sess := &store.Session{
		ID:        id,
		AccountID: f["account"],
		LoginTime: login,
		LastSeen:  seen,
		IP:        f["ip"],
		UserAgent: f["ua"],
		Active:    f["active"] == "1",
	}
	if raw := f["logout"]; raw != "" {
		t, err := parseMillis(raw)
		if err != nil {
			return nil, fmt.Errorf("session: corrupt logout field: %w", err)
		}
		sess.LogoutTime = &t
	}
	return sess, nil
}

func parseMillis(raw string) (time.Time, error) {
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms).UTC(), nil
}

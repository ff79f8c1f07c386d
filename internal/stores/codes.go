package stores

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
var ErrRedisUnavailable = errors.New("code ledger redis unavailable")

const defaultRetention = 24 * time.Hour

// consumeCodeLua selects the newest unused code whose hash matches and marks it
// used in the same step.
// KEYS[1] = index key
// ARGV[1] = code hash
// ARGV[2] = now (unix ms)
// ARGV[3] = record key prefix
//
// Returns {id, "ok"}, {id, "expired"} or {"", "not_found"}.
var consumeCodeLua = redis.NewScript(`
local ids = redis.call('ZREVRANGE', KEYS[1], 0, -1)
for _, id in ipairs(ids) do
  local rk = ARGV[3] .. id
  local f = redis.call('HMGET', rk, 'hash', 'used', 'expires')
  if not f[1] then
    redis.call('ZREM', KEYS[1], id)
  elseif f[1] == ARGV[1] and f[2] == '0' then
    if tonumber(f[3]) <= tonumber(ARGV[2]) then
      return {id, 'expired'}
    end
    redis.call('HSET', rk, 'used', '1', 'used_at', ARGV[2])
    return {id, 'ok'}
  end
end
return {'', 'not_found'}
`)

// expireUnusedLua moves the expiry of every live unused code to now.
// KEYS[1] = index key
// ARGV[1] = now (unix ms)
// ARGV[2] = record key prefix
var expireUnusedLua = redis.NewScript(`
local ids = redis.call('ZRANGE', KEYS[1], 0, -1)
local n = 0
for _, id in ipairs(ids) do
  local rk = ARGV[2] .. id
  local f = redis.call('HMGET', rk, 'used', 'expires')
  if not f[1] then
    redis.call('ZREM', KEYS[1], id)
  elseif f[1] == '0' and tonumber(f[2]) > tonumber(ARGV[1]) then
    redis.call('HSET', rk, 'expires', ARGV[1])
    n = n + 1
  end
end
return n
`)

// CodeLedger implements store.CodeLedger on Redis.
type CodeLedger struct {
	redis     redis.UniversalClient
	prefix    string
	retention time.Duration
}

var (
	_ store.CodeLedger = (*CodeLedger)(nil)
	_ store.Purger     = (*CodeLedger)(nil)
)

// NewCodeLedger returns a ledger using prefix for every key. retention bounds
// how long records survive after issuance and must exceed the code TTL.
func NewCodeLedger(redisClient redis.UniversalClient, prefix string, retention time.Duration) *CodeLedger {
	if prefix == "" {
		prefix = "avc"
	}
	if retention <= 0 {
		retention = defaultRetention
	}
	return &CodeLedger{
		redis:     redisClient,
		prefix:    prefix,
		retention: retention,
	}
}

func (l *CodeLedger) slot(email string, kind store.CodeKind) string {
	return l.prefix + ":{" + string(kind) + ":" + email + "}"
}

func (l *CodeLedger) indexKey(email string, kind store.CodeKind) string {
	return l.slot(email, kind) + ":idx"
}

func (l *CodeLedger) recordPrefix(email string, kind store.CodeKind) string {
	return l.slot(email, kind) + ":c:"
}

func (l *CodeLedger) grantKey(grantID string) string {
	return l.prefix + ":g:" + grantID
}

// IssueCode persists the record and its index entry in one MULTI.
func (l *CodeLedger) IssueCode(ctx context.Context, code *store.VerificationCode) error {
	if code == nil || code.ID == "" || code.CodeHash == "" || !code.Kind.Valid() {
		return errors.New("code ledger: incomplete code record")
	}
	email := store.NormalizeEmail(code.Email)
	idx := l.indexKey(email, code.Kind)
	rk := l.recordPrefix(email, code.Kind) + code.ID

	_, err := l.redis.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, rk, map[string]any{
			"email":   email,
			"kind":    string(code.Kind),
			"hash":    code.CodeHash,
			"ip":      code.IP,
			"created": code.CreatedAt.UnixMilli(),
			"expires": code.ExpiresAt.UnixMilli(),
			"used":    "0",
		})
		p.PExpire(ctx, rk, l.retention)
		p.ZAdd(ctx, idx, redis.Z{Score: float64(code.CreatedAt.UnixMilli()), Member: code.ID})
		p.PExpire(ctx, idx, l.retention)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// ConsumeCode implements store.CodeLedger.
func (l *CodeLedger) ConsumeCode(ctx context.Context, email, codeHash string, kind store.CodeKind, now time.Time) (*store.VerificationCode, error) {
	email = store.NormalizeEmail(email)
	prefix := l.recordPrefix(email, kind)

	res, err := consumeCodeLua.Run(ctx, l.redis,
		[]string{l.indexKey(email, kind)},
		codeHash,
		now.UnixMilli(),
		prefix,
	).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(res) != 2 {
		return nil, fmt.Errorf("%w: unexpected lua result", ErrRedisUnavailable)
	}

	id, status := res[0], res[1]
	if status == "not_found" {
		return nil, store.ErrNotFound
	}

	rec, err := l.load(ctx, prefix+id, id)
	if err != nil {
		return nil, err
	}
	if status == "expired" {
		return rec, store.ErrCodeExpired
	}
	return rec, nil
}

// ExpireUnused implements store.CodeLedger.
func (l *CodeLedger) ExpireUnused(ctx context.Context, email string, kind store.CodeKind, now time.Time) (int, error) {
	email = store.NormalizeEmail(email)
	n, err := expireUnusedLua.Run(ctx, l.redis,
		[]string{l.indexKey(email, kind)},
		now.UnixMilli(),
		l.recordPrefix(email, kind),
	).Int()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return n, nil
}

// ClaimResetGrant implements store.CodeLedger with SET NX; the claim key lives
// until the grant itself would have expired.
func (l *CodeLedger) ClaimResetGrant(ctx context.Context, grantID, email string, expiresAt, now time.Time) error {
	ttl := expiresAt.Sub(now)
	if ttl < time.Second {
		ttl = time.Second
	}
	ok, err := l.redis.SetNX(ctx, l.grantKey(grantID), store.NormalizeEmail(email), ttl).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if !ok {
		return store.ErrGrantClaimed
	}
	return nil
}

// Purge drops index entries and records created before the cutoff. Redis TTLs
// already bound growth; this keeps indexes short between expirations.
func (l *CodeLedger) Purge(ctx context.Context, before time.Time) (int, error) {
	var (
		cursor uint64
		purged int
	)
	maxScore := "(" + strconv.FormatInt(before.UnixMilli(), 10)
	for {
		keys, next, err := l.redis.Scan(ctx, cursor, l.prefix+":{*}:idx", 100).Result()
		if err != nil {
			return purged, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		for _, idx := range keys {
			ids, err := l.redis.ZRangeByScore(ctx, idx, &redis.ZRangeBy{Min: "-inf", Max: maxScore}).Result()
			if err != nil {
				return purged, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
			}
			if len(ids) == 0 {
				continue
			}
			recordPrefix := idx[:len(idx)-len(":idx")] + ":c:"
			recordKeys := make([]string, 0, len(ids))
			members := make([]any, 0, len(ids))
			for _, id := range ids {
				recordKeys = append(recordKeys, recordPrefix+id)
				members = append(members, id)
			}
			_, err = l.redis.TxPipelined(ctx, func(p redis.Pipeliner) error {
				p.Del(ctx, recordKeys...)
				p.ZRem(ctx, idx, members...)
				return nil
			})
			if err != nil {
				return purged, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
			}
			purged += len(ids)
		}
		cursor = next
		if cursor == 0 {
			return purged, nil
		}
	}
}

func (l *CodeLedger) load(ctx context.Context, key, id string) (*store.VerificationCode, error) {
	fields, err := l.redis.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, store.ErrNotFound
	}
	return decodeCode(id, fields)
}

func decodeCode(id string, f map[string]string) (*store.VerificationCode, error) {
	created, err := strconv.ParseInt(f["created"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: corrupt created field", ErrRedisUnavailable)
	}
	expires, err := strconv.ParseInt(f["expires"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: corrupt expires field", ErrRedisUnavailable)
	}
	rec := &store.VerificationCode{
		ID:        id,
		Email:     f["email"],
		CodeHash:  f["hash"],
		Kind:      store.CodeKind(f["kind"]),
		CreatedAt: time.UnixMilli(created).UTC(),
		ExpiresAt: time.UnixMilli(expires).UTC(),
		Used:      f["used"] == "1",
		IP:        f["ip"],
	}
	if raw, ok := f["used_at"]; ok && raw != "" {
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err == nil {
			usedAt := time.UnixMilli(ms).UTC()
			rec.UsedAt = &usedAt
		}
	}
	return rec, nil
}

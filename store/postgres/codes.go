package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	squirrel "github.com/Masterminds/squirrel"

	"github.com/MrEthical07/agencyauth/store"
)

var codeColumns = []string{
	"id",
	"email",
	"code_hash",
	"kind",
	"created_at",
	"expires_at",
	"used",
	"used_at",
	"ip",
}

func (s *Store) IssueCode(ctx context.Context, c *store.VerificationCode) error {
	query, args, err := s.builder.Insert("verification_codes").
		Columns(codeColumns...).
		Values(
			c.ID,
			store.NormalizeEmail(c.Email),
			c.CodeHash,
			string(c.Kind),
			c.CreatedAt,
			c.ExpiresAt,
			false,
			nil,
			c.IP,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert code sql: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("insert code: %w", err)
	}
	return nil
}

// ConsumeCode locks the newest matching unused row with SELECT ... FOR UPDATE
// and marks it used in the same transaction.
func (s *Store) ConsumeCode(ctx context.Context, email, codeHash string, kind store.CodeKind, now time.Time) (_ *store.VerificationCode, err error) {
	query, args, err := s.builder.Select(codeColumns...).
		From("verification_codes").
		Where(squirrel.Eq{
			"email":     store.NormalizeEmail(email),
			"kind":      string(kind),
			"code_hash": codeHash,
			"used":      false,
		}).
		OrderBy("created_at DESC", "id DESC").
		Limit(1).
		Suffix("FOR UPDATE").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select code sql: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin consume code: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	rec, err := scanCode(tx.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("select code: %w", err)
	}
	if rec.Expired(now) {
		return rec, store.ErrCodeExpired
	}

	update, uargs, err := s.builder.Update("verification_codes").
		Set("used", true).
		Set("used_at", now).
		Where(squirrel.Eq{"id": rec.ID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build consume code sql: %w", err)
	}
	if _, err = tx.ExecContext(ctx, update, uargs...); err != nil {
		return nil, fmt.Errorf("consume code: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit consume code: %w", err)
	}

	rec.Used = true
	usedAt := now
	rec.UsedAt = &usedAt
	return rec, nil
}

func (s *Store) ExpireUnused(ctx context.Context, email string, kind store.CodeKind, now time.Time) (int, error) {
	query, args, err := s.builder.Update("verification_codes").
		Set("expires_at", now).
		Where(squirrel.Eq{
			"email": store.NormalizeEmail(email),
			"kind":  string(kind),
			"used":  false,
		}).
		Where(squirrel.Gt{"expires_at": now}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build expire codes sql: %w", err)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("expire codes: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("expire codes: %w", err)
	}
	return int(n), nil
}

// ClaimResetGrant inserts the claim row; the primary key makes a second claim a
// no-op that reports ErrGrantClaimed.
func (s *Store) ClaimResetGrant(ctx context.Context, grantID, email string, expiresAt, now time.Time) error {
	query, args, err := s.builder.Insert("reset_grants").
		Columns("id", "email", "expires_at", "consumed_at").
		Values(grantID, store.NormalizeEmail(email), expiresAt, now).
		Suffix("ON CONFLICT (id) DO NOTHING").
		ToSql()
	if err != nil {
		return fmt.Errorf("build claim grant sql: %w", err)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("claim grant: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("claim grant: %w", err)
	}
	if n == 0 {
		return store.ErrGrantClaimed
	}
	return nil
}

// Purge deletes codes and grant claims that expired before the cutoff.
func (s *Store) Purge(ctx context.Context, before time.Time) (int, error) {
	total := 0
	for _, table := range []string{"verification_codes", "reset_grants"} {
		query, args, err := s.builder.Delete(table).
			Where(squirrel.Lt{"expires_at": before}).
			ToSql()
		if err != nil {
			return total, fmt.Errorf("build purge sql: %w", err)
		}
		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return total, fmt.Errorf("purge %s: %w", table, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return total, fmt.Errorf("purge %s: %w", table, err)
		}
		total += int(n)
	}
	return total, nil
}

func scanCode(row rowScanner) (*store.VerificationCode, error) {
	var (
		c      store.VerificationCode
		kind   string
		usedAt sql.NullTime
	)
	if err := row.Scan(
		&c.ID,
		&c.Email,
		&c.CodeHash,
		&kind,
		&c.CreatedAt,
		&c.ExpiresAt,
		&c.Used,
		&usedAt,
		&c.IP,
	); err != nil {
		return nil, err
	}
	c.Kind = store.CodeKind(kind)
	c.UsedAt = timePtr(usedAt)
	return &c, nil
}

package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	squirrel "github.com/Masterminds/squirrel"

	"github.com/MrEthical07/agencyauth/store"
)

var accountColumns = []string{
	"id",
	"email",
	"password_hash",
	"password_history",
	"password_last_changed",
	"password_expiry_date",
	"password_min_change_date",
	"email_verified",
	"email_verified_at",
	"failed_access_count",
	"lockout_end",
	"first_name",
	"last_name",
	"gender",
	"nric",
	"date_of_birth",
	"resume_path",
	"who_am_i",
	"created_at",
}

// CreateAccount inserts a new account. The unique index on lower(email) turns a
// concurrent duplicate into ErrDuplicateEmail.
func (s *Store) CreateAccount(ctx context.Context, a *store.Account) error {
	history, err := json.Marshal(nonNilHistory(a.PasswordHistory))
	if err != nil {
		return fmt.Errorf("encode password history: %w", err)
	}
	var dob sql.NullTime
	if !a.Profile.DateOfBirth.IsZero() {
		dob = sql.NullTime{Time: a.Profile.DateOfBirth, Valid: true}
	}

	query, args, err := s.builder.Insert("accounts").
		Columns(accountColumns...).
		Values(
			a.ID,
			store.NormalizeEmail(a.Email),
			a.PasswordHash,
			history,
			a.PasswordLastChanged,
			a.PasswordExpiryDate,
			a.PasswordMinChangeDate,
			a.EmailVerified,
			nullTime(a.EmailVerifiedAt),
			a.FailedAccessCount,
			nullTime(a.LockoutEnd),
			a.Profile.FirstName,
			a.Profile.LastName,
			a.Profile.Gender,
			a.Profile.NRIC,
			dob,
			a.Profile.ResumePath,
			a.Profile.WhoAmI,
			a.CreatedAt,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert account sql: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return store.ErrDuplicateEmail
		}
		return fmt.Errorf("insert account: %w", err)
	}
	return nil
}

func (s *Store) AccountByEmail(ctx context.Context, email string) (*store.Account, error) {
	return s.accountWhere(ctx, squirrel.Expr("LOWER(email) = ?", store.NormalizeEmail(email)))
}

func (s *Store) AccountByID(ctx context.Context, id string) (*store.Account, error) {
	return s.accountWhere(ctx, squirrel.Eq{"id": id})
}

func (s *Store) accountWhere(ctx context.Context, pred squirrel.Sqlizer) (*store.Account, error) {
	query, args, err := s.builder.Select(accountColumns...).
		From("accounts").
		Where(pred).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select account sql: %w", err)
	}

	a, err := scanAccount(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("select account: %w", err)
	}
	return a, nil
}

// RecordLoginFailure increments the counter and arms the lockout in a single
// UPDATE, so concurrent wrong passwords cannot lose an increment.
func (s *Store) RecordLoginFailure(ctx context.Context, accountID string, maxAttempts int, lockoutEnd time.Time) (store.LoginFailure, error) {
	query, args, err := s.builder.Update("accounts").
		Set("failed_access_count", squirrel.Expr("failed_access_count + 1")).
		Set("lockout_end", squirrel.Expr("CASE WHEN failed_access_count + 1 >= ? THEN ? ELSE lockout_end END", maxAttempts, lockoutEnd)).
		Where(squirrel.Eq{"id": accountID}).
		Suffix("RETURNING failed_access_count, lockout_end").
		ToSql()
	if err != nil {
		return store.LoginFailure{}, fmt.Errorf("build login failure sql: %w", err)
	}

	var (
		count int
		end   sql.NullTime
	)
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count, &end); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.LoginFailure{}, store.ErrNotFound
		}
		return store.LoginFailure{}, fmt.Errorf("record login failure: %w", err)
	}
	return store.LoginFailure{FailedAccessCount: count, LockoutEnd: timePtr(end)}, nil
}

func (s *Store) ResetLoginFailures(ctx context.Context, accountID string) error {
	query, args, err := s.builder.Update("accounts").
		Set("failed_access_count", 0).
		Set("lockout_end", nil).
		Where(squirrel.Eq{"id": accountID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build reset failures sql: %w", err)
	}
	return s.execOne(ctx, "reset login failures", query, args)
}

func (s *Store) MarkEmailVerified(ctx context.Context, accountID string, at time.Time) error {
	query, args, err := s.builder.Update("accounts").
		Set("email_verified", true).
		Set("email_verified_at", at).
		Where(squirrel.Eq{"id": accountID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build verify email sql: %w", err)
	}
	return s.execOne(ctx, "mark email verified", query, args)
}

// UpdatePassword applies change only while the stored hash still equals
// change.PreviousHash.
func (s *Store) UpdatePassword(ctx context.Context, accountID string, change store.PasswordChange) error {
	history, err := json.Marshal(nonNilHistory(change.History))
	if err != nil {
		return fmt.Errorf("encode password history: %w", err)
	}
	query, args, err := s.builder.Update("accounts").
		Set("password_hash", change.Hash).
		Set("password_history", history).
		Set("password_last_changed", change.ChangedAt).
		Set("password_expiry_date", change.ExpiresAt).
		Set("password_min_change_date", change.MinChangeAt).
		Set("failed_access_count", 0).
		Set("lockout_end", nil).
		Where(squirrel.Eq{"id": accountID, "password_hash": change.PreviousHash}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update password sql: %w", err)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if n == 1 {
		return nil
	}
	if _, err := s.AccountByID(ctx, accountID); err != nil {
		return err
	}
	return store.ErrConflict
}

func (s *Store) UnlockExpired(ctx context.Context, now time.Time) ([]store.Account, error) {
	query, args, err := s.builder.Update("accounts").
		Set("failed_access_count", 0).
		Set("lockout_end", nil).
		Where(squirrel.And{
			squirrel.NotEq{"lockout_end": nil},
			squirrel.LtOrEq{"lockout_end": now},
		}).
		Suffix("RETURNING " + strings.Join(accountColumns, ", ")).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build unlock sql: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("unlock expired: %w", err)
	}
	defer rows.Close()

	var released []store.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan unlocked account: %w", err)
		}
		released = append(released, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("unlock expired: %w", err)
	}
	return released, nil
}

func (s *Store) execOne(ctx context.Context, op, query string, args []any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func scanAccount(row rowScanner) (*store.Account, error) {
	var (
		a          store.Account
		history    []byte
		verifiedAt sql.NullTime
		lockoutEnd sql.NullTime
		dob        sql.NullTime
	)
	err := row.Scan(
		&a.ID,
		&a.Email,
		&a.PasswordHash,
		&history,
		&a.PasswordLastChanged,
		&a.PasswordExpiryDate,
		&a.PasswordMinChangeDate,
		&a.EmailVerified,
		&verifiedAt,
		&a.FailedAccessCount,
		&lockoutEnd,
		&a.Profile.FirstName,
		&a.Profile.LastName,
		&a.Profile.Gender,
		&a.Profile.NRIC,
		&dob,
		&a.Profile.ResumePath,
		&a.Profile.WhoAmI,
		&a.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(history) > 0 {
		if err := json.Unmarshal(history, &a.PasswordHistory); err != nil {
			return nil, fmt.Errorf("decode password history: %w", err)
		}
	}
	a.EmailVerifiedAt = timePtr(verifiedAt)
	a.LockoutEnd = timePtr(lockoutEnd)
	if dob.Valid {
		a.Profile.DateOfBirth = dob.Time
	}
	return &a, nil
}

func nonNilHistory(h []string) []string {
	if h == nil {
		return []string{}
	}
	return h
}

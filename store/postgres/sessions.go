package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	squirrel "github.com/Masterminds/squirrel"

	"github.com/MrEthical07/agencyauth/store"
)

var sessionColumns = []string{
	"id",
	"account_id",
	"login_time",
	"last_seen",
	"logout_time",
	"ip",
	"user_agent",
	"active",
}

// CreateSession relies on the partial unique index over active sessions to
// make the single-session check and the insert one step.
func (s *Store) CreateSession(ctx context.Context, sess *store.Session) error {
	query, args, err := s.builder.Insert("sessions").
		Columns(sessionColumns...).
		Values(
			sess.ID,
			sess.AccountID,
			sess.LoginTime,
			sess.LastSeen,
			nil,
			sess.IP,
			sess.UserAgent,
			true,
		).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert session sql: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		if isUniqueViolation(err) {
			return store.ErrSessionConflict
		}
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s *Store) Session(ctx context.Context, sessionID string) (*store.Session, error) {
	return s.sessionWhere(ctx, squirrel.Eq{"id": sessionID})
}

func (s *Store) ActiveSession(ctx context.Context, accountID string) (*store.Session, error) {
	return s.sessionWhere(ctx, squirrel.Eq{"account_id": accountID, "active": true})
}

func (s *Store) sessionWhere(ctx context.Context, pred squirrel.Sqlizer) (*store.Session, error) {
	query, args, err := s.builder.Select(sessionColumns...).
		From("sessions").
		Where(pred).
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select session sql: %w", err)
	}
	sess, err := scanSession(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("select session: %w", err)
	}
	return sess, nil
}

func (s *Store) TouchSession(ctx context.Context, sessionID string, now time.Time) error {
	query, args, err := s.builder.Update("sessions").
		Set("last_seen", now).
		Where(squirrel.Eq{"id": sessionID, "active": true}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build touch session sql: %w", err)
	}
	return s.execOne(ctx, "touch session", query, args)
}

func (s *Store) CloseSession(ctx context.Context, sessionID string, now time.Time) (bool, error) {
	query, args, err := s.builder.Update("sessions").
		Set("active", false).
		Set("logout_time", now).
		Where(squirrel.Eq{"id": sessionID, "active": true}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build close session sql: %w", err)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("close session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("close session: %w", err)
	}
	return n == 1, nil
}

// CloseStale closes every active session idle since before cutoff in one
// statement and returns the closed rows.
func (s *Store) CloseStale(ctx context.Context, cutoff, now time.Time) ([]store.Session, error) {
	query, args, err := s.builder.Update("sessions").
		Set("active", false).
		Set("logout_time", now).
		Where(squirrel.Eq{"active": true}).
		Where(squirrel.Lt{"last_seen": cutoff}).
		Suffix("RETURNING " + strings.Join(sessionColumns, ", ")).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build close stale sql: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("close stale sessions: %w", err)
	}
	defer rows.Close()

	var closed []store.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan stale session: %w", err)
		}
		closed = append(closed, *sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("close stale sessions: %w", err)
	}
	return closed, nil
}

func scanSession(row rowScanner) (*store.Session, error) {
	var (
		sess   store.Session
		logout sql.NullTime
	)
	if err := row.Scan(
		&sess.ID,
		&sess.AccountID,
		&sess.LoginTime,
		&sess.LastSeen,
		&logout,
		&sess.IP,
		&sess.UserAgent,
		&sess.Active,
	); err != nil {
		return nil, err
	}
	sess.LogoutTime = timePtr(logout)
	return &sess, nil
}

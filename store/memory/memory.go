// Package memory is an in-process implementation of every store contract. It backs
// engine tests and the single-node development mode of the server.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/MrEthical07/agencyauth/store"
)

// Store keeps all records in maps guarded by a single mutex, which makes every
// operation trivially atomic.
type Store struct {
	mu sync.Mutex

	accounts map[string]*store.Account
	byEmail  map[string]string

	codes  []*store.VerificationCode
	grants map[string]time.Time

	sessions map[string]*store.Session
	active   map[string]string

	audit []store.AuditEntry
}

// New returns an empty store.
func New() *Store {
	return &Store{
		accounts: make(map[string]*store.Account),
		byEmail:  make(map[string]string),
		grants:   make(map[string]time.Time),
		sessions: make(map[string]*store.Session),
		active:   make(map[string]string),
	}
}

var (
	_ store.CredentialStore = (*Store)(nil)
	_ store.CodeLedger      = (*Store)(nil)
	_ store.SessionLedger   = (*Store)(nil)
	_ store.AuditLog        = (*Store)(nil)
	_ store.Purger          = (*Store)(nil)
)

func (s *Store) CreateAccount(_ context.Context, account *store.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	email := store.NormalizeEmail(account.Email)
	if _, ok := s.byEmail[email]; ok {
		return store.ErrDuplicateEmail
	}
	cp := copyAccount(account)
	cp.Email = email
	s.accounts[cp.ID] = cp
	s.byEmail[email] = cp.ID
	return nil
}

func (s *Store) AccountByEmail(_ context.Context, email string) (*store.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byEmail[store.NormalizeEmail(email)]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyAccount(s.accounts[id]), nil
}

func (s *Store) AccountByID(_ context.Context, id string) (*store.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyAccount(a), nil
}

func (s *Store) RecordLoginFailure(_ context.Context, accountID string, maxAttempts int, lockoutEnd time.Time) (store.LoginFailure, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[accountID]
	if !ok {
		return store.LoginFailure{}, store.ErrNotFound
	}
	a.FailedAccessCount++
	if a.FailedAccessCount >= maxAttempts {
		end := lockoutEnd
		a.LockoutEnd = &end
	}
	return store.LoginFailure{
		FailedAccessCount: a.FailedAccessCount,
		LockoutEnd:        copyTime(a.LockoutEnd),
	}, nil
}

func (s *Store) ResetLoginFailures(_ context.Context, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[accountID]
	if !ok {
		return store.ErrNotFound
	}
	a.FailedAccessCount = 0
	a.LockoutEnd = nil
	return nil
}

func (s *Store) MarkEmailVerified(_ context.Context, accountID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[accountID]
	if !ok {
		return store.ErrNotFound
	}
	a.EmailVerified = true
	a.EmailVerifiedAt = &at
	return nil
}

func (s *Store) UpdatePassword(_ context.Context, accountID string, change store.PasswordChange) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[accountID]
	if !ok {
		return store.ErrNotFound
	}
	if a.PasswordHash != change.PreviousHash {
		return store.ErrConflict
	}
	a.PasswordHash = change.Hash
	a.PasswordHistory = append([]string(nil), change.History...)
	a.PasswordLastChanged = change.ChangedAt
	a.PasswordExpiryDate = change.ExpiresAt
	a.PasswordMinChangeDate = change.MinChangeAt
	a.FailedAccessCount = 0
	a.LockoutEnd = nil
	return nil
}

func (s *Store) UnlockExpired(_ context.Context, now time.Time) ([]store.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var released []store.Account
	for _, a := range s.accounts {
		if a.LockoutEnd == nil || a.LockoutEnd.After(now) {
			continue
		}
		a.LockoutEnd = nil
		a.FailedAccessCount = 0
		released = append(released, *copyAccount(a))
	}
	sort.Slice(released, func(i, j int) bool { return released[i].ID < released[j].ID })
	return released, nil
}

func (s *Store) IssueCode(_ context.Context, code *store.VerificationCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *code
	cp.Code = ""
	cp.Email = store.NormalizeEmail(code.Email)
	s.codes = append(s.codes, &cp)
	return nil
}

func (s *Store) ConsumeCode(_ context.Context, email, codeHash string, kind store.CodeKind, now time.Time) (*store.VerificationCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	email = store.NormalizeEmail(email)
	var match *store.VerificationCode
	for _, c := range s.codes {
		if c.Used || c.Email != email || c.Kind != kind || c.CodeHash != codeHash {
			continue
		}
		if match == nil || c.CreatedAt.After(match.CreatedAt) ||
			(c.CreatedAt.Equal(match.CreatedAt) && c.ID > match.ID) {
			match = c
		}
	}
	if match == nil {
		return nil, store.ErrNotFound
	}
	if match.Expired(now) {
		cp := *match
		return &cp, store.ErrCodeExpired
	}
	match.Used = true
	usedAt := now
	match.UsedAt = &usedAt

	cp := *match
	return &cp, nil
}

func (s *Store) ExpireUnused(_ context.Context, email string, kind store.CodeKind, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	email = store.NormalizeEmail(email)
	n := 0
	for _, c := range s.codes {
		if c.Used || c.Email != email || c.Kind != kind || c.Expired(now) {
			continue
		}
		c.ExpiresAt = now
		n++
	}
	return n, nil
}

func (s *Store) ClaimResetGrant(_ context.Context, grantID, _ string, expiresAt, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.grants[grantID]; ok {
		return store.ErrGrantClaimed
	}
	s.grants[grantID] = expiresAt
	return nil
}

func (s *Store) CreateSession(_ context.Context, sess *store.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.active[sess.AccountID]; ok {
		return store.ErrSessionConflict
	}
	cp := *sess
	cp.Active = true
	s.sessions[cp.ID] = &cp
	s.active[cp.AccountID] = cp.ID
	return nil
}

func (s *Store) Session(_ context.Context, sessionID string) (*store.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *sess
	return &cp, nil
}

func (s *Store) ActiveSession(_ context.Context, accountID string) (*store.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.active[accountID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *s.sessions[id]
	return &cp, nil
}

func (s *Store) TouchSession(_ context.Context, sessionID string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok || !sess.Active {
		return store.ErrNotFound
	}
	sess.LastSeen = now
	return nil
}

func (s *Store) CloseSession(_ context.Context, sessionID string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.closeLocked(sessionID, now), nil
}

func (s *Store) closeLocked(sessionID string, now time.Time) bool {
	sess, ok := s.sessions[sessionID]
	if !ok || !sess.Active {
		return false
	}
	sess.Active = false
	logout := now
	sess.LogoutTime = &logout
	if s.active[sess.AccountID] == sessionID {
		delete(s.active, sess.AccountID)
	}
	return true
}

func (s *Store) CloseStale(_ context.Context, cutoff, now time.Time) ([]store.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var closed []store.Session
	for _, id := range s.active {
		sess := s.sessions[id]
		if !sess.LastSeen.Before(cutoff) {
			continue
		}
		if s.closeLocked(id, now) {
			closed = append(closed, *sess)
		}
	}
	sort.Slice(closed, func(i, j int) bool { return closed[i].ID < closed[j].ID })
	return closed, nil
}

func (s *Store) Append(_ context.Context, entry store.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.audit = append(s.audit, entry)
	return nil
}

// AuditEntries returns a copy of the audit log in insertion order.
func (s *Store) AuditEntries() []store.AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]store.AuditEntry(nil), s.audit...)
}

// Purge drops codes and grant claims whose expiry is before the cutoff.
func (s *Store) Purge(_ context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	kept := s.codes[:0]
	for _, c := range s.codes {
		if c.ExpiresAt.Before(before) {
			n++
			continue
		}
		kept = append(kept, c)
	}
	s.codes = kept
	for id, exp := range s.grants {
		if exp.Before(before) {
			delete(s.grants, id)
			n++
		}
	}
	return n, nil
}

func copyAccount(a *store.Account) *store.Account {
	if a == nil {
		return nil
	}
	cp := *a
	cp.PasswordHistory = append([]string(nil), a.PasswordHistory...)
	cp.EmailVerifiedAt = copyTime(a.EmailVerifiedAt)
	cp.LockoutEnd = copyTime(a.LockoutEnd)
	return &cp
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

package agencyauth

import (
	"context"
	"errors"
	"net/mail"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/MrEthical07/agencyauth/internal"
	internalaudit "github.com/MrEthical07/agencyauth/internal/audit"
	"github.com/MrEthical07/agencyauth/internal/rate"
	"github.com/MrEthical07/agencyauth/jwt"
	"github.com/MrEthical07/agencyauth/password"
	"github.com/MrEthical07/agencyauth/store"
	"go.uber.org/zap"
)

const maxEmailLength = 256

// Engine runs the credential and session lifecycle. Build one with [Builder];
// all methods are safe for concurrent use.
type Engine struct {
	config Config
	policy password.Policy
	logger *zap.Logger
	clock  func() time.Time

	accounts store.CredentialStore
	codes    store.CodeLedger
	sessions store.SessionLedger

	audit      AuditSink
	dispatcher *internalaudit.Dispatcher
	metrics    *Metrics
	limiter    *rate.Limiter

	passwordHash *password.Argon2
	dummyHash    string
	tokens       *jwt.Manager

	mailer    Mailer
	bot       BotVerifier
	protector Protector
}

// Close flushes pending audit events. It does not close stores the caller
// handed to the builder.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.dispatcher != nil {
		e.dispatcher.Close()
	}
}

// AuditDropped reports events discarded by the async audit queue.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.dispatcher == nil {
		return 0
	}
	return e.dispatcher.Dropped()
}

// MetricsSnapshot copies the engine counters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// Config returns a copy of the engine configuration.
func (e *Engine) Config() Config {
	if e == nil {
		return Config{}
	}
	return cloneConfig(e.config)
}

// Tokens exposes the claim manager so transports can parse session cookies.
func (e *Engine) Tokens() *jwt.Manager {
	if e == nil {
		return nil
	}
	return e.tokens
}

func (e *Engine) now() time.Time {
	if e == nil || e.clock == nil {
		return time.Now()
	}
	return e.clock()
}

func (e *Engine) ready() error {
	if e == nil || e.accounts == nil || e.codes == nil || e.sessions == nil ||
		e.passwordHash == nil || e.tokens == nil {
		return ErrEngineNotReady
	}
	return nil
}

// verifyBot rejects the request when a verifier is configured and the token
// fails or scores below the threshold. A transport error counts as a failure.
func (e *Engine) verifyBot(ctx context.Context, token, subject string) error {
	if e.bot == nil {
		return nil
	}
	verdict, err := e.bot.Verify(ctx, token)
	if err == nil && verdict.Success && verdict.Score >= e.config.Policy.BotScoreThreshold {
		return nil
	}
	if err != nil {
		e.logger.Warn("bot verification error", zap.Error(err))
	}
	e.metricInc(MetricBotRejected)
	e.emitAudit(ctx, auditEventBotVerificationFailure, false, subject, "", ErrBotRejected, func() map[string]string {
		return map[string]string{
			"success": boolString(verdict.Success),
			"score":   formatScore(verdict.Score),
		}
	})
	return ErrBotRejected
}

// issueCode persists a fresh code. Nothing is sent until the write succeeds.
func (e *Engine) issueCode(ctx context.Context, email string, kind CodeKind) (*store.VerificationCode, error) {
	code, err := internal.NewVerificationCode()
	if err != nil {
		return nil, unavailable(err)
	}
	now := e.now()
	vc := &store.VerificationCode{
		ID:        internal.NewULID(now),
		Email:     email,
		Code:      code,
		CodeHash:  store.HashCode(code),
		Kind:      kind,
		CreatedAt: now,
		ExpiresAt: now.Add(e.config.Policy.CodeTTL),
		IP:        clientIPFromContext(ctx),
	}
	if err := e.codes.IssueCode(ctx, vc); err != nil {
		return nil, unavailable(err)
	}
	e.metricInc(MetricCodeIssued)
	return vc, nil
}

// deliver emails the code. On failure it reports the code back for display.
func (e *Engine) deliver(ctx context.Context, subject string, vc *store.VerificationCode) (bool, string) {
	var err error
	if e.mailer == nil {
		err = errors.New("no mailer configured")
	} else {
		err = e.mailer.SendVerificationCode(ctx, vc.Email, vc.Code, purposeFor(vc.Kind))
	}
	if err == nil {
		return true, ""
	}

	e.logger.Warn("verification email not sent",
		zap.String("kind", string(vc.Kind)),
		zap.String("code_id", vc.ID),
		zap.Error(err),
	)
	e.metricInc(MetricEmailDeliveryFailure)
	e.emitAudit(ctx, auditEventEmailDeliveryFailure, false, subject, string(vc.Kind), ErrUnavailable, nil)
	return false, vc.Code
}

// allowIssue applies the per-email issuance throttle when Redis is wired.
func (e *Engine) allowIssue(ctx context.Context, email string, kind CodeKind) error {
	if e.limiter == nil {
		return nil
	}
	err := e.limiter.AllowIssue(ctx, string(kind), email, clientIPFromContext(ctx))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, rate.ErrRateLimited):
		e.metricInc(MetricCodeRateLimited)
		return ErrRateLimited
	default:
		return unavailable(err)
	}
}

func (e *Engine) lookupByEmail(ctx context.Context, email string) (*store.Account, error) {
	account, err := e.accounts.AccountByEmail(ctx, email)
	switch {
	case err == nil:
		return account, nil
	case errors.Is(err, store.ErrNotFound):
		return nil, ErrNotFound
	default:
		return nil, unavailable(err)
	}
}

func (e *Engine) lookupByID(ctx context.Context, accountID string) (*store.Account, error) {
	account, err := e.accounts.AccountByID(ctx, accountID)
	switch {
	case err == nil:
		return account, nil
	case errors.Is(err, store.ErrNotFound):
		return nil, ErrNotFound
	default:
		return nil, unavailable(err)
	}
}

// checkNewPassword applies the complexity rules and then the reuse rule
// against the current hash and the retained history.
func (e *Engine) checkNewPassword(account *store.Account, newPassword string) error {
	if !password.MeetsPolicy(newPassword, e.policy) || len(newPassword) > password.MaxPasswordBytes {
		return ErrValidationFailed
	}
	hashes := append([]string{account.PasswordHash}, account.PasswordHistory...)
	if e.passwordHash.MatchesAny(newPassword, hashes...) {
		return ErrPasswordReuse
	}
	return nil
}

// replacePassword hashes newPassword and swaps it in, pushing the previous hash
// onto the history.
func (e *Engine) replacePassword(ctx context.Context, account *store.Account, newPassword string) (store.PasswordChange, error) {
	hash, err := e.passwordHash.Hash(newPassword)
	if err != nil {
		return store.PasswordChange{}, unavailable(err)
	}
	now := e.now()
	change := store.PasswordChange{
		PreviousHash: account.PasswordHash,
		Hash:         hash,
		History:      pushHistory(account.PasswordHash, account.PasswordHistory, e.config.Policy.HistorySize),
		ChangedAt:    now,
		ExpiresAt:    now.Add(e.config.Policy.PasswordMaxAge),
		MinChangeAt:  now.Add(e.config.Policy.MinChangeInterval),
	}
	err = e.accounts.UpdatePassword(ctx, account.ID, change)
	switch {
	case err == nil:
		return change, nil
	case errors.Is(err, store.ErrConflict):
		return store.PasswordChange{}, ErrConcurrentUpdate
	case errors.Is(err, store.ErrNotFound):
		return store.PasswordChange{}, ErrNotFound
	default:
		return store.PasswordChange{}, unavailable(err)
	}
}

// pushHistory puts prev at the front, drops repeats of it and truncates to size.
func pushHistory(prev string, history []string, size int) []string {
	if size <= 0 {
		return []string{}
	}
	out := make([]string, 0, size)
	if prev != "" {
		out = append(out, prev)
	}
	for _, h := range history {
		if len(out) == size {
			break
		}
		if h == "" || h == prev {
			continue
		}
		out = append(out, h)
	}
	return out
}

func normalizeEmail(email string) (string, error) {
	email = store.NormalizeEmail(email)
	if email == "" || len(email) > maxEmailLength {
		return "", ErrValidationFailed
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || addr.Name != "" {
		return "", ErrValidationFailed
	}
	at := strings.LastIndexByte(email, '@')
	if at <= 0 || !strings.Contains(email[at+1:], ".") {
		return "", ErrValidationFailed
	}
	return email, nil
}

func validCodeFormat(code string) bool {
	if utf8.RuneCountInString(code) != 6 {
		return false
	}
	for i := 0; i < len(code); i++ {
		if code[i] < '0' || code[i] > '9' {
			return false
		}
	}
	return true
}

func emailLocalPart(email string) string {
	if at := strings.IndexByte(email, '@'); at > 0 {
		return email[:at]
	}
	return email
}

func boolString(b bool) string {
	return strconv.FormatBool(b)
}

func formatScore(f float64) string {
	return strconv.FormatFloat(f, 'f', 2, 64)
}

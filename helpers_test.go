package agencyauth

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/agencyauth/store"
	"github.com/MrEthical07/agencyauth/store/memory"
	"go.uber.org/zap/zaptest"
)

const (
	testPassword  = "Abcdefg12345!"
	testPassword2 = "Zyxwvut98765$"
	testPassword3 = "Qwertyu24680#"
	testPassword4 = "Mnbvcxz13579&"
)

var testEpoch = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: testEpoch}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type sentCode struct {
	to      string
	code    string
	purpose Purpose
}

type recordingMailer struct {
	mu   sync.Mutex
	sent []sentCode
	fail bool
}

func (m *recordingMailer) SendVerificationCode(_ context.Context, to, code string, purpose Purpose) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail {
		return errors.New("smtp down")
	}
	m.sent = append(m.sent, sentCode{to: to, code: code, purpose: purpose})
	return nil
}

func (m *recordingMailer) setFail(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = fail
}

func (m *recordingMailer) last(t *testing.T, to string, purpose Purpose) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.sent) - 1; i >= 0; i-- {
		if m.sent[i].to == to && m.sent[i].purpose == purpose {
			return m.sent[i].code
		}
	}
	t.Fatalf("no %s code sent to %s", purpose, to)
	return ""
}

func (m *recordingMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

type prefixProtector struct {
	failUnprotect bool
}

func (p *prefixProtector) Protect(plaintext string) (string, error) {
	return "enc:" + base64.StdEncoding.EncodeToString([]byte(plaintext)), nil
}

func (p *prefixProtector) Unprotect(ciphertext string) (string, error) {
	if p.failUnprotect || !strings.HasPrefix(ciphertext, "enc:") {
		return "", errors.New("bad ciphertext")
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(ciphertext, "enc:"))
	return string(raw), err
}

type staticBot struct {
	verdict BotVerdict
	err     error
	calls   int
}

func (b *staticBot) Verify(context.Context, string) (BotVerdict, error) {
	b.calls++
	return b.verdict, b.err
}

type testEnv struct {
	engine    *Engine
	store     *memory.Store
	clock     *testClock
	mailer    *recordingMailer
	protector *prefixProtector
}

func testConfig(t *testing.T) Config {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	cfg := DefaultConfig()
	cfg.Password = PasswordConfig{Memory: 8192, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}
	cfg.Token.PrivateKey = priv
	return cfg
}

func newTestEnv(t *testing.T, mutate ...func(*Config, *Builder)) *testEnv {
	t.Helper()

	env := &testEnv{
		store:     memory.New(),
		clock:     newTestClock(),
		mailer:    &recordingMailer{},
		protector: &prefixProtector{},
	}
	cfg := testConfig(t)
	b := New().
		WithLogger(zaptest.NewLogger(t)).
		WithClock(env.clock.Now).
		WithCredentialStore(env.store).
		WithCodeLedger(env.store).
		WithSessionLedger(env.store).
		WithAuditLog(env.store).
		WithMailer(env.mailer).
		WithProtector(env.protector)
	for _, m := range mutate {
		m(&cfg, b)
	}
	engine, err := b.WithConfig(cfg).Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	t.Cleanup(engine.Close)
	env.engine = engine
	return env
}

func registerRequest(email, password string) RegisterRequest {
	return RegisterRequest{
		Email:           email,
		Password:        password,
		ConfirmPassword: password,
		Profile: ProfileInput{
			FirstName:   "Tan",
			LastName:    "Mei Ling",
			Gender:      "F",
			NRIC:        "S1234567A",
			DateOfBirth: time.Date(1994, 7, 1, 0, 0, 0, 0, time.UTC),
			ResumePath:  "resumes/tan.pdf",
			WhoAmI:      "Logistics coordinator",
		},
	}
}

// registerVerified registers email and consumes its registration code.
func (env *testEnv) registerVerified(t *testing.T, email, password string) string {
	t.Helper()
	ctx := context.Background()
	res, err := env.engine.Register(ctx, registerRequest(email, password))
	if err != nil {
		t.Fatalf("register %s: %v", email, err)
	}
	code := env.mailer.last(t, store.NormalizeEmail(email), PurposeRegistration)
	if _, err := env.engine.VerifyCode(ctx, email, code, CodeRegistration); err != nil {
		t.Fatalf("verify registration %s: %v", email, err)
	}
	return res.AccountID
}

// login runs the password step and the second factor.
func (env *testEnv) login(t *testing.T, email, password string) *SessionGrant {
	t.Helper()
	ctx := context.Background()
	if _, err := env.engine.Login(ctx, LoginRequest{Email: email, Password: password}); err != nil {
		t.Fatalf("login %s: %v", email, err)
	}
	code := env.mailer.last(t, store.NormalizeEmail(email), PurposeLogin)
	res, err := env.engine.VerifyCode(ctx, email, code, CodeLogin2FA)
	if err != nil {
		t.Fatalf("verify login %s: %v", email, err)
	}
	if res.Session == nil {
		t.Fatalf("expected session grant")
	}
	return res.Session
}

func (env *testEnv) actions() []string {
	entries := env.store.AuditEntries()
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Action
	}
	return out
}

func (env *testEnv) lastAudit(t *testing.T, action string) store.AuditEntry {
	t.Helper()
	entries := env.store.AuditEntries()
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Action == action {
			return entries[i]
		}
	}
	t.Fatalf("no audit entry %q in %v", action, env.actions())
	return store.AuditEntry{}
}

func (env *testEnv) account(t *testing.T, email string) *store.Account {
	t.Helper()
	a, err := env.store.AccountByEmail(context.Background(), email)
	if err != nil {
		t.Fatalf("account %s: %v", email, err)
	}
	return a
}

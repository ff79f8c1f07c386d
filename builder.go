package agencyauth

import (
	"errors"
	"time"

	internalaudit "github.com/MrEthical07/agencyauth/internal/audit"
	"github.com/MrEthical07/agencyauth/internal/rate"
	"github.com/MrEthical07/agencyauth/internal/stores"
	"github.com/MrEthical07/agencyauth/jwt"
	"github.com/MrEthical07/agencyauth/password"
	"github.com/MrEthical07/agencyauth/session"
	"github.com/MrEthical07/agencyauth/store"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Builder assembles an [Engine]. A Builder may be used once.
//
// Builder instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Builder struct {
	config Config
	redis  redis.UniversalClient
	logger *zap.Logger
	clock  func() time.Time

	accounts store.CredentialStore
	codes    store.CodeLedger
	sessions store.SessionLedger
	auditLog store.AuditLog
	sinks    []AuditSink

	mailer    Mailer
	bot       BotVerifier
	protector Protector

	built bool
}

// New returns a Builder holding the default configuration.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis supplies the client used for the issuance throttle and, unless
// other ledgers are given, for the code and session ledgers.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithLogger sets the structured logger. The default discards output.
func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock overrides the time source. Tests use it to step past TTLs.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.clock = now
	return b
}

// WithCredentialStore sets the account store. Required.
func (b *Builder) WithCredentialStore(s store.CredentialStore) *Builder {
	b.accounts = s
	return b
}

// WithCodeLedger sets the verification code ledger.
func (b *Builder) WithCodeLedger(l store.CodeLedger) *Builder {
	b.codes = l
	return b
}

// WithSessionLedger sets the session ledger.
func (b *Builder) WithSessionLedger(l store.SessionLedger) *Builder {
	b.sessions = l
	return b
}

// WithAuditLog sets the durable audit log.
func (b *Builder) WithAuditLog(l store.AuditLog) *Builder {
	b.auditLog = l
	return b
}

// WithAuditSink adds a sink that receives every event after the audit log.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	if sink != nil {
		b.sinks = append(b.sinks, sink)
	}
	return b
}

// WithMailer sets the code delivery transport. Without one every issuance
// runs in degraded mode.
func (b *Builder) WithMailer(m Mailer) *Builder {
	b.mailer = m
	return b
}

// WithBotVerifier enables bot checks on Register, Login and RequestPasswordReset.
func (b *Builder) WithBotVerifier(v BotVerifier) *Builder {
	b.bot = v
	return b
}

// WithProtector sets the encryption used for the national id. Required.
func (b *Builder) WithProtector(p Protector) *Builder {
	b.protector = p
	return b
}

// WithMetricsEnabled toggles the in-process counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// WithLatencyHistograms toggles the login latency histogram.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires the engine.
//
// Build may return an error when validation fails or a required collaborator is missing.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if b.accounts == nil {
		return nil, errors.New("credential store required")
	}
	if b.protector == nil {
		return nil, errors.New("protector required")
	}

	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := b.clock
	if clock == nil {
		clock = time.Now
	}

	// -------- LEDGERS --------
	codes := b.codes
	sessions := b.sessions
	if codes == nil || sessions == nil {
		if b.redis == nil {
			return nil, errors.New("code and session ledgers require redis client or explicit ledgers")
		}
		if codes == nil {
			codes = stores.NewCodeLedger(b.redis, cfg.Redis.CodePrefix, cfg.Redis.Retention)
		}
		if sessions == nil {
			sessions = session.NewLedger(b.redis, cfg.Redis.SessionPrefix, cfg.Redis.Retention)
		}
	}

	engine := &Engine{
		config: cloneConfig(cfg),
		policy: password.Policy{
			MinLength:       cfg.Policy.MinLength,
			RequiredClasses: cfg.Policy.RequiredClasses,
		},
		logger:    logger,
		clock:     clock,
		accounts:  b.accounts,
		codes:     codes,
		sessions:  sessions,
		metrics:   NewMetrics(cfg.Metrics),
		mailer:    b.mailer,
		bot:       b.bot,
		protector: b.protector,
	}

	if b.redis != nil && cfg.Throttle.Enabled {
		engine.limiter = rate.New(b.redis, rate.Config{
			MaxIssuances:   cfg.Throttle.MaxIssuances,
			Window:         cfg.Throttle.Window,
			EnableIPLimit:  cfg.Throttle.EnableIPLimit,
			MaxIPIssuances: cfg.Throttle.MaxIPIssuances,
		})
	}

	// -------- CRYPTO --------
	ph, err := password.NewArgon2(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		return nil, err
	}
	engine.passwordHash = ph

	// Unknown emails are checked against this so they cost the same as a miss.
	dummy, err := ph.Hash("agencyauth-dummy-password")
	if err != nil {
		return nil, err
	}
	engine.dummyHash = dummy

	jm, err := jwt.NewManager(jwt.Config{
		SessionTTL:    cfg.Token.SessionTTL,
		ResetTTL:      cfg.Token.ResetTTL,
		SigningMethod: jwt.SigningMethod(cfg.Token.SigningMethod),
		PrivateKey:    cloneBytes(cfg.Token.PrivateKey),
		PublicKey:     cloneBytes(cfg.Token.PublicKey),
		Issuer:        cfg.Token.Issuer,
		Leeway:        cfg.Token.Leeway,
		KeyID:         cfg.Token.KeyID,
		Now:           clock,
	})
	if err != nil {
		return nil, err
	}
	engine.tokens = jm

	// -------- AUDIT --------
	var sinks internalaudit.MultiSink
	if b.auditLog != nil {
		sinks = append(sinks, internalaudit.NewStoreSink(b.auditLog, logger))
	}
	sinks = append(sinks, b.sinks...)
	if len(sinks) > 0 {
		var sink AuditSink = sinks
		if len(sinks) == 1 {
			sink = sinks[0]
		}
		if cfg.Audit.Async {
			engine.dispatcher = internalaudit.NewDispatcher(internalaudit.Config{
				Enabled:         true,
				BufferSize:      cfg.Audit.BufferSize,
				DropIfFull:      cfg.Audit.DropIfFull,
				DeliveryTimeout: cfg.Audit.DeliveryTimeout,
				Critical:        criticalAuditEvent,
				Logger:          logger.Named("audit"),
			}, sink)
			engine.audit = engine.dispatcher
		} else {
			engine.audit = sink
		}
	}

	if b.mailer == nil {
		logger.Warn("no mailer configured; verification codes will be returned to callers")
	}

	b.built = true
	return engine, nil
}

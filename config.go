package agencyauth

import (
	"errors"
	"time"
)

// Config defines every tunable of the authentication engine.
//
// Config instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type Config struct {
	Policy     PolicyConfig
	Password   PasswordConfig
	Token      TokenConfig
	Throttle   ThrottleConfig
	Audit      AuditConfig
	Metrics    MetricsConfig
	Reconciler ReconcilerConfig
	Redis      RedisConfig
}

/*
====================================
POLICY CONFIG
====================================
*/

// PolicyConfig holds the account security policy.
//
// PolicyConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type PolicyConfig struct {
	MinLength         int
	RequiredClasses   int
	HistorySize       int
	PasswordMaxAge    time.Duration
	MinChangeInterval time.Duration
	MaxFailedAttempts int
	LockoutDuration   time.Duration
	CodeTTL           time.Duration
	SessionIdle       time.Duration
	BotScoreThreshold float64
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig holds the argon2id cost parameters.
//
// PasswordConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type PasswordConfig struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

/*
====================================
TOKEN CONFIG
====================================
*/

// TokenConfig holds the signing setup for session claims and reset grants.
//
// TokenConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type TokenConfig struct {
	SessionTTL    time.Duration
	ResetTTL      time.Duration
	SigningMethod string // "ed25519" (default), "hs256" optional
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Leeway        time.Duration
	KeyID         string
}

/*
====================================
THROTTLE CONFIG
====================================
*/

// ThrottleConfig bounds how many codes one email may be sent per window.
// It only applies when the builder has a Redis client.
//
// ThrottleConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type ThrottleConfig struct {
	Enabled        bool
	MaxIssuances   int
	Window         time.Duration
	EnableIPLimit  bool
	MaxIPIssuances int
}

/*
====================================
AUDIT CONFIG
====================================
*/

// AuditConfig controls audit delivery. Entries are written synchronously
// unless Async is set, in which case they go through a buffered dispatcher.
//
// AuditConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type AuditConfig struct {
	Async           bool
	BufferSize      int
	DropIfFull      bool
	DeliveryTimeout time.Duration
}

/*
====================================
METRICS CONFIG
====================================
*/

// MetricsConfig toggles in-process counters.
//
// MetricsConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
RECONCILER CONFIG
====================================
*/

// ReconcilerConfig controls the background sweep. A zero SessionIdle takes
// Policy.SessionIdle when the reconciler is created from an engine.
//
// ReconcilerConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type ReconcilerConfig struct {
	Interval       time.Duration
	SessionIdle    time.Duration
	PurgeRetention time.Duration
}

/*
====================================
REDIS CONFIG
====================================
*/

// RedisConfig names the key prefixes used when the builder creates the Redis
// ledgers itself.
//
// RedisConfig instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type RedisConfig struct {
	SessionPrefix string
	CodePrefix    string
	Retention     time.Duration
}

// DefaultConfig returns the production policy: twelve character passwords
// with all four classes, two remembered hashes, ninety day expiry and a three
// strike lockout.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		Policy: PolicyConfig{
			MinLength:         12,
			RequiredClasses:   4,
			HistorySize:       2,
			PasswordMaxAge:    90 * 24 * time.Hour,
			MinChangeInterval: 5 * time.Minute,
			MaxFailedAttempts: 3,
			LockoutDuration:   5 * time.Minute,
			CodeTTL:           10 * time.Minute,
			SessionIdle:       2 * time.Minute,
			BotScoreThreshold: 0.5,
		},
		Password: PasswordConfig{
			Memory:      65536,
			Time:        3,
			Parallelism: 2,
			SaltLength:  16,
			KeyLength:   32,
		},
		Token: TokenConfig{
			SessionTTL:    8 * time.Hour,
			ResetTTL:      10 * time.Minute,
			SigningMethod: "ed25519",
			Issuer:        "agencyauth",
			Leeway:        30 * time.Second,
		},
		Throttle: ThrottleConfig{
			Enabled:        true,
			MaxIssuances:   5,
			Window:         15 * time.Minute,
			EnableIPLimit:  false,
			MaxIPIssuances: 50,
		},
		Audit: AuditConfig{
			Async:      false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: false,
		},
		Reconciler: ReconcilerConfig{
			Interval:       time.Minute,
			PurgeRetention: 24 * time.Hour,
		},
		Redis: RedisConfig{
			SessionPrefix: "as",
			CodePrefix:    "avc",
			Retention:     24 * time.Hour,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Token.PrivateKey = cloneBytes(cfg.Token.PrivateKey)
	out.Token.PublicKey = cloneBytes(cfg.Token.PublicKey)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate checks that every section is internally consistent.
//
// Validate does not mutate the receiver.
func (c *Config) Validate() error {
	// Policy
	if c.Policy.MinLength < 1 {
		return errors.New("Policy MinLength must be >= 1")
	}
	if c.Policy.RequiredClasses < 0 || c.Policy.RequiredClasses > 4 {
		return errors.New("Policy RequiredClasses must be between 0 and 4")
	}
	if c.Policy.HistorySize < 0 {
		return errors.New("Policy HistorySize must be >= 0")
	}
	if c.Policy.PasswordMaxAge <= 0 {
		return errors.New("Policy PasswordMaxAge must be > 0")
	}
	if c.Policy.MinChangeInterval < 0 {
		return errors.New("Policy MinChangeInterval must be >= 0")
	}
	if c.Policy.MinChangeInterval >= c.Policy.PasswordMaxAge {
		return errors.New("Policy MinChangeInterval must be < PasswordMaxAge")
	}
	if c.Policy.MaxFailedAttempts < 1 {
		return errors.New("Policy MaxFailedAttempts must be >= 1")
	}
	if c.Policy.LockoutDuration <= 0 {
		return errors.New("Policy LockoutDuration must be > 0")
	}
	if c.Policy.CodeTTL <= 0 {
		return errors.New("Policy CodeTTL must be > 0")
	}
	if c.Policy.SessionIdle <= 0 {
		return errors.New("Policy SessionIdle must be > 0")
	}
	if c.Policy.BotScoreThreshold < 0 || c.Policy.BotScoreThreshold > 1 {
		return errors.New("Policy BotScoreThreshold must be between 0 and 1")
	}

	// Token
	if c.Token.SessionTTL <= 0 {
		return errors.New("Token SessionTTL must be > 0")
	}
	if c.Token.ResetTTL <= 0 {
		return errors.New("Token ResetTTL must be > 0")
	}
	if c.Token.SigningMethod != "ed25519" && c.Token.SigningMethod != "hs256" {
		return errors.New("unsupported Token signing method")
	}
	if len(c.Token.PrivateKey) == 0 {
		return errors.New(c.Token.SigningMethod + " requires PrivateKey")
	}
	if c.Token.Leeway < 0 {
		return errors.New("Token Leeway must be >= 0")
	}

	// Throttle
	if c.Throttle.Enabled {
		if c.Throttle.MaxIssuances <= 0 {
			return errors.New("Throttle MaxIssuances must be > 0")
		}
		if c.Throttle.Window <= 0 {
			return errors.New("Throttle Window must be > 0")
		}
		if c.Throttle.EnableIPLimit && c.Throttle.MaxIPIssuances <= 0 {
			return errors.New("Throttle MaxIPIssuances must be > 0 when EnableIPLimit is true")
		}
	}

	// Audit
	if c.Audit.Async && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0")
	}
	if c.Audit.DeliveryTimeout < 0 {
		return errors.New("Audit DeliveryTimeout must be >= 0")
	}

	// Metrics
	if c.Metrics.EnableLatencyHistograms && !c.Metrics.Enabled {
		return errors.New("Metrics EnableLatencyHistograms requires Metrics Enabled")
	}

	// Reconciler
	if c.Reconciler.Interval <= 0 {
		return errors.New("Reconciler Interval must be > 0")
	}
	if c.Reconciler.SessionIdle < 0 {
		return errors.New("Reconciler SessionIdle must be >= 0")
	}
	if c.Reconciler.PurgeRetention < c.Policy.CodeTTL {
		return errors.New("Reconciler PurgeRetention must be >= Policy CodeTTL")
	}

	// Redis
	if c.Redis.SessionPrefix == "" || c.Redis.CodePrefix == "" {
		return errors.New("Redis prefixes must not be empty")
	}
	if c.Redis.SessionPrefix == c.Redis.CodePrefix {
		return errors.New("Redis SessionPrefix and CodePrefix must differ")
	}

	return nil
}

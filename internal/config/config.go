// Package config loads service settings from AGENCY_* environment variables.
package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/MrEthical07/agencyauth"
)

type Settings struct {
	App       AppSettings       `mapstructure:"app"`
	Postgres  PostgresSettings  `mapstructure:"postgres"`
	Redis     RedisSettings     `mapstructure:"redis"`
	Kafka     KafkaSettings     `mapstructure:"kafka"`
	Token     TokenSettings     `mapstructure:"token"`
	Security  SecuritySettings  `mapstructure:"security"`
	Postmark  PostmarkSettings  `mapstructure:"postmark"`
	Recaptcha RecaptchaSettings `mapstructure:"recaptcha"`
	RateLimit RateLimitSettings `mapstructure:"rate_limit"`
}

type AppSettings struct {
	Env           string        `mapstructure:"env"`
	Addr          string        `mapstructure:"addr"`
	LogLevel      string        `mapstructure:"log_level"`
	SecureCookies bool          `mapstructure:"secure_cookies"`
	LoginPath     string        `mapstructure:"login_path"`
	ShutdownGrace time.Duration `mapstructure:"shutdown_grace"`
}

type PostgresSettings struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int    `mapstructure:"max_conns"`
	Migrate  bool   `mapstructure:"migrate"`
}

type RedisSettings struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaSettings struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type TokenSettings struct {
	// PrivateKey is a base64 ed25519 seed or private key.
	PrivateKey string        `mapstructure:"private_key"`
	Issuer     string        `mapstructure:"issuer"`
	SessionTTL time.Duration `mapstructure:"session_ttl"`
}

type SecuritySettings struct {
	// DataProtectionSecret is the master secret for national id encryption.
	DataProtectionSecret string `mapstructure:"data_protection_secret"`
}

type PostmarkSettings struct {
	ServerToken string `mapstructure:"server_token"`
	From        string `mapstructure:"from"`
}

type RecaptchaSettings struct {
	Secret string `mapstructure:"secret"`
}

type RateLimitSettings struct {
	RPS   float64 `mapstructure:"rps"`
	Burst int     `mapstructure:"burst"`
}

var keys = []string{
	"app.env",
	"app.addr",
	"app.log_level",
	"app.secure_cookies",
	"app.login_path",
	"app.shutdown_grace",
	"postgres.dsn",
	"postgres.max_conns",
	"postgres.migrate",
	"redis.addr",
	"redis.password",
	"redis.db",
	"kafka.brokers",
	"kafka.topic",
	"token.private_key",
	"token.issuer",
	"token.session_ttl",
	"security.data_protection_secret",
	"postmark.server_token",
	"postmark.from",
	"recaptcha.secret",
	"rate_limit.rps",
	"rate_limit.burst",
}

// Load reads defaults and the environment. AGENCY_POSTGRES_DSN sets
// postgres.dsn, and so on.
func Load() (*Settings, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("AGENCY")

	setDefaults(v)
	if err := bindEnvs(v, keys); err != nil {
		return nil, err
	}
	v.AutomaticEnv()

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	// Env values arrive as one comma separated string.
	if len(s.Kafka.Brokers) == 1 && strings.Contains(s.Kafka.Brokers[0], ",") {
		s.Kafka.Brokers = strings.Split(s.Kafka.Brokers[0], ",")
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.env", "development")
	v.SetDefault("app.addr", ":8080")
	v.SetDefault("app.log_level", "")
	v.SetDefault("app.secure_cookies", true)
	v.SetDefault("app.login_path", "/login")
	v.SetDefault("app.shutdown_grace", "10s")

	v.SetDefault("postgres.max_conns", 10)
	v.SetDefault("postgres.migrate", true)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "agencyauth.audit")

	v.SetDefault("token.issuer", "agencyauth")
	v.SetDefault("token.session_ttl", "8h")

	v.SetDefault("postmark.from", "noreply@localhost")

	v.SetDefault("rate_limit.rps", 5.0)
	v.SetDefault("rate_limit.burst", 10)
}

func bindEnvs(v *viper.Viper, keys []string) error {
	for _, key := range keys {
		envKey := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, "AGENCY_"+envKey); err != nil {
			return fmt.Errorf("bind env for %s: %w", key, err)
		}
	}
	return nil
}

func (s *Settings) validate() error {
	if s.Postgres.DSN == "" {
		return errors.New("AGENCY_POSTGRES_DSN is required")
	}
	if s.Token.PrivateKey == "" {
		return errors.New("AGENCY_TOKEN_PRIVATE_KEY is required")
	}
	if len(s.Security.DataProtectionSecret) < 32 {
		return errors.New("AGENCY_SECURITY_DATA_PROTECTION_SECRET must be at least 32 bytes")
	}
	if s.RateLimit.RPS <= 0 || s.RateLimit.Burst < 1 {
		return errors.New("rate limit must allow at least one request")
	}
	return nil
}

// Production reports whether the service runs with production defaults.
func (s *Settings) Production() bool {
	return s.App.Env == "production"
}

// EngineConfig overlays the settings on the engine defaults.
func (s *Settings) EngineConfig() (agencyauth.Config, error) {
	cfg := agencyauth.DefaultConfig()

	key, err := base64.StdEncoding.DecodeString(s.Token.PrivateKey)
	if err != nil {
		return agencyauth.Config{}, fmt.Errorf("decode token private key: %w", err)
	}
	cfg.Token.PrivateKey = key
	cfg.Token.Issuer = s.Token.Issuer
	if s.Token.SessionTTL > 0 {
		cfg.Token.SessionTTL = s.Token.SessionTTL
	}
	cfg.Audit.Async = true
	return cfg, cfg.Validate()
}

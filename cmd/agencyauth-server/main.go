// Command agencyauth-server runs the authentication API with Postgres for
// accounts and the audit trail, Redis for codes and sessions, and an optional
// Kafka audit feed.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/MrEthical07/agencyauth"
	auditkafka "github.com/MrEthical07/agencyauth/audit/kafka"
	"github.com/MrEthical07/agencyauth/captcha"
	"github.com/MrEthical07/agencyauth/dataprotect"
	"github.com/MrEthical07/agencyauth/httpapi"
	"github.com/MrEthical07/agencyauth/internal/config"
	"github.com/MrEthical07/agencyauth/logging"
	"github.com/MrEthical07/agencyauth/mail"
	promexport "github.com/MrEthical07/agencyauth/metrics/export/prometheus"
	"github.com/MrEthical07/agencyauth/store/postgres"
)

func main() {
	settings, err := config.Load()
	if err != nil {
		_, _ = os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(2)
	}

	logger, err := logging.New(settings.App.Env, settings.App.LogLevel)
	if err != nil {
		_, _ = os.Stderr.WriteString("logger: " + err.Error() + "\n")
		os.Exit(2)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(settings, logger); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func run(settings *config.Settings, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// -------- STORAGE --------
	db, err := postgres.Open(ctx, settings.Postgres.DSN, settings.Postgres.MaxConns)
	if err != nil {
		return err
	}
	defer db.Close()
	if settings.Postgres.Migrate {
		if err := postgres.Migrate(ctx, db); err != nil {
			return err
		}
		logger.Info("migrations applied")
	}
	pg := postgres.New(db)

	rdb := redis.NewClient(&redis.Options{
		Addr:     settings.Redis.Addr,
		Password: settings.Redis.Password,
		DB:       settings.Redis.DB,
	})
	defer rdb.Close()
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err = rdb.Ping(pingCtx).Err()
	cancel()
	if err != nil {
		return err
	}

	// -------- COLLABORATORS --------
	protector, err := dataprotect.New([]byte(settings.Security.DataProtectionSecret), dataprotect.PurposeNRIC)
	if err != nil {
		return err
	}

	var mailer agencyauth.Mailer
	if settings.Postmark.ServerToken != "" {
		mailer = mail.NewPostmarkClient(settings.Postmark.ServerToken, settings.Postmark.From,
			mail.WithLogger(logger.Named("mail")))
	} else {
		if settings.Production() {
			logger.Warn("postmark not configured, codes will be logged")
		}
		mailer = mail.NewLogMailer(logger.Named("mail"))
	}

	cfg, err := settings.EngineConfig()
	if err != nil {
		return err
	}

	builder := agencyauth.New().
		WithConfig(cfg).
		WithLatencyHistograms(true).
		WithLogger(logger.Named("engine")).
		WithRedis(rdb).
		WithCredentialStore(pg).
		WithAuditLog(pg).
		WithMailer(mailer).
		WithProtector(protector)

	if settings.Recaptcha.Secret != "" {
		builder = builder.WithBotVerifier(captcha.New(settings.Recaptcha.Secret, captcha.WithLogger(logger.Named("captcha"))))
	} else {
		logger.Warn("recaptcha not configured, bot checks disabled")
	}

	var kafkaSink *auditkafka.Sink
	if len(settings.Kafka.Brokers) > 0 {
		kafkaSink, err = auditkafka.NewSink(auditkafka.Settings{
			Brokers:  settings.Kafka.Brokers,
			Topic:    settings.Kafka.Topic,
			ClientID: "agencyauth",
		}, logger.Named("kafka"))
		if err != nil {
			return err
		}
		defer func() { _ = kafkaSink.Close() }()
		builder = builder.WithAuditSink(kafkaSink)
	}

	engine, err := builder.Build()
	if err != nil {
		return err
	}
	defer engine.Close()

	// -------- BACKGROUND --------
	go func() {
		if err := engine.NewReconciler().Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("reconciler stopped", zap.Error(err))
		}
	}()

	// -------- HTTP --------
	metrics, err := promexport.Handler(promexport.NewCollector(engine))
	if err != nil {
		return err
	}
	router := httpapi.NewRouter(engine, httpapi.Options{
		SecureCookies:  settings.App.SecureCookies,
		LoginPath:      settings.App.LoginPath,
		Logger:         logger.Named("http"),
		RateLimitRPS:   settings.RateLimit.RPS,
		RateLimitBurst: settings.RateLimit.Burst,
		Metrics:        metrics,
	})

	srv := &http.Server{
		Addr:              settings.App.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", settings.App.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), settings.App.ShutdownGrace)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

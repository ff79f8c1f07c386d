package agencyauth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/agencyauth/internal"
	"github.com/MrEthical07/agencyauth/store"
	"go.uber.org/zap"
)

const (
	defaultReconcileInterval = time.Minute
	defaultSessionIdle       = 2 * time.Minute
)

// ReconcilerDeps are the stores the sweep reads and mutates.
type ReconcilerDeps struct {
	Accounts store.CredentialStore
	Sessions store.SessionLedger
	// Purgers drop old codes and grant claims. Optional.
	Purgers []store.Purger
	Audit   AuditSink
	Metrics *Metrics
	Now     func() time.Time
}

// ReconcileReport summarizes one tick.
type ReconcileReport struct {
	Unlocked int
	Reaped   int
	Purged   int
	Errors   []error
}

// Reconciler releases expired lockouts and closes idle sessions on a fixed
// interval. Each sweep is independent: a failure in one is logged and the
// others still run.
type Reconciler struct {
	deps   ReconcilerDeps
	cfg    ReconcilerConfig
	logger *zap.Logger
}

// NewReconciler fills zero config values with defaults.
func NewReconciler(deps ReconcilerDeps, cfg ReconcilerConfig, logger *zap.Logger) *Reconciler {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultReconcileInterval
	}
	if cfg.SessionIdle <= 0 {
		cfg.SessionIdle = defaultSessionIdle
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Reconciler{deps: deps, cfg: cfg, logger: logger}
}

// NewReconciler returns a reconciler over the engine's stores and audit sink.
func (e *Engine) NewReconciler() *Reconciler {
	if e == nil {
		return nil
	}
	cfg := e.config.Reconciler
	if cfg.SessionIdle <= 0 {
		cfg.SessionIdle = e.config.Policy.SessionIdle
	}
	var purgers []store.Purger
	if p, ok := e.codes.(store.Purger); ok {
		purgers = append(purgers, p)
	}
	return NewReconciler(ReconcilerDeps{
		Accounts: e.accounts,
		Sessions: e.sessions,
		Purgers:  purgers,
		Audit:    e.audit,
		Metrics:  e.metrics,
		Now:      e.now,
	}, cfg, e.logger.Named("reconciler"))
}

// Run ticks until ctx is done and then returns ctx.Err().
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	r.logger.Info("reconciler started", zap.Duration("interval", r.cfg.Interval))
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("reconciler stopped")
			return ctx.Err()
		case <-ticker.C:
			r.Tick(ctx)
		}
	}
}

// Tick runs the unlock, reap and purge sweeps once.
func (r *Reconciler) Tick(ctx context.Context) ReconcileReport {
	var report ReconcileReport
	now := r.deps.Now()

	if r.deps.Accounts != nil {
		released, err := r.deps.Accounts.UnlockExpired(ctx, now)
		if err != nil {
			r.logger.Error("unlock sweep failed", zap.Error(err))
			report.Errors = append(report.Errors, fmt.Errorf("unlock: %w", err))
		}
		for i := range released {
			r.deps.Metrics.Inc(MetricAccountAutoUnlocked)
			r.emit(ctx, now, auditEventAccountAutoUnlocked, released[i].ID, "reconciler", nil)
		}
		report.Unlocked = len(released)
	}

	if r.deps.Sessions != nil {
		cutoff := now.Add(-r.cfg.SessionIdle)
		closed, err := r.deps.Sessions.CloseStale(ctx, cutoff, now)
		if err != nil {
			r.logger.Error("session reap failed", zap.Error(err))
			report.Errors = append(report.Errors, fmt.Errorf("reap: %w", err))
		}
		for i := range closed {
			sess := closed[i]
			r.deps.Metrics.Inc(MetricSessionReaped)
			r.emit(ctx, now, auditEventSessionReaped, sess.AccountID, "", map[string]string{
				"session_id": sess.ID,
				"last_seen":  sess.LastSeen.UTC().Format(time.RFC3339),
			})
		}
		report.Reaped = len(closed)
	}

	if r.cfg.PurgeRetention > 0 {
		before := now.Add(-r.cfg.PurgeRetention)
		for _, p := range r.deps.Purgers {
			n, err := p.Purge(ctx, before)
			if err != nil {
				r.logger.Error("purge failed", zap.Error(err))
				report.Errors = append(report.Errors, fmt.Errorf("purge: %w", err))
				continue
			}
			report.Purged += n
		}
	}

	if report.Unlocked > 0 || report.Reaped > 0 || report.Purged > 0 {
		r.logger.Debug("reconcile tick",
			zap.Int("unlocked", report.Unlocked),
			zap.Int("reaped", report.Reaped),
			zap.Int("purged", report.Purged),
		)
	}
	return report
}

// Err joins the sweep errors of a report.
func (rep ReconcileReport) Err() error {
	return errors.Join(rep.Errors...)
}

func (r *Reconciler) emit(ctx context.Context, now time.Time, action, subject, detail string, metadata map[string]string) {
	if r.deps.Audit == nil {
		return
	}
	r.deps.Audit.Emit(ctx, AuditEvent{
		ID:        internal.NewULID(now),
		Timestamp: now.UTC(),
		Subject:   subject,
		Action:    action,
		Detail:    detail,
		Success:   true,
		Metadata:  metadata,
	})
}

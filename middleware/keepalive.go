package middleware

import (
	"context"
	"net/http"

	"go.uber.org/zap"
)

// KeepAliver refreshes the idle timer of a session. *agencyauth.Engine
// implements it.
type KeepAliver interface {
	KeepAlive(ctx context.Context, sessionID string) error
}

// KeepAliveHandler serves POST /api/keepalive. Browsers call it on user
// activity so the reconciler does not reap the session.
func KeepAliveHandler(k KeepAliver, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.Header().Set("Allow", http.MethodPost)
			writeJSON(w, http.StatusMethodNotAllowed, map[string]any{"ok": false})
			return
		}
		id, ok := IdentityFromContext(r.Context())
		if !ok {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"ok": false})
			return
		}
		if err := k.KeepAlive(r.Context(), id.SessionID); err != nil {
			logger.Debug("keepalive rejected", zap.String("session_id", id.SessionID), zap.Error(err))
			writeJSON(w, http.StatusUnauthorized, map[string]any{"ok": false})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})
}

// CheckSessionHandler serves GET /api/checksession. It validates the claim
// itself rather than relying on [SessionGuard], so a dead session is reported
// as {"isValid": false} with status 200 instead of a rejection.
func CheckSessionHandler(v SessionValidator, opts GuardOptions) http.Handler {
	opts = opts.withDefaults()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := IdentityFromContext(r.Context()); ok {
			writeJSON(w, http.StatusOK, map[string]any{"isValid": true})
			return
		}
		valid := false
		if token, ok := sessionToken(r, opts.CookieName); ok && v != nil {
			_, err := v.AuthenticateSession(r.Context(), token)
			valid = err == nil
			if err != nil {
				opts.Logger.Debug("checksession: session not live", zap.Error(err))
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"isValid": valid})
	})
}

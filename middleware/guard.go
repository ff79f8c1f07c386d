package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/MrEthical07/agencyauth"
	"github.com/MrEthical07/agencyauth/jwt"
	"go.uber.org/zap"
)

// DefaultCookieName carries the session claim between browser and server.
const DefaultCookieName = "agency_session"

// SessionValidator verifies a session claim against the live session ledger.
// *agencyauth.Engine implements it.
type SessionValidator interface {
	AuthenticateSession(ctx context.Context, token string) (*jwt.SessionClaims, error)
}

// Identity is the authenticated caller injected by [SessionGuard].
type Identity struct {
	AccountID string
	SessionID string
	Email     string
}

type identityContextKey struct{}

// WithIdentity returns a copy of ctx carrying id.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, id)
}

// IdentityFromContext returns the caller identity, if the request was
// authenticated.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityContextKey{}).(Identity)
	return id, ok
}

// GuardOptions configures [SessionGuard] and [RequireSession].
type GuardOptions struct {
	// CookieName defaults to DefaultCookieName.
	CookieName string
	// LoginPath is where HTML requests go once their session is gone.
	// Defaults to "/login".
	LoginPath string
	// Secure marks cleared cookies Secure. It should match how they were set.
	Secure bool
	// IsAPI reports whether a request expects JSON. Defaults to a path under
	// /api/ or an Accept header naming application/json.
	IsAPI  func(*http.Request) bool
	Logger *zap.Logger
}

func (o GuardOptions) withDefaults() GuardOptions {
	if o.CookieName == "" {
		o.CookieName = DefaultCookieName
	}
	if o.LoginPath == "" {
		o.LoginPath = "/login"
	}
	if o.IsAPI == nil {
		o.IsAPI = isAPIRequest
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

// SessionGuard authenticates requests that carry a session claim in the
// cookie or an Authorization bearer header.
//
// A request with no claim passes through anonymously. A claim whose session is
// no longer live has its cookie cleared and is sent to LoginPath (HTML) or
// answered 401 (API). A backend failure is answered 503 and the cookie is kept.
func SessionGuard(v SessionValidator, opts GuardOptions) func(http.Handler) http.Handler {
	opts = opts.withDefaults()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := sessionToken(r, opts.CookieName)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}
			if v == nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "service unavailable"})
				return
			}

			claims, err := v.AuthenticateSession(r.Context(), token)
			if err != nil {
				if errors.Is(err, agencyauth.ErrUnavailable) {
					opts.Logger.Error("session check failed", zap.Error(err))
					writeJSON(w, http.StatusServiceUnavailable, map[string]any{"error": "service unavailable"})
					return
				}
				ClearSessionCookie(w, opts.CookieName, opts.Secure)
				rejectSession(w, r, opts)
				return
			}

			ctx := WithIdentity(r.Context(), Identity{
				AccountID: claims.AccountID(),
				SessionID: claims.SID,
				Email:     claims.Email,
			})
			ctx = agencyauth.WithSessionID(ctx, claims.SID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// SetSessionCookie writes the session claim cookie. It is HttpOnly and
// SameSite=Strict; secure should be true outside local development.
func SetSessionCookie(w http.ResponseWriter, name, token string, maxAge int, secure bool) {
	if name == "" {
		name = DefaultCookieName
	}
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    token,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteStrictMode,
	})
}

// ClearSessionCookie expires the session cookie.
func ClearSessionCookie(w http.ResponseWriter, name string, secure bool) {
	SetSessionCookie(w, name, "", -1, secure)
}

func rejectSession(w http.ResponseWriter, r *http.Request, opts GuardOptions) {
	if opts.IsAPI(r) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": "session expired"})
		return
	}
	http.Redirect(w, r, opts.LoginPath, http.StatusSeeOther)
}

func sessionToken(r *http.Request, cookieName string) (string, bool) {
	if c, err := r.Cookie(cookieName); err == nil && c.Value != "" {
		return c.Value, true
	}
	return bearerToken(r.Header.Get("Authorization"))
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if !strings.HasPrefix(value, bearer) {
		return "", false
	}

	token := value[len(bearer):]
	if token == "" {
		return "", false
	}

	return token, true
}

func isAPIRequest(r *http.Request) bool {
	return strings.HasPrefix(r.URL.Path, "/api/") ||
		strings.Contains(r.Header.Get("Accept"), "application/json")
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

package middleware

import (
	"net/http"
)

// RequireSession rejects anonymous requests. It must run after [SessionGuard],
// which has already turned dead sessions away.
func RequireSession(opts GuardOptions) func(http.Handler) http.Handler {
	opts = opts.withDefaults()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := IdentityFromContext(r.Context()); !ok {
				rejectSession(w, r, opts)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

package auth

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/modelgate/modelgate/pkg/observability"
)

// Middleware creates HTTP middleware that authenticates every request and
// optionally enforces rate limits. The resolved user is injected into the
// request context for handlers downstream.
//
// Failed authentication (including quota exhaustion) yields 401; a rate
// limit rejection yields 429. Both bodies use the flat error shape.
func Middleware(authn *Authenticator, limiter *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			credential := CredentialFromRequest(r)

			user, err := authn.Authenticate(r.Context(), credential)
			if err != nil {
				slog.Warn("authentication failed",
					"path", r.URL.Path,
					"remote_addr", r.RemoteAddr,
					"error", err,
				)
				writeError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}

			if limiter != nil {
				if err := limiter.Allow(r.Context(), user.ID); err != nil {
					if errors.Is(err, ErrTooManyRequests) {
						slog.Warn("rate limit exceeded", "user_id", user.ID, "path", r.URL.Path)
						observability.RateLimitRejectedTotal.Inc()
						writeError(w, http.StatusTooManyRequests, "Rate limit exceeded")
						return
					}
					slog.Error("rate limiter error", "user_id", user.ID, "error", err)
				}
			}

			slog.Debug("authentication succeeded", "user_id", user.ID, "path", r.URL.Path)

			next.ServeHTTP(w, r.WithContext(SetUser(r.Context(), user)))
		})
	}
}

// RequireAdmin creates middleware that rejects non-admin users with 403.
// It must run after Middleware so the user is already in the context.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := UserFromContext(r.Context())
		if user == nil {
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		if !user.IsAdmin() {
			slog.Warn("admin access denied", "user_id", user.ID, "path", r.URL.Path)
			writeError(w, http.StatusForbidden, "Forbidden")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write([]byte(`{"error":"` + message + `"}`))
}

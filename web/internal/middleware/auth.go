package middleware

import (
	"log/slog"
	"net/http"
)

// LoginState reports whether a session is active
type LoginState interface {
	IsLoggedIn() bool
}

// AuthMiddleware handles authentication checks for requests
type AuthMiddleware struct {
	sessions LoginState
	log      *slog.Logger
}

// NewAuthMiddleware creates a new auth middleware
func NewAuthMiddleware(sessions LoginState, logger *slog.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		sessions: sessions,
		log:      logger.With(slog.String("component", "auth_middleware")),
	}
}

// RequireAuth is middleware that ensures the user is authenticated
func (m *AuthMiddleware) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.sessions.IsLoggedIn() {
			m.log.Debug("not logged in, redirecting to login", slog.String("path", r.URL.Path))
			http.Redirect(w, r, "/auth", http.StatusSeeOther)
			return
		}

		next.ServeHTTP(w, r)
	})
}

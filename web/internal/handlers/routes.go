package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/devilmonastery/authgate/web/internal/middleware"
)

// Router sets up the HTTP router with all routes and middleware.
// metricsHandler may be nil to leave /metrics unregistered.
func (h *Handler) Router(authMw *middleware.AuthMiddleware, metricsHandler http.Handler, log *slog.Logger) *mux.Router {
	router := mux.NewRouter()
	router.Use(middleware.LogRequest(log))
	router.Use(middleware.SameOrigin(log))

	router.HandleFunc("/health", h.Health).Methods("GET")
	if metricsHandler != nil {
		router.Handle("/metrics", metricsHandler).Methods("GET")
	}

	// Public routes (no auth required)
	router.HandleFunc("/", h.Home).Methods("GET")
	router.HandleFunc("/auth", h.AuthPage).Methods("GET")
	router.HandleFunc("/auth", h.AuthSubmit).Methods("POST")
	router.HandleFunc("/logout", h.Logout).Methods("POST")

	// Profile routes (auth required)
	router.Handle("/profile", authMw.RequireAuth(http.HandlerFunc(h.ProfilePage))).Methods("GET")
	router.Handle("/profile", authMw.RequireAuth(http.HandlerFunc(h.ProfileSubmit))).Methods("POST")

	return router
}

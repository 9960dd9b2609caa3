package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/devilmonastery/authgate/internal/identity"
	"github.com/devilmonastery/authgate/internal/session"
	"github.com/devilmonastery/authgate/web/internal/flash"
	"github.com/devilmonastery/authgate/web/internal/render"
)

// Sessions is the part of session.Store the handlers use
type Sessions interface {
	IsLoggedIn() bool
	Snapshot() session.Session
	Token() (string, bool)
	Epoch() uint64
	LoginIfEpoch(ctx context.Context, epoch uint64, token string, expiresAt time.Time) (bool, error)
	Logout(ctx context.Context)
}

// Exchanger performs credential exchanges with the identity provider
type Exchanger interface {
	SignIn(ctx context.Context, email, password string) (*identity.Result, error)
	SignUp(ctx context.Context, email, password string) (*identity.Result, error)
	ChangePassword(ctx context.Context, currentToken, newPassword string) (*identity.Result, error)
}

// Handler holds dependencies for all web handlers
type Handler struct {
	sessions  Sessions
	exchanger Exchanger
	flash     *flash.Manager
	templates *render.TemplateSet
	log       *slog.Logger
}

// New creates a new handler with dependencies
func New(sessions Sessions, exchanger Exchanger, flashes *flash.Manager, templates *render.TemplateSet, logger *slog.Logger) *Handler {
	return &Handler{
		sessions:  sessions,
		exchanger: exchanger,
		flash:     flashes,
		templates: templates,
		log:       logger.With(slog.String("component", "web_handler")),
	}
}

// PageData is what every page template receives
type PageData struct {
	LoggedIn  bool
	Flash     flash.Messages
	Account   *identity.TokenInfo
	ExpiresAt time.Time

	// auth page
	SignUp bool
	Email  string
}

// page collects the common template data and consumes pending flashes
func (h *Handler) page(w http.ResponseWriter, r *http.Request) PageData {
	data := PageData{
		LoggedIn: h.sessions.IsLoggedIn(),
		Flash:    h.flash.Pop(w, r),
	}
	if data.LoggedIn {
		sess := h.sessions.Snapshot()
		data.ExpiresAt = sess.ExpiresAt
		if info, err := identity.DescribeToken(sess.Token); err == nil {
			data.Account = info
		}
	}
	return data
}

func (h *Handler) render(w http.ResponseWriter, name string, data PageData) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := h.templates.Execute(w, name, data); err != nil {
		h.log.Error("failed to render template",
			slog.String("template", name),
			slog.String("error", err.Error()))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
	}
}

// Home renders the landing page
func (h *Handler) Home(w http.ResponseWriter, r *http.Request) {
	h.render(w, "home.html", h.page(w, r))
}

// Health reports liveness
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

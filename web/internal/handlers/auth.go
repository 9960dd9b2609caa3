package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/devilmonastery/authgate/internal/identity"
)

const (
	msgMissingFields   = "Email and password are required"
	msgUnreachable     = "Could not reach the identity provider. Please try again."
	msgStale           = "The session changed while your request was in flight. Please try again."
	msgPasswordMissing = "Enter the new password twice"
	msgPasswordMatch   = "The passwords do not match"
	msgPasswordChanged = "Password changed"
)

func isSignUp(r *http.Request) bool {
	return r.URL.Query().Get("mode") == "signup"
}

func authURL(signUp bool) string {
	if signUp {
		return "/auth?mode=signup"
	}
	return "/auth"
}

// AuthPage renders the login form, or the sign-up form with ?mode=signup
func (h *Handler) AuthPage(w http.ResponseWriter, r *http.Request) {
	if h.sessions.IsLoggedIn() {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	data := h.page(w, r)
	data.SignUp = isSignUp(r)
	h.render(w, "auth.html", data)
}

// AuthSubmit exchanges the submitted credentials and logs the resulting token in
func (h *Handler) AuthSubmit(w http.ResponseWriter, r *http.Request) {
	signUp := isSignUp(r)
	back := authURL(signUp)

	if err := r.ParseForm(); err != nil {
		h.flash.Error(w, r, msgMissingFields)
		http.Redirect(w, r, back, http.StatusSeeOther)
		return
	}

	email := strings.TrimSpace(r.PostFormValue("email"))
	password := r.PostFormValue("password")
	if email == "" || password == "" {
		h.flash.Error(w, r, msgMissingFields)
		http.Redirect(w, r, back, http.StatusSeeOther)
		return
	}

	exchange := h.exchanger.SignIn
	if signUp {
		exchange = h.exchanger.SignUp
	}

	if !h.exchangeAndLogin(w, r, func(ctx context.Context) (*identity.Result, error) {
		return exchange(ctx, email, password)
	}) {
		http.Redirect(w, r, back, http.StatusSeeOther)
		return
	}

	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// ProfilePage shows the account and the change-password form
func (h *Handler) ProfilePage(w http.ResponseWriter, r *http.Request) {
	h.render(w, "profile.html", h.page(w, r))
}

// ProfileSubmit changes the password. The rotated token replaces the current session.
func (h *Handler) ProfileSubmit(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.flash.Error(w, r, msgPasswordMissing)
		http.Redirect(w, r, "/profile", http.StatusSeeOther)
		return
	}

	password := r.PostFormValue("password")
	confirm := r.PostFormValue("confirm")
	switch {
	case password == "" || confirm == "":
		h.flash.Error(w, r, msgPasswordMissing)
		http.Redirect(w, r, "/profile", http.StatusSeeOther)
		return
	case password != confirm:
		h.flash.Error(w, r, msgPasswordMatch)
		http.Redirect(w, r, "/profile", http.StatusSeeOther)
		return
	}

	token, ok := h.sessions.Token()
	if !ok {
		http.Redirect(w, r, "/auth", http.StatusSeeOther)
		return
	}

	if h.exchangeAndLogin(w, r, func(ctx context.Context) (*identity.Result, error) {
		return h.exchanger.ChangePassword(ctx, token, password)
	}) {
		h.flash.Notice(w, r, msgPasswordChanged)
	}
	http.Redirect(w, r, "/profile", http.StatusSeeOther)
}

// Logout forgets the session
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	h.sessions.Logout(r.Context())
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// exchangeAndLogin runs one exchange and logs in its token unless the session changed
// in the meantime. Failures are queued as flash messages. It reports success.
func (h *Handler) exchangeAndLogin(w http.ResponseWriter, r *http.Request, call func(context.Context) (*identity.Result, error)) bool {
	epoch := h.sessions.Epoch()

	res, err := call(r.Context())
	if err != nil {
		var rejected *identity.RejectedError
		switch {
		case errors.As(err, &rejected):
			h.flash.Error(w, r, rejected.Message)
		case identity.IsNetwork(err):
			h.flash.Error(w, r, msgUnreachable)
		default:
			h.log.Error("exchange failed", slog.String("error", err.Error()))
			h.flash.Error(w, r, msgUnreachable)
		}
		return false
	}

	applied, err := h.sessions.LoginIfEpoch(r.Context(), epoch, res.Token, res.ExpiresAt)
	if err != nil {
		h.log.Error("failed to log in exchange result", slog.String("error", err.Error()))
		h.flash.Error(w, r, err.Error())
		return false
	}
	if !applied {
		h.flash.Error(w, r, msgStale)
		return false
	}

	return true
}

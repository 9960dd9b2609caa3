package flash

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/sessions"
)

const (
	// CookieName is the name of the flash cookie
	CookieName = "authgate_flash"

	errorKey  = "error"
	noticeKey = "notice"
)

// Messages are the flashes pending for one request
type Messages struct {
	Errors  []string
	Notices []string
}

// Empty reports whether there is nothing to show
func (m Messages) Empty() bool {
	return len(m.Errors) == 0 && len(m.Notices) == 0
}

// Manager wraps gorilla/sessions to carry one-shot messages across a redirect.
// The login state itself lives in the session store, not in this cookie.
type Manager struct {
	store *sessions.CookieStore
	log   *slog.Logger
}

// NewManager creates a flash manager.
// secretKey authenticates the cookie and should be 32 or 64 bytes.
func NewManager(secretKey []byte) *Manager {
	store := sessions.NewCookieStore(secretKey)

	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   5 * 60,
		HttpOnly: true,
		Secure:   false, // served on localhost
		SameSite: http.SameSiteLaxMode,
	}

	return &Manager{
		store: store,
		log:   slog.Default().With("component", "flash"),
	}
}

// Error queues an error message for the next page render
func (m *Manager) Error(w http.ResponseWriter, r *http.Request, msg string) {
	m.add(w, r, errorKey, msg)
}

// Notice queues an informational message for the next page render
func (m *Manager) Notice(w http.ResponseWriter, r *http.Request, msg string) {
	m.add(w, r, noticeKey, msg)
}

func (m *Manager) add(w http.ResponseWriter, r *http.Request, key, msg string) {
	session, err := m.store.Get(r, CookieName)
	if err != nil {
		// Tampered or stale cookie: start over
		session, _ = m.store.New(r, CookieName)
	}

	session.AddFlash(msg, key)
	if err := session.Save(r, w); err != nil {
		m.log.Warn("failed to save flash", slog.String("error", err.Error()))
	}
}

// Pop returns and clears the pending messages
func (m *Manager) Pop(w http.ResponseWriter, r *http.Request) Messages {
	session, err := m.store.Get(r, CookieName)
	if err != nil {
		return Messages{}
	}

	msgs := Messages{
		Errors:  toStrings(session.Flashes(errorKey)),
		Notices: toStrings(session.Flashes(noticeKey)),
	}
	if msgs.Empty() {
		return msgs
	}

	if err := session.Save(r, w); err != nil {
		m.log.Warn("failed to clear flash", slog.String("error", err.Error()))
	}
	return msgs
}

func toStrings(values []interface{}) []string {
	var out []string
	for _, v := range values {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/devilmonastery/authgate/internal/pkg/logger"
	"github.com/devilmonastery/authgate/internal/pkg/metrics"
	"github.com/devilmonastery/authgate/internal/storage"
)

const (
	// TokenKey is the durable record key holding the token
	TokenKey = "token"

	// ExpirationKey is the durable record key holding the absolute expiry (RFC 3339)
	ExpirationKey = "expirationTime"

	// DefaultMinLifetime is the least remaining lifetime a restored session must have
	DefaultMinLifetime = 60 * time.Second

	// DefaultStorageTimeout bounds each durable record operation
	DefaultStorageTimeout = 5 * time.Second
)

var (
	// ErrEmptyToken is returned by Login when the token is empty
	ErrEmptyToken = errors.New("session: token must not be empty")

	// ErrNoExpiry is returned by Login when the expiry is the zero time
	ErrNoExpiry = errors.New("session: expiry must be set")
)

// State is the login state of a Store
type State int

const (
	LoggedOut State = iota
	LoggedIn
)

func (s State) String() string {
	if s == LoggedIn {
		return "logged_in"
	}
	return "logged_out"
}

// Session pairs a token with its absolute expiry. The zero value is "no session".
type Session struct {
	Token     string
	ExpiresAt time.Time
}

// IsZero reports whether the session holds no token
func (s Session) IsZero() bool {
	return s.Token == ""
}

// Remaining returns the lifetime left at now (negative once expired)
func (s Session) Remaining(now time.Time) time.Duration {
	return s.ExpiresAt.Sub(now)
}

// Store is the single source of truth for the current session.
// It persists the session to a KV store and logs out automatically at expiry.
//
// A Store is safe for concurrent use. The session, the pending expiry timer and
// the epoch counter are guarded together by one mutex.
type Store struct {
	kv             storage.KV
	clock          Clock
	minLifetime    time.Duration
	storageTimeout time.Duration
	log            *slog.Logger

	mu        sync.Mutex
	session   Session
	timer     Timer
	epoch     uint64
	observers []func(State)
}

// Option configures a Store
type Option func(*Store)

// WithClock replaces the system clock
func WithClock(c Clock) Option {
	return func(s *Store) { s.clock = c }
}

// WithLogger sets the logger used for lifecycle events
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.log = l }
}

// WithMinLifetime sets the least remaining lifetime a restored session must have
func WithMinLifetime(d time.Duration) Option {
	return func(s *Store) { s.minLifetime = d }
}

// WithStorageTimeout bounds each durable record operation (0 disables the bound)
func WithStorageTimeout(d time.Duration) Option {
	return func(s *Store) { s.storageTimeout = d }
}

// NewStore creates a logged-out store backed by kv. Call Restore to resume a persisted session.
func NewStore(kv storage.KV, opts ...Option) *Store {
	s := &Store{
		kv:             kv,
		clock:          SystemClock{},
		minLifetime:    DefaultMinLifetime,
		storageTimeout: DefaultStorageTimeout,
		log:            slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With("component", "session")
	return s
}

// Restore loads the durable record. A missing, incomplete or unreadable record yields
// LoggedOut. A record with MinLifetime or less remaining is removed and also yields
// LoggedOut. Otherwise the session is resumed and expiry is scheduled for the remaining time.
func (s *Store) Restore(ctx context.Context) State {
	s.mu.Lock()

	record, ok := s.readRecordLocked(ctx)
	if !ok {
		prev := s.resetLocked(Session{})
		s.mu.Unlock()
		s.log.Debug("no stored session")
		if prev == LoggedIn {
			s.notify(LoggedOut)
		}
		return LoggedOut
	}

	remaining := record.Remaining(s.now())
	if remaining <= s.minLifetime {
		prev := s.resetLocked(Session{})
		s.removeRecordLocked(ctx)
		s.mu.Unlock()

		s.log.Info("discarding stored session close to expiry",
			slog.Duration("remaining", remaining),
			slog.Duration("min_lifetime", s.minLifetime))
		metrics.SessionTransitions.WithLabelValues("restore_discarded").Inc()
		if prev == LoggedIn {
			s.notify(LoggedOut)
		}
		return LoggedOut
	}

	s.resetLocked(record)
	s.armLocked(remaining)
	s.mu.Unlock()

	s.log.Info("restored session",
		logger.Token(record.Token),
		slog.Time("expires_at", record.ExpiresAt),
		slog.Duration("remaining", remaining))
	metrics.SessionTransitions.WithLabelValues("restore").Inc()
	s.notify(LoggedIn)
	return LoggedIn
}

// Login replaces the current session, persists it and schedules logout at expiresAt.
// An expiry that is not in the future schedules an immediate logout rather than failing.
// Storage failures are logged and do not fail the login.
func (s *Store) Login(ctx context.Context, token string, expiresAt time.Time) error {
	if err := validate(token, expiresAt); err != nil {
		return err
	}

	s.mu.Lock()
	s.loginLocked(ctx, token, expiresAt)
	s.mu.Unlock()

	s.notify(LoggedIn)
	return nil
}

// LoginIfEpoch logs in only if no login, logout or expiry happened since epoch was
// read with Epoch. It reports whether the login was applied. Callers use it to drop
// exchange responses that arrive after the user logged out.
func (s *Store) LoginIfEpoch(ctx context.Context, epoch uint64, token string, expiresAt time.Time) (bool, error) {
	if err := validate(token, expiresAt); err != nil {
		return false, err
	}

	s.mu.Lock()
	if s.epoch != epoch {
		current := s.epoch
		s.mu.Unlock()
		s.log.Info("discarding stale exchange result",
			slog.Uint64("epoch", epoch),
			slog.Uint64("current_epoch", current))
		return false, nil
	}
	s.loginLocked(ctx, token, expiresAt)
	s.mu.Unlock()

	s.notify(LoggedIn)
	return true, nil
}

// Logout clears the session, removes the durable record and cancels the pending timer.
// It is safe to call when already logged out.
func (s *Store) Logout(ctx context.Context) {
	s.mu.Lock()
	prev := s.resetLocked(Session{})
	s.removeRecordLocked(ctx)
	s.mu.Unlock()

	if prev == LoggedIn {
		metrics.SessionTransitions.WithLabelValues("logout").Inc()
		s.log.Info("logged out")
		s.notify(LoggedOut)
	}
}

// IsLoggedIn reports whether a token is held and its expiry has not passed on the wall clock
func (s *Store) IsLoggedIn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activeLocked()
}

// State returns LoggedIn or LoggedOut, consistent with IsLoggedIn
func (s *Store) State() State {
	if s.IsLoggedIn() {
		return LoggedIn
	}
	return LoggedOut
}

// Token returns the current token for authorizing requests
func (s *Store) Token() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.activeLocked() {
		return "", false
	}
	return s.session.Token, true
}

// Snapshot returns a copy of the current session (zero if logged out)
func (s *Store) Snapshot() Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

// Epoch returns a counter that changes on every login, logout and expiry
func (s *Store) Epoch() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epoch
}

// OnChange registers fn to be called after every login, restore, logout and expiry.
// fn runs without the store lock held and may call back into the store.
func (s *Store) OnChange(fn func(State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, fn)
}

// Close cancels the pending timer without touching the session or the durable record.
// Shutting down must not log the user out.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.epoch++
	s.stopTimerLocked()
}

func validate(token string, expiresAt time.Time) error {
	if token == "" {
		return ErrEmptyToken
	}
	if expiresAt.IsZero() {
		return ErrNoExpiry
	}
	return nil
}

func (s *Store) loginLocked(ctx context.Context, token string, expiresAt time.Time) {
	// Wall-clock deadline: monotonic readings do not advance while the machine sleeps
	expiresAt = expiresAt.Round(0)

	s.resetLocked(Session{Token: token, ExpiresAt: expiresAt})
	s.writeRecordLocked(ctx, s.session)

	remaining := expiresAt.Sub(s.now())
	s.armLocked(remaining)

	s.log.Info("logged in",
		logger.Token(token),
		slog.Time("expires_at", expiresAt),
		slog.Duration("remaining", remaining))
	metrics.SessionTransitions.WithLabelValues("login").Inc()
}

// expire runs when a timer armed under epoch fires
func (s *Store) expire(epoch uint64) {
	s.mu.Lock()
	if epoch != s.epoch || s.session.IsZero() {
		s.mu.Unlock()
		return
	}

	if remaining := s.session.Remaining(s.now()); remaining > 0 {
		// The wall clock says the deadline is still ahead (e.g. it was set back); wait it out
		s.timer = nil
		s.armLocked(remaining)
		s.mu.Unlock()
		return
	}

	expired := s.session
	s.resetLocked(Session{})

	ctx, cancel := s.storageContext(context.Background())
	s.removeRecordLocked(ctx)
	cancel()
	s.mu.Unlock()

	s.log.Info("session expired",
		logger.Token(expired.Token),
		slog.Time("expires_at", expired.ExpiresAt))
	metrics.SessionTransitions.WithLabelValues("expire").Inc()
	s.notify(LoggedOut)
}

// resetLocked replaces the session, cancels any pending timer and moves to a new epoch.
// It returns the state held before the reset.
func (s *Store) resetLocked(next Session) State {
	prev := LoggedOut
	if !s.session.IsZero() {
		prev = LoggedIn
	}

	s.epoch++
	s.stopTimerLocked()
	s.session = next
	return prev
}

func (s *Store) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// armLocked schedules expiry after d under the current epoch
func (s *Store) armLocked(d time.Duration) {
	if d < 0 {
		d = 0
	}
	epoch := s.epoch
	s.timer = s.clock.AfterFunc(d, func() { s.expire(epoch) })
}

func (s *Store) activeLocked() bool {
	return !s.session.IsZero() && s.now().Before(s.session.ExpiresAt)
}

func (s *Store) now() time.Time {
	return s.clock.Now().Round(0)
}

func (s *Store) notify(state State) {
	s.mu.Lock()
	observers := make([]func(State), len(s.observers))
	copy(observers, s.observers)
	s.mu.Unlock()

	metrics.SetLoggedIn(state == LoggedIn)
	for _, fn := range observers {
		fn(state)
	}
}

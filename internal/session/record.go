package session

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/devilmonastery/authgate/internal/pkg/metrics"
	"github.com/devilmonastery/authgate/internal/storage"
)

// readRecordLocked loads the durable record. Storage failures fail open: they are
// logged and reported as "no record". Incomplete or corrupt records are removed.
func (s *Store) readRecordLocked(ctx context.Context) (Session, bool) {
	ctx, cancel := s.storageContext(ctx)
	defer cancel()

	token, tokenErr := s.kv.Get(ctx, TokenKey)
	rawExpiry, expiryErr := s.kv.Get(ctx, ExpirationKey)

	for _, err := range []error{tokenErr, expiryErr} {
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			s.storageError("read", err)
			return Session{}, false
		}
	}

	if tokenErr != nil && expiryErr != nil {
		return Session{}, false
	}

	if tokenErr != nil || expiryErr != nil || token == "" {
		s.log.Warn("discarding incomplete stored session",
			slog.Bool("has_token", tokenErr == nil && token != ""),
			slog.Bool("has_expiry", expiryErr == nil))
		s.removeRecordLocked(ctx)
		return Session{}, false
	}

	expiresAt, err := time.Parse(time.RFC3339Nano, rawExpiry)
	if err != nil {
		s.log.Warn("discarding stored session with unreadable expiry",
			slog.String("expiration_time", rawExpiry),
			slog.String("error", err.Error()))
		s.removeRecordLocked(ctx)
		return Session{}, false
	}

	return Session{Token: token, ExpiresAt: expiresAt}, true
}

// writeRecordLocked persists sess. The expiry is removed first and written last so an
// interrupted write leaves an incomplete record (discarded on restore) rather than a
// new token paired with an old expiry. A failed Remove does not stop the write.
func (s *Store) writeRecordLocked(ctx context.Context, sess Session) {
	ctx, cancel := s.storageContext(ctx)
	defer cancel()

	if err := s.kv.Remove(ctx, ExpirationKey); err != nil {
		// The expiry Set below still replaces a stale value; a failure there clears both keys
		s.storageError("write", err)
	}
	if err := s.kv.Set(ctx, TokenKey, sess.Token); err != nil {
		s.storageError("write", err)
		s.removeRecordLocked(ctx)
		return
	}
	if err := s.kv.Set(ctx, ExpirationKey, sess.ExpiresAt.UTC().Format(time.RFC3339Nano)); err != nil {
		s.storageError("write", err)
		s.removeRecordLocked(ctx)
	}
}

// removeRecordLocked deletes both record keys, logging failures
func (s *Store) removeRecordLocked(ctx context.Context) {
	ctx, cancel := s.storageContext(ctx)
	defer cancel()

	if err := s.kv.Remove(ctx, TokenKey); err != nil {
		s.storageError("remove", err)
	}
	if err := s.kv.Remove(ctx, ExpirationKey); err != nil {
		s.storageError("remove", err)
	}
}

func (s *Store) storageError(op string, err error) {
	s.log.Error("session storage failure",
		slog.String("op", op),
		slog.String("error", err.Error()))
	metrics.SessionStorageErrors.WithLabelValues(op).Inc()
}

func (s *Store) storageContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if s.storageTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.storageTimeout)
}

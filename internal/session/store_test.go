package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devilmonastery/authgate/internal/pkg/metrics"
	"github.com/devilmonastery/authgate/internal/storage"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func newTestStore(kv storage.KV) (*Store, *manualClock) {
	clock := newManualClock()
	return NewStore(kv, WithClock(clock), WithLogger(discard)), clock
}

// seedRecord writes a durable record as a previous process would have
func seedRecord(t *testing.T, kv storage.KV, token string, expiresAt time.Time) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, kv.Set(ctx, TokenKey, token))
	require.NoError(t, kv.Set(ctx, ExpirationKey, expiresAt.Format(time.RFC3339Nano)))
}

func assertNoRecord(t *testing.T, kv storage.KV) {
	t.Helper()
	ctx := context.Background()
	_, err := kv.Get(ctx, TokenKey)
	assert.ErrorIs(t, err, storage.ErrNotFound, "token should be removed")
	_, err = kv.Get(ctx, ExpirationKey)
	assert.ErrorIs(t, err, storage.ErrNotFound, "expirationTime should be removed")
}

func TestLogin_IsLoggedIn(t *testing.T) {
	lifetimes := []time.Duration{time.Second, 61 * time.Second, time.Hour, 14 * 24 * time.Hour}

	for _, lifetime := range lifetimes {
		t.Run(lifetime.String(), func(t *testing.T) {
			kv := storage.NewMemoryKV()
			store, clock := newTestStore(kv)
			expiresAt := clock.Now().Add(lifetime)

			require.NoError(t, store.Login(context.Background(), "tok-A", expiresAt))

			assert.True(t, store.IsLoggedIn())
			assert.Equal(t, LoggedIn, store.State())
			token, ok := store.Token()
			assert.True(t, ok)
			assert.Equal(t, "tok-A", token)

			// Durable record written
			gotToken, err := kv.Get(context.Background(), TokenKey)
			require.NoError(t, err)
			assert.Equal(t, "tok-A", gotToken)
			gotExpiry, err := kv.Get(context.Background(), ExpirationKey)
			require.NoError(t, err)
			assert.Equal(t, expiresAt.UTC().Format(time.RFC3339Nano), gotExpiry)

			// Exactly one timer, armed for the full lifetime
			assert.Equal(t, []time.Duration{lifetime}, clock.Pending())
		})
	}
}

func TestLogin_InvalidInput(t *testing.T) {
	store, clock := newTestStore(storage.NewMemoryKV())

	err := store.Login(context.Background(), "", clock.Now().Add(time.Hour))
	assert.ErrorIs(t, err, ErrEmptyToken)

	err = store.Login(context.Background(), "tok-A", time.Time{})
	assert.ErrorIs(t, err, ErrNoExpiry)

	assert.False(t, store.IsLoggedIn())
	assert.Empty(t, clock.Pending())
}

func TestLogin_ExpiryNotInFutureExpiresImmediately(t *testing.T) {
	kv := storage.NewMemoryKV()
	store, clock := newTestStore(kv)

	require.NoError(t, store.Login(context.Background(), "tok-A", clock.Now().Add(-time.Minute)))

	// Zero-delay timer, not an error
	assert.Equal(t, []time.Duration{0}, clock.Pending())
	assert.False(t, store.IsLoggedIn())

	clock.Advance(0)

	assert.False(t, store.IsLoggedIn())
	assert.True(t, store.Snapshot().IsZero())
	assertNoRecord(t, kv)
}

func TestLogout_Idempotent(t *testing.T) {
	kv := storage.NewMemoryKV()
	store, clock := newTestStore(kv)
	ctx := context.Background()

	logouts := metrics.SessionTransitions.WithLabelValues("logout")
	before := testutil.ToFloat64(logouts)

	// Already logged out
	store.Logout(ctx)
	assert.False(t, store.IsLoggedIn())
	assert.Equal(t, before, testutil.ToFloat64(logouts), "no-op logout is not a transition")

	require.NoError(t, store.Login(ctx, "tok-A", clock.Now().Add(time.Hour)))
	store.Logout(ctx)
	assert.False(t, store.IsLoggedIn())
	assert.Empty(t, clock.Pending(), "logout must cancel the timer")
	assertNoRecord(t, kv)
	assert.Equal(t, before+1, testutil.ToFloat64(logouts))

	store.Logout(ctx)
	assert.False(t, store.IsLoggedIn())
	assert.Equal(t, 0, kv.Len())
	assert.Equal(t, before+1, testutil.ToFloat64(logouts))
}

func TestRestore_Threshold(t *testing.T) {
	tests := []struct {
		name      string
		remaining time.Duration
		want      State
	}{
		{name: "already expired", remaining: -time.Hour, want: LoggedOut},
		{name: "well below threshold", remaining: 10 * time.Second, want: LoggedOut},
		{name: "exactly threshold", remaining: 60 * time.Second, want: LoggedOut},
		{name: "just above threshold", remaining: 60*time.Second + time.Millisecond, want: LoggedIn},
		{name: "an hour left", remaining: time.Hour, want: LoggedIn},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kv := storage.NewMemoryKV()
			store, clock := newTestStore(kv)
			seedRecord(t, kv, "tok-A", clock.Now().Add(tt.remaining))

			got := store.Restore(context.Background())

			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want == LoggedIn, store.IsLoggedIn())

			if tt.want == LoggedOut {
				assertNoRecord(t, kv)
				assert.Empty(t, clock.Pending())
				return
			}

			token, _ := store.Token()
			assert.Equal(t, "tok-A", token)
			assert.Equal(t, []time.Duration{tt.remaining}, clock.Pending())
		})
	}
}

func TestRestore_NoRecord(t *testing.T) {
	store, clock := newTestStore(storage.NewMemoryKV())

	assert.Equal(t, LoggedOut, store.Restore(context.Background()))
	assert.False(t, store.IsLoggedIn())
	assert.Empty(t, clock.Pending())
}

func TestRestore_BadRecord(t *testing.T) {
	tests := []struct {
		name   string
		values map[string]string
	}{
		{name: "token only", values: map[string]string{TokenKey: "tok-A"}},
		{name: "expiry only", values: map[string]string{ExpirationKey: "2030-01-01T00:00:00Z"}},
		{name: "empty token", values: map[string]string{TokenKey: "", ExpirationKey: "2030-01-01T00:00:00Z"}},
		{name: "garbage expiry", values: map[string]string{TokenKey: "tok-A", ExpirationKey: "Tue Jan 01"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kv := storage.NewMemoryKV()
			for k, v := range tt.values {
				require.NoError(t, kv.Set(context.Background(), k, v))
			}
			store, _ := newTestStore(kv)

			assert.Equal(t, LoggedOut, store.Restore(context.Background()))
			assertNoRecord(t, kv)
		})
	}
}

func TestRestore_ThenExpire(t *testing.T) {
	kv := storage.NewMemoryKV()
	store, clock := newTestStore(kv)
	seedRecord(t, kv, "tok-A", clock.Now().Add(10*time.Minute))

	require.Equal(t, LoggedIn, store.Restore(context.Background()))

	clock.Advance(10*time.Minute - time.Second)
	assert.True(t, store.IsLoggedIn())

	clock.Advance(time.Second)
	assert.False(t, store.IsLoggedIn())
	assertNoRecord(t, kv)
}

func TestSecondLoginCancelsFirstTimer(t *testing.T) {
	kv := storage.NewMemoryKV()
	store, clock := newTestStore(kv)
	ctx := context.Background()

	require.NoError(t, store.Login(ctx, "tok-A", clock.Now().Add(10*time.Minute)))
	require.NoError(t, store.Login(ctx, "tok-B", clock.Now().Add(time.Hour)))

	assert.Len(t, clock.Pending(), 1, "only one live timer")

	// Past the first expiry: the first timer must not log the user out
	clock.Advance(11 * time.Minute)
	assert.True(t, store.IsLoggedIn())
	token, _ := store.Token()
	assert.Equal(t, "tok-B", token)

	stored, err := kv.Get(ctx, TokenKey)
	require.NoError(t, err)
	assert.Equal(t, "tok-B", stored)

	clock.Advance(50 * time.Minute)
	assert.False(t, store.IsLoggedIn())
	assertNoRecord(t, kv)
}

func TestStaleTimerCallbackIgnored(t *testing.T) {
	store, clock := newTestStore(storage.NewMemoryKV())
	ctx := context.Background()

	require.NoError(t, store.Login(ctx, "tok-A", clock.Now().Add(time.Minute)))
	staleEpoch := store.Epoch()
	require.NoError(t, store.Login(ctx, "tok-B", clock.Now().Add(time.Hour)))

	// A callback whose Stop lost the race still runs; it must be a no-op
	clock.Advance(2 * time.Minute)
	store.expire(staleEpoch)

	assert.True(t, store.IsLoggedIn())
}

func TestTimerExpiry(t *testing.T) {
	kv := storage.NewMemoryKV()
	store, clock := newTestStore(kv)

	require.NoError(t, store.Login(context.Background(), "tok-A", clock.Now().Add(3600*time.Second)))
	assert.True(t, store.IsLoggedIn())

	clock.Advance(3601 * time.Second)

	assert.False(t, store.IsLoggedIn())
	assert.Equal(t, LoggedOut, store.State())
	assertNoRecord(t, kv)
	assert.Empty(t, clock.Pending())
}

func TestWallClockJumpPastExpiry(t *testing.T) {
	kv := storage.NewMemoryKV()
	store, clock := newTestStore(kv)
	start := clock.Now()

	require.NoError(t, store.Login(context.Background(), "tok-A", start.Add(time.Hour)))

	// Machine slept for two hours; the timer has not fired yet
	clock.Set(start.Add(2 * time.Hour))
	assert.False(t, store.IsLoggedIn())
	_, ok := store.Token()
	assert.False(t, ok)

	clock.FireAll()
	assert.True(t, store.Snapshot().IsZero())
	assertNoRecord(t, kv)
}

func TestTimerFiresBeforeWallClockDeadline(t *testing.T) {
	kv := storage.NewMemoryKV()
	store, clock := newTestStore(kv)
	expiresAt := clock.Now().Add(time.Hour)

	require.NoError(t, store.Login(context.Background(), "tok-A", expiresAt))

	// Timer fires with 20 minutes still left on the wall clock
	clock.Set(expiresAt.Add(-20 * time.Minute))
	clock.FireAll()

	assert.True(t, store.IsLoggedIn())
	assert.Equal(t, []time.Duration{20 * time.Minute}, clock.Pending())

	clock.Advance(20 * time.Minute)
	assert.False(t, store.IsLoggedIn())
	assertNoRecord(t, kv)
}

func TestLoginIfEpoch(t *testing.T) {
	store, clock := newTestStore(storage.NewMemoryKV())
	ctx := context.Background()

	epoch := store.Epoch()
	applied, err := store.LoginIfEpoch(ctx, epoch, "tok-A", clock.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.True(t, applied)
	assert.True(t, store.IsLoggedIn())

	// Exchange starts, user logs out, response arrives late
	epoch = store.Epoch()
	store.Logout(ctx)

	applied, err = store.LoginIfEpoch(ctx, epoch, "tok-B", clock.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.False(t, applied)
	assert.False(t, store.IsLoggedIn())

	_, err = store.LoginIfEpoch(ctx, store.Epoch(), "", clock.Now().Add(time.Hour))
	assert.ErrorIs(t, err, ErrEmptyToken)
}

func TestOnChange(t *testing.T) {
	kv := storage.NewMemoryKV()
	store, clock := newTestStore(kv)
	ctx := context.Background()

	var states []State
	store.OnChange(func(s State) {
		// Observers may read the store
		_ = store.IsLoggedIn()
		states = append(states, s)
	})

	require.NoError(t, store.Login(ctx, "tok-A", clock.Now().Add(time.Minute)))
	clock.Advance(time.Minute)
	store.Logout(ctx) // already logged out: no notification
	require.NoError(t, store.Login(ctx, "tok-B", clock.Now().Add(time.Hour)))
	store.Logout(ctx)

	assert.Equal(t, []State{LoggedIn, LoggedOut, LoggedIn, LoggedOut}, states)
}

func TestClose_KeepsRecord(t *testing.T) {
	kv := storage.NewMemoryKV()
	store, clock := newTestStore(kv)

	require.NoError(t, store.Login(context.Background(), "tok-A", clock.Now().Add(time.Hour)))
	store.Close()

	assert.Empty(t, clock.Pending())
	token, err := kv.Get(context.Background(), TokenKey)
	require.NoError(t, err)
	assert.Equal(t, "tok-A", token)

	// A fresh store picks the session back up
	next, nextClock := newTestStore(kv)
	nextClock.Set(clock.Now())
	assert.Equal(t, LoggedIn, next.Restore(context.Background()))
}

// flakyKV fails selected operations
type flakyKV struct {
	*storage.MemoryKV
	failGet    bool
	failSet    bool
	failSetKey string
	failRemove bool
}

var errDisk = errors.New("disk on fire")

func (f *flakyKV) Get(ctx context.Context, key string) (string, error) {
	if f.failGet {
		return "", errDisk
	}
	return f.MemoryKV.Get(ctx, key)
}

func (f *flakyKV) Set(ctx context.Context, key, value string) error {
	if f.failSet && (f.failSetKey == "" || f.failSetKey == key) {
		return errDisk
	}
	return f.MemoryKV.Set(ctx, key, value)
}

func (f *flakyKV) Remove(ctx context.Context, key string) error {
	if f.failRemove {
		return errDisk
	}
	return f.MemoryKV.Remove(ctx, key)
}

func TestStorageFailures_FailOpen(t *testing.T) {
	ctx := context.Background()

	t.Run("read failure restores logged out and keeps record", func(t *testing.T) {
		kv := &flakyKV{MemoryKV: storage.NewMemoryKV()}
		store, clock := newTestStore(kv)
		seedRecord(t, kv.MemoryKV, "tok-A", clock.Now().Add(time.Hour))
		kv.failGet = true

		assert.Equal(t, LoggedOut, store.Restore(ctx))
		assert.Equal(t, 2, kv.Len())
	})

	t.Run("write failure still logs in", func(t *testing.T) {
		kv := &flakyKV{MemoryKV: storage.NewMemoryKV(), failSet: true}
		store, clock := newTestStore(kv)

		require.NoError(t, store.Login(ctx, "tok-A", clock.Now().Add(time.Hour)))
		assert.True(t, store.IsLoggedIn())
		assert.Equal(t, 0, kv.Len())
	})

	t.Run("partial write leaves no half record", func(t *testing.T) {
		kv := &flakyKV{MemoryKV: storage.NewMemoryKV(), failSet: true, failSetKey: ExpirationKey}
		store, clock := newTestStore(kv)

		require.NoError(t, store.Login(ctx, "tok-A", clock.Now().Add(time.Hour)))
		assert.True(t, store.IsLoggedIn())
		assertNoRecord(t, kv.MemoryKV)
	})

	t.Run("remove failure still logs out", func(t *testing.T) {
		kv := &flakyKV{MemoryKV: storage.NewMemoryKV()}
		store, clock := newTestStore(kv)
		require.NoError(t, store.Login(ctx, "tok-A", clock.Now().Add(time.Hour)))
		kv.failRemove = true

		store.Logout(ctx)
		assert.False(t, store.IsLoggedIn())
		assert.Empty(t, clock.Pending())
	})
}

func TestLogin_ReplacesCorruptCredentialsFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "credentials-dev.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o600))

	store, clock := newTestStore(storage.NewFileKV(path))
	assert.Equal(t, LoggedOut, store.Restore(ctx))
	require.NoError(t, store.Login(ctx, "tok-A", clock.Now().Add(time.Hour)))
	store.Close()

	next, nextClock := newTestStore(storage.NewFileKV(path))
	nextClock.Set(clock.Now())
	assert.Equal(t, LoggedIn, next.Restore(ctx))
	token, ok := next.Token()
	assert.True(t, ok)
	assert.Equal(t, "tok-A", token)

	next.Logout(ctx)
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err), "logout should remove the credentials file")
}

func TestLogin_RemoveFailureStillWritesRecord(t *testing.T) {
	ctx := context.Background()
	kv := &flakyKV{MemoryKV: storage.NewMemoryKV(), failRemove: true}
	store, clock := newTestStore(kv)
	expiresAt := clock.Now().Add(time.Hour)

	require.NoError(t, store.Login(ctx, "tok-A", expiresAt))

	token, err := kv.MemoryKV.Get(ctx, TokenKey)
	require.NoError(t, err)
	assert.Equal(t, "tok-A", token)
	raw, err := kv.MemoryKV.Get(ctx, ExpirationKey)
	require.NoError(t, err)
	assert.Equal(t, expiresAt.UTC().Format(time.RFC3339Nano), raw)
}

func TestConcurrentLoginLogout(t *testing.T) {
	store := NewStore(storage.NewMemoryKV(), WithLogger(discard))
	defer store.Close()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = store.Login(ctx, "tok", time.Now().Add(time.Hour))
		}()
		go func() {
			defer wg.Done()
			store.Logout(ctx)
			_ = store.IsLoggedIn()
		}()
	}
	wg.Wait()

	// Whatever the interleaving, session and timer agree
	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Equal(t, store.session.IsZero(), store.timer == nil)
}

func TestSystemClockExpiry(t *testing.T) {
	kv := storage.NewMemoryKV()
	store := NewStore(kv, WithLogger(discard))

	expired := make(chan struct{})
	store.OnChange(func(s State) {
		if s == LoggedOut {
			close(expired)
		}
	})

	require.NoError(t, store.Login(context.Background(), "tok-A", time.Now().Add(50*time.Millisecond)))

	select {
	case <-expired:
	case <-time.After(5 * time.Second):
		t.Fatal("session did not expire")
	}
	assert.False(t, store.IsLoggedIn())
	assertNoRecord(t, kv)
}

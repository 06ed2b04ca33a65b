package identity

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storefront/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	claims := tokenClaims{
		Email: "asha@example.com",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return tok
}

func TestResolver_GeneratesSessionOnce(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	r := NewResolver(store, testLogger())

	calls := 0
	r.newSessionID = func() string {
		calls++
		return "sess-1"
	}

	id := r.Current(ctx)
	assert.Equal(t, model.Anonymous, id.Kind)
	assert.Equal(t, "sess-1", id.SessionID)

	// Second read uses the cached value
	assert.Equal(t, "sess-1", r.Current(ctx).SessionID)
	assert.Equal(t, 1, calls)

	persisted, ok, err := store.Get(ctx, KeySessionID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "sess-1", persisted)
}

func TestResolver_ReusesPersistedSession(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Set(ctx, KeySessionID, "existing"))

	r := NewResolver(store, testLogger())
	r.newSessionID = func() string {
		t.Fatal("should not generate a session id when one is persisted")
		return ""
	}

	assert.Equal(t, "existing", r.Current(ctx).SessionID)
}

func TestResolver_LoginLogoutKeepsSession(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	r := NewResolver(store, testLogger())

	anon := r.Current(ctx)

	var transitions []model.Identity
	r.OnChange(func(prev, next model.Identity) {
		transitions = append(transitions, next)
	})

	r.Login(ctx, "opaque-token")
	id := r.Current(ctx)
	assert.True(t, id.IsAuthenticated())
	assert.Equal(t, "opaque-token", id.AccountToken)

	r.Logout(ctx)
	id = r.Current(ctx)
	assert.Equal(t, model.Anonymous, id.Kind)
	assert.Equal(t, anon.SessionID, id.SessionID, "logout must revert to the same session id")

	_, ok, _ := store.Get(ctx, KeyAccountToken)
	assert.False(t, ok, "account token should be cleared on logout")

	require.Len(t, transitions, 2)
	assert.True(t, transitions[0].IsAuthenticated())
	assert.False(t, transitions[1].IsAuthenticated())
}

func TestResolver_NoNotificationWithoutChange(t *testing.T) {
	ctx := context.Background()
	r := NewResolver(NewMemoryStore(), testLogger())

	calls := 0
	r.OnChange(func(prev, next model.Identity) { calls++ })

	r.Logout(ctx) // already anonymous
	r.Login(ctx, "")
	r.Login(ctx, "tok")
	r.Login(ctx, "tok") // same token

	assert.Equal(t, 1, calls)
}

func TestResolver_Unsubscribe(t *testing.T) {
	ctx := context.Background()
	r := NewResolver(NewMemoryStore(), testLogger())

	calls := 0
	unsubscribe := r.OnChange(func(prev, next model.Identity) { calls++ })
	unsubscribe()
	unsubscribe() // idempotent

	r.Login(ctx, "tok")
	assert.Zero(t, calls)
}

func TestResolver_ExpiredTokenRevertsToAnonymous(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	r := NewResolver(store, testLogger())

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	r.Login(ctx, signedToken(t, now.Add(time.Hour)))
	require.True(t, r.Current(ctx).IsAuthenticated())

	claims, ok := r.Claims(ctx)
	require.True(t, ok)
	assert.Equal(t, "asha@example.com", claims.Email)
	assert.Equal(t, "user-1", claims.Subject)

	var reverted bool
	r.OnChange(func(prev, next model.Identity) {
		reverted = prev.IsAuthenticated() && !next.IsAuthenticated()
	})

	now = now.Add(2 * time.Hour)
	id := r.Current(ctx)
	assert.False(t, id.IsAuthenticated())
	assert.True(t, reverted)

	_, ok, _ = store.Get(ctx, KeyAccountToken)
	assert.False(t, ok)
}

func TestParseAccountClaims_OpaqueToken(t *testing.T) {
	_, ok := ParseAccountClaims("not-a-jwt")
	assert.False(t, ok)
}

type failingStore struct{}

func (failingStore) Get(context.Context, string) (string, bool, error) {
	return "", false, errors.New("disk gone")
}
func (failingStore) Set(context.Context, string, string) error { return errors.New("disk gone") }
func (failingStore) Delete(context.Context, string) error      { return errors.New("disk gone") }

func TestResolver_NeverFailsOnStoreErrors(t *testing.T) {
	ctx := context.Background()
	r := NewResolver(failingStore{}, testLogger())

	id := r.Current(ctx)
	assert.NotEmpty(t, id.SessionID)

	r.Login(ctx, "tok")
	assert.True(t, r.Current(ctx).IsAuthenticated())

	r.Logout(ctx)
	assert.Equal(t, id.SessionID, r.Current(ctx).SessionID)
	assert.Equal(t, id.SessionID, r.SessionID(ctx))
}

// flakyReadStore fails the first Get of each key and then reads normally.
type flakyReadStore struct {
	*MemoryStore
	failed map[string]bool
}

func (f *flakyReadStore) Get(ctx context.Context, key string) (string, bool, error) {
	if !f.failed[key] {
		f.failed[key] = true
		return "", false, errors.New("database is locked")
	}
	return f.MemoryStore.Get(ctx, key)
}

func TestResolver_FailedReadKeepsStoredSession(t *testing.T) {
	ctx := context.Background()
	mem := NewMemoryStore()
	require.NoError(t, mem.Set(ctx, KeySessionID, "guest-original"))
	store := &flakyReadStore{MemoryStore: mem, failed: map[string]bool{}}

	r := NewResolver(store, testLogger())
	r.newSessionID = func() string { return "temporary" }

	// The process gets a usable id that stays stable for its lifetime.
	assert.Equal(t, "temporary", r.Current(ctx).SessionID)
	assert.Equal(t, "temporary", r.SessionID(ctx))

	persisted, ok, err := mem.Get(ctx, KeySessionID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "guest-original", persisted)

	// The next process reads the original id back.
	next := NewResolver(store, testLogger())
	assert.Equal(t, "guest-original", next.Current(ctx).SessionID)
}

func TestSQLiteStore(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state.db")

	store, err := OpenSQLiteStore(ctx, path)
	require.NoError(t, err)

	_, ok, err := store.Get(ctx, KeySessionID)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Set(ctx, KeySessionID, "a"))
	require.NoError(t, store.Set(ctx, KeySessionID, "b"))
	v, ok, err := store.Get(ctx, KeySessionID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "b", v)

	require.NoError(t, store.Close())

	// Session survives a restart
	reopened, err := OpenSQLiteStore(ctx, path)
	require.NoError(t, err)
	defer reopened.Close()

	r := NewResolver(reopened, testLogger())
	assert.Equal(t, "b", r.Current(ctx).SessionID)

	require.NoError(t, reopened.Delete(ctx, KeySessionID))
	_, ok, err = reopened.Get(ctx, KeySessionID)
	require.NoError(t, err)
	assert.False(t, ok)
}

package credential

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskflow/internal/store"
)

func newTestHolder(t *testing.T, opts ...Option) (*Holder, *store.SQLiteStore) {
	t.Helper()
	s, err := store.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return NewHolder(s, opts...), s
}

func TestHolder_SetGetClear(t *testing.T) {
	h, s := newTestHolder(t)

	_, ok := h.Get()
	assert.False(t, ok)
	assert.False(t, h.CookiePresent())

	require.NoError(t, h.Set("tok-1"))

	got, ok := h.Get()
	require.True(t, ok)
	assert.Equal(t, Credential("tok-1"), got)
	assert.True(t, h.CookiePresent())

	require.NoError(t, h.Clear())

	_, ok = h.Get()
	assert.False(t, ok)
	assert.False(t, h.CookiePresent())

	_, stored, err := s.GetItem(context.Background(), StorageKey)
	require.NoError(t, err)
	assert.False(t, stored, "persistent copy must be removed")
}

func TestHolder_SetRejectsEmpty(t *testing.T) {
	h, _ := newTestHolder(t)
	assert.Error(t, h.Set(""))
}

func TestHolder_PersistentStorageIsAuthoritative(t *testing.T) {
	h, s := newTestHolder(t)

	// Credential written by an earlier run: the mirror is empty but Get still sees it.
	require.NoError(t, s.SetItem(context.Background(), StorageKey, "from-disk"))

	got, ok := h.Get()
	require.True(t, ok)
	assert.Equal(t, Credential("from-disk"), got)
	assert.False(t, h.CookiePresent())

	h.Remirror()
	assert.True(t, h.CookiePresent())

	require.NoError(t, s.RemoveItem(context.Background(), StorageKey))
	h.Remirror()
	assert.False(t, h.CookiePresent(), "mirror follows the authoritative store")
}

func TestHolder_CookieExpires(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	h, _ := newTestHolder(t, WithClock(clock), WithCookieTTL(time.Hour))

	require.NoError(t, h.Set("tok"))
	assert.True(t, h.CookiePresent())

	now = now.Add(2 * time.Hour)
	assert.False(t, h.CookiePresent())

	_, ok := h.Get()
	assert.True(t, ok, "expiry of the mirror does not remove the credential")
}

func TestHolder_InvalidateNotifiesWatchers(t *testing.T) {
	h, _ := newTestHolder(t)
	require.NoError(t, h.Set("tok"))

	var calls atomic.Int32
	cancel := h.OnInvalid(func() { calls.Add(1) })

	h.Invalidate()
	assert.Equal(t, int32(1), calls.Load())
	_, ok := h.Get()
	assert.False(t, ok)

	cancel()
	h.Invalidate()
	assert.Equal(t, int32(1), calls.Load(), "cancelled watcher must not run")
}

func TestHolder_DiscardNotifiesWatchers(t *testing.T) {
	h, _ := newTestHolder(t)
	require.NoError(t, h.Set("tok"))

	var calls atomic.Int32
	h.OnInvalid(func() { calls.Add(1) })

	require.NoError(t, h.Discard())
	assert.Equal(t, int32(1), calls.Load())
	_, ok := h.Get()
	assert.False(t, ok)
	assert.False(t, h.CookiePresent())
}

func TestHolder_Cookie(t *testing.T) {
	h, _ := newTestHolder(t, WithCookieTTL(24*time.Hour))
	assert.Nil(t, h.Cookie())

	require.NoError(t, h.Set("tok"))
	c := h.Cookie()
	require.NotNil(t, c)
	assert.Equal(t, CookieName, c.Name)
	assert.Equal(t, "tok", c.Value)
	assert.Equal(t, "/", c.Path)
	assert.Equal(t, 86400, c.MaxAge)

	expired := ExpiredCookie()
	assert.Equal(t, CookieName, expired.Name)
	assert.Less(t, expired.MaxAge, 0)
}

type failingStorage struct{}

func (failingStorage) GetItem(context.Context, string) (string, bool, error) {
	return "", false, errors.New("disk gone")
}
func (failingStorage) SetItem(context.Context, string, string) error { return errors.New("disk gone") }
func (failingStorage) RemoveItem(context.Context, string) error      { return errors.New("disk gone") }

func TestHolder_StorageFailures(t *testing.T) {
	h := NewHolder(failingStorage{})

	_, ok := h.Get()
	assert.False(t, ok, "unreadable storage is treated as no credential")
	assert.Error(t, h.Set("tok"))
	assert.Error(t, h.Clear())
	assert.False(t, h.CookiePresent())

	notified := false
	h.OnInvalid(func() { notified = true })
	assert.Error(t, h.Discard())
	assert.True(t, notified, "watchers run even when storage fails")
}

func TestCredential_Subject(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "ana"})
	signed, err := token.SignedString([]byte("not-our-secret"))
	require.NoError(t, err)

	sub, err := Credential(signed).Subject()
	require.NoError(t, err)
	assert.Equal(t, "ana", sub)

	_, err = Credential("opaque").Subject()
	assert.Error(t, err)

	_, err = Credential("").Subject()
	assert.Error(t, err)
}

func TestCredential_StringRedacts(t *testing.T) {
	assert.Equal(t, "[redacted]", Credential("secret").String())
	assert.Equal(t, "", Credential("").String())
}

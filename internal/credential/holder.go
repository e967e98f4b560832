package credential

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

const (
	// StorageKey is the persistent storage key of the token.
	StorageKey = "token"
	// CookieName is the name of the mirror cookie.
	CookieName = "token"
	// DefaultCookieTTL matches the one-day cookie lifetime of the sign-in flow.
	DefaultCookieTTL = 24 * time.Hour
)

// Storage is the persistent key/value storage the holder treats as authoritative.
type Storage interface {
	GetItem(ctx context.Context, key string) (string, bool, error)
	SetItem(ctx context.Context, key, value string) error
	RemoveItem(ctx context.Context, key string) error
}

// Holder stores the session credential. Persistent storage is authoritative;
// a short-lived cookie mirrors it as a fast-path signal for route gating.
type Holder struct {
	storage   Storage
	logger    *slog.Logger
	cookieTTL time.Duration
	now       func() time.Time

	mu            sync.Mutex
	cookieValue   string
	cookieExpires time.Time
	watchers      map[int]func()
	nextWatcher   int
}

// Option configures a Holder.
type Option func(*Holder)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Holder) {
		h.logger = logger
	}
}

// WithCookieTTL sets the lifetime of the mirror cookie.
func WithCookieTTL(ttl time.Duration) Option {
	return func(h *Holder) {
		if ttl > 0 {
			h.cookieTTL = ttl
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(h *Holder) {
		h.now = now
	}
}

// NewHolder creates a holder backed by the given storage.
func NewHolder(storage Storage, opts ...Option) *Holder {
	h := &Holder{
		storage:   storage,
		logger:    slog.Default(),
		cookieTTL: DefaultCookieTTL,
		now:       time.Now,
		watchers:  make(map[int]func()),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Get returns the current credential from persistent storage.
// It has no side effects and is safe to call before every request.
func (h *Holder) Get() (Credential, bool) {
	value, ok, err := h.storage.GetItem(context.Background(), StorageKey)
	if err != nil {
		h.logger.Warn("Failed to read credential", "error", err)
		return "", false
	}
	if !ok || value == "" {
		return "", false
	}
	return Credential(value), true
}

// Set stores the credential and mirrors it into the cookie.
func (h *Holder) Set(c Credential) error {
	if c == "" {
		return errors.New("credential is empty")
	}

	if err := h.storage.SetItem(context.Background(), StorageKey, c.Token()); err != nil {
		return fmt.Errorf("failed to store credential: %w", err)
	}

	h.mu.Lock()
	h.cookieValue = c.Token()
	h.cookieExpires = h.now().Add(h.cookieTTL)
	h.mu.Unlock()

	return nil
}

// Clear removes the credential from persistent storage and the cookie mirror.
// The mirror is cleared even when storage fails so no stale copy signals access.
func (h *Holder) Clear() error {
	h.mu.Lock()
	h.cookieValue = ""
	h.cookieExpires = time.Time{}
	h.mu.Unlock()

	if err := h.storage.RemoveItem(context.Background(), StorageKey); err != nil {
		return fmt.Errorf("failed to clear credential: %w", err)
	}
	return nil
}

// Invalidate clears the credential and raises the "credential invalid" signal.
func (h *Holder) Invalidate() {
	if err := h.Discard(); err != nil {
		h.logger.Warn("Failed to clear invalid credential", "error", err)
	}
}

// Discard clears the credential and notifies the OnInvalid watchers, as on
// sign-out. Watchers run even when storage fails.
func (h *Holder) Discard() error {
	err := h.Clear()

	h.mu.Lock()
	watchers := make([]func(), 0, len(h.watchers))
	for _, fn := range h.watchers {
		watchers = append(watchers, fn)
	}
	h.mu.Unlock()

	for _, fn := range watchers {
		fn()
	}
	return err
}

// OnInvalid registers fn to run whenever the credential is invalidated or discarded.
// The returned function removes the registration.
func (h *Holder) OnInvalid(fn func()) (cancel func()) {
	h.mu.Lock()
	id := h.nextWatcher
	h.nextWatcher++
	h.watchers[id] = fn
	h.mu.Unlock()

	return func() {
		h.mu.Lock()
		delete(h.watchers, id)
		h.mu.Unlock()
	}
}

// CookiePresent reports whether the mirror cookie is set and unexpired.
func (h *Holder) CookiePresent() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cookieValue != "" && h.now().Before(h.cookieExpires)
}

// Remirror rebuilds the cookie mirror from the authoritative credential,
// dropping the mirror when no credential is stored.
func (h *Holder) Remirror() {
	c, ok := h.Get()

	h.mu.Lock()
	defer h.mu.Unlock()
	if !ok {
		h.cookieValue = ""
		h.cookieExpires = time.Time{}
		return
	}
	h.cookieValue = c.Token()
	h.cookieExpires = h.now().Add(h.cookieTTL)
}

// Cookie returns the HTTP form of the mirror cookie, or nil when no credential is stored.
func (h *Holder) Cookie() *http.Cookie {
	c, ok := h.Get()
	if !ok {
		return nil
	}
	return &http.Cookie{
		Name:     CookieName,
		Value:    c.Token(),
		Path:     "/",
		MaxAge:   int(h.cookieTTL / time.Second),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}

// ExpiredCookie returns a cookie that removes the mirror from a browser.
func ExpiredCookie() *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}

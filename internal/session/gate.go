// Package session guards protected contexts: it decides whether a context may
// proceed and ends the session when the remote rejects the credential.
package session

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"taskflow/internal/credential"
)

// Paths the gate redirects to.
const (
	SignInPath = "/login"
	HomePath   = "/dashboard"
)

// State is the gate's position in Unchecked → Checking → {Authorized, Redirecting}.
type State int

const (
	Unchecked State = iota
	Checking
	Authorized
	Redirecting
)

func (s State) String() string {
	switch s {
	case Unchecked:
		return "unchecked"
	case Checking:
		return "checking"
	case Authorized:
		return "authorized"
	case Redirecting:
		return "redirecting"
	default:
		return "unknown"
	}
}

// Decision is the outcome of an entry check.
type Decision struct {
	State    State
	Redirect string
}

// Allowed reports whether the context may proceed.
func (d Decision) Allowed() bool {
	return d.State == Authorized
}

// CredentialHolder is the subset of credential.Holder the gate needs.
type CredentialHolder interface {
	Get() (credential.Credential, bool)
	Set(credential.Credential) error
	Discard() error
	Invalidate()
	OnInvalid(fn func()) (cancel func())
	CookiePresent() bool
	Remirror()
}

// Gate is the access-control checkpoint for protected contexts.
type Gate struct {
	holder CredentialHolder
	logger *slog.Logger

	// epoch advances whenever a session ends; work started in an older epoch
	// must not touch state of the new one.
	epoch atomic.Uint64

	mu     sync.Mutex
	state  State
	ctx    context.Context
	cancel context.CancelFunc
	stop   func()
}

// NewGate creates a gate over the given holder.
func NewGate(holder CredentialHolder, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Gate{
		holder: holder,
		logger: logger,
		state:  Unchecked,
	}
	g.ctx, g.cancel = context.WithCancel(context.Background())
	g.stop = holder.OnInvalid(g.endSession)
	return g
}

// Close detaches the gate from the holder.
func (g *Gate) Close() {
	g.stop()
	g.mu.Lock()
	g.cancel()
	g.mu.Unlock()
}

// State returns the current state.
func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Epoch identifies the current session.
func (g *Gate) Epoch() uint64 {
	return g.epoch.Load()
}

// Context is cancelled when the current session ends.
func (g *Gate) Context() context.Context {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ctx
}

// Enter checks a protected context. Without a credential the gate redirects to
// sign-in; with one it authorizes without any network round trip.
func (g *Gate) Enter() Decision {
	g.setState(Checking)

	if _, ok := g.holder.Get(); !ok {
		g.setState(Redirecting)
		return Decision{State: Redirecting, Redirect: SignInPath}
	}

	if !g.holder.CookiePresent() {
		g.holder.Remirror()
	}

	g.mu.Lock()
	if g.ctx.Err() != nil {
		g.ctx, g.cancel = context.WithCancel(context.Background())
	}
	g.state = Authorized
	g.mu.Unlock()

	return Decision{State: Authorized}
}

// Guest checks the sign-in context, which is closed to signed-in users.
func (g *Gate) Guest() Decision {
	if _, ok := g.holder.Get(); ok {
		return Decision{State: Redirecting, Redirect: HomePath}
	}
	return Decision{State: Unchecked}
}

// SignIn stores a freshly issued credential and authorizes the gate.
func (g *Gate) SignIn(c credential.Credential) error {
	if err := g.holder.Set(c); err != nil {
		return err
	}

	g.mu.Lock()
	if g.ctx.Err() != nil {
		g.ctx, g.cancel = context.WithCancel(context.Background())
	}
	g.state = Authorized
	g.mu.Unlock()

	return nil
}

// SignOut removes the credential from every storage location and ends the
// session. Observers are notified as on invalidation.
func (g *Gate) SignOut() error {
	g.endSession()
	return g.holder.Discard()
}

// Invalidate ends the session after the remote rejected the credential:
// the holder is cleared, the gate redirects, and queued work is aborted.
func (g *Gate) Invalidate(cause error) {
	if g.State() != Redirecting {
		g.logger.Info("Session credential rejected, redirecting to sign-in", "cause", cause)
	}
	// End the session before the holder notifies other observers so they
	// already see the new epoch.
	g.endSession()
	g.holder.Invalidate()
}

// OnInvalid registers fn to run when the credential is invalidated.
func (g *Gate) OnInvalid(fn func()) (cancel func()) {
	return g.holder.OnInvalid(fn)
}

func (g *Gate) endSession() {
	g.epoch.Add(1)

	g.mu.Lock()
	g.state = Redirecting
	g.cancel()
	g.mu.Unlock()
}

func (g *Gate) setState(s State) {
	g.mu.Lock()
	g.state = s
	g.mu.Unlock()
}

// Package identity resolves whether the visitor is anonymous or authenticated
// and persists the session id and account token that back that decision.
package identity

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"storefront/internal/model"
)

// Listener is notified after the active identity changes.
type Listener func(prev, next model.Identity)

// Resolver is the single writer of persisted identity state.
//
// The session id is generated lazily on first use and then kept for the
// lifetime of the store, including across login/logout: logout reverts to
// Anonymous with the same session id because guest orders are correlated by it.
//
// Resolver never fails. Persistence errors are logged and the in-memory
// identity still switches, so the current process stays usable.
type Resolver struct {
	store  Store
	logger *slog.Logger

	// Overridable for tests
	now          func() time.Time
	newSessionID func() string

	mu        sync.Mutex
	loaded    bool
	sessionID string
	token     string

	listenersMu sync.Mutex
	listeners   map[int]Listener
	nextID      int
}

// NewResolver creates a resolver over the given persisted store.
func NewResolver(store Store, logger *slog.Logger) *Resolver {
	return &Resolver{
		store:        store,
		logger:       logger,
		now:          time.Now,
		newSessionID: uuid.NewString,
		listeners:    make(map[int]Listener),
	}
}

// Current returns the active identity.
// An account token whose JWT exp has passed is dropped here, reverting to Anonymous.
func (r *Resolver) Current(ctx context.Context) model.Identity {
	r.mu.Lock()
	r.loadLocked(ctx)

	if r.token != "" {
		if claims, ok := ParseAccountClaims(r.token); ok && claims.Expired(r.now()) {
			prev := r.identityLocked()
			r.token = ""
			r.deleteLocked(ctx, KeyAccountToken)
			next := r.identityLocked()
			r.mu.Unlock()

			r.logger.InfoContext(ctx, "account token expired, reverting to anonymous",
				slog.Time("expired_at", claims.ExpiresAt),
			)
			r.notify(prev, next)
			return next
		}
	}

	id := r.identityLocked()
	r.mu.Unlock()
	return id
}

// SessionID returns the persisted session id, generating it if needed.
func (r *Resolver) SessionID(ctx context.Context) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loadLocked(ctx)
	return r.sessionID
}

// Claims returns the decoded account token claims when authenticated with a JWT.
func (r *Resolver) Claims(ctx context.Context) (AccountClaims, bool) {
	id := r.Current(ctx)
	if !id.IsAuthenticated() {
		return AccountClaims{}, false
	}
	return ParseAccountClaims(id.AccountToken)
}

// Login replaces the active identity with Authenticated.
// An empty token is ignored.
func (r *Resolver) Login(ctx context.Context, token string) {
	if token == "" {
		return
	}

	r.mu.Lock()
	r.loadLocked(ctx)
	prev := r.identityLocked()
	r.token = token
	if err := r.store.Set(ctx, KeyAccountToken, token); err != nil {
		r.logger.WarnContext(ctx, "persisting account token failed", slog.String("error", err.Error()))
	}
	next := r.identityLocked()
	r.mu.Unlock()

	if !prev.Equal(next) {
		r.notify(prev, next)
	}
}

// Logout clears the account token and reverts to Anonymous using the same session id.
func (r *Resolver) Logout(ctx context.Context) {
	r.mu.Lock()
	r.loadLocked(ctx)
	prev := r.identityLocked()
	r.token = ""
	r.deleteLocked(ctx, KeyAccountToken)
	next := r.identityLocked()
	r.mu.Unlock()

	if !prev.Equal(next) {
		r.notify(prev, next)
	}
}

// OnChange registers a listener for identity transitions.
// The returned function unregisters it; after it returns the listener is not called again.
func (r *Resolver) OnChange(l Listener) (unsubscribe func()) {
	r.listenersMu.Lock()
	id := r.nextID
	r.nextID++
	r.listeners[id] = l
	r.listenersMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.listenersMu.Lock()
			delete(r.listeners, id)
			r.listenersMu.Unlock()
		})
	}
}

// notify calls listeners in registration order, outside of r.mu.
func (r *Resolver) notify(prev, next model.Identity) {
	r.listenersMu.Lock()
	ids := make([]int, 0, len(r.listeners))
	for id := range r.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	ls := make([]Listener, 0, len(ids))
	for _, id := range ids {
		ls = append(ls, r.listeners[id])
	}
	r.listenersMu.Unlock()

	for _, l := range ls {
		l(prev, next)
	}
}

// loadLocked reads persisted state once and generates the session id if missing.
// When the read itself fails the stored id is unknown, not absent: a
// process-local id is used and nothing is written, so the stored id survives.
func (r *Resolver) loadLocked(ctx context.Context) {
	if r.loaded {
		return
	}
	r.loaded = true

	sid, ok, err := r.store.Get(ctx, KeySessionID)
	switch {
	case err != nil:
		r.logger.WarnContext(ctx, "reading session id failed, using a temporary one",
			slog.String("error", err.Error()))
		sid = r.newSessionID()
	case !ok || sid == "":
		sid = r.newSessionID()
		if err := r.store.Set(ctx, KeySessionID, sid); err != nil {
			r.logger.WarnContext(ctx, "persisting session id failed", slog.String("error", err.Error()))
		}
	}
	r.sessionID = sid

	token, _, err := r.store.Get(ctx, KeyAccountToken)
	if err != nil {
		r.logger.WarnContext(ctx, "reading account token failed", slog.String("error", err.Error()))
	}
	r.token = token
}

func (r *Resolver) deleteLocked(ctx context.Context, key string) {
	if err := r.store.Delete(ctx, key); err != nil {
		r.logger.WarnContext(ctx, "clearing persisted key failed",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
}

func (r *Resolver) identityLocked() model.Identity {
	if r.token != "" {
		return model.AuthenticatedIdentity(r.token, r.sessionID)
	}
	return model.AnonymousIdentity(r.sessionID)
}

// Package cart holds the client-side view of the active cart.
//
// The store never patches its snapshot. Every successful write is followed
// by a full re-fetch from the backend and the snapshot is replaced wholesale,
// so totals shown are always the server's. Identity changes trigger the same
// full reload; merging a guest cart into an account cart is left to the backend.
package cart

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"storefront/internal/identity"
	"storefront/internal/model"
)

// Backend is the subset of commerce.API the store drives.
type Backend interface {
	FetchCartSummary(ctx context.Context) (*model.CartSnapshot, error)
	AddItem(ctx context.Context, productID string, qty int) error
	UpdateItem(ctx context.Context, lineRef string, qty int) error
	RemoveItem(ctx context.Context, lineRef string) error
	ClearCart(ctx context.Context) error
}

// IdentitySource reports the active identity and announces changes.
// Implemented by identity.Resolver.
type IdentitySource interface {
	Current(ctx context.Context) model.Identity
	OnChange(l identity.Listener) (unsubscribe func())
}

// Listener receives every snapshot that replaces the current one.
type Listener func(model.CartSnapshot)

// Store is the long-lived cart view. Create one per process with New and
// release it with Close.
type Store struct {
	backend  Backend
	identity IdentitySource
	logger   *slog.Logger

	ctx    context.Context // parent of background reloads
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.RWMutex
	snapshot    model.CartSnapshot
	loaded      bool
	lastErr     error
	inFlight    int
	identityGen uint64
	closed      bool

	// dispatchMu orders snapshot replacement with listener delivery.
	dispatchMu sync.Mutex
	subsMu     sync.Mutex
	subs       map[int]*subscription
	nextSub    int

	stopIdentity func()
}

type subscription struct {
	mu     sync.Mutex
	active bool
	fn     Listener
}

// New creates a store and subscribes it to identity changes.
func New(backend Backend, ids IdentitySource, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Store{
		backend:  backend,
		identity: ids,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		snapshot: emptySnapshot(),
		subs:     make(map[int]*subscription),
	}
	s.stopIdentity = ids.OnChange(s.onIdentityChange)
	return s
}

// Close stops identity tracking and waits for background reloads to finish.
func (s *Store) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.stopIdentity()
	s.cancel()
	s.wg.Wait()
}

// Snapshot returns a copy of the current cart.
func (s *Store) Snapshot() model.CartSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshot.Clone()
}

// IsLoading reports whether any backend call is outstanding.
func (s *Store) IsLoading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.inFlight > 0
}

// LastError returns the error of the most recent failed action, or nil once
// a later reload succeeds.
func (s *Store) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastErr
}

// Loaded reports whether at least one snapshot has been fetched.
func (s *Store) Loaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loaded
}

// IsInCart reports whether productID has a line in the cart.
func (s *Store) IsInCart(productID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.snapshot.Find(productID)
	return ok
}

// QuantityOf returns the quantity of productID, or 0.
func (s *Store) QuantityOf(productID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.snapshot.Find(productID)
	if !ok {
		return 0
	}
	return item.Quantity
}

// IsEmpty reports whether the cart has no lines.
func (s *Store) IsEmpty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.snapshot.Items) == 0
}

// Subscribe registers fn for every future snapshot replacement.
// After unsubscribe returns, fn is never called again. Listeners run
// synchronously and must not call Store mutations or unsubscribe themselves.
func (s *Store) Subscribe(fn Listener) (unsubscribe func()) {
	sub := &subscription{active: true, fn: fn}

	s.subsMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = sub
	s.subsMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subsMu.Lock()
			delete(s.subs, id)
			s.subsMu.Unlock()

			sub.mu.Lock()
			sub.active = false
			sub.mu.Unlock()
		})
	}
}

// Load fetches the cart and replaces the snapshot.
func (s *Store) Load(ctx context.Context) error {
	s.begin()
	defer s.end()
	return s.refresh(ctx)
}

// AddItem adds qty of productID and reloads.
func (s *Store) AddItem(ctx context.Context, productID string, qty int) error {
	if productID == "" {
		return model.NewValidationError("product_id", "product is required")
	}
	if qty < 1 {
		return model.NewValidationError("quantity", "quantity must be at least 1")
	}
	if err := s.ensureLoaded(ctx); err != nil {
		return err
	}

	if item, ok := s.lineFor(ctx, productID); ok {
		if err := checkStock(item, item.Quantity+qty); err != nil {
			return err
		}
	}

	return s.mutate(ctx, func(ctx context.Context) error {
		return s.backend.AddItem(ctx, productID, qty)
	})
}

// UpdateQuantity sets the quantity of the line matching ref.
// A quantity of zero or less removes the line.
func (s *Store) UpdateQuantity(ctx context.Context, ref string, qty int) error {
	if qty <= 0 {
		return s.RemoveItem(ctx, ref)
	}
	if err := s.ensureLoaded(ctx); err != nil {
		return err
	}

	item, ok := s.lineFor(ctx, ref)
	if !ok {
		s.logger.InfoContext(ctx, "update skipped, no matching cart line", slog.String("ref", ref))
		return nil
	}
	if err := checkStock(item, qty); err != nil {
		return err
	}

	return s.mutate(ctx, func(ctx context.Context) error {
		return s.backend.UpdateItem(ctx, item.LineRef(), qty)
	})
}

// RemoveItem deletes the line matching ref. Removing a line that is not in
// the cart is a no-op.
func (s *Store) RemoveItem(ctx context.Context, ref string) error {
	if err := s.ensureLoaded(ctx); err != nil {
		return err
	}

	item, ok := s.lineFor(ctx, ref)
	if !ok {
		s.logger.InfoContext(ctx, "remove skipped, no matching cart line", slog.String("ref", ref))
		return nil
	}

	return s.mutate(ctx, func(ctx context.Context) error {
		return s.backend.RemoveItem(ctx, item.LineRef())
	})
}

// Clear removes every line and reloads.
func (s *Store) Clear(ctx context.Context) error {
	return s.mutate(ctx, s.backend.ClearCart)
}

// lineFor resolves ref against the current snapshot. Authenticated carts
// match the cart line id first; product id is the fallback and the only key
// for session carts.
func (s *Store) lineFor(ctx context.Context, ref string) (model.CartItem, bool) {
	if ref == "" {
		return model.CartItem{}, false
	}
	authenticated := s.identity.Current(ctx).IsAuthenticated()

	s.mu.RLock()
	defer s.mu.RUnlock()
	if authenticated {
		for _, item := range s.snapshot.Items {
			if item.CartLineID == ref {
				return item, true
			}
		}
	}
	return s.snapshot.Find(ref)
}

func checkStock(item model.CartItem, want int) error {
	if !item.TracksInventory || item.AvailableStock == nil {
		return nil
	}
	if want > *item.AvailableStock {
		return model.NewValidationError("quantity",
			fmt.Sprintf("only %d of %s left in stock", *item.AvailableStock, item.Name))
	}
	return nil
}

func (s *Store) ensureLoaded(ctx context.Context) error {
	if s.Loaded() {
		return nil
	}
	return s.Load(ctx)
}

// mutate runs op and, on success, re-fetches the full cart.
func (s *Store) mutate(ctx context.Context, op func(ctx context.Context) error) error {
	s.begin()
	defer s.end()

	if err := op(ctx); err != nil {
		s.setError(err)
		return err
	}
	return s.refresh(ctx)
}

// refresh fetches the cart and replaces the snapshot. A fetch that started
// before an identity change is discarded; the change's own reload follows.
func (s *Store) refresh(ctx context.Context) error {
	s.mu.RLock()
	gen := s.identityGen
	s.mu.RUnlock()

	snap, err := s.backend.FetchCartSummary(ctx)
	if err != nil {
		s.setError(err)
		return err
	}
	if snap == nil {
		err := model.NewInvalidPayloadError("empty cart summary")
		s.setError(err)
		return err
	}
	if !snap.Totals.Consistent() {
		err := model.NewInvalidPayloadError("cart totals are inconsistent")
		s.setError(err)
		return err
	}

	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()

	s.mu.Lock()
	if gen != s.identityGen {
		s.mu.Unlock()
		s.logger.DebugContext(ctx, "discarding cart fetched for previous identity")
		return nil
	}
	s.snapshot = snap.Clone()
	if s.snapshot.Items == nil {
		s.snapshot.Items = []model.CartItem{}
	}
	s.loaded = true
	s.lastErr = nil
	delivered := s.snapshot.Clone()
	s.mu.Unlock()

	s.deliver(delivered)
	return nil
}

func (s *Store) deliver(snap model.CartSnapshot) {
	s.subsMu.Lock()
	ids := make([]int, 0, len(s.subs))
	for id := range s.subs {
		ids = append(ids, id)
	}
	subs := make([]*subscription, 0, len(ids))
	sort.Ints(ids)
	for _, id := range ids {
		subs = append(subs, s.subs[id])
	}
	s.subsMu.Unlock()

	for _, sub := range subs {
		sub.mu.Lock()
		if sub.active {
			sub.fn(snap.Clone())
		}
		sub.mu.Unlock()
	}
}

// onIdentityChange drops the previous identity's snapshot and reloads in the background.
func (s *Store) onIdentityChange(prev, next model.Identity) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.identityGen++
	s.snapshot = emptySnapshot()
	s.loaded = false
	s.wg.Add(1)
	s.mu.Unlock()

	s.logger.Info("identity changed, reloading cart",
		slog.String("from", prev.Kind.String()),
		slog.String("to", next.Kind.String()),
	)

	s.begin()
	go func() {
		defer s.wg.Done()
		defer s.end()
		if err := s.refresh(s.ctx); err != nil && s.ctx.Err() == nil {
			s.logger.Warn("cart reload after identity change failed", slog.String("error", err.Error()))
		}
	}()
}

func (s *Store) begin() {
	s.mu.Lock()
	s.inFlight++
	s.mu.Unlock()
}

func (s *Store) end() {
	s.mu.Lock()
	s.inFlight--
	s.mu.Unlock()
}

func (s *Store) setError(err error) {
	s.mu.Lock()
	s.lastErr = err
	s.mu.Unlock()
}

func emptySnapshot() model.CartSnapshot {
	return model.CartSnapshot{
		Items:  []model.CartItem{},
		Totals: model.CartTotals{Currency: model.DefaultCurrency},
	}
}

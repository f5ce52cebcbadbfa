// Package cart mirrors the server-held shopping cart of the authenticated user.
//
// The held Cart is either nil (not fetched, or fetch failed) or a verbatim copy
// of the last applied server response. Totals and quantities are never computed
// locally; every mutation round-trips and replaces the snapshot wholesale.
package cart

import (
	"context"
	"fmt"
	"net/url"
	"sync"

	"go.uber.org/zap"

	"github.com/and161185/shopfront/internal/errs"
	"github.com/and161185/shopfront/internal/model"
	"github.com/and161185/shopfront/internal/notify"
)

// Client is the slice of the API client the store needs.
type Client interface {
	Get(ctx context.Context, path string, query url.Values, out any) error
	Post(ctx context.Context, path string, body, out any) error
	Put(ctx context.Context, path string, body, out any) error
	Delete(ctx context.Context, path string, out any) error
}

// Snapshot is an immutable view of the store.
type Snapshot struct {
	Cart    *model.Cart
	Loading bool
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(s *Store) { s.log = l } }

// Store is the single source of truth for "what is in the cart".
type Store struct {
	client Client
	log    *zap.Logger

	mu       sync.RWMutex
	cart     *model.Cart
	inflight int
	issued   uint64
	applied  uint64

	changes notify.Broadcaster[Snapshot]
}

// New constructs an empty Store.
func New(client Client, opts ...Option) *Store {
	s := &Store{client: client}
	for _, fn := range opts {
		fn(s)
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	return s
}

// Snapshot returns a deep copy of the held cart and the loading flag.
func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() Snapshot {
	return Snapshot{Cart: clone(s.cart), Loading: s.inflight > 0}
}

// Cart returns a copy of the held cart, or nil.
func (s *Store) Cart() *model.Cart { return s.Snapshot().Cart }

// Loading reports whether a request is in flight.
func (s *Store) Loading() bool { return s.Snapshot().Loading }

// ItemCount sums line quantities of the held snapshot, for badges.
func (s *Store) ItemCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cart == nil {
		return 0
	}
	n := 0
	for _, it := range s.cart.Items {
		n += it.Quantity
	}
	return n
}

// Subscribe returns a channel receiving snapshots on every change and a cancel func.
func (s *Store) Subscribe() (<-chan Snapshot, func()) { return s.changes.Subscribe() }

// Reset drops the held cart, e.g. after logout.
func (s *Store) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.issued++
	s.applied = s.issued
	s.cart = nil
	s.changes.Publish(s.snapshotLocked())
}

func (s *Store) begin() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.issued++
	s.inflight++
	s.changes.Publish(s.snapshotLocked())
	return s.issued
}

// finish ends an operation and, when set is true, installs c unless a
// later-issued operation already applied its response.
func (s *Store) finish(ticket uint64, set bool, c *model.Cart) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inflight--
	if set {
		if ticket > s.applied {
			s.applied = ticket
			s.cart = c
		} else {
			s.log.Debug("cart: stale response dropped", zap.Uint64("ticket", ticket), zap.Uint64("applied", s.applied))
		}
	}
	s.changes.Publish(s.snapshotLocked())
}

// FetchCart loads the current cart. Failure (e.g. unauthenticated) sets the
// cart to nil and is not returned: an absent cart is a valid display state.
func (s *Store) FetchCart(ctx context.Context) *model.Cart {
	t := s.begin()
	var c model.Cart
	err := s.client.Get(ctx, "/cart", nil, &c)
	switch {
	case ctx.Err() != nil:
		s.finish(t, false, nil)
		return s.Cart()
	case err != nil:
		s.log.Debug("cart: fetch failed", zap.Error(err))
		s.finish(t, true, nil)
		return nil
	}
	s.finish(t, true, &c)
	return clone(&c)
}

// AddItem adds quantity of productID (or increments an existing line).
func (s *Store) AddItem(ctx context.Context, productID string, quantity int) (*model.Cart, error) {
	if productID == "" {
		return nil, fmt.Errorf("%w: empty product id", errs.ErrValidation)
	}
	if quantity < 1 {
		return nil, fmt.Errorf("%w: quantity must be a positive integer", errs.ErrValidation)
	}
	return s.mutate(ctx, func(out *model.Cart) error {
		return s.client.Post(ctx, "/cart/items", model.AddCartItem{ProductID: productID, Quantity: quantity}, out)
	})
}

// UpdateItem sets the exact quantity of a line. No floor is imposed here:
// what a zero or negative quantity means is up to the server.
func (s *Store) UpdateItem(ctx context.Context, productID string, quantity int) (*model.Cart, error) {
	return s.mutate(ctx, func(out *model.Cart) error {
		return s.client.Put(ctx, itemPath(productID), model.UpdateCartItem{Quantity: quantity}, out)
	})
}

// RemoveItem deletes a line.
func (s *Store) RemoveItem(ctx context.Context, productID string) (*model.Cart, error) {
	return s.mutate(ctx, func(out *model.Cart) error {
		return s.client.Delete(ctx, itemPath(productID), out)
	})
}

// mutate runs a user-initiated change; failures are returned for display and
// leave the snapshot as it was.
func (s *Store) mutate(ctx context.Context, call func(out *model.Cart) error) (*model.Cart, error) {
	t := s.begin()
	var c model.Cart
	err := call(&c)
	if ctxErr := ctx.Err(); ctxErr != nil {
		s.finish(t, false, nil)
		return nil, ctxErr
	}
	if err != nil {
		s.finish(t, false, nil)
		return nil, err
	}
	s.finish(t, true, &c)
	return clone(&c), nil
}

func itemPath(productID string) string { return "/cart/items/" + url.PathEscape(productID) }

func clone(c *model.Cart) *model.Cart {
	if c == nil {
		return nil
	}
	out := *c
	if c.Items != nil {
		out.Items = make([]model.CartItem, len(c.Items))
		for i, it := range c.Items {
			out.Items[i] = it
			if it.Product != nil {
				p := *it.Product
				out.Items[i].Product = &p
			}
		}
	}
	return &out
}

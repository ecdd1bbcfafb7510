// Package service provides the cart store: the component that owns the cart
// line items, keeps a durable mirror of them and tells collaborators about changes.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"

	carterrors "github.com/abgdnv/bakery/internal/cart/errors"
	"github.com/abgdnv/bakery/internal/cart/notify"
	"github.com/abgdnv/bakery/internal/cart/store"
	"github.com/shopspring/decimal"
)

// DefaultStorageKey is the storage slot the cart is persisted under.
const DefaultStorageKey = "bakeryCart"

// CartStore defines the command and query contract of the shopping cart.
//
// Mutations either fully apply or fully reject. When a mutation applies but
// persisting it fails, the returned error wraps ErrPersistence and the
// in-memory cart keeps the change.
type CartStore interface {
	// AddItem adds quantity units of the item, merging with an existing line for the same id.
	// Returns the updated total item count.
	AddItem(ctx context.Context, id, name string, unitPrice float64, quantity int) (int, error)

	// RemoveItem deletes the line with the given id. Unknown ids are a no-op.
	RemoveItem(ctx context.Context, id string) (int, error)

	// SetQuantity sets the quantity of an existing line; quantity <= 0 removes it.
	// Returns ErrNotFound for unknown ids.
	SetQuantity(ctx context.Context, id string, quantity int) (int, error)

	// Replace swaps the whole cart for items, e.g. when importing a saved cart.
	Replace(ctx context.Context, items []LineItem) (int, error)

	// Clear empties the cart and persists the empty state.
	Clear(ctx context.Context) error

	// Load restores the cart from storage. Absent or malformed data yields an empty cart.
	Load(ctx context.Context) error

	// Save persists the current cart.
	Save(ctx context.Context) error

	TotalItemCount() int
	TotalPrice() decimal.Decimal
	Items() []LineItem
	Summary() Summary

	// Subscribe registers fn to receive a Summary after every change.
	// The returned function removes the subscription.
	Subscribe(fn func(Summary)) (unsubscribe func())
}

// Option configures a CartStore.
type Option func(*cartStore)

// WithStorageKey overrides DefaultStorageKey.
func WithStorageKey(key string) Option {
	return func(s *cartStore) {
		if key = strings.TrimSpace(key); key != "" {
			s.key = key
		}
	}
}

// WithNotifier sets the collaborator that receives add-to-cart toasts.
func WithNotifier(n notify.Notifier) Option {
	return func(s *cartStore) {
		if n != nil {
			s.notifier = n
		}
	}
}

// cartStore implements CartStore.
type cartStore struct {
	mu       sync.RWMutex
	items    []LineItem
	storage  store.Storage
	notifier notify.Notifier
	logger   *slog.Logger
	key      string

	subMu       sync.Mutex
	subscribers map[int]func(Summary)
	nextSubID   int
}

// NewCartStore creates an empty CartStore backed by storage. Call Load to restore a saved cart.
func NewCartStore(storage store.Storage, logger *slog.Logger, opts ...Option) CartStore {
	if logger == nil {
		logger = slog.Default()
	}
	s := &cartStore{
		storage:     storage,
		notifier:    notify.Nop{},
		logger:      logger.With("component", "cart_store"),
		key:         DefaultStorageKey,
		subscribers: make(map[int]func(Summary)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddItem adds an item to the cart or increments the quantity of an existing one.
func (s *cartStore) AddItem(ctx context.Context, id, name string, unitPrice float64, quantity int) (int, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return s.TotalItemCount(), fmt.Errorf("%w: id is required", carterrors.ErrInvalidArgument)
	}
	if quantity < 1 {
		return s.TotalItemCount(), fmt.Errorf("%w: quantity must be positive, got %d", carterrors.ErrInvalidArgument, quantity)
	}
	if !validPrice(unitPrice) {
		return s.TotalItemCount(), fmt.Errorf("%w: unit price must be a non-negative finite number, got %v", carterrors.ErrInvalidArgument, unitPrice)
	}

	s.mu.Lock()
	if i := s.indexOf(id); i >= 0 {
		if s.items[i].Quantity > math.MaxInt-quantity {
			count := countItems(s.items)
			s.mu.Unlock()
			return count, fmt.Errorf("%w: quantity of %q would overflow", carterrors.ErrInvalidArgument, id)
		}
		s.items[i].Quantity += quantity
	} else {
		s.items = append(s.items, LineItem{
			ID:        id,
			Name:      name,
			UnitPrice: decimal.NewFromFloat(unitPrice),
			Quantity:  quantity,
		})
	}
	persistErr := s.persistLocked(ctx)
	summary := summarize(s.items)
	s.mu.Unlock()

	s.logger.DebugContext(ctx, "Item added to cart", "ID", id, "quantity", quantity, "item_count", summary.ItemCount)
	s.publish(summary)
	if persistErr != nil {
		s.notifier.Notify(ctx, notify.Warning(fmt.Sprintf("%s added to cart, but it could not be saved", name)))
		return summary.ItemCount, persistErr
	}
	s.notifier.Notify(ctx, notify.Success(fmt.Sprintf("%s added to cart!", name)))
	return summary.ItemCount, nil
}

// RemoveItem deletes the item with the given id, if present.
func (s *cartStore) RemoveItem(ctx context.Context, id string) (int, error) {
	id = strings.TrimSpace(id)

	s.mu.Lock()
	if i := s.indexOf(id); i >= 0 {
		s.items = append(s.items[:i], s.items[i+1:]...)
	}
	persistErr := s.persistLocked(ctx)
	summary := summarize(s.items)
	s.mu.Unlock()

	s.logger.DebugContext(ctx, "Item removed from cart", "ID", id, "item_count", summary.ItemCount)
	s.publish(summary)
	return summary.ItemCount, persistErr
}

// SetQuantity sets the quantity of an existing item; a non-positive quantity removes it.
func (s *cartStore) SetQuantity(ctx context.Context, id string, quantity int) (int, error) {
	id = strings.TrimSpace(id)

	s.mu.Lock()
	i := s.indexOf(id)
	if i < 0 {
		count := countItems(s.items)
		s.mu.Unlock()
		return count, fmt.Errorf("%w: %s", carterrors.ErrNotFound, id)
	}
	if quantity <= 0 {
		s.items = append(s.items[:i], s.items[i+1:]...)
	} else {
		s.items[i].Quantity = quantity
	}
	persistErr := s.persistLocked(ctx)
	summary := summarize(s.items)
	s.mu.Unlock()

	s.logger.DebugContext(ctx, "Item quantity set", "ID", id, "quantity", quantity, "item_count", summary.ItemCount)
	s.publish(summary)
	return summary.ItemCount, persistErr
}

// Replace swaps the cart contents for items after checking the cart invariants.
func (s *cartStore) Replace(ctx context.Context, items []LineItem) (int, error) {
	next := make([]LineItem, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		item.ID = strings.TrimSpace(item.ID)
		if item.ID == "" {
			return s.TotalItemCount(), fmt.Errorf("%w: id is required", carterrors.ErrInvalidArgument)
		}
		if item.Quantity < 1 || item.UnitPrice.IsNegative() {
			return s.TotalItemCount(), fmt.Errorf("%w: item %q has an invalid price or quantity", carterrors.ErrInvalidArgument, item.ID)
		}
		if _, dup := seen[item.ID]; dup {
			return s.TotalItemCount(), fmt.Errorf("%w: duplicate id %q", carterrors.ErrInvalidArgument, item.ID)
		}
		seen[item.ID] = struct{}{}
		next = append(next, item)
	}

	s.mu.Lock()
	s.items = next
	persistErr := s.persistLocked(ctx)
	summary := summarize(s.items)
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "Cart replaced", "lines", len(summary.Items), "item_count", summary.ItemCount)
	s.publish(summary)
	return summary.ItemCount, persistErr
}

// Clear empties the cart and persists the empty state.
func (s *cartStore) Clear(ctx context.Context) error {
	s.mu.Lock()
	s.items = nil
	persistErr := s.persistLocked(ctx)
	summary := summarize(s.items)
	s.mu.Unlock()

	s.logger.DebugContext(ctx, "Cart cleared")
	s.publish(summary)
	return persistErr
}

// Load restores the cart from storage.
// A storage read failure leaves an empty cart and is reported as ErrPersistence.
func (s *cartStore) Load(ctx context.Context) error {
	s.mu.Lock()
	payload, found, err := s.storage.Get(ctx, s.key)
	var loadErr error
	switch {
	case err != nil:
		s.items = nil
		loadErr = fmt.Errorf("%w: read %q: %w", carterrors.ErrPersistence, s.key, err)
	case !found:
		s.items = nil
	default:
		items, decodeErr := DecodeItems(payload)
		if decodeErr != nil {
			s.logger.WarnContext(ctx, "Discarding unreadable saved cart", "key", s.key, "error", decodeErr)
			items = nil
		}
		s.items = items
	}
	summary := summarize(s.items)
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "Cart loaded", "key", s.key, "found", found, "lines", len(summary.Items), "item_count", summary.ItemCount)
	s.publish(summary)
	return loadErr
}

// Save persists the current cart.
func (s *cartStore) Save(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persistLocked(ctx)
}

// TotalItemCount returns the sum of quantities across all items.
func (s *cartStore) TotalItemCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return countItems(s.items)
}

// TotalPrice returns the sum of unit price × quantity across all items.
func (s *cartStore) TotalPrice() decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := decimal.Zero
	for _, item := range s.items {
		total = total.Add(item.Subtotal())
	}
	return total
}

// Items returns a copy of the line items in insertion order.
func (s *cartStore) Items() []LineItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]LineItem, len(s.items))
	copy(out, s.items)
	return out
}

// Summary returns the derived view of the cart.
func (s *cartStore) Summary() Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return summarize(s.items)
}

// Subscribe registers fn for change notifications. A nil fn is ignored.
func (s *cartStore) Subscribe(fn func(Summary)) func() {
	if fn == nil {
		return func() {}
	}
	s.subMu.Lock()
	defer s.subMu.Unlock()
	id := s.nextSubID
	s.nextSubID++
	s.subscribers[id] = fn
	return func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		delete(s.subscribers, id)
	}
}

// publish delivers summary to all subscribers. Must be called without s.mu held,
// subscribers are free to query the store.
func (s *cartStore) publish(summary Summary) {
	s.subMu.Lock()
	fns := make([]func(Summary), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()

	for _, fn := range fns {
		fn(summary)
	}
}

// persistLocked writes the cart to storage. Caller must hold s.mu.
func (s *cartStore) persistLocked(ctx context.Context) error {
	payload, err := EncodeItems(s.items)
	if err != nil {
		return fmt.Errorf("%w: %w", carterrors.ErrPersistence, err)
	}
	if err := s.storage.Set(ctx, s.key, payload); err != nil {
		if errors.Is(err, store.ErrStorageUnavailable) {
			s.logger.WarnContext(ctx, "Cart storage unavailable", "key", s.key)
		}
		return fmt.Errorf("%w: write %q: %w", carterrors.ErrPersistence, s.key, err)
	}
	return nil
}

// indexOf returns the position of the item with id, or -1. Caller must hold s.mu.
func (s *cartStore) indexOf(id string) int {
	for i := range s.items {
		if s.items[i].ID == id {
			return i
		}
	}
	return -1
}

func countItems(items []LineItem) int {
	count := 0
	for _, item := range items {
		count += item.Quantity
	}
	return count
}

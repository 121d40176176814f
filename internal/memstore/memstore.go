// Package memstore provides in-process implementations of the domain
// repositories. It backs the "memory" store mode used for local development
// and unit tests; it is not shared between processes.
package memstore

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xenking/qrmenu/internal/domain/menu"
	"github.com/xenking/qrmenu/internal/domain/order"
	"github.com/xenking/qrmenu/internal/domain/profile"
)

var (
	_ order.Counter      = (*Counter)(nil)
	_ order.Repository   = (*Orders)(nil)
	_ menu.Repository    = (*Menus)(nil)
	_ profile.Repository = (*Profiles)(nil)
)

// CounterKey returns the bucket key of a restaurant's day.
func CounterKey(restaurantID, day string) string {
	return restaurantID + "_" + day
}

// Counter issues order numbers with a compare-and-swap loop per bucket.
type Counter struct {
	buckets sync.Map // string -> *atomic.Int64
}

// NewCounter returns an empty Counter.
func NewCounter() *Counter {
	return &Counter{}
}

// NextOrderNumber increments the (restaurantID, day) bucket by one and
// returns the new value.
func (c *Counter) NextOrderNumber(ctx context.Context, restaurantID, day string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("%w: %w", order.ErrCounterUnavailable, err)
	}
	v, _ := c.buckets.LoadOrStore(CounterKey(restaurantID, day), new(atomic.Int64))
	n := v.(*atomic.Int64)
	for {
		cur := n.Load()
		if n.CompareAndSwap(cur, cur+1) {
			return int(cur + 1), nil
		}
	}
}

// Count returns the current value of a bucket; absent buckets are 0.
func (c *Counter) Count(restaurantID, day string) int {
	v, ok := c.buckets.Load(CounterKey(restaurantID, day))
	if !ok {
		return 0
	}
	return int(v.(*atomic.Int64).Load())
}

// Orders stores orders in a map.
type Orders struct {
	mu     sync.RWMutex
	orders map[string]*order.Order
}

// NewOrders returns an empty order store.
func NewOrders() *Orders {
	return &Orders{orders: make(map[string]*order.Order)}
}

// Create persists a copy of o.
func (s *Orders) Create(_ context.Context, o *order.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orders[o.ID]; ok {
		return order.ErrWriteConflict
	}
	stored := o.Clone()
	stored.Version = max(stored.Version, 1)
	s.orders[o.ID] = stored
	return nil
}

// Get returns a copy of the stored order.
func (s *Orders) Get(_ context.Context, id string) (*order.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	return o.Clone(), nil
}

// UpdateStatus sets the status if it still equals from and bumps the version.
func (s *Orders) UpdateStatus(_ context.Context, id string, from, to order.Status, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return 0, order.ErrNotFound
	}
	if o.Status != from {
		return 0, order.ErrStaleStatus
	}
	o.Status = to
	o.UpdatedAt = at
	o.Version++
	return o.Version, nil
}

// ListByRestaurant returns copies of the matching orders.
func (s *Orders) ListByRestaurant(_ context.Context, restaurantID string, f order.Filter) ([]*order.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*order.Order
	for _, o := range s.orders {
		if o.RestaurantID == restaurantID && f.Match(o) {
			out = append(out, o.Clone())
		}
	}
	return out, nil
}

// Menus stores one menu per restaurant.
type Menus struct {
	mu    sync.RWMutex
	menus map[string]*menu.Menu
}

// NewMenus returns an empty menu store.
func NewMenus() *Menus {
	return &Menus{menus: make(map[string]*menu.Menu)}
}

func cloneMenu(m *menu.Menu) *menu.Menu {
	c := *m
	c.Categories = append([]menu.Category(nil), m.Categories...)
	c.Items = append([]menu.Item(nil), m.Items...)
	return &c
}

// Get returns a copy of the restaurant's menu.
func (s *Menus) Get(_ context.Context, restaurantID string) (*menu.Menu, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.menus[restaurantID]
	if !ok {
		return nil, menu.ErrNotFound
	}
	return cloneMenu(m), nil
}

// GetItems returns the items whose IDs are listed.
func (s *Menus) GetItems(_ context.Context, restaurantID string, ids []string) ([]menu.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.menus[restaurantID]
	if !ok {
		return nil, menu.ErrNotFound
	}
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	var out []menu.Item
	for _, it := range m.Items {
		if _, ok := want[it.ID]; ok {
			out = append(out, it)
		}
	}
	return out, nil
}

// Save replaces the restaurant's menu.
func (s *Menus) Save(_ context.Context, m *menu.Menu) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.menus[m.RestaurantID] = cloneMenu(m)
	return nil
}

// Profiles stores one profile per restaurant.
type Profiles struct {
	mu       sync.RWMutex
	profiles map[string]profile.Profile
}

// NewProfiles returns an empty profile store.
func NewProfiles() *Profiles {
	return &Profiles{profiles: make(map[string]profile.Profile)}
}

// Get returns a copy of the stored profile.
func (s *Profiles) Get(_ context.Context, restaurantID string) (*profile.Profile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.profiles[restaurantID]
	if !ok {
		return nil, profile.ErrNotFound
	}
	return &p, nil
}

// Save replaces the restaurant's profile.
func (s *Profiles) Save(_ context.Context, p *profile.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.profiles[p.RestaurantID] = *p
	return nil
}

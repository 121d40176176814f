package live

import (
	"sync"

	"github.com/xenking/qrmenu/internal/domain/order"
)

// member is one registration in a hub index.
type member struct {
	push func(order.Event)
}

type index map[string]map[*member]struct{}

// Hub routes order events to in-process subscribers keyed by order id and
// by restaurant id.
type Hub struct {
	mu           sync.RWMutex
	byOrder      index
	byRestaurant index
}

// NewHub returns an empty Hub.
func NewHub() *Hub {
	return &Hub{
		byOrder:      make(index),
		byRestaurant: make(index),
	}
}

// Dispatch hands ev to every subscriber of its order and restaurant.
func (h *Hub) Dispatch(ev order.Event) {
	if ev.Order == nil {
		return
	}

	h.mu.RLock()
	targets := make([]*member, 0, len(h.byOrder[ev.Order.ID])+len(h.byRestaurant[ev.Order.RestaurantID]))
	for m := range h.byOrder[ev.Order.ID] {
		targets = append(targets, m)
	}
	for m := range h.byRestaurant[ev.Order.RestaurantID] {
		targets = append(targets, m)
	}
	h.mu.RUnlock()

	for _, m := range targets {
		// Each subscriber gets its own copy.
		m.push(order.Event{Type: ev.Type, Order: ev.Order.Clone(), Previous: ev.Previous})
	}
}

// Subscribers returns the number of registrations.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var n int
	for _, set := range h.byOrder {
		n += len(set)
	}
	for _, set := range h.byRestaurant {
		n += len(set)
	}
	return n
}

// register adds push under key and returns the matching unregister func.
func (h *Hub) register(idx index, key string, push func(order.Event)) (unregister func()) {
	m := &member{push: push}

	h.mu.Lock()
	set, ok := idx[key]
	if !ok {
		set = make(map[*member]struct{})
		idx[key] = set
	}
	set[m] = struct{}{}
	h.mu.Unlock()

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()

		set := idx[key]
		delete(set, m)
		if len(set) == 0 {
			delete(idx, key)
		}
	}
}

// SubscribeRestaurant registers fn for every event of a restaurant's orders.
func (h *Hub) SubscribeRestaurant(restaurantID string, fn func(order.Event)) *Subscription {
	return h.subscribeRestaurant(restaurantID, fn, nil)
}

func (h *Hub) subscribeRestaurant(restaurantID string, fn func(order.Event), onCancel func()) *Subscription {
	q := newQueue(fn)
	unregister := h.register(h.byRestaurant, restaurantID, q.push)
	q.onCancel = func() {
		unregister()
		if onCancel != nil {
			onCancel()
		}
	}
	q.start()
	return q.subscription()
}

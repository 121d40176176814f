package live

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"

	"github.com/xenking/qrmenu/internal/domain/order"
)

var _ order.Publisher = (*Store)(nil)

// Update is one delivery to an order subscriber. Exactly one of Order and
// Err is set; Err is order.ErrNotFound when the order does not exist.
type Update struct {
	Order *order.Order
	Err   error
}

// Broadcaster forwards events to other service instances. Events it
// accepts come back through Hub.Dispatch on every instance, this one
// included.
type Broadcaster interface {
	Publish(ctx context.Context, ev order.Event) error
}

// OrderReader is the point read used to prime a subscription.
type OrderReader interface {
	Get(ctx context.Context, id string) (*order.Order, error)
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithBroadcaster routes published events through b instead of the local
// hub.
func WithBroadcaster(b Broadcaster) StoreOption {
	return func(s *Store) { s.remote = b }
}

// WithMeterProvider enables subscription metrics.
func WithMeterProvider(mp metric.MeterProvider) StoreOption {
	return func(s *Store) { s.meterProvider = mp }
}

// Store combines point reads with hub events to provide live order
// subscriptions.
type Store struct {
	orders OrderReader
	hub    *Hub
	remote Broadcaster

	meterProvider metric.MeterProvider
	active        metric.Int64UpDownCounter
}

// NewStore creates a Store reading orders from r and routing events
// through hub.
func NewStore(r OrderReader, hub *Hub, opts ...StoreOption) (*Store, error) {
	s := &Store{
		orders:        r,
		hub:           hub,
		meterProvider: noop.NewMeterProvider(),
	}
	for _, o := range opts {
		o(s)
	}

	var err error
	s.active, err = s.meterProvider.Meter("github.com/xenking/qrmenu/internal/live").
		Int64UpDownCounter("live.subscriptions", metric.WithDescription("Open live subscriptions"))
	if err != nil {
		return nil, errors.Wrap(err, "live.subscriptions")
	}
	return s, nil
}

// Hub returns the underlying hub.
func (s *Store) Hub() *Hub {
	return s.hub
}

// Publish implements order.Publisher. With a broadcaster configured the
// event travels through it; if that fails it is still dispatched locally so
// subscribers on this instance stay current.
func (s *Store) Publish(ctx context.Context, ev order.Event) error {
	if s.remote == nil {
		s.hub.Dispatch(ev)
		return nil
	}
	if err := s.remote.Publish(ctx, ev); err != nil {
		s.hub.Dispatch(ev)
		return errors.Wrap(err, "broadcast")
	}
	return nil
}

// Subscribe registers fn for orderID. fn is called first with the current
// state of the order (or order.ErrNotFound, or the read error) and then
// after every committed change. Updates never move an order backwards: an
// event whose version is not above the last delivered one is skipped, which
// also drops duplicates arriving through more than one path.
//
// The subscription ends when Cancel is called or ctx is done.
func (s *Store) Subscribe(ctx context.Context, orderID string, fn func(Update)) *Subscription {
	var last *order.Order
	q := newQueue(func(u Update) {
		if u.Order != nil {
			if last != nil && u.Order.Version <= last.Version {
				return
			}
			last = u.Order
		}
		fn(u)
	})

	// Register before reading, so no change committed after the read can be
	// missed. Events that raced with the read queue up behind it.
	unregister := s.hub.register(s.hub.byOrder, orderID, func(ev order.Event) {
		q.push(Update{Order: ev.Order})
	})
	s.active.Add(ctx, 1)
	q.onCancel = func() {
		unregister()
		s.active.Add(context.Background(), -1)
	}

	initial := Update{}
	o, err := s.orders.Get(ctx, orderID)
	switch {
	case err == nil:
		initial.Order = o
	case errors.Is(err, order.ErrNotFound):
		initial.Err = order.ErrNotFound
	default:
		zctx.From(ctx).Warn("Prime order subscription", zap.String("order_id", orderID), zap.Error(err))
		initial.Err = err
	}
	q.pushFront(initial)
	q.start()

	return withContext(ctx, q.subscription())
}

// SubscribeRestaurant registers fn for every change to the restaurant's
// orders until Cancel is called or ctx is done.
func (s *Store) SubscribeRestaurant(ctx context.Context, restaurantID string, fn func(order.Event)) *Subscription {
	s.active.Add(ctx, 1)
	sub := s.hub.subscribeRestaurant(restaurantID, fn, func() {
		s.active.Add(context.Background(), -1)
	})
	return withContext(ctx, sub)
}

// withContext cancels sub when ctx is done.
func withContext(ctx context.Context, sub *Subscription) *Subscription {
	stop := context.AfterFunc(ctx, sub.Cancel)
	return &Subscription{
		cancel: func() {
			stop()
			sub.Cancel()
		},
		done: sub.done,
	}
}

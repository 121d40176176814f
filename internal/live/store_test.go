package live

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/qrmenu/internal/domain/menu"
	"github.com/xenking/qrmenu/internal/domain/order"
	"github.com/xenking/qrmenu/internal/memstore"
)

const waitTimeout = 2 * time.Second

type mockReader struct {
	mu     sync.Mutex
	orders map[string]*order.Order
	err    error
}

func (m *mockReader) Get(_ context.Context, id string) (*order.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.err != nil {
		return nil, m.err
	}
	o, ok := m.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	return o.Clone(), nil
}

type mockBroadcaster struct {
	events []order.Event
	err    error
}

func (m *mockBroadcaster) Publish(_ context.Context, ev order.Event) error {
	m.events = append(m.events, ev)
	return m.err
}

var base = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func testOrder(status order.Status, version int) *order.Order {
	return &order.Order{
		ID:           "o-1",
		RestaurantID: "R1",
		Number:       1,
		Status:       status,
		CreatedAt:    base,
		UpdatedAt:    base,
		Version:      version,
	}
}

func newTestStore(t *testing.T, r OrderReader, opts ...StoreOption) *Store {
	t.Helper()
	s, err := NewStore(r, NewHub(), opts...)
	require.NoError(t, err)
	return s
}

func collect[T any]() (chan T, func(T)) {
	ch := make(chan T, 16)
	return ch, func(v T) { ch <- v }
}

func next[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(waitTimeout):
		t.Fatal("timed out waiting for delivery")
	}
	var zero T
	return zero
}

func assertQuiet[T any](t *testing.T, ch <-chan T) {
	t.Helper()
	select {
	case v := <-ch:
		t.Fatalf("unexpected delivery: %+v", v)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestStore_SubscribeNotFound(t *testing.T) {
	s := newTestStore(t, &mockReader{})
	ch, fn := collect[Update]()

	sub := s.Subscribe(context.Background(), "missing", fn)
	defer sub.Cancel()

	u := next(t, ch)
	require.ErrorIs(t, u.Err, order.ErrNotFound)
	assert.Nil(t, u.Order)
}

func TestStore_SubscribeLoadError(t *testing.T) {
	s := newTestStore(t, &mockReader{err: errors.New("connection refused")})
	ch, fn := collect[Update]()

	sub := s.Subscribe(context.Background(), "o-1", fn)
	defer sub.Cancel()

	u := next(t, ch)
	require.Error(t, u.Err)
	assert.NotErrorIs(t, u.Err, order.ErrNotFound)
}

func TestStore_SubscribeDeliversInitialThenChanges(t *testing.T) {
	r := &mockReader{orders: map[string]*order.Order{"o-1": testOrder(order.StatusReceived, 1)}}
	s := newTestStore(t, r)
	ch, fn := collect[Update]()

	sub := s.Subscribe(context.Background(), "o-1", fn)
	defer sub.Cancel()

	u := next(t, ch)
	require.NoError(t, u.Err)
	assert.Equal(t, order.StatusReceived, u.Order.Status)

	for i, st := range []order.Status{order.StatusOngoing, order.StatusFinishing, order.StatusServed} {
		o := testOrder(st, i+2)
		require.NoError(t, s.Publish(context.Background(), order.Event{Type: order.EventStatusChanged, Order: o}))
	}
	assert.Equal(t, order.StatusOngoing, next(t, ch).Order.Status)
	assert.Equal(t, order.StatusFinishing, next(t, ch).Order.Status)
	assert.Equal(t, order.StatusServed, next(t, ch).Order.Status)
}

func TestStore_SubscribeSkipsStaleEvents(t *testing.T) {
	current := testOrder(order.StatusFinishing, 3)
	r := &mockReader{orders: map[string]*order.Order{"o-1": current}}
	s := newTestStore(t, r)
	ch, fn := collect[Update]()

	sub := s.Subscribe(context.Background(), "o-1", fn)
	defer sub.Cancel()
	assert.Equal(t, order.StatusFinishing, next(t, ch).Order.Status)

	// An older write and a duplicate of the current state.
	s.Hub().Dispatch(order.Event{Type: order.EventStatusChanged, Order: testOrder(order.StatusOngoing, 2)})
	s.Hub().Dispatch(order.Event{Type: order.EventStatusChanged, Order: current})
	assertQuiet(t, ch)

	s.Hub().Dispatch(order.Event{Type: order.EventStatusChanged, Order: testOrder(order.StatusOnTheWay, 4)})
	assert.Equal(t, order.StatusOnTheWay, next(t, ch).Order.Status)
}

func TestStore_WritesFromSkewedClocks(t *testing.T) {
	ctx := context.Background()
	orders := memstore.NewOrders()
	menus := memstore.NewMenus()
	require.NoError(t, menus.Save(ctx, &menu.Menu{
		RestaurantID: "R1",
		Categories:   []menu.Category{{ID: "mains", Name: "Mains"}},
		Items: []menu.Item{
			{ID: "burger", CategoryID: "mains", Name: "Burger", Price: decimal.RequireFromString("8.99"), Available: true},
		},
	}))
	s := newTestStore(t, orders)
	counter := memstore.NewCounter()

	// Two instances sharing the store, the second one's clock half a second
	// behind the first.
	instance := func(now time.Time) *order.Service {
		svc, err := order.NewService(menus, counter, orders, s, order.WithClock(func() time.Time { return now }))
		require.NoError(t, err)
		return svc
	}
	ahead := instance(base)
	behind := instance(base.Add(-500 * time.Millisecond))

	o, err := ahead.PlaceOrder(ctx, order.PlaceOrderRequest{
		RestaurantID:       "R1",
		CustomerIdentifier: "Table 1",
		Items:              []order.LineRequest{{MenuItemID: "burger", Quantity: 1}},
	})
	require.NoError(t, err)

	ch, fn := collect[Update]()
	sub := s.Subscribe(ctx, o.ID, fn)
	defer sub.Cancel()
	assert.Equal(t, order.StatusReceived, next(t, ch).Order.Status)

	_, err = ahead.UpdateStatus(ctx, "R1", o.ID, order.StatusOngoing)
	require.NoError(t, err)
	assert.Equal(t, order.StatusOngoing, next(t, ch).Order.Status)

	_, err = behind.UpdateStatus(ctx, "R1", o.ID, order.StatusFinishing)
	require.NoError(t, err)
	u := next(t, ch)
	require.NoError(t, u.Err)
	assert.Equal(t, order.StatusFinishing, u.Order.Status)
	assert.Equal(t, 3, u.Order.Version)
	assert.True(t, u.Order.UpdatedAt.Before(base), "clock skew is visible in the timestamp only")
}

func TestStore_CancelStopsDelivery(t *testing.T) {
	r := &mockReader{orders: map[string]*order.Order{"o-1": testOrder(order.StatusReceived, 1)}}
	s := newTestStore(t, r)
	ch, fn := collect[Update]()

	sub := s.Subscribe(context.Background(), "o-1", fn)
	next(t, ch)
	require.Equal(t, 1, s.Hub().Subscribers())

	sub.Cancel()
	sub.Cancel()
	select {
	case <-sub.Done():
	case <-time.After(waitTimeout):
		t.Fatal("done not closed")
	}
	assert.Zero(t, s.Hub().Subscribers())

	s.Hub().Dispatch(order.Event{Type: order.EventStatusChanged, Order: testOrder(order.StatusOngoing, 2)})
	assertQuiet(t, ch)
}

func TestStore_CancelFromCallback(t *testing.T) {
	r := &mockReader{orders: map[string]*order.Order{"o-1": testOrder(order.StatusReceived, 1)}}
	s := newTestStore(t, r)

	var (
		sub   *Subscription
		ready = make(chan struct{})
		calls int
	)
	sub = s.Subscribe(context.Background(), "o-1", func(Update) {
		<-ready
		calls++
		sub.Cancel()
	})
	close(ready)

	select {
	case <-sub.Done():
	case <-time.After(waitTimeout):
		t.Fatal("done not closed")
	}
	s.Hub().Dispatch(order.Event{Type: order.EventStatusChanged, Order: testOrder(order.StatusOngoing, 2)})
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, calls)
}

func TestStore_ContextEndsSubscription(t *testing.T) {
	r := &mockReader{orders: map[string]*order.Order{"o-1": testOrder(order.StatusReceived, 1)}}
	s := newTestStore(t, r)
	ch, fn := collect[Update]()

	ctx, cancel := context.WithCancel(context.Background())
	sub := s.Subscribe(ctx, "o-1", fn)
	next(t, ch)

	cancel()
	select {
	case <-sub.Done():
	case <-time.After(waitTimeout):
		t.Fatal("subscription outlived its context")
	}
	assert.Zero(t, s.Hub().Subscribers())
	sub.Cancel()
}

func TestStore_SubscribeRestaurant(t *testing.T) {
	s := newTestStore(t, &mockReader{})
	ch, fn := collect[order.Event]()

	sub := s.SubscribeRestaurant(context.Background(), "R1", fn)
	defer sub.Cancel()

	other := testOrder(order.StatusReceived, 1)
	other.ID, other.RestaurantID = "o-2", "R2"
	require.NoError(t, s.Publish(context.Background(), order.Event{Type: order.EventCreated, Order: other}))
	require.NoError(t, s.Publish(context.Background(), order.Event{Type: order.EventCreated, Order: testOrder(order.StatusReceived, 1)}))

	ev := next(t, ch)
	assert.Equal(t, order.EventCreated, ev.Type)
	assert.Equal(t, "o-1", ev.Order.ID)
	assertQuiet(t, ch)
}

func TestStore_PublishThroughBroadcaster(t *testing.T) {
	b := &mockBroadcaster{}
	s := newTestStore(t, &mockReader{}, WithBroadcaster(b))
	ch, fn := collect[order.Event]()
	sub := s.SubscribeRestaurant(context.Background(), "R1", fn)
	defer sub.Cancel()

	ev := order.Event{Type: order.EventCreated, Order: testOrder(order.StatusReceived, 1)}
	require.NoError(t, s.Publish(context.Background(), ev))
	require.Len(t, b.events, 1)
	// Delivery happens when the event comes back from the broker.
	assertQuiet(t, ch)

	b.err = errors.New("channel closed")
	require.Error(t, s.Publish(context.Background(), ev))
	assert.Equal(t, "o-1", next(t, ch).Order.ID)
}

func TestHub_DispatchClonesOrder(t *testing.T) {
	h := NewHub()
	ch, fn := collect[order.Event]()
	sub := h.SubscribeRestaurant("R1", fn)
	defer sub.Cancel()

	o := testOrder(order.StatusReceived, 1)
	o.Items = []order.Item{{MenuItemID: "m1", Quantity: 1}}
	h.Dispatch(order.Event{Type: order.EventCreated, Order: o})

	got := next(t, ch)
	got.Order.Items[0].Quantity = 5
	assert.Equal(t, 1, o.Items[0].Quantity)
}

func TestHub_OrderedDelivery(t *testing.T) {
	h := NewHub()
	ch := make(chan int, 100)
	sub := h.SubscribeRestaurant("R1", func(ev order.Event) { ch <- ev.Order.Number })
	defer sub.Cancel()

	for i := 1; i <= 100; i++ {
		o := testOrder(order.StatusReceived, 1)
		o.Number = i
		h.Dispatch(order.Event{Type: order.EventCreated, Order: o})
	}
	for i := 1; i <= 100; i++ {
		require.Equal(t, i, next(t, ch))
	}
}

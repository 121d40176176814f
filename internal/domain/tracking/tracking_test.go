package tracking

import (
	"context"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/qrmenu/internal/domain/menu"
	"github.com/xenking/qrmenu/internal/domain/order"
	"github.com/xenking/qrmenu/internal/live"
	"github.com/xenking/qrmenu/internal/memstore"
)

type failingReader struct{}

func (failingReader) Get(context.Context, string) (*order.Order, error) {
	return nil, errors.New("connection reset")
}

func next(t *testing.T, ch <-chan Update) Update {
	t.Helper()
	select {
	case u := <-ch:
		return u
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for update")
		return Update{}
	}
}

func TestNewView(t *testing.T) {
	o := &order.Order{
		ID:     "o-1",
		Number: 7,
		Items: []order.Item{
			{MenuItemID: "m1", Name: "Pizza", Price: decimal.RequireFromString("8.99"), Quantity: 2},
			{MenuItemID: "m2", Name: "Pasta", Price: decimal.RequireFromString("15.50"), Quantity: 1},
		},
		Total:  decimal.RequireFromString("33.48"),
		Status: order.StatusFinishing,
	}

	v := NewView(o)
	assert.Equal(t, "Order #7", v.Title())
	assert.Equal(t, 3, v.Step)
	assert.Equal(t, 5, v.TotalSteps)
	assert.InDelta(t, 60.0, v.Percentage, 1e-9)
	assert.False(t, v.Canceled)
	assert.Equal(t, "timer", v.Icon)
	require.Len(t, v.Lines, 2)
	assert.True(t, decimal.RequireFromString("17.98").Equal(v.Lines[0].Subtotal))
	assert.True(t, decimal.RequireFromString("33.48").Equal(v.Total))
}

func TestNewView_Progress(t *testing.T) {
	for _, tt := range []struct {
		status  order.Status
		step    int
		percent float64
	}{
		{order.StatusReceived, 1, 20},
		{order.StatusOngoing, 2, 40},
		{order.StatusFinishing, 3, 60},
		{order.StatusOnTheWay, 4, 80},
		{order.StatusServed, 5, 100},
		{order.StatusCanceled, 0, 0},
	} {
		t.Run(string(tt.status), func(t *testing.T) {
			v := NewView(&order.Order{Status: tt.status})
			assert.Equal(t, tt.step, v.Step)
			assert.InDelta(t, tt.percent, v.Percentage, 1e-9)
			assert.Equal(t, tt.status == order.StatusCanceled, v.Canceled)
		})
	}
}

func TestWatcher_FollowsLifecycle(t *testing.T) {
	ctx := context.Background()
	menus := memstore.NewMenus()
	require.NoError(t, menus.Save(ctx, &menu.Menu{
		RestaurantID: "R1",
		Categories:   []menu.Category{{ID: "c1", Name: "Mains"}},
		Items: []menu.Item{
			{ID: "m1", CategoryID: "c1", Name: "Pizza", Price: decimal.RequireFromString("8.99"), Available: true},
		},
	}))
	orders := memstore.NewOrders()
	store, err := live.NewStore(orders, live.NewHub())
	require.NoError(t, err)
	svc, err := order.NewService(menus, memstore.NewCounter(), orders, store)
	require.NoError(t, err)

	o, err := svc.PlaceOrder(ctx, order.PlaceOrderRequest{
		RestaurantID:       "R1",
		CustomerIdentifier: "Table 4",
		Items:              []order.LineRequest{{MenuItemID: "m1", Quantity: 2}},
	})
	require.NoError(t, err)

	ch := make(chan Update, 8)
	sub := NewWatcher(store).Watch(ctx, o.ID, func(u Update) { ch <- u })
	defer sub.Cancel()

	u := next(t, ch)
	require.NoError(t, u.Err)
	assert.Equal(t, order.StatusReceived, u.View.Status)
	assert.Equal(t, 1, u.View.Number)

	// The menu changes after the order was placed; the view keeps the snapshot.
	require.NoError(t, menus.Save(ctx, &menu.Menu{
		RestaurantID: "R1",
		Categories:   []menu.Category{{ID: "c1", Name: "Mains"}},
		Items: []menu.Item{
			{ID: "m1", CategoryID: "c1", Name: "Pizza XL", Price: decimal.RequireFromString("12.00"), Available: true},
		},
	}))

	_, err = svc.UpdateStatus(ctx, "R1", o.ID, order.StatusOngoing)
	require.NoError(t, err)
	u = next(t, ch)
	require.NoError(t, u.Err)
	assert.Equal(t, 2, u.View.Step)
	assert.Equal(t, "Pizza", u.View.Lines[0].Name)
	assert.True(t, decimal.RequireFromString("17.98").Equal(u.View.Total))

	_, err = svc.UpdateStatus(ctx, "R1", o.ID, order.StatusCanceled)
	require.NoError(t, err)
	u = next(t, ch)
	assert.True(t, u.View.Canceled)
}

func TestWatcher_NotFound(t *testing.T) {
	store, err := live.NewStore(memstore.NewOrders(), live.NewHub())
	require.NoError(t, err)

	ch := make(chan Update, 1)
	sub := NewWatcher(store).Watch(context.Background(), "nope", func(u Update) { ch <- u })

	u := next(t, ch)
	require.ErrorIs(t, u.Err, ErrOrderNotFound)
	select {
	case <-sub.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("watch not stopped after not found")
	}
	assert.Zero(t, store.Hub().Subscribers())
}

func TestWatcher_LoadFailedStops(t *testing.T) {
	hub := live.NewHub()
	store, err := live.NewStore(failingReader{}, hub)
	require.NoError(t, err)

	ch := make(chan Update, 4)
	sub := NewWatcher(store).Watch(context.Background(), "o-1", func(u Update) { ch <- u })

	u := next(t, ch)
	require.ErrorIs(t, u.Err, ErrOrderLoadFailed)
	assert.NotErrorIs(t, u.Err, ErrOrderNotFound)

	<-sub.Done()
	hub.Dispatch(order.Event{Type: order.EventStatusChanged, Order: &order.Order{ID: "o-1", RestaurantID: "R1", Status: order.StatusOngoing}})
	select {
	case u := <-ch:
		t.Fatalf("update after load failure: %+v", u)
	case <-time.After(50 * time.Millisecond):
	}
}

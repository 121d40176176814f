// Package tracking renders the customer-facing live status of an order.
package tracking

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/qrmenu/internal/domain/order"
	"github.com/xenking/qrmenu/internal/live"
)

var (
	// ErrOrderNotFound is terminal: the order does not exist.
	ErrOrderNotFound = errors.New("order not found")
	// ErrOrderLoadFailed is transient. The watch is stopped and the caller
	// has to watch again to retry.
	ErrOrderLoadFailed = errors.New("order load failed")
)

// Icons per status, as shown on the status page.
var icons = map[order.Status]string{
	order.StatusReceived:  "receipt",
	order.StatusOngoing:   "chef-hat",
	order.StatusFinishing: "timer",
	order.StatusOnTheWay:  "bike",
	order.StatusServed:    "check-circle",
	order.StatusCanceled:  "x-circle",
}

// Line is one rendered order line.
type Line struct {
	Name     string
	Quantity int
	Price    decimal.Decimal
	Subtotal decimal.Decimal
}

// View is the status page model of a single order.
type View struct {
	OrderID            string
	Number             int
	Status             order.Status
	Label              string
	Icon               string
	Step               int
	TotalSteps         int
	Percentage         float64
	Canceled           bool
	Lines              []Line
	Total              decimal.Decimal
	CustomerIdentifier string
	CreatedAt          time.Time
}

// NewView derives the status page model from o. The lines and total come
// from the snapshot stored with the order and are never recomputed from the
// menu.
func NewView(o *order.Order) *View {
	v := &View{
		OrderID:            o.ID,
		Number:             o.Number,
		Status:             o.Status,
		Label:              string(o.Status),
		Icon:               icons[o.Status],
		Step:               order.ProgressStep(o.Status),
		TotalSteps:         order.ProgressSteps,
		Percentage:         order.ProgressPercentage(o.Status),
		Canceled:           o.Status == order.StatusCanceled,
		Lines:              make([]Line, len(o.Items)),
		Total:              o.Total,
		CustomerIdentifier: o.CustomerIdentifier,
		CreatedAt:          o.CreatedAt,
	}
	if v.Canceled {
		v.Label = "Order canceled"
	}
	for i, it := range o.Items {
		v.Lines[i] = Line{
			Name:     it.Name,
			Quantity: it.Quantity,
			Price:    it.Price,
			Subtotal: it.Subtotal(),
		}
	}
	return v
}

// Title is the heading of the status page.
func (v *View) Title() string {
	return fmt.Sprintf("Order #%d", v.Number)
}

// Update is one delivery to a watcher callback. Exactly one field is set.
type Update struct {
	View *View
	Err  error
}

// Subscriber is the live order subscription the watcher builds on.
type Subscriber interface {
	Subscribe(ctx context.Context, orderID string, fn func(live.Update)) *live.Subscription
}

// Watcher turns order subscriptions into status page updates.
type Watcher struct {
	orders Subscriber
}

// NewWatcher creates a Watcher.
func NewWatcher(orders Subscriber) *Watcher {
	return &Watcher{orders: orders}
}

// Watch calls fn with a fresh View every time the order changes. A missing
// order yields ErrOrderNotFound; a storage failure yields an error wrapping
// ErrOrderLoadFailed. Either error is the last update: the subscription is
// cancelled before fn returns control to the delivery loop.
func (w *Watcher) Watch(ctx context.Context, orderID string, fn func(Update)) *live.Subscription {
	var (
		mu   sync.Mutex
		sub  *live.Subscription
		stop bool
	)
	cancel := func() {
		mu.Lock()
		defer mu.Unlock()
		stop = true
		if sub != nil {
			sub.Cancel()
		}
	}

	s := w.orders.Subscribe(ctx, orderID, func(u live.Update) {
		switch {
		case u.Err == nil:
			fn(Update{View: NewView(u.Order)})
		case errors.Is(u.Err, order.ErrNotFound):
			cancel()
			fn(Update{Err: ErrOrderNotFound})
		default:
			cancel()
			fn(Update{Err: fmt.Errorf("%w: %w", ErrOrderLoadFailed, u.Err)})
		}
	})

	mu.Lock()
	sub = s
	if stop {
		s.Cancel()
	}
	mu.Unlock()
	return s
}

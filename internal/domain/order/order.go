package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when an order does not exist.
	ErrNotFound = errors.New("order not found")
	// ErrWriteConflict is returned by Repository.Create when an order with
	// the same ID already exists.
	ErrWriteConflict = errors.New("order id already exists")
	// ErrStaleStatus is returned by Repository.UpdateStatus when the stored
	// status no longer matches the expected one.
	ErrStaleStatus = errors.New("order status changed concurrently")
)

// Order is a placed customer order. Everything except Status, UpdatedAt and
// Version is fixed at creation.
//
// Version counts committed writes: 1 on creation, incremented by the store
// on every status change. It orders snapshots written by different
// processes, whose clocks need not agree.
type Order struct {
	ID                 string
	RestaurantID       string
	Number             int
	Items              []Item
	Total              decimal.Decimal
	CustomerIdentifier string
	Status             Status
	CreatedAt          time.Time
	UpdatedAt          time.Time
	Version            int
}

// Item is a value snapshot of a menu item taken when the order was placed.
// Later edits to the menu never change it.
type Item struct {
	MenuItemID string          `json:"menu_item_id"`
	Name       string          `json:"name"`
	Price      decimal.Decimal `json:"price"`
	Quantity   int             `json:"quantity"`
}

// Subtotal returns Price * Quantity.
func (i Item) Subtotal() decimal.Decimal {
	return i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

// Total returns the sum of line subtotals rounded to cents.
func Total(items []Item) decimal.Decimal {
	sum := decimal.Zero
	for _, it := range items {
		sum = sum.Add(it.Subtotal())
	}
	return sum.Round(2)
}

// Clone returns a deep copy so callers can't mutate shared snapshots.
func (o *Order) Clone() *Order {
	if o == nil {
		return nil
	}
	c := *o
	c.Items = append([]Item(nil), o.Items...)
	return &c
}

// Filter narrows ListByRestaurant results. Zero value matches everything.
type Filter struct {
	Statuses []Status
}

// Match reports whether o passes the filter.
func (f Filter) Match(o *Order) bool {
	if len(f.Statuses) == 0 {
		return true
	}
	for _, s := range f.Statuses {
		if o.Status == s {
			return true
		}
	}
	return false
}

// ActiveFilter matches orders that are not Served or Canceled.
func ActiveFilter() Filter {
	return Filter{Statuses: []Status{StatusReceived, StatusOngoing, StatusFinishing, StatusOnTheWay}}
}

// PastFilter matches Served and Canceled orders.
func PastFilter() Filter {
	return Filter{Statuses: []Status{StatusServed, StatusCanceled}}
}

// Repository defines persistence operations for orders.
type Repository interface {
	// Create persists a new order, failing with ErrWriteConflict when the
	// ID is taken.
	Create(ctx context.Context, o *Order) error
	// Get returns ErrNotFound when the order doesn't exist.
	Get(ctx context.Context, id string) (*Order, error)
	// UpdateStatus sets the status to `to` only if it is still `from` and
	// returns the new version. It returns ErrNotFound or ErrStaleStatus
	// otherwise.
	UpdateStatus(ctx context.Context, id string, from, to Status, at time.Time) (int, error)
	// ListByRestaurant returns orders in no particular order.
	ListByRestaurant(ctx context.Context, restaurantID string, f Filter) ([]*Order, error)
}

// NumberedCreator is implemented by repositories that can issue the order
// number and insert the order atomically, so a failed insert never uses up
// a number.
type NumberedCreator interface {
	// CreateNumbered sets o.Number to the next number of (o.RestaurantID,
	// day) and persists o. It fails with ErrWriteConflict when the ID is
	// taken and with an error wrapping ErrCounterUnavailable when no number
	// could be committed; in both cases no number is consumed.
	CreateNumbered(ctx context.Context, o *Order, day string) error
}

package order

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"

	"github.com/xenking/qrmenu/internal/domain/menu"
)

// Sentinel errors for order validation.
var (
	ErrEmptyItems              = errors.New("items required")
	ErrEmptyCustomerIdentifier = errors.New("customer identifier required")
	ErrRestaurantNotFound      = errors.New("restaurant not found")
)

// maxCreateAttempts bounds id regeneration after ErrWriteConflict.
const maxCreateAttempts = 3

// MenuItemNotFoundError indicates an ordered item is not on the menu.
type MenuItemNotFoundError struct {
	MenuItemID string
}

func (e *MenuItemNotFoundError) Error() string {
	return fmt.Sprintf("menu item %s not found", e.MenuItemID)
}

// ItemUnavailableError indicates an ordered item is switched off.
type ItemUnavailableError struct {
	MenuItemID string
}

func (e *ItemUnavailableError) Error() string {
	return fmt.Sprintf("menu item %s is not available", e.MenuItemID)
}

// InvalidQuantityError indicates a line item has a non-positive quantity.
type InvalidQuantityError struct {
	MenuItemID string
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity must be greater than 0 for menu item %s", e.MenuItemID)
}

// LineRequest is one cart line as submitted by the customer.
type LineRequest struct {
	MenuItemID string
	Quantity   int
}

// PlaceOrderRequest holds the input for placing an order.
type PlaceOrderRequest struct {
	RestaurantID       string
	CustomerIdentifier string
	Items              []LineRequest
}

// Option configures a Service.
type Option func(*Service)

// WithPermissiveTransitions accepts any status change, including changes
// out of terminal statuses.
func WithPermissiveTransitions(permissive bool) Option {
	return func(s *Service) { s.permissive = permissive }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDGenerator overrides the random order id source.
func WithIDGenerator(newID func() string) Option {
	return func(s *Service) { s.newID = newID }
}

// WithMeterProvider enables order metrics.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(s *Service) { s.meterProvider = mp }
}

// Service implements order placement and the status lifecycle.
type Service struct {
	menus     menu.Repository
	counter   Counter
	orders    Repository
	publisher Publisher

	permissive    bool
	now           func() time.Time
	newID         func() string
	meterProvider metric.MeterProvider

	placed          metric.Int64Counter
	statusChanges   metric.Int64Counter
	counterFailures metric.Int64Counter
}

// NewService creates an order Service with the required domain dependencies.
func NewService(
	menus menu.Repository,
	counter Counter,
	orders Repository,
	publisher Publisher,
	opts ...Option,
) (*Service, error) {
	s := &Service{
		menus:         menus,
		counter:       counter,
		orders:        orders,
		publisher:     publisher,
		now:           time.Now,
		newID:         uuid.NewString,
		meterProvider: noop.NewMeterProvider(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.publisher == nil {
		s.publisher = NopPublisher{}
	}

	meter := s.meterProvider.Meter("github.com/xenking/qrmenu/internal/domain/order")
	var err error
	if s.placed, err = meter.Int64Counter("orders.placed",
		metric.WithDescription("Orders successfully placed"),
	); err != nil {
		return nil, errors.Wrap(err, "orders.placed")
	}
	if s.statusChanges, err = meter.Int64Counter("orders.status_changes",
		metric.WithDescription("Committed order status transitions"),
	); err != nil {
		return nil, errors.Wrap(err, "orders.status_changes")
	}
	if s.counterFailures, err = meter.Int64Counter("orders.counter_failures",
		metric.WithDescription("Order placements aborted because no number could be issued"),
	); err != nil {
		return nil, errors.Wrap(err, "orders.counter_failures")
	}
	return s, nil
}

// PlaceOrder validates the cart, snapshots menu items, issues the next
// order number and persists the order in status Received.
//
// If no order number can be issued the order is not written.
func (s *Service) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*Order, error) {
	customer := strings.TrimSpace(req.CustomerIdentifier)
	if customer == "" {
		return nil, ErrEmptyCustomerIdentifier
	}
	if len(req.Items) == 0 {
		return nil, ErrEmptyItems
	}

	ids := make([]string, len(req.Items))
	for i, line := range req.Items {
		if line.Quantity <= 0 {
			return nil, &InvalidQuantityError{MenuItemID: line.MenuItemID}
		}
		ids[i] = line.MenuItemID
	}

	// Batch fetch all menu items in a single query.
	fetched, err := s.menus.GetItems(ctx, req.RestaurantID, ids)
	if err != nil {
		if errors.Is(err, menu.ErrNotFound) {
			return nil, ErrRestaurantNotFound
		}
		return nil, errors.Wrap(err, "get menu items")
	}
	byID := make(map[string]menu.Item, len(fetched))
	for _, it := range fetched {
		byID[it.ID] = it
	}

	// Snapshot by value so later menu edits never leak into the order.
	items := make([]Item, len(req.Items))
	for i, line := range req.Items {
		mi, ok := byID[line.MenuItemID]
		if !ok {
			return nil, &MenuItemNotFoundError{MenuItemID: line.MenuItemID}
		}
		if !mi.Available {
			return nil, &ItemUnavailableError{MenuItemID: line.MenuItemID}
		}
		items[i] = Item{
			MenuItemID: mi.ID,
			Name:       mi.Name,
			Price:      mi.Price,
			Quantity:   line.Quantity,
		}
	}

	now := s.now().UTC()
	o := &Order{
		RestaurantID:       req.RestaurantID,
		Items:              items,
		Total:              Total(items),
		CustomerIdentifier: customer,
		Status:             StatusReceived,
		CreatedAt:          now,
		UpdatedAt:          now,
		Version:            1,
	}
	if err := s.persist(ctx, o, DayKey(now)); err != nil {
		return nil, err
	}
	s.placed.Add(ctx, 1)

	s.publish(ctx, Event{Type: EventCreated, Order: o.Clone()})
	return o, nil
}

// persist numbers and stores o. A repository implementing NumberedCreator
// does both in one transaction. Otherwise the number is drawn from the
// counter first, and an insert that then fails leaves a gap in the day's
// sequence.
func (s *Service) persist(ctx context.Context, o *Order, day string) error {
	insert := s.orders.Create
	if nc, ok := s.orders.(NumberedCreator); ok {
		insert = func(ctx context.Context, o *Order) error {
			return nc.CreateNumbered(ctx, o, day)
		}
	} else {
		number, err := s.counter.NextOrderNumber(ctx, o.RestaurantID, day)
		if err != nil {
			return s.counterFailed(ctx, err)
		}
		o.Number = number
	}

	err := s.create(ctx, o, insert)
	if errors.Is(err, ErrCounterUnavailable) {
		return s.counterFailed(ctx, err)
	}
	return err
}

func (s *Service) counterFailed(ctx context.Context, err error) error {
	s.counterFailures.Add(ctx, 1)
	if !errors.Is(err, ErrCounterUnavailable) {
		err = fmt.Errorf("%w: %w", ErrCounterUnavailable, err)
	}
	return err
}

// create persists o with insert, drawing a fresh id whenever the current one
// collides.
func (s *Service) create(ctx context.Context, o *Order, insert func(context.Context, *Order) error) error {
	var err error
	for range maxCreateAttempts {
		o.ID = s.newID()
		err = insert(ctx, o)
		if !errors.Is(err, ErrWriteConflict) {
			break
		}
		zctx.From(ctx).Warn("Order id collision, regenerating", zap.String("order_id", o.ID))
	}
	if err != nil {
		return errors.Wrap(err, "create order")
	}
	return nil
}

// Get returns a single order.
func (s *Service) Get(ctx context.Context, id string) (*Order, error) {
	o, err := s.orders.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, errors.Wrap(err, "get order")
	}
	return o, nil
}

// UpdateStatus moves an order of restaurantID to status `to`. The write is
// conditional on the status observed while validating, so two owners racing
// on the same order cannot both succeed from the same starting point.
func (s *Service) UpdateStatus(ctx context.Context, restaurantID, orderID string, to Status) (*Order, error) {
	o, err := s.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.RestaurantID != restaurantID {
		return nil, ErrNotFound
	}
	if err := ValidateTransition(o.Status, to, s.permissive); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	version, err := s.orders.UpdateStatus(ctx, orderID, o.Status, to, now)
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrStaleStatus) {
			return nil, err
		}
		return nil, errors.Wrap(err, "update order status")
	}
	s.statusChanges.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", string(o.Status)),
		attribute.String("to", string(to)),
	))

	previous := o.Status
	o.Status = to
	o.UpdatedAt = now
	o.Version = version
	s.publish(ctx, Event{Type: EventStatusChanged, Order: o.Clone(), Previous: previous})
	return o, nil
}

// List returns the orders of a restaurant, newest first.
func (s *Service) List(ctx context.Context, restaurantID string, f Filter) ([]*Order, error) {
	orders, err := s.orders.ListByRestaurant(ctx, restaurantID, f)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	sort.SliceStable(orders, func(i, j int) bool {
		if !orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].CreatedAt.After(orders[j].CreatedAt)
		}
		return orders[i].Number > orders[j].Number
	})
	return orders, nil
}

// PendingCount returns the number of active orders of a restaurant.
func (s *Service) PendingCount(ctx context.Context, restaurantID string) (int, error) {
	orders, err := s.orders.ListByRestaurant(ctx, restaurantID, ActiveFilter())
	if err != nil {
		return 0, errors.Wrap(err, "list active orders")
	}
	return len(orders), nil
}

// publish is best effort: the order is already committed, so a failed fan-out
// is logged and live subscribers catch up on their next read.
func (s *Service) publish(ctx context.Context, ev Event) {
	if err := s.publisher.Publish(ctx, ev); err != nil {
		zctx.From(ctx).Warn("Publish order event",
			zap.String("order_id", ev.Order.ID),
			zap.String("type", string(ev.Type)),
			zap.Error(err),
		)
	}
}

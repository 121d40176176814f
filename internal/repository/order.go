package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/qrmenu/internal/domain/order"
)

const (
	orderColumns = `id, restaurant_id, order_number, items, total, customer_identifier, status, created_at, updated_at, version`

	createOrderSQL = `INSERT INTO orders (` + orderColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 1)`

	getOrderSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	updateOrderStatusSQL = `UPDATE orders SET status = $3, updated_at = $4, version = version + 1
	WHERE id = $1 AND status = $2
	RETURNING version`

	orderExistsSQL = `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`

	listOrdersSQL = `SELECT ` + orderColumns + ` FROM orders
	WHERE restaurant_id = $1 AND (cardinality($2::text[]) = 0 OR status = ANY($2::text[]))`
)

var (
	_ order.Repository      = (*OrderRepository)(nil)
	_ order.NumberedCreator = (*OrderRepository)(nil)
)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool    *pgxpool.Pool
	retries int
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
// retries bounds CreateNumbered attempts the same way it bounds
// CounterRepository; below 1 it falls back to DefaultCounterRetries.
func NewOrderRepository(pool *pgxpool.Pool, retries int) *OrderRepository {
	if retries < 1 {
		retries = DefaultCounterRetries
	}
	return &OrderRepository{pool: pool, retries: retries}
}

// Create persists a new order. The item snapshot is serialized to JSON for
// storage in the JSONB column.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	itemsJSON, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("marshaling order items: %w", err)
	}

	_, err = r.pool.Exec(ctx, createOrderSQL,
		o.ID, o.RestaurantID, o.Number, itemsJSON, o.Total,
		o.CustomerIdentifier, string(o.Status), o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		if hasCode(err, codeUniqueViolation) {
			return order.ErrWriteConflict
		}
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}

	return nil
}

// CreateNumbered increments the (restaurant, day) counter and inserts o in
// one transaction, so the number is only consumed when the order is stored.
// The counter row lock serializes concurrent placements of a restaurant's
// day until commit.
func (r *OrderRepository) CreateNumbered(ctx context.Context, o *order.Order, day string) error {
	itemsJSON, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("marshaling order items: %w", err)
	}

	var insertErr error
	err = withRetry(ctx, r.retries, func(ctx context.Context) error {
		insertErr = nil
		return pgx.BeginTxFunc(ctx, r.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
			var n int
			if err := tx.QueryRow(ctx, nextOrderNumberSQL, o.RestaurantID, day).Scan(&n); err != nil {
				return fmt.Errorf("increment: %w", err)
			}
			if _, err := tx.Exec(ctx, createOrderSQL,
				o.ID, o.RestaurantID, n, itemsJSON, o.Total,
				o.CustomerIdentifier, string(o.Status), o.CreatedAt, o.UpdatedAt,
			); err != nil {
				insertErr = err
				return err
			}
			o.Number = n
			return nil
		})
	})
	switch {
	case err == nil:
		o.Version = 1
		return nil
	case insertErr != nil && hasCode(insertErr, codeUniqueViolation):
		o.Number = 0
		return order.ErrWriteConflict
	case insertErr != nil && !retryable(insertErr):
		o.Number = 0
		return fmt.Errorf("creating order %q: %w", o.ID, insertErr)
	default:
		o.Number = 0
		return fmt.Errorf("%w: counter %s/%s: %w", order.ErrCounterUnavailable, o.RestaurantID, day, err)
	}
}

// Get returns a single order by its identifier.
func (r *OrderRepository) Get(ctx context.Context, id string) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, getOrderSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}

	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}
	return o, nil
}

// UpdateStatus sets the status only while it still equals from and returns
// the version the database assigned. When no row matches, a second read
// tells a missing order from a stale one.
func (r *OrderRepository) UpdateStatus(ctx context.Context, id string, from, to order.Status, at time.Time) (int, error) {
	var version int
	err := r.pool.QueryRow(ctx, updateOrderStatusSQL, id, string(from), string(to), at).Scan(&version)
	if err == nil {
		return version, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("updating order %q status: %w", id, err)
	}

	var exists bool
	if err := r.pool.QueryRow(ctx, orderExistsSQL, id).Scan(&exists); err != nil {
		return 0, fmt.Errorf("checking order %q: %w", id, err)
	}
	if !exists {
		return 0, order.ErrNotFound
	}
	return 0, order.ErrStaleStatus
}

// ListByRestaurant returns the restaurant's orders matching f, unordered.
func (r *OrderRepository) ListByRestaurant(ctx context.Context, restaurantID string, f order.Filter) ([]*order.Order, error) {
	statuses := make([]string, len(f.Statuses))
	for i, s := range f.Statuses {
		statuses[i] = string(s)
	}

	rows, err := r.pool.Query(ctx, listOrdersSQL, restaurantID, statuses)
	if err != nil {
		return nil, fmt.Errorf("listing orders of %q: %w", restaurantID, err)
	}
	return pgx.CollectRows(rows, scanOrder)
}

func scanOrder(row pgx.CollectableRow) (*order.Order, error) {
	var (
		o         order.Order
		itemsJSON []byte
		total     decimal.Decimal
		status    string
	)
	err := row.Scan(
		&o.ID, &o.RestaurantID, &o.Number, &itemsJSON, &total,
		&o.CustomerIdentifier, &status, &o.CreatedAt, &o.UpdatedAt, &o.Version,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(itemsJSON, &o.Items); err != nil {
		return nil, fmt.Errorf("unmarshaling items of order %q: %w", o.ID, err)
	}
	o.Total = total
	o.Status = order.Status(status)
	o.CreatedAt = o.CreatedAt.UTC()
	o.UpdatedAt = o.UpdatedAt.UTC()
	return &o, nil
}

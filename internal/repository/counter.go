package repository

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/qrmenu/internal/domain/order"
)

const nextOrderNumberSQL = `INSERT INTO order_counters (restaurant_id, day, count)
	VALUES ($1, $2, 1)
	ON CONFLICT (restaurant_id, day) DO UPDATE SET count = order_counters.count + 1
	RETURNING count`

// DefaultCounterRetries is the number of attempts NextOrderNumber makes when
// its transaction keeps losing to concurrent writers.
const DefaultCounterRetries = 5

var _ order.Counter = (*CounterRepository)(nil)

// CounterRepository issues per-restaurant, per-day order numbers from the
// order_counters table.
type CounterRepository struct {
	pool    *pgxpool.Pool
	retries int
}

// NewCounterRepository returns a CounterRepository. retries below 1 fall back
// to DefaultCounterRetries.
func NewCounterRepository(pool *pgxpool.Pool, retries int) *CounterRepository {
	if retries < 1 {
		retries = DefaultCounterRetries
	}
	return &CounterRepository{pool: pool, retries: retries}
}

// NextOrderNumber increments the counter of (restaurantID, day) and returns
// the new value. A missing row counts as zero, so the first call of a day
// returns 1.
//
// The increment is a single atomic upsert, retried on serialization failures
// and deadlocks. Every other failure, and running out
// of attempts, is reported as order.ErrCounterUnavailable.
func (r *CounterRepository) NextOrderNumber(ctx context.Context, restaurantID, day string) (int, error) {
	var n int
	err := withRetry(ctx, r.retries, func(ctx context.Context) (err error) {
		n, err = r.increment(ctx, restaurantID, day)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("%w: counter %s/%s: %w", order.ErrCounterUnavailable, restaurantID, day, err)
	}
	return n, nil
}

// withRetry runs fn until it succeeds, fails with an error retryable does not
// accept, or attempts run out. Attempts back off quadratically with jitter.
func withRetry(ctx context.Context, attempts int, fn func(ctx context.Context) error) error {
	var err error
	for attempt := range attempts {
		if attempt > 0 {
			backoff := time.Duration(attempt*attempt) * 5 * time.Millisecond
			backoff += rand.N(backoff)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		err = fn(ctx)
		if err == nil || !retryable(err) {
			return err
		}
	}
	return err
}

// increment runs the upsert in its own transaction. The upsert locks the
// counter row, so concurrent callers queue on it and each one reads the count
// committed by the previous holder.
func (r *CounterRepository) increment(ctx context.Context, restaurantID, day string) (n int, err error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return 0, fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err := tx.QueryRow(ctx, nextOrderNumberSQL, restaurantID, day).Scan(&n); err != nil {
		return 0, fmt.Errorf("increment: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit: %w", err)
	}
	return n, nil
}

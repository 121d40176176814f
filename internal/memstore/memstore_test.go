package memstore

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/qrmenu/internal/domain/order"
)

func TestCounter_ConcurrentContiguous(t *testing.T) {
	ctx := context.Background()
	c := NewCounter()

	const callers = 200
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		numbers []int
	)
	for range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := c.NextOrderNumber(ctx, "R1", "2024-01-01")
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			numbers = append(numbers, n)
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Len(t, numbers, callers)
	sort.Ints(numbers)
	for i, n := range numbers {
		require.Equal(t, i+1, n, "numbers must be contiguous without duplicates")
	}
	assert.Equal(t, callers, c.Count("R1", "2024-01-01"))
}

func TestCounter_Buckets(t *testing.T) {
	ctx := context.Background()
	c := NewCounter()

	for want := 1; want <= 3; want++ {
		n, err := c.NextOrderNumber(ctx, "R1", "2024-01-01")
		require.NoError(t, err)
		assert.Equal(t, want, n)
	}

	n, err := c.NextOrderNumber(ctx, "R1", "2024-01-02")
	require.NoError(t, err)
	assert.Equal(t, 1, n, "each day starts at 1")

	n, err = c.NextOrderNumber(ctx, "R2", "2024-01-01")
	require.NoError(t, err)
	assert.Equal(t, 1, n, "each restaurant starts at 1")

	assert.Zero(t, c.Count("R3", "2024-01-01"))
}

func TestCounter_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := NewCounter()
	_, err := c.NextOrderNumber(ctx, "R1", "2024-01-01")
	require.ErrorIs(t, err, order.ErrCounterUnavailable)
	assert.Zero(t, c.Count("R1", "2024-01-01"))
}

func TestOrders_UpdateStatusVersions(t *testing.T) {
	ctx := context.Background()
	s := NewOrders()
	at := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, s.Create(ctx, &order.Order{ID: "o-1", RestaurantID: "R1", Number: 1, Status: order.StatusReceived, CreatedAt: at, UpdatedAt: at}))
	require.ErrorIs(t, s.Create(ctx, &order.Order{ID: "o-1"}), order.ErrWriteConflict)

	got, err := s.Get(ctx, "o-1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.Version)

	version, err := s.UpdateStatus(ctx, "o-1", order.StatusReceived, order.StatusOngoing, at.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 2, version)

	// Versions advance even when the writer's clock is behind.
	version, err = s.UpdateStatus(ctx, "o-1", order.StatusOngoing, order.StatusFinishing, at)
	require.NoError(t, err)
	assert.Equal(t, 3, version)

	_, err = s.UpdateStatus(ctx, "o-1", order.StatusOngoing, order.StatusServed, at)
	require.ErrorIs(t, err, order.ErrStaleStatus)
	_, err = s.UpdateStatus(ctx, "missing", order.StatusReceived, order.StatusOngoing, at)
	require.ErrorIs(t, err, order.ErrNotFound)

	got, err = s.Get(ctx, "o-1")
	require.NoError(t, err)
	assert.Equal(t, order.StatusFinishing, got.Status)
	assert.Equal(t, 3, got.Version)
}

func TestOrders_ConcurrentUpdatesOneWinner(t *testing.T) {
	ctx := context.Background()
	s := NewOrders()
	require.NoError(t, s.Create(ctx, &order.Order{ID: "o-1", RestaurantID: "R1", Number: 1, Status: order.StatusReceived}))

	const writers = 20
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for range writers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.UpdateStatus(ctx, "o-1", order.StatusReceived, order.StatusOngoing, time.Now())
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, order.ErrStaleStatus)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
}

package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
)

// ErrCounterUnavailable is returned when the next order number could not be
// committed. No order may be written in that case.
var ErrCounterUnavailable = errors.New("order counter unavailable")

// DayLayout is the calendar representation of a counter bucket.
const DayLayout = "2006-01-02"

// DayKey returns the UTC calendar day of t.
//
// TODO: accept the restaurant's time zone once profiles carry one, so the
// numbering rolls over at local midnight.
func DayKey(t time.Time) string {
	return t.UTC().Format(DayLayout)
}

// Counter hands out per-restaurant, per-day order numbers.
//
// For a given (restaurantID, day) the returned numbers start at 1 and are
// gap-free and unique across concurrent callers. Implementations must use an
// atomic read-modify-write against shared state and wrap any failure in
// ErrCounterUnavailable.
type Counter interface {
	NextOrderNumber(ctx context.Context, restaurantID, day string) (int, error)
}

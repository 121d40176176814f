// Package stats computes revenue reports over served orders.
package stats

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/qrmenu/internal/domain/order"
)

// Window selects the reporting period, anchored to the current time.
type Window string

const (
	WindowDay   Window = "day"
	WindowMonth Window = "month"
	WindowYear  Window = "year"
)

// ParseWindow returns the Window named by s.
func ParseWindow(s string) (Window, error) {
	switch Window(s) {
	case WindowDay, WindowMonth, WindowYear:
		return Window(s), nil
	default:
		return "", fmt.Errorf("unknown stats window %q", s)
	}
}

// Bounds returns the half-open interval [from, to) containing now.
func (w Window) Bounds(now time.Time) (from, to time.Time) {
	y, m, d := now.Date()
	loc := now.Location()
	switch w {
	case WindowDay:
		from = time.Date(y, m, d, 0, 0, 0, 0, loc)
		return from, from.AddDate(0, 0, 1)
	case WindowMonth:
		from = time.Date(y, m, 1, 0, 0, 0, 0, loc)
		return from, from.AddDate(0, 1, 0)
	default:
		from = time.Date(y, time.January, 1, 0, 0, 0, 0, loc)
		return from, from.AddDate(1, 0, 0)
	}
}

// BucketCount is 24 hours for a day, the number of days of the current
// month, or 12 months for a year.
func (w Window) BucketCount(now time.Time) int {
	switch w {
	case WindowDay:
		return 24
	case WindowMonth:
		from, to := w.Bounds(now)
		return int(to.Sub(from).Hours()+12) / 24
	default:
		return 12
	}
}

// BucketIndex returns the histogram slot of t, which must already be in the
// report's location.
func (w Window) BucketIndex(t time.Time) int {
	switch w {
	case WindowDay:
		return t.Hour()
	case WindowMonth:
		return t.Day() - 1
	default:
		return int(t.Month()) - 1
	}
}

func (w Window) bucketLabel(i int) string {
	switch w {
	case WindowDay:
		return fmt.Sprintf("%02d:00", i)
	case WindowMonth:
		return strconv.Itoa(i + 1)
	default:
		return time.Month(i + 1).String()[:3]
	}
}

// Bucket is one histogram slot.
type Bucket struct {
	Label   string
	Revenue decimal.Decimal
	Orders  int
}

// Report is the aggregate over served orders within a window.
type Report struct {
	Window            Window
	From              time.Time
	To                time.Time
	TotalRevenue      decimal.Decimal
	TotalOrders       int
	AverageOrderValue decimal.Decimal
	Buckets           []Bucket
}

// Aggregate computes a Report for the Served orders whose CreatedAt falls in
// the window containing now. Other orders are ignored.
func Aggregate(orders []*order.Order, w Window, now time.Time) Report {
	from, to := w.Bounds(now)
	r := Report{
		Window:            w,
		From:              from,
		To:                to,
		TotalRevenue:      decimal.Zero,
		AverageOrderValue: decimal.Zero,
		Buckets:           make([]Bucket, w.BucketCount(now)),
	}
	for i := range r.Buckets {
		r.Buckets[i] = Bucket{Label: w.bucketLabel(i), Revenue: decimal.Zero}
	}

	loc := now.Location()
	for _, o := range orders {
		if o.Status != order.StatusServed {
			continue
		}
		created := o.CreatedAt.In(loc)
		if created.Before(from) || !created.Before(to) {
			continue
		}
		r.TotalRevenue = r.TotalRevenue.Add(o.Total)
		r.TotalOrders++

		b := &r.Buckets[w.BucketIndex(created)]
		b.Revenue = b.Revenue.Add(o.Total)
		b.Orders++
	}

	if r.TotalOrders > 0 {
		r.AverageOrderValue = r.TotalRevenue.Div(decimal.NewFromInt(int64(r.TotalOrders))).Round(2)
	}
	return r
}

// OrderLister is the subset of order storage the report needs.
type OrderLister interface {
	ListByRestaurant(ctx context.Context, restaurantID string, f order.Filter) ([]*order.Order, error)
}

// Service builds reports from stored orders.
type Service struct {
	orders OrderLister
	now    func() time.Time
	loc    *time.Location
}

// NewService creates a stats Service. Windows are computed in loc; nil
// means UTC.
func NewService(orders OrderLister, loc *time.Location) *Service {
	if loc == nil {
		loc = time.UTC
	}
	return &Service{orders: orders, now: time.Now, loc: loc}
}

// Report aggregates the Served orders of restaurantID for the window.
func (s *Service) Report(ctx context.Context, restaurantID string, w Window) (*Report, error) {
	served, err := s.orders.ListByRestaurant(ctx, restaurantID, order.Filter{
		Statuses: []order.Status{order.StatusServed},
	})
	if err != nil {
		return nil, errors.Wrap(err, "list served orders")
	}
	r := Aggregate(served, w, s.now().In(s.loc))
	return &r, nil
}

// Package profile holds restaurant settings.
package profile

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
)

var (
	// ErrNotFound is returned when a restaurant has no profile.
	ErrNotFound = errors.New("profile not found")
	// ErrProfileLoadFailed wraps storage failures while reading a profile.
	ErrProfileLoadFailed = errors.New("profile load failed")
)

// OrderStyle selects how customers identify themselves on an order.
type OrderStyle string

const (
	OrderStyleTable OrderStyle = "table"
	OrderStyleName  OrderStyle = "name"
)

// Label is the prompt shown next to the customer identifier field.
func (s OrderStyle) Label() string {
	if s == OrderStyleName {
		return "Your name"
	}
	return "Table number"
}

// ParseOrderStyle returns the style named by s.
func ParseOrderStyle(s string) (OrderStyle, error) {
	switch OrderStyle(s) {
	case OrderStyleTable, OrderStyleName:
		return OrderStyle(s), nil
	default:
		return "", fmt.Errorf("unknown order style %q", s)
	}
}

// Profile is the owner-editable configuration of a restaurant.
type Profile struct {
	RestaurantID string
	Name         string
	OrderStyle   OrderStyle
	Currency     string
}

// Default returns the settings used when no profile could be loaded.
func Default(restaurantID string) *Profile {
	return &Profile{
		RestaurantID: restaurantID,
		Name:         "",
		OrderStyle:   OrderStyleTable,
		Currency:     "USD",
	}
}

// Repository defines persistence operations for profiles.
type Repository interface {
	Get(ctx context.Context, restaurantID string) (*Profile, error)
	Save(ctx context.Context, p *Profile) error
}

// Load returns the stored profile, or Default together with an error
// wrapping ErrProfileLoadFailed when storage fails. ErrNotFound is returned
// as is alongside the default, so callers can decide to redirect to setup.
func Load(ctx context.Context, repo Repository, restaurantID string) (*Profile, error) {
	p, err := repo.Get(ctx, restaurantID)
	if err == nil {
		return p, nil
	}
	if errors.Is(err, ErrNotFound) {
		return Default(restaurantID), ErrNotFound
	}
	return Default(restaurantID), fmt.Errorf("load profile %q: %w: %w", restaurantID, ErrProfileLoadFailed, err)
}

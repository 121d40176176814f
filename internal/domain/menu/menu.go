// Package menu holds a restaurant's categories and items.
package menu

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a restaurant has no menu yet.
var ErrNotFound = errors.New("menu not found")

// PriceScale is the number of decimal places a price may carry.
const PriceScale = 2

// Category groups menu items for display.
type Category struct {
	ID       string
	Name     string
	Position int
}

// Item is a dish or drink offered by a restaurant.
type Item struct {
	ID          string
	CategoryID  string
	Name        string
	Description string
	Price       decimal.Decimal
	ImageURL    string
	Available   bool
}

// Menu is the full catalog of a single restaurant.
type Menu struct {
	RestaurantID string
	Categories   []Category
	Items        []Item
}

// ValidationError describes why a menu was rejected.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid menu %s: %s", e.Field, e.Reason)
}

// Validate checks identifiers, names, prices and category references.
func (m *Menu) Validate() error {
	if m.RestaurantID == "" {
		return &ValidationError{Field: "restaurant_id", Reason: "required"}
	}

	categories := make(map[string]struct{}, len(m.Categories))
	for _, c := range m.Categories {
		if c.ID == "" || c.Name == "" {
			return &ValidationError{Field: "categories", Reason: "id and name required"}
		}
		if _, dup := categories[c.ID]; dup {
			return &ValidationError{Field: "categories", Reason: fmt.Sprintf("duplicate id %q", c.ID)}
		}
		categories[c.ID] = struct{}{}
	}

	items := make(map[string]struct{}, len(m.Items))
	for _, it := range m.Items {
		if it.ID == "" || it.Name == "" {
			return &ValidationError{Field: "items", Reason: "id and name required"}
		}
		if _, dup := items[it.ID]; dup {
			return &ValidationError{Field: "items", Reason: fmt.Sprintf("duplicate id %q", it.ID)}
		}
		items[it.ID] = struct{}{}
		if it.Price.IsNegative() {
			return &ValidationError{Field: "items", Reason: fmt.Sprintf("negative price for %q", it.ID)}
		}
		if !it.Price.Equal(it.Price.Round(PriceScale)) {
			return &ValidationError{Field: "items", Reason: fmt.Sprintf("price of %q has more than %d decimal places", it.ID, PriceScale)}
		}
		if _, ok := categories[it.CategoryID]; !ok {
			return &ValidationError{Field: "items", Reason: fmt.Sprintf("unknown category %q for %q", it.CategoryID, it.ID)}
		}
	}
	return nil
}

// Repository defines persistence operations for menus.
type Repository interface {
	Get(ctx context.Context, restaurantID string) (*Menu, error)
	// GetItems returns the items of restaurantID whose IDs are in ids.
	// Missing IDs are silently omitted.
	GetItems(ctx context.Context, restaurantID string, ids []string) ([]Item, error)
	// Save replaces the whole menu of m.RestaurantID.
	Save(ctx context.Context, m *Menu) error
}

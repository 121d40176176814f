package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/qrmenu/internal/domain/menu"
)

const (
	restaurantExistsSQL = `SELECT EXISTS (SELECT 1 FROM profiles WHERE restaurant_id = $1)
		OR EXISTS (SELECT 1 FROM menu_categories WHERE restaurant_id = $1)`

	listCategoriesSQL = `SELECT id, name, position FROM menu_categories
		WHERE restaurant_id = $1 ORDER BY position, id`

	menuItemColumns = `id, category_id, name, description, price, image_url, available`

	listMenuItemsSQL = `SELECT ` + menuItemColumns + ` FROM menu_items
		WHERE restaurant_id = $1 ORDER BY category_id, name, id`

	getMenuItemsSQL = `SELECT ` + menuItemColumns + ` FROM menu_items
		WHERE restaurant_id = $1 AND id = ANY($2)`

	deleteMenuItemsSQL      = `DELETE FROM menu_items WHERE restaurant_id = $1`
	deleteMenuCategoriesSQL = `DELETE FROM menu_categories WHERE restaurant_id = $1`

	insertCategorySQL = `INSERT INTO menu_categories (restaurant_id, id, name, position)
		VALUES ($1, $2, $3, $4)`

	insertMenuItemSQL = `INSERT INTO menu_items (restaurant_id, ` + menuItemColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
)

var _ menu.Repository = (*MenuRepository)(nil)

// MenuRepository implements menu.Repository backed by PostgreSQL.
type MenuRepository struct {
	pool *pgxpool.Pool
}

// NewMenuRepository returns a MenuRepository that uses the given pool.
func NewMenuRepository(pool *pgxpool.Pool) *MenuRepository {
	return &MenuRepository{pool: pool}
}

// Get returns the full menu of a restaurant. A restaurant with a profile but
// no categories yet has an empty menu.
func (r *MenuRepository) Get(ctx context.Context, restaurantID string) (*menu.Menu, error) {
	if err := r.ensureRestaurant(ctx, restaurantID); err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx, listCategoriesSQL, restaurantID)
	if err != nil {
		return nil, fmt.Errorf("listing categories of %q: %w", restaurantID, err)
	}
	categories, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (menu.Category, error) {
		var c menu.Category
		err := row.Scan(&c.ID, &c.Name, &c.Position)
		return c, err
	})
	if err != nil {
		return nil, fmt.Errorf("listing categories of %q: %w", restaurantID, err)
	}

	rows, err = r.pool.Query(ctx, listMenuItemsSQL, restaurantID)
	if err != nil {
		return nil, fmt.Errorf("listing menu items of %q: %w", restaurantID, err)
	}
	items, err := pgx.CollectRows(rows, scanMenuItem)
	if err != nil {
		return nil, fmt.Errorf("listing menu items of %q: %w", restaurantID, err)
	}

	return &menu.Menu{
		RestaurantID: restaurantID,
		Categories:   categories,
		Items:        items,
	}, nil
}

// GetItems returns the restaurant's items matching any of the given IDs.
func (r *MenuRepository) GetItems(ctx context.Context, restaurantID string, ids []string) ([]menu.Item, error) {
	rows, err := r.pool.Query(ctx, getMenuItemsSQL, restaurantID, ids)
	if err != nil {
		return nil, fmt.Errorf("getting menu items of %q: %w", restaurantID, err)
	}
	items, err := pgx.CollectRows(rows, scanMenuItem)
	if err != nil {
		return nil, fmt.Errorf("getting menu items of %q: %w", restaurantID, err)
	}
	if len(items) == 0 {
		if err := r.ensureRestaurant(ctx, restaurantID); err != nil {
			return nil, err
		}
	}
	return items, nil
}

// Save replaces the whole menu in one transaction.
func (r *MenuRepository) Save(ctx context.Context, m *menu.Menu) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		batch.Queue(deleteMenuItemsSQL, m.RestaurantID)
		batch.Queue(deleteMenuCategoriesSQL, m.RestaurantID)
		for _, c := range m.Categories {
			batch.Queue(insertCategorySQL, m.RestaurantID, c.ID, c.Name, c.Position)
		}
		for _, it := range m.Items {
			batch.Queue(insertMenuItemSQL, m.RestaurantID,
				it.ID, it.CategoryID, it.Name, it.Description, it.Price, it.ImageURL, it.Available,
			)
		}

		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("saving menu of %q: %w", m.RestaurantID, err)
		}
		return nil
	})
}

func (r *MenuRepository) ensureRestaurant(ctx context.Context, restaurantID string) error {
	var exists bool
	if err := r.pool.QueryRow(ctx, restaurantExistsSQL, restaurantID).Scan(&exists); err != nil {
		return fmt.Errorf("checking restaurant %q: %w", restaurantID, err)
	}
	if !exists {
		return menu.ErrNotFound
	}
	return nil
}

func scanMenuItem(row pgx.CollectableRow) (menu.Item, error) {
	var (
		it    menu.Item
		price decimal.Decimal
	)
	err := row.Scan(&it.ID, &it.CategoryID, &it.Name, &it.Description, &price, &it.ImageURL, &it.Available)
	it.Price = price
	return it, err
}

package repository

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/qrmenu/internal/domain/profile"
)

const (
	getProfileSQL = `SELECT restaurant_id, name, order_style, currency
		FROM profiles WHERE restaurant_id = $1`

	upsertProfileSQL = `INSERT INTO profiles (restaurant_id, name, order_style, currency, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (restaurant_id) DO UPDATE
		SET name = EXCLUDED.name, order_style = EXCLUDED.order_style,
			currency = EXCLUDED.currency, updated_at = now()`
)

var _ profile.Repository = (*ProfileRepository)(nil)

// ProfileRepository implements profile.Repository backed by PostgreSQL.
type ProfileRepository struct {
	pool *pgxpool.Pool
}

// NewProfileRepository returns a ProfileRepository that uses the given pool.
func NewProfileRepository(pool *pgxpool.Pool) *ProfileRepository {
	return &ProfileRepository{pool: pool}
}

// Get returns the profile of a restaurant.
func (r *ProfileRepository) Get(ctx context.Context, restaurantID string) (*profile.Profile, error) {
	var (
		p     profile.Profile
		style string
	)
	err := r.pool.QueryRow(ctx, getProfileSQL, restaurantID).Scan(
		&p.RestaurantID, &p.Name, &style, &p.Currency,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, profile.ErrNotFound
		}
		return nil, fmt.Errorf("getting profile %q: %w", restaurantID, err)
	}
	p.OrderStyle = profile.OrderStyle(style)
	return &p, nil
}

// Save creates or replaces the profile of p.RestaurantID.
func (r *ProfileRepository) Save(ctx context.Context, p *profile.Profile) error {
	_, err := r.pool.Exec(ctx, upsertProfileSQL,
		p.RestaurantID, p.Name, string(p.OrderStyle), p.Currency,
	)
	if err != nil {
		return fmt.Errorf("saving profile %q: %w", p.RestaurantID, err)
	}
	return nil
}

// README: Branch store backed by PostgreSQL (read-only lookups).
package branch

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"delixmi/internal/errs"
)

var ErrNotFound = errs.NotFound("BRANCH_NOT_FOUND", "branch not found")

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Branch, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, restaurant_id, name, lat, lng, service_radius_km,
		       uses_platform_drivers, COALESCE(phone, '')
		FROM branches
		WHERE id = $1`, id,
	)

	var b Branch
	err := row.Scan(
		&b.ID, &b.RestaurantID, &b.Name, &b.Location.Lat, &b.Location.Lng,
		&b.ServiceRadiusKm, &b.UsesPlatformDrivers, &b.Phone,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// README: Courier profile store backed by PostgreSQL.
package courier

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"delixmi/internal/geo"
)

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) GetByUserID(ctx context.Context, userID uuid.UUID) (*Profile, error) {
	row := s.db.QueryRow(ctx, `
		SELECT dp.user_id, u.name, dp.status, dp.vehicle_type, dp.license_plate,
		       dp.current_lat, dp.current_lng, dp.last_seen_at, dp.kyc_status
		FROM driver_profiles dp
		JOIN users u ON u.id = dp.user_id
		WHERE dp.user_id = $1`, userID,
	)
	return scanProfile(row)
}

// UpdateLocation stores the new position and last-seen time, returning the
// refreshed profile plus the previous position (nil on the first ping).
func (s *Store) UpdateLocation(ctx context.Context, userID uuid.UUID, p geo.Point, at time.Time) (*Profile, *geo.Point, error) {
	row := s.db.QueryRow(ctx, `
		UPDATE driver_profiles dp
		SET current_lat = $2, current_lng = $3, last_seen_at = $4
		FROM (
			SELECT user_id, current_lat AS prev_lat, current_lng AS prev_lng
			FROM driver_profiles
			WHERE user_id = $1
			FOR UPDATE
		) prev, users u
		WHERE dp.user_id = prev.user_id AND u.id = dp.user_id
		RETURNING dp.user_id, u.name, dp.status, dp.vehicle_type, dp.license_plate,
		          dp.current_lat, dp.current_lng, dp.last_seen_at, dp.kyc_status,
		          prev.prev_lat, prev.prev_lng`,
		userID, p.Lat, p.Lng, at,
	)

	var prof Profile
	var lat, lng, prevLat, prevLng *float64
	err := row.Scan(
		&prof.UserID, &prof.Name, &prof.Status, &prof.VehicleType, &prof.LicensePlate,
		&lat, &lng, &prof.LastSeenAt, &prof.KycStatus,
		&prevLat, &prevLng,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, ErrProfileNotFound
	}
	if err != nil {
		return nil, nil, err
	}
	if lat != nil && lng != nil {
		prof.Location = &geo.Point{Lat: *lat, Lng: *lng}
	}
	var prev *geo.Point
	if prevLat != nil && prevLng != nil {
		prev = &geo.Point{Lat: *prevLat, Lng: *prevLng}
	}
	return &prof, prev, nil
}

// SetStatus flips the profile to the target status unless the courier is
// mid-delivery. The zero-row case is disambiguated by the caller.
func (s *Store) SetStatus(ctx context.Context, userID uuid.UUID, to Status) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE driver_profiles
		SET status = $2
		WHERE user_id = $1 AND status <> 'busy'`,
		userID, string(to),
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Store) ActiveDelivery(ctx context.Context, courierID uuid.UUID) (ActiveDelivery, bool, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, customer_id
		FROM orders
		WHERE delivery_driver_id = $1 AND status = 'out_for_delivery'`,
		courierID,
	)
	var d ActiveDelivery
	err := row.Scan(&d.OrderID, &d.CustomerID)
	if errors.Is(err, pgx.ErrNoRows) {
		return ActiveDelivery{}, false, nil
	}
	if err != nil {
		return ActiveDelivery{}, false, err
	}
	return d, true, nil
}

// SweepStale forces online couriers offline when their last ping predates
// the cutoff, returning everyone it touched.
func (s *Store) SweepStale(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error) {
	rows, err := s.db.Query(ctx, `
		UPDATE driver_profiles
		SET status = 'offline'
		WHERE status = 'online' AND (last_seen_at IS NULL OR last_seen_at < $1)
		RETURNING user_id`, cutoff,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanProfile(row pgx.Row) (*Profile, error) {
	var prof Profile
	var lat, lng *float64
	err := row.Scan(
		&prof.UserID, &prof.Name, &prof.Status, &prof.VehicleType, &prof.LicensePlate,
		&lat, &lng, &prof.LastSeenAt, &prof.KycStatus,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrProfileNotFound
	}
	if err != nil {
		return nil, err
	}
	if lat != nil && lng != nil {
		prof.Location = &geo.Point{Lat: *lat, Lng: *lng}
	}
	return &prof, nil
}

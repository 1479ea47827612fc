// README: Dispatch store; the claim compare-and-swap and completion run as single transactions.
package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"delixmi/internal/modules/order"
)

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// CandidateOrders projects claimable orders under the eligibility predicate:
// branch coordinates and radius only, never full detail.
func (s *Store) CandidateOrders(ctx context.Context, e Eligibility) ([]Candidate, error) {
	rows, err := s.db.Query(ctx, `
		SELECT o.id, b.lat, b.lng, b.service_radius_km
		FROM orders o
		JOIN branches b ON b.id = o.branch_id
		WHERE o.status = 'ready_for_pickup'
		  AND o.delivery_driver_id IS NULL
		  AND (($1 AND b.uses_platform_drivers)
		    OR (NOT b.uses_platform_drivers AND b.restaurant_id = ANY($2)))
		ORDER BY o.placed_at`,
		e.Platform, restaurantArray(e),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Candidate
	for rows.Next() {
		var c Candidate
		if err := rows.Scan(&c.OrderID, &c.Branch.Lat, &c.Branch.Lng, &c.RadiusKm); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

const claimColumns = `
	o.id, o.customer_id, o.branch_id, o.address_id, o.delivery_driver_id, o.status,
	o.subtotal::text, o.delivery_fee::text, o.platform_fee::text, o.total::text,
	o.payment_method, o.rejection_reason, o.placed_at, o.claimed_at, o.delivered_at, o.updated_at`

// ClaimOrder is the claim compare-and-swap. The conditional update is the
// sole mechanism preventing double assignment; there is no lock anywhere
// else. The courier flip rides the same transaction, so a courier who is not
// online anymore aborts the claim as a whole.
func (s *Store) ClaimOrder(ctx context.Context, orderID, courierID uuid.UUID, e Eligibility) (*order.Order, uuid.UUID, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, uuid.Nil, err
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		UPDATE orders o
		SET delivery_driver_id = $1, status = 'out_for_delivery', claimed_at = NOW(), updated_at = NOW()
		FROM branches b
		WHERE o.id = $2
		  AND o.branch_id = b.id
		  AND o.status = 'ready_for_pickup'
		  AND o.delivery_driver_id IS NULL
		  AND (($3 AND b.uses_platform_drivers)
		    OR (NOT b.uses_platform_drivers AND b.restaurant_id = ANY($4)))
		RETURNING`+claimColumns+`, b.restaurant_id`,
		courierID, orderID, e.Platform, restaurantArray(e),
	)
	o, restaurantID, err := scanOrderRow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, uuid.Nil, ErrOrderTaken
	}
	if err != nil {
		return nil, uuid.Nil, err
	}

	tag, err := tx.Exec(ctx, `
		UPDATE driver_profiles
		SET status = 'busy'
		WHERE user_id = $1 AND status = 'online'`, courierID,
	)
	if err != nil {
		return nil, uuid.Nil, err
	}
	if tag.RowsAffected() != 1 {
		// Rollback undoes the order update too; nothing was claimed.
		return nil, uuid.Nil, ErrCourierUnavailable
	}

	if err := appendHistory(ctx, tx, orderID, order.StatusReadyForPickup, order.StatusOutForDelivery, courierID); err != nil {
		return nil, uuid.Nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, uuid.Nil, err
	}
	return o, restaurantID, nil
}

// CompleteOrder delivers an order. Status and ownership are both required;
// courier B completing courier A's delivery matches zero rows.
func (s *Store) CompleteOrder(ctx context.Context, orderID, courierID uuid.UUID) (*order.Order, uuid.UUID, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, uuid.Nil, err
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
		UPDATE orders o
		SET status = 'delivered', delivered_at = NOW(), updated_at = NOW()
		FROM branches b
		WHERE o.id = $1
		  AND o.branch_id = b.id
		  AND o.status = 'out_for_delivery'
		  AND o.delivery_driver_id = $2
		RETURNING`+claimColumns+`, b.restaurant_id`,
		orderID, courierID,
	)
	o, restaurantID, err := scanOrderRow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, uuid.Nil, ErrNotAssigned
	}
	if err != nil {
		return nil, uuid.Nil, err
	}

	// Straight back into the pool. No status guard: while out_for_delivery
	// the courier is busy by invariant, and completion must not fail on
	// profile drift.
	if _, err := tx.Exec(ctx, `
		UPDATE driver_profiles
		SET status = 'online'
		WHERE user_id = $1`, courierID,
	); err != nil {
		return nil, uuid.Nil, err
	}

	if err := appendHistory(ctx, tx, orderID, order.StatusOutForDelivery, order.StatusDelivered, courierID); err != nil {
		return nil, uuid.Nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, uuid.Nil, err
	}
	return o, restaurantID, nil
}

func appendHistory(ctx context.Context, tx pgx.Tx, orderID uuid.UUID, from, to order.Status, courierID uuid.UUID) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO order_status_history (order_id, from_status, to_status, actor_type, actor_id, created_at)
		VALUES ($1, $2, $3, 'driver', $4, NOW())`,
		orderID, string(from), string(to), courierID,
	)
	return err
}

// restaurantArray never hands pgx a nil slice; ANY(NULL) has different
// semantics than ANY('{}').
func restaurantArray(e Eligibility) []uuid.UUID {
	if e.RestaurantIDs == nil {
		return []uuid.UUID{}
	}
	return e.RestaurantIDs
}

func scanOrderRow(row pgx.Row) (*order.Order, uuid.UUID, error) {
	var o order.Order
	var restaurantID uuid.UUID
	var subtotal, deliveryFee, platformFee, total string
	err := row.Scan(
		&o.ID, &o.CustomerID, &o.BranchID, &o.AddressID, &o.CourierID, &o.Status,
		&subtotal, &deliveryFee, &platformFee, &total,
		&o.PaymentMethod, &o.RejectionReason, &o.PlacedAt, &o.ClaimedAt, &o.DeliveredAt, &o.UpdatedAt,
		&restaurantID,
	)
	if err != nil {
		return nil, uuid.Nil, err
	}
	if o.Subtotal, err = decimal.NewFromString(subtotal); err != nil {
		return nil, uuid.Nil, fmt.Errorf("parse subtotal: %w", err)
	}
	if o.DeliveryFee, err = decimal.NewFromString(deliveryFee); err != nil {
		return nil, uuid.Nil, fmt.Errorf("parse delivery_fee: %w", err)
	}
	if o.PlatformFee, err = decimal.NewFromString(platformFee); err != nil {
		return nil, uuid.Nil, fmt.Errorf("parse platform_fee: %w", err)
	}
	if o.Total, err = decimal.NewFromString(total); err != nil {
		return nil, uuid.Nil, fmt.Errorf("parse total: %w", err)
	}
	return &o, restaurantID, nil
}

// README: Order store backed by PostgreSQL; status writes are conditional updates plus an audit row in one transaction.
package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

const orderColumns = `
	id, customer_id, branch_id, address_id, delivery_driver_id, status,
	subtotal::text, delivery_fee::text, platform_fee::text, total::text,
	payment_method, rejection_reason, placed_at, claimed_at, delivered_at, updated_at`

func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Order, error) {
	row := s.db.QueryRow(ctx, `
		SELECT`+orderColumns+`
		FROM orders
		WHERE id = $1`, id,
	)
	return scanOrder(row)
}

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	var subtotal, deliveryFee, platformFee, total string
	err := row.Scan(
		&o.ID, &o.CustomerID, &o.BranchID, &o.AddressID, &o.CourierID, &o.Status,
		&subtotal, &deliveryFee, &platformFee, &total,
		&o.PaymentMethod, &o.RejectionReason, &o.PlacedAt, &o.ClaimedAt, &o.DeliveredAt, &o.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if o.Subtotal, err = decimal.NewFromString(subtotal); err != nil {
		return nil, fmt.Errorf("parse subtotal: %w", err)
	}
	if o.DeliveryFee, err = decimal.NewFromString(deliveryFee); err != nil {
		return nil, fmt.Errorf("parse delivery_fee: %w", err)
	}
	if o.PlatformFee, err = decimal.NewFromString(platformFee); err != nil {
		return nil, fmt.Errorf("parse platform_fee: %w", err)
	}
	if o.Total, err = decimal.NewFromString(total); err != nil {
		return nil, fmt.Errorf("parse total: %w", err)
	}
	return &o, nil
}

type TransitionParams struct {
	OrderID   uuid.UUID
	From      Status
	To        Status
	ActorType string
	ActorID   *uuid.UUID
}

// Transition performs the conditional status update and appends the audit row
// in one transaction. Returns false when the order was no longer in the
// expected status; that is the caller's conflict signal, not an error.
func (s *Store) Transition(ctx context.Context, p TransitionParams) (bool, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE orders
		SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3`,
		string(p.To), p.OrderID, string(p.From),
	)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() != 1 {
		return false, nil
	}
	if err := appendHistory(ctx, tx, p.OrderID, p.From, p.To, p.ActorType, p.ActorID); err != nil {
		return false, err
	}
	return true, tx.Commit(ctx)
}

// ConfirmPending flips a pending order to confirmed and its payment to
// approved in one transaction. Driven by the gateway webhook.
func (s *Store) ConfirmPending(ctx context.Context, orderID, paymentID uuid.UUID) (bool, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE orders
		SET status = 'confirmed', updated_at = NOW()
		WHERE id = $1 AND status = 'pending'`, orderID,
	)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() != 1 {
		return false, nil
	}
	if _, err := tx.Exec(ctx, `
		UPDATE payments
		SET status = 'approved', updated_at = NOW()
		WHERE id = $1`, paymentID,
	); err != nil {
		return false, err
	}
	if err := appendHistory(ctx, tx, orderID, StatusPending, StatusConfirmed, "payment_gateway", nil); err != nil {
		return false, err
	}
	return true, tx.Commit(ctx)
}

type RejectParams struct {
	OrderID   uuid.UUID
	PaymentID uuid.UUID
	ActorID   uuid.UUID
	Reason    string
	RefundRef string
}

// RejectAndRefund records the local side of an already-refunded order: order
// to rejected, payment to refunded, audit row. The gateway call happened
// before this and outside of it.
func (s *Store) RejectAndRefund(ctx context.Context, p RejectParams) (bool, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE orders
		SET status = 'rejected', rejection_reason = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'confirmed'`,
		p.OrderID, p.Reason,
	)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() != 1 {
		return false, nil
	}
	if _, err := tx.Exec(ctx, `
		UPDATE payments
		SET status = 'refunded', refund_ref = $2, updated_at = NOW()
		WHERE id = $1`, p.PaymentID, p.RefundRef,
	); err != nil {
		return false, err
	}
	actorID := p.ActorID
	if err := appendHistory(ctx, tx, p.OrderID, StatusConfirmed, StatusRejected, "restaurant", &actorID); err != nil {
		return false, err
	}
	return true, tx.Commit(ctx)
}

func appendHistory(ctx context.Context, tx pgx.Tx, orderID uuid.UUID, from, to Status, actorType string, actorID *uuid.UUID) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO order_status_history (order_id, from_status, to_status, actor_type, actor_id, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())`,
		orderID, string(from), string(to), actorType, actorID,
	)
	return err
}

func (s *Store) History(ctx context.Context, orderID uuid.UUID) ([]StatusEvent, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, order_id, from_status, to_status, actor_type, actor_id, created_at
		FROM order_status_history
		WHERE order_id = $1
		ORDER BY id`, orderID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []StatusEvent
	for rows.Next() {
		var e StatusEvent
		if err := rows.Scan(&e.ID, &e.OrderID, &e.FromStatus, &e.ToStatus, &e.ActorType, &e.ActorID, &e.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// DetailsByIDs hydrates full order detail for exactly the given ids,
// preserving their order. Two queries total regardless of page size.
func (s *Store) DetailsByIDs(ctx context.Context, ids []uuid.UUID) ([]Detail, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	rows, err := s.db.Query(ctx, `
		SELECT o.id, o.status,
		       o.subtotal::text, o.delivery_fee::text, o.platform_fee::text, o.total::text,
		       o.payment_method, o.placed_at,
		       u.id, u.name, COALESCE(u.phone, ''),
		       b.id, b.name, b.lat, b.lng,
		       a.street, a.exterior_number, a.neighborhood, a.city, a.zip_code, a.lat, a.lng,
		       p.method, p.status, p.amount::text
		FROM orders o
		JOIN users u ON u.id = o.customer_id
		JOIN branches b ON b.id = o.branch_id
		JOIN addresses a ON a.id = o.address_id
		LEFT JOIN payments p ON p.order_id = o.id
		WHERE o.id = ANY($1)`, ids,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byID := make(map[uuid.UUID]*Detail, len(ids))
	for rows.Next() {
		var d Detail
		var subtotal, deliveryFee, platformFee, total string
		var payMethod, payStatus, payAmount *string
		err := rows.Scan(
			&d.ID, &d.Status,
			&subtotal, &deliveryFee, &platformFee, &total,
			&d.PaymentMethod, &d.PlacedAt,
			&d.Customer.ID, &d.Customer.Name, &d.Customer.Phone,
			&d.Branch.ID, &d.Branch.Name, &d.Branch.Lat, &d.Branch.Lng,
			&d.Address.Street, &d.Address.ExteriorNumber, &d.Address.Neighborhood,
			&d.Address.City, &d.Address.ZipCode, &d.Address.Lat, &d.Address.Lng,
			&payMethod, &payStatus, &payAmount,
		)
		if err != nil {
			return nil, err
		}
		if d.Subtotal, err = decimal.NewFromString(subtotal); err != nil {
			return nil, fmt.Errorf("parse subtotal: %w", err)
		}
		if d.DeliveryFee, err = decimal.NewFromString(deliveryFee); err != nil {
			return nil, fmt.Errorf("parse delivery_fee: %w", err)
		}
		if d.PlatformFee, err = decimal.NewFromString(platformFee); err != nil {
			return nil, fmt.Errorf("parse platform_fee: %w", err)
		}
		if d.Total, err = decimal.NewFromString(total); err != nil {
			return nil, fmt.Errorf("parse total: %w", err)
		}
		if payMethod != nil && payStatus != nil && payAmount != nil {
			amount, err := decimal.NewFromString(*payAmount)
			if err != nil {
				return nil, fmt.Errorf("parse payment amount: %w", err)
			}
			d.Payment = &PaymentInfo{Method: *payMethod, Status: *payStatus, Amount: amount}
		}
		d.Items = []Item{}
		byID[d.ID] = &d
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	itemRows, err := s.db.Query(ctx, `
		SELECT order_id, name, quantity, unit_price::text, modifiers
		FROM order_items
		WHERE order_id = ANY($1)
		ORDER BY id`, ids,
	)
	if err != nil {
		return nil, err
	}
	defer itemRows.Close()

	for itemRows.Next() {
		var orderID uuid.UUID
		var it Item
		var unitPrice string
		var modifiers []byte
		if err := itemRows.Scan(&orderID, &it.Name, &it.Quantity, &unitPrice, &modifiers); err != nil {
			return nil, err
		}
		if it.UnitPrice, err = decimal.NewFromString(unitPrice); err != nil {
			return nil, fmt.Errorf("parse unit_price: %w", err)
		}
		if len(modifiers) > 0 {
			if err := json.Unmarshal(modifiers, &it.Modifiers); err != nil {
				return nil, fmt.Errorf("parse modifiers: %w", err)
			}
		}
		if d, ok := byID[orderID]; ok {
			d.Items = append(d.Items, it)
		}
	}
	if err := itemRows.Err(); err != nil {
		return nil, err
	}

	out := make([]Detail, 0, len(ids))
	for _, id := range ids {
		if d, ok := byID[id]; ok {
			out = append(out, *d)
		}
	}
	return out, nil
}

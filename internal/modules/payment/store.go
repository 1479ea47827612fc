// README: Payment store backed by PostgreSQL (lookups; approve/refund flips ride order transactions).
package payment

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"delixmi/internal/errs"
)

var ErrNotFound = errs.NotFound("PAYMENT_NOT_FOUND", "payment not found")

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

const paymentColumns = `
	id, order_id, amount::text, currency, method, status,
	COALESCE(gateway_ref, ''), refund_ref, created_at, updated_at`

func (s *Store) GetByOrder(ctx context.Context, orderID uuid.UUID) (*Payment, error) {
	row := s.db.QueryRow(ctx, `
		SELECT`+paymentColumns+`
		FROM payments
		WHERE order_id = $1`, orderID,
	)
	return scanPayment(row)
}

func (s *Store) GetByGatewayRef(ctx context.Context, ref string) (*Payment, error) {
	row := s.db.QueryRow(ctx, `
		SELECT`+paymentColumns+`
		FROM payments
		WHERE gateway_ref = $1`, ref,
	)
	return scanPayment(row)
}

// MarkFailed flips a pending payment to failed after a declined capture.
// Approve and refund flips happen inside the order transactions instead.
func (s *Store) MarkFailed(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE payments
		SET status = 'failed', updated_at = NOW()
		WHERE id = $1 AND status = 'pending'`, id,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func scanPayment(row pgx.Row) (*Payment, error) {
	var p Payment
	var amount string
	err := row.Scan(
		&p.ID, &p.OrderID, &amount, &p.Currency, &p.Method, &p.Status,
		&p.GatewayRef, &p.RefundRef, &p.CreatedAt, &p.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	p.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

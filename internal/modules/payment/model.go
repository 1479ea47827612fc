// README: Payment record tied to an order, mirrored from the gateway.
package payment

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRefunded Status = "refunded"
	StatusFailed   Status = "failed"
)

type Payment struct {
	ID       uuid.UUID
	OrderID  uuid.UUID
	Amount   decimal.Decimal
	Currency string
	Method   string
	Status   Status
	// GatewayRef is the provider's payment id; refunds are issued against it.
	GatewayRef string
	RefundRef  *string
	CreatedAt  time.Time
	UpdatedAt  *time.Time
}

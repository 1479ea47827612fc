// README: Order aggregate, status machine, and API views.
package order

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending        Status = "pending"
	StatusConfirmed      Status = "confirmed"
	StatusPreparing      Status = "preparing"
	StatusReadyForPickup Status = "ready_for_pickup"
	StatusOutForDelivery Status = "out_for_delivery"
	StatusDelivered      Status = "delivered"
	StatusCancelled      Status = "cancelled"
	StatusRejected       Status = "rejected"
)

// AllowedTransitions represents the order state flow (diagram) as code.
// ready_for_pickup -> out_for_delivery is owned by the claim transaction and
// out_for_delivery -> delivered by the completion transaction; neither is ever
// written as a plain status update.
var AllowedTransitions = map[Status][]Status{
	StatusPending:        {StatusConfirmed, StatusCancelled},
	StatusConfirmed:      {StatusPreparing, StatusRejected},
	StatusPreparing:      {StatusReadyForPickup},
	StatusReadyForPickup: {StatusOutForDelivery},
	StatusOutForDelivery: {StatusDelivered},
}

func CanTransition(from, to Status) bool {
	next, ok := AllowedTransitions[from]
	if !ok {
		return false
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}

func (s Status) Terminal() bool {
	switch s {
	case StatusDelivered, StatusCancelled, StatusRejected:
		return true
	}
	return false
}

type Order struct {
	ID         uuid.UUID
	CustomerID uuid.UUID
	BranchID   uuid.UUID
	AddressID  uuid.UUID
	// CourierID is set by the claim transaction and only while the order is
	// out_for_delivery or delivered.
	CourierID       *uuid.UUID
	Status          Status
	Subtotal        decimal.Decimal
	DeliveryFee     decimal.Decimal
	PlatformFee     decimal.Decimal
	Total           decimal.Decimal
	PaymentMethod   string
	RejectionReason *string
	PlacedAt        time.Time
	ClaimedAt       *time.Time
	DeliveredAt     *time.Time
	UpdatedAt       *time.Time
}

// StatusEvent is one audit row; appended in the same transaction as the
// status write it records.
type StatusEvent struct {
	ID         int64      `json:"-"`
	OrderID    uuid.UUID  `json:"-"`
	FromStatus Status     `json:"fromStatus"`
	ToStatus   Status     `json:"toStatus"`
	ActorType  string     `json:"actorType"`
	ActorID    *uuid.UUID `json:"actorId,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
}

// Summary is the compact order representation returned by mutations.
type Summary struct {
	ID              uuid.UUID       `json:"id"`
	Status          Status          `json:"status"`
	BranchID        uuid.UUID       `json:"branchId"`
	CustomerID      uuid.UUID       `json:"customerId"`
	CourierID       *uuid.UUID      `json:"driverId,omitempty"`
	Total           decimal.Decimal `json:"total"`
	PlacedAt        time.Time       `json:"placedAt"`
	DeliveredAt     *time.Time      `json:"deliveredAt,omitempty"`
	RejectionReason *string         `json:"rejectionReason,omitempty"`
}

func (o *Order) Summary() Summary {
	return Summary{
		ID:              o.ID,
		Status:          o.Status,
		BranchID:        o.BranchID,
		CustomerID:      o.CustomerID,
		CourierID:       o.CourierID,
		Total:           o.Total,
		PlacedAt:        o.PlacedAt,
		DeliveredAt:     o.DeliveredAt,
		RejectionReason: o.RejectionReason,
	}
}

// RefundReceipt reports the gateway refund issued when an order is rejected.
type RefundReceipt struct {
	RefundID string          `json:"refundId"`
	Amount   decimal.Decimal `json:"amount"`
	Status   string          `json:"status"`
}

// Modifier is a priced item option, snapshotted at checkout time.
type Modifier struct {
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
}

type Item struct {
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	Modifiers []Modifier      `json:"modifiers,omitempty"`
}

type CustomerInfo struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Phone string    `json:"phone,omitempty"`
}

type BranchInfo struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
	Lat  float64   `json:"latitude"`
	Lng  float64   `json:"longitude"`
}

type AddressInfo struct {
	Street         string  `json:"street"`
	ExteriorNumber string  `json:"exteriorNumber"`
	Neighborhood   string  `json:"neighborhood"`
	City           string  `json:"city"`
	ZipCode        string  `json:"zipCode"`
	Lat            float64 `json:"latitude"`
	Lng            float64 `json:"longitude"`
}

type PaymentInfo struct {
	Method string          `json:"method"`
	Status string          `json:"status"`
	Amount decimal.Decimal `json:"amount"`
}

// Detail is the hydrated projection couriers browse before claiming. It is
// only assembled for the page being returned, never for filtering.
type Detail struct {
	ID            uuid.UUID       `json:"id"`
	Status        Status          `json:"status"`
	Subtotal      decimal.Decimal `json:"subtotal"`
	DeliveryFee   decimal.Decimal `json:"deliveryFee"`
	PlatformFee   decimal.Decimal `json:"platformFee"`
	Total         decimal.Decimal `json:"total"`
	PaymentMethod string          `json:"paymentMethod"`
	PlacedAt      time.Time       `json:"placedAt"`
	Customer      CustomerInfo    `json:"customer"`
	Branch        BranchInfo      `json:"branch"`
	Address       AddressInfo     `json:"deliveryAddress"`
	Payment       *PaymentInfo    `json:"payment,omitempty"`
	Items         []Item          `json:"items"`
}

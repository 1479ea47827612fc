// README: Order service implements lifecycle transitions, rejection refunds, and staff authorization.
package order

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"delixmi/internal/errs"
	"delixmi/internal/geo"
	"delixmi/internal/modules/branch"
	"delixmi/internal/modules/identity"
	"delixmi/internal/modules/payment"
	"delixmi/internal/notify"
)

var (
	ErrNotFound             = errs.NotFound("ORDER_NOT_FOUND", "order not found")
	ErrInvalidTransition    = errs.Precondition("INVALID_STATE_TRANSITION", "order status does not allow this transition")
	ErrInvalidState         = errs.Precondition("INVALID_ORDER_STATE", "order must be confirmed to be rejected")
	ErrPaymentNotRefundable = errs.Precondition("PAYMENT_NOT_REFUNDABLE", "payment has not been captured, nothing to refund")
	ErrForbidden            = errs.Forbidden("FORBIDDEN", "actor may not manage this order")
	ErrConflict             = errs.Conflict("ORDER_CONFLICT", "order changed concurrently, reload and retry")
)

type StatusStore interface {
	Get(ctx context.Context, id uuid.UUID) (*Order, error)
	History(ctx context.Context, orderID uuid.UUID) ([]StatusEvent, error)
	Transition(ctx context.Context, p TransitionParams) (bool, error)
	ConfirmPending(ctx context.Context, orderID, paymentID uuid.UUID) (bool, error)
	RejectAndRefund(ctx context.Context, p RejectParams) (bool, error)
}

type PaymentStore interface {
	GetByOrder(ctx context.Context, orderID uuid.UUID) (*payment.Payment, error)
	GetByGatewayRef(ctx context.Context, ref string) (*payment.Payment, error)
	MarkFailed(ctx context.Context, id uuid.UUID) (bool, error)
}

type BranchStore interface {
	Get(ctx context.Context, id uuid.UUID) (*branch.Branch, error)
}

type UserStore interface {
	GetUserWithRoles(ctx context.Context, id uuid.UUID) (*identity.User, error)
}

// CourierLocator finds online couriers near a branch for the targeted
// ready-order push.
type CourierLocator interface {
	Nearby(ctx context.Context, center geo.Point, radiusKm float64) ([]uuid.UUID, error)
}

// PushRecorder remembers, for a while, when a ready order was pushed and to
// whom. Claims read it back for operational logging.
type PushRecorder interface {
	RecordPush(ctx context.Context, orderID uuid.UUID, courierIDs []uuid.UUID) error
}

type Deps struct {
	Store    StatusStore
	Payments PaymentStore
	Branches BranchStore
	Users    UserStore
	Couriers CourierLocator
	PushLog  PushRecorder
	Gateway  payment.Gateway
	Notifier notify.Publisher
	// RadiusKm is the fallback push radius for branches without one.
	RadiusKm float64
	Logger   *slog.Logger
}

type Service struct {
	store    StatusStore
	payments PaymentStore
	branches BranchStore
	users    UserStore
	couriers CourierLocator
	pushlog  PushRecorder
	gateway  payment.Gateway
	notifier notify.Publisher
	radiusKm float64
	logger   *slog.Logger
}

func NewService(d Deps) *Service {
	return &Service{
		store:    d.Store,
		payments: d.Payments,
		branches: d.Branches,
		users:    d.Users,
		couriers: d.Couriers,
		pushlog:  d.PushLog,
		gateway:  d.Gateway,
		notifier: d.Notifier,
		radiusKm: d.RadiusKm,
		logger:   d.Logger.With("component", "order_service"),
	}
}

type WebhookCommand struct {
	GatewayRef string
	Approved   bool
}

// ConfirmPayment handles the gateway capture webhook. An approved capture
// moves the order pending -> confirmed and the payment to approved in one
// transaction; a declined capture only marks the payment failed.
func (s *Service) ConfirmPayment(ctx context.Context, cmd WebhookCommand) (*Order, error) {
	pay, err := s.payments.GetByGatewayRef(ctx, cmd.GatewayRef)
	if err != nil {
		return nil, err
	}

	if !cmd.Approved {
		if _, err := s.payments.MarkFailed(ctx, pay.ID); err != nil {
			return nil, err
		}
		s.logger.Info("payment declined by gateway", "order_id", pay.OrderID, "gateway_ref", cmd.GatewayRef)
		return s.store.Get(ctx, pay.OrderID)
	}

	ok, err := s.store.ConfirmPending(ctx, pay.OrderID, pay.ID)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Webhook replays and late deliveries land here; the order already
		// left pending.
		return nil, ErrInvalidTransition
	}

	o, err := s.store.Get(ctx, pay.OrderID)
	if err != nil {
		return nil, err
	}
	e := notify.Event{
		Event:     notify.EventStatusChanged,
		OrderID:   o.ID.String(),
		Status:    string(o.Status),
		ActorType: "payment_gateway",
	}
	s.notifier.Publish(notify.UserTopic(o.CustomerID), e)
	if b, err := s.branches.Get(ctx, o.BranchID); err != nil {
		s.logger.Warn("branch lookup for notification failed", "order_id", o.ID, "error", err)
	} else {
		s.notifier.Publish(notify.RestaurantTopic(b.RestaurantID), e)
	}
	return o, nil
}

type StaffCommand struct {
	OrderID uuid.UUID
	ActorID uuid.UUID
}

func (s *Service) MarkPreparing(ctx context.Context, cmd StaffCommand) (*Order, error) {
	o, b, err := s.staffTransition(ctx, cmd, StatusConfirmed, StatusPreparing)
	if err != nil {
		return nil, err
	}
	s.notifyBoth(o, b.RestaurantID, notify.EventStatusChanged, "restaurant", nil)
	return o, nil
}

// MarkReady moves the order into the claimable pool and announces it to
// couriers near the branch.
func (s *Service) MarkReady(ctx context.Context, cmd StaffCommand) (*Order, error) {
	o, b, err := s.staffTransition(ctx, cmd, StatusPreparing, StatusReadyForPickup)
	if err != nil {
		return nil, err
	}
	s.notifyBoth(o, b.RestaurantID, notify.EventStatusChanged, "restaurant", nil)
	s.pushToNearbyCouriers(ctx, o, b)
	return o, nil
}

func (s *Service) staffTransition(ctx context.Context, cmd StaffCommand, from, to Status) (*Order, *branch.Branch, error) {
	o, err := s.store.Get(ctx, cmd.OrderID)
	if err != nil {
		return nil, nil, err
	}
	b, err := s.branches.Get(ctx, o.BranchID)
	if err != nil {
		return nil, nil, err
	}
	actor, err := s.users.GetUserWithRoles(ctx, cmd.ActorID)
	if err != nil {
		return nil, nil, err
	}
	if !actor.CanManageRestaurant(b.RestaurantID) {
		return nil, nil, ErrForbidden
	}
	if o.Status != from || !CanTransition(from, to) {
		return nil, nil, ErrInvalidTransition
	}

	ok, err := s.store.Transition(ctx, TransitionParams{
		OrderID:   o.ID,
		From:      from,
		To:        to,
		ActorType: "restaurant",
		ActorID:   &cmd.ActorID,
	})
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, ErrConflict
	}
	o.Status = to
	return o, b, nil
}

type RejectCommand struct {
	OrderID uuid.UUID
	ActorID uuid.UUID
	Reason  string
}

// RejectOrder refunds a confirmed, captured order and marks it rejected.
// Preconditions are checked before any side effect; the gateway refund runs
// outside the database transaction, and a refund failure leaves local state
// untouched.
func (s *Service) RejectOrder(ctx context.Context, cmd RejectCommand) (*Order, *RefundReceipt, error) {
	o, err := s.store.Get(ctx, cmd.OrderID)
	if err != nil {
		return nil, nil, err
	}
	b, err := s.branches.Get(ctx, o.BranchID)
	if err != nil {
		return nil, nil, err
	}
	actor, err := s.users.GetUserWithRoles(ctx, cmd.ActorID)
	if err != nil {
		return nil, nil, err
	}
	if !actor.CanManageRestaurant(b.RestaurantID) {
		return nil, nil, ErrForbidden
	}
	if o.Status != StatusConfirmed {
		return nil, nil, ErrInvalidState
	}
	pay, err := s.payments.GetByOrder(ctx, o.ID)
	if err != nil {
		return nil, nil, err
	}
	if pay.Status != payment.StatusApproved {
		return nil, nil, ErrPaymentNotRefundable
	}

	res, err := s.gateway.Refund(ctx, pay.GatewayRef, pay.Amount)
	if err != nil {
		return nil, nil, err
	}

	ok, err := s.store.RejectAndRefund(ctx, RejectParams{
		OrderID:   o.ID,
		PaymentID: pay.ID,
		ActorID:   cmd.ActorID,
		Reason:    cmd.Reason,
		RefundRef: res.RefundID,
	})
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, ErrConflict
	}

	o.Status = StatusRejected
	o.RejectionReason = &cmd.Reason
	receipt := &RefundReceipt{RefundID: res.RefundID, Amount: pay.Amount, Status: res.Status}
	s.logger.Info("order rejected and refunded",
		"order_id", o.ID, "refund_id", res.RefundID, "amount", pay.Amount.String())
	s.notifier.Publish(notify.UserTopic(o.CustomerID), notify.Event{
		Event:     notify.EventOrderRejected,
		OrderID:   o.ID.String(),
		Status:    string(o.Status),
		ActorType: "restaurant",
		Data: map[string]any{
			"reason":   cmd.Reason,
			"refundId": res.RefundID,
			"amount":   pay.Amount.String(),
		},
	})
	return o, receipt, nil
}

type CancelCommand struct {
	OrderID uuid.UUID
	ActorID uuid.UUID
}

// CancelOrder lets the customer abandon an order that never captured
// payment. Anything past pending has money attached and goes through the
// rejection flow instead.
func (s *Service) CancelOrder(ctx context.Context, cmd CancelCommand) (*Order, error) {
	o, err := s.store.Get(ctx, cmd.OrderID)
	if err != nil {
		return nil, err
	}
	if o.CustomerID != cmd.ActorID {
		return nil, ErrForbidden
	}
	if o.Status != StatusPending {
		return nil, ErrInvalidTransition
	}

	ok, err := s.store.Transition(ctx, TransitionParams{
		OrderID:   o.ID,
		From:      StatusPending,
		To:        StatusCancelled,
		ActorType: "customer",
		ActorID:   &cmd.ActorID,
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrConflict
	}

	o.Status = StatusCancelled
	if b, err := s.branches.Get(ctx, o.BranchID); err != nil {
		s.logger.Warn("branch lookup for notification failed", "order_id", o.ID, "error", err)
		s.notifier.Publish(notify.UserTopic(o.CustomerID), notify.Event{
			Event:     notify.EventOrderCancelled,
			OrderID:   o.ID.String(),
			Status:    string(o.Status),
			ActorType: "customer",
		})
	} else {
		s.notifyBoth(o, b.RestaurantID, notify.EventOrderCancelled, "customer", nil)
	}
	return o, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Order, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) History(ctx context.Context, id uuid.UUID) ([]StatusEvent, error) {
	return s.store.History(ctx, id)
}

func (s *Service) notifyBoth(o *Order, restaurantID uuid.UUID, event, actorType string, data map[string]any) {
	e := notify.Event{
		Event:     event,
		OrderID:   o.ID.String(),
		Status:    string(o.Status),
		ActorType: actorType,
		Data:      data,
	}
	s.notifier.Publish(notify.UserTopic(o.CustomerID), e)
	s.notifier.Publish(notify.RestaurantTopic(restaurantID), e)
}

func (s *Service) pushToNearbyCouriers(ctx context.Context, o *Order, b *branch.Branch) {
	e := notify.Event{
		Event:   notify.EventOrderReady,
		OrderID: o.ID.String(),
		Status:  string(o.Status),
		Data: map[string]any{
			"branchId":  b.ID.String(),
			"latitude":  b.Location.Lat,
			"longitude": b.Location.Lng,
		},
	}
	s.notifier.Publish(notify.DriversPoolTopic(), e)

	ids, err := s.couriers.Nearby(ctx, b.Location, b.EffectiveRadiusKm(s.radiusKm))
	if err != nil {
		s.logger.Warn("nearby courier lookup failed", "order_id", o.ID, "error", err)
		return
	}
	for _, id := range ids {
		s.notifier.Publish(notify.UserTopic(id), e)
	}
	if err := s.pushlog.RecordPush(ctx, o.ID, ids); err != nil {
		s.logger.Warn("push bookkeeping failed", "order_id", o.ID, "error", err)
	}
}

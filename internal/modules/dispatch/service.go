// README: Dispatch service: availability listing, claim, and completion for couriers.
package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"delixmi/internal/errs"
	"delixmi/internal/geo"
	"delixmi/internal/modules/courier"
	"delixmi/internal/modules/identity"
	"delixmi/internal/modules/order"
	"delixmi/internal/notify"
)

var (
	ErrLocationUnknown    = errs.Precondition("DRIVER_LOCATION_UNKNOWN", "courier has no known location, send a location ping first")
	ErrOrderTaken         = errs.Conflict("ORDER_ALREADY_TAKEN_OR_INVALID", "order already claimed or no longer claimable")
	ErrNotAssigned        = errs.NotFound("ORDER_NOT_FOUND_OR_NOT_ASSIGNED", "no such active delivery for this courier")
	ErrCourierUnavailable = errs.Precondition("DRIVER_NOT_AVAILABLE", "courier is not online")
)

type ClaimStore interface {
	CandidateOrders(ctx context.Context, e Eligibility) ([]Candidate, error)
	ClaimOrder(ctx context.Context, orderID, courierID uuid.UUID, e Eligibility) (*order.Order, uuid.UUID, error)
	CompleteOrder(ctx context.Context, orderID, courierID uuid.UUID) (*order.Order, uuid.UUID, error)
}

type CourierStore interface {
	GetByUserID(ctx context.Context, userID uuid.UUID) (*courier.Profile, error)
}

type UserStore interface {
	GetUserWithRoles(ctx context.Context, id uuid.UUID) (*identity.User, error)
}

type OrderDetailer interface {
	DetailsByIDs(ctx context.Context, ids []uuid.UUID) ([]order.Detail, error)
}

type PushReader interface {
	PushedAt(ctx context.Context, orderID uuid.UUID) (time.Time, bool, error)
	WasNotified(ctx context.Context, orderID, courierID uuid.UUID) (bool, error)
}

type Deps struct {
	Store    ClaimStore
	Couriers CourierStore
	Users    UserStore
	Details  OrderDetailer
	PushLog  PushReader
	Notifier notify.Publisher
	// RadiusKm applies to branches without a service radius of their own.
	RadiusKm float64
	Logger   *slog.Logger
}

type Service struct {
	store    ClaimStore
	couriers CourierStore
	users    UserStore
	details  OrderDetailer
	pushlog  PushReader
	notifier notify.Publisher
	radiusKm float64
	logger   *slog.Logger
}

func NewService(d Deps) *Service {
	return &Service{
		store:    d.Store,
		couriers: d.Couriers,
		users:    d.Users,
		details:  d.Details,
		pushlog:  d.PushLog,
		notifier: d.Notifier,
		radiusKm: d.RadiusKm,
		logger:   d.Logger.With("component", "dispatch_service"),
	}
}

// ListAvailableOrders returns the page of claimable orders within reach of
// the courier. Filtering happens over a cheap branch-coordinate projection;
// detail is hydrated for the returned page only, so cost is bounded by the
// page size no matter how many candidates exist.
func (s *Service) ListAvailableOrders(ctx context.Context, courierID uuid.UUID, page, pageSize int) (*ListResult, error) {
	page, pageSize = clampPage(page, pageSize)

	prof, err := s.couriers.GetByUserID(ctx, courierID)
	if err != nil {
		return nil, err
	}
	// A courier who stepped offline sees nothing; that is not an error.
	if prof.Status != courier.StatusOnline {
		return &ListResult{Orders: []order.Detail{}, Pagination: paginate(0, page, pageSize)}, nil
	}
	if prof.Location == nil {
		return nil, ErrLocationUnknown
	}

	u, err := s.users.GetUserWithRoles(ctx, courierID)
	if err != nil {
		return nil, err
	}
	elig, err := ResolveEligibility(u)
	if err != nil {
		return nil, err
	}

	cands, err := s.store.CandidateOrders(ctx, elig)
	if err != nil {
		return nil, err
	}

	within := make([]uuid.UUID, 0, len(cands))
	for _, c := range cands {
		if geo.DistanceKm(*prof.Location, c.Branch) <= c.EffectiveRadiusKm(s.radiusKm) {
			within = append(within, c.OrderID)
		}
	}

	pg := paginate(len(within), page, pageSize)
	start, end := pageBounds(len(within), page, pageSize)
	details, err := s.details.DetailsByIDs(ctx, within[start:end])
	if err != nil {
		return nil, err
	}
	if details == nil {
		details = []order.Detail{}
	}
	return &ListResult{Orders: details, Pagination: pg}, nil
}

// Claim assigns the order to the courier. Eligibility is resolved the same
// way the listing does it, but without the geo check: proximity held when
// the courier saw the list, and having moved since must not penalize them.
func (s *Service) Claim(ctx context.Context, orderID, courierID uuid.UUID) (*ClaimResult, error) {
	prof, err := s.couriers.GetByUserID(ctx, courierID)
	if err != nil {
		return nil, err
	}
	u, err := s.users.GetUserWithRoles(ctx, courierID)
	if err != nil {
		return nil, err
	}
	elig, err := ResolveEligibility(u)
	if err != nil {
		return nil, err
	}

	o, restaurantID, err := s.store.ClaimOrder(ctx, orderID, courierID, elig)
	if err != nil {
		return nil, err
	}

	s.logClaim(ctx, orderID, courierID)
	e := notify.Event{
		Event:     notify.EventOrderClaimed,
		OrderID:   o.ID.String(),
		Status:    string(o.Status),
		ActorType: "driver",
		Data: map[string]any{
			"driverId":   courierID.String(),
			"driverName": prof.Name,
		},
	}
	s.notifier.Publish(notify.UserTopic(o.CustomerID), e)
	s.notifier.Publish(notify.RestaurantTopic(restaurantID), e)

	return &ClaimResult{
		Order:   o.Summary(),
		Courier: CourierInfo{ID: prof.UserID, Name: prof.Name, Status: string(courier.StatusBusy)},
	}, nil
}

// Complete marks the courier's active delivery as delivered and frees the
// courier for the next claim.
func (s *Service) Complete(ctx context.Context, orderID, courierID uuid.UUID) (*CompleteResult, error) {
	o, restaurantID, err := s.store.CompleteOrder(ctx, orderID, courierID)
	if err != nil {
		return nil, err
	}

	stats := statsFor(o)
	s.logger.Info("order delivered",
		"order_id", o.ID,
		"courier_id", courierID,
		"placed_to_delivered_s", stats.PlacedToDeliveredSeconds,
		"claimed_to_delivered_s", stats.ClaimedToDeliveredSeconds,
	)
	e := notify.Event{
		Event:     notify.EventOrderDelivered,
		OrderID:   o.ID.String(),
		Status:    string(o.Status),
		ActorType: "driver",
		Data: map[string]any{
			"placedToDeliveredSeconds":  stats.PlacedToDeliveredSeconds,
			"claimedToDeliveredSeconds": stats.ClaimedToDeliveredSeconds,
		},
	}
	s.notifier.Publish(notify.UserTopic(o.CustomerID), e)
	s.notifier.Publish(notify.RestaurantTopic(restaurantID), e)

	return &CompleteResult{Order: o.Summary(), Stats: stats}, nil
}

func (s *Service) logClaim(ctx context.Context, orderID, courierID uuid.UUID) {
	at, ok, err := s.pushlog.PushedAt(ctx, orderID)
	if err != nil || !ok {
		s.logger.Info("order claimed", "order_id", orderID, "courier_id", courierID)
		return
	}
	direct, err := s.pushlog.WasNotified(ctx, orderID, courierID)
	if err != nil {
		direct = false
	}
	s.logger.Info("order claimed",
		"order_id", orderID,
		"courier_id", courierID,
		"seconds_since_push", int64(time.Since(at)/time.Second),
		"directly_notified", direct,
	)
}

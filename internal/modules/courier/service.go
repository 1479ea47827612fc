// README: Courier service (location pings, availability toggles, stale sweep).
package courier

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"delixmi/internal/errs"
	"delixmi/internal/geo"
	"delixmi/internal/notify"
)

var (
	ErrProfileNotFound = errs.NotFound("DRIVER_PROFILE_NOT_FOUND", "courier profile not found")
	ErrBusy            = errs.Precondition("DRIVER_BUSY", "courier is mid-delivery and cannot change status")
	ErrBadStatus       = errs.Precondition("INVALID_DRIVER_STATUS", "status must be online, offline, or unavailable")
)

type ProfileStore interface {
	GetByUserID(ctx context.Context, userID uuid.UUID) (*Profile, error)
	UpdateLocation(ctx context.Context, userID uuid.UUID, p geo.Point, at time.Time) (*Profile, *geo.Point, error)
	SetStatus(ctx context.Context, userID uuid.UUID, to Status) (bool, error)
	ActiveDelivery(ctx context.Context, courierID uuid.UUID) (ActiveDelivery, bool, error)
	SweepStale(ctx context.Context, cutoff time.Time) ([]uuid.UUID, error)
}

type PresenceStore interface {
	Track(ctx context.Context, courierID uuid.UUID, pt geo.Point) error
	Drop(ctx context.Context, courierID uuid.UUID) error
}

type Service struct {
	store    ProfileStore
	presence PresenceStore
	notifier notify.Publisher
	logger   *slog.Logger
}

func NewService(store ProfileStore, presence PresenceStore, notifier notify.Publisher, logger *slog.Logger) *Service {
	return &Service{
		store:    store,
		presence: presence,
		notifier: notifier,
		logger:   logger.With("component", "courier_service"),
	}
}

type UpdateLocationCommand struct {
	CourierID uuid.UUID
	Lat       float64
	Lng       float64
}

// UpdateLocation persists the ping and returns the refreshed profile plus
// the distance in km from the previous position (zero on the first ping).
func (s *Service) UpdateLocation(ctx context.Context, cmd UpdateLocationCommand) (*Profile, float64, error) {
	pt := geo.Point{Lat: cmd.Lat, Lng: cmd.Lng}
	prof, prev, err := s.store.UpdateLocation(ctx, cmd.CourierID, pt, time.Now().UTC())
	if err != nil {
		return nil, 0, err
	}

	delta := 0.0
	if prev != nil {
		delta = geo.DistanceKm(*prev, pt)
	}

	switch prof.Status {
	case StatusOnline:
		if err := s.presence.Track(ctx, cmd.CourierID, pt); err != nil {
			s.logger.Warn("presence track failed", "courier_id", cmd.CourierID, "error", err)
		}
	case StatusBusy:
		// Mid-delivery pings double as live tracking for the customer.
		d, ok, err := s.store.ActiveDelivery(ctx, cmd.CourierID)
		if err != nil {
			s.logger.Warn("active delivery lookup failed", "courier_id", cmd.CourierID, "error", err)
		} else if ok {
			s.notifier.Publish(notify.UserTopic(d.CustomerID), notify.Event{
				Event:   notify.EventCourierLocation,
				OrderID: d.OrderID.String(),
				Data:    map[string]any{"latitude": cmd.Lat, "longitude": cmd.Lng},
			})
		}
	}
	return prof, delta, nil
}

type SetAvailabilityCommand struct {
	CourierID uuid.UUID
	Target    Status
}

func (s *Service) SetAvailability(ctx context.Context, cmd SetAvailabilityCommand) (*Profile, error) {
	if !cmd.Target.ManualTarget() {
		return nil, ErrBadStatus
	}

	ok, err := s.store.SetStatus(ctx, cmd.CourierID, cmd.Target)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Either no profile, or the courier is busy.
		if _, err := s.store.GetByUserID(ctx, cmd.CourierID); err != nil {
			return nil, err
		}
		return nil, ErrBusy
	}

	prof, err := s.store.GetByUserID(ctx, cmd.CourierID)
	if err != nil {
		return nil, err
	}

	if cmd.Target == StatusOnline && prof.Location != nil {
		if err := s.presence.Track(ctx, cmd.CourierID, *prof.Location); err != nil {
			s.logger.Warn("presence track failed", "courier_id", cmd.CourierID, "error", err)
		}
	} else if cmd.Target != StatusOnline {
		if err := s.presence.Drop(ctx, cmd.CourierID); err != nil {
			s.logger.Warn("presence drop failed", "courier_id", cmd.CourierID, "error", err)
		}
	}
	return prof, nil
}

// SweepStale forces silent couriers offline and clears their presence
// entries. Returns how many profiles were swept.
func (s *Service) SweepStale(ctx context.Context, cutoff time.Time) (int, error) {
	ids, err := s.store.SweepStale(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		if err := s.presence.Drop(ctx, id); err != nil {
			s.logger.Warn("presence drop failed", "courier_id", id, "error", err)
		}
	}
	return len(ids), nil
}

func (s *Service) Get(ctx context.Context, courierID uuid.UUID) (*Profile, error) {
	return s.store.GetByUserID(ctx, courierID)
}

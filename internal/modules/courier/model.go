// README: Courier profile and availability status definitions.
package courier

import (
	"time"

	"github.com/google/uuid"

	"delixmi/internal/geo"
)

type Status string

const (
	StatusOffline Status = "offline"
	StatusOnline  Status = "online"
	// StatusBusy is owned by the claim/complete transactions; couriers
	// cannot toggle into or out of it by hand.
	StatusBusy        Status = "busy"
	StatusUnavailable Status = "unavailable"
)

// ManualTarget reports whether a courier may switch themselves to s.
func (s Status) ManualTarget() bool {
	switch s {
	case StatusOffline, StatusOnline, StatusUnavailable:
		return true
	}
	return false
}

type Profile struct {
	UserID       uuid.UUID
	Name         string
	Status       Status
	VehicleType  *string
	LicensePlate *string
	// Location is nil until the first ping arrives.
	Location   *geo.Point
	LastSeenAt *time.Time
	KycStatus  string
}

// ActiveDelivery points a busy courier at the order they are carrying.
type ActiveDelivery struct {
	OrderID    uuid.UUID
	CustomerID uuid.UUID
}

type ProfileView struct {
	ID           uuid.UUID  `json:"id"`
	Name         string     `json:"name"`
	Status       Status     `json:"status"`
	VehicleType  *string    `json:"vehicleType,omitempty"`
	LicensePlate *string    `json:"licensePlate,omitempty"`
	Latitude     *float64   `json:"latitude"`
	Longitude    *float64   `json:"longitude"`
	LastSeenAt   *time.Time `json:"lastSeenAt"`
}

func (p *Profile) View() ProfileView {
	v := ProfileView{
		ID:           p.UserID,
		Name:         p.Name,
		Status:       p.Status,
		VehicleType:  p.VehicleType,
		LicensePlate: p.LicensePlate,
		LastSeenAt:   p.LastSeenAt,
	}
	if p.Location != nil {
		v.Latitude = &p.Location.Lat
		v.Longitude = &p.Location.Lng
	}
	return v
}

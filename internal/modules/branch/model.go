// README: Restaurant branch as read-only reference data for dispatch.
package branch

import (
	"github.com/google/uuid"

	"delixmi/internal/geo"
)

type Branch struct {
	ID           uuid.UUID
	RestaurantID uuid.UUID
	Name         string
	Location     geo.Point
	// ServiceRadiusKm is nil when the branch never configured one; callers
	// fall back to the platform default.
	ServiceRadiusKm     *float64
	UsesPlatformDrivers bool
	Phone               string
}

func (b *Branch) EffectiveRadiusKm(defaultKm float64) float64 {
	if b.ServiceRadiusKm != nil && *b.ServiceRadiusKm > 0 {
		return *b.ServiceRadiusKm
	}
	return defaultKm
}

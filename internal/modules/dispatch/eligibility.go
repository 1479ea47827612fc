// README: Courier-to-branch eligibility resolution (platform pool vs dedicated fleets).
package dispatch

import (
	"github.com/google/uuid"

	"delixmi/internal/errs"
	"delixmi/internal/modules/identity"
)

var (
	ErrNoRestaurants = errs.Precondition("NO_RESTAURANTS_ASSIGNED", "restaurant courier has no assigned restaurants")
	ErrInvalidRole   = errs.Forbidden("INVALID_DRIVER_ROLE", "user has no courier role")
)

// Eligibility is the declarative branch predicate for one courier, carried
// into SQL as a pair of parameters: platform couriers match branches on the
// platform pool, restaurant couriers match branches of their restaurants
// that are off the pool, hybrids match the union.
type Eligibility struct {
	Platform      bool
	RestaurantIDs []uuid.UUID
}

func ResolveEligibility(u *identity.User) (Eligibility, error) {
	platform := u.HasRole(identity.RoleDriverPlatform)
	restaurant := u.HasRole(identity.RoleDriverRestaurant)
	if !platform && !restaurant {
		return Eligibility{}, ErrInvalidRole
	}

	var ids []uuid.UUID
	if restaurant {
		ids = u.RestaurantIDs(identity.RoleDriverRestaurant)
		// A dangling restaurant courier is a data problem to surface, not an
		// empty result. This holds for hybrids too.
		if len(ids) == 0 {
			return Eligibility{}, ErrNoRestaurants
		}
	}
	return Eligibility{Platform: platform, RestaurantIDs: ids}, nil
}

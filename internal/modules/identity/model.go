// README: Users and role assignments as the dispatch core sees them.
package identity

import "github.com/google/uuid"

const (
	RoleCustomer         = "customer"
	RoleRestaurantAdmin  = "restaurant_admin"
	RolePlatformAdmin    = "platform_admin"
	RoleDriverPlatform   = "driver_platform"
	RoleDriverRestaurant = "driver_restaurant"
)

// RoleAssignment links a user to a role. Restaurant-scoped roles carry the
// restaurant they apply to; global roles leave it nil.
type RoleAssignment struct {
	Role         string
	RestaurantID *uuid.UUID
}

type User struct {
	ID    uuid.UUID
	Name  string
	Phone string
	Roles []RoleAssignment
}

func (u *User) HasRole(role string) bool {
	for _, r := range u.Roles {
		if r.Role == role {
			return true
		}
	}
	return false
}

// RestaurantIDs returns the distinct restaurants attached to the given role.
func (u *User) RestaurantIDs(role string) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{})
	var ids []uuid.UUID
	for _, r := range u.Roles {
		if r.Role != role || r.RestaurantID == nil {
			continue
		}
		if _, ok := seen[*r.RestaurantID]; ok {
			continue
		}
		seen[*r.RestaurantID] = struct{}{}
		ids = append(ids, *r.RestaurantID)
	}
	return ids
}

// CanManageRestaurant reports whether the user may act for a restaurant's
// branches (restaurant staff scoped to it, or platform staff).
func (u *User) CanManageRestaurant(restaurantID uuid.UUID) bool {
	if u.HasRole(RolePlatformAdmin) {
		return true
	}
	for _, r := range u.Roles {
		if r.Role == RoleRestaurantAdmin && r.RestaurantID != nil && *r.RestaurantID == restaurantID {
			return true
		}
	}
	return false
}

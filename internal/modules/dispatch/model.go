// README: Dispatch read models, pagination, and operation results.
package dispatch

import (
	"time"

	"github.com/google/uuid"

	"delixmi/internal/geo"
	"delixmi/internal/modules/order"
)

// Candidate is the cheap projection used for geo filtering: one claimable
// order and where its branch sits. Full detail is hydrated later, for the
// returned page only.
type Candidate struct {
	OrderID  uuid.UUID
	Branch   geo.Point
	RadiusKm *float64
}

func (c Candidate) EffectiveRadiusKm(defaultKm float64) float64 {
	if c.RadiusKm != nil && *c.RadiusKm > 0 {
		return *c.RadiusKm
	}
	return defaultKm
}

type Pagination struct {
	CurrentPage     int  `json:"currentPage"`
	PageSize        int  `json:"pageSize"`
	TotalCount      int  `json:"totalCount"`
	TotalPages      int  `json:"totalPages"`
	HasNextPage     bool `json:"hasNextPage"`
	HasPreviousPage bool `json:"hasPreviousPage"`
}

func paginate(total, page, size int) Pagination {
	pages := 0
	if total > 0 {
		pages = (total + size - 1) / size
	}
	return Pagination{
		CurrentPage:     page,
		PageSize:        size,
		TotalCount:      total,
		TotalPages:      pages,
		HasNextPage:     page < pages,
		HasPreviousPage: page > 1,
	}
}

// pageBounds slices [start, end) for the requested page; past-the-end pages
// come back empty rather than erroring.
func pageBounds(total, page, size int) (int, int) {
	start := (page - 1) * size
	if start >= total {
		return 0, 0
	}
	end := start + size
	if end > total {
		end = total
	}
	return start, end
}

func clampPage(page, size int) (int, int) {
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = 10
	}
	if size > 100 {
		size = 100
	}
	return page, size
}

type ListResult struct {
	Orders     []order.Detail `json:"orders"`
	Pagination Pagination     `json:"pagination"`
}

type CourierInfo struct {
	ID     uuid.UUID `json:"id"`
	Name   string    `json:"name"`
	Status string    `json:"status"`
}

type ClaimResult struct {
	Order   order.Summary `json:"order"`
	Courier CourierInfo   `json:"driver"`
}

type DeliveryStats struct {
	PlacedToDeliveredSeconds  int64 `json:"placedToDeliveredSeconds"`
	ClaimedToDeliveredSeconds int64 `json:"claimedToDeliveredSeconds,omitempty"`
}

type CompleteResult struct {
	Order order.Summary `json:"order"`
	Stats DeliveryStats `json:"stats"`
}

func statsFor(o *order.Order) DeliveryStats {
	var s DeliveryStats
	if o.DeliveredAt == nil {
		return s
	}
	s.PlacedToDeliveredSeconds = int64(o.DeliveredAt.Sub(o.PlacedAt) / time.Second)
	if o.ClaimedAt != nil {
		s.ClaimedToDeliveredSeconds = int64(o.DeliveredAt.Sub(*o.ClaimedAt) / time.Second)
	}
	return s
}

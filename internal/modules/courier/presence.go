// README: Online-courier presence backed by Redis GEO.
package courier

import (
	"context"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"delixmi/internal/geo"
)

const courierGeoKey = "dispatch:couriers:geo"

// Presence tracks where online couriers are, so ready-order pushes can
// target whoever is close. It is advisory; the profile row stays the source
// of truth.
type Presence struct {
	redis *redis.Client
}

func NewPresence(redis *redis.Client) *Presence {
	return &Presence{redis: redis}
}

func (p *Presence) Track(ctx context.Context, courierID uuid.UUID, pt geo.Point) error {
	return p.redis.GeoAdd(ctx, courierGeoKey, &redis.GeoLocation{
		Name:      courierID.String(),
		Longitude: pt.Lng,
		Latitude:  pt.Lat,
	}).Err()
}

func (p *Presence) Drop(ctx context.Context, courierID uuid.UUID) error {
	return p.redis.ZRem(ctx, courierGeoKey, courierID.String()).Err()
}

// Nearby returns online couriers within radiusKm of the point, closest
// first. Members that fail to parse as ids are skipped.
func (p *Presence) Nearby(ctx context.Context, center geo.Point, radiusKm float64) ([]uuid.UUID, error) {
	results, err := p.redis.GeoSearch(ctx, courierGeoKey, &redis.GeoSearchQuery{
		Longitude:  center.Lng,
		Latitude:   center.Lat,
		Radius:     radiusKm,
		RadiusUnit: "km",
		Sort:       "ASC",
	}).Result()
	if err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, 0, len(results))
	for _, r := range results {
		id, err := uuid.Parse(r)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

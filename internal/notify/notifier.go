// README: Fire-and-forget event publication over Redis pub/sub.
package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Event names carried in every payload. Clients subscribe to their topic and
// branch on these.
const (
	EventStatusChanged   = "order.status_changed"
	EventOrderReady      = "order.ready_for_pickup"
	EventOrderClaimed    = "order.claimed"
	EventOrderDelivered  = "order.delivered"
	EventOrderRejected   = "order.rejected"
	EventOrderCancelled  = "order.cancelled"
	EventCourierLocation = "courier.location"
)

const publishTimeout = 3 * time.Second

// Event is the JSON payload published to a topic. Emission is at-most-once;
// anything durable belongs in the database, not here.
type Event struct {
	Event      string         `json:"event"`
	OrderID    string         `json:"orderId,omitempty"`
	Status     string         `json:"status,omitempty"`
	ActorType  string         `json:"actorType,omitempty"`
	Data       map[string]any `json:"data,omitempty"`
	OccurredAt time.Time      `json:"occurredAt"`
}

// Publisher is what services hold. Publish must never block the caller's
// request or surface an error to it.
type Publisher interface {
	Publish(topic string, e Event)
}

func UserTopic(userID uuid.UUID) string {
	return "user_" + userID.String()
}

func RestaurantTopic(restaurantID uuid.UUID) string {
	return "restaurant_" + restaurantID.String()
}

func DriversPoolTopic() string {
	return "drivers_pool"
}

type RedisPublisher struct {
	redis  *redis.Client
	logger *slog.Logger
}

func NewRedisPublisher(r *redis.Client, logger *slog.Logger) *RedisPublisher {
	return &RedisPublisher{redis: r, logger: logger.With("component", "notifier")}
}

// Publish serializes and sends the event on its own goroutine. Failures are
// logged and dropped; the state change already committed.
func (p *RedisPublisher) Publish(topic string, e Event) {
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()

		payload, err := json.Marshal(e)
		if err != nil {
			p.logger.Error("marshal event", "event", e.Event, "error", err)
			return
		}
		if err := p.redis.Publish(ctx, topic, payload).Err(); err != nil {
			p.logger.Warn("publish failed", "topic", topic, "event", e.Event, "error", err)
		}
	}()
}

// README: Redis bookkeeping for ready-order pushes (when, and to whom).
package dispatch

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	pushedAtKeyPrefix = "dispatch:order:%s:pushed_at"
	notifiedKeyPrefix = "dispatch:order:%s:notified"
	// Orders resolve well within a day; these keys only feed logging.
	pushKeyTTL = 24 * time.Hour
)

type PushLog struct {
	redis *redis.Client
}

func NewPushLog(redis *redis.Client) *PushLog {
	return &PushLog{redis: redis}
}

// RecordPush stores the push timestamp and the set of couriers that got a
// direct notification for the order.
func (l *PushLog) RecordPush(ctx context.Context, orderID uuid.UUID, courierIDs []uuid.UUID) error {
	pipe := l.redis.Pipeline()
	pipe.Set(ctx, pushedAtKey(orderID), time.Now().UTC().Format(time.RFC3339), pushKeyTTL)
	if len(courierIDs) > 0 {
		members := make([]interface{}, len(courierIDs))
		for i, id := range courierIDs {
			members[i] = id.String()
		}
		pipe.SAdd(ctx, notifiedKey(orderID), members...)
		pipe.Expire(ctx, notifiedKey(orderID), pushKeyTTL)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// PushedAt returns when the ready push for the order went out, if it did.
func (l *PushLog) PushedAt(ctx context.Context, orderID uuid.UUID) (time.Time, bool, error) {
	val, err := l.redis.Get(ctx, pushedAtKey(orderID)).Result()
	if err == redis.Nil {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	t, err := time.Parse(time.RFC3339, val)
	if err != nil {
		return time.Time{}, false, err
	}
	return t, true, nil
}

// WasNotified reports whether the courier got a direct push for the order,
// as opposed to finding it by browsing.
func (l *PushLog) WasNotified(ctx context.Context, orderID, courierID uuid.UUID) (bool, error) {
	return l.redis.SIsMember(ctx, notifiedKey(orderID), courierID.String()).Result()
}

func pushedAtKey(orderID uuid.UUID) string {
	return fmt.Sprintf(pushedAtKeyPrefix, orderID)
}

func notifiedKey(orderID uuid.UUID) string {
	return fmt.Sprintf(notifiedKeyPrefix, orderID)
}

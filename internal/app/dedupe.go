/**
 * @description
 * Redis-backed short-circuit for webhook redeliveries. Razorpay retries
 * webhook deliveries aggressively; the database unique constraint is the
 * correctness guarantee, this just skips the work for deliveries we have
 * already fully processed. Optional: a nil dedupe never suppresses anything.
 *
 * @dependencies
 * - github.com/redis/go-redis/v9: The Redis client.
 */

package app

import (
	"context"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

const dedupeTTL = 24 * time.Hour

// EventDedupe marks webhook deliveries as seen using SET NX with a TTL.
type EventDedupe struct {
	client *redis.Client
}

// NewEventDedupe wraps a Redis client. Pass nil to disable deduplication.
func NewEventDedupe(client *redis.Client) *EventDedupe {
	if client == nil {
		return nil
	}
	return &EventDedupe{client: client}
}

// Seen atomically marks the key and reports whether it was already marked.
// Redis errors are treated as "not seen" so processing always proceeds.
func (d *EventDedupe) Seen(ctx context.Context, key string) bool {
	if d == nil || d.client == nil {
		return false
	}
	ok, err := d.client.SetNX(ctx, "razorpay:webhook:"+key, 1, dedupeTTL).Result()
	if err != nil {
		log.Printf("level=warn component=event_dedupe msg=\"redis setnx failed; processing anyway\" key=%s err=%v", key, err)
		return false
	}
	return !ok
}

// Forget releases a key so a redelivery is processed again, used when the
// handler failed after marking. Best effort.
func (d *EventDedupe) Forget(ctx context.Context, key string) {
	if d == nil || d.client == nil {
		return
	}
	if err := d.client.Del(ctx, "razorpay:webhook:"+key).Err(); err != nil {
		log.Printf("level=warn component=event_dedupe msg=\"redis del failed\" key=%s err=%v", key, err)
	}
}

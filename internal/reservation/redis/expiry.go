package redis

import (
	"context"
	"fmt"
	"strings"
)

// ParseHoldKey extracts the attendee and event ids from a hold key.
func ParseHoldKey(key string) (attendeeID, eventID string, ok bool) {
	rest, found := strings.CutPrefix(key, "reservation:user:")
	if !found {
		return "", "", false
	}
	attendeeID, eventID, found = strings.Cut(rest, ":event:")
	if !found || attendeeID == "" || eventID == "" {
		return "", "", false
	}
	return attendeeID, eventID, true
}

// ListenHoldExpiry calls onExpire for every hold key Redis reports as expired
// until ctx is done. It needs notify-keyspace-events to include "Ex".
func (r *Redis) ListenHoldExpiry(ctx context.Context, onExpire func(ctx context.Context, attendeeID, eventID string)) error {
	val, err := r.Client.ConfigGet(ctx, "notify-keyspace-events").Result()
	if err != nil {
		r.Logger.Warn("REDIS", fmt.Sprintf("Failed to get keyspace config: %v", err))
	} else if len(val) < 2 || !strings.Contains(fmt.Sprint(val[1]), "x") || !strings.Contains(fmt.Sprint(val[1]), "E") {
		r.Logger.Warn("REDIS", "Keyspace notifications not configured for expiry events, relying on the reaper only")
	}

	channel := fmt.Sprintf("__keyevent@%d__:expired", r.Client.Options().DB)
	pubsub := r.Client.PSubscribe(ctx, channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(ctx); err != nil {
		return unavailable("subscribe "+channel, err)
	}
	r.Logger.Info("REDIS", fmt.Sprintf("Subscribed to %s", channel))

	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			attendeeID, eventID, ok := ParseHoldKey(msg.Payload)
			if !ok {
				continue
			}
			r.Logger.Debug("REDIS", fmt.Sprintf("Hold expired for attendee %s on event %s", attendeeID, eventID))
			onExpire(ctx, attendeeID, eventID)
		}
	}
}

package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// Intent records a decrement that has not yet been matched by a ledger row.
// The reaper uses it to give back seats lost to a crash between the two.
type Intent struct {
	ReservationID string    `json:"-"`
	EventID       string    `json:"event_id"`
	AttendeeID    string    `json:"attendee_id"`
	Quantity      int       `json:"quantity"`
	CreatedAt     time.Time `json:"created_at"`
}

func (r *Redis) RecordIntent(ctx context.Context, intent Intent) error {
	payload, err := json.Marshal(intent)
	if err != nil {
		return fmt.Errorf("marshal intent %s: %w", intent.ReservationID, err)
	}
	if err := r.Client.HSet(ctx, intentsKey, intent.ReservationID, payload).Err(); err != nil {
		return unavailable("record intent "+intent.ReservationID, err)
	}
	return nil
}

// ClearIntent removes the intent and reports whether this call removed it.
// false means the reaper reclaimed it first.
func (r *Redis) ClearIntent(ctx context.Context, reservationID string) (bool, error) {
	n, err := r.Client.HDel(ctx, intentsKey, reservationID).Result()
	if err != nil {
		return false, unavailable("clear intent "+reservationID, err)
	}
	return n == 1, nil
}

// reclaimIntentScript also sets the refund marker, so a later refund for the
// same reservation cannot return the seats a second time.
// A missing counter is left missing, as in refundScript.
var reclaimIntentScript = redis.NewScript(`
if redis.call("HDEL", KEYS[1], ARGV[1]) == 1 then
	if redis.call("EXISTS", KEYS[2]) == 1 then
		redis.call("INCRBY", KEYS[2], ARGV[2])
	end
	redis.call("SET", KEYS[3], "1", "EX", ARGV[3])
	return 1
end
return 0
`)

// ReclaimIntent removes the intent and returns its seats in one step. It
// reports false when the intent was already cleared or reclaimed.
func (r *Redis) ReclaimIntent(ctx context.Context, intent Intent) (bool, error) {
	res, err := reclaimIntentScript.Run(ctx, r.Client,
		[]string{intentsKey, inventoryKey(intent.EventID), refundKey(intent.ReservationID)},
		intent.ReservationID, intent.Quantity, int64(refundMarkerTTL/time.Second),
	).Int()
	if err != nil {
		return false, unavailable("reclaim intent "+intent.ReservationID, err)
	}
	return res == 1, nil
}

var forgetIntentScript = redis.NewScript(`
if redis.call("HDEL", KEYS[1], ARGV[1]) == 1 then
	redis.call("SET", KEYS[2], "1", "EX", ARGV[2])
	return 1
end
return 0
`)

// ForgetIntent drops an intent without returning its seats and sets the
// refund marker, so neither the reaper nor a late cancel can return them
// later. Used when the counter is rebuilt from the ledger.
func (r *Redis) ForgetIntent(ctx context.Context, intent Intent) (bool, error) {
	res, err := forgetIntentScript.Run(ctx, r.Client,
		[]string{intentsKey, refundKey(intent.ReservationID)},
		intent.ReservationID, int64(refundMarkerTTL/time.Second),
	).Int()
	if err != nil {
		return false, unavailable("forget intent "+intent.ReservationID, err)
	}
	return res == 1, nil
}

// ListIntents returns every open intent. Entries that cannot be decoded are
// logged and skipped.
func (r *Redis) ListIntents(ctx context.Context) ([]Intent, error) {
	entries, err := r.Client.HGetAll(ctx, intentsKey).Result()
	if err != nil {
		return nil, unavailable("list intents", err)
	}

	intents := make([]Intent, 0, len(entries))
	for id, raw := range entries {
		var intent Intent
		if err := json.Unmarshal([]byte(raw), &intent); err != nil {
			r.Logger.Warn("REDIS", fmt.Sprintf("Skipping unreadable intent %s: %v", id, err))
			continue
		}
		intent.ReservationID = id
		intents = append(intents, intent)
	}
	return intents, nil
}

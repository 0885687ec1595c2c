package redis

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"

	"ms-reservation/internal/models"
)

// ---------------- HOLDS ----------------

// AcquireHold takes the hold for the pair with a single SET NX PX. owner is
// stored as the value so only the reservation that took the hold releases it.
func (r *Redis) AcquireHold(ctx context.Context, attendeeID, eventID, owner string) error {
	ok, err := r.Client.SetNX(ctx, holdKey(attendeeID, eventID), owner, r.HoldTTL).Result()
	if err != nil {
		return unavailable("acquire hold", err)
	}
	if !ok {
		return models.ErrDuplicateReservation
	}
	return nil
}

func (r *Redis) HoldExists(ctx context.Context, attendeeID, eventID string) (bool, error) {
	n, err := r.Client.Exists(ctx, holdKey(attendeeID, eventID)).Result()
	if err != nil {
		return false, unavailable("check hold", err)
	}
	return n == 1, nil
}

// HoldOwner returns the reservation id stored in the hold, or "" when there is no hold.
func (r *Redis) HoldOwner(ctx context.Context, attendeeID, eventID string) (string, error) {
	val, err := r.Client.Get(ctx, holdKey(attendeeID, eventID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", unavailable("read hold", err)
	}
	return val, nil
}

var releaseHoldScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// ReleaseHold deletes the hold if it still belongs to owner. A missing hold
// or one taken by a newer reservation is left alone.
func (r *Redis) ReleaseHold(ctx context.Context, attendeeID, eventID, owner string) error {
	err := releaseHoldScript.Run(ctx, r.Client, []string{holdKey(attendeeID, eventID)}, owner).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return unavailable("release hold", err)
	}
	return nil
}

// ---------------- PURCHASE GUARD ----------------

// MarkPurchased records a permanent purchase for the pair. Marking twice is harmless.
func (r *Redis) MarkPurchased(ctx context.Context, attendeeID, eventID, reservationID string) error {
	if err := r.Client.Set(ctx, purchaseKey(attendeeID, eventID), reservationID, 0).Err(); err != nil {
		return unavailable("mark purchased", err)
	}
	return nil
}

func (r *Redis) HasPurchased(ctx context.Context, attendeeID, eventID string) (bool, error) {
	n, err := r.Client.Exists(ctx, purchaseKey(attendeeID, eventID)).Result()
	if err != nil {
		return false, unavailable("check purchase", err)
	}
	return n == 1, nil
}

// ---------------- TICKET NUMBERS ----------------

// NextTicketNumber issues the next reference for a category and year, for
// example NEG-MUS-2025-0007.
func (r *Redis) NextTicketNumber(ctx context.Context, category string, year int) (string, error) {
	code := categoryCode(category)
	seq, err := r.Client.Incr(ctx, fmt.Sprintf("ticket_ref:%s:%d", code, year)).Result()
	if err != nil {
		return "", unavailable("next ticket number", err)
	}
	return fmt.Sprintf("%s-%s-%d-%04d", r.TicketPrefix, code, year, seq), nil
}

func categoryCode(category string) string {
	var code []rune
	for _, c := range category {
		if len(code) == 3 {
			break
		}
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		if (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') {
			code = append(code, c)
		}
	}
	if len(code) == 0 {
		return "GEN"
	}
	return string(code)
}

package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"

	"ms-reservation/internal/logger"
	"ms-reservation/internal/models"
)

const (
	DefaultHoldTTL = 15 * time.Minute
	// refundMarkerTTL bounds how long a refund marker is kept. It only has to
	// outlive any retry of the same cancellation.
	refundMarkerTTL = 7 * 24 * time.Hour
)

// Redis holds the volatile reservation state: inventory counters, holds,
// purchase marks, inventory intents and ticket number sequences.
type Redis struct {
	Client       *redis.Client
	Logger       *logger.Logger
	HoldTTL      time.Duration
	TicketPrefix string
}

func NewRedis(client *redis.Client, log *logger.Logger, holdTTL time.Duration, ticketPrefix string) *Redis {
	if holdTTL <= 0 {
		holdTTL = DefaultHoldTTL
	}
	if ticketPrefix == "" {
		ticketPrefix = "NEG"
	}
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Redis{Client: client, Logger: log, HoldTTL: holdTTL, TicketPrefix: ticketPrefix}
}

func inventoryKey(eventID string) string {
	return fmt.Sprintf("event:%s:available_tickets", eventID)
}

func holdKey(attendeeID, eventID string) string {
	return fmt.Sprintf("reservation:user:%s:event:%s", attendeeID, eventID)
}

func purchaseKey(attendeeID, eventID string) string {
	return fmt.Sprintf("user:%s:event:%s", attendeeID, eventID)
}

func refundKey(reservationID string) string {
	return "refund:" + reservationID
}

const intentsKey = "inventory:intents"

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", models.ErrUnavailable, op, err)
}

// ---------------- INVENTORY ----------------

// InventoryExists reports whether the event has a counter at all.
func (r *Redis) InventoryExists(ctx context.Context, eventID string) (bool, error) {
	n, err := r.Client.Exists(ctx, inventoryKey(eventID)).Result()
	if err != nil {
		return false, unavailable("check inventory "+eventID, err)
	}
	return n == 1, nil
}

// InitializeIfAbsent sets the counter only when none exists. It reports
// whether the value was written.
func (r *Redis) InitializeIfAbsent(ctx context.Context, eventID string, capacity int) (bool, error) {
	if capacity < 0 {
		capacity = 0
	}
	ok, err := r.Client.SetNX(ctx, inventoryKey(eventID), capacity, 0).Result()
	if err != nil {
		return false, unavailable("initialize inventory "+eventID, err)
	}
	return ok, nil
}

// Decrement takes qty seats from the counter. A result below zero is undone
// and reported as ErrSoldOut; a missing counter is sold out.
func (r *Redis) Decrement(ctx context.Context, eventID string, qty int) error {
	if qty <= 0 {
		return fmt.Errorf("quantity %d: %w", qty, models.ErrInvalidArgument)
	}
	key := inventoryKey(eventID)

	n, err := r.Client.Exists(ctx, key).Result()
	if err != nil {
		return unavailable("check inventory "+eventID, err)
	}
	if n == 0 {
		return fmt.Errorf("no inventory for event %s: %w", eventID, models.ErrSoldOut)
	}

	remaining, err := r.Client.DecrBy(ctx, key, int64(qty)).Result()
	if err != nil {
		return unavailable("decrement inventory "+eventID, err)
	}
	if remaining >= 0 {
		return nil
	}

	if err := r.Client.IncrBy(ctx, key, int64(qty)).Err(); err != nil {
		r.Logger.Error("REDIS", fmt.Sprintf("Failed to undo decrement of %d on event %s: %v", qty, eventID, err))
		return fmt.Errorf("%w: event %s: %w", models.ErrInventoryDrift, eventID, err)
	}
	return fmt.Errorf("event %s: %w", eventID, models.ErrSoldOut)
}

func (r *Redis) Increment(ctx context.Context, eventID string, qty int) error {
	if qty <= 0 {
		return fmt.Errorf("quantity %d: %w", qty, models.ErrInvalidArgument)
	}
	if err := r.Client.IncrBy(ctx, inventoryKey(eventID), int64(qty)).Err(); err != nil {
		return unavailable("increment inventory "+eventID, err)
	}
	return nil
}

// Read returns the counter clamped at zero. A missing counter reads as zero.
func (r *Redis) Read(ctx context.Context, eventID string) (int, error) {
	val, err := r.Client.Get(ctx, inventoryKey(eventID)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, unavailable("read inventory "+eventID, err)
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, unavailable("parse inventory "+eventID, err)
	}
	if n < 0 {
		return 0, nil
	}
	return n, nil
}

// refundScript returns seats at most once per reservation. The marker and the
// increment are applied in the same script. A missing counter is not
// recreated: it is rebuilt from the ledger, which already counts the seats of
// a cancelled reservation as free.
var refundScript = redis.NewScript(`
if redis.call("SET", KEYS[1], "1", "NX", "EX", ARGV[2]) then
	if redis.call("EXISTS", KEYS[2]) == 1 then
		redis.call("INCRBY", KEYS[2], ARGV[1])
	end
	return 1
end
return 0
`)

// RefundReservation returns qty seats for a cancelled reservation. Repeated
// calls for the same reservation are no-ops and report false.
func (r *Redis) RefundReservation(ctx context.Context, reservationID, eventID string, qty int) (bool, error) {
	if qty <= 0 {
		return false, fmt.Errorf("quantity %d: %w", qty, models.ErrInvalidArgument)
	}
	res, err := refundScript.Run(ctx, r.Client,
		[]string{refundKey(reservationID), inventoryKey(eventID)},
		qty, int64(refundMarkerTTL/time.Second),
	).Int()
	if err != nil {
		return false, unavailable("refund reservation "+reservationID, err)
	}
	return res == 1, nil
}

// ClaimRefund sets the refund marker without returning any seats. Used when
// the counter is rebuilt and the seats are already counted as free. It
// reports whether the marker was newly set.
func (r *Redis) ClaimRefund(ctx context.Context, reservationID string) (bool, error) {
	ok, err := r.Client.SetNX(ctx, refundKey(reservationID), "1", refundMarkerTTL).Result()
	if err != nil {
		return false, unavailable("claim refund "+reservationID, err)
	}
	return ok, nil
}

package redis

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ms-reservation/internal/logger"
	"ms-reservation/internal/models"
	"ms-reservation/internal/testutil"
)

func setupTestRedis(t *testing.T) (*Redis, *miniredisHandle) {
	client, mr := testutil.NewMiniRedis(t)
	return NewRedis(client, logger.NewNopLogger(), DefaultHoldTTL, "NEG"), &miniredisHandle{mr}
}

func TestDecrementNeverOversells(t *testing.T) {
	ctx := context.Background()
	r, _ := setupTestRedis(t)
	seedCounter(t, r, "e1", 10)

	const attempts = 50
	var wg sync.WaitGroup
	var won int64
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := r.Decrement(ctx, "e1", 1); err == nil {
				atomic.AddInt64(&won, 1)
			} else {
				assert.ErrorIs(t, err, models.ErrSoldOut)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(10), won)
	left, err := r.Read(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, 0, left)
}

func TestDecrementCompensatesOnSoldOut(t *testing.T) {
	ctx := context.Background()
	r, mr := setupTestRedis(t)
	seedCounter(t, r, "e1", 2)

	err := r.Decrement(ctx, "e1", 3)
	assert.ErrorIs(t, err, models.ErrSoldOut)
	assert.Equal(t, "2", mr.get(t, inventoryKey("e1")))

	assert.ErrorIs(t, r.Decrement(ctx, "e1", 0), models.ErrInvalidArgument)
	assert.ErrorIs(t, r.Decrement(ctx, "unknown", 1), models.ErrSoldOut)
	assert.False(t, mr.Exists(inventoryKey("unknown")), "a missing counter must stay missing")
}

func TestReadClampsAtZero(t *testing.T) {
	ctx := context.Background()
	r, mr := setupTestRedis(t)

	n, err := r.Read(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	require.NoError(t, mr.Set(inventoryKey("e1"), "-4"))
	n, err = r.Read(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestInitializeIfAbsentKeepsExistingCounter(t *testing.T) {
	ctx := context.Background()
	r, _ := setupTestRedis(t)

	ok, err := r.InitializeIfAbsent(ctx, "e1", 7)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.InitializeIfAbsent(ctx, "e1", 100)
	require.NoError(t, err)
	assert.False(t, ok)

	n, err := r.Read(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, 7, n)
}

func TestRefundReservationAppliesOnce(t *testing.T) {
	ctx := context.Background()
	r, _ := setupTestRedis(t)
	seedCounter(t, r, "e1", 0)

	for i := 0; i < 3; i++ {
		_, err := r.RefundReservation(ctx, "res-1", "e1", 2)
		require.NoError(t, err)
	}

	n, err := r.Read(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestHoldIsExclusiveAndExpires(t *testing.T) {
	ctx := context.Background()
	r, mr := setupTestRedis(t)

	require.NoError(t, r.AcquireHold(ctx, "u1", "e1", "res-1"))
	err := r.AcquireHold(ctx, "u1", "e1", "res-2")
	assert.ErrorIs(t, err, models.ErrDuplicateReservation)

	// A different event is a different hold.
	require.NoError(t, r.AcquireHold(ctx, "u1", "e2", "res-3"))

	ttl := mr.TTL(holdKey("u1", "e1"))
	assert.Equal(t, DefaultHoldTTL, ttl)

	mr.FastForward(DefaultHoldTTL + time.Second)
	exists, err := r.HoldExists(ctx, "u1", "e1")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, r.AcquireHold(ctx, "u1", "e1", "res-4"))
}

func TestReleaseHoldOnlyByOwner(t *testing.T) {
	ctx := context.Background()
	r, _ := setupTestRedis(t)

	require.NoError(t, r.AcquireHold(ctx, "u1", "e1", "res-1"))

	require.NoError(t, r.ReleaseHold(ctx, "u1", "e1", "res-other"))
	owner, err := r.HoldOwner(ctx, "u1", "e1")
	require.NoError(t, err)
	assert.Equal(t, "res-1", owner)

	require.NoError(t, r.ReleaseHold(ctx, "u1", "e1", "res-1"))
	exists, err := r.HoldExists(ctx, "u1", "e1")
	require.NoError(t, err)
	assert.False(t, exists)

	// Releasing a missing hold is not an error.
	require.NoError(t, r.ReleaseHold(ctx, "u1", "e1", "res-1"))
}

func TestPurchaseGuardIsPermanent(t *testing.T) {
	ctx := context.Background()
	r, mr := setupTestRedis(t)

	has, err := r.HasPurchased(ctx, "u1", "e1")
	require.NoError(t, err)
	assert.False(t, has)

	require.NoError(t, r.MarkPurchased(ctx, "u1", "e1", "res-1"))
	require.NoError(t, r.MarkPurchased(ctx, "u1", "e1", "res-1"))

	mr.FastForward(365 * 24 * time.Hour)
	has, err = r.HasPurchased(ctx, "u1", "e1")
	require.NoError(t, err)
	assert.True(t, has)
	assert.Zero(t, mr.TTL(purchaseKey("u1", "e1")))
}

func TestIntentOwnershipIsDecidedOnce(t *testing.T) {
	ctx := context.Background()
	r, _ := setupTestRedis(t)
	seedCounter(t, r, "e1", 5)
	require.NoError(t, r.Decrement(ctx, "e1", 2))

	intent := Intent{ReservationID: "res-1", EventID: "e1", AttendeeID: "u1", Quantity: 2, CreatedAt: time.Now().UTC()}
	require.NoError(t, r.RecordIntent(ctx, intent))

	intents, err := r.ListIntents(ctx)
	require.NoError(t, err)
	require.Len(t, intents, 1)
	assert.Equal(t, "res-1", intents[0].ReservationID)
	assert.Equal(t, 2, intents[0].Quantity)

	reclaimed, err := r.ReclaimIntent(ctx, intent)
	require.NoError(t, err)
	assert.True(t, reclaimed)

	// The creator loses the race and must not assume its decrement stands.
	cleared, err := r.ClearIntent(ctx, "res-1")
	require.NoError(t, err)
	assert.False(t, cleared)

	reclaimed, err = r.ReclaimIntent(ctx, intent)
	require.NoError(t, err)
	assert.False(t, reclaimed)

	n, err := r.Read(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	// The seats are back already, so a refund for the same reservation is a no-op.
	refunded, err := r.RefundReservation(ctx, "res-1", "e1", 2)
	require.NoError(t, err)
	assert.False(t, refunded)
}

func TestRefundAndReclaimNeverRecreateMissingCounter(t *testing.T) {
	ctx := context.Background()
	r, mr := setupTestRedis(t)

	refunded, err := r.RefundReservation(ctx, "res-1", "e1", 2)
	require.NoError(t, err)
	assert.True(t, refunded, "the refund is settled even without a counter")
	assert.False(t, mr.Exists(inventoryKey("e1")))

	intent := Intent{ReservationID: "res-2", EventID: "e1", Quantity: 3}
	require.NoError(t, r.RecordIntent(ctx, intent))
	reclaimed, err := r.ReclaimIntent(ctx, intent)
	require.NoError(t, err)
	assert.True(t, reclaimed)
	assert.False(t, mr.Exists(inventoryKey("e1")))

	exists, err := r.InventoryExists(ctx, "e1")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestForgetIntentBlocksLaterRefund(t *testing.T) {
	ctx := context.Background()
	r, _ := setupTestRedis(t)
	seedCounter(t, r, "e1", 4)

	intent := Intent{ReservationID: "res-1", EventID: "e1", Quantity: 2}
	require.NoError(t, r.RecordIntent(ctx, intent))

	forgotten, err := r.ForgetIntent(ctx, intent)
	require.NoError(t, err)
	assert.True(t, forgotten)

	reclaimed, err := r.ReclaimIntent(ctx, intent)
	require.NoError(t, err)
	assert.False(t, reclaimed)

	refunded, err := r.RefundReservation(ctx, "res-1", "e1", 2)
	require.NoError(t, err)
	assert.False(t, refunded)

	n, err := r.Read(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestClaimRefund(t *testing.T) {
	ctx := context.Background()
	r, _ := setupTestRedis(t)
	seedCounter(t, r, "e1", 1)

	claimed, err := r.ClaimRefund(ctx, "res-1")
	require.NoError(t, err)
	assert.True(t, claimed)
	claimed, err = r.ClaimRefund(ctx, "res-1")
	require.NoError(t, err)
	assert.False(t, claimed)

	refunded, err := r.RefundReservation(ctx, "res-1", "e1", 3)
	require.NoError(t, err)
	assert.False(t, refunded)

	n, err := r.Read(ctx, "e1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestListIntentsSkipsCorruptEntries(t *testing.T) {
	ctx := context.Background()
	r, mr := setupTestRedis(t)

	mr.HSet(intentsKey, "bad", "{not json")
	require.NoError(t, r.RecordIntent(ctx, Intent{ReservationID: "good", EventID: "e1", Quantity: 1}))

	intents, err := r.ListIntents(ctx)
	require.NoError(t, err)
	require.Len(t, intents, 1)
	assert.Equal(t, "good", intents[0].ReservationID)
}

func TestNextTicketNumber(t *testing.T) {
	ctx := context.Background()
	r, _ := setupTestRedis(t)

	first, err := r.NextTicketNumber(ctx, "music", 2025)
	require.NoError(t, err)
	assert.Equal(t, "NEG-MUS-2025-0001", first)

	second, err := r.NextTicketNumber(ctx, "Musical", 2025)
	require.NoError(t, err)
	assert.Equal(t, "NEG-MUS-2025-0002", second)

	other, err := r.NextTicketNumber(ctx, "", 2026)
	require.NoError(t, err)
	assert.Equal(t, "NEG-GEN-2026-0001", other)
}

func TestParseHoldKey(t *testing.T) {
	attendee, event, ok := ParseHoldKey(holdKey("u-1", "e-9"))
	require.True(t, ok)
	assert.Equal(t, "u-1", attendee)
	assert.Equal(t, "e-9", event)

	for _, key := range []string{"user:u1:event:e1", "reservation:user::event:e1", "reservation:user:u1", "event:e1:available_tickets"} {
		_, _, ok := ParseHoldKey(key)
		assert.False(t, ok, fmt.Sprintf("key %q", key))
	}
}

func TestStoreFailuresAreUnavailable(t *testing.T) {
	ctx := context.Background()
	r, mr := setupTestRedis(t)
	mr.Close()

	_, err := r.Read(ctx, "e1")
	assert.ErrorIs(t, err, models.ErrUnavailable)
	assert.ErrorIs(t, r.AcquireHold(ctx, "u1", "e1", "res-1"), models.ErrUnavailable)
	_, err = r.HasPurchased(ctx, "u1", "e1")
	assert.ErrorIs(t, err, models.ErrUnavailable)
}

package reservation

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"ms-reservation/internal/catalog"
	"ms-reservation/internal/clock"
	"ms-reservation/internal/logger"
	"ms-reservation/internal/models"
	"ms-reservation/internal/reservation/db"
	rediswrap "ms-reservation/internal/reservation/redis"
	"ms-reservation/internal/testutil"
)

var t0 = time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

type harness struct {
	svc       *Service
	ledger    *db.Ledger
	catalog   *catalog.Catalog
	directory *catalog.Directory
	store     *rediswrap.Redis
	mr        *miniredis.Miniredis
	clock     *clock.Manual
	events    *recordingPublisher
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	bunDB := testutil.NewSQLiteDB(t)
	client, mr := testutil.NewMiniRedis(t)

	h := &harness{
		ledger:    db.NewLedger(bunDB),
		catalog:   catalog.NewCatalog(bunDB),
		directory: catalog.NewDirectory(bunDB),
		store:     rediswrap.NewRedis(client, logger.NewNopLogger(), 15*time.Minute, "NEG"),
		mr:        mr,
		clock:     clock.NewManual(t0),
		events:    &recordingPublisher{},
	}
	h.svc = NewService(h.ledger, h.store, h.catalog, h.directory, Options{
		HoldTTL:          15 * time.Minute,
		OperationTimeout: 5 * time.Second,
		IntentGrace:      time.Minute,
		SettleGrace:      time.Minute,
	}, logger.NewNopLogger())
	h.svc.Clock = h.clock
	h.svc.Events = h.events
	return h
}

// seedEvent creates a published event and its inventory counter.
func (h *harness) seedEvent(t *testing.T, id string, capacity int, unitPrice int64) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, h.catalog.CreateEvent(ctx, &models.Event{
		ID:               id,
		Name:             "Event " + id,
		Category:         "music",
		StartDate:        t0.Add(30 * 24 * time.Hour),
		Status:           models.EventStatusPublished,
		MaximumAttendees: capacity,
		UnitPrice:        unitPrice,
	}))
	require.NoError(t, h.svc.InitializeInventory(ctx, id))
}

func (h *harness) seedAttendees(t *testing.T, ids ...string) {
	t.Helper()
	for _, id := range ids {
		require.NoError(t, h.directory.CreateAttendee(context.Background(), &models.Attendee{
			ID:    id,
			Name:  "Attendee " + id,
			Email: id + "@example.com",
		}))
	}
}

func (h *harness) available(t *testing.T, eventID string) int {
	t.Helper()
	n, err := h.store.Read(context.Background(), eventID)
	require.NoError(t, err)
	return n
}

// lapse moves both clocks past the hold TTL.
func (h *harness) lapse(d time.Duration) {
	h.clock.Advance(d)
	h.mr.FastForward(d)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.ReservationEvent
}

func (p *recordingPublisher) PublishReservationEvent(_ context.Context, event models.ReservationEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.Type
	}
	return out
}

// MockStore overrides selected volatile store calls and forwards the rest
// to a real store.
type MockStore struct {
	VolatileStore
	mock.Mock
	mocked map[string]bool
}

func newMockStore(real VolatileStore, methods ...string) *MockStore {
	m := &MockStore{VolatileStore: real, mocked: map[string]bool{}}
	for _, name := range methods {
		m.mocked[name] = true
	}
	return m
}

func (m *MockStore) Decrement(ctx context.Context, eventID string, qty int) error {
	if !m.mocked["Decrement"] {
		return m.VolatileStore.Decrement(ctx, eventID, qty)
	}
	args := m.Called(eventID, qty)
	return args.Error(0)
}

func (m *MockStore) ClearIntent(ctx context.Context, reservationID string) (bool, error) {
	if !m.mocked["ClearIntent"] {
		return m.VolatileStore.ClearIntent(ctx, reservationID)
	}
	args := m.Called(reservationID)
	return args.Bool(0), args.Error(1)
}

func (m *MockStore) RefundReservation(ctx context.Context, reservationID, eventID string, qty int) (bool, error) {
	if !m.mocked["RefundReservation"] {
		return m.VolatileStore.RefundReservation(ctx, reservationID, eventID, qty)
	}
	args := m.Called(reservationID, eventID, qty)
	return args.Bool(0), args.Error(1)
}

// MockLedger fails Create and forwards everything else.
type MockLedger struct {
	LedgerStore
	mock.Mock
}

func (m *MockLedger) Create(ctx context.Context, r *models.Reservation) error {
	args := m.Called(r.EventID, r.AttendeeID)
	return args.Error(0)
}

// flakyDirectory fails the next n ticket summary appends.
type flakyDirectory struct {
	AttendeeDirectory
	mu       sync.Mutex
	failures int
}

func (d *flakyDirectory) AppendTicketSummary(ctx context.Context, summary *models.TicketSummary) error {
	d.mu.Lock()
	if d.failures > 0 {
		d.failures--
		d.mu.Unlock()
		return fmt.Errorf("%w: directory offline", models.ErrUnavailable)
	}
	d.mu.Unlock()
	return d.AttendeeDirectory.AppendTicketSummary(ctx, summary)
}

// failingConfirmLedger fails the next Confirm with err and forwards everything else.
type failingConfirmLedger struct {
	LedgerStore
	err error
}

func (l *failingConfirmLedger) Confirm(ctx context.Context, id string, payment models.Payment, now time.Time) error {
	if l.err != nil {
		err := l.err
		l.err = nil
		return err
	}
	return l.LedgerStore.Confirm(ctx, id, payment, now)
}

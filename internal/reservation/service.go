package reservation

import (
	"context"
	"fmt"
	"time"

	"ms-reservation/internal/clock"
	"ms-reservation/internal/logger"
	"ms-reservation/internal/models"
	rediswrap "ms-reservation/internal/reservation/redis"
)

type LedgerStore interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
	Create(ctx context.Context, r *models.Reservation) error
	Get(ctx context.Context, id string) (*models.Reservation, error)
	Exists(ctx context.Context, id string) (bool, error)
	FindActiveByAttendeeEvent(ctx context.Context, attendeeID, eventID string) (*models.Reservation, error)
	FindConfirmedByAttendeeEvent(ctx context.Context, attendeeID, eventID string) (*models.Reservation, error)
	Confirm(ctx context.Context, id string, payment models.Payment, now time.Time) error
	AssignTicketNumber(ctx context.Context, id, number string) (string, error)
	Cancel(ctx context.Context, id, reason string, now time.Time) (bool, error)
	MarkInventoryRestored(ctx context.Context, id string) error
	MarkSettled(ctx context.Context, id string) error
	ListStaleReservations(ctx context.Context, olderThan time.Time, limit int) ([]models.Reservation, error)
	ListUnsettledConfirmations(ctx context.Context, olderThan time.Time, limit int) ([]models.Reservation, error)
	ListUnrestoredCancellations(ctx context.Context, limit int) ([]models.Reservation, error)
	ListByAttendee(ctx context.Context, attendeeID string, status models.ReservationStatus) ([]models.Reservation, error)
	ListByEvent(ctx context.Context, eventID string, status models.ReservationStatus) ([]models.Reservation, error)
	SumActiveQuantity(ctx context.Context, eventID string) (int, error)
}

// VolatileStore covers the inventory counter, hold registry and purchase guard.
type VolatileStore interface {
	InventoryExists(ctx context.Context, eventID string) (bool, error)
	InitializeIfAbsent(ctx context.Context, eventID string, capacity int) (bool, error)
	Decrement(ctx context.Context, eventID string, qty int) error
	Read(ctx context.Context, eventID string) (int, error)
	RefundReservation(ctx context.Context, reservationID, eventID string, qty int) (bool, error)
	ClaimRefund(ctx context.Context, reservationID string) (bool, error)

	AcquireHold(ctx context.Context, attendeeID, eventID, owner string) error
	HoldOwner(ctx context.Context, attendeeID, eventID string) (string, error)
	ReleaseHold(ctx context.Context, attendeeID, eventID, owner string) error

	MarkPurchased(ctx context.Context, attendeeID, eventID, reservationID string) error
	HasPurchased(ctx context.Context, attendeeID, eventID string) (bool, error)

	RecordIntent(ctx context.Context, intent rediswrap.Intent) error
	ClearIntent(ctx context.Context, reservationID string) (bool, error)
	ReclaimIntent(ctx context.Context, intent rediswrap.Intent) (bool, error)
	ForgetIntent(ctx context.Context, intent rediswrap.Intent) (bool, error)
	ListIntents(ctx context.Context) ([]rediswrap.Intent, error)

	NextTicketNumber(ctx context.Context, category string, year int) (string, error)
}

type EventCatalog interface {
	GetEvent(ctx context.Context, eventID string) (*models.Event, error)
	UpdateEventCapacity(ctx context.Context, eventID string, quantity int) error
	ListOpenEvents(ctx context.Context) ([]models.Event, error)
}

type AttendeeDirectory interface {
	GetAttendee(ctx context.Context, attendeeID string) (*models.Attendee, error)
	AppendTicketSummary(ctx context.Context, summary *models.TicketSummary) error
}

type EventPublisher interface {
	PublishReservationEvent(ctx context.Context, event models.ReservationEvent) error
}

type TicketCodeGenerator interface {
	GenerateEncryptedQR(summary models.TicketSummary) ([]byte, error)
}

type Options struct {
	HoldTTL          time.Duration
	OperationTimeout time.Duration
	IntentGrace      time.Duration
	SettleGrace      time.Duration
	SweepBatch       int
}

func (o Options) withDefaults() Options {
	if o.HoldTTL <= 0 {
		o.HoldTTL = rediswrap.DefaultHoldTTL
	}
	if o.OperationTimeout <= 0 {
		o.OperationTimeout = 10 * time.Second
	}
	if o.IntentGrace < 3*o.OperationTimeout {
		o.IntentGrace = 3 * o.OperationTimeout
	}
	if o.SettleGrace <= 0 {
		o.SettleGrace = time.Minute
	}
	if o.SweepBatch <= 0 {
		o.SweepBatch = 500
	}
	return o
}

// Service coordinates the volatile store, the ledger and the catalog. It
// holds no locks of its own: every invariant rests on Redis atomic commands
// and status-conditioned SQL updates.
type Service struct {
	Ledger    LedgerStore
	Store     VolatileStore
	Catalog   EventCatalog
	Directory AttendeeDirectory

	// Events and Tickets are optional.
	Events  EventPublisher
	Tickets TicketCodeGenerator

	Clock  clock.Clock
	Logger *logger.Logger
	opts   Options
}

func NewService(ledger LedgerStore, store VolatileStore, catalog EventCatalog, directory AttendeeDirectory, opts Options, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Service{
		Ledger:    ledger,
		Store:     store,
		Catalog:   catalog,
		Directory: directory,
		Clock:     clock.NewSystem(),
		Logger:    log,
		opts:      opts.withDefaults(),
	}
}

func (s *Service) Options() Options {
	return s.opts
}

// detach returns a context that survives caller cancellation but is still
// bounded by the operation timeout.
func (s *Service) detach(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.opts.OperationTimeout)
}

func (s *Service) releaseHold(ctx context.Context, attendeeID, eventID, owner string) {
	if err := s.Store.ReleaseHold(ctx, attendeeID, eventID, owner); err != nil {
		s.Logger.Warn("RESERVATION", fmt.Sprintf("Failed to release hold for %s on event %s: %v", attendeeID, eventID, err))
	}
}

func (s *Service) publish(ctx context.Context, eventType string, r *models.Reservation, reason string) {
	if s.Events == nil {
		return
	}
	event := models.ReservationEvent{
		Type:          eventType,
		ReservationID: r.ID,
		EventID:       r.EventID,
		AttendeeID:    r.AttendeeID,
		Quantity:      r.Quantity,
		Status:        r.Status,
		AmountPaid:    r.Payment.Amount,
		Reason:        reason,
		OccurredAt:    s.Clock.Now(),
	}
	if err := s.Events.PublishReservationEvent(ctx, event); err != nil {
		s.Logger.Warn("KAFKA", fmt.Sprintf("Failed to publish %s for %s: %v", eventType, r.ID, err))
	}
}

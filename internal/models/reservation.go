package models

import (
	"time"

	"github.com/uptrace/bun"
)

type ReservationStatus string

const (
	ReservationStatusReserved  ReservationStatus = "reserved"
	ReservationStatusConfirmed ReservationStatus = "confirmed"
	ReservationStatusCancelled ReservationStatus = "cancelled"
)

// Terminal reports whether no further transition is allowed.
func (s ReservationStatus) Terminal() bool {
	return s == ReservationStatusConfirmed || s == ReservationStatusCancelled
}

// Cancellation reasons recorded on the ledger row.
const (
	CancelledByAttendee = "attendee"
	CancelledByExpiry   = "expiry"
	CancelledByRollback = "rollback"
)

const DefaultTicketType = "general"

// EventSnapshot is the event data copied onto the reservation at creation time.
type EventSnapshot struct {
	Name        string    `bun:"name" json:"name"`
	StartDate   time.Time `bun:"start_date" json:"start_date"`
	OrganizerID string    `bun:"organizer_id" json:"organizer_id"`
	Country     string    `bun:"country" json:"country"`
}

type Reservation struct {
	bun.BaseModel `bun:"table:reservations"`

	ID           string            `bun:"id,pk" json:"id"`
	EventID      string            `bun:"event_id,notnull" json:"event_id"`
	AttendeeID   string            `bun:"attendee_id,notnull" json:"attendee_id"`
	AttendeeName string            `bun:"attendee_name" json:"attendee_name"`
	Quantity     int               `bun:"quantity,notnull" json:"quantity"`
	TicketType   string            `bun:"ticket_type" json:"ticket_type"`
	Status       ReservationStatus `bun:"status,notnull" json:"status"`
	Event        EventSnapshot     `bun:"embed:event_" json:"event"`
	Payment      Payment           `bun:"embed:payment_" json:"payment"`
	TicketNumber string            `bun:"ticket_number,nullzero" json:"ticket_number,omitempty"`
	CancelledBy  string            `bun:"cancelled_by,nullzero" json:"cancelled_by,omitempty"`

	// Settled is set once every post-confirmation step has been applied.
	Settled bool `bun:"settled,notnull" json:"-"`
	// InventoryRestored is set once a cancelled reservation has returned its seats.
	InventoryRestored bool `bun:"inventory_restored,notnull" json:"-"`

	CreatedAt time.Time `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt time.Time `bun:"updated_at,notnull" json:"updated_at"`
}

// ReservationEvent is published to Kafka on every lifecycle transition.
type ReservationEvent struct {
	Type          string            `json:"type"`
	ReservationID string            `json:"reservation_id"`
	EventID       string            `json:"event_id"`
	AttendeeID    string            `json:"attendee_id"`
	Quantity      int               `json:"quantity"`
	Status        ReservationStatus `json:"status"`
	AmountPaid    int64             `json:"amount_paid,omitempty"`
	Reason        string            `json:"reason,omitempty"`
	OccurredAt    time.Time         `json:"occurred_at"`
}

const (
	ReservationEventCreated   = "reservation.created"
	ReservationEventConfirmed = "reservation.confirmed"
	ReservationEventCancelled = "reservation.cancelled"
	ReservationEventExpired   = "reservation.expired"
)

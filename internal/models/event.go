package models

import (
	"time"

	"github.com/uptrace/bun"
)

type EventStatus string

const (
	EventStatusPending   EventStatus = "pending"
	EventStatusPublished EventStatus = "published"
	EventStatusStarted   EventStatus = "started"
	EventStatusExtended  EventStatus = "extended"
	EventStatusCancelled EventStatus = "cancelled"
	EventStatusEnded     EventStatus = "ended"
)

// AcceptsReservations reports whether new holds may be taken for an event in this status.
func (s EventStatus) AcceptsReservations() bool {
	return s == EventStatusPublished || s == EventStatusExtended
}

// Event is owned by the event catalog. The reservation core only reads it and
// moves seats from QuantityAvailable to QuantitySold on confirmation.
type Event struct {
	bun.BaseModel `bun:"table:events"`

	ID                string      `bun:"id,pk" json:"id"`
	Name              string      `bun:"name,notnull" json:"name"`
	OrganizerID       string      `bun:"organizer_id" json:"organizer_id"`
	Country           string      `bun:"country" json:"country"`
	Category          string      `bun:"category" json:"category"`
	StartDate         time.Time   `bun:"start_date,notnull" json:"start_date"`
	Status            EventStatus `bun:"status,notnull" json:"status"`
	MaximumAttendees  int         `bun:"maximum_attendees,notnull" json:"maximum_attendees"`
	UnitPrice         int64       `bun:"unit_price,notnull" json:"unit_price"`
	QuantityAvailable int         `bun:"quantity_available,notnull" json:"quantity_available"`
	QuantitySold      int         `bun:"quantity_sold,notnull" json:"quantity_sold"`
	CreatedAt         time.Time   `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt         time.Time   `bun:"updated_at,nullzero" json:"updated_at,omitempty"`
}

// EventPublished is consumed from the catalog topic when an event opens for sale.
type EventPublished struct {
	EventID          string    `json:"event_id"`
	MaximumAttendees int       `json:"maximum_attendees"`
	PublishedAt      time.Time `json:"published_at"`
}

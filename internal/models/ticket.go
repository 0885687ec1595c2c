package models

import (
	"time"

	"github.com/uptrace/bun"
)

// TicketSummary is the attendee profile projection of a confirmed reservation.
type TicketSummary struct {
	bun.BaseModel `bun:"table:attendee_tickets"`

	TicketID     string    `bun:"ticket_id,pk" json:"ticket_id"`
	AttendeeID   string    `bun:"attendee_id,notnull" json:"attendee_id"`
	TicketType   string    `bun:"ticket_type" json:"ticket_type"`
	TicketNumber string    `bun:"ticket_number" json:"ticket_number"`
	AmountPaid   int64     `bun:"amount_paid,notnull" json:"amount_paid"`
	EventName    string    `bun:"event_name" json:"event_name"`
	QRCode       []byte    `bun:"qr_code" json:"qr_code,omitempty"`
	IssuedAt     time.Time `bun:"issued_at,notnull" json:"issued_at"`
}

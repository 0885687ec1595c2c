package models

import (
	"time"
)

type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "pending"
	PaymentStatusPaid    PaymentStatus = "paid"
	PaymentStatusFailed  PaymentStatus = "failed"
)

const PaymentMethodCard = "card"

// Payment is attached to a reservation only when it is confirmed.
type Payment struct {
	Amount int64         `bun:"amount,nullzero" json:"amount"`
	Method string        `bun:"method,nullzero" json:"method"`
	Status PaymentStatus `bun:"status,nullzero" json:"status"`
	Date   time.Time     `bun:"date,nullzero" json:"date"`
}

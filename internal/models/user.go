package models

import (
	"time"

	"github.com/uptrace/bun"
)

type Attendee struct {
	bun.BaseModel `bun:"table:attendees"`

	ID        string    `bun:"id,pk" json:"id"`
	Name      string    `bun:"name,notnull" json:"name"`
	Email     string    `bun:"email,unique,notnull" json:"email"`
	CreatedAt time.Time `bun:"created_at,notnull" json:"created_at"`
}

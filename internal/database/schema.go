package database

import (
	"context"
	"fmt"

	"github.com/uptrace/bun"

	"ms-reservation/internal/models"
)

var schemaModels = []interface{}{
	(*models.Event)(nil),
	(*models.Attendee)(nil),
	(*models.TicketSummary)(nil),
	(*models.Reservation)(nil),
}

var schemaIndexes = []string{
	`CREATE UNIQUE INDEX IF NOT EXISTS reservations_one_active_per_attendee_event ON reservations (attendee_id, event_id) WHERE status = 'reserved'`,
	`CREATE INDEX IF NOT EXISTS reservations_status_created_at ON reservations (status, created_at)`,
	`CREATE INDEX IF NOT EXISTS reservations_attendee ON reservations (attendee_id, created_at)`,
	`CREATE INDEX IF NOT EXISTS reservations_event_status ON reservations (event_id, status)`,
	`CREATE INDEX IF NOT EXISTS attendee_tickets_attendee ON attendee_tickets (attendee_id)`,
}

// CreateSchema creates tables and indexes from the bun models. It is the
// dialect-neutral twin of the embedded migrations, used for SQLite and local runs.
func CreateSchema(ctx context.Context, db *bun.DB) error {
	for _, m := range schemaModels {
		if _, err := db.NewCreateTable().Model(m).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create table for %T: %w", m, err)
		}
	}
	for _, stmt := range schemaIndexes {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}
	return nil
}

package catalog

import (
	"context"
	"time"

	"github.com/uptrace/bun"

	"ms-reservation/internal/database"
	"ms-reservation/internal/models"
)

// Directory resolves attendees and keeps their ticket summaries.
type Directory struct {
	Bun *bun.DB
}

func NewDirectory(bunDB *bun.DB) *Directory {
	return &Directory{Bun: bunDB}
}

func (d *Directory) GetAttendee(ctx context.Context, attendeeID string) (*models.Attendee, error) {
	var attendee models.Attendee
	err := database.Conn(ctx, d.Bun).NewSelect().
		Model(&attendee).
		Where("id = ?", attendeeID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, database.Classify("get attendee "+attendeeID, err)
	}
	return &attendee, nil
}

func (d *Directory) CreateAttendee(ctx context.Context, attendee *models.Attendee) error {
	if attendee.CreatedAt.IsZero() {
		attendee.CreatedAt = time.Now().UTC()
	}
	_, err := database.Conn(ctx, d.Bun).NewInsert().Model(attendee).Exec(ctx)
	return database.Classify("insert attendee "+attendee.ID, err)
}

// AppendTicketSummary adds a summary to the attendee profile. Appending the
// same ticket id twice keeps the first row.
func (d *Directory) AppendTicketSummary(ctx context.Context, summary *models.TicketSummary) error {
	_, err := database.Conn(ctx, d.Bun).NewInsert().
		Model(summary).
		On("CONFLICT (ticket_id) DO NOTHING").
		Exec(ctx)
	return database.Classify("append ticket summary "+summary.TicketID, err)
}

func (d *Directory) ListTicketSummaries(ctx context.Context, attendeeID string) ([]models.TicketSummary, error) {
	summaries := []models.TicketSummary{}
	err := database.Conn(ctx, d.Bun).NewSelect().
		Model(&summaries).
		Where("attendee_id = ?", attendeeID).
		Order("issued_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, database.Classify("list ticket summaries "+attendeeID, err)
	}
	return summaries, nil
}

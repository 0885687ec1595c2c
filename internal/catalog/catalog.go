package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"ms-reservation/internal/database"
	"ms-reservation/internal/models"
)

// Catalog reads events and applies confirmed sales to the durable
// available/sold pair.
type Catalog struct {
	Bun *bun.DB
}

func NewCatalog(bunDB *bun.DB) *Catalog {
	return &Catalog{Bun: bunDB}
}

func (c *Catalog) GetEvent(ctx context.Context, eventID string) (*models.Event, error) {
	var event models.Event
	err := database.Conn(ctx, c.Bun).NewSelect().
		Model(&event).
		Where("id = ?", eventID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, database.Classify("get event "+eventID, err)
	}
	return &event, nil
}

// CreateEvent inserts an event. Available seats default to the maximum.
func (c *Catalog) CreateEvent(ctx context.Context, event *models.Event) error {
	if event.QuantityAvailable == 0 && event.QuantitySold == 0 {
		event.QuantityAvailable = event.MaximumAttendees
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	_, err := database.Conn(ctx, c.Bun).NewInsert().Model(event).Exec(ctx)
	return database.Classify("insert event "+event.ID, err)
}

// UpdateEventCapacity moves quantity seats from available to sold. The update
// only applies while enough seats remain and sold stays within the maximum.
func (c *Catalog) UpdateEventCapacity(ctx context.Context, eventID string, quantity int) error {
	if quantity <= 0 {
		return fmt.Errorf("capacity change of %d: %w", quantity, models.ErrInvalidArgument)
	}

	res, err := database.Conn(ctx, c.Bun).NewUpdate().
		Model((*models.Event)(nil)).
		Set("quantity_available = quantity_available - ?", quantity).
		Set("quantity_sold = quantity_sold + ?", quantity).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", eventID).
		Where("quantity_available >= ?", quantity).
		Where("quantity_sold + ? <= maximum_attendees", quantity).
		Exec(ctx)
	if err != nil {
		return database.Classify("update capacity "+eventID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return database.Classify("update capacity "+eventID, err)
	}
	if n == 1 {
		return nil
	}

	if _, err := c.GetEvent(ctx, eventID); err != nil {
		return err
	}
	return fmt.Errorf("event %s has fewer than %d seats available: %w", eventID, quantity, models.ErrSoldOut)
}

// ListOpenEvents returns events that currently accept reservations.
func (c *Catalog) ListOpenEvents(ctx context.Context) ([]models.Event, error) {
	events := []models.Event{}
	err := database.Conn(ctx, c.Bun).NewSelect().
		Model(&events).
		Where("status IN (?)", bun.In([]models.EventStatus{models.EventStatusPublished, models.EventStatusExtended})).
		Order("start_date ASC").
		Scan(ctx)
	if err != nil {
		return nil, database.Classify("list open events", err)
	}
	return events, nil
}

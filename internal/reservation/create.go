package reservation

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"ms-reservation/internal/models"
	rediswrap "ms-reservation/internal/reservation/redis"
)

// CreateReservation holds quantity seats of an event for an attendee and
// returns the new reservation id.
//
// The hold is taken first, then an inventory intent is recorded, the counter
// is decremented and the ledger row inserted. The intent lets the reaper give
// back seats whose ledger row never appeared.
func (s *Service) CreateReservation(ctx context.Context, eventID, attendeeID string, quantity int) (string, error) {
	if quantity <= 0 {
		return "", fmt.Errorf("quantity must be positive, got %d: %w", quantity, models.ErrInvalidArgument)
	}
	if eventID == "" || attendeeID == "" {
		return "", fmt.Errorf("event and attendee are required: %w", models.ErrInvalidArgument)
	}

	if _, err := s.Ledger.FindActiveByAttendeeEvent(ctx, attendeeID, eventID); err == nil {
		return "", models.ErrDuplicateReservation
	} else if !errors.Is(err, models.ErrNotFound) {
		return "", err
	}

	event, err := s.Catalog.GetEvent(ctx, eventID)
	if err != nil {
		return "", err
	}
	if !event.Status.AcceptsReservations() {
		return "", fmt.Errorf("event %s is %s: %w", eventID, event.Status, models.ErrInvalidState)
	}

	attendee, err := s.Directory.GetAttendee(ctx, attendeeID)
	if err != nil {
		return "", err
	}

	id := uuid.NewString()
	if err := s.Store.AcquireHold(ctx, attendeeID, eventID, id); err != nil {
		return "", err
	}

	// From here the sequence must reach an outcome even if the caller goes away.
	ctx, cancel := s.detach(ctx)
	defer cancel()

	now := s.Clock.Now()
	intent := rediswrap.Intent{
		ReservationID: id,
		EventID:       eventID,
		AttendeeID:    attendeeID,
		Quantity:      quantity,
		CreatedAt:     now,
	}
	if err := s.Store.RecordIntent(ctx, intent); err != nil {
		s.releaseHold(ctx, attendeeID, eventID, id)
		return "", err
	}

	if err := s.Store.Decrement(ctx, eventID, quantity); err != nil {
		if !errors.Is(err, models.ErrInventoryDrift) {
			// Nothing was taken, or we cannot tell. Dropping the intent can at
			// worst leak seats, never oversell them.
			if _, cerr := s.Store.ClearIntent(ctx, id); cerr != nil {
				s.Logger.Warn("RESERVATION", fmt.Sprintf("Failed to drop intent %s: %v", id, cerr))
			}
		}
		s.releaseHold(ctx, attendeeID, eventID, id)
		return "", err
	}

	r := &models.Reservation{
		ID:           id,
		EventID:      eventID,
		AttendeeID:   attendeeID,
		AttendeeName: attendee.Name,
		Quantity:     quantity,
		TicketType:   models.DefaultTicketType,
		Status:       models.ReservationStatusReserved,
		Event: models.EventSnapshot{
			Name:        event.Name,
			StartDate:   event.StartDate,
			OrganizerID: event.OrganizerID,
			Country:     event.Country,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.Ledger.Create(ctx, r); err != nil {
		if errors.Is(err, models.ErrConflict) {
			if _, rerr := s.Store.ReclaimIntent(ctx, intent); rerr != nil {
				s.Logger.Warn("RESERVATION", fmt.Sprintf("Failed to reclaim intent %s, leaving it to the reaper: %v", id, rerr))
			}
		}
		// On any other failure the row may or may not exist. The reaper
		// settles the intent once it can see the ledger.
		s.releaseHold(ctx, attendeeID, eventID, id)
		return "", err
	}

	cleared, err := s.Store.ClearIntent(ctx, id)
	if err != nil {
		// The reaper finds the row and clears the intent itself.
		s.Logger.Warn("RESERVATION", fmt.Sprintf("Failed to clear intent %s: %v", id, err))
	} else if !cleared {
		return "", s.rollbackReclaimed(ctx, r)
	}

	s.Logger.LogReservation("CREATE", id, fmt.Sprintf("attendee %s holds %d seat(s) of event %s", attendeeID, quantity, eventID))
	s.publish(ctx, models.ReservationEventCreated, r, "")
	return id, nil
}

// rollbackReclaimed cancels a row whose seats the reaper already returned.
// The reclaim set the refund marker, so no second refund can follow.
func (s *Service) rollbackReclaimed(ctx context.Context, r *models.Reservation) error {
	if _, err := s.Ledger.Cancel(ctx, r.ID, models.CancelledByRollback, s.Clock.Now()); err != nil {
		s.Logger.Error("RESERVATION", fmt.Sprintf("Failed to roll back reclaimed reservation %s: %v", r.ID, err))
	} else if err := s.Ledger.MarkInventoryRestored(ctx, r.ID); err != nil {
		s.Logger.Warn("RESERVATION", fmt.Sprintf("Failed to mark %s restored: %v", r.ID, err))
	}
	s.releaseHold(ctx, r.AttendeeID, r.EventID, r.ID)
	return fmt.Errorf("%w: inventory for reservation %s was reclaimed before it was recorded", models.ErrUnavailable, r.ID)
}

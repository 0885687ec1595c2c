package reservation

import (
	"context"
	"errors"
	"fmt"

	"ms-reservation/internal/models"
)

// CancelReservation cancels the attendee's active reservation for an event.
// Confirmed reservations cannot be cancelled.
func (s *Service) CancelReservation(ctx context.Context, attendeeID, eventID string) error {
	active, err := s.Ledger.FindActiveByAttendeeEvent(ctx, attendeeID, eventID)
	if errors.Is(err, models.ErrNotFound) {
		if _, cerr := s.Ledger.FindConfirmedByAttendeeEvent(ctx, attendeeID, eventID); cerr == nil {
			return fmt.Errorf("reservation for event %s is confirmed: %w", eventID, models.ErrInvalidState)
		} else if !errors.Is(cerr, models.ErrNotFound) {
			return cerr
		}
		return fmt.Errorf("no active reservation for event %s: %w", eventID, models.ErrNotFound)
	}
	if err != nil {
		return err
	}

	_, err = s.cancel(ctx, active, models.CancelledByAttendee)
	return err
}

// CancelReservationByID cancels one reservation owned by the attendee.
func (s *Service) CancelReservationByID(ctx context.Context, reservationID, attendeeID string) error {
	r, err := s.Ledger.Get(ctx, reservationID)
	if err != nil {
		return err
	}
	if r.AttendeeID != attendeeID {
		return fmt.Errorf("reservation %s: %w", reservationID, models.ErrNotFound)
	}
	if r.Status != models.ReservationStatusReserved {
		return fmt.Errorf("reservation %s is %s: %w", reservationID, r.Status, models.ErrInvalidState)
	}

	_, err = s.cancel(ctx, r, models.CancelledByAttendee)
	return err
}

// ExpireHold cancels the pair's active reservation once its hold is gone.
// It is driven by Redis expiry notifications; a live hold owned by the
// active row means the notification was for an older hold.
func (s *Service) ExpireHold(ctx context.Context, attendeeID, eventID string) error {
	active, err := s.Ledger.FindActiveByAttendeeEvent(ctx, attendeeID, eventID)
	if errors.Is(err, models.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	owner, err := s.Store.HoldOwner(ctx, attendeeID, eventID)
	if err != nil {
		return err
	}
	if owner == active.ID {
		return nil
	}

	_, err = s.cancel(ctx, active, models.CancelledByExpiry)
	return err
}

// cancel performs the Reserved to Cancelled transition and, only if this call
// made it, returns the seats and releases the hold.
func (s *Service) cancel(ctx context.Context, r *models.Reservation, reason string) (bool, error) {
	ctx, cancel := s.detach(ctx)
	defer cancel()

	ok, err := s.Ledger.Cancel(ctx, r.ID, reason, s.Clock.Now())
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	r.Status = models.ReservationStatusCancelled
	r.CancelledBy = reason

	if _, err := s.restoreInventory(ctx, r); err != nil {
		s.Logger.Warn("RESERVATION", fmt.Sprintf("Seats of %s not restored yet, the reaper will retry: %v", r.ID, err))
	}
	s.releaseHold(ctx, r.AttendeeID, r.EventID, r.ID)

	s.Logger.LogReservation("CANCEL", r.ID, fmt.Sprintf("cancelled by %s, %d seat(s) returned to event %s", reason, r.Quantity, r.EventID))
	eventType := models.ReservationEventCancelled
	if reason == models.CancelledByExpiry {
		eventType = models.ReservationEventExpired
	}
	s.publish(ctx, eventType, r, reason)
	return true, nil
}

// restoreInventory returns a cancelled reservation's seats at most once and
// records that on the ledger row.
func (s *Service) restoreInventory(ctx context.Context, r *models.Reservation) (bool, error) {
	refunded, err := s.Store.RefundReservation(ctx, r.ID, r.EventID, r.Quantity)
	if err != nil {
		return false, err
	}
	if err := s.Ledger.MarkInventoryRestored(ctx, r.ID); err != nil {
		return refunded, err
	}
	return refunded, nil
}

package reservation

import (
	"context"
	"fmt"

	"ms-reservation/internal/models"
)

// GetAvailableSeats returns the seats that can still be held, never below zero.
func (s *Service) GetAvailableSeats(ctx context.Context, eventID string) (int, error) {
	return s.Store.Read(ctx, eventID)
}

func (s *Service) GetReservation(ctx context.Context, reservationID, attendeeID string) (*models.Reservation, error) {
	r, err := s.Ledger.Get(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	if r.AttendeeID != attendeeID {
		return nil, fmt.Errorf("reservation %s: %w", reservationID, models.ErrNotFound)
	}
	return r, nil
}

// ListReservationsForAttendee returns the attendee's reservations, newest
// first. An empty status lists all of them.
func (s *Service) ListReservationsForAttendee(ctx context.Context, attendeeID string, status models.ReservationStatus) ([]models.Reservation, error) {
	return s.Ledger.ListByAttendee(ctx, attendeeID, status)
}

func (s *Service) ListReservationsForEvent(ctx context.Context, eventID string, status models.ReservationStatus) ([]models.Reservation, error) {
	return s.Ledger.ListByEvent(ctx, eventID, status)
}

// InitializeInventory creates an event's counter when it is published. An
// existing counter is left alone, so redelivered or repeated publications
// never reset live inventory.
func (s *Service) InitializeInventory(ctx context.Context, eventID string) error {
	created, capacity, err := s.ensureInventory(ctx, eventID)
	if err != nil {
		return err
	}
	if created {
		s.Logger.LogReservation("INVENTORY", eventID, fmt.Sprintf("counter set to %d", capacity))
	}
	return nil
}

// BootstrapInventory creates missing counters for every open event and
// reports how many it created. Existing counters are left untouched.
func (s *Service) BootstrapInventory(ctx context.Context) (int, error) {
	events, err := s.Catalog.ListOpenEvents(ctx)
	if err != nil {
		return 0, err
	}

	created := 0
	for _, event := range events {
		ok, _, err := s.ensureInventory(ctx, event.ID)
		if err != nil {
			return created, err
		}
		if ok {
			created++
		}
	}
	s.Logger.Info("INVENTORY", fmt.Sprintf("Bootstrapped %d of %d open event counter(s)", created, len(events)))
	return created, nil
}

// ensureInventory builds a missing counter from the ledger. The rebuilt value
// counts every cancelled row and every intent without a row as free seats,
// so the bookkeeping the reaper would use to return those seats is settled
// first: open intents are cleared or forgotten and unrestored cancellations
// get their refund marker.
func (s *Service) ensureInventory(ctx context.Context, eventID string) (bool, int, error) {
	exists, err := s.Store.InventoryExists(ctx, eventID)
	if err != nil || exists {
		return false, 0, err
	}

	if err := s.settleIntents(ctx, eventID); err != nil {
		return false, 0, err
	}
	if err := s.settleCancellations(ctx, eventID); err != nil {
		return false, 0, err
	}

	capacity, err := s.remainingCapacity(ctx, eventID)
	if err != nil {
		return false, 0, err
	}
	created, err := s.Store.InitializeIfAbsent(ctx, eventID, capacity)
	return created, capacity, err
}

func (s *Service) settleIntents(ctx context.Context, eventID string) error {
	intents, err := s.Store.ListIntents(ctx)
	if err != nil {
		return err
	}
	for _, intent := range intents {
		if intent.EventID != eventID {
			continue
		}
		recorded, err := s.Ledger.Exists(ctx, intent.ReservationID)
		if err != nil {
			return err
		}
		if recorded {
			_, err = s.Store.ClearIntent(ctx, intent.ReservationID)
		} else {
			_, err = s.Store.ForgetIntent(ctx, intent)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) settleCancellations(ctx context.Context, eventID string) error {
	cancelled, err := s.Ledger.ListByEvent(ctx, eventID, models.ReservationStatusCancelled)
	if err != nil {
		return err
	}
	for _, r := range cancelled {
		if r.InventoryRestored {
			continue
		}
		if _, err := s.Store.ClaimRefund(ctx, r.ID); err != nil {
			return err
		}
		if err := s.Ledger.MarkInventoryRestored(ctx, r.ID); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) remainingCapacity(ctx context.Context, eventID string) (int, error) {
	event, err := s.Catalog.GetEvent(ctx, eventID)
	if err != nil {
		return 0, err
	}
	active, err := s.Ledger.SumActiveQuantity(ctx, eventID)
	if err != nil {
		return 0, err
	}
	capacity := event.MaximumAttendees - active
	if capacity < 0 {
		capacity = 0
	}
	return capacity, nil
}

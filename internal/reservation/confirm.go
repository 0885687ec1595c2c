package reservation

import (
	"context"
	"errors"
	"fmt"

	"ms-reservation/internal/models"
)

// ConfirmReservation turns a held reservation into a sale once the attendee
// has paid exactly quantity * unit price.
//
// The ledger transition and the catalog capacity change commit in one
// transaction. Everything after that is an idempotent settlement step that
// the reaper resumes if this call does not finish it.
func (s *Service) ConfirmReservation(ctx context.Context, reservationID, attendeeID string, amountPaid int64) (*models.Reservation, error) {
	r, err := s.Ledger.Get(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	if r.AttendeeID != attendeeID {
		return nil, fmt.Errorf("reservation %s: %w", reservationID, models.ErrNotFound)
	}
	if r.Status != models.ReservationStatusReserved {
		return nil, fmt.Errorf("reservation %s is %s: %w", reservationID, r.Status, models.ErrInvalidState)
	}

	event, err := s.Catalog.GetEvent(ctx, r.EventID)
	if err != nil {
		return nil, err
	}

	expected := int64(r.Quantity) * event.UnitPrice
	if amountPaid != expected {
		return nil, fmt.Errorf("paid %d, expected %d: %w", amountPaid, expected, models.ErrAmountMismatch)
	}

	purchased, err := s.Store.HasPurchased(ctx, attendeeID, r.EventID)
	if err != nil {
		return nil, err
	}
	if purchased {
		return nil, models.ErrDuplicatePurchase
	}

	owner, err := s.Store.HoldOwner(ctx, attendeeID, r.EventID)
	if err != nil {
		return nil, err
	}
	if owner != r.ID {
		return nil, fmt.Errorf("reservation %s: %w", reservationID, models.ErrHoldExpired)
	}

	active, err := s.Ledger.FindActiveByAttendeeEvent(ctx, attendeeID, r.EventID)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}
	if active == nil || active.ID != r.ID {
		return nil, fmt.Errorf("reservation %s is no longer active: %w", reservationID, models.ErrInvalidState)
	}

	if event.QuantityAvailable < r.Quantity || event.QuantitySold+r.Quantity > event.MaximumAttendees {
		return nil, fmt.Errorf("event %s: %w", r.EventID, models.ErrSoldOut)
	}

	now := s.Clock.Now()
	ctx, cancel := s.detach(ctx)
	defer cancel()

	payment := models.Payment{
		Amount: amountPaid,
		Method: models.PaymentMethodCard,
		Status: models.PaymentStatusPaid,
		Date:   now,
	}
	err = s.Ledger.RunInTx(ctx, func(ctx context.Context) error {
		if err := s.Ledger.Confirm(ctx, r.ID, payment, now); err != nil {
			return err
		}
		return s.Catalog.UpdateEventCapacity(ctx, r.EventID, r.Quantity)
	})
	if err != nil {
		return nil, err
	}

	r.Status = models.ReservationStatusConfirmed
	r.Payment = payment
	r.UpdatedAt = now
	s.Logger.LogReservation("CONFIRM", r.ID, fmt.Sprintf("paid %d", amountPaid))

	if err := s.settle(ctx, r); err != nil {
		s.Logger.Warn("RESERVATION", fmt.Sprintf("Settlement of %s incomplete, the reaper will resume it: %v", r.ID, err))
	} else {
		r.Settled = true
	}

	s.publish(ctx, models.ReservationEventConfirmed, r, "")
	return r, nil
}

// settle applies the post-confirmation steps. Each step is safe to repeat.
func (s *Service) settle(ctx context.Context, r *models.Reservation) error {
	if r.TicketNumber == "" {
		if err := s.assignTicketNumber(ctx, r); err != nil {
			return fmt.Errorf("assign ticket number: %w", err)
		}
	}

	summary := models.TicketSummary{
		TicketID:     r.ID,
		AttendeeID:   r.AttendeeID,
		TicketType:   r.TicketType,
		TicketNumber: r.TicketNumber,
		AmountPaid:   r.Payment.Amount,
		EventName:    r.Event.Name,
		IssuedAt:     r.Payment.Date,
	}
	if summary.IssuedAt.IsZero() {
		summary.IssuedAt = s.Clock.Now()
	}
	if s.Tickets != nil {
		code, err := s.Tickets.GenerateEncryptedQR(summary)
		if err != nil {
			s.Logger.Warn("TICKETS", fmt.Sprintf("Failed to generate QR for %s: %v", r.ID, err))
		} else {
			summary.QRCode = code
		}
	}

	if err := s.Directory.AppendTicketSummary(ctx, &summary); err != nil {
		return fmt.Errorf("append ticket summary: %w", err)
	}
	if err := s.Store.MarkPurchased(ctx, r.AttendeeID, r.EventID, r.ID); err != nil {
		return fmt.Errorf("mark purchased: %w", err)
	}
	if err := s.Store.ReleaseHold(ctx, r.AttendeeID, r.EventID, r.ID); err != nil {
		return fmt.Errorf("release hold: %w", err)
	}
	if err := s.Ledger.MarkSettled(ctx, r.ID); err != nil {
		return fmt.Errorf("mark settled: %w", err)
	}
	return nil
}

// assignTicketNumber draws the next reference for the event's category and
// year of payment. Only committed sales draw numbers. When two settlements
// race, the first stored number wins and the other draw is a gap.
func (s *Service) assignTicketNumber(ctx context.Context, r *models.Reservation) error {
	event, err := s.Catalog.GetEvent(ctx, r.EventID)
	if err != nil {
		return err
	}
	paidAt := r.Payment.Date
	if paidAt.IsZero() {
		paidAt = s.Clock.Now()
	}
	number, err := s.Store.NextTicketNumber(ctx, event.Category, paidAt.Year())
	if err != nil {
		return err
	}
	stored, err := s.Ledger.AssignTicketNumber(ctx, r.ID, number)
	if err != nil {
		return err
	}
	r.TicketNumber = stored
	return nil
}

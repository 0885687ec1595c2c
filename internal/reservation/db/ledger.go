package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"ms-reservation/internal/database"
	"ms-reservation/internal/models"
)

// Ledger is the durable reservation store. Every status transition is a
// conditional UPDATE so concurrent writers cannot both win.
type Ledger struct {
	Bun *bun.DB
}

func NewLedger(bunDB *bun.DB) *Ledger {
	return &Ledger{Bun: bunDB}
}

func (l *Ledger) conn(ctx context.Context) bun.IDB {
	return database.Conn(ctx, l.Bun)
}

// RunInTx runs fn in a transaction. Ledger calls made with the ctx passed to
// fn join that transaction.
func (l *Ledger) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return database.WithTx(ctx, l.Bun, fn)
}

// Create inserts a new reservation. A second active row for the same
// attendee and event violates the partial unique index.
func (l *Ledger) Create(ctx context.Context, r *models.Reservation) error {
	_, err := l.conn(ctx).NewInsert().Model(r).Exec(ctx)
	if database.IsUniqueViolation(err) {
		return models.ErrDuplicateReservation
	}
	return database.Classify("insert reservation", err)
}

func (l *Ledger) Get(ctx context.Context, id string) (*models.Reservation, error) {
	var r models.Reservation
	err := l.conn(ctx).NewSelect().
		Model(&r).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, database.Classify("get reservation "+id, err)
	}
	return &r, nil
}

func (l *Ledger) Exists(ctx context.Context, id string) (bool, error) {
	exists, err := l.conn(ctx).NewSelect().
		Model((*models.Reservation)(nil)).
		Where("id = ?", id).
		Exists(ctx)
	if err != nil {
		return false, database.Classify("check reservation "+id, err)
	}
	return exists, nil
}

// FindActiveByAttendeeEvent returns the Reserved row for the pair or ErrNotFound.
func (l *Ledger) FindActiveByAttendeeEvent(ctx context.Context, attendeeID, eventID string) (*models.Reservation, error) {
	return l.findByStatus(ctx, attendeeID, eventID, models.ReservationStatusReserved)
}

// FindConfirmedByAttendeeEvent returns the most recent Confirmed row for the pair or ErrNotFound.
func (l *Ledger) FindConfirmedByAttendeeEvent(ctx context.Context, attendeeID, eventID string) (*models.Reservation, error) {
	return l.findByStatus(ctx, attendeeID, eventID, models.ReservationStatusConfirmed)
}

func (l *Ledger) findByStatus(ctx context.Context, attendeeID, eventID string, status models.ReservationStatus) (*models.Reservation, error) {
	var r models.Reservation
	err := l.conn(ctx).NewSelect().
		Model(&r).
		Where("attendee_id = ?", attendeeID).
		Where("event_id = ?", eventID).
		Where("status = ?", status).
		Order("created_at DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, database.Classify(fmt.Sprintf("find %s reservation", status), err)
	}
	return &r, nil
}

// Confirm moves a Reserved row to Confirmed and attaches the payment.
// Any other current status yields ErrInvalidState.
func (l *Ledger) Confirm(ctx context.Context, id string, payment models.Payment, now time.Time) error {
	res, err := l.conn(ctx).NewUpdate().
		Model((*models.Reservation)(nil)).
		Set("status = ?", models.ReservationStatusConfirmed).
		Set("payment_amount = ?", payment.Amount).
		Set("payment_method = ?", payment.Method).
		Set("payment_status = ?", payment.Status).
		Set("payment_date = ?", payment.Date).
		Set("updated_at = ?", now).
		Where("id = ?", id).
		Where("status = ?", models.ReservationStatusReserved).
		Exec(ctx)
	if err != nil {
		return database.Classify("confirm reservation "+id, err)
	}

	applied, err := transitioned(res)
	if err != nil {
		return database.Classify("confirm reservation "+id, err)
	}
	if applied {
		return nil
	}

	current, err := l.Get(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("reservation %s is %s: %w", id, current.Status, models.ErrInvalidState)
}

// AssignTicketNumber stores number on a Confirmed row that has none yet and
// returns the number the row ends up with, which is the earlier one if
// another call got there first.
func (l *Ledger) AssignTicketNumber(ctx context.Context, id, number string) (string, error) {
	res, err := l.conn(ctx).NewUpdate().
		Model((*models.Reservation)(nil)).
		Set("ticket_number = ?", number).
		Where("id = ?", id).
		Where("status = ?", models.ReservationStatusConfirmed).
		Where("ticket_number IS NULL").
		Exec(ctx)
	if err != nil {
		return "", database.Classify("assign ticket number "+id, err)
	}

	applied, err := transitioned(res)
	if err != nil {
		return "", database.Classify("assign ticket number "+id, err)
	}
	if applied {
		return number, nil
	}

	current, err := l.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if current.Status != models.ReservationStatusConfirmed || current.TicketNumber == "" {
		return "", fmt.Errorf("reservation %s is %s: %w", id, current.Status, models.ErrInvalidState)
	}
	return current.TicketNumber, nil
}

// Cancel moves a Reserved row to Cancelled. It reports whether this call
// performed the transition: an already cancelled row returns false with no
// error, a confirmed row returns ErrInvalidState.
func (l *Ledger) Cancel(ctx context.Context, id, reason string, now time.Time) (bool, error) {
	res, err := l.conn(ctx).NewUpdate().
		Model((*models.Reservation)(nil)).
		Set("status = ?", models.ReservationStatusCancelled).
		Set("cancelled_by = ?", reason).
		Set("updated_at = ?", now).
		Where("id = ?", id).
		Where("status = ?", models.ReservationStatusReserved).
		Exec(ctx)
	if err != nil {
		return false, database.Classify("cancel reservation "+id, err)
	}

	applied, err := transitioned(res)
	if err != nil {
		return false, database.Classify("cancel reservation "+id, err)
	}
	if applied {
		return true, nil
	}

	current, err := l.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if current.Status == models.ReservationStatusConfirmed {
		return false, fmt.Errorf("reservation %s is confirmed: %w", id, models.ErrInvalidState)
	}
	return false, nil
}

// MarkInventoryRestored records that a cancelled row has returned its seats.
func (l *Ledger) MarkInventoryRestored(ctx context.Context, id string) error {
	_, err := l.conn(ctx).NewUpdate().
		Model((*models.Reservation)(nil)).
		Set("inventory_restored = ?", true).
		Where("id = ?", id).
		Where("status = ?", models.ReservationStatusCancelled).
		Exec(ctx)
	return database.Classify("mark inventory restored "+id, err)
}

// MarkSettled records that every post-confirmation step has been applied.
func (l *Ledger) MarkSettled(ctx context.Context, id string) error {
	_, err := l.conn(ctx).NewUpdate().
		Model((*models.Reservation)(nil)).
		Set("settled = ?", true).
		Where("id = ?", id).
		Where("status = ?", models.ReservationStatusConfirmed).
		Exec(ctx)
	return database.Classify("mark settled "+id, err)
}

// ListStaleReservations returns Reserved rows created before olderThan, oldest first.
func (l *Ledger) ListStaleReservations(ctx context.Context, olderThan time.Time, limit int) ([]models.Reservation, error) {
	var rows []models.Reservation
	q := l.conn(ctx).NewSelect().
		Model(&rows).
		Where("status = ?", models.ReservationStatusReserved).
		Where("created_at < ?", olderThan).
		Order("created_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, database.Classify("list stale reservations", err)
	}
	return rows, nil
}

// ListUnsettledConfirmations returns Confirmed rows whose settlement has not
// finished and that were last touched before olderThan.
func (l *Ledger) ListUnsettledConfirmations(ctx context.Context, olderThan time.Time, limit int) ([]models.Reservation, error) {
	var rows []models.Reservation
	q := l.conn(ctx).NewSelect().
		Model(&rows).
		Where("status = ?", models.ReservationStatusConfirmed).
		Where("settled = ?", false).
		Where("updated_at < ?", olderThan).
		Order("updated_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, database.Classify("list unsettled confirmations", err)
	}
	return rows, nil
}

// ListUnrestoredCancellations returns Cancelled rows whose seats have not been returned yet.
func (l *Ledger) ListUnrestoredCancellations(ctx context.Context, limit int) ([]models.Reservation, error) {
	var rows []models.Reservation
	q := l.conn(ctx).NewSelect().
		Model(&rows).
		Where("status = ?", models.ReservationStatusCancelled).
		Where("inventory_restored = ?", false).
		Order("updated_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, database.Classify("list unrestored cancellations", err)
	}
	return rows, nil
}

// ListByAttendee returns the attendee's reservations, newest first. An empty
// status returns every status.
func (l *Ledger) ListByAttendee(ctx context.Context, attendeeID string, status models.ReservationStatus) ([]models.Reservation, error) {
	rows := []models.Reservation{}
	q := l.conn(ctx).NewSelect().
		Model(&rows).
		Where("attendee_id = ?", attendeeID).
		Order("created_at DESC")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, database.Classify("list reservations for attendee "+attendeeID, err)
	}
	return rows, nil
}

func (l *Ledger) ListByEvent(ctx context.Context, eventID string, status models.ReservationStatus) ([]models.Reservation, error) {
	rows := []models.Reservation{}
	q := l.conn(ctx).NewSelect().
		Model(&rows).
		Where("event_id = ?", eventID).
		Order("created_at DESC")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, database.Classify("list reservations for event "+eventID, err)
	}
	return rows, nil
}

// SumActiveQuantity returns the seats held or sold for an event according to the ledger.
func (l *Ledger) SumActiveQuantity(ctx context.Context, eventID string) (int, error) {
	var total sql.NullInt64
	err := l.conn(ctx).NewSelect().
		Model((*models.Reservation)(nil)).
		ColumnExpr("SUM(quantity)").
		Where("event_id = ?", eventID).
		Where("status IN (?)", bun.In([]models.ReservationStatus{
			models.ReservationStatusReserved,
			models.ReservationStatusConfirmed,
		})).
		Scan(ctx, &total)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return 0, database.Classify("sum active quantity "+eventID, err)
	}
	return int(total.Int64), nil
}

func transitioned(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

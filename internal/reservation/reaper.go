package reservation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ms-reservation/internal/logger"
	"ms-reservation/internal/models"
)

// SweepReport counts what one expiry sweep did.
type SweepReport struct {
	Expired          int `json:"expired"`
	AlreadyFinal     int `json:"already_final"`
	Refunded         int `json:"refunded"`
	Settled          int `json:"settled"`
	IntentsReclaimed int `json:"intents_reclaimed"`
	IntentsCleared   int `json:"intents_cleared"`
	Errors           int `json:"errors"`
}

func (r SweepReport) Empty() bool {
	return r == SweepReport{}
}

// RunExpirySweep cancels holds older than the hold TTL, finishes interrupted
// cancellations and confirmations, and settles inventory intents left behind
// by interrupted creates. It is safe to run concurrently with itself.
func (s *Service) RunExpirySweep(ctx context.Context) (SweepReport, error) {
	var report SweepReport
	var errs []error
	now := s.Clock.Now()

	stale, err := s.Ledger.ListStaleReservations(ctx, now.Add(-s.opts.HoldTTL), s.opts.SweepBatch)
	if err != nil {
		errs = append(errs, err)
	}
	for i := range stale {
		ok, err := s.cancel(ctx, &stale[i], models.CancelledByExpiry)
		switch {
		case err != nil && !errors.Is(err, models.ErrInvalidState):
			report.Errors++
			s.Logger.Warn("REAPER", fmt.Sprintf("Failed to expire %s: %v", stale[i].ID, err))
		case ok:
			report.Expired++
		default:
			report.AlreadyFinal++
		}
	}

	unrestored, err := s.Ledger.ListUnrestoredCancellations(ctx, s.opts.SweepBatch)
	if err != nil {
		errs = append(errs, err)
	}
	for i := range unrestored {
		refunded, err := s.restoreInventory(ctx, &unrestored[i])
		if err != nil {
			report.Errors++
			s.Logger.Warn("REAPER", fmt.Sprintf("Failed to restore seats of %s: %v", unrestored[i].ID, err))
			continue
		}
		if refunded {
			report.Refunded++
		}
	}

	unsettled, err := s.Ledger.ListUnsettledConfirmations(ctx, now.Add(-s.opts.SettleGrace), s.opts.SweepBatch)
	if err != nil {
		errs = append(errs, err)
	}
	for i := range unsettled {
		if err := s.settle(ctx, &unsettled[i]); err != nil {
			report.Errors++
			s.Logger.Warn("REAPER", fmt.Sprintf("Failed to settle %s: %v", unsettled[i].ID, err))
			continue
		}
		report.Settled++
	}

	if err := s.sweepIntents(ctx, now, &report); err != nil {
		errs = append(errs, err)
	}

	return report, errors.Join(errs...)
}

func (s *Service) sweepIntents(ctx context.Context, now time.Time, report *SweepReport) error {
	intents, err := s.Store.ListIntents(ctx)
	if err != nil {
		return err
	}

	cutoff := now.Add(-s.opts.IntentGrace)
	for _, intent := range intents {
		if !intent.CreatedAt.Before(cutoff) {
			continue
		}

		exists, err := s.Ledger.Exists(ctx, intent.ReservationID)
		if err != nil {
			report.Errors++
			continue
		}

		if exists {
			cleared, err := s.Store.ClearIntent(ctx, intent.ReservationID)
			if err != nil {
				report.Errors++
				continue
			}
			if cleared {
				report.IntentsCleared++
			}
			continue
		}

		reclaimed, err := s.Store.ReclaimIntent(ctx, intent)
		if err != nil {
			report.Errors++
			continue
		}
		if reclaimed {
			report.IntentsReclaimed++
			s.releaseHold(ctx, intent.AttendeeID, intent.EventID, intent.ReservationID)
			s.Logger.LogReaper("RECLAIM", fmt.Sprintf("returned %d seat(s) of event %s from unrecorded reservation %s", intent.Quantity, intent.EventID, intent.ReservationID))
		}
	}
	return nil
}

// Reaper runs the expiry sweep on a fixed interval.
type Reaper struct {
	Service  *Service
	Interval time.Duration
	Logger   *logger.Logger
}

func NewReaper(service *Service, interval time.Duration, log *logger.Logger) *Reaper {
	if interval <= 0 {
		interval = time.Minute
	}
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Reaper{Service: service, Interval: interval, Logger: log}
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()

	r.Logger.LogReaper("START", fmt.Sprintf("sweeping every %s", r.Interval))
	r.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			r.Logger.LogReaper("STOP", "reaper stopped")
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *Reaper) sweep(ctx context.Context) {
	report, err := r.Service.RunExpirySweep(ctx)
	if err != nil {
		r.Logger.Error("REAPER", fmt.Sprintf("Sweep failed: %v", err))
	}
	if !report.Empty() {
		r.Logger.LogReaper("SWEEP", fmt.Sprintf("%+v", report))
	}
}

/*
expiry.go - Expiration and no-show sweep

PURPOSE:
  Force-resolves bookings stuck in a pending state past a deadline. Two
  independent scans, both producing refund-style entries (never charges) and
  both terminal-transitioning the booking to cancelled:

  UNCONFIRMED EXPIRY: bookings sitting in created/payment_hold/
  awaiting_cleaner_response longer than UnconfirmedMaxAge with no cleaner
  response. Full refund of the held amount, reason "expired_unconfirmed".

  NO-SHOW: scheduled bookings whose start has passed with no check-in.
  Refund of the held amount plus a fixed compensation credit, reason
  "no_show".

  Idempotency keys derive from the booking ID and the scan name, so a sweep
  that crashes mid-batch and restarts cannot double-refund.
*/
package sweep

import (
	"context"
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/cleanslate/escrow-engine/engine"
	"github.com/cleanslate/escrow-engine/escrow"
)

// ExpirySweep resolves abandoned and no-show bookings.
type ExpirySweep struct {
	Store    engine.TxStore
	Machine  *engine.Machine
	Clock    engine.Clock
	Notifier escrow.Notifier

	// UnconfirmedMaxAge is how long a booking may wait for a cleaner
	// response before it is expired and refunded.
	UnconfirmedMaxAge time.Duration

	// NoShowCompensation is the fixed credit granted on top of the refund
	// when a cleaner never arrives.
	NoShowCompensation int64
}

func NewExpirySweep(store engine.TxStore, clock engine.Clock, notifier escrow.Notifier) *ExpirySweep {
	if clock == nil {
		clock = engine.SystemClock{}
	}
	return &ExpirySweep{
		Store:              store,
		Machine:            engine.NewMachine(store, clock),
		Clock:              clock,
		Notifier:           notifier,
		UnconfirmedMaxAge:  24 * time.Hour,
		NoShowCompensation: 25,
	}
}

// ExpiryReport summarizes one run.
type ExpiryReport struct {
	Expired int
	NoShows int
	Skipped int
	Failed  int
}

// Run executes both scans.
func (s *ExpirySweep) Run(ctx context.Context) (ExpiryReport, error) {
	var report ExpiryReport
	if err := s.RunUnconfirmed(ctx, &report); err != nil {
		return report, err
	}
	if err := s.RunNoShow(ctx, &report); err != nil {
		return report, err
	}
	if report.Expired > 0 || report.NoShows > 0 || report.Failed > 0 {
		log.Printf("[ExpirySweep] expired=%d no_shows=%d skipped=%d failed=%d",
			report.Expired, report.NoShows, report.Skipped, report.Failed)
	}
	return report, nil
}

// RunUnconfirmed expires bookings no cleaner ever answered. Bookings stuck
// in created (hold never funded) age out the same way, with nothing to
// refund.
func (s *ExpirySweep) RunUnconfirmed(ctx context.Context, report *ExpiryReport) error {
	timer := prometheus.NewTimer(sweepDuration.WithLabelValues("expiry"))
	defer timer.ObserveDuration()

	cutoff := s.Clock.Now().Add(-s.UnconfirmedMaxAge)
	stuck, err := s.Store.BookingsInStatus(ctx, engine.StatusCreated, engine.StatusPaymentHold, engine.StatusAwaitingCleaner)
	if err != nil {
		return err
	}

	for _, b := range stuck {
		if b.CreatedAt.After(cutoff) {
			continue
		}
		cancelled, err := s.Machine.Transition(ctx, b.ID, b.Status, engine.StatusCancelled, engine.ActorSystem, engine.ExpiryEffects(b))
		switch {
		case engine.IsAlreadyHandled(err):
			report.Skipped++
			sweepSkips.WithLabelValues("expiry").Inc()
			continue
		case err != nil:
			report.Failed++
			sweepFailures.WithLabelValues("expiry").Inc()
			log.Printf("[ExpirySweep] booking %s: %v", b.ID, err)
			continue
		}
		report.Expired++
		expiredUnconfirmed.Inc()
		s.notifyCancelled(ctx, cancelled, engine.ReasonExpiredUnconfirmed)
	}
	return nil
}

// RunNoShow refunds and compensates scheduled bookings whose start passed
// with no check-in.
func (s *ExpirySweep) RunNoShow(ctx context.Context, report *ExpiryReport) error {
	timer := prometheus.NewTimer(sweepDuration.WithLabelValues("no_show"))
	defer timer.ObserveDuration()

	now := s.Clock.Now()
	scheduled, err := s.Store.BookingsInStatus(ctx, engine.StatusScheduled)
	if err != nil {
		return err
	}

	for _, b := range scheduled {
		if b.CheckedInAt != nil || b.ScheduledStart.After(now) {
			continue
		}
		cancelled, err := s.Machine.Transition(ctx, b.ID, engine.StatusScheduled, engine.StatusCancelled, engine.ActorSystem,
			engine.NoShowEffects(b, s.NoShowCompensation))
		switch {
		case engine.IsAlreadyHandled(err):
			report.Skipped++
			sweepSkips.WithLabelValues("no_show").Inc()
			continue
		case err != nil:
			report.Failed++
			sweepFailures.WithLabelValues("no_show").Inc()
			log.Printf("[ExpirySweep] no-show booking %s: %v", b.ID, err)
			continue
		}
		report.NoShows++
		noShowsResolved.Inc()
		s.notifyCancelled(ctx, cancelled, engine.ReasonNoShow)
	}
	return nil
}

func (s *ExpirySweep) notifyCancelled(ctx context.Context, b *engine.Booking, reason string) {
	if s.Notifier == nil {
		return
	}
	payload := map[string]any{"booking_id": b.ID, "reason": reason}
	if err := s.Notifier.Notify(ctx, string(b.ClientID), escrow.EventBookingCancelled, payload); err != nil {
		log.Printf("[ExpirySweep] notify failed for %s: %v", b.ID, err)
	}
}

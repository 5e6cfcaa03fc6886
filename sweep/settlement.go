/*
Package sweep contains the background actors of the escrow engine: the
settlement timer, the expiration and no-show sweep, and the recurring
booking generator. An external scheduler (cron-equivalent, or the api
package's polling loop) invokes Run on each; nothing here schedules itself.

RE-ENTRANCY:
  Every sweep is safe to run twice concurrently or to restart mid-batch.
  Safety comes from the engine's two mechanisms, not from locking:
  compare-and-set on the expected prior status (a record another actor
  already resolved fails the CAS and is skipped) and deterministic
  idempotency keys on every ledger write (a crashed-and-restarted batch
  re-appends onto the same rows). Over-frequent polling is harmless.

SEE ALSO:
  - engine/machine.go: the compare-and-set contract
  - engine/effects.go: the idempotency-key scheme
  - api/scheduler.go: the in-process polling loop
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

// =============================================================================
// SETTLEMENT TIMER
// =============================================================================

// SettlementTimer guarantees that a completed booking's payment is captured
// exactly once: if the client never approves, the booking is auto-settled
// Delay after completed_at. It races manual approval on the same
// compare-and-set, so the loser skips instead of double-charging.
type SettlementTimer struct {
	Store    engine.TxStore
	Machine  *engine.Machine
	Clock    engine.Clock
	Notifier escrow.Notifier

	// Delay is how long after completed_at the automatic release fires.
	Delay time.Duration
}

func NewSettlementTimer(store engine.TxStore, clock engine.Clock, notifier escrow.Notifier) *SettlementTimer {
	if clock == nil {
		clock = engine.SystemClock{}
	}
	return &SettlementTimer{
		Store:    store,
		Machine:  engine.NewMachine(store, clock),
		Clock:    clock,
		Notifier: notifier,
		Delay:    48 * time.Hour,
	}
}

// SettlementReport summarizes one run.
type SettlementReport struct {
	Examined int
	Captured int
	Skipped  int
	Failed   int
}

// Run scans awaiting_client_review bookings past the settlement deadline and
// settles each at the computed final charge, keyed "settle:<booking>".
func (t *SettlementTimer) Run(ctx context.Context) (SettlementReport, error) {
	timer := prometheus.NewTimer(sweepDuration.WithLabelValues("settlement"))
	defer timer.ObserveDuration()

	var report SettlementReport
	now := t.Clock.Now()

	candidates, err := t.Store.BookingsInStatus(ctx, engine.StatusAwaitingReview)
	if err != nil {
		return report, err
	}

	for _, b := range candidates {
		if b.PaymentCaptured || b.CompletedAt == nil {
			continue
		}
		if now.Sub(*b.CompletedAt) < t.Delay {
			continue
		}
		report.Examined++

		final := engine.FinalCharge(b)
		settled, err := t.Machine.Transition(ctx, b.ID, engine.StatusAwaitingReview, engine.StatusApproved, engine.ActorSystem,
			engine.SettlementEffects(b, final))
		switch {
		case engine.IsAlreadyHandled(err):
			// The client just approved (or a parallel worker settled it).
			report.Skipped++
			sweepSkips.WithLabelValues("settlement").Inc()
			continue
		case err != nil:
			report.Failed++
			sweepFailures.WithLabelValues("settlement").Inc()
			log.Printf("[SettlementTimer] booking %s: %v", b.ID, err)
			continue
		}

		report.Captured++
		settlementsCaptured.Inc()
		if t.Notifier != nil {
			payload := map[string]any{"booking_id": settled.ID, "amount": final, "auto": true}
			if err := t.Notifier.Notify(ctx, string(settled.CleanerID), escrow.EventPaymentReleased, payload); err != nil {
				log.Printf("[SettlementTimer] notify failed for %s: %v", settled.ID, err)
			}
		}
	}

	if report.Examined > 0 {
		log.Printf("[SettlementTimer] examined=%d captured=%d skipped=%d failed=%d",
			report.Examined, report.Captured, report.Skipped, report.Failed)
	}
	return report, nil
}

/*
recurring.go - Recurring booking generator

PURPOSE:
  Idempotently materializes concrete bookings from active recurring
  templates. For every occurrence inside the lookahead window:

  1. If a booking for (template, date) already exists, only the template's
     next_occurrence_date is advanced. This is what makes re-runs and
     crash-restarts safe: a prior run that created the booking but died
     before advancing the date is healed here, never duplicated.
  2. Otherwise the booking is created directly in scheduled (recurring
     bookings skip the offer/accept negotiation) with the escrow hold placed
     in the same transaction, then the date is advanced.

  A template whose client cannot fund the hold is skipped without advancing,
  so the occurrence is retried on the next run.
*/
package sweep

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/cleanslate/escrow-engine/engine"
)

// RecurringGenerator materializes due bookings from templates.
type RecurringGenerator struct {
	Store engine.TxStore
	Clock engine.Clock

	// Lookahead is how far ahead of now occurrences are materialized.
	Lookahead time.Duration
}

func NewRecurringGenerator(store engine.TxStore, clock engine.Clock) *RecurringGenerator {
	if clock == nil {
		clock = engine.SystemClock{}
	}
	return &RecurringGenerator{
		Store:     store,
		Clock:     clock,
		Lookahead: 14 * 24 * time.Hour,
	}
}

// maxOccurrencesPerRun bounds a single template's work per run so a template
// with a far-past next_occurrence_date cannot monopolize the sweep.
const maxOccurrencesPerRun = 60

// GenerateDueBookings creates every due occurrence and returns the bookings
// created by THIS run (already-existing occurrences are healed silently).
func (g *RecurringGenerator) GenerateDueBookings(ctx context.Context) ([]engine.Booking, error) {
	timer := prometheus.NewTimer(sweepDuration.WithLabelValues("recurring"))
	defer timer.ObserveDuration()

	horizon := g.Clock.Now().Add(g.Lookahead)
	templates, err := g.Store.ActiveTemplates(ctx)
	if err != nil {
		return nil, err
	}

	var created []engine.Booking
	for _, tpl := range templates {
		bookings, err := g.generateForTemplate(ctx, tpl, horizon)
		if err != nil {
			log.Printf("[RecurringGenerator] template %s: %v", tpl.ID, err)
			sweepFailures.WithLabelValues("recurring").Inc()
			continue
		}
		created = append(created, bookings...)
	}

	if len(created) > 0 {
		log.Printf("[RecurringGenerator] generated %d booking(s)", len(created))
	}
	return created, nil
}

func (g *RecurringGenerator) generateForTemplate(ctx context.Context, tpl engine.RecurringTemplate, horizon time.Time) ([]engine.Booking, error) {
	var created []engine.Booking

	for i := 0; i < maxOccurrencesPerRun && !tpl.NextOccurrence.After(horizon); i++ {
		occurrence := tpl.NextOccurrence

		_, err := g.Store.BookingForOccurrence(ctx, tpl.ID, occurrence)
		switch {
		case err == nil:
			// Already generated (possibly by a run that crashed before
			// advancing). Advance only.
		case engine.IsNotFound(err):
			b, err := g.materialize(ctx, tpl, occurrence)
			if engine.IsInsufficientFunds(err) {
				// Leave next_occurrence_date in place and retry next run.
				log.Printf("[RecurringGenerator] template %s: client %s cannot fund hold, retrying next run",
					tpl.ID, tpl.ClientID)
				sweepSkips.WithLabelValues("recurring").Inc()
				return created, nil
			}
			if err != nil {
				return created, err
			}
			created = append(created, *b)
			recurringGenerated.Inc()
		default:
			return created, err
		}

		tpl.NextOccurrence = tpl.Frequency.Advance(occurrence)
		if err := g.Store.PutTemplate(ctx, tpl); err != nil {
			return created, err
		}
	}
	return created, nil
}

// materialize creates one booking in scheduled with the escrow hold, as one
// atomic unit. The hold key is derived from the new booking ID; the
// (template, date) existence check above is what makes the overall
// operation idempotent.
func (g *RecurringGenerator) materialize(ctx context.Context, tpl engine.RecurringTemplate, occurrence time.Time) (*engine.Booking, error) {
	now := g.Clock.Now()
	tplID := tpl.ID
	b := engine.Booking{
		ID:                  engine.BookingID(uuid.NewString()),
		ClientID:            tpl.ClientID,
		CleanerID:           tpl.CleanerID,
		Status:              engine.StatusScheduled,
		ScheduledStart:      occurrence,
		DurationHours:       tpl.DurationHours,
		HourlyRate:          tpl.HourlyRate,
		AddOns:              tpl.AddOns,
		EstimatedPrice:      tpl.EstimatedPrice,
		EscrowHeld:          tpl.EstimatedPrice,
		ClientConfirmed:     true,
		CleanerConfirmed:    true,
		RecurringTemplateID: &tplID,
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	err := g.Store.WithTx(ctx, func(s engine.Store) error {
		if err := s.CreateBooking(ctx, b); err != nil {
			return err
		}
		ledger := engine.NewLedger(s, g.Clock)
		_, _, err := ledger.Append(ctx, engine.Entry{
			OwnerID:          tpl.ClientID,
			Amount:           -tpl.EstimatedPrice,
			Kind:             engine.KindCharge,
			RelatedBookingID: &b.ID,
			Note:             "escrow hold (recurring)",
			IdempotencyKey:   engine.HoldKey(b.ID),
		})
		if err != nil && !engine.IsDuplicate(err) {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &b, nil
}

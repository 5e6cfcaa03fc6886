package sweep_test

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleanslate/escrow-engine/engine"
	memstore "github.com/cleanslate/escrow-engine/engine/store"
	"github.com/cleanslate/escrow-engine/escrow"
	"github.com/cleanslate/escrow-engine/sweep"
)

// =============================================================================
// TEST SETUP
// =============================================================================

var sweepStart = time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)

func newFixture(t *testing.T) (*escrow.Service, *memstore.Memory, *engine.FixedClock) {
	t.Helper()
	store := memstore.NewMemory()
	clock := &engine.FixedClock{T: sweepStart}
	svc := escrow.NewService(store, clock, escrow.NopNotifier{})
	return svc, store, clock
}

func fundClient(t *testing.T, svc *escrow.Service, owner string, amount int64) {
	t.Helper()
	key := "topup:" + owner + ":" + strconv.FormatInt(amount, 10)
	_, _, err := svc.PurchaseCredits(context.Background(), engine.OwnerID(owner), amount, key)
	require.NoError(t, err)
}

// makeBooking creates a funded 4h x 25/h booking starting at the given time.
func makeBooking(t *testing.T, svc *escrow.Service, start time.Time) *engine.Booking {
	t.Helper()
	b, err := svc.CreateBooking(context.Background(), escrow.CreateBookingRequest{
		ClientID:       "client-1",
		CleanerID:      "cleaner-1",
		ScheduledStart: start,
		DurationHours:  4,
		HourlyRate:     25,
	})
	require.NoError(t, err)
	return b
}

// toAwaitingReview drives the booking through a 3-hour job.
func toAwaitingReview(t *testing.T, svc *escrow.Service, clock *engine.FixedClock, b *engine.Booking) {
	t.Helper()
	ctx := context.Background()

	_, err := svc.RespondToBooking(ctx, b.ID, true)
	require.NoError(t, err)

	clock.T = b.ScheduledStart
	_, err = svc.CheckIn(ctx, b.ID, engine.GeoPoint{Lat: 40.71, Lng: -74.0})
	require.NoError(t, err)
	clock.Advance(3 * time.Hour)
	_, err = svc.CheckOut(ctx, b.ID, engine.GeoPoint{Lat: 40.71, Lng: -74.0})
	require.NoError(t, err)
	_, err = svc.SubmitCompletion(ctx, b.ID, []string{"photo.jpg"})
	require.NoError(t, err)
}

func ownerBalance(t *testing.T, store *memstore.Memory, owner string) int64 {
	t.Helper()
	bal, err := store.Balance(context.Background(), engine.OwnerID(owner))
	require.NoError(t, err)
	return bal
}

// =============================================================================
// SETTLEMENT TIMER
// =============================================================================

func TestSettlementTimer_CapturesAfterReviewWindow(t *testing.T) {
	// GIVEN: A completed booking the client never reviewed
	// WHEN: The review window passes and the timer runs
	// THEN: Settlement captures once at actual hours; re-runs are no-ops

	svc, store, clock := newFixture(t)
	ctx := context.Background()

	fundClient(t, svc, "client-1", 200)
	b := makeBooking(t, svc, sweepStart.Add(24*time.Hour))
	toAwaitingReview(t, svc, clock, b)

	timer := sweep.NewSettlementTimer(store, clock, escrow.NopNotifier{})

	// Still inside the window: nothing to do.
	report, err := timer.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Captured)

	clock.Advance(49 * time.Hour)
	report, err = timer.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Captured)

	assert.Equal(t, int64(75), ownerBalance(t, store, "cleaner-1"), "3h x 25")
	assert.Equal(t, int64(125), ownerBalance(t, store, "client-1"), "25 excess hold refunded")

	settled, err := store.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, engine.StatusApproved, settled.Status)
	assert.True(t, settled.PaymentCaptured)

	// Re-run: the booking left awaiting_client_review, nothing fires.
	report, err = timer.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Captured)
	assert.Equal(t, int64(75), ownerBalance(t, store, "cleaner-1"))
}

func TestSettlementTimer_ClientApprovalWins(t *testing.T) {
	// Explicit approval before the timer fires leaves the timer nothing to
	// capture: at-most-once settlement across both paths.
	svc, store, clock := newFixture(t)
	ctx := context.Background()

	fundClient(t, svc, "client-1", 200)
	b := makeBooking(t, svc, sweepStart.Add(24*time.Hour))
	toAwaitingReview(t, svc, clock, b)

	_, err := svc.ApprovePayment(ctx, b.ID)
	require.NoError(t, err)

	clock.Advance(72 * time.Hour)
	report, err := sweep.NewSettlementTimer(store, clock, escrow.NopNotifier{}).Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Captured)
	assert.Equal(t, int64(75), ownerBalance(t, store, "cleaner-1"), "paid exactly once")
}

func TestSettlementTimer_DisputeBlocksAutoSettlement(t *testing.T) {
	svc, store, clock := newFixture(t)
	ctx := context.Background()

	fundClient(t, svc, "client-1", 200)
	b := makeBooking(t, svc, sweepStart.Add(24*time.Hour))
	toAwaitingReview(t, svc, clock, b)

	_, err := svc.FileDispute(ctx, b.ID, "not cleaned")
	require.NoError(t, err)

	clock.Advance(72 * time.Hour)
	report, err := sweep.NewSettlementTimer(store, clock, escrow.NopNotifier{}).Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Captured)
	assert.Zero(t, ownerBalance(t, store, "cleaner-1"), "disputed escrow stays frozen")
}

// =============================================================================
// EXPIRY SWEEP
// =============================================================================

func TestExpirySweep_RefundsUnconfirmedExactlyOnce(t *testing.T) {
	// GIVEN: A funded booking no cleaner answered for over 24h
	// WHEN: The sweep runs twice
	// THEN: The 100-credit hold is refunded exactly once

	svc, store, clock := newFixture(t)
	ctx := context.Background()

	fundClient(t, svc, "client-1", 200)
	b := makeBooking(t, svc, sweepStart.Add(96*time.Hour))
	assert.Equal(t, int64(100), ownerBalance(t, store, "client-1"))

	clock.Advance(25 * time.Hour)
	es := sweep.NewExpirySweep(store, clock, escrow.NopNotifier{})

	report, err := es.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Expired)
	assert.Equal(t, int64(200), ownerBalance(t, store, "client-1"))

	expired, err := store.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, engine.StatusCancelled, expired.Status)
	assert.Equal(t, engine.ReasonExpiredUnconfirmed, expired.CancelReason)

	report, err = es.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Expired)
	assert.Equal(t, int64(200), ownerBalance(t, store, "client-1"), "re-run must not refund again")
}

func TestExpirySweep_FreshBookingsLeftAlone(t *testing.T) {
	svc, store, clock := newFixture(t)

	fundClient(t, svc, "client-1", 200)
	makeBooking(t, svc, sweepStart.Add(96*time.Hour))

	clock.Advance(1 * time.Hour)
	report, err := sweep.NewExpirySweep(store, clock, escrow.NopNotifier{}).Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Expired)
}

func TestExpirySweep_NoShow_RefundPlusCompensation(t *testing.T) {
	// GIVEN: An accepted booking whose start passed with no check-in
	// WHEN: The no-show scan runs
	// THEN: Full refund plus the compensation credit

	svc, store, clock := newFixture(t)
	ctx := context.Background()

	fundClient(t, svc, "client-1", 200)
	b := makeBooking(t, svc, sweepStart.Add(2*time.Hour))
	_, err := svc.RespondToBooking(ctx, b.ID, true)
	require.NoError(t, err)

	clock.Advance(3 * time.Hour)
	es := sweep.NewExpirySweep(store, clock, escrow.NopNotifier{})
	report, err := es.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.NoShows)

	assert.Equal(t, int64(225), ownerBalance(t, store, "client-1"), "100 refund + 25 compensation")

	cancelled, err := store.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, engine.StatusCancelled, cancelled.Status)
	assert.Equal(t, engine.ReasonNoShow, cancelled.CancelReason)

	// Second run finds nothing in scheduled.
	report, err = es.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.NoShows)
	assert.Equal(t, int64(225), ownerBalance(t, store, "client-1"))
}

func TestExpirySweep_CheckedInBookingIsNotANoShow(t *testing.T) {
	svc, store, clock := newFixture(t)
	ctx := context.Background()

	fundClient(t, svc, "client-1", 200)
	b := makeBooking(t, svc, sweepStart.Add(2*time.Hour))
	_, err := svc.RespondToBooking(ctx, b.ID, true)
	require.NoError(t, err)

	clock.T = b.ScheduledStart
	_, err = svc.CheckIn(ctx, b.ID, engine.GeoPoint{Lat: 40.71, Lng: -74.0})
	require.NoError(t, err)

	clock.Advance(6 * time.Hour)
	report, err := sweep.NewExpirySweep(store, clock, escrow.NopNotifier{}).Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.NoShows)
}

// =============================================================================
// RECURRING GENERATOR
// =============================================================================

func makeTemplate(t *testing.T, svc *escrow.Service, freq engine.Frequency, first time.Time) *engine.RecurringTemplate {
	t.Helper()
	tpl, err := svc.CreateTemplate(context.Background(), escrow.CreateTemplateRequest{
		ClientID:        "client-1",
		CleanerID:       "cleaner-1",
		Frequency:       freq,
		FirstOccurrence: first,
		DurationHours:   2,
		HourlyRate:      30,
	})
	require.NoError(t, err)
	return tpl
}

func TestRecurringGenerator_MaterializesInsideLookahead(t *testing.T) {
	// GIVEN: A weekly template first due in 3 days, 14-day lookahead
	// WHEN: The generator runs
	// THEN: Two occurrences materialize (day 3, day 10) with holds placed,
	//       and next_occurrence advances past the horizon

	svc, store, clock := newFixture(t)
	ctx := context.Background()

	fundClient(t, svc, "client-1", 500)
	tpl := makeTemplate(t, svc, engine.FreqWeekly, sweepStart.Add(3*24*time.Hour))

	gen := sweep.NewRecurringGenerator(store, clock)
	created, err := gen.GenerateDueBookings(ctx)
	require.NoError(t, err)
	require.Len(t, created, 2)

	for _, b := range created {
		assert.Equal(t, engine.StatusScheduled, b.Status)
		assert.Equal(t, int64(60), b.EscrowHeld)
		require.NotNil(t, b.RecurringTemplateID)
		assert.Equal(t, tpl.ID, *b.RecurringTemplateID)
	}
	assert.Equal(t, int64(380), ownerBalance(t, store, "client-1"), "two 60-credit holds")

	after, err := store.GetTemplate(ctx, tpl.ID)
	require.NoError(t, err)
	assert.Equal(t, sweepStart.Add(17*24*time.Hour), after.NextOccurrence)
}

func TestRecurringGenerator_RerunCreatesNothing(t *testing.T) {
	svc, store, clock := newFixture(t)
	ctx := context.Background()

	fundClient(t, svc, "client-1", 500)
	makeTemplate(t, svc, engine.FreqWeekly, sweepStart.Add(3*24*time.Hour))

	gen := sweep.NewRecurringGenerator(store, clock)
	first, err := gen.GenerateDueBookings(ctx)
	require.NoError(t, err)
	require.Len(t, first, 2)

	second, err := gen.GenerateDueBookings(ctx)
	require.NoError(t, err)
	assert.Empty(t, second, "idempotent re-run")
	assert.Equal(t, int64(380), ownerBalance(t, store, "client-1"), "no duplicate holds")
}

func TestRecurringGenerator_UnfundableTemplateRetriesNextRun(t *testing.T) {
	// GIVEN: A template whose client cannot fund the hold
	// WHEN: The generator runs
	// THEN: Nothing is created and next_occurrence stays put, so the
	//       occurrence is retried after the client tops up

	svc, store, clock := newFixture(t)
	ctx := context.Background()

	fundClient(t, svc, "client-1", 10)
	first := sweepStart.Add(3 * 24 * time.Hour)
	tpl := makeTemplate(t, svc, engine.FreqWeekly, first)

	gen := sweep.NewRecurringGenerator(store, clock)
	created, err := gen.GenerateDueBookings(ctx)
	require.NoError(t, err)
	assert.Empty(t, created)

	after, err := store.GetTemplate(ctx, tpl.ID)
	require.NoError(t, err)
	assert.Equal(t, first, after.NextOccurrence, "date must not advance past a skipped hold")

	// Client tops up enough for the first occurrence; it materializes now
	// and the second (still unfundable) occurrence keeps waiting.
	fundClient(t, svc, "client-1", 100)
	created, err = gen.GenerateDueBookings(ctx)
	require.NoError(t, err)
	require.Len(t, created, 1)
	assert.Equal(t, first, created[0].ScheduledStart)

	after, err = store.GetTemplate(ctx, tpl.ID)
	require.NoError(t, err)
	assert.Equal(t, first.AddDate(0, 0, 7), after.NextOccurrence)
}

func TestRecurringGenerator_DeactivatedTemplateIgnored(t *testing.T) {
	svc, store, clock := newFixture(t)
	ctx := context.Background()

	fundClient(t, svc, "client-1", 500)
	tpl := makeTemplate(t, svc, engine.FreqWeekly, sweepStart.Add(3*24*time.Hour))
	_, err := svc.DeactivateTemplate(ctx, tpl.ID)
	require.NoError(t, err)

	created, err := sweep.NewRecurringGenerator(store, clock).GenerateDueBookings(ctx)
	require.NoError(t, err)
	assert.Empty(t, created)
}

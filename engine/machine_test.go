package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleanslate/escrow-engine/engine"
	memstore "github.com/cleanslate/escrow-engine/engine/store"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestMachine(t *testing.T) (*engine.Machine, *memstore.Memory, *engine.FixedClock) {
	t.Helper()
	store := memstore.NewMemory()
	clock := &engine.FixedClock{T: time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)}
	return engine.NewMachine(store, clock), store, clock
}

func seedBooking(t *testing.T, store *memstore.Memory, id string, status engine.BookingStatus) engine.Booking {
	t.Helper()
	b := engine.Booking{
		ID:             engine.BookingID(id),
		ClientID:       "client-1",
		CleanerID:      "cleaner-1",
		Status:         status,
		ScheduledStart: time.Date(2025, time.June, 5, 9, 0, 0, 0, time.UTC),
		DurationHours:  3,
		HourlyRate:     30,
		EstimatedPrice: 90,
	}
	require.NoError(t, store.CreateBooking(context.Background(), b))
	return b
}

func fund(t *testing.T, store *memstore.Memory, owner string, amount int64) {
	t.Helper()
	_, _, err := store.AppendEntry(context.Background(), engine.Entry{
		ID:             engine.EntryID("seed-" + owner),
		OwnerID:        engine.OwnerID(owner),
		Amount:         amount,
		Kind:           engine.KindPurchase,
		IdempotencyKey: "seed:" + owner,
	})
	require.NoError(t, err)
}

// =============================================================================
// COMPARE-AND-SET TESTS
// =============================================================================

func TestMachine_StaleExpectedStatus_Rejected(t *testing.T) {
	// GIVEN: A booking already in scheduled
	// WHEN: A transition expects it to still be awaiting_cleaner_response
	// THEN: StaleState with both statuses reported, nothing written

	m, store, _ := newTestMachine(t)
	ctx := context.Background()
	seedBooking(t, store, "b1", engine.StatusScheduled)

	_, err := m.Transition(ctx, "b1", engine.StatusAwaitingCleaner, engine.StatusDeclined, engine.ActorCleaner, engine.Effects{})
	assert.ErrorIs(t, err, engine.ErrStaleState)

	var stale *engine.StaleStateError
	require.ErrorAs(t, err, &stale)
	assert.Equal(t, engine.StatusAwaitingCleaner, stale.Expected)
	assert.Equal(t, engine.StatusScheduled, stale.Actual)

	b, err := store.GetBooking(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, engine.StatusScheduled, b.Status, "loser must not mutate the booking")
}

func TestMachine_IllegalTransition_InvariantViolation(t *testing.T) {
	m, store, _ := newTestMachine(t)
	ctx := context.Background()
	seedBooking(t, store, "b1", engine.StatusScheduled)

	// scheduled cannot jump straight to approved
	_, err := m.Transition(ctx, "b1", engine.StatusScheduled, engine.StatusApproved, engine.ActorClient, engine.Effects{})
	assert.ErrorIs(t, err, engine.ErrInvariantViolation)
}

func TestMachine_TerminalStates_RejectFurtherTransitions(t *testing.T) {
	m, store, _ := newTestMachine(t)
	ctx := context.Background()
	seedBooking(t, store, "done", engine.StatusApproved)
	seedBooking(t, store, "gone", engine.StatusCancelled)

	_, err := m.Transition(ctx, "done", engine.StatusApproved, engine.StatusCancelled, engine.ActorAdmin, engine.Effects{})
	assert.Error(t, err, "approved is terminal")

	_, err = m.Transition(ctx, "gone", engine.StatusCancelled, engine.StatusApproved, engine.ActorAdmin, engine.Effects{})
	assert.Error(t, err, "cancelled is terminal")
}

func TestMachine_CancelAllowedFromAnyNonTerminalState(t *testing.T) {
	m, store, _ := newTestMachine(t)
	ctx := context.Background()

	for i, status := range []engine.BookingStatus{
		engine.StatusCreated, engine.StatusAwaitingCleaner, engine.StatusScheduled,
		engine.StatusInProgress, engine.StatusDisputed,
	} {
		id := engine.BookingID("b" + string(rune('0'+i)))
		seedBooking(t, store, string(id), status)
		_, err := m.Transition(ctx, id, status, engine.StatusCancelled, engine.ActorAdmin, engine.Effects{})
		assert.NoError(t, err, "cancel from %s", status)
	}
}

// =============================================================================
// MONEY-SAFETY TESTS
// =============================================================================

func TestMachine_DoubleCapture_InvariantViolation(t *testing.T) {
	// A booking that already captured payment must never settle again, even
	// if a caller constructs fresh effects that bypass the idempotency keys.
	m, store, _ := newTestMachine(t)
	ctx := context.Background()

	b := seedBooking(t, store, "b1", engine.StatusDisputed)
	b.PaymentCaptured = true
	require.NoError(t, store.UpdateBooking(ctx, b))

	_, err := m.Transition(ctx, "b1", engine.StatusDisputed, engine.StatusApproved, engine.ActorAdmin,
		engine.SettlementEffects(b, 90))
	assert.ErrorIs(t, err, engine.ErrInvariantViolation)
}

func TestMachine_SecondHold_InvariantViolation(t *testing.T) {
	m, store, _ := newTestMachine(t)
	ctx := context.Background()
	fund(t, store, "client-1", 500)

	b := seedBooking(t, store, "b1", engine.StatusCreated)
	b.EscrowHeld = 90
	require.NoError(t, store.UpdateBooking(ctx, b))

	_, err := m.Transition(ctx, "b1", engine.StatusCreated, engine.StatusPaymentHold, engine.ActorClient, engine.HoldEffects(b))
	assert.ErrorIs(t, err, engine.ErrInvariantViolation)
}

func TestMachine_FailedLedgerEffect_RollsBackEverything(t *testing.T) {
	// GIVEN: A client with no credits
	// WHEN: The hold transition fails on insufficient funds
	// THEN: The booking stays in created and no entries exist

	m, store, _ := newTestMachine(t)
	ctx := context.Background()
	b := seedBooking(t, store, "b1", engine.StatusCreated)

	_, err := m.Transition(ctx, "b1", engine.StatusCreated, engine.StatusPaymentHold, engine.ActorClient, engine.HoldEffects(b))
	assert.ErrorIs(t, err, engine.ErrInsufficientFunds)

	got, err := store.GetBooking(ctx, "b1")
	require.NoError(t, err)
	assert.Equal(t, engine.StatusCreated, got.Status)
	assert.Zero(t, got.EscrowHeld)

	entries, _, err := store.Entries(ctx, "client-1", "", 10)
	require.NoError(t, err)
	assert.Empty(t, entries, "rollback must leave no partial entries")
}

func TestMachine_DuplicateEffect_ToleratedAsRetry(t *testing.T) {
	// A retried transition whose ledger entry already landed must not fail:
	// the duplicate is absorbed and the status change proceeds.
	m, store, _ := newTestMachine(t)
	ctx := context.Background()
	fund(t, store, "client-1", 500)
	b := seedBooking(t, store, "b1", engine.StatusCreated)

	// The hold entry landed on a previous attempt that died before the
	// status update.
	_, _, err := store.AppendEntry(ctx, engine.Entry{
		ID:               "orphan",
		OwnerID:          b.ClientID,
		Amount:           -b.EstimatedPrice,
		Kind:             engine.KindCharge,
		RelatedBookingID: &b.ID,
		IdempotencyKey:   engine.HoldKey(b.ID),
	})
	require.NoError(t, err)

	held, err := m.Transition(ctx, "b1", engine.StatusCreated, engine.StatusPaymentHold, engine.ActorClient, engine.HoldEffects(b))
	require.NoError(t, err)
	assert.Equal(t, int64(90), held.EscrowHeld)

	balance, err := store.Balance(ctx, "client-1")
	require.NoError(t, err)
	assert.Equal(t, int64(410), balance, "retry must not debit twice")
}

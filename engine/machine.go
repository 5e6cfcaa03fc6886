/*
machine.go - Booking state machine

PURPOSE:
  The single entry point for booking status changes. Every actor (a client
  clicking approve, a cleaner checking in, the settlement timer, the expiry
  sweep) funnels through Transition, which enforces:

  1. THE LEGAL-TRANSITION TABLE: illegal moves fail with InvariantViolation,
     never silently no-op.
  2. COMPARE-AND-SET: the booking's current status must equal the expected
     prior status at the moment of the update, or the transition fails with
     StaleState. This is what stops a manual approval and the settlement
     timer from both settling the same booking.
  3. ATOMIC EFFECTS: ledger writes, timestamp writes, and the status change
     commit as one unit. A failed charge rolls back the status change; a
     failed status write rolls back the charge.

STATE DIAGRAM:
  created -> payment_hold -> awaiting_cleaner_response -> accepted | declined
  accepted -> scheduled -> checked_in -> in_progress -> completed
  completed -> awaiting_client_review -> approved | disputed
  disputed -> approved | cancelled
  declined -> awaiting_cleaner_response   (external re-matching)
  any non-terminal -> cancelled
  Terminal: approved, cancelled.

SEE ALSO:
  - effects.go: Builders for the effect bundles each operation applies
  - store.go: WithTx, which supplies the atomicity
*/
package engine

import (
	"context"
	"fmt"
	"time"
)

// =============================================================================
// LEGAL-TRANSITION TABLE
// =============================================================================

var legalTransitions = map[BookingStatus][]BookingStatus{
	StatusCreated:         {StatusPaymentHold},
	StatusPaymentHold:     {StatusAwaitingCleaner},
	StatusAwaitingCleaner: {StatusAccepted, StatusDeclined},
	StatusAccepted:        {StatusScheduled},
	StatusDeclined:        {StatusAwaitingCleaner},
	StatusScheduled:       {StatusCheckedIn},
	StatusCheckedIn:       {StatusInProgress},
	StatusInProgress:      {StatusCompleted},
	StatusCompleted:       {StatusAwaitingReview},
	StatusAwaitingReview:  {StatusApproved, StatusDisputed},
	StatusDisputed:        {StatusApproved, StatusCancelled},
}

// CanTransition reports whether from -> to is in the legal table. Any
// non-terminal status may move to cancelled.
func CanTransition(from, to BookingStatus) bool {
	if to == StatusCancelled {
		return !from.IsTerminal()
	}
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// =============================================================================
// EFFECTS - What a transition applies besides the status change
// =============================================================================

// Effects is the bundle of ledger operations and field writes performed in
// the same atomic unit as the status change. Zero value = status change only.
type Effects struct {
	// Ledger entries appended in order. A duplicate idempotency key is
	// tolerated (the operation already happened); any other append failure
	// aborts the whole transition.
	Ledger []Entry

	// CapturePayment flips PaymentCaptured. Setting it when the flag is
	// already true is an InvariantViolation.
	CapturePayment bool
	FinalPrice     *int64

	// SetHold records the escrow amount on entering payment_hold;
	// ReleaseHold zeroes it once the hold has been refunded or settled.
	SetHold     *int64
	ReleaseHold bool

	SetCheckedInAt   bool
	CheckInLocation  *GeoPoint
	SetCheckedOutAt  bool
	CheckOutLocation *GeoPoint
	SetCompletedAt   bool
	CompletionPhotos []string

	SetClientConfirmed  bool
	SetCleanerConfirmed bool

	CancellationFee *int64
	CancelledBy     Actor
	CancelReason    string
	DisputeReason   string

	// ConsumeGrace decrements the client's grace-cancellation counter by
	// exactly one, inside the same transaction.
	ConsumeGrace bool
}

// =============================================================================
// MACHINE
// =============================================================================

// Machine performs compare-and-set transitions with atomic effects.
type Machine struct {
	Store TxStore
	Clock Clock
}

func NewMachine(store TxStore, clock Clock) *Machine {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Machine{Store: store, Clock: clock}
}

// Transition moves the booking from the expected prior status to toState,
// applying fx atomically. It returns the updated booking.
//
// Errors:
//   - StaleStateError when the current status != fromExpected
//   - InvariantViolationError for illegal targets, a second payment_hold,
//     or a second payment capture
//   - InsufficientFundsError when a charge effect would overdraw
func (m *Machine) Transition(ctx context.Context, id BookingID, fromExpected, toState BookingStatus, actor Actor, fx Effects) (*Booking, error) {
	var result *Booking

	err := m.Store.WithTx(ctx, func(s Store) error {
		b, err := s.GetBooking(ctx, id)
		if err != nil {
			return err
		}
		if b.Status != fromExpected {
			return &StaleStateError{BookingID: id, Expected: fromExpected, Actual: b.Status}
		}
		if !CanTransition(fromExpected, toState) {
			return &InvariantViolationError{
				BookingID: id,
				Rule:      fmt.Sprintf("illegal transition %s -> %s (actor %s)", fromExpected, toState, actor),
			}
		}
		if toState == StatusPaymentHold && b.EscrowHeld > 0 {
			return &InvariantViolationError{BookingID: id, Rule: "second escrow hold"}
		}
		if fx.CapturePayment && b.PaymentCaptured {
			return &InvariantViolationError{BookingID: id, Rule: "payment already captured"}
		}

		for _, e := range fx.Ledger {
			if _, _, err := appendEffect(ctx, s, m.Clock, e); err != nil {
				return err
			}
		}

		now := m.Clock.Now()
		applyFieldEffects(b, fx, now)
		b.Status = toState
		b.UpdatedAt = now

		if fx.ConsumeGrace {
			if err := consumeGrace(ctx, s, b.ClientID); err != nil {
				return err
			}
		}

		if err := s.UpdateBooking(ctx, *b); err != nil {
			return err
		}
		result = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// appendEffect writes one ledger effect, treating a consumed idempotency key
// as already done.
func appendEffect(ctx context.Context, s Store, clock Clock, e Entry) (Entry, int64, error) {
	ledger := NewLedger(s, clock)
	stored, bal, err := ledger.Append(ctx, e)
	if err != nil && !IsDuplicate(err) {
		return Entry{}, 0, err
	}
	return stored, bal, nil
}

func applyFieldEffects(b *Booking, fx Effects, now time.Time) {
	if fx.CapturePayment {
		b.PaymentCaptured = true
	}
	if fx.FinalPrice != nil {
		b.FinalPrice = fx.FinalPrice
	}
	if fx.SetHold != nil {
		b.EscrowHeld = *fx.SetHold
	}
	if fx.ReleaseHold {
		b.EscrowHeld = 0
	}
	if fx.SetCheckedInAt {
		t := now
		b.CheckedInAt = &t
	}
	if fx.CheckInLocation != nil {
		b.CheckInLocation = fx.CheckInLocation
	}
	if fx.SetCheckedOutAt {
		t := now
		b.CheckedOutAt = &t
	}
	if fx.CheckOutLocation != nil {
		b.CheckOutLocation = fx.CheckOutLocation
	}
	if fx.SetCompletedAt {
		t := now
		b.CompletedAt = &t
	}
	if len(fx.CompletionPhotos) > 0 {
		b.CompletionPhotos = append(b.CompletionPhotos, fx.CompletionPhotos...)
	}
	if fx.SetClientConfirmed {
		b.ClientConfirmed = true
	}
	if fx.SetCleanerConfirmed {
		b.CleanerConfirmed = true
	}
	if fx.CancellationFee != nil {
		b.CancellationFee = fx.CancellationFee
	}
	if fx.CancelledBy != "" {
		b.CancelledBy = fx.CancelledBy
	}
	if fx.CancelReason != "" {
		b.CancelReason = fx.CancelReason
	}
	if fx.DisputeReason != "" {
		b.DisputeReason = fx.DisputeReason
	}
}

// consumeGrace decrements the grace counter by exactly one. Reaching here
// with no grace left means the fee decision and the transition disagree,
// which is a logic bug, not a business failure.
func consumeGrace(ctx context.Context, s Store, clientID OwnerID) error {
	p, err := s.GetClient(ctx, clientID)
	if err != nil {
		return err
	}
	if p.GraceCancellationsRemaining <= 0 {
		return &InvariantViolationError{Rule: fmt.Sprintf("grace underflow for client %s", clientID)}
	}
	p.GraceCancellationsRemaining--
	return s.PutClient(ctx, *p)
}

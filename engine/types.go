/*
Package engine provides the core credit ledger and escrow settlement engine.

PURPOSE:
  This package contains the domain types and algorithms that move credits
  between a client account and a cleaner payout account across the lifetime
  of a booking: the append-only ledger, the booking state machine, and the
  cancellation/pricing policy engine.

KEY CONCEPTS IN THIS FILE (types.go):
  - Entry: An immutable ledger record of one balance movement
  - Booking: The central entity, governed by the state machine
  - ClientProfile: Grace-cancellation allowance per client
  - RecurringTemplate: Subscription template that materializes bookings

DESIGN PRINCIPLES:
  1. Immutability: Ledger entries are never modified, only reversed
  2. Integer credits: All amounts are whole int64 credits; fractional
     pricing math happens in decimal and is rounded at the ledger boundary
  3. Idempotency: Every financial write carries a deterministic key
     derived from the booking and the operation, never a random one
  4. Single choke points: All status changes go through Machine.Transition,
     all balance changes go through the ledger append path

SEE ALSO:
  - ledger.go: Append-only entry log and balance projection
  - machine.go: Legal-transition table and compare-and-set transitions
  - policy.go: Cancellation fee and final-charge computation
  - store.go: Persistence interfaces
*/
package engine

import (
	"time"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type OwnerID string
type BookingID string
type EntryID string
type TemplateID string

// Actor identifies who triggered an operation.
type Actor string

const (
	ActorClient  Actor = "client"
	ActorCleaner Actor = "cleaner"
	ActorSystem  Actor = "system"
	ActorAdmin   Actor = "admin"
)

// =============================================================================
// LEDGER ENTRY - Immutable record of one balance movement
// =============================================================================

type EntryKind string

const (
	KindPurchase           EntryKind = "purchase"
	KindCharge             EntryKind = "charge"
	KindRefund             EntryKind = "refund"
	KindCancellationFee    EntryKind = "cancellation_fee"
	KindNoShowCompensation EntryKind = "no_show_compensation"
	KindAdjustment         EntryKind = "adjustment"
	KindReversal           EntryKind = "reversal"
)

// DisallowsOverdraft reports whether a debit of this kind must not take the
// balance below zero. Refunds, compensations, reversals, and adjustments may
// always proceed.
func (k EntryKind) DisallowsOverdraft() bool {
	return k == KindCharge || k == KindCancellationFee
}

// Valid reports whether k is a known entry kind.
func (k EntryKind) Valid() bool {
	switch k {
	case KindPurchase, KindCharge, KindRefund, KindCancellationFee,
		KindNoShowCompensation, KindAdjustment, KindReversal:
		return true
	}
	return false
}

// Entry is one row in the append-only ledger. Positive Amount credits the
// owner, negative debits. Entries are never updated or deleted; corrections
// are appended as KindReversal entries.
type Entry struct {
	ID               EntryID
	OwnerID          OwnerID
	Amount           int64
	Kind             EntryKind
	RelatedBookingID *BookingID
	Note             string
	BalanceAfter     int64
	IdempotencyKey   string
	CreatedAt        time.Time
}

// Account is the cached balance projection for one owner. It always equals
// the sum of the owner's entry amounts; it is only ever written inside the
// ledger append path.
type Account struct {
	OwnerID OwnerID
	Balance int64
}

// =============================================================================
// BOOKING - The central entity
// =============================================================================

type BookingStatus string

const (
	StatusCreated         BookingStatus = "created"
	StatusPaymentHold     BookingStatus = "payment_hold"
	StatusAwaitingCleaner BookingStatus = "awaiting_cleaner_response"
	StatusAccepted        BookingStatus = "accepted"
	StatusDeclined        BookingStatus = "declined"
	StatusScheduled       BookingStatus = "scheduled"
	StatusCheckedIn       BookingStatus = "checked_in"
	StatusInProgress      BookingStatus = "in_progress"
	StatusCompleted       BookingStatus = "completed"
	StatusAwaitingReview  BookingStatus = "awaiting_client_review"
	StatusApproved        BookingStatus = "approved"
	StatusDisputed        BookingStatus = "disputed"
	StatusCancelled       BookingStatus = "cancelled"
)

// IsTerminal reports whether no further transition may leave this status.
// Declined is NOT terminal: it feeds an external re-matching flow.
// Disputed is NOT terminal: it resolves back to approved or cancelled.
func (s BookingStatus) IsTerminal() bool {
	return s == StatusApproved || s == StatusCancelled
}

// GeoPoint records where a check-in or check-out happened.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Booking is never physically deleted; it moves to a terminal status instead.
type Booking struct {
	ID       BookingID
	ClientID OwnerID
	CleanerID OwnerID
	Status   BookingStatus

	ScheduledStart time.Time
	DurationHours  int
	HourlyRate     int64
	AddOns         int64
	EstimatedPrice int64

	// FinalPrice stays nil until settlement.
	FinalPrice *int64

	// EscrowHeld is the amount debited from the client at hold time and not
	// yet settled or refunded. Zeroed when the hold is released.
	EscrowHeld int64

	CheckedInAt      *time.Time
	CheckedOutAt     *time.Time
	CompletedAt      *time.Time
	CheckInLocation  *GeoPoint
	CheckOutLocation *GeoPoint
	CompletionPhotos []string

	// PaymentCaptured flips false->true exactly once per booking.
	PaymentCaptured bool

	CancellationFee *int64
	CancelledBy     Actor
	CancelReason    string
	DisputeReason   string

	ClientConfirmed  bool
	CleanerConfirmed bool

	RecurringTemplateID *TemplateID

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ClientProfile carries the one field this engine reads and writes on the
// identity store: the grace-cancellation allowance.
type ClientProfile struct {
	ID                          OwnerID
	GraceCancellationsRemaining int
	CreatedAt                   time.Time
}

// =============================================================================
// RECURRING TEMPLATE
// =============================================================================

type Frequency string

const (
	FreqWeekly   Frequency = "weekly"
	FreqBiweekly Frequency = "biweekly"
	FreqMonthly  Frequency = "monthly"
)

// Advance returns the occurrence date following t for this frequency.
func (f Frequency) Advance(t time.Time) time.Time {
	switch f {
	case FreqWeekly:
		return t.AddDate(0, 0, 7)
	case FreqBiweekly:
		return t.AddDate(0, 0, 14)
	case FreqMonthly:
		return t.AddDate(0, 1, 0)
	}
	return t.AddDate(0, 0, 7)
}

// RecurringTemplate materializes concrete bookings. NextOccurrence advances
// monotonically and only after the booking for that date exists.
type RecurringTemplate struct {
	ID             TemplateID
	ClientID       OwnerID
	CleanerID      OwnerID
	Frequency      Frequency
	NextOccurrence time.Time
	Active         bool

	DurationHours  int
	HourlyRate     int64
	AddOns         int64
	EstimatedPrice int64

	CreatedAt time.Time
}

/*
policy.go - Cancellation fee and pricing policy

PURPOSE:
  Pure functions: given a booking, a grace allowance, the cancelling actor,
  and "now", compute what (if anything) the client owes. Nothing in this
  file mutates state; the caller transitions the booking, decrements the
  grace counter, and appends the fee entry.

FEE SCHEDULE (client-initiated cancellations):
  >= 48h before start : free
  24h..48h            : 50% of estimated price, waivable by grace
  < 24h               : 100% of estimated price, waivable by grace
  Cleaner-initiated   : always free (cleaner-side consequences are handled
                        by a separate reliability-scoring collaborator)

PRECISION:
  Percentages and fractional actual-hours are computed in decimal and
  rounded half-up to whole credits at the boundary. Credits are integers
  everywhere else.

SEE ALSO:
  - effects.go: Turns a FeeDecision into ledger effects
*/
package engine

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// CANCELLATION POLICY
// =============================================================================

// Cancellation reasons reported back to the caller and recorded on the
// booking.
const (
	ReasonCleanerCancelled = "cleaner_cancelled"
	ReasonOutsideFeeWindow = "outside_fee_window"
	ReasonGraceApplied     = "grace_applied"
	ReasonLateCancellation = "late_cancellation"
	ReasonLastMinute       = "last_minute_cancellation"
)

type CancellationPolicy struct {
	// FreeWindow is how far ahead of the start a cancellation is free.
	FreeWindow time.Duration
	// LateWindow is the boundary between the late fee and the full fee.
	LateWindow time.Duration

	LateFeePercent decimal.Decimal // fee inside [LateWindow, FreeWindow)
	FullFeePercent decimal.Decimal // fee inside [0, LateWindow)
}

func DefaultCancellationPolicy() CancellationPolicy {
	return CancellationPolicy{
		FreeWindow:     48 * time.Hour,
		LateWindow:     24 * time.Hour,
		LateFeePercent: decimal.NewFromFloat(0.5),
		FullFeePercent: decimal.NewFromInt(1),
	}
}

// FeeDecision is what ComputeFee hands back to the caller.
type FeeDecision struct {
	FeeAmount int64
	UsedGrace bool
	Reason    string
}

// ComputeFee computes the cancellation fee for the booking. Pure function;
// the caller is responsible for:
//
//	(a) transitioning the booking to cancelled,
//	(b) decrementing the grace counter exactly once when UsedGrace,
//	(c) appending the cancellation_fee entry when FeeAmount > 0, keyed by
//	    CancelFeeKey so a double-click cannot charge twice.
func (p CancellationPolicy) ComputeFee(b Booking, graceRemaining int, cancelledBy Actor, now time.Time) FeeDecision {
	if cancelledBy == ActorCleaner {
		return FeeDecision{Reason: ReasonCleanerCancelled}
	}

	untilStart := b.ScheduledStart.Sub(now)
	switch {
	case untilStart >= p.FreeWindow:
		return FeeDecision{Reason: ReasonOutsideFeeWindow}
	case untilStart >= p.LateWindow:
		if graceRemaining > 0 {
			return FeeDecision{UsedGrace: true, Reason: ReasonGraceApplied}
		}
		return FeeDecision{FeeAmount: percentOf(b.EstimatedPrice, p.LateFeePercent), Reason: ReasonLateCancellation}
	default:
		if graceRemaining > 0 {
			return FeeDecision{UsedGrace: true, Reason: ReasonGraceApplied}
		}
		return FeeDecision{FeeAmount: percentOf(b.EstimatedPrice, p.FullFeePercent), Reason: ReasonLastMinute}
	}
}

func percentOf(amount int64, pct decimal.Decimal) int64 {
	return decimal.NewFromInt(amount).Mul(pct).Round(0).IntPart()
}

// =============================================================================
// PRICING
// =============================================================================

// EstimatePrice computes the up-front price a hold is sized to.
func EstimatePrice(durationHours int, hourlyRate, addOns int64) int64 {
	return int64(durationHours)*hourlyRate + addOns
}

// FinalCharge computes the settlement amount: actual hours worked times the
// hourly rate, plus add-ons. Actual hours come from check-in/check-out when
// both are present, otherwise the originally estimated duration.
func FinalCharge(b Booking) int64 {
	hours := decimal.NewFromInt(int64(b.DurationHours))
	if b.CheckedInAt != nil && b.CheckedOutAt != nil && b.CheckedOutAt.After(*b.CheckedInAt) {
		hours = decimal.NewFromFloat(b.CheckedOutAt.Sub(*b.CheckedInAt).Hours())
	}
	charge := hours.Mul(decimal.NewFromInt(b.HourlyRate)).Round(0).IntPart()
	return charge + b.AddOns
}

/*
effects.go - Effect bundles for each financial operation

PURPOSE:
  Builders that turn a booking plus a decision into the Effects a transition
  applies. Keeping these in one file keeps the idempotency-key scheme in one
  place: every key is derived from the booking ID and the operation name,
  never from time or randomness, so retries and overlapping sweep runs
  collapse onto the same ledger rows.

KEY SCHEME:
  hold:<booking>           escrow hold debit at booking time
  settle:<booking>         cleaner-payable credit at settlement
  settle-diff:<booking>    client true-up when final != held
  cancel-refund:<booking>  hold refund on cancellation
  cancel:<booking>         cancellation fee debit
  expire:<booking>         hold refund by the unconfirmed-expiry sweep
  noshow-refund:<booking>  hold refund by the no-show sweep
  noshow-comp:<booking>    fixed no-show compensation credit

SEE ALSO:
  - machine.go: applies these bundles atomically
  - policy.go: FinalCharge and ComputeFee feed these builders
*/
package engine

import "fmt"

// Idempotency keys, one logical operation each.
func HoldKey(id BookingID) string         { return fmt.Sprintf("hold:%s", id) }
func SettleKey(id BookingID) string       { return fmt.Sprintf("settle:%s", id) }
func SettleDiffKey(id BookingID) string   { return fmt.Sprintf("settle-diff:%s", id) }
func CancelRefundKey(id BookingID) string { return fmt.Sprintf("cancel-refund:%s", id) }
func CancelFeeKey(id BookingID) string    { return fmt.Sprintf("cancel:%s", id) }
func ExpireKey(id BookingID) string       { return fmt.Sprintf("expire:%s", id) }
func NoShowRefundKey(id BookingID) string { return fmt.Sprintf("noshow-refund:%s", id) }
func NoShowCompKey(id BookingID) string   { return fmt.Sprintf("noshow-comp:%s", id) }

// Cancellation reasons written by the sweeps.
const (
	ReasonExpiredUnconfirmed = "expired_unconfirmed"
	ReasonNoShow             = "no_show"
)

func ref(id BookingID) *BookingID { return &id }

// HoldEffects debits the client's balance by the estimated price and records
// the held amount on the booking. The charge kind disallows overdraft, so an
// underfunded client gets InsufficientFunds here.
func HoldEffects(b Booking) Effects {
	amount := b.EstimatedPrice
	return Effects{
		SetHold: &amount,
		Ledger: []Entry{{
			OwnerID:          b.ClientID,
			Amount:           -amount,
			Kind:             KindCharge,
			RelatedBookingID: ref(b.ID),
			Note:             "escrow hold",
			IdempotencyKey:   HoldKey(b.ID),
		}},
	}
}

// SettlementEffects converts the held escrow into the final charge: the
// cleaner is credited the final price, and when the hold over- or
// under-collected, the client gets a true-up entry for the difference.
// CapturePayment makes a second settlement an InvariantViolation even if
// both idempotency keys were somehow bypassed.
func SettlementEffects(b Booking, finalPrice int64) Effects {
	final := finalPrice
	fx := Effects{
		CapturePayment: true,
		FinalPrice:     &final,
		ReleaseHold:    true,
		Ledger: []Entry{{
			OwnerID:          b.CleanerID,
			Amount:           finalPrice,
			Kind:             KindCharge,
			RelatedBookingID: ref(b.ID),
			Note:             "settlement payout",
			IdempotencyKey:   SettleKey(b.ID),
		}},
	}
	if diff := b.EscrowHeld - finalPrice; diff != 0 {
		kind := KindRefund
		note := "settlement refund of excess hold"
		if diff < 0 {
			kind = KindCharge
			note = "settlement charge beyond hold"
		}
		fx.Ledger = append(fx.Ledger, Entry{
			OwnerID:          b.ClientID,
			Amount:           diff,
			Kind:             kind,
			RelatedBookingID: ref(b.ID),
			Note:             note,
			IdempotencyKey:   SettleDiffKey(b.ID),
		})
	}
	return fx
}

// CancellationEffects refunds the hold (when one exists), charges the fee
// (when owed), consumes grace (when waived), and stamps the cancellation
// fields. Repeated cancellation attempts collapse onto the same keys.
func CancellationEffects(b Booking, d FeeDecision, cancelledBy Actor, reason string) Effects {
	fee := d.FeeAmount
	fx := Effects{
		CancellationFee: &fee,
		CancelledBy:     cancelledBy,
		CancelReason:    reason,
		ConsumeGrace:    d.UsedGrace,
		ReleaseHold:     true,
	}
	if b.EscrowHeld > 0 {
		fx.Ledger = append(fx.Ledger, Entry{
			OwnerID:          b.ClientID,
			Amount:           b.EscrowHeld,
			Kind:             KindRefund,
			RelatedBookingID: ref(b.ID),
			Note:             "cancellation refund of escrow hold",
			IdempotencyKey:   CancelRefundKey(b.ID),
		})
	}
	if d.FeeAmount > 0 {
		fx.Ledger = append(fx.Ledger, Entry{
			OwnerID:          b.ClientID,
			Amount:           -d.FeeAmount,
			Kind:             KindCancellationFee,
			RelatedBookingID: ref(b.ID),
			Note:             d.Reason,
			IdempotencyKey:   CancelFeeKey(b.ID),
		})
	}
	return fx
}

// ExpiryEffects resolves a booking stuck without a cleaner response: the
// full hold goes back to the client.
func ExpiryEffects(b Booking) Effects {
	fee := int64(0)
	fx := Effects{
		CancellationFee: &fee,
		CancelledBy:     ActorSystem,
		CancelReason:    ReasonExpiredUnconfirmed,
		ReleaseHold:     true,
	}
	if b.EscrowHeld > 0 {
		fx.Ledger = append(fx.Ledger, Entry{
			OwnerID:          b.ClientID,
			Amount:           b.EscrowHeld,
			Kind:             KindRefund,
			RelatedBookingID: ref(b.ID),
			Note:             "refund: no cleaner response",
			IdempotencyKey:   ExpireKey(b.ID),
		})
	}
	return fx
}

// NoShowEffects resolves a scheduled booking the cleaner never arrived for:
// the hold is refunded and the client is additionally credited a fixed
// compensation amount.
func NoShowEffects(b Booking, compensation int64) Effects {
	fee := int64(0)
	fx := Effects{
		CancellationFee: &fee,
		CancelledBy:     ActorSystem,
		CancelReason:    ReasonNoShow,
		ReleaseHold:     true,
	}
	if b.EscrowHeld > 0 {
		fx.Ledger = append(fx.Ledger, Entry{
			OwnerID:          b.ClientID,
			Amount:           b.EscrowHeld,
			Kind:             KindRefund,
			RelatedBookingID: ref(b.ID),
			Note:             "refund: cleaner no-show",
			IdempotencyKey:   NoShowRefundKey(b.ID),
		})
	}
	if compensation > 0 {
		fx.Ledger = append(fx.Ledger, Entry{
			OwnerID:          b.ClientID,
			Amount:           compensation,
			Kind:             KindNoShowCompensation,
			RelatedBookingID: ref(b.ID),
			Note:             "no-show compensation",
			IdempotencyKey:   NoShowCompKey(b.ID),
		})
	}
	return fx
}

/*
Package escrow exposes the interactive operations of the credit ledger and
escrow settlement engine: everything a user-facing request can do to a
booking. Background resolution (settlement timer, expiry and no-show sweeps,
recurring generation) lives in the sweep package; both funnel through the
same two choke points, engine.Machine.Transition and the ledger append path.

PURPOSE:
  Each operation here is a thin wrapper over Transition with the right
  effect bundle, plus the collaborator calls the core is allowed to make:
  reading/writing the client's grace counter and firing best-effort
  notifications after commit.

CONCURRENCY:
  No in-memory locks. Safety comes from the compare-and-set on expected
  prior status and the deterministic idempotency keys on every ledger
  write, so a user double-click, a retried request, and a racing sweep all
  collapse onto one financial effect.

SEE ALSO:
  - engine/machine.go: the transition contract
  - engine/effects.go: effect bundles and the idempotency-key scheme
  - sweep/: the background actors
*/
package escrow

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/cleanslate/escrow-engine/engine"
)

// Service orchestrates interactive booking and ledger operations.
type Service struct {
	Store    engine.TxStore
	Machine  *engine.Machine
	Ledger   *engine.Ledger
	Policy   engine.CancellationPolicy
	Clock    engine.Clock
	Notifier Notifier

	// GraceDefault seeds grace_cancellations_remaining for clients this
	// engine sees for the first time.
	GraceDefault int
}

func NewService(store engine.TxStore, clock engine.Clock, notifier Notifier) *Service {
	if clock == nil {
		clock = engine.SystemClock{}
	}
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Service{
		Store:        store,
		Machine:      engine.NewMachine(store, clock),
		Ledger:       engine.NewLedger(store, clock),
		Policy:       engine.DefaultCancellationPolicy(),
		Clock:        clock,
		Notifier:     notifier,
		GraceDefault: 2,
	}
}

// notify fires a best-effort notification. Failures are logged, never
// propagated: by the time we get here the transition has committed.
func (s *Service) notify(ctx context.Context, recipient engine.OwnerID, event string, payload map[string]any) {
	if err := s.Notifier.Notify(ctx, string(recipient), event, payload); err != nil {
		log.Printf("[Escrow] notify %s to %s failed: %v", event, recipient, err)
	}
}

// =============================================================================
// ACCOUNT FUNDING
// =============================================================================

// PurchaseCredits funds a client account. The idempotency key is
// caller-supplied so an HTTP retry cannot double-credit; when empty a fresh
// key is generated and the purchase is single-shot.
func (s *Service) PurchaseCredits(ctx context.Context, owner engine.OwnerID, amount int64, idempotencyKey string) (engine.Entry, int64, error) {
	if amount <= 0 {
		return engine.Entry{}, 0, fmt.Errorf("purchase amount must be positive, got %d", amount)
	}
	if idempotencyKey == "" {
		idempotencyKey = fmt.Sprintf("purchase:%s:%s", owner, uuid.NewString())
	}
	if err := s.ensureClient(ctx, owner); err != nil {
		return engine.Entry{}, 0, err
	}
	entry, balance, err := s.Ledger.Append(ctx, engine.Entry{
		OwnerID:        owner,
		Amount:         amount,
		Kind:           engine.KindPurchase,
		Note:           "credit purchase",
		IdempotencyKey: idempotencyKey,
	})
	if err != nil && !engine.IsDuplicate(err) {
		return engine.Entry{}, 0, err
	}
	return entry, balance, nil
}

func (s *Service) ensureClient(ctx context.Context, id engine.OwnerID) error {
	_, err := s.Store.GetClient(ctx, id)
	if err == nil {
		return nil
	}
	if !engine.IsNotFound(err) {
		return err
	}
	return s.Store.PutClient(ctx, engine.ClientProfile{
		ID:                          id,
		GraceCancellationsRemaining: s.GraceDefault,
		CreatedAt:                   s.Clock.Now(),
	})
}

// =============================================================================
// BOOKING LIFECYCLE
// =============================================================================

type CreateBookingRequest struct {
	ClientID       engine.OwnerID
	CleanerID      engine.OwnerID
	ScheduledStart time.Time
	DurationHours  int
	HourlyRate     int64
	AddOns         int64
}

// CreateBooking creates the booking and immediately places the escrow hold:
// created -> payment_hold -> awaiting_cleaner_response. The hold debit is a
// charge-kind entry, so an underfunded client gets InsufficientFunds and the
// booking stays in created (the expiry sweep reaps it if never funded).
func (s *Service) CreateBooking(ctx context.Context, req CreateBookingRequest) (*engine.Booking, error) {
	if req.ClientID == "" || req.CleanerID == "" {
		return nil, fmt.Errorf("create booking: client and cleaner are required")
	}
	if req.DurationHours <= 0 || req.HourlyRate <= 0 {
		return nil, fmt.Errorf("create booking: duration and rate must be positive")
	}
	if err := s.ensureClient(ctx, req.ClientID); err != nil {
		return nil, err
	}

	now := s.Clock.Now()
	b := engine.Booking{
		ID:              engine.BookingID(uuid.NewString()),
		ClientID:        req.ClientID,
		CleanerID:       req.CleanerID,
		Status:          engine.StatusCreated,
		ScheduledStart:  req.ScheduledStart,
		DurationHours:   req.DurationHours,
		HourlyRate:      req.HourlyRate,
		AddOns:          req.AddOns,
		EstimatedPrice:  engine.EstimatePrice(req.DurationHours, req.HourlyRate, req.AddOns),
		ClientConfirmed: true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := s.Store.CreateBooking(ctx, b); err != nil {
		return nil, err
	}

	held, err := s.Machine.Transition(ctx, b.ID, engine.StatusCreated, engine.StatusPaymentHold, engine.ActorClient, engine.HoldEffects(b))
	if err != nil {
		return nil, err
	}
	offered, err := s.Machine.Transition(ctx, b.ID, engine.StatusPaymentHold, engine.StatusAwaitingCleaner, engine.ActorSystem, engine.Effects{})
	if err != nil {
		return held, err
	}

	s.notify(ctx, b.CleanerID, EventBookingRequested, map[string]any{
		"booking_id": b.ID,
		"starts_at":  b.ScheduledStart,
		"price":      b.EstimatedPrice,
	})
	return offered, nil
}

// RespondToBooking records the cleaner's accept/decline. Accepting moves the
// booking straight through accepted into scheduled; declining hands it back
// to the external re-matching flow.
func (s *Service) RespondToBooking(ctx context.Context, id engine.BookingID, accept bool) (*engine.Booking, error) {
	if !accept {
		b, err := s.Machine.Transition(ctx, id, engine.StatusAwaitingCleaner, engine.StatusDeclined, engine.ActorCleaner, engine.Effects{})
		if err != nil {
			return nil, err
		}
		s.notify(ctx, b.ClientID, EventBookingDeclined, map[string]any{"booking_id": b.ID})
		return b, nil
	}

	if _, err := s.Machine.Transition(ctx, id, engine.StatusAwaitingCleaner, engine.StatusAccepted, engine.ActorCleaner, engine.Effects{SetCleanerConfirmed: true}); err != nil {
		return nil, err
	}
	b, err := s.Machine.Transition(ctx, id, engine.StatusAccepted, engine.StatusScheduled, engine.ActorSystem, engine.Effects{})
	if err != nil {
		return nil, err
	}
	s.notify(ctx, b.ClientID, EventBookingConfirmed, map[string]any{
		"booking_id": b.ID,
		"starts_at":  b.ScheduledStart,
	})
	return b, nil
}

// CheckIn records the cleaner's arrival and starts the job:
// scheduled -> checked_in -> in_progress.
func (s *Service) CheckIn(ctx context.Context, id engine.BookingID, at engine.GeoPoint) (*engine.Booking, error) {
	if _, err := s.Machine.Transition(ctx, id, engine.StatusScheduled, engine.StatusCheckedIn, engine.ActorCleaner, engine.Effects{
		SetCheckedInAt:  true,
		CheckInLocation: &at,
	}); err != nil {
		return nil, err
	}
	b, err := s.Machine.Transition(ctx, id, engine.StatusCheckedIn, engine.StatusInProgress, engine.ActorCleaner, engine.Effects{})
	if err != nil {
		return nil, err
	}
	s.notify(ctx, b.ClientID, EventCleanerArrived, map[string]any{"booking_id": b.ID})
	return b, nil
}

// CheckOut ends the job: in_progress -> completed. The checked-out timestamp
// feeds the actual-hours pricing at settlement, and completed_at starts the
// 48h auto-settlement window.
func (s *Service) CheckOut(ctx context.Context, id engine.BookingID, at engine.GeoPoint) (*engine.Booking, error) {
	return s.Machine.Transition(ctx, id, engine.StatusInProgress, engine.StatusCompleted, engine.ActorCleaner, engine.Effects{
		SetCheckedOutAt:  true,
		CheckOutLocation: &at,
		SetCompletedAt:   true,
	})
}

// SubmitCompletion attaches the cleaner's photos and puts the booking in
// front of the client: completed -> awaiting_client_review.
func (s *Service) SubmitCompletion(ctx context.Context, id engine.BookingID, photos []string) (*engine.Booking, error) {
	b, err := s.Machine.Transition(ctx, id, engine.StatusCompleted, engine.StatusAwaitingReview, engine.ActorCleaner, engine.Effects{
		CompletionPhotos: photos,
	})
	if err != nil {
		return nil, err
	}
	s.notify(ctx, b.ClientID, EventReviewRequested, map[string]any{"booking_id": b.ID})
	return b, nil
}

// =============================================================================
// SETTLEMENT
// =============================================================================

// SettlementResult is returned by ApprovePayment. AlreadySettled means the
// settlement timer (or a concurrent approval) got there first; the caller
// shows the settled amount rather than an error.
type SettlementResult struct {
	Booking        *engine.Booking
	FinalPrice     int64
	AlreadySettled bool
}

// ApprovePayment is the explicit client approval path of the
// exactly-once settlement guarantee. It races the settlement timer on the
// same compare-and-set: whoever moves awaiting_client_review -> approved
// first writes the charge, the loser observes StaleState and reports the
// already-settled amount.
func (s *Service) ApprovePayment(ctx context.Context, id engine.BookingID) (*SettlementResult, error) {
	b, err := s.Store.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.Status == engine.StatusApproved {
		return s.settledResult(b), nil
	}

	final := engine.FinalCharge(*b)
	approved, err := s.Machine.Transition(ctx, id, engine.StatusAwaitingReview, engine.StatusApproved, engine.ActorClient, engine.SettlementEffects(*b, final))
	if engine.IsStale(err) {
		// Someone already acted. If it was a settlement, report it as such.
		current, getErr := s.Store.GetBooking(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		if current.Status == engine.StatusApproved {
			return s.settledResult(current), nil
		}
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	s.notify(ctx, approved.CleanerID, EventPaymentReleased, map[string]any{
		"booking_id": approved.ID,
		"amount":     final,
	})
	return &SettlementResult{Booking: approved, FinalPrice: final}, nil
}

func (s *Service) settledResult(b *engine.Booking) *SettlementResult {
	res := &SettlementResult{Booking: b, AlreadySettled: true}
	if b.FinalPrice != nil {
		res.FinalPrice = *b.FinalPrice
	}
	return res
}

// =============================================================================
// CANCELLATION
// =============================================================================

// CancellationResult reports the fee and whether grace covered it. The fee
// breakdown is user-visible: a failed waiver shows the computed fee and why
// it could not be waived.
type CancellationResult struct {
	Booking          *engine.Booking
	Fee              int64
	UsedGrace        bool
	Reason           string
	AlreadyCancelled bool
}

// CancelBooking computes the fee, then transitions to cancelled with the
// refund/fee/grace effects in one atomic unit. The fee entry is keyed
// "cancel:<booking>", so a double-click or retried request cannot charge
// twice, and the grace counter decrements at most once.
func (s *Service) CancelBooking(ctx context.Context, id engine.BookingID, actor engine.Actor, reason string) (*CancellationResult, error) {
	b, err := s.Store.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.Status == engine.StatusCancelled {
		return s.cancelledResult(b), nil
	}

	grace := 0
	if actor == engine.ActorClient {
		p, err := s.Store.GetClient(ctx, b.ClientID)
		if err != nil && !engine.IsNotFound(err) {
			return nil, err
		}
		if p != nil {
			grace = p.GraceCancellationsRemaining
		}
	}

	decision := s.Policy.ComputeFee(*b, grace, actor, s.Clock.Now())
	if reason == "" {
		reason = decision.Reason
	}

	cancelled, err := s.Machine.Transition(ctx, id, b.Status, engine.StatusCancelled, actor, engine.CancellationEffects(*b, decision, actor, reason))
	if engine.IsStale(err) {
		current, getErr := s.Store.GetBooking(ctx, id)
		if getErr != nil {
			return nil, getErr
		}
		if current.Status == engine.StatusCancelled {
			return s.cancelledResult(current), nil
		}
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	payload := map[string]any{"booking_id": id, "fee": decision.FeeAmount, "reason": reason}
	s.notify(ctx, cancelled.ClientID, EventBookingCancelled, payload)
	s.notify(ctx, cancelled.CleanerID, EventBookingCancelled, payload)

	return &CancellationResult{
		Booking:   cancelled,
		Fee:       decision.FeeAmount,
		UsedGrace: decision.UsedGrace,
		Reason:    decision.Reason,
	}, nil
}

func (s *Service) cancelledResult(b *engine.Booking) *CancellationResult {
	res := &CancellationResult{Booking: b, Reason: b.CancelReason, AlreadyCancelled: true}
	if b.CancellationFee != nil {
		res.Fee = *b.CancellationFee
	}
	return res
}

// =============================================================================
// DISPUTES
// =============================================================================

// FileDispute blocks auto-settlement: awaiting_client_review -> disputed.
func (s *Service) FileDispute(ctx context.Context, id engine.BookingID, reason string) (*engine.Booking, error) {
	b, err := s.Machine.Transition(ctx, id, engine.StatusAwaitingReview, engine.StatusDisputed, engine.ActorClient, engine.Effects{
		DisputeReason: reason,
	})
	if err != nil {
		return nil, err
	}
	s.notify(ctx, b.CleanerID, EventDisputeFiled, map[string]any{"booking_id": b.ID, "reason": reason})
	return b, nil
}

// DisputeOutcome is the admin's resolution of a dispute.
type DisputeOutcome string

const (
	DisputeSettle DisputeOutcome = "approved"  // charge the client, pay the cleaner
	DisputeRefund DisputeOutcome = "cancelled" // release the hold back to the client
)

// ResolveDispute is the external resolution path: disputed -> approved (with
// full settlement effects) or disputed -> cancelled (hold refunded, no fee).
func (s *Service) ResolveDispute(ctx context.Context, id engine.BookingID, outcome DisputeOutcome) (*engine.Booking, error) {
	b, err := s.Store.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}

	var resolved *engine.Booking
	switch outcome {
	case DisputeSettle:
		resolved, err = s.Machine.Transition(ctx, id, engine.StatusDisputed, engine.StatusApproved, engine.ActorAdmin,
			engine.SettlementEffects(*b, engine.FinalCharge(*b)))
	case DisputeRefund:
		decision := engine.FeeDecision{Reason: "dispute_resolved_refund"}
		resolved, err = s.Machine.Transition(ctx, id, engine.StatusDisputed, engine.StatusCancelled, engine.ActorAdmin,
			engine.CancellationEffects(*b, decision, engine.ActorAdmin, "dispute_resolved_refund"))
	default:
		return nil, fmt.Errorf("unknown dispute outcome %q", outcome)
	}
	if err != nil {
		return nil, err
	}

	payload := map[string]any{"booking_id": id, "outcome": outcome}
	s.notify(ctx, resolved.ClientID, EventDisputeResolved, payload)
	s.notify(ctx, resolved.CleanerID, EventDisputeResolved, payload)
	return resolved, nil
}

// =============================================================================
// READS
// =============================================================================

func (s *Service) GetBooking(ctx context.Context, id engine.BookingID) (*engine.Booking, error) {
	return s.Store.GetBooking(ctx, id)
}

func (s *Service) Balance(ctx context.Context, owner engine.OwnerID) (int64, error) {
	return s.Ledger.Balance(ctx, owner)
}

func (s *Service) EntryHistory(ctx context.Context, owner engine.OwnerID, cursor string, limit int) ([]engine.Entry, string, error) {
	return s.Ledger.Entries(ctx, owner, cursor, limit)
}

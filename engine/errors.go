/*
errors.go - Centralized error taxonomy for the engine

PURPOSE:
  All error types in one place. Callers classify with errors.Is / errors.As
  or the helper predicates at the bottom.

ERROR CATEGORIES:
  StaleState         - optimistic-concurrency conflict on a booking status;
                       inside sweeps this means "someone already acted", the
                       record is skipped and the batch continues
  DuplicateOperation - idempotency key already consumed; treated as success
                       by callers (the existing entry is returned alongside)
  InsufficientFunds  - a charge-type debit would overdraw the account;
                       surfaced to the user
  InvariantViolation - programmer error signal (double capture, illegal
                       transition); logged loudly, the operation aborts,
                       never silently corrected
  NotFound           - booking/account/template does not exist

SEE ALSO:
  - ledger.go: DuplicateOperation and InsufficientFunds originate here
  - machine.go: StaleState and InvariantViolation originate here
*/
package engine

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrStaleState is returned when a booking's current status does not
	// match the expected prior status at the compare-and-set. Expected under
	// concurrency; callers reload rather than retrying the same transition.
	ErrStaleState = errors.New("stale state")

	// ErrDuplicateOperation is returned when an idempotency key has already
	// been consumed. The existing entry is returned with it; callers treat
	// this as success.
	ErrDuplicateOperation = errors.New("duplicate operation")

	// ErrInsufficientFunds is returned when a charge-type debit would take
	// the balance negative.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInvariantViolation signals a logic bug upstream: the compare-and-set
	// or idempotency guarantees were bypassed somewhere.
	ErrInvariantViolation = errors.New("invariant violation")

	// ErrNotFound is returned when a referenced record does not exist.
	ErrNotFound = errors.New("not found")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// StaleStateError reports the expected vs. actual status at the failed CAS.
type StaleStateError struct {
	BookingID BookingID
	Expected  BookingStatus
	Actual    BookingStatus
}

func (e *StaleStateError) Error() string {
	return fmt.Sprintf("booking %s: expected status %q, found %q", e.BookingID, e.Expected, e.Actual)
}

func (e *StaleStateError) Unwrap() error { return ErrStaleState }

// InsufficientFundsError reports the shortfall on a rejected charge.
type InsufficientFundsError struct {
	OwnerID   OwnerID
	Balance   int64
	Requested int64
	Kind      EntryKind
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("owner %s: balance %d cannot cover %s debit of %d",
		e.OwnerID, e.Balance, e.Kind, -e.Requested)
}

func (e *InsufficientFundsError) Unwrap() error { return ErrInsufficientFunds }

// InvariantViolationError names the broken rule. These must be alertable
// distinctly from ordinary business failures.
type InvariantViolationError struct {
	BookingID BookingID
	Rule      string
}

func (e *InvariantViolationError) Error() string {
	return fmt.Sprintf("invariant violated on booking %s: %s", e.BookingID, e.Rule)
}

func (e *InvariantViolationError) Unwrap() error { return ErrInvariantViolation }

// NotFoundError names the missing record.
type NotFoundError struct {
	Kind string // "booking", "account", "client", "template", "entry"
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// =============================================================================
// ERROR HELPERS
// =============================================================================

func IsStale(err error) bool             { return errors.Is(err, ErrStaleState) }
func IsDuplicate(err error) bool         { return errors.Is(err, ErrDuplicateOperation) }
func IsInsufficientFunds(err error) bool { return errors.Is(err, ErrInsufficientFunds) }
func IsInvariantViolation(err error) bool { return errors.Is(err, ErrInvariantViolation) }
func IsNotFound(err error) bool          { return errors.Is(err, ErrNotFound) }

// IsAlreadyHandled reports whether err means another actor (a concurrent
// request, a prior run of the same sweep) already performed the operation.
// Sweeps skip these records; interactive callers surface an informational
// "someone already acted on this" result.
func IsAlreadyHandled(err error) bool {
	return IsStale(err) || IsDuplicate(err)
}
